// Package memory implements an in-process interpreter over the stage
// protocol (spec §6), used as the reference backend that drives the
// end-to-end scenarios of spec §8 without a real document store or SQL
// engine. It is deliberately the simplest possible correct executor: every
// real backend adapter (rethinkdb, sql, dynamo) translates the same stage
// sequence into its own query language instead.
package memory

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/latticeq/queryengine/stage"
)

// Doc is a loosely-typed row, the same shape every backend eventually
// produces to the caller.
type Doc = map[string]any

// Store is a named set of in-memory collections, keyed by table name (spec
// §4.E's `from`/TableName addressing).
type Store struct {
	collections map[string][]Doc
}

func NewStore() *Store {
	return &Store{collections: map[string][]Doc{}}
}

// Seed installs (or replaces) a named collection's rows.
func (s *Store) Seed(table string, rows []Doc) {
	s.collections[table] = rows
}

// Run executes a compiled pipeline against its home table and returns the
// resulting document set.
func (s *Store) Run(table string, stages []stage.Stage) ([]Doc, error) {
	rows := cloneAll(s.collections[table])
	return runPipeline(s, rows, stages)
}

func runPipeline(s *Store, rows []Doc, stages []stage.Stage) ([]Doc, error) {
	var err error
	for _, st := range stages {
		rows, err = runStage(s, rows, st)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", st.Op, err)
		}
	}
	return rows, nil
}

func runStage(s *Store, rows []Doc, st stage.Stage) ([]Doc, error) {
	switch st.Op {
	case stage.Match:
		args := st.Args.(stage.MatchArgs)
		out := rows[:0:0]
		for _, r := range rows {
			ok, err := evalMatch(r, map[string]any(args))
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, r)
			}
		}
		return out, nil
	case stage.Sort:
		args := st.Args.(stage.SortArgs)
		out := append([]Doc(nil), rows...)
		sort.SliceStable(out, func(i, j int) bool {
			for _, e := range args {
				c := compareAny(out[i][e.Column], out[j][e.Column])
				if c != 0 {
					if e.Dir < 0 {
						return c > 0
					}
					return c < 0
				}
			}
			return false
		})
		return out, nil
	case stage.Skip:
		n := int(st.Args.(int64))
		if n >= len(rows) {
			return nil, nil
		}
		return rows[n:], nil
	case stage.Limit:
		n := int(st.Args.(int64))
		if n < len(rows) {
			return rows[:n], nil
		}
		return rows, nil
	case stage.Project:
		args := st.Args.(stage.ProjectArgs)
		return project(rows, args), nil
	case stage.Lookup:
		args := st.Args.(stage.LookupArgs)
		return lookup(s, rows, args)
	case stage.Unwind:
		args := st.Args.(stage.UnwindArgs)
		return unwind(rows, args)
	case stage.ReplaceRoot:
		args := st.Args.(stage.ReplaceRootArgs)
		return replaceRoot(rows, args)
	case stage.Set:
		args := st.Args.(stage.SetArgs)
		return applySet(rows, args), nil
	case stage.Unset:
		args := st.Args.(stage.UnsetArgs)
		return applyUnset(rows, args), nil
	default:
		return nil, fmt.Errorf("unsupported stage %q", st.Op)
	}
}

// letKey namespaces a $lookup let-binding so it can never collide with a
// real document field while it rides along on each foreign row.
func letKey(name string) string { return "__let_" + name }

func fieldPath(doc Doc, path string) any {
	if len(path) > 0 && path[0] == '$' {
		path = path[1:]
	}
	v, ok := doc[path]
	if !ok {
		return nil
	}
	return v
}

func evalMatch(doc Doc, expr map[string]any) (bool, error) {
	for key, cond := range expr {
		switch key {
		case "$and":
			for _, sub := range cond.([]map[string]any) {
				ok, err := evalMatch(doc, sub)
				if err != nil || !ok {
					return false, err
				}
			}
		case "$or":
			any := false
			for _, sub := range cond.([]map[string]any) {
				ok, err := evalMatch(doc, sub)
				if err != nil {
					return false, err
				}
				if ok {
					any = true
					break
				}
			}
			if !any {
				return false, nil
			}
		case "$nor":
			for _, sub := range cond.([]map[string]any) {
				ok, err := evalMatch(doc, sub)
				if err != nil {
					return false, err
				}
				if ok {
					return false, nil
				}
			}
		default:
			ok, err := evalFieldCondIn(doc, doc[key], cond)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

func evalFieldCond(v any, cond any) (bool, error) {
	return evalFieldCondIn(nil, v, cond)
}

// evalFieldCondIn is evalFieldCond with access to the owning document, needed
// to resolve "$field" and "$$letName" references that appear as operator
// operands (a correlated $lookup's join condition compiles to exactly this
// shape — see relation_include.go/predicate_relation.go).
func evalFieldCondIn(doc Doc, v any, cond any) (bool, error) {
	ops, isOps := cond.(map[string]any)
	if !isOps {
		return compareAny(v, resolveExpr(doc, cond)) == 0, nil
	}
	for op, want := range ops {
		want = resolveExpr(doc, want)
		switch op {
		case "$eq":
			if compareAny(v, want) != 0 {
				return false, nil
			}
		case "$ne":
			if compareAny(v, want) == 0 {
				return false, nil
			}
		case "$gt":
			if compareAny(v, want) <= 0 {
				return false, nil
			}
		case "$gte":
			if compareAny(v, want) < 0 {
				return false, nil
			}
		case "$lt":
			if compareAny(v, want) >= 0 {
				return false, nil
			}
		case "$lte":
			if compareAny(v, want) > 0 {
				return false, nil
			}
		case "$in":
			if !containsAny(want.([]any), v) {
				return false, nil
			}
		case "$nin":
			if containsAny(want.([]any), v) {
				return false, nil
			}
		case "$regex":
			ra := want.(map[string]any)
			pattern := ra["pattern"].(string)
			if ra["options"] == "i" {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return false, err
			}
			s, _ := v.(string)
			if !re.MatchString(s) {
				return false, nil
			}
		case "$size":
			n := sequenceLen(v)
			ok, err := evalFieldCond(n, want)
			if err != nil || !ok {
				return false, err
			}
		case "$all":
			seq, _ := v.([]any)
			for _, want1 := range want.([]any) {
				if !containsAny(seq, want1) {
					return false, nil
				}
			}
		case "$elemMatch":
			seq, _ := v.([]any)
			found := false
			for _, el := range seq {
				ok, err := evalFieldCond(el, want)
				if err != nil {
					return false, err
				}
				if ok {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported match operator %q", op)
		}
	}
	return true, nil
}

func sequenceLen(v any) int {
	seq, ok := v.([]any)
	if !ok {
		return 0
	}
	return len(seq)
}

func containsAny(list []any, v any) bool {
	for _, el := range list {
		if compareAny(el, v) == 0 {
			return true
		}
	}
	return false
}

func project(rows []Doc, args stage.ProjectArgs) []Doc {
	whitelist := false
	for _, v := range args {
		if v == 1 {
			whitelist = true
		}
	}
	out := make([]Doc, len(rows))
	for i, r := range rows {
		nd := Doc{}
		if whitelist {
			for k, v := range args {
				if v == 1 {
					if val, ok := r[k]; ok {
						nd[k] = val
					}
				}
			}
		} else {
			for k, v := range r {
				if a, ok := args[k]; !ok || a != 0 {
					nd[k] = v
				}
			}
		}
		out[i] = nd
	}
	return out
}

func lookup(s *Store, rows []Doc, args stage.LookupArgs) ([]Doc, error) {
	out := make([]Doc, len(rows))
	for i, r := range rows {
		let := map[string]any{}
		for k, expr := range args.Let {
			let[k] = resolveExpr(r, expr)
		}
		foreign := cloneAll(s.collections[args.From])
		res, err := runPipeline(s, bindLet(foreign, let), args.Pipeline)
		if err != nil {
			return nil, err
		}
		nd := cloneDoc(r)
		nd[args.As] = stripLetKeys(res)
		out[i] = nd
	}
	return out, nil
}

// bindLet exposes the caller's let-bound values on every foreign row under
// a "$$"-free synthetic key so evalFieldCond's "$$name" references resolve
// the same way a literal field reference would.
func bindLet(rows []Doc, let map[string]any) []Doc {
	out := make([]Doc, len(rows))
	for i, r := range rows {
		nd := cloneDoc(r)
		for k, v := range let {
			nd[letKey(k)] = v
		}
		out[i] = nd
	}
	return out
}

func stripLetKeys(rows []Doc) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		nd := Doc{}
		for k, v := range r {
			if len(k) < 6 || k[:6] != "__let_" {
				nd[k] = v
			}
		}
		out[i] = nd
	}
	return out
}

func resolveExpr(doc Doc, expr any) any {
	s, ok := expr.(string)
	if !ok || len(s) == 0 || s[0] != '$' {
		return expr
	}
	if len(s) > 1 && s[1] == '$' {
		if doc == nil {
			return nil
		}
		return doc[letKey(s[2:])]
	}
	if doc == nil {
		return nil
	}
	return fieldPath(doc, s)
}

func unwind(rows []Doc, args stage.UnwindArgs) ([]Doc, error) {
	field := args.Path
	if len(field) > 0 && field[0] == '$' {
		field = field[1:]
	}
	var out []Doc
	for _, r := range rows {
		seq, _ := r[field].([]any)
		if len(seq) == 0 {
			if args.PreserveNullAndEmptyArrays {
				out = append(out, r)
			}
			continue
		}
		for _, el := range seq {
			nd := cloneDoc(r)
			nd[field] = el
			out = append(out, nd)
		}
	}
	return out, nil
}

func replaceRoot(rows []Doc, args stage.ReplaceRootArgs) ([]Doc, error) {
	field := args.NewRoot
	if len(field) > 0 && field[0] == '$' {
		field = field[1:]
	}
	out := make([]Doc, 0, len(rows))
	for _, r := range rows {
		if nd, ok := r[field].(Doc); ok {
			out = append(out, nd)
			continue
		}
		if nd, ok := r[field].(map[string]any); ok {
			out = append(out, nd)
		}
	}
	return out, nil
}

func applySet(rows []Doc, args stage.SetArgs) []Doc {
	out := make([]Doc, len(rows))
	for i, r := range rows {
		nd := cloneDoc(r)
		for field, expr := range args {
			nd[field] = evalSetExpr(r, expr)
		}
		out[i] = nd
	}
	return out
}

func evalSetExpr(doc Doc, expr any) any {
	m, ok := expr.(map[string]any)
	if !ok {
		return resolveExpr(doc, expr)
	}
	if target, ok := m["$reverseArray"]; ok {
		seq, _ := resolveExpr(doc, target).([]any)
		out := make([]any, len(seq))
		for i, v := range seq {
			out[len(seq)-1-i] = v
		}
		return out
	}
	return expr
}

func applyUnset(rows []Doc, args stage.UnsetArgs) []Doc {
	out := make([]Doc, len(rows))
	for i, r := range rows {
		nd := cloneDoc(r)
		for _, f := range args {
			delete(nd, f)
		}
		out[i] = nd
	}
	return out
}

func cloneDoc(d Doc) Doc {
	nd := make(Doc, len(d))
	for k, v := range d {
		nd[k] = v
	}
	return nd
}

func cloneAll(rows []Doc) []Doc {
	out := make([]Doc, len(rows))
	for i, r := range rows {
		out[i] = cloneDoc(r)
	}
	return out
}

// compareAny orders comparable Go scalars; non-comparable/mismatched types
// sort as equal, which keeps Sort stable rather than panicking on an
// unexpected runtime shape.
func compareAny(a, b any) int {
	switch av := a.(type) {
	case nil:
		if b == nil {
			return 0
		}
		return -1
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv, ok := b.(bool)
		if !ok || av == bv {
			return 0
		}
		if av {
			return 1
		}
		return -1
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok {
		return 0
	}
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
