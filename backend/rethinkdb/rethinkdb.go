// Package rethinkdb interprets the stage.Stage pipeline directly against a
// live RethinkDB cluster, the same way backend/memory interprets it
// in-process: both are document-pipeline backends, so — unlike the scoped-down
// relational path in backend/sql — this one supports the full stage
// vocabulary, including $unwind/$replaceRoot for many-to-many includes,
// because ReQL's Map/ConcatMap/Merge give it the document-reshaping power the
// ambient SQL dialects lack.
//
// Connection management follows the same env-driven auto-discovery the
// original cluster manager used: RETHINKDB_ADDR overrides everything, a
// Kubernetes Service's *_SERVICE_HOST/*_SERVICE_PORT env pair is tried next,
// and a local loopback default rounds it out for development.
package rethinkdb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"github.com/latticeq/queryengine/stage"
)

// Backend runs compiled pipelines against one RethinkDB database.
type Backend struct {
	sess *r.Session
	db   string
}

// Connect opens a session using RethinkDB's env-driven address discovery and
// returns a Backend scoped to the named database.
func Connect(ctx context.Context, database string) (*Backend, error) {
	opts := r.ConnectOpts{
		Address:      discoverAddr(),
		Database:     database,
		InitialCap:   5,
		MaxOpen:      20,
		Timeout:      5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	if u := os.Getenv("RETHINKDB_USER"); u != "" {
		opts.Username = u
	}
	if p := os.Getenv("RETHINKDB_PASS"); p != "" {
		opts.Password = p
	}
	sess, err := r.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("rethinkdb backend: connect: %w", err)
	}
	return &Backend{sess: sess, db: database}, nil
}

// discoverAddr mirrors the cluster manager's precedence: explicit override,
// then Kubernetes Service env vars, then local loopback.
func discoverAddr() string {
	if v := strings.TrimSpace(os.Getenv("RETHINKDB_ADDR")); v != "" {
		return v
	}
	host := strings.TrimSpace(os.Getenv("RETHINKDB_SERVICE_HOST"))
	if host != "" {
		port := strings.TrimSpace(os.Getenv("RETHINKDB_SERVICE_PORT"))
		if port == "" {
			port = "28015"
		}
		return host + ":" + port
	}
	return "127.0.0.1:28015"
}

// Close shuts the session down.
func (b *Backend) Close() error {
	if b == nil || b.sess == nil {
		return nil
	}
	return b.sess.Close()
}

// Run compiles a pipeline against its home table and returns every matching
// document.
func (b *Backend) Run(ctx context.Context, table string, stages []stage.Stage) ([]map[string]any, error) {
	term, err := compilePipeline(r.DB(b.db).Table(table), stages)
	if err != nil {
		return nil, err
	}
	cur, err := term.Run(b.sess, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("rethinkdb backend: %w", err)
	}
	defer cur.Close()
	var out []map[string]any
	if err := cur.All(&out); err != nil {
		return nil, fmt.Errorf("rethinkdb backend: decode: %w", err)
	}
	return out, nil
}

func compilePipeline(term r.Term, stages []stage.Stage) (r.Term, error) {
	for _, st := range stages {
		var err error
		term, err = compileStage(term, st)
		if err != nil {
			return r.Term{}, err
		}
	}
	return term, nil
}

func compileStage(term r.Term, st stage.Stage) (r.Term, error) {
	switch st.Op {
	case stage.Match:
		pred, err := compileMatch(map[string]any(st.Args.(stage.MatchArgs)))
		if err != nil {
			return term, err
		}
		if pred == nil {
			return term, nil
		}
		return term.Filter(pred), nil
	case stage.Sort:
		return term.OrderBy(compileSort(st.Args.(stage.SortArgs))...), nil
	case stage.Skip:
		return term.Skip(st.Args.(int64)), nil
	case stage.Limit:
		return term.Limit(st.Args.(int64)), nil
	case stage.Project:
		return compileProject(term, st.Args.(stage.ProjectArgs)), nil
	case stage.Lookup:
		return compileLookup(term, st.Args.(stage.LookupArgs))
	case stage.Unwind:
		return compileUnwind(term, st.Args.(stage.UnwindArgs)), nil
	case stage.ReplaceRoot:
		return compileReplaceRoot(term, st.Args.(stage.ReplaceRootArgs)), nil
	case stage.Set:
		return compileSet(term, st.Args.(stage.SetArgs)), nil
	case stage.Unset:
		return compileUnset(term, st.Args.(stage.UnsetArgs)), nil
	default:
		return term, fmt.Errorf("rethinkdb backend: unrecognized stage %q", st.Op)
	}
}

func compileSort(args stage.SortArgs) []interface{} {
	out := make([]interface{}, len(args))
	for i, e := range args {
		if e.Dir < 0 {
			out[i] = r.Desc(e.Column)
		} else {
			out[i] = r.Asc(e.Column)
		}
	}
	return out
}

func compileProject(term r.Term, args stage.ProjectArgs) r.Term {
	whitelist := false
	for _, v := range args {
		if v == 1 {
			whitelist = true
		}
	}
	if whitelist {
		cols := make([]interface{}, 0, len(args))
		for c, v := range args {
			if v == 1 {
				cols = append(cols, c)
			}
		}
		return term.Pluck(cols...)
	}
	var excl []interface{}
	for c, v := range args {
		if v == 0 {
			excl = append(excl, c)
		}
	}
	if len(excl) == 0 {
		return term
	}
	return term.Without(excl...)
}

// compileLookup attaches the pipeline's result for each row under args.As, by
// running the nested pipeline (let-bound to that row's join values) as a
// correlated subquery and coercing it into an array — the ReQL counterpart of
// memory.go's lookup(), which clones the foreign collection and re-runs the
// pipeline per outer row.
func compileLookup(term r.Term, args stage.LookupArgs) (r.Term, error) {
	nestedTable := r.Table(args.From)
	var compileErr error
	merged := term.Merge(func(row r.Term) interface{} {
		let := map[string]any{}
		for name, expr := range args.Let {
			let[name] = resolveExprTerm(row, expr)
		}
		bound := bindLetTerm(nestedTable, let)
		sub, err := compilePipeline(bound, args.Pipeline)
		if err != nil {
			// ReQL funcs build their term tree synchronously on this call, so
			// this closure runs before Merge returns; stash the error here
			// and surface it below rather than through this interface{} return.
			compileErr = err
			return map[string]interface{}{}
		}
		return map[string]interface{}{args.As: stripLetKeysTerm(sub).CoerceTo("array")}
	})
	if compileErr != nil {
		return r.Term{}, compileErr
	}
	return merged, nil
}

// bindLetTerm exposes the caller's let-bound values on every foreign row
// under a synthetic "__let_<name>" key, mirroring memory.go's bindLet so a
// "$$name" field reference resolves identically across both backends.
func bindLetTerm(table r.Term, let map[string]any) r.Term {
	if len(let) == 0 {
		return table
	}
	patch := map[string]interface{}{}
	for k, v := range let {
		patch[letKey(k)] = v
	}
	return table.Map(func(row r.Term) interface{} {
		return row.Merge(patch)
	})
}

func stripLetKeysTerm(term r.Term) r.Term {
	return term.Map(func(row r.Term) interface{} {
		return row.Without(row.Keys().Filter(func(k r.Term) interface{} {
			return k.Match("^__let_")
		}))
	})
}

func letKey(name string) string { return "__let_" + name }

// resolveExprTerm lowers a compiled "$field"/"$$letName" reference into a
// ReQL field access against row, or returns the literal value unchanged —
// the ReQL counterpart of memory.go's resolveExpr.
func resolveExprTerm(row r.Term, expr any) interface{} {
	s, ok := expr.(string)
	if !ok || len(s) == 0 || s[0] != '$' {
		return expr
	}
	if len(s) > 1 && s[1] == '$' {
		return row.Field(letKey(s[2:]))
	}
	return row.Field(strings.TrimPrefix(s, "$"))
}

func compileUnwind(term r.Term, args stage.UnwindArgs) r.Term {
	field := strings.TrimPrefix(args.Path, "$")
	return term.ConcatMap(func(row r.Term) interface{} {
		arr := row.Field(field)
		expanded := arr.Map(func(el r.Term) interface{} {
			return row.Merge(map[string]interface{}{field: el})
		})
		empty := r.Expr([]interface{}{})
		if args.PreserveNullAndEmptyArrays {
			empty = r.Expr([]interface{}{row})
		}
		return r.Branch(arr.TypeOf().Eq("ARRAY").And(arr.Count().Gt(0)), expanded, empty)
	})
}

func compileReplaceRoot(term r.Term, args stage.ReplaceRootArgs) r.Term {
	field := strings.TrimPrefix(args.NewRoot, "$")
	return term.Map(func(row r.Term) interface{} {
		return row.Field(field)
	})
}

// compileSet only ever sees the planner's one $set shape — a declared-order
// array restore after a negative-take reverse-paginate (spec §4.F) — so it
// implements exactly $reverseArray rather than a general expression evaluator.
func compileSet(term r.Term, args stage.SetArgs) r.Term {
	return term.Map(func(row r.Term) interface{} {
		patch := map[string]interface{}{}
		for field, expr := range args {
			patch[field] = compileSetExprTerm(row, expr)
		}
		return row.Merge(patch)
	})
}

func compileSetExprTerm(row r.Term, expr any) interface{} {
	m, ok := expr.(map[string]any)
	if !ok {
		return resolveExprTerm(row, expr)
	}
	target, ok := m["$reverseArray"]
	if !ok {
		return expr
	}
	var arr r.Term
	if s, isStr := target.(string); isStr {
		arr = row.Field(strings.TrimPrefix(s, "$"))
	} else {
		arr = r.Expr(target)
	}
	return arr.CoerceTo("array").Do(func(a r.Term) interface{} {
		n := a.Count()
		return r.Range(n).Map(func(i r.Term) interface{} {
			return a.Nth(n.Sub(i).Sub(1))
		}).CoerceTo("array")
	})
}

func compileUnset(term r.Term, args stage.UnsetArgs) r.Term {
	cols := make([]interface{}, len(args))
	for i, c := range args {
		cols[i] = c
	}
	return term.Without(cols...)
}

// compileMatch recursively lowers a compiled $match expression into a ReQL
// predicate function, mirroring the operator set backend/memory
// interprets directly — the same compiled pipeline drives every backend.
func compileMatch(expr map[string]any) (func(r.Term) interface{}, error) {
	if len(expr) == 0 {
		return nil, nil
	}
	var preds []func(r.Term) interface{}
	for key, cond := range expr {
		key, cond := key, cond
		switch key {
		case "$and", "$or", "$nor":
			subs, ok := cond.([]map[string]any)
			if !ok {
				return nil, fmt.Errorf("rethinkdb backend: %s operand must be an array of match objects", key)
			}
			var fns []func(r.Term) interface{}
			for _, sub := range subs {
				fn, err := compileMatch(sub)
				if err != nil {
					return nil, err
				}
				if fn == nil {
					fn = func(r.Term) interface{} { return true }
				}
				fns = append(fns, fn)
			}
			preds = append(preds, combineLogical(key, fns))
		default:
			fieldPred, err := compileFieldCond(key, cond)
			if err != nil {
				return nil, err
			}
			preds = append(preds, fieldPred)
		}
	}
	return func(row r.Term) interface{} {
		var acc interface{} = true
		for _, p := range preds {
			acc = r.And(acc, p(row))
		}
		return acc
	}, nil
}

func combineLogical(key string, fns []func(r.Term) interface{}) func(r.Term) interface{} {
	return func(row r.Term) interface{} {
		switch key {
		case "$or":
			var acc interface{} = false
			for _, fn := range fns {
				acc = r.Or(acc, fn(row))
			}
			return acc
		case "$nor":
			var acc interface{} = false
			for _, fn := range fns {
				acc = r.Or(acc, fn(row))
			}
			return r.Not(acc)
		default: // $and
			var acc interface{} = true
			for _, fn := range fns {
				acc = r.And(acc, fn(row))
			}
			return acc
		}
	}
}

// compileFieldCond lowers one field's compiled condition into a predicate
// function. Every operand is resolved through resolveExprTerm against the
// current row before use — a correlated $lookup's join condition compiles to
// a "$$letName" operand here, exactly as memory.go's evalFieldCondIn resolves
// it via resolveExpr for every operator uniformly.
func compileFieldCond(col string, cond any) (func(r.Term) interface{}, error) {
	ops, isOps := cond.(map[string]any)
	if !isOps {
		want := cond
		return func(row r.Term) interface{} { return row.Field(col).Eq(resolveExprTerm(row, want)) }, nil
	}
	var preds []func(row r.Term) interface{}
	for op, want := range ops {
		op, want := op, want
		switch op {
		case "$eq":
			preds = append(preds, func(row r.Term) interface{} { return row.Field(col).Eq(resolveExprTerm(row, want)) })
		case "$ne":
			preds = append(preds, func(row r.Term) interface{} { return row.Field(col).Ne(resolveExprTerm(row, want)) })
		case "$gt":
			preds = append(preds, func(row r.Term) interface{} { return row.Field(col).Gt(resolveExprTerm(row, want)) })
		case "$gte":
			preds = append(preds, func(row r.Term) interface{} { return row.Field(col).Ge(resolveExprTerm(row, want)) })
		case "$lt":
			preds = append(preds, func(row r.Term) interface{} { return row.Field(col).Lt(resolveExprTerm(row, want)) })
		case "$lte":
			preds = append(preds, func(row r.Term) interface{} { return row.Field(col).Le(resolveExprTerm(row, want)) })
		case "$in":
			arr, ok := want.([]any)
			if !ok {
				return nil, fmt.Errorf("rethinkdb backend: $in expects an array")
			}
			preds = append(preds, func(row r.Term) interface{} { return r.Expr(arr).Contains(row.Field(col)) })
		case "$nin":
			arr, ok := want.([]any)
			if !ok {
				return nil, fmt.Errorf("rethinkdb backend: $nin expects an array")
			}
			preds = append(preds, func(row r.Term) interface{} { return r.Expr(arr).Contains(row.Field(col)).Not() })
		case "$regex":
			ra, ok := want.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("rethinkdb backend: $regex expects {pattern, options}")
			}
			pattern, _ := ra["pattern"].(string)
			opts, _ := ra["options"].(string)
			var flags string
			if strings.Contains(opts, "i") {
				flags += "(?i)"
			}
			preds = append(preds, func(row r.Term) interface{} { return row.Field(col).Match(flags + pattern) })
		case "$size":
			n, err := asInt(want)
			if err != nil {
				return nil, fmt.Errorf("rethinkdb backend: $size: %w", err)
			}
			preds = append(preds, func(row r.Term) interface{} { return row.Field(col).Count().Eq(n) })
		case "$all":
			arr, ok := want.([]any)
			if !ok {
				return nil, fmt.Errorf("rethinkdb backend: $all expects an array")
			}
			preds = append(preds, func(row r.Term) interface{} {
				field := row.Field(col)
				var acc interface{} = true
				for _, v := range arr {
					acc = r.And(acc, field.Contains(v))
				}
				return acc
			})
		case "$elemMatch":
			sub, ok := want.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("rethinkdb backend: $elemMatch expects an operator object")
			}
			// The operand is an operator object applied to each element
			// itself ({"$gt": 90}), as memory.go's evalFieldCond applies it;
			// each element is wrapped in a one-key object so compileFieldCond
			// can address it by name.
			pred, err := compileFieldCond("el", sub)
			if err != nil {
				return nil, err
			}
			preds = append(preds, func(row r.Term) interface{} {
				return row.Field(col).Filter(func(el r.Term) interface{} { return pred(r.Object("el", el)) }).Count().Gt(0)
			})
		default:
			return nil, fmt.Errorf("rethinkdb backend: unrecognized match operator %q", op)
		}
	}
	return func(row r.Term) interface{} {
		var acc interface{} = true
		for _, p := range preds {
			acc = r.And(acc, p(row))
		}
		return acc
	}, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
