// Package sql implements the parallel relational path: it translates the
// same stage.Stage pipeline the document-store backends interpret into a
// single parameterized SQL statement, run over database/sql with either
// go-sql-driver/mysql or modernc.org/sqlite underneath (spec §6's "the
// protocol is the only contract between planner and backend" — this package
// never imports planner or schema).
//
// The relational path does not attempt to support everything the document
// pipeline can express. A flat $match/$sort/$skip/$limit/$project query
// translates directly to SELECT/WHERE/ORDER BY/LIMIT/OFFSET. A single level
// of direct (non-through) $lookup translates to a correlated subquery that
// aggregates the related rows into a JSON array column, using each
// dialect's native JSON aggregation functions. Anything past that — a
// many-to-many $lookup (which needs $unwind/$replaceRoot to flatten), a
// second level of nested $lookup, or an array-valued field predicate
// ($size/$all/$elemMatch) — returns ErrUnsupported rather than silently
// emitting an incorrect query; DESIGN.md records this as the relational
// path's deliberate scope.
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/latticeq/queryengine/stage"
)

// ErrUnsupported marks a stage shape the relational path cannot translate.
type ErrUnsupported struct{ Reason string }

func (e *ErrUnsupported) Error() string { return "sql backend: " + e.Reason }

// Dialect captures the handful of places MySQL and SQLite disagree on SQL
// text for this translator's purposes.
type Dialect interface {
	Name() string
	QuoteIdent(name string) string
	JSONObjectFunc() string
	JSONArrayAggFunc() string
	Placeholder(n int) string
}

// MySQL targets go-sql-driver/mysql (MySQL 8+, for JSON_ARRAYAGG/JSON_OBJECT).
type MySQL struct{}

func (MySQL) Name() string                 { return "mysql" }
func (MySQL) QuoteIdent(name string) string { return "`" + strings.ReplaceAll(name, "`", "``") + "`" }
func (MySQL) JSONObjectFunc() string        { return "JSON_OBJECT" }
func (MySQL) JSONArrayAggFunc() string      { return "JSON_ARRAYAGG" }
func (MySQL) Placeholder(int) string        { return "?" }

// SQLite targets modernc.org/sqlite (with the json1 extension it bundles).
type SQLite struct{}

func (SQLite) Name() string                 { return "sqlite" }
func (SQLite) QuoteIdent(name string) string { return `"` + strings.ReplaceAll(name, `"`, `""`) + `"` }
func (SQLite) JSONObjectFunc() string        { return "json_object" }
func (SQLite) JSONArrayAggFunc() string      { return "json_group_array" }
func (SQLite) Placeholder(int) string        { return "?" }

// Query is a translated statement ready to run over a *sql.DB.
type Query struct {
	SQL  string
	Args []any
}

// Translate compiles a pipeline against its home table into a single SELECT.
func Translate(dialect Dialect, table string, stages []stage.Stage) (Query, error) {
	return translate(dialect, table, "t0", stages, 1)
}

// Run executes a translated query and decodes each row into a loosely typed
// map, JSON-decoding any column produced by a $lookup subquery back into a
// []any so callers see the same shape the document backends return.
func Run(ctx context.Context, db *sql.DB, dialect Dialect, table string, stages []stage.Stage, lookupCols map[string]bool) ([]map[string]any, error) {
	q, err := Translate(dialect, table, stages)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("sql backend: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		scanTargets := make([]any, len(cols))
		raw := make([]any, len(cols))
		for i := range raw {
			scanTargets[i] = &raw[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}
		doc := make(map[string]any, len(cols))
		for i, c := range cols {
			v := raw[i]
			if lookupCols[c] {
				doc[c] = decodeLookupColumn(v)
				continue
			}
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			doc[c] = v
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func decodeLookupColumn(v any) []any {
	var raw []byte
	switch t := v.(type) {
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		return nil
	}
	var arr []any
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil
	}
	return arr
}

type builder struct {
	dialect    Dialect
	alias      string
	where      []string
	args       []any
	orderBy    []string
	limit      *int64
	offset     *int64
	projectArg stage.ProjectArgs
	lookups    []lookupColumn
	argNum     *int
}

type lookupColumn struct {
	alias string
	sql   string
	args  []any
}

func translate(dialect Dialect, table, alias string, stages []stage.Stage, argNum int) (Query, error) {
	n := argNum
	b := &builder{dialect: dialect, alias: alias, argNum: &n}

	for _, st := range stages {
		if err := b.apply(st); err != nil {
			return Query{}, err
		}
	}

	selectList := "*"
	if b.projectArg != nil || len(b.lookups) > 0 {
		var cols []string
		if b.projectArg != nil {
			whitelist := false
			for _, v := range b.projectArg {
				if v == 1 {
					whitelist = true
				}
			}
			if whitelist {
				for c, v := range b.projectArg {
					if v == 1 {
						cols = append(cols, b.alias+"."+dialect.QuoteIdent(c))
					}
				}
			} else {
				cols = append(cols, b.alias+".*")
			}
		} else {
			cols = append(cols, b.alias+".*")
		}
		for _, lk := range b.lookups {
			cols = append(cols, lk.sql+" AS "+dialect.QuoteIdent(lk.alias))
		}
		selectList = strings.Join(cols, ", ")
	}

	sqlStr := fmt.Sprintf("SELECT %s FROM %s AS %s", selectList, dialect.QuoteIdent(table), b.alias)
	if len(b.where) > 0 {
		sqlStr += " WHERE " + strings.Join(b.where, " AND ")
	}
	if len(b.orderBy) > 0 {
		sqlStr += " ORDER BY " + strings.Join(b.orderBy, ", ")
	}
	if b.limit != nil {
		sqlStr += fmt.Sprintf(" LIMIT %d", *b.limit)
	}
	if b.offset != nil {
		sqlStr += fmt.Sprintf(" OFFSET %d", *b.offset)
	}

	// Placeholders must be ordered by where they occur in sqlStr: the select
	// list (lookup subqueries) is emitted before the WHERE clause, so their
	// args precede the top-level match's args despite being compiled later.
	var allArgs []any
	for _, lk := range b.lookups {
		allArgs = append(allArgs, lk.args...)
	}
	allArgs = append(allArgs, b.args...)

	return Query{SQL: sqlStr, Args: allArgs}, nil
}

func (b *builder) apply(st stage.Stage) error {
	switch st.Op {
	case stage.Match:
		frag, args, err := b.matchToSQL(map[string]any(st.Args.(stage.MatchArgs)))
		if err != nil {
			return err
		}
		if frag != "" {
			b.where = append(b.where, frag)
			b.args = append(b.args, args...)
		}
	case stage.Sort:
		for _, e := range st.Args.(stage.SortArgs) {
			dir := "ASC"
			if e.Dir < 0 {
				dir = "DESC"
			}
			b.orderBy = append(b.orderBy, b.alias+"."+b.dialect.QuoteIdent(e.Column)+" "+dir)
		}
	case stage.Skip:
		n := st.Args.(int64)
		b.offset = &n
	case stage.Limit:
		n := st.Args.(int64)
		b.limit = &n
	case stage.Project:
		args := st.Args.(stage.ProjectArgs)
		b.projectArg = args
	case stage.Lookup:
		col, err := b.compileLookup(st.Args.(stage.LookupArgs))
		if err != nil {
			return err
		}
		b.lookups = append(b.lookups, col)
	case stage.Unwind, stage.ReplaceRoot:
		return &ErrUnsupported{Reason: fmt.Sprintf("%s requires document-pipeline flattening semantics the relational path does not model — many-to-many includes are only served by a document-store backend", st.Op)}
	case stage.Set, stage.Unset:
		return &ErrUnsupported{Reason: fmt.Sprintf("%s reshapes documents (negative-take array reversal on an included relation, removal of relation-predicate arrays), which the relational path does not model", st.Op)}
	default:
		return &ErrUnsupported{Reason: fmt.Sprintf("unrecognized stage %q", st.Op)}
	}
	return nil
}

func (b *builder) nextPlaceholder() string {
	p := b.dialect.Placeholder(*b.argNum)
	*b.argNum++
	return p
}

// matchToSQL recursively lowers a compiled $match expression into a SQL
// boolean expression, mirroring the same operator set the memory backend
// interprets directly (backend/memory) — the same compiled
// pipeline drives both.
func (b *builder) matchToSQL(expr map[string]any) (string, []any, error) {
	var parts []string
	var args []any
	for key, cond := range expr {
		switch key {
		case "$and", "$or", "$nor":
			subs, ok := cond.([]map[string]any)
			if !ok {
				return "", nil, &ErrUnsupported{Reason: fmt.Sprintf("%s operand must be an array of match objects", key)}
			}
			var fragments []string
			for _, sub := range subs {
				f, a, err := b.matchToSQL(sub)
				if err != nil {
					return "", nil, err
				}
				if f == "" {
					f = "1=1"
				}
				fragments = append(fragments, "("+f+")")
				args = append(args, a...)
			}
			joiner := " AND "
			if key == "$or" {
				joiner = " OR "
			}
			frag := strings.Join(fragments, joiner)
			if key == "$nor" {
				frag = "NOT (" + frag + ")"
			}
			parts = append(parts, "("+frag+")")
		default:
			f, a, err := b.fieldCondToSQL(b.alias+"."+b.dialect.QuoteIdent(key), cond)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, f)
			args = append(args, a...)
		}
	}
	return strings.Join(parts, " AND "), args, nil
}

func (b *builder) fieldCondToSQL(col string, cond any) (string, []any, error) {
	ops, isOps := cond.(map[string]any)
	if !isOps {
		ph := b.nextPlaceholder()
		return col + " = " + ph, []any{cond}, nil
	}
	var parts []string
	var args []any
	for op, want := range ops {
		switch op {
		case "$eq":
			parts = append(parts, col+" = "+b.nextPlaceholder())
			args = append(args, want)
		case "$ne":
			parts = append(parts, col+" <> "+b.nextPlaceholder())
			args = append(args, want)
		case "$gt":
			parts = append(parts, col+" > "+b.nextPlaceholder())
			args = append(args, want)
		case "$gte":
			parts = append(parts, col+" >= "+b.nextPlaceholder())
			args = append(args, want)
		case "$lt":
			parts = append(parts, col+" < "+b.nextPlaceholder())
			args = append(args, want)
		case "$lte":
			parts = append(parts, col+" <= "+b.nextPlaceholder())
			args = append(args, want)
		case "$in", "$nin":
			arr, ok := want.([]any)
			if !ok {
				return "", nil, &ErrUnsupported{Reason: op + " expects an array"}
			}
			if len(arr) == 0 {
				if op == "$in" {
					parts = append(parts, "1=0")
				}
				continue
			}
			phs := make([]string, len(arr))
			for i, v := range arr {
				phs[i] = b.nextPlaceholder()
				args = append(args, v)
			}
			not := ""
			if op == "$nin" {
				not = "NOT "
			}
			parts = append(parts, col+" "+not+"IN ("+strings.Join(phs, ", ")+")")
		case "$regex":
			ra, ok := want.(map[string]any)
			if !ok {
				return "", nil, &ErrUnsupported{Reason: "$regex expects {pattern, options}"}
			}
			pattern, _ := ra["pattern"].(string)
			// The relational path approximates regex with a substring LIKE
			// rather than true regex matching — neither driver's SQL dialect
			// offers a portable regex operator across both MySQL and SQLite.
			parts = append(parts, "LOWER("+col+") LIKE LOWER("+b.nextPlaceholder()+")")
			args = append(args, "%"+pattern+"%")
		case "$size", "$all", "$elemMatch":
			return "", nil, &ErrUnsupported{Reason: op + " operates on array-valued columns, which the relational path stores as opaque JSON text rather than a queryable structure"}
		default:
			return "", nil, &ErrUnsupported{Reason: fmt.Sprintf("unrecognized match operator %q", op)}
		}
	}
	return strings.Join(parts, " AND "), args, nil
}

// compileLookup handles exactly the direct (one-hop, non-through) relation
// shape: a $lookup whose pipeline opens with a $match naming the join
// columns as "$$letName" correlations. It builds a correlated subquery that
// aggregates the matching rows into a single JSON array column.
func (b *builder) compileLookup(args stage.LookupArgs) (lookupColumn, error) {
	if len(args.Pipeline) == 0 || args.Pipeline[0].Op != stage.Match {
		return lookupColumn{}, &ErrUnsupported{Reason: "a $lookup must open with its join $match"}
	}
	joinMatch := map[string]any(args.Pipeline[0].Args.(stage.MatchArgs))

	letCols := map[string]string{} // letName -> outer column
	for name, expr := range args.Let {
		s, ok := expr.(string)
		if !ok || len(s) == 0 || s[0] != '$' {
			return lookupColumn{}, &ErrUnsupported{Reason: "lookup let-bindings must be simple field references"}
		}
		letCols[name] = strings.TrimPrefix(s, "$")
	}

	innerAlias := b.alias + "_" + args.As
	var joinConds []string
	remaining := map[string]any{}
	for targetCol, cond := range joinMatch {
		condMap, ok := cond.(map[string]any)
		if !ok {
			remaining[targetCol] = cond
			continue
		}
		ref, ok := condMap["$eq"].(string)
		if !ok || len(ref) < 2 || ref[0] != '$' || ref[1] != '$' {
			remaining[targetCol] = cond
			continue
		}
		letName := ref[2:]
		outerCol, ok := letCols[letName]
		if !ok {
			return lookupColumn{}, &ErrUnsupported{Reason: fmt.Sprintf("lookup join references unknown let %q", letName)}
		}
		joinConds = append(joinConds, innerAlias+"."+b.dialect.QuoteIdent(targetCol)+" = "+b.alias+"."+b.dialect.QuoteIdent(outerCol))
	}
	if len(joinConds) == 0 {
		return lookupColumn{}, &ErrUnsupported{Reason: "could not resolve any join columns for $lookup " + args.As}
	}

	inner := &builder{dialect: b.dialect, alias: innerAlias, argNum: b.argNum}
	inner.where = append(inner.where, joinConds...)
	if len(remaining) > 0 {
		frag, fargs, err := inner.matchToSQL(remaining)
		if err != nil {
			return lookupColumn{}, err
		}
		if frag != "" {
			inner.where = append(inner.where, frag)
			inner.args = append(inner.args, fargs...)
		}
	}

	var jsonCols []string
	for _, st := range args.Pipeline[1:] {
		switch st.Op {
		case stage.Sort:
			for _, e := range st.Args.(stage.SortArgs) {
				dir := "ASC"
				if e.Dir < 0 {
					dir = "DESC"
				}
				inner.orderBy = append(inner.orderBy, innerAlias+"."+b.dialect.QuoteIdent(e.Column)+" "+dir)
			}
		case stage.Skip:
			n := st.Args.(int64)
			inner.offset = &n
		case stage.Limit:
			n := st.Args.(int64)
			inner.limit = &n
		case stage.Match:
			frag, fargs, err := inner.matchToSQL(map[string]any(st.Args.(stage.MatchArgs)))
			if err != nil {
				return lookupColumn{}, err
			}
			if frag != "" {
				inner.where = append(inner.where, frag)
				inner.args = append(inner.args, fargs...)
			}
		case stage.Project:
			pa := st.Args.(stage.ProjectArgs)
			for c, v := range pa {
				if v == 1 {
					jsonCols = append(jsonCols, c)
				}
			}
		case stage.Lookup, stage.Unwind, stage.ReplaceRoot, stage.Set, stage.Unset:
			return lookupColumn{}, &ErrUnsupported{Reason: "a second level of nested include, or a many-to-many include, is not supported over the relational path (see DESIGN.md)"}
		default:
			return lookupColumn{}, &ErrUnsupported{Reason: fmt.Sprintf("unrecognized nested stage %q", st.Op)}
		}
	}

	jsonObjArgs := []string{}
	if len(jsonCols) > 0 {
		for _, c := range jsonCols {
			jsonObjArgs = append(jsonObjArgs, "'"+c+"'", innerAlias+"."+b.dialect.QuoteIdent(c))
		}
	} else {
		jsonObjArgs = append(jsonObjArgs, "'*'", innerAlias+".*")
	}
	jsonObj := fmt.Sprintf("%s(%s)", b.dialect.JSONObjectFunc(), strings.Join(jsonObjArgs, ", "))

	// subArgs collects this subquery's placeholder args in the exact order
	// its own text emits "?": the join conditions carry none (they compare
	// two columns, not a bound value), so inner.where's args already reflect
	// the subquery's full placeholder order whichever branch below runs.
	subArgs := append([]any(nil), inner.args...)

	sub := fmt.Sprintf("SELECT %s(%s) FROM %s AS %s", b.dialect.JSONArrayAggFunc(), jsonObj, b.dialect.QuoteIdent(args.From), innerAlias)
	if len(inner.where) > 0 {
		sub += " WHERE " + strings.Join(inner.where, " AND ")
	}
	// Aggregate functions can't see an ORDER BY/LIMIT/OFFSET applied to the
	// outer select, so order/page the rows in a derived table first, then
	// aggregate that.
	if len(inner.orderBy) > 0 || inner.limit != nil || inner.offset != nil {
		derived := fmt.Sprintf("SELECT %s.* FROM %s AS %s", innerAlias, b.dialect.QuoteIdent(args.From), innerAlias)
		if len(inner.where) > 0 {
			derived += " WHERE " + strings.Join(inner.where, " AND ")
		}
		if len(inner.orderBy) > 0 {
			derived += " ORDER BY " + strings.Join(inner.orderBy, ", ")
		}
		if inner.limit != nil {
			derived += fmt.Sprintf(" LIMIT %d", *inner.limit)
		}
		if inner.offset != nil {
			derived += fmt.Sprintf(" OFFSET %d", *inner.offset)
		}
		sub = fmt.Sprintf("SELECT %s(%s) FROM (%s) AS %s", b.dialect.JSONArrayAggFunc(), jsonObj, derived, innerAlias)
	}

	return lookupColumn{alias: args.As, sql: "(" + sub + ")", args: subArgs}, nil
}
