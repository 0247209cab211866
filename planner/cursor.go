package planner

import (
	"encoding/json"

	"github.com/latticeq/queryengine/queryerr"
	"github.com/latticeq/queryengine/schema"
	"github.com/latticeq/queryengine/stage"
)

// pagination is the resolved skip/limit/reverse triple a take/skip pair
// compiles to (spec §4.F). A negative take requests "the last N": paginate
// in reverse sort order bounded to |take|, then reverse the assembled
// results back to the query's declared order.
type pagination struct {
	skip    *int64
	limit   *int64
	reverse bool
}

// buildPagination resolves the skip/limit/reverse triple for a compilation.
// Per spec §4.F: when both pageSize and pageNumber are present they override
// skip/take entirely (skip = (pageNumber-1)*pageSize, limit = pageSize).
func buildPagination(take, skip, pageSize, pageNumber *int64, path []string) (pagination, *queryerr.Error) {
	var p pagination
	if pageSize != nil && pageNumber != nil {
		if *pageSize <= 0 {
			return p, queryerr.New(queryerr.UnexpectedInputValue, path, "pageSize must be positive, got %d", *pageSize)
		}
		if *pageNumber <= 0 {
			return p, queryerr.New(queryerr.UnexpectedInputValue, path, "pageNumber must be positive, got %d", *pageNumber)
		}
		skipN := (*pageNumber - 1) * *pageSize
		p.skip = &skipN
		p.limit = pageSize
		return p, nil
	}

	if skip != nil {
		if *skip < 0 {
			return p, queryerr.New(queryerr.UnexpectedInputValue, path, "skip must be non-negative, got %d", *skip)
		}
		p.skip = skip
	}
	if take == nil {
		return p, nil
	}
	if *take < 0 {
		n := -*take
		p.limit = &n
		p.reverse = true
		return p, nil
	}
	p.limit = take
	return p, nil
}

// reverseArraySet builds a $set stage that reverses an array field in place
// — used to restore declared order after a negative-take reverse-paginate
// (spec §4.F). Only meaningful on a relation's included array; a top-level
// Many query reverses by issuing the $sort/$limit against the flipped order
// and never materializes an array, so no equivalent stage is emitted there;
// instead Plan sets Result.ReverseResults. None of the backend adapters in
// this module reads that flag, so a top-level negative-take page comes back
// from them in the flipped order.
func reverseArraySet(field string) stage.Stage {
	return stage.Stage{Op: stage.Set, Args: stage.SetArgs{field: map[string]any{"$reverseArray": "$" + field}}}
}

// synthesizeCursor folds a cursor pivot into an additional match fragment
// excluding everything not at-or-past the pivot in the effective (possibly
// take-reversed) sort direction (spec §4.F, invariant 4).
//
// Preconditions, all reported as InvalidQueryInput: orderBy must be present
// with exactly one key; cursor must be a single-key object naming that same
// key; the key must be covered, by itself, by a primary or unique index.
//
// order_asc = (orderBy direction == asc) XOR (take < 0); the synthesized
// predicate is $gte when order_asc, else $lte.
func synthesizeCursor(m *schema.Model, cursorRaw json.RawMessage, orderByRaw json.RawMessage, takeNegative bool, path []string) (map[string]any, *queryerr.Error) {
	if len(cursorRaw) == 0 {
		return nil, nil
	}
	if len(orderByRaw) == 0 {
		return nil, queryerr.New(queryerr.InvalidQueryInput, path, "cursor requires orderBy to be present")
	}
	entries, eerr := orderByEntries(orderByRaw, []string{"orderBy"})
	if eerr != nil {
		return nil, eerr
	}
	if len(entries) != 1 {
		return nil, queryerr.New(queryerr.InvalidQueryInput, path, "cursor requires orderBy to name exactly one key")
	}
	orderKey, orderDir := entries[0].key, entries[0].dir

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(cursorRaw, &obj); err != nil {
		return nil, queryerr.New(queryerr.UnexpectedInputType, path, "cursor must be a single-key object")
	}
	if len(obj) != 1 {
		return nil, queryerr.New(queryerr.InvalidQueryInput, path, "cursor must name exactly one key")
	}
	raw, ok := obj[orderKey]
	if !ok {
		return nil, queryerr.New(queryerr.InvalidQueryInput, path, "cursor key must match orderBy's key %q", orderKey)
	}
	if !m.IsSingleColumnUniqueField(orderKey) {
		return nil, queryerr.New(queryerr.InvalidQueryInput, path, "cursor key %q must be covered by a single-column primary or unique index", orderKey)
	}

	f, ok := m.Field(orderKey)
	if !ok {
		return nil, queryerr.Internal("model %s cursor field %q missing", m.Name, orderKey)
	}
	cursorPath := append(path, orderKey)
	v, derr := decodeLiteral(f, raw, cursorPath)
	if derr != nil {
		return nil, derr
	}
	n, nerr := nativeOf(v, cursorPath)
	if nerr != nil {
		return nil, nerr
	}

	orderAsc := (orderDir == "asc") != takeNegative
	op := "$lte"
	if orderAsc {
		op = "$gte"
	}
	return map[string]any{f.ColumnName: map[string]any{op: n}}, nil
}
