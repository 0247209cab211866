package planner

import (
	"encoding/json"

	"github.com/latticeq/queryengine/queryerr"
	"github.com/latticeq/queryengine/schema"
	"github.com/latticeq/queryengine/stage"
)

// compileOrderBy compiles an ordered sequence of {field: "asc"|"desc"}
// entries into stage.SortArgs, preserving declaration order (spec §4.D).
func compileOrderBy(m *schema.Model, raw json.RawMessage, path []string) (stage.SortArgs, *queryerr.Error) {
	if len(raw) == 0 {
		return nil, nil
	}

	entries, err := orderByEntries(raw, path)
	if err != nil {
		return nil, err
	}

	out := make(stage.SortArgs, 0, len(entries))
	for _, e := range entries {
		f, ok := m.Field(e.key)
		if !ok || !m.IsQueryableKey(e.key) {
			return nil, queryerr.New(queryerr.KeysUnallowed, append(path, e.key), "%q is not an orderable key on %s", e.key, m.Name)
		}
		dir, derr := sortDirection(e.dir, append(path, e.key))
		if derr != nil {
			return nil, derr
		}
		out = append(out, stage.SortEntry{Column: f.ColumnName, Dir: dir})
	}
	return out, nil
}

type orderByEntry struct {
	key string
	dir string
}

// orderByEntries accepts either an ordered array of single-key objects
// (the canonical multi-key form) or a single bare object (sugar for a
// one-key orderBy).
func orderByEntries(raw json.RawMessage, path []string) ([]orderByEntry, *queryerr.Error) {
	var arr []map[string]string
	if err := json.Unmarshal(raw, &arr); err == nil {
		out := make([]orderByEntry, 0, len(arr))
		for i, m := range arr {
			if len(m) != 1 {
				return nil, queryerr.New(queryerr.UnexpectedObjectLength, path, "orderBy[%d] must name exactly one key", i)
			}
			for k, v := range m {
				out = append(out, orderByEntry{k, v})
			}
		}
		return out, nil
	}
	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, queryerr.New(queryerr.UnexpectedInputType, path, "orderBy must be an array of single-key objects or a single-key object")
	}
	if len(obj) != 1 {
		return nil, queryerr.New(queryerr.UnexpectedObjectLength, path, "a bare orderBy object must name exactly one key")
	}
	out := make([]orderByEntry, 0, 1)
	for k, v := range obj {
		out = append(out, orderByEntry{k, v})
	}
	return out, nil
}

func sortDirection(v string, path []string) (int, *queryerr.Error) {
	switch v {
	case "asc":
		return 1, nil
	case "desc":
		return -1, nil
	default:
		return 0, queryerr.New(queryerr.UnexpectedInputValue, path, "expected \"asc\" or \"desc\", got %q", v)
	}
}

// reverseSort flips every entry's direction — used to implement negative
// take's reverse-paginate-then-reverse-results strategy (spec §4.F).
func reverseSort(s stage.SortArgs) stage.SortArgs {
	out := make(stage.SortArgs, len(s))
	for i, e := range s {
		out[i] = stage.SortEntry{Column: e.Column, Dir: -e.Dir}
	}
	return out
}
