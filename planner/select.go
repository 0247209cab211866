package planner

import (
	"encoding/json"

	"github.com/latticeq/queryengine/queryerr"
	"github.com/latticeq/queryengine/schema"
	"github.com/latticeq/queryengine/stage"
)

// compileSelect compiles a {field: bool, ...} projection object into
// stage.ProjectArgs (spec §4.D). A pure true-list is a whitelist: include
// exactly those fields (plus the primary key). Anything with at least one
// false entry — whether pure-false or mixed true/false — is a blacklist:
// include every readable field not set to false, since the true entries of a
// mixed object are redundant with the default-included rest.
func compileSelect(m *schema.Model, raw json.RawMessage, path []string) (stage.ProjectArgs, *queryerr.Error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var obj map[string]bool
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, queryerr.New(queryerr.UnexpectedInputType, path, "select must be an object of field -> bool")
	}
	if len(obj) == 0 {
		return nil, nil
	}

	hasFalse := false
	for _, v := range obj {
		if !v {
			hasFalse = true
			break
		}
	}

	for key := range obj {
		if _, ok := m.Field(key); !ok {
			return nil, queryerr.New(queryerr.KeysUnallowed, append(path, key), "%q is not a selectable key on %s", key, m.Name)
		}
	}

	out := stage.ProjectArgs{}
	if hasFalse {
		for _, f := range m.Fields() {
			if f.Readable {
				out[f.ColumnName] = 1
			}
		}
		for key, v := range obj {
			if v {
				continue
			}
			f, _ := m.Field(key)
			delete(out, f.ColumnName)
		}
	} else {
		for key := range obj {
			f, _ := m.Field(key)
			out[f.ColumnName] = 1
		}
	}

	if p := m.PrimaryIndex(); p != nil {
		for _, name := range p.FieldNames() {
			if f, ok := m.Field(name); ok {
				out[f.ColumnName] = 1
			}
		}
	}
	return out, nil
}
