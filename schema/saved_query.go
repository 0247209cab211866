package schema

import "encoding/json"

// SavedQuery is a named, persisted query against a single model: a where/
// orderBy/select/include/take/skip tree identical in shape to a fresh
// planner.Options, stored so a caller can re-run it by name instead of
// resending the whole query tree every time (spec §9's "saved views"
// addition, modeled on the teacher's View/TableQueryRequest pair).
//
// SavedQuery carries no filter DSL of its own: its Where/OrderBy/Select/
// Include fields are the exact JSON objects planner.Options would otherwise
// carry, so a
// saved query round-trips through the same planner.Plan entry point an
// ad-hoc query does.
type SavedQuery struct {
	Name      string          `json:"name"`
	Model     string          `json:"model"`
	Where     json.RawMessage `json:"where,omitempty"`
	OrderBy   json.RawMessage `json:"orderBy,omitempty"`
	Select    json.RawMessage `json:"select,omitempty"`
	Include   json.RawMessage `json:"include,omitempty"`
	Take      *int64          `json:"take,omitempty"`
	Skip      *int64          `json:"skip,omitempty"`
	CreatedBy string          `json:"createdBy,omitempty"`
	CreatedAt string          `json:"createdAt,omitempty"`
}

// Validate checks the saved query names a real model and column set before
// it's persisted. It returns the first problem it finds, as the same kind of
// queryerr.Error NewCatalog returns; unlike NewCatalog it does not aggregate.
func (sq SavedQuery) Validate(cat *Catalog) error {
	m, err := cat.Model(sq.Model)
	if err != nil {
		return err
	}
	if sq.Name == "" {
		return invariantViolation([]string{"saved query: name must not be empty"})
	}
	if len(sq.Select) > 0 {
		var cols map[string]bool
		if err := json.Unmarshal(sq.Select, &cols); err != nil {
			return invariantViolation([]string{"saved query " + sq.Name + ": select must be a JSON object of field -> bool"})
		}
		for c := range cols {
			if !m.allKeys[c] {
				return invariantViolation([]string{"saved query " + sq.Name + ": select references unknown field " + c})
			}
		}
	}
	return nil
}
