package schema

import (
	"fmt"

	"github.com/latticeq/queryengine/queryerr"
)

// Model is a fully resolved entity: fields, relations, indexes, and the
// precomputed key-sets the planner consults on every compilation (spec §3).
type Model struct {
	Name      string
	TableName string

	fields       []Field
	fieldsByName map[string]*Field
	relations    map[string]*Relation
	indexes      []ModelIndex
	primary      *ModelIndex

	allKeys       map[string]bool
	inputKeys     map[string]bool
	saveKeys      map[string]bool
	outputKeys    map[string]bool
	queryableKeys map[string]bool
	uniqueKeySets map[string]bool // rendered via keySet()
}

// Fields returns the model's fields in declaration order.
func (m *Model) Fields() []Field { return m.fields }

// Field looks up a field by name.
func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.fieldsByName[name]
	return f, ok
}

// Relation looks up a relation by name.
func (m *Model) Relation(name string) (*Relation, bool) {
	r, ok := m.relations[name]
	return r, ok
}

// Relations returns all relations, unordered.
func (m *Model) Relations() map[string]*Relation { return m.relations }

// Indexes returns every index on the model (primary included).
func (m *Model) Indexes() []ModelIndex { return m.indexes }

// PrimaryIndex returns the model's single primary index.
func (m *Model) PrimaryIndex() *ModelIndex { return m.primary }

// IsQueryableKey reports whether name (a field or relation name) may appear
// as a `where`/`orderBy` key.
func (m *Model) IsQueryableKey(name string) bool { return m.queryableKeys[name] }

// IsUniqueKeySet reports whether the given set of field names equals one of
// the model's unique-query key-sets (spec §3, §4.F).
func (m *Model) IsUniqueKeySet(names []string) bool {
	return m.uniqueKeySets[keySet(names)]
}

// IsSingleColumnUniqueField reports whether name is, by itself, the entire
// field set of the model's primary index or of some unique index — the
// condition spec §4.F requires of a cursor's key.
func (m *Model) IsSingleColumnUniqueField(name string) bool {
	for i := range m.indexes {
		idx := &m.indexes[i]
		if (idx.Type == IndexPrimary || idx.Type == IndexUnique) && len(idx.Items) == 1 && idx.Items[0].FieldName == name {
			return true
		}
	}
	return false
}

// ModelBuilder is the declarative source a schema.Model is built from.
// Schema parsing from source text is out of scope; callers assemble a
// ModelBuilder (directly, or via schema.Load) and hand it to NewCatalog.
type ModelBuilder struct {
	Name      string
	TableName string
	Fields    []Field
	Relations []Relation
	Indexes   []ModelIndex
}

func buildModel(b ModelBuilder) (*Model, []string) {
	var problems []string

	m := &Model{
		Name:          b.Name,
		TableName:     b.TableName,
		fields:        append([]Field(nil), b.Fields...),
		fieldsByName:  make(map[string]*Field, len(b.Fields)),
		relations:     make(map[string]*Relation, len(b.Relations)),
		indexes:       append([]ModelIndex(nil), b.Indexes...),
		allKeys:       map[string]bool{},
		inputKeys:     map[string]bool{},
		saveKeys:      map[string]bool{},
		outputKeys:    map[string]bool{},
		queryableKeys: map[string]bool{},
		uniqueKeySets: map[string]bool{},
	}

	for i := range m.fields {
		f := &m.fields[i]
		if f.ColumnName == "" {
			f.ColumnName = f.Name
		}
		if _, dup := m.fieldsByName[f.Name]; dup {
			problems = append(problems, fmt.Sprintf("model %s: duplicate field %q", b.Name, f.Name))
			continue
		}
		m.fieldsByName[f.Name] = f
		m.allKeys[f.Name] = true
		if f.Writable {
			m.inputKeys[f.Name] = true
			m.saveKeys[f.Name] = true
		}
		if f.Readable {
			m.outputKeys[f.Name] = true
		}
		if f.IsQueryable() {
			m.queryableKeys[f.Name] = true
		}
		if f.Type.Tag == 0 { // value.FieldTypeUndefined
			problems = append(problems, fmt.Sprintf("model %s: field %q has Undefined type", b.Name, f.Name))
		}
	}

	for i := range b.Relations {
		rel := b.Relations[i]
		if _, dup := m.relations[rel.Name]; dup {
			problems = append(problems, fmt.Sprintf("model %s: duplicate relation %q", b.Name, rel.Name))
			continue
		}
		if rel.Through == "" {
			if len(rel.Fields) == 0 || len(rel.Fields) != len(rel.References) {
				problems = append(problems, fmt.Sprintf("model %s: relation %q fields/references must be non-empty and equal length", b.Name, rel.Name))
				continue
			}
			for _, fn := range rel.Fields {
				if _, ok := m.fieldsByName[fn]; !ok {
					problems = append(problems, fmt.Sprintf("model %s: relation %q local field %q not found", b.Name, rel.Name, fn))
				}
			}
		}
		// Through relations resolve their two hops from the join model's own
		// direct relations (one back to this model, one forward to the
		// target) rather than carrying Fields/References themselves — see
		// catalog.go's cross-model pass.
		r := rel
		m.relations[rel.Name] = &r
		m.queryableKeys[rel.Name] = true
	}

	primaryCount := 0
	for i := range m.indexes {
		idx := &m.indexes[i]
		if len(idx.Items) == 0 {
			problems = append(problems, fmt.Sprintf("model %s: index %q has no items", b.Name, idx.Name))
			continue
		}
		switch idx.Type {
		case IndexPrimary:
			primaryCount++
			m.primary = idx
			m.uniqueKeySets[keySet(idx.FieldNames())] = true
		case IndexUnique:
			m.uniqueKeySets[keySet(idx.FieldNames())] = true
		}
	}
	if primaryCount != 1 {
		problems = append(problems, fmt.Sprintf("model %s: must have exactly one primary index, found %d", b.Name, primaryCount))
	}

	return m, problems
}

// invariantViolation is a convenience used by callers who want a queryerr.Error
// instead of the raw problem strings NewCatalog aggregates.
func invariantViolation(problems []string) *queryerr.Error {
	if len(problems) == 0 {
		return nil
	}
	errs := make(map[string]string, len(problems))
	for i, p := range problems {
		errs[fmt.Sprintf("problem[%d]", i)] = p
	}
	return &queryerr.Error{Type: queryerr.InternalServerError, Message: "schema construction failed", Errors: errs}
}
