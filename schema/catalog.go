package schema

import (
	"fmt"

	"github.com/latticeq/queryengine/queryerr"
)

// Catalog is the immutable, build-once schema graph (spec §3 Lifecycle,
// §4.B, §5). It is safe to share by reference across any number of
// concurrent query compilations: there is no write path after NewCatalog
// returns, so — unlike the teacher's request-facing registries — no
// sync.RWMutex guards reads here.
type Catalog struct {
	models map[string]*Model
	enums  map[string]map[string]bool
}

// EnumBuilder declares an enum's allowed string values.
type EnumBuilder struct {
	Name   string
	Values []string
}

// NewCatalog builds the schema graph once from a declarative source and
// validates every invariant in spec §3, returning a single aggregated error
// listing every violation rather than short-circuiting on the first (this is
// a one-shot construction-time check, unlike runtime compilation errors
// which do short-circuit per spec §7).
func NewCatalog(models []ModelBuilder, enums []EnumBuilder) (*Catalog, error) {
	c := &Catalog{
		models: make(map[string]*Model, len(models)),
		enums:  make(map[string]map[string]bool, len(enums)),
	}

	var problems []string
	for _, eb := range enums {
		if _, dup := c.enums[eb.Name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate enum %q", eb.Name))
			continue
		}
		set := make(map[string]bool, len(eb.Values))
		for _, v := range eb.Values {
			set[v] = true
		}
		c.enums[eb.Name] = set
	}

	for _, mb := range models {
		if _, dup := c.models[mb.Name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate model %q", mb.Name))
			continue
		}
		m, mproblems := buildModel(mb)
		c.models[mb.Name] = m
		problems = append(problems, mproblems...)
	}

	// Cross-model checks: relation targets and references must resolve.
	// Cyclic references (e.g. User <-> Post) are fine — resolution is always
	// by name through the catalog, never by direct pointer (spec §9).
	for _, m := range c.models {
		for _, rel := range m.relations {
			target, ok := c.models[rel.Model]
			if !ok {
				problems = append(problems, fmt.Sprintf("model %s: relation %q targets unknown model %q", m.Name, rel.Name, rel.Model))
				continue
			}
			if rel.Through != "" {
				through, ok := c.models[rel.Through]
				if !ok {
					problems = append(problems, fmt.Sprintf("model %s: relation %q through unknown model %q", m.Name, rel.Name, rel.Through))
					continue
				}
				if _, _, ok := ThroughHops(through, m.Name, target.Name); !ok {
					problems = append(problems, fmt.Sprintf("model %s: relation %q's join model %q must have one direct relation back to %s and one to %s", m.Name, rel.Name, rel.Through, m.Name, target.Name))
				}
				continue
			}
			for _, refName := range rel.References {
				if _, ok := target.fieldsByName[refName]; !ok {
					problems = append(problems, fmt.Sprintf("model %s: relation %q reference %q not found on %s", m.Name, rel.Name, refName, rel.Model))
				}
			}
		}
	}

	if len(problems) > 0 {
		return nil, invariantViolation(problems)
	}
	return c, nil
}

// Model looks up a model by name.
func (c *Catalog) Model(name string) (*Model, error) {
	m, ok := c.models[name]
	if !ok {
		return nil, queryerr.New(queryerr.ModelNotFound, nil, "model %q not found", name)
	}
	return m, nil
}

// Enum looks up an enum's allowed values.
func (c *Catalog) Enum(name string) (map[string]bool, error) {
	e, ok := c.enums[name]
	if !ok {
		return nil, queryerr.New(queryerr.ModelNotFound, nil, "enum %q not found", name)
	}
	return e, nil
}

// Models iterates every model in the catalog. The returned slice is a fresh
// copy of the pointer set; Models themselves remain owned by the Catalog.
func (c *Catalog) Models() []*Model {
	out := make([]*Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	return out
}
