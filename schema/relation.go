package schema

// Relation describes a named edge from one Model to another (spec §3).
// When Through is non-empty, the relation is resolved as two hops across
// the named join model (spec §4.E).
type Relation struct {
	Name       string
	Model      string // target model name
	Fields     []string // local keys
	References []string // remote keys, same length as Fields
	Through    string   // join model name, empty for a direct relation
}

func (r *Relation) IsThrough() bool { return r.Through != "" }

// KeyPairs returns the (local, remote) field-name pairs for this relation's
// join condition, exactly as declared in Fields and References.
func (r *Relation) KeyPairs() [][2]string {
	pairs := make([][2]string, len(r.Fields))
	for i := range r.Fields {
		pairs[i] = [2]string{r.Fields[i], r.References[i]}
	}
	return pairs
}

// ThroughHops finds, on a join model, the one direct relation pointing back
// to fromName and the one pointing forward to toName (spec §4.E: a
// many-to-many relation resolves its two hops from the join model's own
// direct relations rather than carrying redundant key lists itself).
func ThroughHops(through *Model, fromName, toName string) (back *Relation, forward *Relation, ok bool) {
	for _, r := range through.relations {
		if r.Through != "" {
			continue
		}
		switch r.Model {
		case fromName:
			back = r
		case toName:
			forward = r
		}
	}
	return back, forward, back != nil && forward != nil
}
