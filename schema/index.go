package schema

import "sort"

// IndexType of a ModelIndex (spec §3).
type IndexType uint8

const (
	IndexPrimary IndexType = iota
	IndexUnique
	IndexRegular
)

// SortDir of an index item.
type SortDir uint8

const (
	Asc SortDir = iota
	Desc
)

// IndexItem is one column participating in an index, in order.
type IndexItem struct {
	FieldName string
	Sort      SortDir
	Len       *int
}

// ModelIndex is a primary, unique, or plain index over a Model.
type ModelIndex struct {
	Name  string
	Type  IndexType
	Items []IndexItem
}

// FieldNames returns the ordered field names participating in the index.
func (idx *ModelIndex) FieldNames() []string {
	out := make([]string, len(idx.Items))
	for i, it := range idx.Items {
		out[i] = it.FieldName
	}
	return out
}

// keySet renders FieldNames as an order-insensitive set key for comparison
// against a `where` key-set (spec §3: "order-insensitive set equality").
func keySet(names []string) string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	// Deterministic rendering: sort lexicographically.
	sorted := make([]string, 0, len(seen))
	for n := range seen {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	out := ""
	for i, n := range sorted {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}
