// Package schema implements the catalog component of spec §4.B: models,
// fields, relations, and indexes, assembled once into an immutable graph
// and looked up by name thereafter.
package schema

import "github.com/latticeq/queryengine/value"

// Optionality of a field (spec §3).
type Optionality uint8

const (
	Required Optionality = iota
	Optional
)

// StorageClass of a field (spec §3).
type StorageClass uint8

const (
	Stored StorageClass = iota
	Calculated
	Temporary
)

// Queryability of a field (spec §3).
type Queryability uint8

const (
	Queryable Queryability = iota
	NotQueryable
)

// Field is a member of a Model.
type Field struct {
	Name        string
	ColumnName  string
	Type        value.FieldType
	Optionality Optionality
	Readable    bool
	Writable    bool
	Storage     StorageClass
	Query       Queryability
	Primary     bool

	// AuthIdentity marks this field as the model's identity field for an
	// auth-by-identity pipeline (external collaborator; the core only
	// records the flag).
	AuthIdentity bool
	// AuthBy marks this field as a credential compared during auth.
	AuthBy bool
}

func (f *Field) IsOptional() bool { return f.Optionality == Optional }

func (f *Field) IsQueryable() bool { return f.Query == Queryable }
