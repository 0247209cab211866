package schema

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/latticeq/queryengine/value"
)

// Format selects the declarative-document decoder used by Load.
type Format uint8

const (
	FormatYAML Format = iota
	FormatJSON
)

// doc mirrors the shape of a declarative schema document. This is a
// structural decode target, not a DSL grammar — "schema parsing from source
// text" (spec §1 Out of scope) refers to a dedicated schema language parser,
// which this is not.
type doc struct {
	Enums  []enumDoc  `json:"enums" yaml:"enums"`
	Models []modelDoc `json:"models" yaml:"models"`
}

type enumDoc struct {
	Name   string   `json:"name" yaml:"name"`
	Values []string `json:"values" yaml:"values"`
}

type modelDoc struct {
	Name      string     `json:"name" yaml:"name"`
	Table     string     `json:"table" yaml:"table"`
	Fields    []fieldDoc `json:"fields" yaml:"fields"`
	Relations []relDoc   `json:"relations" yaml:"relations"`
	Indexes   []indexDoc `json:"indexes" yaml:"indexes"`
}

type fieldDoc struct {
	Name     string `json:"name" yaml:"name"`
	Column   string `json:"column" yaml:"column"`
	Type     string `json:"type" yaml:"type"`     // "string","int64","bool","decimal","date","dateTime","objectId","enum:<name>","sequence:<type>"
	Optional bool   `json:"optional" yaml:"optional"`
	Readable bool   `json:"readable" yaml:"readable"`
	Writable bool   `json:"writable" yaml:"writable"`
	Query    bool   `json:"queryable" yaml:"queryable"`
	Primary  bool   `json:"primary" yaml:"primary"`
}

type relDoc struct {
	Name       string   `json:"name" yaml:"name"`
	Model      string   `json:"model" yaml:"model"`
	Fields     []string `json:"fields" yaml:"fields"`
	References []string `json:"references" yaml:"references"`
	Through    string   `json:"through" yaml:"through"`
}

type indexDoc struct {
	Name  string         `json:"name" yaml:"name"`
	Type  string         `json:"type" yaml:"type"` // "primary","unique","index"
	Items []indexItemDoc `json:"items" yaml:"items"`
}

type indexItemDoc struct {
	Field string `json:"field" yaml:"field"`
	Sort  string `json:"sort" yaml:"sort"` // "asc","desc"
}

// Load decodes a declarative schema document and builds a Catalog from it.
func Load(r io.Reader, format Format) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read schema document: %w", err)
	}

	var d doc
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode schema json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode schema yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown schema document format %v", format)
	}

	enums := make([]EnumBuilder, len(d.Enums))
	for i, e := range d.Enums {
		enums[i] = EnumBuilder{Name: e.Name, Values: e.Values}
	}

	models := make([]ModelBuilder, len(d.Models))
	for i, md := range d.Models {
		mb := ModelBuilder{Name: md.Name, TableName: md.Table}
		for _, fd := range md.Fields {
			ft, err := parseFieldType(fd.Type)
			if err != nil {
				return nil, fmt.Errorf("model %s field %s: %w", md.Name, fd.Name, err)
			}
			opt := Required
			if fd.Optional {
				opt = Optional
			}
			q := NotQueryable
			if fd.Query {
				q = Queryable
			}
			mb.Fields = append(mb.Fields, Field{
				Name: fd.Name, ColumnName: fd.Column, Type: ft,
				Optionality: opt, Readable: fd.Readable, Writable: fd.Writable,
				Storage: Stored, Query: q, Primary: fd.Primary,
			})
		}
		for _, rd := range md.Relations {
			mb.Relations = append(mb.Relations, Relation{
				Name: rd.Name, Model: rd.Model, Fields: rd.Fields,
				References: rd.References, Through: rd.Through,
			})
		}
		for _, id := range md.Indexes {
			idx := ModelIndex{Name: id.Name, Type: parseIndexType(id.Type)}
			for _, it := range id.Items {
				dir := Asc
				if it.Sort == "desc" {
					dir = Desc
				}
				idx.Items = append(idx.Items, IndexItem{FieldName: it.Field, Sort: dir})
			}
			mb.Indexes = append(mb.Indexes, idx)
		}
		models[i] = mb
	}

	return NewCatalog(models, enums)
}

func parseIndexType(s string) IndexType {
	switch s {
	case "primary":
		return IndexPrimary
	case "unique":
		return IndexUnique
	default:
		return IndexRegular
	}
}

func parseFieldType(s string) (value.FieldType, error) {
	if name, ok := strings.CutPrefix(s, "enum:"); ok {
		return value.EnumType(name), nil
	}
	if inner, ok := strings.CutPrefix(s, "sequence:"); ok {
		elem, err := parseFieldType(inner)
		if err != nil {
			return value.FieldType{}, fmt.Errorf("sequence element: %w", err)
		}
		return value.SequenceType(elem), nil
	}
	if inner, ok := strings.CutPrefix(s, "map:"); ok {
		val, err := parseFieldType(inner)
		if err != nil {
			return value.FieldType{}, fmt.Errorf("map value: %w", err)
		}
		return value.MapType(val), nil
	}
	switch s {
	case "objectId":
		return value.Scalar(value.KindObjectID), nil
	case "bool":
		return value.Scalar(value.KindBool), nil
	case "int8":
		return value.Scalar(value.KindInt8), nil
	case "int16":
		return value.Scalar(value.KindInt16), nil
	case "int32":
		return value.Scalar(value.KindInt32), nil
	case "int64":
		return value.Scalar(value.KindInt64), nil
	case "int128":
		return value.Scalar(value.KindInt128), nil
	case "uint8":
		return value.Scalar(value.KindUint8), nil
	case "uint16":
		return value.Scalar(value.KindUint16), nil
	case "uint32":
		return value.Scalar(value.KindUint32), nil
	case "uint64":
		return value.Scalar(value.KindUint64), nil
	case "uint128":
		return value.Scalar(value.KindUint128), nil
	case "float32":
		return value.Scalar(value.KindFloat32), nil
	case "float64":
		return value.Scalar(value.KindFloat64), nil
	case "decimal":
		return value.Scalar(value.KindDecimal), nil
	case "string":
		return value.Scalar(value.KindString), nil
	case "date":
		return value.Scalar(value.KindDate), nil
	case "dateTime":
		return value.Scalar(value.KindDateTime), nil
	default:
		return value.FieldType{}, fmt.Errorf("unsupported declarative field type %q", s)
	}
}
