package schema

import (
	"strings"
	"testing"

	"github.com/latticeq/queryengine/value"
)

const yamlDoc = `
enums:
  - name: Status
    values: [draft, published]
models:
  - name: Post
    table: posts
    fields:
      - {name: id, column: id, type: objectId, primary: true, readable: true, queryable: true}
      - {name: title, column: title, type: string, readable: true, writable: true, queryable: true}
      - {name: status, column: status, type: "enum:Status", readable: true, writable: true, queryable: true}
      - {name: tags, column: tags, type: "sequence:string", readable: true, writable: true, queryable: true}
      - {name: meta, column: meta, type: "map:string", readable: true, writable: true}
    indexes:
      - name: primary
        type: primary
        items: [{field: id}]
`

func TestLoad_YAMLDocumentBuildsCatalog(t *testing.T) {
	cat, err := Load(strings.NewReader(yamlDoc), FormatYAML)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m, merr := cat.Model("Post")
	if merr != nil {
		t.Fatalf("Model: %v", merr)
	}

	status, ok := m.Field("status")
	if !ok {
		t.Fatal("expected a status field")
	}
	if status.Type.Tag != value.FieldTypeEnum {
		t.Fatalf("expected status to parse as an enum type, got %+v", status.Type)
	}

	tags, ok := m.Field("tags")
	if !ok {
		t.Fatal("expected a tags field")
	}
	if tags.Type.Tag != value.FieldTypeSequence || tags.Type.Elem == nil || tags.Type.Elem.Tag != value.FieldTypeScalar {
		t.Fatalf("expected tags to parse as a sequence of string, got %+v", tags.Type)
	}

	meta, ok := m.Field("meta")
	if !ok {
		t.Fatal("expected a meta field")
	}
	if meta.Type.Tag != value.FieldTypeMap {
		t.Fatalf("expected meta to parse as a map type, got %+v", meta.Type)
	}
}

func TestLoad_JSONDocumentBuildsCatalog(t *testing.T) {
	doc := `{"models":[{"name":"Tag","table":"tags","fields":[
		{"name":"id","column":"id","type":"objectId","primary":true,"readable":true,"queryable":true},
		{"name":"label","column":"label","type":"string","readable":true,"writable":true,"queryable":true}
	],"indexes":[{"name":"primary","type":"primary","items":[{"field":"id"}]}]}]}`
	cat, err := Load(strings.NewReader(doc), FormatJSON)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, merr := cat.Model("Tag"); merr != nil {
		t.Fatalf("Model: %v", merr)
	}
}

func TestParseFieldType_UnknownTypeRejected(t *testing.T) {
	if _, err := parseFieldType("bogus"); err == nil {
		t.Fatal("expected an error for an unrecognized field type string")
	}
}

func TestParseFieldType_NestedSequenceOfSequence(t *testing.T) {
	ft, err := parseFieldType("sequence:sequence:int64")
	if err != nil {
		t.Fatalf("parseFieldType: %v", err)
	}
	if ft.Tag != value.FieldTypeSequence || ft.Elem.Tag != value.FieldTypeSequence {
		t.Fatalf("expected a sequence of sequence, got %+v", ft)
	}
}
