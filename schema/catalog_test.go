package schema

import (
	"strings"
	"testing"

	"github.com/latticeq/queryengine/value"
)

// userPostCatalog builds the example model used throughout spec §8:
// User { id (primary), name, age, posts: relation to Post }.
func userPostCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := NewCatalog([]ModelBuilder{
		{
			Name: "User", TableName: "users",
			Fields: []Field{
				{Name: "id", Type: value.Scalar(value.KindObjectID), Readable: true, Primary: true, Query: Queryable},
				{Name: "name", Type: value.Scalar(value.KindString), Readable: true, Writable: true, Query: Queryable},
				{Name: "age", Type: value.Scalar(value.KindUint32), Readable: true, Writable: true, Query: Queryable},
			},
			Relations: []Relation{
				{Name: "posts", Model: "Post", Fields: []string{"id"}, References: []string{"authorId"}},
			},
			Indexes: []ModelIndex{
				{Name: "primary", Type: IndexPrimary, Items: []IndexItem{{FieldName: "id"}}},
			},
		},
		{
			Name: "Post", TableName: "posts",
			Fields: []Field{
				{Name: "id", Type: value.Scalar(value.KindObjectID), Readable: true, Primary: true, Query: Queryable},
				{Name: "authorId", Type: value.Scalar(value.KindObjectID), Readable: true, Writable: true, Query: Queryable},
				{Name: "published", Type: value.Scalar(value.KindBool), Readable: true, Writable: true, Query: Queryable},
			},
			Relations: []Relation{
				{Name: "author", Model: "User", Fields: []string{"authorId"}, References: []string{"id"}},
			},
			Indexes: []ModelIndex{
				{Name: "primary", Type: IndexPrimary, Items: []IndexItem{{FieldName: "id"}}},
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return cat
}

func TestNewCatalog_UserPost(t *testing.T) {
	cat := userPostCatalog(t)
	u, err := cat.Model("User")
	if err != nil {
		t.Fatal(err)
	}
	if !u.IsQueryableKey("age") {
		t.Error("age should be queryable")
	}
	if !u.IsQueryableKey("posts") {
		t.Error("posts relation should be queryable")
	}
	if !u.IsUniqueKeySet([]string{"id"}) {
		t.Error("{id} should be a unique key-set (it's the primary index)")
	}
	if u.IsUniqueKeySet([]string{"name"}) {
		t.Error("{name} is not unique")
	}
}

func TestNewCatalog_RequiresExactlyOnePrimaryIndex(t *testing.T) {
	_, err := NewCatalog([]ModelBuilder{
		{
			Name: "Broken",
			Fields: []Field{
				{Name: "id", Type: value.Scalar(value.KindObjectID)},
			},
			// no primary index at all
		},
	}, nil)
	if err == nil {
		t.Fatal("expected construction error for missing primary index")
	}
	if !strings.Contains(err.Error(), "schema construction failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewCatalog_RelationArityMismatch(t *testing.T) {
	_, err := NewCatalog([]ModelBuilder{
		{
			Name: "A",
			Fields: []Field{
				{Name: "id", Type: value.Scalar(value.KindObjectID), Primary: true},
			},
			Relations: []Relation{
				{Name: "bad", Model: "A", Fields: []string{"id"}, References: []string{"id", "extra"}},
			},
			Indexes: []ModelIndex{
				{Name: "primary", Type: IndexPrimary, Items: []IndexItem{{FieldName: "id"}}},
			},
		},
	}, nil)
	if err == nil {
		t.Fatal("expected construction error for mismatched relation arity")
	}
}

func TestNewCatalog_CyclicModelsResolveByName(t *testing.T) {
	// User <-> Post is already cyclic in userPostCatalog; ensure both sides
	// resolve without needing direct pointers at construction time.
	cat := userPostCatalog(t)
	post, err := cat.Model("Post")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := post.Field("authorId"); !ok {
		t.Fatal("expected authorId field on Post")
	}
}

func TestModel_ModelNotFound(t *testing.T) {
	cat := userPostCatalog(t)
	if _, err := cat.Model("Nope"); err == nil {
		t.Fatal("expected ModelNotFound error")
	}
}
