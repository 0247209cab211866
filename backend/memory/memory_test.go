package memory

import (
	"encoding/json"
	"testing"

	"github.com/latticeq/queryengine/planner"
	"github.com/latticeq/queryengine/schema"
	"github.com/latticeq/queryengine/value"
)

func userPostCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	cat, err := schema.NewCatalog([]schema.ModelBuilder{
		{
			Name: "User", TableName: "users",
			Fields: []schema.Field{
				{Name: "id", Type: value.Scalar(value.KindObjectID), Readable: true, Primary: true, Query: schema.Queryable},
				{Name: "name", Type: value.Scalar(value.KindString), Readable: true, Writable: true, Query: schema.Queryable},
			},
			Relations: []schema.Relation{
				{Name: "posts", Model: "Post", Fields: []string{"id"}, References: []string{"authorId"}},
			},
			Indexes: []schema.ModelIndex{
				{Name: "primary", Type: schema.IndexPrimary, Items: []schema.IndexItem{{FieldName: "id"}}},
			},
		},
		{
			Name: "Post", TableName: "posts",
			Fields: []schema.Field{
				{Name: "id", Type: value.Scalar(value.KindObjectID), Readable: true, Primary: true, Query: schema.Queryable},
				{Name: "authorId", Type: value.Scalar(value.KindObjectID), Readable: true, Writable: true, Query: schema.Queryable},
				{Name: "title", Type: value.Scalar(value.KindString), Readable: true, Writable: true, Query: schema.Queryable},
				{Name: "published", Type: value.Scalar(value.KindBool), Readable: true, Writable: true, Query: schema.Queryable},
			},
			Indexes: []schema.ModelIndex{
				{Name: "primary", Type: schema.IndexPrimary, Items: []schema.IndexItem{{FieldName: "id"}}},
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return cat
}

func seeded(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.Seed("users", []Doc{
		{"id": "000000000000000000000001", "name": "Ada"},
		{"id": "000000000000000000000002", "name": "Grace"},
	})
	s.Seed("posts", []Doc{
		{"id": "000000000000000000000011", "authorId": "000000000000000000000001", "title": "First", "published": true},
		{"id": "000000000000000000000012", "authorId": "000000000000000000000001", "title": "Second", "published": false},
		{"id": "000000000000000000000013", "authorId": "000000000000000000000002", "title": "Third", "published": true},
	})
	return s
}

func TestEndToEnd_FilterAndSort(t *testing.T) {
	cat := userPostCatalog(t)
	res, err := planner.Plan(cat, "Post", planner.Many, planner.Options{
		Where:   json.RawMessage(`{"published": true}`),
		OrderBy: json.RawMessage(`[{"title":"asc"}]`),
	})
	if err != nil {
		t.Fatal(err)
	}
	rows, rerr := seeded(t).Run("posts", res.Stages)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if len(rows) != 2 || rows[0]["title"] != "First" || rows[1]["title"] != "Third" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestEndToEnd_DirectIncludeAttachesRelatedArray(t *testing.T) {
	cat := userPostCatalog(t)
	res, err := planner.Plan(cat, "User", planner.Many, planner.Options{
		Where:   json.RawMessage(`{"name": "Ada"}`),
		Include: json.RawMessage(`{"posts": {"where": {"published": true}}}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	rows, rerr := seeded(t).Run("users", res.Stages)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly Ada, got %+v", rows)
	}
	posts, ok := rows[0]["posts"].([]any)
	if !ok || len(posts) != 1 {
		t.Fatalf("expected exactly one published post attached, got %+v", rows[0]["posts"])
	}
	p := posts[0].(Doc)
	if p["title"] != "First" {
		t.Fatalf("unexpected included post: %+v", p)
	}
}

func TestEndToEnd_RelationPredicateNone(t *testing.T) {
	cat := userPostCatalog(t)
	res, err := planner.Plan(cat, "User", planner.Many, planner.Options{
		Where: json.RawMessage(`{"posts": {"none": {"published": false}}}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	rows, rerr := seeded(t).Run("users", res.Stages)
	if rerr != nil {
		t.Fatal(rerr)
	}
	// Ada has an unpublished post (p2), so only Grace should survive "none unpublished".
	if len(rows) != 1 || rows[0]["name"] != "Grace" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func postTagCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	cat, err := schema.NewCatalog([]schema.ModelBuilder{
		{
			Name: "Post", TableName: "posts",
			Fields: []schema.Field{
				{Name: "id", Type: value.Scalar(value.KindObjectID), Readable: true, Primary: true, Query: schema.Queryable},
				{Name: "title", Type: value.Scalar(value.KindString), Readable: true, Writable: true, Query: schema.Queryable},
			},
			Relations: []schema.Relation{
				{Name: "tags", Model: "Tag", Through: "PostTag"},
			},
			Indexes: []schema.ModelIndex{
				{Name: "primary", Type: schema.IndexPrimary, Items: []schema.IndexItem{{FieldName: "id"}}},
			},
		},
		{
			Name: "Tag", TableName: "tags",
			Fields: []schema.Field{
				{Name: "id", Type: value.Scalar(value.KindObjectID), Readable: true, Primary: true, Query: schema.Queryable},
				{Name: "label", Type: value.Scalar(value.KindString), Readable: true, Writable: true, Query: schema.Queryable},
			},
			Indexes: []schema.ModelIndex{
				{Name: "primary", Type: schema.IndexPrimary, Items: []schema.IndexItem{{FieldName: "id"}}},
			},
		},
		{
			Name: "PostTag", TableName: "post_tags",
			Fields: []schema.Field{
				{Name: "id", Type: value.Scalar(value.KindObjectID), Readable: true, Primary: true, Query: schema.Queryable},
				{Name: "postId", Type: value.Scalar(value.KindObjectID), Readable: true, Writable: true, Query: schema.Queryable},
				{Name: "tagId", Type: value.Scalar(value.KindObjectID), Readable: true, Writable: true, Query: schema.Queryable},
			},
			Relations: []schema.Relation{
				{Name: "post", Model: "Post", Fields: []string{"postId"}, References: []string{"id"}},
				{Name: "tag", Model: "Tag", Fields: []string{"tagId"}, References: []string{"id"}},
			},
			Indexes: []schema.ModelIndex{
				{Name: "primary", Type: schema.IndexPrimary, Items: []schema.IndexItem{{FieldName: "id"}}},
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return cat
}

func TestEndToEnd_ThroughIncludeFlattensJoinTable(t *testing.T) {
	cat := postTagCatalog(t)
	s := NewStore()
	s.Seed("posts", []Doc{
		{"id": "000000000000000000000011", "title": "First"},
		{"id": "000000000000000000000012", "title": "Second"},
	})
	s.Seed("tags", []Doc{
		{"id": "000000000000000000000021", "label": "go"},
		{"id": "000000000000000000000022", "label": "databases"},
	})
	s.Seed("post_tags", []Doc{
		{"id": "000000000000000000000031", "postId": "000000000000000000000011", "tagId": "000000000000000000000021"},
		{"id": "000000000000000000000032", "postId": "000000000000000000000011", "tagId": "000000000000000000000022"},
		{"id": "000000000000000000000033", "postId": "000000000000000000000012", "tagId": "000000000000000000000022"},
	})

	res, err := planner.Plan(cat, "Post", planner.Many, planner.Options{
		Where:   json.RawMessage(`{"id": "000000000000000000000011"}`),
		Include: json.RawMessage(`{"tags": {"orderBy": [{"label": "asc"}]}}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	rows, rerr := s.Run("posts", res.Stages)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly p1, got %+v", rows)
	}
	tags, ok := rows[0]["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("expected p1's two tags flattened, got %+v", rows[0]["tags"])
	}
	first := tags[0].(Doc)
	second := tags[1].(Doc)
	if first["label"] != "databases" || second["label"] != "go" {
		t.Fatalf("expected tags sorted by label, got %+v then %+v", first, second)
	}
	if _, hasJoinCols := first["postId"]; hasJoinCols {
		t.Fatalf("expected the flattened tag, not the join row, got %+v", first)
	}
}

func TestEndToEnd_NegativeTakeOnIncludeRestoresDeclaredOrder(t *testing.T) {
	cat := userPostCatalog(t)
	res, err := planner.Plan(cat, "User", planner.Many, planner.Options{
		Where:   json.RawMessage(`{"name": "Ada"}`),
		Include: json.RawMessage(`{"posts": {"orderBy": [{"title": "asc"}], "take": -2}}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	rows, rerr := seeded(t).Run("users", res.Stages)
	if rerr != nil {
		t.Fatal(rerr)
	}
	posts, ok := rows[0]["posts"].([]any)
	if !ok || len(posts) != 2 {
		t.Fatalf("expected both of Ada's posts, got %+v", rows[0]["posts"])
	}
	// Ada's posts in ascending title order are First, Second; the last two of
	// those (both of them) reverse-paginated and then restored should come
	// back in that same ascending order, not reversed.
	if posts[0].(Doc)["title"] != "First" || posts[1].(Doc)["title"] != "Second" {
		t.Fatalf("expected declared (ascending) order restored after negative take, got %+v", posts)
	}
}

func TestEndToEnd_NegativeTakeReversePaginates(t *testing.T) {
	cat := userPostCatalog(t)
	take := int64(-1)
	res, err := planner.Plan(cat, "Post", planner.Many, planner.Options{
		OrderBy: json.RawMessage(`[{"title":"asc"}]`),
		Take:    &take,
	})
	if err != nil {
		t.Fatal(err)
	}
	rows, rerr := seeded(t).Run("posts", res.Stages)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if len(rows) != 1 || rows[0]["title"] != "Third" {
		t.Fatalf("expected the last post in ascending title order (Third), got %+v", rows)
	}
}
