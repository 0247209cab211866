package rethinkdb

import (
	"os"
	"testing"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"github.com/latticeq/queryengine/stage"
)

// withEnv temporarily overrides environment variables for the duration of fn.
func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	old := map[string]string{}
	for k := range kv {
		old[k] = os.Getenv(k)
	}
	for k, v := range kv {
		if v == "" {
			_ = os.Unsetenv(k)
		} else {
			_ = os.Setenv(k, v)
		}
	}
	defer func() {
		for k, v := range old {
			if v == "" {
				_ = os.Unsetenv(k)
			} else {
				_ = os.Setenv(k, v)
			}
		}
	}()
	fn()
}

func TestDiscoverAddr_ExplicitOverrideWins(t *testing.T) {
	withEnv(t, map[string]string{
		"RETHINKDB_ADDR":         "custom:1234",
		"RETHINKDB_SERVICE_HOST": "10.3.0.7",
		"RETHINKDB_SERVICE_PORT": "28015",
	}, func() {
		if got := discoverAddr(); got != "custom:1234" {
			t.Fatalf("expected explicit override, got %q", got)
		}
	})
}

func TestDiscoverAddr_ServiceEnvFallsBackWithDefaultPort(t *testing.T) {
	withEnv(t, map[string]string{
		"RETHINKDB_ADDR":         "",
		"RETHINKDB_SERVICE_HOST": "10.3.0.7",
		"RETHINKDB_SERVICE_PORT": "",
	}, func() {
		if got := discoverAddr(); got != "10.3.0.7:28015" {
			t.Fatalf("expected service host with default port, got %q", got)
		}
	})
}

func TestDiscoverAddr_LocalLoopbackDefault(t *testing.T) {
	withEnv(t, map[string]string{
		"RETHINKDB_ADDR":         "",
		"RETHINKDB_SERVICE_HOST": "",
	}, func() {
		if got := discoverAddr(); got != "127.0.0.1:28015" {
			t.Fatalf("expected local loopback default, got %q", got)
		}
	})
}

func matchStage(m map[string]any) stage.Stage {
	return stage.Stage{Op: stage.Match, Args: stage.MatchArgs(m)}
}

func TestCompilePipeline_FlatMatchSortSkipLimitProject(t *testing.T) {
	stages := []stage.Stage{
		matchStage(map[string]any{"published": map[string]any{"$eq": true}}),
		{Op: stage.Sort, Args: stage.SortArgs{{Column: "title", Dir: 1}}},
		{Op: stage.Skip, Args: int64(5)},
		{Op: stage.Limit, Args: int64(20)},
		{Op: stage.Project, Args: stage.ProjectArgs{"id": 1, "title": 1}},
	}
	if _, err := compilePipeline(r.Table("posts"), stages); err != nil {
		t.Fatalf("unexpected error compiling a flat pipeline: %v", err)
	}
}

func TestCompilePipeline_DirectLookupCompiles(t *testing.T) {
	lookup := stage.Stage{
		Op: stage.Lookup,
		Args: stage.LookupArgs{
			From: "posts", As: "posts", Let: map[string]any{"local_authorId": "$id"},
			Pipeline: []stage.Stage{
				matchStage(map[string]any{"authorId": map[string]any{"$eq": "$$local_authorId"}}),
				{Op: stage.Sort, Args: stage.SortArgs{{Column: "title", Dir: -1}}},
				{Op: stage.Limit, Args: int64(3)},
			},
		},
	}
	if _, err := compilePipeline(r.Table("users"), []stage.Stage{lookup}); err != nil {
		t.Fatalf("unexpected error compiling a direct-relation lookup: %v", err)
	}
}

func TestCompilePipeline_ThroughIncludeUnwindReplaceRoot(t *testing.T) {
	secondLookup := stage.Stage{
		Op: stage.Lookup,
		Args: stage.LookupArgs{
			From: "tags", As: "__target", Let: map[string]any{"fwd_id": "$tagId"},
			Pipeline: []stage.Stage{matchStage(map[string]any{"id": map[string]any{"$eq": "$$fwd_id"}})},
		},
	}
	throughLookup := stage.Stage{
		Op: stage.Lookup,
		Args: stage.LookupArgs{
			From: "post_tags", As: "tags", Let: map[string]any{"back_postId": "$id"},
			Pipeline: []stage.Stage{
				matchStage(map[string]any{"postId": map[string]any{"$eq": "$$back_postId"}}),
				secondLookup,
				{Op: stage.Unwind, Args: stage.UnwindArgs{Path: "$__target"}},
				{Op: stage.ReplaceRoot, Args: stage.ReplaceRootArgs{NewRoot: "$__target"}},
			},
		},
	}
	if _, err := compilePipeline(r.Table("posts"), []stage.Stage{throughLookup}); err != nil {
		t.Fatalf("unexpected error compiling a through-relation include: %v", err)
	}
}

func TestCompilePipeline_NegativeTakeReverseArraySet(t *testing.T) {
	set := reverseArraySetForTest("posts")
	if _, err := compilePipeline(r.Table("users"), []stage.Stage{set}); err != nil {
		t.Fatalf("unexpected error compiling a $set reverseArray stage: %v", err)
	}
}

func reverseArraySetForTest(field string) stage.Stage {
	return stage.Stage{Op: stage.Set, Args: stage.SetArgs{field: map[string]any{"$reverseArray": "$" + field}}}
}

func TestCompilePipeline_UnsetDropsFields(t *testing.T) {
	if _, err := compilePipeline(r.Table("users"), []stage.Stage{{Op: stage.Unset, Args: stage.UnsetArgs{"__predict_posts"}}}); err != nil {
		t.Fatalf("unexpected error compiling $unset: %v", err)
	}
}

func TestCompileMatch_ArrayPredicatesCompile(t *testing.T) {
	stages := []stage.Stage{
		matchStage(map[string]any{"tags": map[string]any{"$size": 2}}),
	}
	if _, err := compilePipeline(r.Table("posts"), stages); err != nil {
		t.Fatalf("unexpected error compiling $size: %v", err)
	}
	stages = []stage.Stage{
		matchStage(map[string]any{"tags": map[string]any{"$all": []any{"go", "databases"}}}),
	}
	if _, err := compilePipeline(r.Table("posts"), stages); err != nil {
		t.Fatalf("unexpected error compiling $all: %v", err)
	}
	stages = []stage.Stage{
		matchStage(map[string]any{"tags": map[string]any{"$elemMatch": map[string]any{"$eq": "go"}}}),
	}
	if _, err := compilePipeline(r.Table("posts"), stages); err != nil {
		t.Fatalf("unexpected error compiling $elemMatch: %v", err)
	}
}

func TestCompileMatch_LogicalOperatorsCompile(t *testing.T) {
	stages := []stage.Stage{
		matchStage(map[string]any{
			"$or": []map[string]any{
				{"published": map[string]any{"$eq": true}},
				{"views": map[string]any{"$gte": 100}},
			},
		}),
	}
	if _, err := compilePipeline(r.Table("posts"), stages); err != nil {
		t.Fatalf("unexpected error compiling $or: %v", err)
	}
}

func TestCompileMatch_RegexHonorsCaseSensitivity(t *testing.T) {
	caseSensitive := matchStage(map[string]any{"title": map[string]any{"$regex": map[string]any{"pattern": "^Go", "options": ""}}})
	if _, err := compilePipeline(r.Table("posts"), []stage.Stage{caseSensitive}); err != nil {
		t.Fatalf("unexpected error compiling case-sensitive $regex: %v", err)
	}
	caseInsensitive := matchStage(map[string]any{"title": map[string]any{"$regex": map[string]any{"pattern": "^go", "options": "i"}}})
	if _, err := compilePipeline(r.Table("posts"), []stage.Stage{caseInsensitive}); err != nil {
		t.Fatalf("unexpected error compiling case-insensitive $regex: %v", err)
	}
}

func TestCompileMatch_UnrecognizedOperatorErrors(t *testing.T) {
	stages := []stage.Stage{matchStage(map[string]any{"title": map[string]any{"$bogus": 1}})}
	if _, err := compilePipeline(r.Table("posts"), stages); err == nil {
		t.Fatal("expected an error for an unrecognized match operator")
	}
}

func TestCompilePipeline_UnrecognizedStageErrors(t *testing.T) {
	if _, err := compilePipeline(r.Table("posts"), []stage.Stage{{Op: "$bogus"}}); err == nil {
		t.Fatal("expected an error for an unrecognized stage")
	}
}
