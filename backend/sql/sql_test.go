package sql

import (
	"testing"

	"github.com/latticeq/queryengine/stage"
)

func matchStage(m map[string]any) stage.Stage {
	return stage.Stage{Op: stage.Match, Args: stage.MatchArgs(m)}
}

func TestTranslate_FlatMatchSortSkipLimitProject(t *testing.T) {
	// A single top-level match key keeps this deterministic: matchToSQL
	// ranges over the match map, so an expression with two-or-more keys at
	// the same level has no guaranteed field (and therefore arg) order.
	stages := []stage.Stage{
		matchStage(map[string]any{"views": map[string]any{"$gte": 10}}),
		{Op: stage.Sort, Args: stage.SortArgs{{Column: "title", Dir: 1}}},
		{Op: stage.Skip, Args: int64(5)},
		{Op: stage.Limit, Args: int64(20)},
		{Op: stage.Project, Args: stage.ProjectArgs{"id": 1, "title": 1}},
	}

	for _, d := range []Dialect{MySQL{}, SQLite{}} {
		q, err := Translate(d, "posts", stages)
		if err != nil {
			t.Fatalf("%s: %v", d.Name(), err)
		}
		wantPrefix := "SELECT t0." + dialectQuote(d, "id") + ", t0." + dialectQuote(d, "title") +
			" FROM " + dialectQuote(d, "posts") + " AS t0 WHERE "
		if len(q.SQL) < len(wantPrefix) || q.SQL[:len(wantPrefix)] != wantPrefix {
			t.Fatalf("%s: unexpected select/from/where prefix, got %q", d.Name(), q.SQL)
		}
		if want := " ORDER BY t0." + dialectQuote(d, "title") + " ASC LIMIT 20 OFFSET 5"; q.SQL[len(q.SQL)-len(want):] != want {
			t.Fatalf("%s: unexpected order/limit/offset suffix, got %q", d.Name(), q.SQL)
		}
		if len(q.Args) != 1 || q.Args[0] != 10 {
			t.Fatalf("%s: unexpected args %+v", d.Name(), q.Args)
		}
	}
}

func dialectQuote(d Dialect, name string) string { return d.QuoteIdent(name) }

func TestTranslate_EmptyMatchContributesNoWhere(t *testing.T) {
	q, err := Translate(MySQL{}, "posts", []stage.Stage{matchStage(map[string]any{})})
	if err != nil {
		t.Fatal(err)
	}
	if want := "SELECT * FROM `posts` AS t0"; q.SQL != want {
		t.Fatalf("expected no WHERE clause for an empty match, got %q", q.SQL)
	}
}

// TestTranslate_DirectLookupArgOrdering is the regression case for the
// args/placeholder ordering bug: the $lookup subquery is textually embedded
// in the SELECT list, which precedes the WHERE clause, even though the
// top-level $match is compiled first in stage order.
func TestTranslate_DirectLookupArgOrdering(t *testing.T) {
	lookup := stage.Stage{
		Op: stage.Lookup,
		Args: stage.LookupArgs{
			From: "posts",
			As:   "posts",
			Let:  map[string]any{"local_authorId": "$id"},
			Pipeline: []stage.Stage{
				matchStage(map[string]any{
					"authorId":  map[string]any{"$eq": "$$local_authorId"},
					"published": map[string]any{"$eq": true},
				}),
				{Op: stage.Sort, Args: stage.SortArgs{{Column: "title", Dir: 1}}},
				{Op: stage.Limit, Args: int64(3)},
			},
		},
	}
	stages := []stage.Stage{
		matchStage(map[string]any{"name": map[string]any{"$eq": "Ada"}}),
		lookup,
	}

	for _, d := range []Dialect{MySQL{}, SQLite{}} {
		q, err := Translate(d, "users", stages)
		if err != nil {
			t.Fatalf("%s: %v", d.Name(), err)
		}
		selectIdx := indexOf(q.SQL, "SELECT")
		wherePos := indexOf(q.SQL, " WHERE ")
		lookupFuncPos := indexOf(q.SQL, d.JSONArrayAggFunc())
		if selectIdx < 0 || wherePos < 0 || lookupFuncPos < 0 {
			t.Fatalf("%s: expected SELECT ... lookup-aggregate ... WHERE shape, got %q", d.Name(), q.SQL)
		}
		if !(lookupFuncPos < wherePos) {
			t.Fatalf("%s: expected the lookup aggregate to precede WHERE in the rendered SQL, got %q", d.Name(), q.SQL)
		}
		// The lookup's own join/where args (published=true) must precede the
		// outer match's args (name=Ada) in the args slice, because the lookup
		// subquery's "?" occurs earlier in the SQL text.
		if len(q.Args) != 2 {
			t.Fatalf("%s: expected exactly 2 bound args, got %+v", d.Name(), q.Args)
		}
		if q.Args[0] != true {
			t.Fatalf("%s: expected the lookup's own arg (published=true) first, got %+v", d.Name(), q.Args)
		}
		if q.Args[1] != "Ada" {
			t.Fatalf("%s: expected the outer match's arg (name=Ada) second, got %+v", d.Name(), q.Args)
		}
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestTranslate_UnwindAndReplaceRootAreUnsupported(t *testing.T) {
	for _, st := range []stage.Stage{
		{Op: stage.Unwind, Args: stage.UnwindArgs{Path: "$tags"}},
		{Op: stage.ReplaceRoot, Args: stage.ReplaceRootArgs{NewRoot: "$tags"}},
	} {
		_, err := Translate(MySQL{}, "posts", []stage.Stage{st})
		if err == nil {
			t.Fatalf("expected ErrUnsupported for %s", st.Op)
		}
		if _, ok := err.(*ErrUnsupported); !ok {
			t.Fatalf("expected *ErrUnsupported for %s, got %T", st.Op, err)
		}
	}
}

func TestTranslate_SetAndUnsetAreUnsupported(t *testing.T) {
	for _, st := range []stage.Stage{
		{Op: stage.Set, Args: stage.SetArgs{"posts": map[string]any{"$reverseArray": "$posts"}}},
		{Op: stage.Unset, Args: stage.UnsetArgs{"secret"}},
	} {
		if _, err := Translate(MySQL{}, "posts", []stage.Stage{st}); err == nil {
			t.Fatalf("expected ErrUnsupported for %s", st.Op)
		}
	}
}

func TestTranslate_NestedLookupIsUnsupported(t *testing.T) {
	nested := stage.Stage{
		Op: stage.Lookup,
		Args: stage.LookupArgs{
			From: "posts", As: "posts", Let: map[string]any{"local_id": "$id"},
			Pipeline: []stage.Stage{
				matchStage(map[string]any{"authorId": map[string]any{"$eq": "$$local_id"}}),
				{
					Op: stage.Lookup,
					Args: stage.LookupArgs{
						From: "comments", As: "comments", Let: map[string]any{"local_postId": "$id"},
						Pipeline: []stage.Stage{matchStage(map[string]any{"postId": map[string]any{"$eq": "$$local_postId"}})},
					},
				},
			},
		},
	}
	if _, err := Translate(MySQL{}, "users", []stage.Stage{nested}); err == nil {
		t.Fatal("expected ErrUnsupported for a second level of nested $lookup")
	}
}

func TestTranslate_ArrayPredicatesAreUnsupported(t *testing.T) {
	for op := range map[string]bool{"$size": true, "$all": true, "$elemMatch": true} {
		st := matchStage(map[string]any{"tags": map[string]any{op: 1}})
		if _, err := Translate(MySQL{}, "posts", []stage.Stage{st}); err == nil {
			t.Fatalf("expected ErrUnsupported for %s", op)
		}
	}
}

func TestTranslate_InOperatorExpandsPlaceholdersAndArgs(t *testing.T) {
	st := matchStage(map[string]any{"status": map[string]any{"$in": []any{"draft", "published"}}})
	q, err := Translate(SQLite{}, "posts", []stage.Stage{st})
	if err != nil {
		t.Fatal(err)
	}
	if want := `SELECT * FROM "posts" AS t0 WHERE t0."status" IN (?, ?)`; q.SQL != want {
		t.Fatalf("unexpected SQL: %q", q.SQL)
	}
	if len(q.Args) != 2 || q.Args[0] != "draft" || q.Args[1] != "published" {
		t.Fatalf("unexpected args: %+v", q.Args)
	}
}

func TestTranslate_EmptyInShortCircuitsFalse(t *testing.T) {
	st := matchStage(map[string]any{"status": map[string]any{"$in": []any{}}})
	q, err := Translate(MySQL{}, "posts", []stage.Stage{st})
	if err != nil {
		t.Fatal(err)
	}
	if want := "SELECT * FROM `posts` AS t0 WHERE 1=0"; q.SQL != want {
		t.Fatalf("expected an always-false fragment for an empty $in, got %q", q.SQL)
	}
}
