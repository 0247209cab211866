package stage

import "testing"

func TestSortArgs_MarshalJSONPreservesDeclarationOrder(t *testing.T) {
	args := SortArgs{
		{Column: "lastName", Dir: 1},
		{Column: "firstName", Dir: -1},
		{Column: "age", Dir: 1},
	}
	got, err := args.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	// A map-based marshal would alphabetize these to age, firstName,
	// lastName, silently reordering a multi-column sort's precedence.
	want := `{"lastName":1,"firstName":-1,"age":1}`
	if string(got) != want {
		t.Fatalf("expected declaration order preserved, got %s want %s", got, want)
	}
}

func TestSortArgs_MarshalJSONEmpty(t *testing.T) {
	got, err := SortArgs{}.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "{}" {
		t.Fatalf("expected an empty object, got %s", got)
	}
}

func TestStage_MarshalJSONSingleKeyObject(t *testing.T) {
	s := Stage{Op: Match, Args: MatchArgs{"published": true}}
	got, err := s.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"$match":{"published":true}}` {
		t.Fatalf("unexpected stage encoding: %s", got)
	}
}
