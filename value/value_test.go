package value

import (
	"errors"
	"testing"
)

func TestEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null-null", Null(), Null(), true},
		{"int-eq", Int(KindInt32, 5), Int(KindInt32, 5), true},
		{"int-neq", Int(KindInt32, 5), Int(KindInt32, 6), false},
		{"kind-mismatch", Int(KindInt32, 5), Float(KindFloat64, 5), false},
		{"seq-eq", Sequence([]Value{String("a"), String("b")}), Sequence([]Value{String("a"), String("b")}), true},
		{"seq-len-mismatch", Sequence([]Value{String("a")}), Sequence([]Value{String("a"), String("b")}), false},
		{"map-eq", Map(map[string]Value{"k": Bool(true)}), Map(map[string]Value{"k": Bool(true)}), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Equal(c.a, c.b); got != c.want {
				t.Fatalf("Equal(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestNativeWidening(t *testing.T) {
	n, err := Native(Int(KindInt16, 7))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := n.(int32); !ok {
		t.Fatalf("expected int16 to widen to int32, got %T", n)
	}

	n, err = Native(Int(KindInt64, 7))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := n.(int64); !ok {
		t.Fatalf("expected int64 to stay int64, got %T", n)
	}
}

func TestNativeObjectInvariant(t *testing.T) {
	_, err := Native(Object(struct{}{}))
	if err == nil {
		t.Fatal("expected error encoding a composite Object value")
	}
}

func TestNativeObjectIDValidation(t *testing.T) {
	n, err := Native(ObjectID("507f1f77bcf86cd799439011"))
	if err != nil {
		t.Fatalf("expected a well-formed 24-char hex ObjectID to encode cleanly: %v", err)
	}
	if n != "507f1f77bcf86cd799439011" {
		t.Fatalf("expected the ObjectID string passed through unchanged, got %v", n)
	}

	if _, err := Native(ObjectID("not-an-id")); !errors.Is(err, ErrInvalidObjectID) {
		t.Fatalf("expected ErrInvalidObjectID for an unparseable ObjectID, got %v", err)
	}
	if _, err := Native(ObjectID("507f1f77bcf86cd79943901")); !errors.Is(err, ErrInvalidObjectID) {
		t.Fatalf("expected ErrInvalidObjectID for a short ObjectID, got %v", err)
	}
}

func TestNativeDecimalStringPreserved(t *testing.T) {
	n, err := Native(Decimal("19.990000000000001"))
	if err != nil {
		t.Fatal(err)
	}
	if n != "19.990000000000001" {
		t.Fatalf("decimal should be string-preserved, got %v", n)
	}
}
