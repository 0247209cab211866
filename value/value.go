// Package value implements the tagged scalar/container domain that flows
// between the input decoder, the where/orderBy/select compiler, and the
// backend adapters. Values carry only their tag and payload; they never
// reference the schema that produced them.
package value

import "fmt"

// Kind tags the variant of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindObjectID
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindInt128
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindUint128
	KindFloat32
	KindFloat64
	KindDecimal
	KindString
	KindDate
	KindDateTime
	KindSequence
	KindMap
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindObjectID:
		return "objectId"
	case KindBool:
		return "bool"
	case KindInt8, KindInt16, KindInt32, KindInt64, KindInt128:
		return "int"
	case KindUint8, KindUint16, KindUint32, KindUint64, KindUint128:
		return "uint"
	case KindFloat32, KindFloat64:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	case KindDateTime:
		return "dateTime"
	case KindSequence:
		return "sequence"
	case KindMap:
		return "map"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is the tagged union described in spec §3. Only the field matching
// Kind is meaningful; the rest are zero.
type Value struct {
	Kind Kind

	Bool     bool
	Int      int64  // int8..int64 and int128 (no overflow support beyond 64 bits)
	Uint     uint64 // uint8..uint64 and uint128
	Float    float64
	Str      string // string, objectId, decimal (string-preserved), date ("YYYY-MM-DD")
	DateTime DateTime

	Seq []Value
	Map map[string]Value
	Obj any // opaque object handle; never reaches Native
}

// DateTime is a UTC instant. Date values do not use it: they keep their
// "YYYY-MM-DD" string in Str, and Native converts that to 00:00:00 UTC of the
// stated day (spec §4.A).
type DateTime struct {
	UnixNano int64
}

// Null returns the null Value.
func Null() Value { return Value{Kind: KindNull} }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func Int(kind Kind, n int64) Value { return Value{Kind: kind, Int: n} }

func Uint(kind Kind, n uint64) Value { return Value{Kind: kind, Uint: n} }

func Float(kind Kind, f float64) Value { return Value{Kind: kind, Float: f} }

// Decimal is string-preserved to retain exact precision (spec §4.C).
func Decimal(s string) Value { return Value{Kind: KindDecimal, Str: s} }

func String(s string) Value { return Value{Kind: KindString, Str: s} }

func ObjectID(s string) Value { return Value{Kind: KindObjectID, Str: s} }

// Date stores the calendar day as "YYYY-MM-DD"; DateTimeValue below carries
// the serialized instant.
func Date(s string) Value { return Value{Kind: KindDate, Str: s} }

func DateTimeValue(unixNano int64) Value {
	return Value{Kind: KindDateTime, DateTime: DateTime{UnixNano: unixNano}}
}

func Sequence(vs []Value) Value { return Value{Kind: KindSequence, Seq: vs} }

func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

func Object(v any) Value { return Value{Kind: KindObject, Obj: v} }

// IsNumeric reports whether the Value's Kind is one of the numeric families
// (signed int, unsigned int, float, decimal) — used by the decoder to gate
// the increment/decrement/multiply/divide atomic-update operators.
func (k Kind) IsNumeric() bool {
	switch k {
	case KindInt8, KindInt16, KindInt32, KindInt64, KindInt128,
		KindUint8, KindUint16, KindUint32, KindUint64, KindUint128,
		KindFloat32, KindFloat64, KindDecimal:
		return true
	default:
		return false
	}
}

// Equal performs structural equality (the planner's sequence `equals`
// operator compiles to a literal array instead; Equal is used by tests). It
// does not define an ordering.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt8, KindInt16, KindInt32, KindInt64, KindInt128:
		return a.Int == b.Int
	case KindUint8, KindUint16, KindUint32, KindUint64, KindUint128:
		return a.Uint == b.Uint
	case KindFloat32, KindFloat64:
		return a.Float == b.Float
	case KindDecimal, KindString, KindObjectID, KindDate:
		return a.Str == b.Str
	case KindDateTime:
		return a.DateTime.UnixNano == b.DateTime.UnixNano
	case KindSequence:
		if len(a.Seq) != len(b.Seq) {
			return false
		}
		for i := range a.Seq {
			if !Equal(a.Seq[i], b.Seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for k, av := range a.Map {
			bv, ok := b.Map[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
