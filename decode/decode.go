// Package decode implements the input decoder of spec §4.C: converting a
// JSON value for a given field into a typed internal value, recognizing both
// scalar forms and the update-operator object forms used by mutations.
package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/latticeq/queryengine/queryerr"
	"github.com/latticeq/queryengine/schema"
	"github.com/latticeq/queryengine/value"
)

// AtomicKind names an update operator on a numeric field.
type AtomicKind string

const (
	Increment AtomicKind = "increment"
	Decrement AtomicKind = "decrement"
	Multiply  AtomicKind = "multiply"
	Divide    AtomicKind = "divide"
)

// Input is the decoded result: either a plain SetValue or a tagged
// AtomicUpdate, opaque to the planner but visible to backend adapters
// (spec §4.C, §9 — represented as a tagged variant rather than a command
// string so adapters pattern-match instead of string-comparing).
type Input struct {
	IsAtomic bool
	Set      value.Value // valid when !IsAtomic
	Atomic   AtomicKind  // valid when IsAtomic
	Operand  value.Value // valid when IsAtomic
}

var universalOps = map[string]bool{"set": true}
var numericOps = map[string]bool{
	string(Increment): true, string(Decrement): true,
	string(Multiply): true, string(Divide): true,
}

// Field decodes raw JSON for a single field, given its key-path for error
// reporting (spec §4.C).
func Field(f *schema.Field, raw json.RawMessage, path []string) (Input, *queryerr.Error) {
	if isJSONNull(raw) {
		if f.Optionality == schema.Optional {
			return Input{Set: value.Null()}, nil
		}
		return Input{}, queryerr.New(queryerr.UnexpectedNull, path, "field %q is required and cannot be null", f.Name)
	}

	if looksLikeObject(raw) {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return Input{}, queryerr.New(queryerr.IncorrectJSONFormat, path, "malformed operator object: %v", err)
		}
		return decodeOperatorObject(f, obj, path)
	}

	v, derr := decodeScalar(f.Type, raw, path)
	if derr != nil {
		return Input{}, derr
	}
	return Input{Set: v}, nil
}

func decodeOperatorObject(f *schema.Field, obj map[string]json.RawMessage, path []string) (Input, *queryerr.Error) {
	if len(obj) != 1 {
		return Input{}, queryerr.New(queryerr.UnexpectedObjectLength, path, "expected exactly one operator key, got %d", len(obj))
	}
	var op string
	var raw json.RawMessage
	for k, v := range obj {
		op, raw = k, v
	}

	if universalOps[op] {
		if isJSONNull(raw) {
			if f.Optionality == schema.Optional {
				return Input{Set: value.Null()}, nil
			}
			return Input{}, queryerr.New(queryerr.UnexpectedNull, append(path, op), "null under set is only permitted for optional fields")
		}
		v, derr := decodeScalar(f.Type, raw, append(path, op))
		if derr != nil {
			return Input{}, derr
		}
		return Input{Set: v}, nil
	}

	if numericOps[op] {
		if f.Type.Tag != value.FieldTypeScalar || !f.Type.Scalar.IsNumeric() {
			return Input{}, queryerr.New(queryerr.UnexpectedInputKey, path, "operator %q is only valid on numeric fields", op)
		}
		v, derr := decodeScalar(f.Type, raw, append(path, op))
		if derr != nil {
			return Input{}, derr
		}
		return Input{IsAtomic: true, Atomic: AtomicKind(op), Operand: v}, nil
	}

	return Input{}, queryerr.New(queryerr.UnexpectedInputKey, append(path, op), "unrecognized update operator %q", op)
}

func decodeScalar(ft value.FieldType, raw json.RawMessage, path []string) (value.Value, *queryerr.Error) {
	switch ft.Tag {
	case value.FieldTypeScalar:
		return decodeScalarKind(ft.Scalar, raw, path)
	case value.FieldTypeEnum:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return value.Value{}, queryerr.New(queryerr.UnexpectedInputType, path, "expected string for enum %s", ft.Enum)
		}
		return value.String(s), nil // enum membership checked by caller with catalog access
	case value.FieldTypeSequence:
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return value.Value{}, queryerr.New(queryerr.UnexpectedInputType, path, "expected array")
		}
		out := make([]value.Value, len(arr))
		for i, el := range arr {
			v, derr := decodeScalar(*ft.Elem, el, append(path, fmt.Sprintf("[%d]", i)))
			if derr != nil {
				return value.Value{}, derr
			}
			out[i] = v
		}
		return value.Sequence(out), nil
	case value.FieldTypeMap:
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return value.Value{}, queryerr.New(queryerr.UnexpectedInputType, path, "expected object")
		}
		out := make(map[string]value.Value, len(m))
		for k, el := range m {
			v, derr := decodeScalar(*ft.MapValue, el, append(path, k))
			if derr != nil {
				return value.Value{}, derr
			}
			out[k] = v
		}
		return value.Map(out), nil
	case value.FieldTypeObject:
		return value.Value{}, queryerr.New(queryerr.UnexpectedInputType, path, "composite object values cannot be decoded from scalar input")
	default:
		return value.Value{}, queryerr.Internal("field has Undefined type at %v", path)
	}
}

func decodeScalarKind(k value.Kind, raw json.RawMessage, path []string) (value.Value, *queryerr.Error) {
	switch k {
	case value.KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return value.Value{}, queryerr.New(queryerr.UnexpectedInputType, path, "expected bool")
		}
		return value.Bool(b), nil
	case value.KindString, value.KindObjectID:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return value.Value{}, queryerr.New(queryerr.UnexpectedInputType, path, "expected string")
		}
		if k == value.KindObjectID {
			return value.ObjectID(s), nil
		}
		return value.String(s), nil
	case value.KindDecimal:
		// Decimal accepts string form only, never float JSON, to preserve
		// precision (spec §4.C).
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return value.Value{}, queryerr.New(queryerr.UnexpectedInputType, path, "decimal must be supplied as a JSON string")
		}
		return value.Decimal(s), nil
	case value.KindDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return value.Value{}, queryerr.New(queryerr.UnexpectedInputType, path, "expected date string")
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return value.Value{}, queryerr.New(queryerr.WrongDateFormat, path, "expected %%Y-%%m-%%d, got %q", s)
		}
		return value.Date(s), nil
	case value.KindDateTime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return value.Value{}, queryerr.New(queryerr.UnexpectedInputType, path, "expected RFC 3339 date-time string")
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return value.Value{}, queryerr.New(queryerr.WrongDateTimeFormat, path, "expected RFC 3339, got %q", s)
		}
		return value.DateTimeValue(t.UTC().UnixNano()), nil
	case value.KindFloat32, value.KindFloat64:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return value.Value{}, queryerr.New(queryerr.UnexpectedInputType, path, "expected number")
		}
		return value.Float(k, f), nil
	case value.KindInt8, value.KindInt16, value.KindInt32, value.KindInt64, value.KindInt128:
		n, derr := decodeJSONInt(raw, path)
		if derr != nil {
			return value.Value{}, derr
		}
		return value.Int(k, n), nil
	case value.KindUint8, value.KindUint16, value.KindUint32, value.KindUint64, value.KindUint128:
		n, derr := decodeJSONInt(raw, path)
		if derr != nil {
			return value.Value{}, derr
		}
		if n < 0 {
			return value.Value{}, queryerr.New(queryerr.UnexpectedInputValue, path, "expected non-negative integer, got %d", n)
		}
		return value.Uint(k, uint64(n)), nil
	default:
		return value.Value{}, queryerr.Internal("decodeScalarKind: unsupported kind %v", k)
	}
}

func decodeJSONInt(raw json.RawMessage, path []string) (int64, *queryerr.Error) {
	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil {
		return 0, queryerr.New(queryerr.UnexpectedInputType, path, "expected integer")
	}
	n, err := strconv.ParseInt(num.String(), 10, 64)
	if err != nil {
		return 0, queryerr.New(queryerr.UnexpectedInputValue, path, "integer out of range: %s", num.String())
	}
	return n, nil
}

// EnumField decodes an enum field, checking membership against allowed.
func EnumField(f *schema.Field, raw json.RawMessage, allowed map[string]bool, path []string) (Input, *queryerr.Error) {
	in, derr := Field(f, raw, path)
	if derr != nil {
		return Input{}, derr
	}
	check := func(v value.Value) *queryerr.Error {
		if v.IsNull() {
			return nil
		}
		if !allowed[v.Str] {
			return queryerr.New(queryerr.UndefinedEnumValue, path, "%q is not a member of enum %s", v.Str, f.Type.Enum)
		}
		return nil
	}
	if in.IsAtomic {
		return Input{}, queryerr.New(queryerr.UnexpectedInputKey, path, "atomic update operators are not valid on enum fields")
	}
	if err := check(in.Set); err != nil {
		return Input{}, err
	}
	return in, nil
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return string(trimmed) == "null"
}

func looksLikeObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
