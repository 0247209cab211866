package value

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidObjectID is the sentinel Native wraps when an ObjectID value's
// string form does not parse into the backend's native id type (spec §4.A:
// "ObjectId values are validated as parseable into the backend's native id
// type; failure yields UnexpectedInputValue"). Callers that need to surface
// this as a typed query error (rather than an internal one) check for it
// with errors.Is.
var ErrInvalidObjectID = errors.New("value: not a valid ObjectID")

// objectIDHexLen is the hex-encoded length of a 12-byte ObjectID, matching
// the format bson.ObjectID.parse_str validates against in the original
// ground truth (_examples/original_source/src/connectors/mongodb/
// aggregation_builder.rs).
const objectIDHexLen = 24

func validObjectID(s string) bool {
	if len(s) != objectIDHexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Native performs the tag-generic widening rules shared by every backend
// (spec §4.A: integers widen, dates normalize to UTC midnight, datetimes
// normalize to their UTC instant) and hands scalars back as plain Go values.
// The planner calls Native once per compiled literal (planner.nativeOf), so
// backend adapters receive these plain Go values in the stage arguments and
// never call Native themselves.
func Native(v Value) (any, error) {
	switch v.Kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.Bool, nil
	case KindInt8, KindInt16, KindInt32:
		return int32(v.Int), nil
	case KindInt64, KindInt128:
		return v.Int, nil
	case KindUint8, KindUint16, KindUint32:
		return uint32(v.Uint), nil
	case KindUint64, KindUint128:
		return v.Uint, nil
	case KindFloat32:
		return float32(v.Float), nil
	case KindFloat64:
		return v.Float, nil
	case KindDecimal:
		// String-preserved per spec §4.C / §9 open question: callers that
		// need decimal128 wrap this string themselves.
		return v.Str, nil
	case KindObjectID:
		if !validObjectID(v.Str) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidObjectID, v.Str)
		}
		return v.Str, nil
	case KindString:
		return v.Str, nil
	case KindDate:
		t, err := time.Parse("2006-01-02", v.Str)
		if err != nil {
			return nil, fmt.Errorf("encode date %q: %w", v.Str, err)
		}
		return t.UTC(), nil
	case KindDateTime:
		return time.Unix(0, v.DateTime.UnixNano).UTC(), nil
	case KindSequence:
		out := make([]any, len(v.Seq))
		for i, e := range v.Seq {
			n, err := Native(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case KindMap:
		out := make(map[string]any, len(v.Map))
		for k, e := range v.Map {
			n, err := Native(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case KindObject:
		return nil, fmt.Errorf("internal invariant violation: composite Object value reached value serialization")
	default:
		return nil, fmt.Errorf("internal invariant violation: unknown value kind %v", v.Kind)
	}
}
