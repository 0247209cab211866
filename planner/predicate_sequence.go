package planner

import (
	"encoding/json"

	"github.com/latticeq/queryengine/queryerr"
	"github.com/latticeq/queryengine/schema"
)

// compileSequencePredicate compiles the array-valued operator set: equals
// (structural), has, hasEvery, hasSome, isEmpty, length (spec §4.D).
func compileSequencePredicate(c *ctx, f *schema.Field, raw json.RawMessage, path []string) (any, *queryerr.Error) {
	elemField := &schema.Field{Name: f.Name, Type: *f.Type.Elem, Optionality: schema.Required}

	if isBareLiteral(raw) {
		arr, err := decodeLiteralArray(elemField, raw, path)
		if err != nil {
			return nil, err
		}
		return arr, nil
	}

	var ops map[string]json.RawMessage
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, queryerr.New(queryerr.UnexpectedInputType, path, "expected operator object")
	}
	out := map[string]any{}
	for op, sub := range ops {
		p := append(path, op)
		switch op {
		case "equals":
			arr, err := decodeLiteralArray(elemField, sub, p)
			if err != nil {
				return nil, err
			}
			if len(ops) == 1 {
				return arr, nil
			}
			out["$eq"] = arr
		case "hasEvery":
			arr, err := decodeLiteralArray(elemField, sub, p)
			if err != nil {
				return nil, err
			}
			out["$all"] = arr
		case "hasSome":
			arr, err := decodeLiteralArray(elemField, sub, p)
			if err != nil {
				return nil, err
			}
			out["$in"] = arr
		case "has":
			// A bare scalar under has compiles to plain equality (Mongo's
			// implicit array-membership semantics); a nested predicate object
			// ({"gt": 5}) needs an element-match since plain equality can't
			// express it (spec §4.D).
			if isBareLiteral(sub) {
				v, err := decodeLiteral(elemField, sub, p)
				if err != nil {
					return nil, err
				}
				n, nerr := nativeOf(v, p)
				if nerr != nil {
					return nil, nerr
				}
				if len(ops) == 1 {
					return n, nil
				}
				out["$elemMatch"] = map[string]any{"$eq": n}
			} else {
				expr, err := compileFieldPredicate(c, elemField, sub, p)
				if err != nil {
					return nil, err
				}
				out["$elemMatch"] = expr
			}
		case "isEmpty":
			var empty bool
			if err := json.Unmarshal(sub, &empty); err != nil {
				return nil, queryerr.New(queryerr.UnexpectedInputType, p, "isEmpty expects a bool")
			}
			if empty {
				out["$size"] = 0
			} else {
				out["$size"] = map[string]any{"$ne": 0}
			}
		case "length":
			n, err := decodeSequenceLength(sub, p)
			if err != nil {
				return nil, err
			}
			out["$size"] = n
		default:
			return nil, queryerr.New(queryerr.UnexpectedInputKey, p, "unrecognized sequence operator %q", op)
		}
	}
	return out, nil
}

// decodeSequenceLength accepts either a bare integer (exact length) or a
// single-key comparison object ({"gt": 3}) against the length.
func decodeSequenceLength(raw json.RawMessage, path []string) (any, *queryerr.Error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var ops map[string]json.RawMessage
	if err := json.Unmarshal(raw, &ops); err != nil || len(ops) != 1 {
		return nil, queryerr.New(queryerr.UnexpectedInputType, path, "length expects an integer or a single comparison operator")
	}
	for op, sub := range ops {
		key, err := mongoBaseOp(op, append(path, op))
		if err != nil {
			return nil, err
		}
		var v int64
		if jerr := json.Unmarshal(sub, &v); jerr != nil {
			return nil, queryerr.New(queryerr.UnexpectedInputType, append(path, op), "expected integer")
		}
		return map[string]any{key: v}, nil
	}
	return nil, queryerr.Internal("unreachable")
}
