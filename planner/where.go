// Package planner implements the query-compilation engine of spec §4.D,
// §4.E, and §4.F as a single package: the where/orderBy/select compiler, the
// relation lookup builder, and the top-level pipeline planner are mutually
// recursive (an `include` needs a full nested plan; a relation predicate
// needs a nested where) so they are kept together rather than split across
// packages that would otherwise import each other in a cycle. Each concern
// still lives in its own file, matching design note 9's "purely a
// code-structuring choice."
package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/latticeq/queryengine/decode"
	"github.com/latticeq/queryengine/queryerr"
	"github.com/latticeq/queryengine/schema"
	"github.com/latticeq/queryengine/stage"
	"github.com/latticeq/queryengine/value"
)

// ctx accumulates side effects produced while compiling a where-tree:
// relation-prediction lookups and their matching unsets (spec §4.E). These
// are flat regardless of how deeply the relation key that produced them was
// nested under AND/OR/NOT.
type ctx struct {
	cat            catalogLike
	predictLookups []stage.Stage
	unsetNames     []string
}

// catalogLike is the subset of *schema.Catalog the planner needs; declared
// as an interface so tests can stub it, mirroring the teacher's preference
// for small capability interfaces at package boundaries.
type catalogLike interface {
	Model(name string) (*schema.Model, error)
	Enum(name string) (map[string]bool, error)
}

// compileWhere recursively compiles a JSON `where` object into a match
// expression (spec §4.D). path is the JSON key-path so far, for error
// reporting.
func compileWhere(c *ctx, m *schema.Model, raw json.RawMessage, path []string) (map[string]any, *queryerr.Error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, queryerr.New(queryerr.UnexpectedInputRootType, path, "where must be a JSON object")
	}

	out := map[string]any{}
	for key, sub := range obj {
		switch key {
		case "AND", "OR":
			var arr []json.RawMessage
			if err := json.Unmarshal(sub, &arr); err != nil {
				return nil, queryerr.New(queryerr.UnexpectedInputType, append(path, key), "%s must be an array", key)
			}
			if len(arr) == 0 {
				// Empty array compiles to empty conjunction/disjunction: no
				// stage contribution (spec §8 boundary behavior).
				continue
			}
			compiled := make([]map[string]any, 0, len(arr))
			for i, el := range arr {
				sw, err := compileWhere(c, m, el, append(path, fmt.Sprintf("%s[%d]", key, i)))
				if err != nil {
					return nil, err
				}
				if len(sw) > 0 {
					compiled = append(compiled, sw)
				}
			}
			if len(compiled) == 0 {
				continue
			}
			if key == "AND" {
				out["$and"] = compiled
			} else {
				out["$or"] = compiled
			}
		case "NOT":
			sw, err := compileWhere(c, m, sub, append(path, key))
			if err != nil {
				return nil, err
			}
			out["$nor"] = []map[string]any{sw}
		default:
			if !m.IsQueryableKey(key) {
				return nil, queryerr.New(queryerr.KeysUnallowed, append(path, key), "%q is not a queryable key on %s", key, m.Name)
			}
			if f, ok := m.Field(key); ok {
				expr, err := compileFieldPredicate(c, f, sub, append(path, key))
				if err != nil {
					return nil, err
				}
				out[f.ColumnName] = expr
				continue
			}
			rel, _ := m.Relation(key)
			fieldKey, expr, err := compileRelationPredicate(c, m, rel, sub, append(path, key))
			if err != nil {
				return nil, err
			}
			out[fieldKey] = expr
		}
	}
	return out, nil
}

// compileFieldPredicate dispatches to the per-family predicate compiler
// (spec §4.D, design note 9: a single dispatch table keyed on FieldType).
func compileFieldPredicate(c *ctx, f *schema.Field, raw json.RawMessage, path []string) (any, *queryerr.Error) {
	fam := value.ClassifyScalar(f.Type)
	compiler, ok := predicateDispatch[fam]
	if !ok {
		return nil, queryerr.Internal("no predicate compiler registered for family of field %q", f.Name)
	}
	return compiler(c, f, raw, path)
}

// predicateDispatch is the single dispatch table named in design note 9.
var predicateDispatch = map[value.Family]func(*ctx, *schema.Field, json.RawMessage, []string) (any, *queryerr.Error){
	value.FamilyIDNumberDateString: compileBasePredicate,
	value.FamilyBool:               compileBoolPredicate,
	value.FamilyEnumFamily:         compileEnumPredicate,
	value.FamilyStringExtra:        compileStringPredicate,
	value.FamilySequence:           compileSequencePredicate,
}

func isBareLiteral(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	return json.Unmarshal(raw, &m) != nil
}

// decodeLiteral decodes a plain (non-operator-shaped) JSON value against a
// field's type, reusing the input decoder (spec §4.C) since a where-clause
// literal obeys the same scalar grammar as a write value. Null handling
// follows the field's declared Optionality, same as on write.
func decodeLiteral(f *schema.Field, raw json.RawMessage, path []string) (value.Value, *queryerr.Error) {
	in, derr := decode.Field(f, raw, path)
	if derr != nil {
		return value.Value{}, derr
	}
	if in.IsAtomic {
		return value.Value{}, queryerr.New(queryerr.UnexpectedInputKey, path, "atomic update operators are not valid in a where clause")
	}
	return in.Set, nil
}

func nativeOf(v value.Value, path []string) (any, *queryerr.Error) {
	n, err := value.Native(v)
	if err != nil {
		if errors.Is(err, value.ErrInvalidObjectID) {
			return nil, queryerr.New(queryerr.UnexpectedInputValue, path, "%v", err)
		}
		return nil, queryerr.Internal("%v", err)
	}
	return n, nil
}

// compileBasePredicate handles id/number/date/date-time/string's shared base
// operator set: equals, not, gt, gte, lt, lte, in, notIn.
func compileBasePredicate(c *ctx, f *schema.Field, raw json.RawMessage, path []string) (any, *queryerr.Error) {
	if isBareLiteral(raw) {
		v, err := decodeLiteral(f, raw, path)
		if err != nil {
			return nil, err
		}
		n, nerr := nativeOf(v, path)
		if nerr != nil {
			return nil, nerr
		}
		return n, nil
	}
	var ops map[string]json.RawMessage
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, queryerr.New(queryerr.UnexpectedInputType, path, "expected operator object")
	}
	out := map[string]any{}
	for op, sub := range ops {
		key, err := mongoBaseOp(op, append(path, op))
		if err != nil {
			return nil, err
		}
		if op == "in" || op == "notIn" {
			arr, aerr := decodeLiteralArray(f, sub, append(path, op))
			if aerr != nil {
				return nil, aerr
			}
			out[key] = arr
			continue
		}
		v, derr := decodeLiteral(f, sub, append(path, op))
		if derr != nil {
			return nil, derr
		}
		n, nerr := nativeOf(v, append(path, op))
		if nerr != nil {
			return nil, nerr
		}
		if op == "equals" {
			// Implicit-equals parity: a bare $eq is redundant under Mongo
			// semantics, so fold it down to a plain value like the literal
			// form (spec §4.D: "bare literal (implicit equals)").
			if len(ops) == 1 {
				return n, nil
			}
		}
		out[key] = n
	}
	return out, nil
}

func mongoBaseOp(op string, path []string) (string, *queryerr.Error) {
	switch op {
	case "equals":
		return "$eq", nil
	case "not":
		return "$ne", nil
	case "gt":
		return "$gt", nil
	case "gte":
		return "$gte", nil
	case "lt":
		return "$lt", nil
	case "lte":
		return "$lte", nil
	case "in":
		return "$in", nil
	case "notIn":
		return "$nin", nil
	default:
		return "", queryerr.New(queryerr.UnexpectedInputKey, path, "unrecognized operator %q", op)
	}
}

func compileBoolPredicate(c *ctx, f *schema.Field, raw json.RawMessage, path []string) (any, *queryerr.Error) {
	if isBareLiteral(raw) {
		v, err := decodeLiteral(f, raw, path)
		if err != nil {
			return nil, err
		}
		return v.Bool, nil
	}
	var ops map[string]json.RawMessage
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, queryerr.New(queryerr.UnexpectedInputType, path, "expected operator object")
	}
	out := map[string]any{}
	for op, sub := range ops {
		switch op {
		case "equals":
			v, err := decodeLiteral(f, sub, append(path, op))
			if err != nil {
				return nil, err
			}
			if len(ops) == 1 {
				return v.Bool, nil
			}
			out["$eq"] = v.Bool
		case "not":
			v, err := decodeLiteral(f, sub, append(path, op))
			if err != nil {
				return nil, err
			}
			out["$ne"] = v.Bool
		default:
			return nil, queryerr.New(queryerr.UnexpectedInputKey, append(path, op), "unrecognized bool operator %q", op)
		}
	}
	return out, nil
}

func compileEnumPredicate(c *ctx, f *schema.Field, raw json.RawMessage, path []string) (any, *queryerr.Error) {
	allowed, aerr := c.cat.Enum(f.Type.Enum)
	if aerr != nil {
		return nil, queryerr.New(queryerr.UndefinedEnumValue, path, "unknown enum %q", f.Type.Enum)
	}
	checkMember := func(s string, p []string) *queryerr.Error {
		if !allowed[s] {
			return queryerr.New(queryerr.UndefinedEnumValue, p, "%q is not a member of enum %s", s, f.Type.Enum)
		}
		return nil
	}
	if isBareLiteral(raw) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, queryerr.New(queryerr.UnexpectedInputType, path, "expected enum string")
		}
		if err := checkMember(s, path); err != nil {
			return nil, err
		}
		return s, nil
	}
	var ops map[string]json.RawMessage
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, queryerr.New(queryerr.UnexpectedInputType, path, "expected operator object")
	}
	out := map[string]any{}
	for op, sub := range ops {
		p := append(path, op)
		switch op {
		case "equals", "not":
			var s string
			if err := json.Unmarshal(sub, &s); err != nil {
				return nil, queryerr.New(queryerr.UnexpectedInputType, p, "expected enum string")
			}
			if err := checkMember(s, p); err != nil {
				return nil, err
			}
			if op == "equals" {
				if len(ops) == 1 {
					return s, nil
				}
				out["$eq"] = s
			} else {
				out["$ne"] = s
			}
		case "in", "notIn":
			var arr []string
			if err := json.Unmarshal(sub, &arr); err != nil {
				return nil, queryerr.New(queryerr.UnexpectedInputType, p, "expected array of enum strings")
			}
			// Each element individually checked (spec §9 open question: the
			// source re-reads the outer value; this corrects that bug).
			for i, s := range arr {
				if err := checkMember(s, append(p, fmt.Sprintf("[%d]", i))); err != nil {
					return nil, err
				}
			}
			if op == "in" {
				out["$in"] = arr
			} else {
				out["$nin"] = arr
			}
		default:
			return nil, queryerr.New(queryerr.UnexpectedInputKey, p, "unrecognized enum operator %q", op)
		}
	}
	return out, nil
}

func compileStringPredicate(c *ctx, f *schema.Field, raw json.RawMessage, path []string) (any, *queryerr.Error) {
	if isBareLiteral(raw) {
		return compileBasePredicate(c, f, raw, path)
	}
	var ops map[string]json.RawMessage
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, queryerr.New(queryerr.UnexpectedInputType, path, "expected operator object")
	}
	caseInsensitive := false
	if rawMode, ok := ops["mode"]; ok {
		var mode string
		if err := json.Unmarshal(rawMode, &mode); err != nil {
			return nil, queryerr.New(queryerr.UnexpectedInputType, append(path, "mode"), "mode must be a string")
		}
		if mode != "caseInsensitive" {
			return nil, queryerr.New(queryerr.UnexpectedInputValue, append(path, "mode"), "unrecognized mode %q", mode)
		}
		caseInsensitive = true
		delete(ops, "mode")
	}
	if len(ops) == 0 {
		return nil, queryerr.New(queryerr.UnexpectedObjectLength, path, "operator object must name at least one operator besides mode")
	}
	out := map[string]any{}
	for op, sub := range ops {
		p := append(path, op)
		switch op {
		case "contains", "startsWith", "endsWith":
			var s string
			if err := json.Unmarshal(sub, &s); err != nil {
				return nil, queryerr.New(queryerr.UnexpectedInputType, p, "expected string")
			}
			escaped := regexp.QuoteMeta(s)
			pattern := escaped
			if op == "startsWith" {
				pattern = "^" + escaped
			} else if op == "endsWith" {
				pattern = escaped + "$"
			}
			out["$regex"] = regexArgs(pattern, caseInsensitive)
		case "matches":
			var s string
			if err := json.Unmarshal(sub, &s); err != nil {
				return nil, queryerr.New(queryerr.UnexpectedInputType, p, "expected string")
			}
			// matches is intentionally unescaped (spec §9).
			out["$regex"] = regexArgs(s, caseInsensitive)
		default:
			if base, err := mongoBaseOp(op, p); err == nil {
				if op == "in" || op == "notIn" {
					arr, aerr := decodeLiteralArray(f, sub, p)
					if aerr != nil {
						return nil, aerr
					}
					out[base] = arr
					continue
				}
				v, derr := decodeLiteral(f, sub, p)
				if derr != nil {
					return nil, derr
				}
				out[base] = v.Str
				continue
			}
			return nil, queryerr.New(queryerr.UnexpectedInputKey, p, "unrecognized string operator %q", op)
		}
	}
	return out, nil
}

func regexArgs(pattern string, caseInsensitive bool) map[string]any {
	opts := ""
	if caseInsensitive {
		opts = "i"
	}
	return map[string]any{"pattern": pattern, "options": opts}
}

func decodeLiteralArray(f *schema.Field, raw json.RawMessage, path []string) ([]any, *queryerr.Error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, queryerr.New(queryerr.UnexpectedInputType, path, "expected array")
	}
	out := make([]any, len(arr))
	for i, el := range arr {
		elPath := append(path, fmt.Sprintf("[%d]", i))
		v, derr := decodeLiteral(f, el, elPath)
		if derr != nil {
			return nil, derr
		}
		n, nerr := nativeOf(v, elPath)
		if nerr != nil {
			return nil, nerr
		}
		out[i] = n
	}
	return out, nil
}
