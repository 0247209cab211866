// Package queryerr implements the error taxonomy of spec §7: a closed set of
// typed errors, each carrying the JSON key-path at which it occurred, with no
// panic ever crossing the package boundary uncaught.
package queryerr

import (
	"fmt"
	"strings"
)

// Type is one of the taxonomy members in spec §7.
type Type string

const (
	IncorrectJSONFormat     Type = "IncorrectJSONFormat"
	UnexpectedInputRootType Type = "UnexpectedInputRootType"
	UnexpectedInputType     Type = "UnexpectedInputType"
	UnexpectedInputKey      Type = "UnexpectedInputKey"
	UnexpectedInputValue    Type = "UnexpectedInputValue"
	MissingRequiredInput    Type = "MissingRequiredInput"
	UnexpectedObjectLength  Type = "UnexpectedObjectLength"
	UnexpectedNull          Type = "UnexpectedNull"

	InvalidQueryInput Type = "InvalidQueryInput"
	FieldIsNotUnique  Type = "FieldIsNotUnique"

	UndefinedEnumValue  Type = "UndefinedEnumValue"
	WrongDateFormat     Type = "WrongDateFormat"
	WrongDateTimeFormat Type = "WrongDateTimeFormat"

	KeysUnallowed Type = "KeysUnallowed"

	ModelNotFound Type = "ModelNotFound"
	InvalidKey    Type = "InvalidKey"

	InternalServerError Type = "InternalServerError"
)

// is5xx reports whether a Type maps to the 500-class per spec §7.
func (t Type) is5xx() bool {
	switch t {
	case ModelNotFound, InvalidKey, InternalServerError:
		return true
	default:
		return false
	}
}

// StatusClass returns "5xx" or "4xx" — the outer HTTP layer (out of scope)
// maps these onto concrete status codes.
func (t Type) StatusClass() string {
	if t.is5xx() {
		return "5xx"
	}
	return "4xx"
}

// Error is the concrete carrier for every error the core returns.
type Error struct {
	Type    Type
	Message string
	// Path is the JSON key-path at which the error occurred, outermost
	// first, e.g. []string{"where", "AND[2]", "age"}.
	Path []string
	// Errors holds batch-reported violations (schema construction only);
	// nil for short-circuiting runtime compilation errors.
	Errors map[string]string
}

func (e *Error) Error() string {
	if len(e.Path) == 0 {
		return string(e.Type) + ": " + e.Message
	}
	return string(e.Type) + " at " + strings.Join(e.Path, ".") + ": " + e.Message
}

// Is lets callers match a sentinel built from just a Type via errors.Is,
// e.g. errors.Is(err, &queryerr.Error{Type: queryerr.ModelNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// PathString renders Path the way the error payload in spec §6 expects.
func (e *Error) PathString() string { return strings.Join(e.Path, ".") }

// New builds an Error of the given type at the given path.
func New(t Type, path []string, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Path: append([]string(nil), path...)}
}

// WithPrefix returns a copy of e with key prepended to its Path — used as
// compilation unwinds back up a recursive call (e.g. out of a nested `where`
// or `AND[i]` branch) so the reported path reflects the full descent.
func (e *Error) WithPrefix(key string) *Error {
	cp := *e
	cp.Path = append([]string{key}, e.Path...)
	return &cp
}

// Internal wraps an unexpected condition (including a recovered panic) as
// InternalServerError. Per spec §7, panics are never part of the contract;
// planner.Plan is the single place the planner recovers one, and it reports
// it through Internal.
func Internal(format string, args ...any) *Error {
	return &Error{Type: InternalServerError, Message: fmt.Sprintf(format, args...)}
}
