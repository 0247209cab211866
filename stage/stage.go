// Package stage defines the ordered pipeline-stage protocol the planner
// emits (spec §6): a sequence of single-key objects naming an aggregation
// operation, with key names and structure mirroring a document-store
// aggregation dialect so the executor is a thin transport.
package stage

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Name is one of the fixed stage operation names spec §6 enumerates.
type Name string

const (
	Match       Name = "$match"
	Sort        Name = "$sort"
	Skip        Name = "$skip"
	Limit       Name = "$limit"
	Project     Name = "$project"
	Lookup      Name = "$lookup"
	Unwind      Name = "$unwind"
	ReplaceRoot Name = "$replaceRoot"
	Set         Name = "$set"
	Unset       Name = "$unset"
)

// Stage is a single pipeline element: one single-key object whose key names
// the operation (spec §6, §8's scenario sketches).
type Stage struct {
	Op   Name
	Args any
}

// MarshalJSON renders Stage as the single-key object the protocol promises,
// e.g. {"$match": {...}}.
func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{string(s.Op): s.Args})
}

// LookupArgs is the $lookup stage payload (spec §4.E): a named join whose
// `let` binds local values for use inside a correlated sub-pipeline.
type LookupArgs struct {
	From     string         `json:"from"`
	As       string         `json:"as"`
	Let      map[string]any `json:"let,omitempty"`
	Pipeline []Stage        `json:"pipeline"`
}

// MatchArgs is the $match stage payload: a map of column name (or logical
// operator) to its compiled predicate expression.
type MatchArgs map[string]any

// SortArgs is the $sort stage payload: ordered column -> 1 (asc) / -1 (desc).
// A slice of SortEntry values preserves declared order, matching orderBy's
// ordered-sequence-of-single-key-objects input shape (spec §4.D).
type SortArgs []SortEntry

type SortEntry struct {
	Column string
	Dir    int // 1 or -1
}

// MarshalJSON renders SortArgs as a JSON object with keys in declaration
// order. A plain map[string]int would alphabetize keys on marshal,
// silently reordering a multi-column sort's precedence — so this builds the
// object by hand instead.
func (s SortArgs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Column)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(e.Dir))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ProjectArgs is the $project stage payload: column -> 1 (include) / 0 (exclude).
type ProjectArgs map[string]int

// UnwindArgs is the $unwind stage payload.
type UnwindArgs struct {
	Path                       string `json:"path"`
	PreserveNullAndEmptyArrays bool   `json:"preserveNullAndEmptyArrays,omitempty"`
}

// ReplaceRootArgs is the $replaceRoot stage payload.
type ReplaceRootArgs struct {
	NewRoot string `json:"newRoot"`
}

// SetArgs/UnsetArgs are the $set/$unset stage payloads. $unset accepts
// either a bare string or a string array; we always emit a string array for
// determinism (spec §8 invariant 1).
type SetArgs map[string]any

type UnsetArgs []string
