package planner

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/latticeq/queryengine/queryerr"
	"github.com/latticeq/queryengine/schema"
	"github.com/latticeq/queryengine/stage"
)

// Kind names the three query shapes spec §4.F distinguishes.
type Kind uint8

const (
	// Unique selects at most one record by a unique key-set; where must
	// name exactly one of the model's unique key-sets.
	Unique Kind = iota
	// First selects the first record in declared (or default) order.
	First
	// Many selects a page of records.
	Many
)

// Options is the full set of inputs a single Plan call accepts, mirroring
// the knobs available on an `include` entry one level down (spec §4.F).
type Options struct {
	Where      json.RawMessage
	OrderBy    json.RawMessage
	Cursor     json.RawMessage
	Take       *int64
	Skip       *int64
	PageSize   *int64
	PageNumber *int64
	Include    json.RawMessage
	Select     json.RawMessage

	// MutationMode marks this Plan call as the read-back half of a write
	// (create/update/delete returning the affected record). Per spec §4.F,
	// both `include` and `select` are ignored: the read-back always returns
	// the model's full output shape with no relations attached.
	MutationMode bool
}

// Result is the compiled pipeline, plus a provenance hook over which
// top-level columns it touches — useful for audit logging around a query
// without re-parsing the compiled stages (a capability this engine adds
// beyond the original per-call audit trail it's modeled on).
type Result struct {
	Stages []stage.Stage
	// ReverseResults indicates the backend must reverse the assembled page
	// before returning it, the second half of negative-take's
	// reverse-paginate-then-reverse strategy (spec §4.F).
	ReverseResults bool
	// PlanID correlates this compiled plan with whatever audit or log record
	// a caller builds from AffectsFields, the same way the teacher stamps
	// every audit.Event with its own uuid at creation time.
	PlanID string

	touchedColumns []string
}

// AffectsFields returns the column names this plan's sort and projection
// stages reference, plus the top-level keys of its match, for
// audit/provenance logging. Conditions nested under $and/$or/$nor are not
// walked.
func (r Result) AffectsFields() []string { return append([]string(nil), r.touchedColumns...) }

// Plan compiles a single query request into an ordered pipeline (spec §4.F).
// It is the only place in the engine that recovers a panic: every
// compilation error below this point is expected to surface as a
// *queryerr.Error, but a coding mistake deep in a recursive compiler
// (a nil map write, an out-of-range index) must never escape as a raw
// panic across the package boundary (spec §7).
func Plan(cat *schema.Catalog, modelName string, kind Kind, opts Options) (res Result, rerr *queryerr.Error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			rerr = queryerr.Internal("recovered panic while planning %s: %v", modelName, r)
		}
	}()

	m, err := cat.Model(modelName)
	if err != nil {
		return Result{}, queryerr.New(queryerr.ModelNotFound, nil, "%v", err)
	}

	c := &ctx{cat: cat}
	match, werr := compileWhere(c, m, opts.Where, []string{"where"})
	if werr != nil {
		return Result{}, werr
	}

	if kind == Unique {
		keys, kerr := uniqueKeyNames(opts.Where, []string{"where"})
		if kerr != nil {
			return Result{}, kerr
		}
		if !m.IsUniqueKeySet(keys) {
			return Result{}, queryerr.New(queryerr.FieldIsNotUnique, []string{"where"}, "where must name exactly one unique key-set on %s", m.Name)
		}
	}

	var sort stage.SortArgs
	if len(opts.OrderBy) > 0 {
		sort, werr = compileOrderBy(m, opts.OrderBy, []string{"orderBy"})
		if werr != nil {
			return Result{}, werr
		}
	} else if idx := m.PrimaryIndex(); idx != nil {
		// A default order keyed on the primary index keeps paging and
		// cursor semantics deterministic even when the caller didn't ask
		// for a specific order (spec §4.F).
		for _, it := range idx.Items {
			f, _ := m.Field(it.FieldName)
			dir := 1
			if it.Sort == schema.Desc {
				dir = -1
			}
			sort = append(sort, stage.SortEntry{Column: f.ColumnName, Dir: dir})
		}
	}

	take := opts.Take
	if kind != Many {
		one := int64(1)
		take = &one
	}
	page, perr := buildPagination(take, opts.Skip, opts.PageSize, opts.PageNumber, []string{"take"})
	if perr != nil {
		return Result{}, perr
	}
	if page.reverse {
		sort = reverseSort(sort)
	}

	if len(opts.Cursor) > 0 {
		cursorMatch, cerr := synthesizeCursor(m, opts.Cursor, opts.OrderBy, page.reverse, []string{"cursor"})
		if cerr != nil {
			return Result{}, cerr
		}
		if len(cursorMatch) > 0 {
			if len(match) == 0 {
				match = cursorMatch
			} else {
				match = map[string]any{"$and": []map[string]any{match, cursorMatch}}
			}
		}
	}

	// Per spec §4.F, mutation_mode ignores both include and select
	// unconditionally: a write's read-back always returns the model's full
	// output shape with no relations attached.
	var project stage.ProjectArgs
	var includes []stage.Stage
	if !opts.MutationMode {
		project, werr = compileSelect(m, opts.Select, []string{"select"})
		if werr != nil {
			return Result{}, werr
		}
		var ierr *queryerr.Error
		includes, ierr = compileIncludes(cat, m, opts.Include, []string{"include"})
		if ierr != nil {
			return Result{}, ierr
		}
	}

	var stages []stage.Stage
	stages = append(stages, c.predictLookups...)
	if len(match) > 0 {
		stages = append(stages, stage.Stage{Op: stage.Match, Args: stage.MatchArgs(match)})
	}
	if len(c.unsetNames) > 0 {
		stages = append(stages, stage.Stage{Op: stage.Unset, Args: stage.UnsetArgs(c.unsetNames)})
	}
	if len(sort) > 0 {
		stages = append(stages, stage.Stage{Op: stage.Sort, Args: sort})
	}
	if page.skip != nil {
		stages = append(stages, stage.Stage{Op: stage.Skip, Args: *page.skip})
	}
	if page.limit != nil {
		stages = append(stages, stage.Stage{Op: stage.Limit, Args: *page.limit})
	}
	stages = append(stages, includes...)
	if project != nil {
		stages = append(stages, stage.Stage{Op: stage.Project, Args: project})
	}

	return Result{
		Stages:         stages,
		ReverseResults: page.reverse,
		PlanID:         uuid.NewString(),
		touchedColumns: touchedColumns(match, sort, project),
	}, nil
}

// PlanSaved compiles a persisted schema.SavedQuery the same way Plan compiles
// an ad-hoc request: the saved query's Where/OrderBy/Select/Include/Take/Skip
// fields are simply the Options a fresh caller would have sent, so it is
// never interpreted through a separate code path (spec §9's saved-views
// addition reuses the planner's one public entry point by design).
func PlanSaved(cat *schema.Catalog, sq schema.SavedQuery, kind Kind) (Result, *queryerr.Error) {
	return Plan(cat, sq.Model, kind, Options{
		Where:   sq.Where,
		OrderBy: sq.OrderBy,
		Select:  sq.Select,
		Include: sq.Include,
		Take:    sq.Take,
		Skip:    sq.Skip,
	})
}

// uniqueKeyNames extracts the top-level field keys named in a where object,
// used only to validate a Unique query's shape; logical combinators (AND/
// OR/NOT) are not permitted at the top level of a unique lookup.
func uniqueKeyNames(raw json.RawMessage, path []string) ([]string, *queryerr.Error) {
	if len(raw) == 0 {
		return nil, queryerr.New(queryerr.MissingRequiredInput, path, "a unique query requires a where clause")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, queryerr.New(queryerr.UnexpectedInputRootType, path, "where must be a JSON object")
	}
	out := make([]string, 0, len(obj))
	for k := range obj {
		if k == "AND" || k == "OR" || k == "NOT" {
			return nil, queryerr.New(queryerr.InvalidQueryInput, path, "a unique query's where must not use logical combinators")
		}
		out = append(out, k)
	}
	return out, nil
}

func touchedColumns(match map[string]any, sort stage.SortArgs, project stage.ProjectArgs) []string {
	seen := map[string]bool{}
	var out []string
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for k := range match {
		if k != "$and" && k != "$or" && k != "$nor" {
			add(k)
		}
	}
	for _, e := range sort {
		add(e.Column)
	}
	for k := range project {
		add(k)
	}
	return out
}
