package planner

import (
	"encoding/json"

	"github.com/latticeq/queryengine/queryerr"
	"github.com/latticeq/queryengine/schema"
	"github.com/latticeq/queryengine/stage"
)

// includeRequest is the decoded shape of one entry under `include`: either a
// bare `true` (include everything, no extra filtering) or an object naming
// the same where/orderBy/take/skip/select/include knobs a top-level query
// accepts (spec §4.E).
type includeRequest struct {
	Where   json.RawMessage
	OrderBy json.RawMessage
	Take    *int64
	Skip    *int64
	Select  json.RawMessage
	Include json.RawMessage
}

func parseIncludeObject(raw json.RawMessage, path []string) (map[string]includeRequest, *queryerr.Error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, queryerr.New(queryerr.UnexpectedInputType, path, "include must be an object")
	}
	out := make(map[string]includeRequest, len(obj))
	for key, sub := range obj {
		var asBool bool
		if err := json.Unmarshal(sub, &asBool); err == nil {
			out[key] = includeRequest{}
			continue
		}
		var req struct {
			Where   json.RawMessage `json:"where"`
			OrderBy json.RawMessage `json:"orderBy"`
			Take    *int64          `json:"take"`
			Skip    *int64          `json:"skip"`
			Select  json.RawMessage `json:"select"`
			Include json.RawMessage `json:"include"`
		}
		if err := json.Unmarshal(sub, &req); err != nil {
			return nil, queryerr.New(queryerr.UnexpectedInputType, append(path, key), "malformed include entry")
		}
		out[key] = includeRequest{
			Where: req.Where, OrderBy: req.OrderBy, Take: req.Take, Skip: req.Skip,
			Select: req.Select, Include: req.Include,
		}
	}
	return out, nil
}

// compileIncludes compiles every entry under `include` into a $lookup stage
// (plus any relation-prediction lookups its own where generates), in
// declaration order.
func compileIncludes(cat catalogLike, owner *schema.Model, raw json.RawMessage, path []string) ([]stage.Stage, *queryerr.Error) {
	if len(raw) == 0 {
		return nil, nil
	}
	reqs, err := parseIncludeObject(raw, path)
	if err != nil {
		return nil, err
	}
	var out []stage.Stage
	for name, req := range reqs {
		rel, ok := owner.Relation(name)
		if !ok {
			return nil, queryerr.New(queryerr.KeysUnallowed, append(path, name), "%q is not a relation on %s", name, owner.Name)
		}
		stages, lerr := compileOneInclude(cat, owner, rel, req, append(path, name))
		if lerr != nil {
			return nil, lerr
		}
		out = append(out, stages...)
	}
	return out, nil
}

// compileOneInclude compiles one `include` entry into its $lookup stage plus,
// for a negative take, a trailing $set that reverses the attached array back
// to declared order (the per-include counterpart of the top-level
// ReverseResults flag — an include's array is small and fully materialized by
// the $lookup itself, so it is reversed in place rather than deferred to the
// caller, spec §4.F/§4.E).
func compileOneInclude(cat catalogLike, owner *schema.Model, rel *schema.Relation, req includeRequest, path []string) ([]stage.Stage, *queryerr.Error) {
	target, terr := cat.Model(rel.Model)
	if terr != nil {
		return nil, queryerr.Internal("relation %q targets unknown model %q", rel.Name, rel.Model)
	}

	c := &ctx{cat: cat}
	match, err := compileWhere(c, target, req.Where, append(path, "where"))
	if err != nil {
		return nil, err
	}
	var sort stage.SortArgs
	if len(req.OrderBy) > 0 {
		sort, err = compileOrderBy(target, req.OrderBy, append(path, "orderBy"))
		if err != nil {
			return nil, err
		}
	}
	project, err := compileSelect(target, req.Select, append(path, "select"))
	if err != nil {
		return nil, err
	}
	nestedIncludes, err := compileIncludes(cat, target, req.Include, append(path, "include"))
	if err != nil {
		return nil, err
	}

	page, perr := buildPagination(req.Take, req.Skip, nil, nil, append(path, "take"))
	if perr != nil {
		return nil, perr
	}
	if page.reverse {
		sort = reverseSort(sort)
	}

	// matchAndUnset assembles the relation-prediction lookups (if any),
	// the where match, and the trailing unset of predicted arrays, in the
	// spec §4.F stage order — used as-is for a direct relation's own
	// pipeline, or folded into the innermost lookup for a through relation
	// (spec §4.E: "the user's inner match is merged into the innermost
	// lookup's match").
	matchAndUnset := func(extraMatch map[string]any) []stage.Stage {
		var s []stage.Stage
		s = append(s, c.predictLookups...)
		combined := match
		if len(extraMatch) > 0 {
			if len(combined) == 0 {
				combined = extraMatch
			} else {
				combined = map[string]any{"$and": []map[string]any{extraMatch, combined}}
			}
		}
		if len(combined) > 0 {
			s = append(s, stage.Stage{Op: stage.Match, Args: stage.MatchArgs(combined)})
		}
		if len(c.unsetNames) > 0 {
			s = append(s, stage.Stage{Op: stage.Unset, Args: stage.UnsetArgs(c.unsetNames)})
		}
		return s
	}

	// afterFlatten is the part of the pipeline that must see the target's
	// own (post-flatten, for a through relation) shape: nested includes,
	// sort, pagination, projection.
	afterFlatten := func() []stage.Stage {
		var s []stage.Stage
		s = append(s, nestedIncludes...)
		if len(sort) > 0 {
			s = append(s, stage.Stage{Op: stage.Sort, Args: sort})
		}
		if page.skip != nil {
			s = append(s, stage.Stage{Op: stage.Skip, Args: *page.skip})
		}
		if page.limit != nil {
			s = append(s, stage.Stage{Op: stage.Limit, Args: *page.limit})
		}
		if project != nil {
			s = append(s, stage.Stage{Op: stage.Project, Args: project})
		}
		return s
	}

	tail := func() []stage.Stage {
		return append(matchAndUnset(nil), afterFlatten()...)
	}

	if !rel.IsThrough() {
		let := map[string]any{}
		pairs := rel.KeyPairs()
		matchJoin := map[string]any{}
		for _, p := range pairs {
			f, _ := owner.Field(p[0])
			let["local_"+p[1]] = "$" + f.ColumnName
			matchJoin[p[1]] = map[string]any{"$eq": "$$local_" + p[1]}
		}
		pipeline := append([]stage.Stage{{Op: stage.Match, Args: stage.MatchArgs(matchJoin)}}, tail()...)
		lookup := stage.Stage{
			Op: stage.Lookup,
			Args: stage.LookupArgs{
				From: target.TableName, As: rel.Name, Let: let, Pipeline: pipeline,
			},
		}
		return includeStages(lookup, rel.Name, page.reverse), nil
	}

	through, herr := cat.Model(rel.Through)
	if herr != nil {
		return nil, queryerr.Internal("relation %q join model %q not found", rel.Name, rel.Through)
	}
	back, forward, ok := schema.ThroughHops(through, owner.Name, target.Name)
	if !ok {
		return nil, queryerr.Internal("relation %q's join model %q is missing a hop", rel.Name, rel.Through)
	}

	forwardLet := map[string]any{}
	forwardMatch := map[string]any{}
	for _, p := range forward.KeyPairs() {
		forwardLet["fwd_"+p[1]] = "$" + p[0]
		forwardMatch[p[1]] = map[string]any{"$eq": "$$fwd_" + p[1]}
	}
	secondAs := "__target"
	secondLookup := stage.Stage{
		Op: stage.Lookup,
		Args: stage.LookupArgs{
			From: target.TableName, As: secondAs, Let: forwardLet,
			Pipeline: matchAndUnset(forwardMatch),
		},
	}

	// back is the join model's own relation pointing at owner: its Fields
	// are through-model columns, its References are owner columns (spec
	// §4.E — the hop is defined from the join model's perspective).
	backLet := map[string]any{}
	backMatch := map[string]any{}
	for _, p := range back.KeyPairs() {
		f, _ := owner.Field(p[1])
		backLet["back_"+p[1]] = "$" + f.ColumnName
		backMatch[p[0]] = map[string]any{"$eq": "$$back_" + p[1]}
	}

	firstPipeline := []stage.Stage{
		{Op: stage.Match, Args: stage.MatchArgs(backMatch)},
		secondLookup,
		{Op: stage.Unwind, Args: stage.UnwindArgs{Path: "$" + secondAs, PreserveNullAndEmptyArrays: false}},
		{Op: stage.ReplaceRoot, Args: stage.ReplaceRootArgs{NewRoot: "$" + secondAs}},
	}
	// sort/skip/limit/select are pulled up to run after the unwind +
	// replaceRoot flattening above, since they must see the flattened target
	// shape rather than the through-row wrapper (spec §4.E). The where
	// match itself was already merged into secondLookup's own pipeline.
	firstPipeline = append(firstPipeline, afterFlatten()...)

	lookup := stage.Stage{
		Op: stage.Lookup,
		Args: stage.LookupArgs{
			From: through.TableName, As: rel.Name, Let: backLet, Pipeline: firstPipeline,
		},
	}
	return includeStages(lookup, rel.Name, page.reverse), nil
}

// includeStages appends the negative-take array reversal after an include's
// $lookup when its own pagination was reverse-paginated, so the attached
// array comes back in the caller's declared order rather than the flipped
// sort order used to select the last N (spec §4.E/§4.F).
func includeStages(lookup stage.Stage, relName string, reverse bool) []stage.Stage {
	if !reverse {
		return []stage.Stage{lookup}
	}
	return []stage.Stage{lookup, reverseArraySet(relName)}
}
