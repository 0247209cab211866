package planner

import (
	"encoding/json"
	"fmt"

	"github.com/latticeq/queryengine/queryerr"
	"github.com/latticeq/queryengine/schema"
	"github.com/latticeq/queryengine/stage"
)

// relationPredicateOps maps a relation-predicate operator to the size check
// its prediction array must satisfy, and whether the nested where must be
// negated first. `all` ("every related record matches") is compiled as "no
// related record fails to match", i.e. none() over the negated where.
var relationPredicateOps = map[string]struct {
	negate bool
	size   int
}{
	"some":  {false, 1},
	"is":    {false, 1},
	"none":  {false, 0},
	"isNot": {false, 0},
	"all":   {true, 0},
}

// compileRelationPredicate handles a where-key that names a relation rather
// than a field (spec §4.E "relation predicates"). It registers a correlated
// $lookup that tests existence of a matching related record, bounded to one
// result (invariant: prediction lookups never need more than one row), and
// returns the leaf match expression the top-level $match tests against the
// synthesized prediction array.
func compileRelationPredicate(c *ctx, owner *schema.Model, rel *schema.Relation, raw json.RawMessage, path []string) (fieldKey string, expr any, rerr *queryerr.Error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
		return "", nil, queryerr.New(queryerr.UnexpectedObjectLength, path, "relation predicate must name exactly one operator")
	}
	var op string
	var nestedRaw json.RawMessage
	for k, v := range obj {
		op, nestedRaw = k, v
	}
	spec, ok := relationPredicateOps[op]
	if !ok {
		return "", nil, queryerr.New(queryerr.UnexpectedInputKey, append(path, op), "unrecognized relation operator %q", op)
	}

	target, terr := c.cat.Model(rel.Model)
	if terr != nil {
		return "", nil, queryerr.Internal("relation %q targets unknown model %q", rel.Name, rel.Model)
	}

	nested := &ctx{cat: c.cat}
	nestedMatch, err := compileWhere(nested, target, nestedRaw, append(path, op))
	if err != nil {
		return "", nil, err
	}
	if spec.negate {
		nestedMatch = map[string]any{"$nor": []map[string]any{nestedMatch}}
	}

	predictAs := fmt.Sprintf("__predict_%s", rel.Name)
	innerPipeline := append([]stage.Stage{}, nested.predictLookups...)
	if len(nestedMatch) > 0 {
		innerPipeline = append(innerPipeline, stage.Stage{Op: stage.Match, Args: stage.MatchArgs(nestedMatch)})
	}
	if len(nested.unsetNames) > 0 {
		innerPipeline = append(innerPipeline, stage.Stage{Op: stage.Unset, Args: stage.UnsetArgs(nested.unsetNames)})
	}
	innerPipeline = append(innerPipeline, stage.Stage{Op: stage.Limit, Args: int64(1)})

	let := map[string]any{}
	pairs := rel.KeyPairs()
	localCols := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if f, ok := owner.Field(p[0]); ok {
			let["local_"+p[1]] = "$" + f.ColumnName
			localCols = append(localCols, "local_"+p[1])
		}
	}
	joinMatch := map[string]any{}
	for i, p := range pairs {
		joinMatch[p[1]] = map[string]any{"$eq": "$$" + localCols[i]}
	}
	fullPipeline := append([]stage.Stage{{Op: stage.Match, Args: stage.MatchArgs(joinMatch)}}, innerPipeline...)

	c.predictLookups = append(c.predictLookups, stage.Stage{
		Op: stage.Lookup,
		Args: stage.LookupArgs{
			From:     target.TableName,
			As:       predictAs,
			Let:      let,
			Pipeline: fullPipeline,
		},
	})
	c.unsetNames = append(c.unsetNames, predictAs)

	return predictAs, map[string]any{"$size": spec.size}, nil
}
