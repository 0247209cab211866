// Package dynamo translates the stage.Stage pipeline into a single DynamoDB
// Scan, using github.com/aws/aws-sdk-go-v2/service/dynamodb and its
// attributevalue codec — the second of the two non-document-store adapters
// alongside backend/sql, and the more tightly scoped of the two:
// DynamoDB has no generic server-side sort, no OFFSET-style skip, and no
// join, so this translator covers $match/$limit/$project and nothing past
// that, returning *ErrUnsupported for everything else rather than emulating
// it with client-side work that would silently diverge from what the other
// backends execute server-side.
package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/latticeq/queryengine/stage"
)

// ErrUnsupported marks a stage shape the DynamoDB path cannot translate.
type ErrUnsupported struct{ Reason string }

func (e *ErrUnsupported) Error() string { return "dynamo backend: " + e.Reason }

// Scan is a translated request ready to run over a *dynamodb.Client.
type Scan struct {
	Input *dynamodb.ScanInput
}

type builder struct {
	table       string
	filterParts []string
	names       map[string]string
	values      map[string]types.AttributeValue
	nameSeq     int
	valueSeq    int
	projection  []string
	limit       *int32
}

// Translate compiles a pipeline into a single Scan request against table.
func Translate(table string, stages []stage.Stage) (Scan, error) {
	b := &builder{table: table, names: map[string]string{}, values: map[string]types.AttributeValue{}}
	for _, st := range stages {
		if err := b.apply(st); err != nil {
			return Scan{}, err
		}
	}

	in := &dynamodb.ScanInput{TableName: &b.table}
	if len(b.filterParts) > 0 {
		expr := strings.Join(b.filterParts, " AND ")
		in.FilterExpression = &expr
		in.ExpressionAttributeNames = b.names
		in.ExpressionAttributeValues = b.values
	}
	if len(b.projection) > 0 {
		proj := strings.Join(b.projection, ", ")
		in.ProjectionExpression = &proj
		if in.ExpressionAttributeNames == nil {
			in.ExpressionAttributeNames = b.names
		}
	}
	if b.limit != nil {
		in.Limit = b.limit
	}
	return Scan{Input: in}, nil
}

// Run executes a translated Scan and decodes every page of results into loosely
// typed maps via attributevalue, following DynamoDB's LastEvaluatedKey paging
// convention until the scan is exhausted or, when the Scan carries a Limit, at
// least that many rows have been collected (a Scan's FilterExpression runs
// after the read, so a single page can return fewer matching rows than its
// Limit implies). The last page is appended whole, so the result can hold
// more rows than Limit.
func Run(ctx context.Context, client *dynamodb.Client, table string, stages []stage.Stage) ([]map[string]any, error) {
	scan, err := Translate(table, stages)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	input := scan.Input
	for {
		page, err := client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("dynamo backend: %w", err)
		}
		var rows []map[string]any
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &rows); err != nil {
			return nil, fmt.Errorf("dynamo backend: decode: %w", err)
		}
		out = append(out, rows...)
		if len(page.LastEvaluatedKey) == 0 || (input.Limit != nil && int32(len(out)) >= *input.Limit) {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	return out, nil
}

func (b *builder) apply(st stage.Stage) error {
	switch st.Op {
	case stage.Match:
		frag, err := b.matchToExpr(map[string]any(st.Args.(stage.MatchArgs)))
		if err != nil {
			return err
		}
		if frag != "" {
			b.filterParts = append(b.filterParts, frag)
		}
	case stage.Limit:
		n := int32(st.Args.(int64))
		b.limit = &n
	case stage.Project:
		args := st.Args.(stage.ProjectArgs)
		whitelist := false
		for _, v := range args {
			if v == 1 {
				whitelist = true
			}
		}
		if !whitelist {
			return nil
		}
		for c, v := range args {
			if v == 1 {
				b.projection = append(b.projection, b.nameRef(c))
			}
		}
	case stage.Sort:
		return &ErrUnsupported{Reason: "$sort has no server-side equivalent on a Scan outside the table's own key schema"}
	case stage.Skip:
		return &ErrUnsupported{Reason: "$skip (offset pagination) has no equivalent in DynamoDB's ExclusiveStartKey cursor model"}
	case stage.Lookup, stage.Unwind, stage.ReplaceRoot:
		return &ErrUnsupported{Reason: fmt.Sprintf("%s requires a join DynamoDB cannot express server-side — includes are only served by a document-store backend", st.Op)}
	case stage.Set, stage.Unset:
		return &ErrUnsupported{Reason: fmt.Sprintf("%s reshapes documents (negative-take array reversal on an included relation, removal of relation-predicate arrays), which this path never materializes", st.Op)}
	default:
		return &ErrUnsupported{Reason: fmt.Sprintf("unrecognized stage %q", st.Op)}
	}
	return nil
}

// nameRef returns the existing #fN placeholder for col if one was already
// allocated, reusing it so a column referenced twice (e.g. in both a filter
// and a projection) gets one expression-attribute-name entry, not two.
func (b *builder) nameRef(col string) string {
	for ref, c := range b.names {
		if c == col {
			return ref
		}
	}
	b.nameSeq++
	ref := "#f" + strconv.Itoa(b.nameSeq)
	b.names[ref] = col
	return ref
}

func (b *builder) valueRef(v any) (string, error) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("dynamo backend: marshal value: %w", err)
	}
	b.valueSeq++
	ref := ":v" + strconv.Itoa(b.valueSeq)
	b.values[ref] = av
	return ref, nil
}

// matchToExpr recursively lowers a compiled $match expression into a
// DynamoDB FilterExpression fragment, mirroring the same operator set the
// memory backend interprets directly.
func (b *builder) matchToExpr(expr map[string]any) (string, error) {
	var parts []string
	for key, cond := range expr {
		switch key {
		case "$and", "$or", "$nor":
			subs, ok := cond.([]map[string]any)
			if !ok {
				return "", &ErrUnsupported{Reason: fmt.Sprintf("%s operand must be an array of match objects", key)}
			}
			var fragments []string
			for _, sub := range subs {
				f, err := b.matchToExpr(sub)
				if err != nil {
					return "", err
				}
				if f == "" {
					// An empty match object is vacuously true; DynamoDB's
					// expression grammar has no boolean literal, so encode
					// it as a value compared to itself.
					ref, verr := b.valueRef(true)
					if verr != nil {
						return "", verr
					}
					f = ref + " = " + ref
				}
				fragments = append(fragments, "("+f+")")
			}
			joiner := " AND "
			if key == "$or" {
				joiner = " OR "
			}
			frag := strings.Join(fragments, joiner)
			if key == "$nor" {
				frag = "NOT (" + frag + ")"
			}
			parts = append(parts, "("+frag+")")
		default:
			f, err := b.fieldCondToExpr(b.nameRef(key), cond)
			if err != nil {
				return "", err
			}
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " AND "), nil
}

func (b *builder) fieldCondToExpr(nameRef string, cond any) (string, error) {
	ops, isOps := cond.(map[string]any)
	if !isOps {
		ref, err := b.valueRef(cond)
		if err != nil {
			return "", err
		}
		return nameRef + " = " + ref, nil
	}
	var parts []string
	for op, want := range ops {
		switch op {
		case "$eq":
			ref, err := b.valueRef(want)
			if err != nil {
				return "", err
			}
			parts = append(parts, nameRef+" = "+ref)
		case "$ne":
			ref, err := b.valueRef(want)
			if err != nil {
				return "", err
			}
			parts = append(parts, nameRef+" <> "+ref)
		case "$gt":
			ref, err := b.valueRef(want)
			if err != nil {
				return "", err
			}
			parts = append(parts, nameRef+" > "+ref)
		case "$gte":
			ref, err := b.valueRef(want)
			if err != nil {
				return "", err
			}
			parts = append(parts, nameRef+" >= "+ref)
		case "$lt":
			ref, err := b.valueRef(want)
			if err != nil {
				return "", err
			}
			parts = append(parts, nameRef+" < "+ref)
		case "$lte":
			ref, err := b.valueRef(want)
			if err != nil {
				return "", err
			}
			parts = append(parts, nameRef+" <= "+ref)
		case "$in":
			arr, ok := want.([]any)
			if !ok {
				return "", &ErrUnsupported{Reason: "$in expects an array"}
			}
			if len(arr) == 0 {
				// An empty $in can never match; encode always-false as two
				// distinct values compared equal (DynamoDB has no boolean
				// literal in its expression grammar).
				refTrue, terr := b.valueRef(true)
				if terr != nil {
					return "", terr
				}
				refFalse, ferr := b.valueRef(false)
				if ferr != nil {
					return "", ferr
				}
				parts = append(parts, "("+refTrue+" = "+refFalse+")")
				continue
			}
			refs := make([]string, len(arr))
			for i, v := range arr {
				ref, err := b.valueRef(v)
				if err != nil {
					return "", err
				}
				refs[i] = ref
			}
			parts = append(parts, nameRef+" IN ("+strings.Join(refs, ", ")+")")
		case "$nin":
			arr, ok := want.([]any)
			if !ok {
				return "", &ErrUnsupported{Reason: "$nin expects an array"}
			}
			if len(arr) == 0 {
				continue
			}
			refs := make([]string, len(arr))
			for i, v := range arr {
				ref, err := b.valueRef(v)
				if err != nil {
					return "", err
				}
				refs[i] = ref
			}
			parts = append(parts, "NOT ("+nameRef+" IN ("+strings.Join(refs, ", ")+"))")
		case "$regex":
			return "", &ErrUnsupported{Reason: "$regex has no native equivalent; FilterExpression only offers contains/begins_with substring tests"}
		case "$size":
			n, ok := asInt(want)
			if !ok {
				return "", &ErrUnsupported{Reason: "$size expects a number"}
			}
			ref, err := b.valueRef(n)
			if err != nil {
				return "", err
			}
			parts = append(parts, "size("+nameRef+") = "+ref)
		case "$all", "$elemMatch":
			return "", &ErrUnsupported{Reason: op + " needs per-element predicate evaluation FilterExpression cannot express generically"}
		default:
			return "", &ErrUnsupported{Reason: fmt.Sprintf("unrecognized match operator %q", op)}
		}
	}
	return strings.Join(parts, " AND "), nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
