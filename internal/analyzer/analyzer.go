package analyzer

import (
	"fmt"
	"strings"
	"time"

	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/parser"
)

// Meta carries the descriptive fields of a template that are not derived
// from the SQL text itself.
type Meta struct {
	Identifier  string
	Question    string
	Description string
	Tags        []string
	OriginalSQL string
	Now         time.Time
}

// Input holds everything the analyzer needs.
type Input struct {
	SQL  string
	Meta Meta
}

// Result holds the complete analysis output.
type Result struct {
	Model      *model.StructuralModel
	AnalyzedAt time.Time

	// Warnings lists parts of the statement that the model does not capture.
	Warnings []string
	// Skipped lists WHERE predicates whose shape is not modeled.
	Skipped []string
}

// supportedOperators are the comparison operators kept when flattening WHERE.
var supportedOperators = map[string]bool{
	"=":  true,
	"<>": true,
	">":  true,
	"<":  true,
	">=": true,
	"<=": true,
}

// Analyze runs the full analysis pipeline: parse, decompose, classify.
func Analyze(input Input) (*Result, error) {
	stmt, err := parser.Parse(input.SQL)
	if err != nil {
		return nil, err
	}

	meta := input.Meta
	if meta.OriginalSQL == "" {
		meta.OriginalSQL = input.SQL
	}
	if meta.Now.IsZero() {
		meta.Now = time.Now().UTC()
	}

	result := &Result{AnalyzedAt: meta.Now}
	result.Model = decompose(stmt, meta, result)
	return result, nil
}

// Decompose turns a parsed statement into a structural model.
func Decompose(stmt parser.Statement, meta Meta) *model.StructuralModel {
	if meta.Now.IsZero() {
		meta.Now = time.Now().UTC()
	}
	return decompose(stmt, meta, &Result{})
}

func decompose(stmt parser.Statement, meta Meta, result *Result) *model.StructuralModel {
	m := &model.StructuralModel{
		Identifier:    meta.Identifier,
		Question:      meta.Question,
		Description:   meta.Description,
		Tags:          meta.Tags,
		OriginalSQL:   meta.OriginalSQL,
		NormalizedSQL: stmt.String(),
		CreatedAt:     meta.Now,
	}

	fromName := ""
	refs := stmt.FromTables()
	switch {
	case len(refs) == 0:
		m.FromTable = model.UnknownTable
	default:
		m.FromTable = refs[0].Text()
		_, fromName = parser.TableName(refs[0].Name)
		if len(refs) > 1 {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"%d comma-joined table(s) after %s are not modeled as joins", len(refs)-1, m.FromTable))
		}
	}

	m.SelectItems = extractSelectItems(stmt.Projection(), fromName)
	m.Joins = extractJoins(stmt.Joins())
	m.WherePredicates = extractPredicates(stmt.Predicates(), result)
	m.GroupBy = nonNil(stmt.GroupBy())
	m.OrderBy = nonNil(stmt.OrderBy())
	for _, clause := range stmt.Unmodeled() {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"%s is not modeled and is dropped from regenerated SQL", clause))
	}

	m.Tier, m.EntityCount = Classify(m.Joins)
	m.Entities = entities(m)
	m.Fingerprint = model.ComputeFingerprint(m.FromTable, m.SelectItems)
	return m
}

func extractSelectItems(projection []parser.Projection, fromName string) []model.SelectItem {
	items := make([]model.SelectItem, 0, len(projection))
	for _, p := range projection {
		item := model.SelectItem{
			Alias:        p.Expr,
			Expression:   p.Expr,
			SourceTable:  fromName,
			SourceColumn: p.Expr,
			Category:     model.DefaultCategory,
		}
		if len(p.Aggregates) > 0 {
			item.Aggregation = p.Aggregates[0]
		}

		switch {
		case p.Star:
			item.SourceColumn = "*"
		case p.IsColumn:
			item.SourceColumn = p.Column
			if p.Qualifier != "" {
				item.SourceTable = p.Qualifier
			}
			item.Alias = p.Column
		}
		if p.Alias != "" {
			item.Alias = p.Alias
		}
		items = append(items, item)
	}
	return items
}

func extractJoins(nodes []parser.JoinNode) []model.Join {
	joins := make([]model.Join, 0, len(nodes))
	for _, n := range nodes {
		kind := n.Kind
		if kind == "" {
			kind = "INNER"
		}
		cond := n.On
		if cond == "" {
			cond = n.Using
		}
		joins = append(joins, model.Join{
			Kind:         kind,
			Table:        n.Table.Text(),
			OnCondition:  cond,
			Relationship: cond,
		})
	}
	return joins
}

// extractPredicates flattens WHERE into an ordered predicate list. AND/OR/NOT
// nesting is not preserved and unsupported shapes are skipped.
func extractPredicates(nodes []parser.PredicateNode, result *Result) []model.Predicate {
	preds := make([]model.Predicate, 0, len(nodes))
	for _, n := range nodes {
		p := model.Predicate{Column: n.Left, Operator: n.Operator, Kind: model.FilterPredicate}
		switch {
		case n.Shape == parser.ShapeComparison && supportedOperators[n.Operator]:
			p.Value = n.Right
		case n.Shape == parser.ShapeBetween && n.Operator == "BETWEEN":
			p.Value = n.Low + " AND " + n.High
		case n.Shape == parser.ShapeIn && n.Operator == "IN":
			if n.Values != nil {
				p.Value = "(" + strings.Join(n.Values, ", ") + ")"
			} else {
				p.Value = n.Right
			}
		default:
			result.Skipped = append(result.Skipped, describeNode(n))
			continue
		}
		preds = append(preds, p)
	}
	if len(result.Skipped) > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"%d WHERE predicate(s) with unsupported shape skipped", len(result.Skipped)))
	}
	return preds
}

func describeNode(n parser.PredicateNode) string {
	switch n.Shape {
	case parser.ShapeBetween:
		return fmt.Sprintf("%s %s %s AND %s", n.Left, n.Operator, n.Low, n.High)
	case parser.ShapeIn:
		if n.Values != nil {
			return fmt.Sprintf("%s %s (%s)", n.Left, n.Operator, strings.Join(n.Values, ", "))
		}
	}
	return fmt.Sprintf("%s %s %s", n.Left, n.Operator, n.Right)
}

// entities lists the from-table name and every join table name, de-duplicated.
func entities(m *model.StructuralModel) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ref string) {
		if ref == "" || ref == model.UnknownTable || strings.HasPrefix(ref, "(") {
			return
		}
		_, name := parser.TableName(ref)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	add(m.FromTable)
	for _, j := range m.Joins {
		add(j.Table)
	}
	return nonNil(out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
