// Package rebuild re-serializes a structural model, with a replacement
// predicate set, into SQL text.
package rebuild

import (
	"strings"

	"github.com/nethalo/sqlforge/internal/model"
)

// Input is the set of clause components to recompose.
type Input struct {
	SelectItems []model.SelectItem
	FromTable   string
	Joins       []model.Join
	Predicates  []model.Predicate
	GroupBy     []string
	OrderBy     []string
}

// FromModel builds an Input from a stored model and a replacement predicate set.
func FromModel(m *model.StructuralModel, items []model.SelectItem, preds []model.Predicate) Input {
	return Input{
		SelectItems: items,
		FromTable:   m.FromTable,
		Joins:       m.Joins,
		Predicates:  preds,
		GroupBy:     m.GroupBy,
		OrderBy:     m.OrderBy,
	}
}

// Rebuild renders the components in fixed clause order, one clause per line,
// with no trailing semicolon. Predicates are emitted as given.
func Rebuild(in Input) string {
	parts := make([]string, 0, 6)

	items := make([]string, 0, len(in.SelectItems))
	for _, it := range in.SelectItems {
		items = append(items, selectItem(it))
	}
	parts = append(parts, "SELECT\n    "+strings.Join(items, ",\n    "))
	parts = append(parts, "FROM "+in.FromTable)

	for _, j := range in.Joins {
		parts = append(parts, joinClause(j))
	}

	if len(in.Predicates) > 0 {
		where := make([]string, 0, len(in.Predicates))
		for _, p := range in.Predicates {
			where = append(where, p.String())
		}
		parts = append(parts, "WHERE "+strings.Join(where, "\n  AND "))
	}
	if len(in.GroupBy) > 0 {
		parts = append(parts, "GROUP BY "+strings.Join(in.GroupBy, ", "))
	}
	if len(in.OrderBy) > 0 {
		parts = append(parts, "ORDER BY "+strings.Join(in.OrderBy, ", "))
	}
	return strings.Join(parts, "\n")
}

// selectItem aliases an expression unless that would double-alias it.
func selectItem(it model.SelectItem) string {
	if it.Alias == "" || it.Alias == it.Expression || strings.Contains(strings.ToUpper(it.Expression), " AS ") {
		return it.Expression
	}
	return it.Expression + " AS '" + strings.Trim(it.Alias, "'\"`") + "'"
}

func joinClause(j model.Join) string {
	kind := strings.TrimSpace(j.Kind)
	if kind == "" {
		kind = "INNER"
	}
	if !strings.Contains(strings.ToUpper(kind), "JOIN") {
		kind += " JOIN"
	}
	clause := kind + " " + j.Table

	cond := strings.TrimSpace(j.OnCondition)
	switch {
	case cond == "":
	case strings.HasPrefix(strings.ToUpper(cond), "USING"):
		clause += " " + cond
	default:
		clause += " ON " + cond
	}
	return clause
}
