package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/parser"
	"github.com/nethalo/sqlforge/internal/rebuild"
)

// RegenerateRequest asks for a new variant of a template with replaced
// WHERE predicates and an optional select category.
type RegenerateRequest struct {
	Identifier string            `json:"query_id"`
	Predicates []model.Predicate `json:"new_conditions"`
	Question   string            `json:"user_question,omitempty"`
	Category   string            `json:"category,omitempty"`
}

// RegenerateResult describes the derived template that was stored.
type RegenerateResult struct {
	Identifier       string            `json:"query_id"`
	ParentIdentifier string            `json:"parent_query_id"`
	Category         string            `json:"category"`
	Predicates       []model.Predicate `json:"where_conditions"`
	SQL              string            `json:"sql"`
}

// columnPattern accepts plain or dotted identifiers, optionally backquoted.
var columnPattern = regexp.MustCompile("^(`[^`]+`|[A-Za-z_][A-Za-z0-9_$]*)(\\.(`[^`]+`|[A-Za-z_][A-Za-z0-9_$]*)){0,2}$")

var allowedOperators = map[string]string{
	"=":       "=",
	"<>":      "<>",
	"!=":      "<>",
	">":       ">",
	"<":       "<",
	">=":      ">=",
	"<=":      "<=",
	"BETWEEN": "BETWEEN",
	"IN":      "IN",
}

// ValidatePredicates checks caller-supplied predicates and returns them
// normalized: trimmed, operators canonical, kind defaulted.
func ValidatePredicates(preds []model.Predicate) ([]model.Predicate, error) {
	var problems []string
	out := make([]model.Predicate, 0, len(preds))
	for i, p := range preds {
		p.Column = strings.TrimSpace(p.Column)
		p.Value = strings.TrimSpace(p.Value)
		op, ok := allowedOperators[strings.ToUpper(strings.TrimSpace(p.Operator))]

		switch {
		case !columnPattern.MatchString(p.Column):
			problems = append(problems, fmt.Sprintf("predicate %d: invalid column %q", i, p.Column))
		case !ok:
			problems = append(problems, fmt.Sprintf("predicate %d: unsupported operator %q", i, p.Operator))
		case p.Value == "":
			problems = append(problems, fmt.Sprintf("predicate %d: empty value", i))
		case op == "BETWEEN" && !strings.Contains(strings.ToUpper(p.Value), " AND "):
			problems = append(problems, fmt.Sprintf("predicate %d: BETWEEN value must be \"<low> AND <high>\"", i))
		case op == "IN" && !(strings.HasPrefix(p.Value, "(") && strings.HasSuffix(p.Value, ")")):
			problems = append(problems, fmt.Sprintf("predicate %d: IN value must be a parenthesized list", i))
		case strings.Contains(p.Value, ";"):
			problems = append(problems, fmt.Sprintf("predicate %d: value must not contain ';'", i))
		}

		p.Operator = op
		if p.Kind == "" {
			p.Kind = model.FilterPredicate
		}
		out = append(out, p)
	}
	if len(problems) > 0 {
		return nil, &model.ValidationError{Field: "predicates", Problems: problems}
	}
	return out, nil
}

// Regenerate rebuilds a template with new predicates and stores the result
// as a derived template. The parent's select and join rows are never
// touched; only its modification counter is bumped. If that bump fails the
// derived template is removed again.
func (s *Service) Regenerate(ctx context.Context, req RegenerateRequest) (*RegenerateResult, error) {
	parent, err := s.active.Get(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}
	preds, err := ValidatePredicates(req.Predicates)
	if err != nil {
		return nil, err
	}

	category := req.Category
	if category == "" {
		category = model.DefaultCategory
	}
	items := parent.ItemsForCategory(category)

	sql := rebuild.Rebuild(rebuild.FromModel(parent, items, preds))
	if err := checkRebuiltWhere(sql, len(preds)); err != nil {
		return nil, err
	}

	// Identifier choice and the counter bump must not interleave with
	// another regeneration of the same parent.
	s.regenMu.Lock()
	defer s.regenMu.Unlock()

	id, err := s.nextDerivedID(ctx, parent)
	if err != nil {
		return nil, err
	}

	question := req.Question
	if question == "" {
		question = "RE: " + parent.Question
	}
	now := s.now()
	derived := &model.DerivedModel{
		Identifier:       id,
		ParentIdentifier: parent.Identifier,
		Question:         question,
		Description:      fmt.Sprintf("Modified from %s at %s level", parent.Identifier, category),
		Category:         category,
		WherePredicates:  preds,
		SQL:              sql,
		Tags:             parent.Tags,
		CreatedAt:        now,
	}
	if err := s.derived.Put(ctx, derived); err != nil {
		return nil, err
	}

	if err := s.active.IncrementModification(ctx, parent.Identifier, now); err != nil {
		s.logger.Error("modification count update failed, removing derived template",
			"query_id", id, "parent", parent.Identifier, "error", err)
		if delErr := s.derived.Delete(ctx, id); delErr != nil {
			err = errors.Join(err, fmt.Errorf("compensating delete of %s: %w", id, delErr))
		}
		return nil, &model.TxError{Op: "regenerate", Identifier: parent.Identifier, Err: err}
	}

	s.logger.Info("template regenerated", "query_id", id, "parent", parent.Identifier, "category", category, "predicates", len(preds))
	return &RegenerateResult{
		Identifier:       id,
		ParentIdentifier: parent.Identifier,
		Category:         category,
		Predicates:       preds,
		SQL:              sql,
	}, nil
}

// checkRebuiltWhere parses the rebuilt SQL and rejects it unless its WHERE
// is a flat conjunction of exactly want predicates, so a value cannot add
// conditions of its own.
func checkRebuiltWhere(sql string, want int) error {
	stmt, err := parser.Parse(sql)
	if err != nil {
		return &model.ValidationError{Field: "predicates", Problems: []string{"rebuilt SQL does not parse: " + err.Error()}}
	}
	if parser.HasNestedWhere(stmt) {
		return &model.ValidationError{Field: "predicates", Problems: []string{"values must not introduce OR, XOR or NOT"}}
	}
	if !parser.FlatWhere(stmt, want) {
		return &model.ValidationError{Field: "predicates", Problems: []string{
			fmt.Sprintf("rebuilt WHERE must be %d AND-joined conditions; a value must not add conditions", want)}}
	}
	if got := len(stmt.Predicates()); got != want {
		return &model.ValidationError{Field: "predicates", Problems: []string{
			fmt.Sprintf("rebuilt WHERE has %d conditions, want %d; a value must not add conditions", got, want)}}
	}
	return nil
}

// nextDerivedID returns <parent>_modified_<n>, starting at the parent's
// modification count plus one and skipping identifiers already taken.
func (s *Service) nextDerivedID(ctx context.Context, parent *model.StructuralModel) (string, error) {
	for n := parent.ModificationCount + 1; ; n++ {
		id := fmt.Sprintf("%s_modified_%d", parent.Identifier, n)
		taken, err := s.derived.Exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
}
