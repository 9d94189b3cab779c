// Package service implements the agent-facing template operations on top of
// the active and derived stores.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/parser"
	"github.com/nethalo/sqlforge/internal/rebuild"
	"github.com/nethalo/sqlforge/internal/store"
)

// DefaultListLimit is used by List when no limit is given.
const DefaultListLimit = 10

// ActiveStore is the part of store.Store the service reads and updates.
type ActiveStore interface {
	Get(ctx context.Context, identifier string) (*model.StructuralModel, error)
	Search(ctx context.Context, f store.SearchFilter) ([]store.Summary, error)
	List(ctx context.Context, f store.ListFilter) ([]store.Summary, error)
	History(ctx context.Context, identifier string) ([]model.HistoryRecord, error)
	IncrementModification(ctx context.Context, identifier string, at time.Time) error
	Counts(ctx context.Context) (*store.Counts, error)
}

// DerivedStore is the part of store.DerivedStore the service uses.
type DerivedStore interface {
	Put(ctx context.Context, m *model.DerivedModel) error
	Get(ctx context.Context, identifier string) (*model.DerivedModel, error)
	Delete(ctx context.Context, identifier string) error
	Exists(ctx context.Context, identifier string) (bool, error)
	Count(ctx context.Context) (int, error)
	ListByParent(ctx context.Context, parent string) ([]string, error)
}

// Service exposes search, details, regeneration, listing and status.
type Service struct {
	active  ActiveStore
	derived DerivedStore
	logger  *slog.Logger
	now     func() time.Time

	regenMu sync.Mutex
}

// New creates a Service. A nil logger discards output.
func New(active ActiveStore, derived DerivedStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		active:  active,
		derived: derived,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EditablePredicate is a WHERE predicate with its editability flag.
type EditablePredicate struct {
	model.Predicate
	Editable bool `json:"editable"`
}

// Details is the full structural dump of one template.
type Details struct {
	Identifier        string              `json:"query_id"`
	ParentIdentifier  string              `json:"parent_query_id,omitempty"`
	Derived           bool                `json:"derived"`
	Question          string              `json:"question"`
	Description       string              `json:"description,omitempty"`
	Tier              model.Tier          `json:"complexity_tier"`
	EntityCount       int                 `json:"effective_entity_count"`
	Entities          []string            `json:"entities"`
	Tags              []string            `json:"tags,omitempty"`
	FromTable         string              `json:"from_table"`
	Joins             []model.Join        `json:"joins"`
	Predicates        []EditablePredicate `json:"where_conditions"`
	SelectItems       []model.SelectItem  `json:"select_columns"`
	Categories        []string            `json:"categories"`
	Category          string              `json:"category,omitempty"`
	GroupBy           []string            `json:"group_by"`
	OrderBy           []string            `json:"order_by"`
	SQL               string              `json:"normalized_sql"`
	NestedWhere       bool                `json:"nested_where"`
	Unmodeled         []string            `json:"unmodeled_clauses,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	ModifiedAt        *time.Time          `json:"modified_at,omitempty"`
	ModificationCount int                 `json:"modification_count"`
	Versions          []string            `json:"derived_versions,omitempty"`
}

// Status aggregates counts over both stores.
type Status struct {
	Active      int                `json:"active_templates"`
	Derived     int                `json:"derived_templates"`
	History     int                `json:"history_records"`
	ByTier      map[model.Tier]int `json:"by_tier"`
	SelectItems int                `json:"select_items"`
	Joins       int                `json:"joins"`
	Predicates  int                `json:"where_conditions"`
}

// Search returns templates whose question, description, entities or tags
// contain text, newest first.
func (s *Service) Search(ctx context.Context, text string, tier model.Tier) ([]store.Summary, error) {
	return s.active.Search(ctx, store.SearchFilter{Text: text, Tier: tier})
}

// List returns the newest templates. A non-positive limit means DefaultListLimit.
func (s *Service) List(ctx context.Context, tier model.Tier, limit int) ([]store.Summary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.active.List(ctx, store.ListFilter{Tier: tier, Limit: limit})
}

// History returns the archived versions of identifier, newest first. An
// identifier with neither history nor an active model is not found.
func (s *Service) History(ctx context.Context, identifier string) ([]model.HistoryRecord, error) {
	records, err := s.active.History(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		if _, err := s.active.Get(ctx, identifier); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Status returns aggregate counts.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	c, err := s.active.Counts(ctx)
	if err != nil {
		return nil, err
	}
	derived, err := s.derived.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Active:      c.Templates,
		Derived:     derived,
		History:     c.History,
		ByTier:      c.ByTier,
		SelectItems: c.SelectItems,
		Joins:       c.Joins,
		Predicates:  c.Predicates,
	}, nil
}

// Templates returns every active model, newest first, optionally by tier.
func (s *Service) Templates(ctx context.Context, tier model.Tier) ([]*model.StructuralModel, error) {
	summaries, err := s.active.List(ctx, store.ListFilter{Tier: tier})
	if err != nil {
		return nil, err
	}
	out := make([]*model.StructuralModel, 0, len(summaries))
	for _, sum := range summaries {
		m, err := s.active.Get(ctx, sum.Identifier)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// GetDetails returns the structure of an active or derived template. Joins
// and select items always come from the active parent.
func (s *Service) GetDetails(ctx context.Context, identifier string) (*Details, error) {
	m, err := s.active.Get(ctx, identifier)
	if err == nil {
		d := activeDetails(m)
		if d.Versions, err = s.derived.ListByParent(ctx, identifier); err != nil {
			return nil, err
		}
		return d, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	d, err := s.derived.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	parent, err := s.active.Get(ctx, d.ParentIdentifier)
	if err != nil {
		return nil, fmt.Errorf("parent of %s: %w", identifier, err)
	}
	return derivedDetails(d, parent), nil
}

func activeDetails(m *model.StructuralModel) *Details {
	d := &Details{
		Identifier:        m.Identifier,
		Question:          m.Question,
		Description:       m.Description,
		Tier:              m.Tier,
		EntityCount:       m.EntityCount,
		Entities:          m.Entities,
		Tags:              m.Tags,
		FromTable:         m.FromTable,
		Joins:             m.Joins,
		Predicates:        editable(m.WherePredicates),
		SelectItems:       m.SelectItems,
		Categories:        m.Categories(),
		GroupBy:           m.GroupBy,
		OrderBy:           m.OrderBy,
		SQL:               m.NormalizedSQL,
		CreatedAt:         m.CreatedAt,
		ModifiedAt:        m.ModifiedAt,
		ModificationCount: m.ModificationCount,
	}
	if d.SQL == "" {
		d.SQL = rebuild.Rebuild(rebuild.FromModel(m, m.SelectItems, m.WherePredicates))
	}
	if stmt, err := parser.Parse(m.OriginalSQL); err == nil {
		d.NestedWhere = parser.HasNestedWhere(stmt)
		d.Unmodeled = stmt.Unmodeled()
	}
	return d
}

func derivedDetails(d *model.DerivedModel, parent *model.StructuralModel) *Details {
	return &Details{
		Identifier:       d.Identifier,
		ParentIdentifier: d.ParentIdentifier,
		Derived:          true,
		Question:         d.Question,
		Description:      d.Description,
		Tier:             parent.Tier,
		EntityCount:      parent.EntityCount,
		Entities:         parent.Entities,
		Tags:             d.Tags,
		FromTable:        parent.FromTable,
		Joins:            parent.Joins,
		Predicates:       editable(d.WherePredicates),
		SelectItems:      parent.ItemsForCategory(d.Category),
		Categories:       parent.Categories(),
		Category:         d.Category,
		GroupBy:          parent.GroupBy,
		OrderBy:          parent.OrderBy,
		SQL:              d.SQL,
		CreatedAt:        d.CreatedAt,
		Unmodeled:        droppedClauses(parent),
	}
}

// droppedClauses lists the clauses of the parent's original SQL that
// regeneration does not reproduce.
func droppedClauses(m *model.StructuralModel) []string {
	stmt, err := parser.Parse(m.OriginalSQL)
	if err != nil {
		return nil
	}
	return stmt.Unmodeled()
}

func editable(preds []model.Predicate) []EditablePredicate {
	out := make([]EditablePredicate, 0, len(preds))
	for _, p := range preds {
		out = append(out, EditablePredicate{Predicate: p, Editable: true})
	}
	return out
}
