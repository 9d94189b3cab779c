// Package model holds the structural representation of a decomposed SELECT
// statement and the records the template store keeps around it.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Tier is the heuristic complexity class derived from qualifying joins.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// String returns the string representation of the Tier.
func (t Tier) String() string { return string(t) }

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierA, TierB, TierC:
		return true
	}
	return false
}

// Description returns a short human label for the tier.
func (t Tier) Description() string {
	switch t {
	case TierA:
		return "single entity"
	case TierB:
		return "two entities"
	case TierC:
		return "three or more entities"
	default:
		return "unclassified"
	}
}

// ParseTier accepts "A", "b", "tierC", "unitB" and returns the tier.
func ParseTier(s string) (Tier, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "TIER")
	s = strings.TrimPrefix(s, "UNIT")
	t := Tier(s)
	return t, t.Valid()
}

const (
	// UnknownTable is recorded when a statement has no FROM clause.
	UnknownTable = "Unknown"
	// DefaultCategory is the select preset every item belongs to unless tagged otherwise.
	DefaultCategory = "all"
	// FilterPredicate is the only predicate kind the decomposer produces.
	FilterPredicate = "filter"
	// ReasonUpdate marks a history record created by an overwrite.
	ReasonUpdate = "UPDATE"
)

// SelectItem is one entry of the outermost projection list.
type SelectItem struct {
	Alias        string `json:"alias"`
	Expression   string `json:"expression"`
	SourceTable  string `json:"table"`
	SourceColumn string `json:"column"`
	Aggregation  string `json:"aggregation,omitempty"`
	Category     string `json:"category,omitempty"`
}

// Join is one explicit JOIN of the statement, in source order.
type Join struct {
	Kind         string `json:"type"`
	Table        string `json:"table"`
	OnCondition  string `json:"on_condition"`
	Relationship string `json:"relationship"`
}

// Predicate is one flattened WHERE comparison.
type Predicate struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Kind     string `json:"type"`
}

// String renders the predicate as it appears in a WHERE clause.
func (p Predicate) String() string {
	return p.Column + " " + p.Operator + " " + p.Value
}

// StructuralModel is the decomposed form of one SELECT statement.
type StructuralModel struct {
	Identifier        string       `json:"query_id"`
	Question          string       `json:"question"`
	Description       string       `json:"description,omitempty"`
	Tier              Tier         `json:"complexity_tier"`
	EntityCount       int          `json:"effective_entity_count"`
	Entities          []string     `json:"entities"`
	Tags              []string     `json:"tags,omitempty"`
	FromTable         string       `json:"from_table"`
	SelectItems       []SelectItem `json:"select_columns"`
	Joins             []Join       `json:"joins"`
	WherePredicates   []Predicate  `json:"where_conditions"`
	GroupBy           []string     `json:"group_by"`
	OrderBy           []string     `json:"order_by"`
	OriginalSQL       string       `json:"original_sql"`
	NormalizedSQL     string       `json:"normalized_sql"`
	Fingerprint       string       `json:"fingerprint,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	ModifiedAt        *time.Time   `json:"modified_at,omitempty"`
	ModificationCount int          `json:"modification_count"`
}

// Categories returns the distinct select categories in first-seen order.
func (m *StructuralModel) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range m.SelectItems {
		c := it.Category
		if c == "" {
			c = DefaultCategory
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// ItemsForCategory returns the items tagged with category, falling back to
// the default category and then to every item.
func (m *StructuralModel) ItemsForCategory(category string) []SelectItem {
	pick := func(c string) []SelectItem {
		var out []SelectItem
		for _, it := range m.SelectItems {
			ic := it.Category
			if ic == "" {
				ic = DefaultCategory
			}
			if ic == c {
				out = append(out, it)
			}
		}
		return out
	}
	if category == "" {
		category = DefaultCategory
	}
	if items := pick(category); len(items) > 0 {
		return items
	}
	if items := pick(DefaultCategory); len(items) > 0 {
		return items
	}
	return m.SelectItems
}

// ComputeFingerprint hashes the FROM table with the sorted select expressions.
func ComputeFingerprint(fromTable string, items []SelectItem) string {
	exprs := make([]string, 0, len(items))
	for _, it := range items {
		exprs = append(exprs, it.Expression)
	}
	sort.Strings(exprs)
	sum := sha256.Sum256([]byte(fromTable + "|" + strings.Join(exprs, "|")))
	return hex.EncodeToString(sum[:])
}

// HistoryRecord is an immutable snapshot of a superseded active model.
type HistoryRecord struct {
	ID         int64     `json:"history_id"`
	PriorRowID int64     `json:"prior_row_id"`
	Identifier string    `json:"query_id"`
	Question   string    `json:"question"`
	SQLText    string    `json:"sql"`
	ArchivedAt time.Time `json:"archived_at"`
	Reason     string    `json:"reason"`
}

// DerivedModel is a template produced by substituting the WHERE predicates of
// a parent. Select items and joins are read from the parent, never copied.
type DerivedModel struct {
	Identifier       string      `json:"query_id"`
	ParentIdentifier string      `json:"parent_query_id"`
	Question         string      `json:"question"`
	Description      string      `json:"description,omitempty"`
	Category         string      `json:"category"`
	WherePredicates  []Predicate `json:"where_conditions"`
	SQL              string      `json:"normalized_sql"`
	Tags             []string    `json:"tags,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}
