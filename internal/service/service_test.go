package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nethalo/sqlforge/internal/analyzer"
	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/parser"
	"github.com/nethalo/sqlforge/internal/store"
	"github.com/nethalo/sqlforge/internal/testutil"
)

const tripsSQL = `SELECT COUNT(t.id) AS cnt, s.name
FROM trips t
JOIN stations s ON s.id = t.station_id
WHERE t.d = '2025-01-01' AND t.kind IN (1, 2)
GROUP BY s.name
ORDER BY cnt DESC`

type fixture struct {
	svc     *Service
	active  *store.Store
	derived *store.DerivedStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := testutil.NewTestLogger(t)

	active, err := store.Open(ctx, store.Options{Driver: store.DriverSQLite, Path: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = active.Close() })
	derived, err := store.OpenDerived(ctx, store.Options{Driver: store.DriverSQLite, Path: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = derived.Close() })

	return &fixture{svc: New(active, derived, logger), active: active, derived: derived}
}

func (f *fixture) put(t *testing.T, id, question, sql string, mutate func(*model.StructuralModel)) {
	t.Helper()
	res, err := analyzer.Analyze(analyzer.Input{
		SQL:  sql,
		Meta: analyzer.Meta{Identifier: id, Question: question, Tags: []string{"mobility"}},
	})
	require.NoError(t, err)
	if mutate != nil {
		mutate(res.Model)
	}
	_, err = f.active.Put(context.Background(), res.Model)
	require.NoError(t, err)
}

func withDetailCategory(m *model.StructuralModel) {
	m.SelectItems[1].Category = "detail"
}

func TestRegenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "7", "trips per station", tripsSQL, nil)

	before, err := f.active.Counts(ctx)
	require.NoError(t, err)

	res, err := f.svc.Regenerate(ctx, RegenerateRequest{
		Identifier: "7",
		Predicates: []model.Predicate{{Column: "t.d", Operator: ">=", Value: "'2025-02-01'"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "7_modified_1", res.Identifier)
	assert.Equal(t, "7", res.ParentIdentifier)
	assert.Equal(t, model.DefaultCategory, res.Category)
	assert.Equal(t, model.FilterPredicate, res.Predicates[0].Kind)
	assert.Contains(t, res.SQL, "FROM trips t")
	assert.Contains(t, res.SQL, "JOIN stations s ON")
	assert.Contains(t, res.SQL, "WHERE t.d >= '2025-02-01'")
	assert.NotContains(t, res.SQL, "2025-01-01")
	_, err = parser.Parse(res.SQL)
	assert.NoError(t, err)

	after, err := f.active.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "parent select/join/predicate rows unchanged")

	parent, err := f.active.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 1, parent.ModificationCount)
	assert.NotNil(t, parent.ModifiedAt)

	stored, err := f.derived.Get(ctx, "7_modified_1")
	require.NoError(t, err)
	assert.Equal(t, "RE: trips per station", stored.Question)
	assert.Equal(t, res.SQL, stored.SQL)
	assert.Equal(t, []string{"mobility"}, stored.Tags)

	second, err := f.svc.Regenerate(ctx, RegenerateRequest{Identifier: "7", Question: "only kind 3"})
	require.NoError(t, err)
	assert.Equal(t, "7_modified_2", second.Identifier)
	assert.NotContains(t, second.SQL, "WHERE")
}

func TestRegenerate_Category(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "7", "trips per station", tripsSQL, withDetailCategory)

	res, err := f.svc.Regenerate(ctx, RegenerateRequest{Identifier: "7", Category: "detail"})
	require.NoError(t, err)
	assert.Equal(t, "detail", res.Category)
	assert.Contains(t, res.SQL, "s.name")
	assert.NotContains(t, res.SQL, "'cnt'")

	// Unknown categories fall back to "all".
	res, err = f.svc.Regenerate(ctx, RegenerateRequest{Identifier: "7", Category: "summary"})
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "'cnt'")
	assert.NotContains(t, res.SQL, "s.name AS")
}

func TestRegenerate_SkipsTakenIdentifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "7", "trips per station", tripsSQL, nil)

	require.NoError(t, f.derived.Put(ctx, &model.DerivedModel{
		Identifier: "7_modified_1", ParentIdentifier: "7", SQL: "SELECT 1 FROM trips",
	}))

	res, err := f.svc.Regenerate(ctx, RegenerateRequest{Identifier: "7"})
	require.NoError(t, err)
	assert.Equal(t, "7_modified_2", res.Identifier)
}

func TestRegenerate_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Regenerate(context.Background(), RegenerateRequest{Identifier: "nope"})
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestRegenerate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		pred model.Predicate
	}{
		{name: "bad column", pred: model.Predicate{Column: "t.d; DROP TABLE x", Operator: "=", Value: "1"}},
		{name: "empty column", pred: model.Predicate{Operator: "=", Value: "1"}},
		{name: "unsupported operator", pred: model.Predicate{Column: "t.d", Operator: "LIKE", Value: "'a%'"}},
		{name: "empty value", pred: model.Predicate{Column: "t.d", Operator: "=", Value: "  "}},
		{name: "between without and", pred: model.Predicate{Column: "t.d", Operator: "BETWEEN", Value: "1"}},
		{name: "in without parens", pred: model.Predicate{Column: "t.kind", Operator: "IN", Value: "1, 2"}},
		{name: "statement separator", pred: model.Predicate{Column: "t.d", Operator: "=", Value: "1; DELETE FROM trips"}},
		{name: "unparseable value", pred: model.Predicate{Column: "t.d", Operator: "=", Value: "'unterminated"}},
		{name: "value adds OR", pred: model.Predicate{Column: "t.d", Operator: "=", Value: "'2025-02-01' OR 1 = 1"}},
		{name: "value adds AND condition", pred: model.Predicate{Column: "t.d", Operator: "=", Value: "'2025-02-01' AND t.kind = 3"}},
		{name: "value negates", pred: model.Predicate{Column: "t.d", Operator: ">", Value: "1 AND NOT t.kind = 3"}},
		{name: "value adds EXISTS", pred: model.Predicate{Column: "t.d", Operator: "=", Value: "1 AND EXISTS (SELECT 1 FROM stations)"}},
		{name: "between adds condition", pred: model.Predicate{Column: "t.d", Operator: "BETWEEN", Value: "1 AND 5 AND t.kind > 0"}},
	}

	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "7", "trips per station", tripsSQL, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Regenerate(ctx, RegenerateRequest{Identifier: "7", Predicates: []model.Predicate{tt.pred}})
			var verr *model.ValidationError
			require.True(t, errors.As(err, &verr), "want *model.ValidationError, got %v", err)
		})
	}

	n, err := f.derived.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	parent, err := f.active.Get(ctx, "7")
	require.NoError(t, err)
	assert.Zero(t, parent.ModificationCount)
}

func TestRegenerate_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "7", "trips per station", tripsSQL, nil)

	const n = 8
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Regenerate(ctx, RegenerateRequest{
				Identifier: "7",
				Predicates: []model.Predicate{{Column: "t.d", Operator: "=", Value: fmt.Sprintf("'2025-02-%02d'", i+1)}},
			})
			errs[i] = err
			if err == nil {
				ids[i] = res.Identifier
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range ids {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "identifier %s handed out twice", ids[i])
		seen[ids[i]] = true
	}
	parent, err := f.active.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, n, parent.ModificationCount)
}

func TestValidatePredicates_Normalizes(t *testing.T) {
	got, err := ValidatePredicates([]model.Predicate{
		{Column: " t.d ", Operator: "between", Value: "'2025-01-01' AND '2025-01-31'"},
		{Column: "`t`.`kind`", Operator: "!=", Value: "3", Kind: "param"},
		{Column: "d", Operator: "in", Value: "(1, 2)"},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.Predicate{
		{Column: "t.d", Operator: "BETWEEN", Value: "'2025-01-01' AND '2025-01-31'", Kind: model.FilterPredicate},
		{Column: "`t`.`kind`", Operator: "<>", Value: "3", Kind: "param"},
		{Column: "d", Operator: "IN", Value: "(1, 2)", Kind: model.FilterPredicate},
	}, got)
}

type failingActive struct {
	ActiveStore
	err error
}

func (f failingActive) IncrementModification(context.Context, string, time.Time) error {
	return f.err
}

func TestRegenerate_CompensatesFailedIncrement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "7", "trips per station", tripsSQL, nil)

	svc := New(failingActive{ActiveStore: f.active, err: errors.New("database is locked")}, f.derived, testutil.NewTestLogger(t))
	_, err := svc.Regenerate(ctx, RegenerateRequest{Identifier: "7"})

	var txErr *model.TxError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, "regenerate", txErr.Op)
	assert.Contains(t, err.Error(), "database is locked")

	exists, err := f.derived.Exists(ctx, "7_modified_1")
	require.NoError(t, err)
	assert.False(t, exists, "derived template removed after failed increment")
}

func TestGetDetails_Active(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "7", "trips per station", tripsSQL, withDetailCategory)

	d, err := f.svc.GetDetails(ctx, "7")
	require.NoError(t, err)
	assert.False(t, d.Derived)
	assert.Equal(t, model.TierB, d.Tier)
	assert.Equal(t, "trips t", d.FromTable)
	assert.Len(t, d.Joins, 1)
	assert.Equal(t, []string{"all", "detail"}, d.Categories)
	require.Len(t, d.Predicates, 2)
	for _, p := range d.Predicates {
		assert.True(t, p.Editable)
	}
	assert.Equal(t, "t.d", d.Predicates[0].Column)
	assert.False(t, d.NestedWhere)
	assert.Empty(t, d.Unmodeled)
	assert.NotEmpty(t, d.SQL)
}

func TestGetDetails_NestedWhere(t *testing.T) {
	f := newFixture(t)
	f.put(t, "9", "either kind", "SELECT t.id FROM trips t WHERE t.kind = 1 OR t.kind = 2", nil)

	d, err := f.svc.GetDetails(context.Background(), "9")
	require.NoError(t, err)
	assert.True(t, d.NestedWhere)
	assert.Len(t, d.Predicates, 2)
}

func TestGetDetails_UnmodeledClauses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "11", "busiest stations", "SELECT DISTINCT s.name FROM trips t JOIN stations s ON s.id = t.station_id WHERE t.d = '2025-01-01' LIMIT 10", nil)

	d, err := f.svc.GetDetails(ctx, "11")
	require.NoError(t, err)
	assert.Equal(t, []string{"DISTINCT", "LIMIT 10"}, d.Unmodeled)

	res, err := f.svc.Regenerate(ctx, RegenerateRequest{
		Identifier: "11",
		Predicates: []model.Predicate{{Column: "t.d", Operator: "=", Value: "'2025-02-01'"}},
	})
	require.NoError(t, err)
	assert.NotContains(t, res.SQL, "LIMIT")

	derived, err := f.svc.GetDetails(ctx, res.Identifier)
	require.NoError(t, err)
	assert.Equal(t, []string{"DISTINCT", "LIMIT 10"}, derived.Unmodeled, "derived details report what the parent lost")
}

func TestGetDetails_Derived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "7", "trips per station", tripsSQL, withDetailCategory)

	res, err := f.svc.Regenerate(ctx, RegenerateRequest{
		Identifier: "7",
		Category:   "detail",
		Predicates: []model.Predicate{{Column: "t.kind", Operator: "IN", Value: "(3)"}},
	})
	require.NoError(t, err)

	d, err := f.svc.GetDetails(ctx, res.Identifier)
	require.NoError(t, err)
	assert.True(t, d.Derived)
	assert.Equal(t, "7", d.ParentIdentifier)
	assert.Equal(t, "detail", d.Category)
	assert.Len(t, d.Joins, 1, "joins come from the parent")
	require.Len(t, d.SelectItems, 1)
	assert.Equal(t, "detail", d.SelectItems[0].Category)
	require.Len(t, d.Predicates, 1)
	assert.Equal(t, "IN", d.Predicates[0].Operator)
	assert.True(t, d.Predicates[0].Editable)
	assert.Equal(t, res.SQL, d.SQL)

	parent, err := f.svc.GetDetails(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, []string{res.Identifier}, parent.Versions)
}

func TestGetDetails_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetDetails(context.Background(), "missing")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestListSearchStatusHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, id := range []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"} {
		created := time.Date(2025, 1, 1+i, 0, 0, 0, 0, time.UTC)
		f.put(t, id, "question "+id, "SELECT t.id FROM trips t", func(m *model.StructuralModel) { m.CreatedAt = created })
	}
	f.put(t, "1", "question 1 revised", "SELECT t.id FROM trips t JOIN stations s ON s.id = t.station_id", nil)

	list, err := f.svc.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, list, DefaultListLimit)

	list, err = f.svc.List(ctx, model.TierB, 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1", list[0].Identifier)

	found, err := f.svc.Search(ctx, "revised", "")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "1", found[0].Identifier)

	_, err = f.svc.Regenerate(ctx, RegenerateRequest{Identifier: "2"})
	require.NoError(t, err)

	st, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, st.Active)
	assert.Equal(t, 1, st.Derived)
	assert.Equal(t, 1, st.History)
	assert.Equal(t, 11, st.ByTier[model.TierA])
	assert.Equal(t, 1, st.ByTier[model.TierB])
	assert.Equal(t, 1, st.Joins)

	history, err := f.svc.History(ctx, "1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "question 1", history[0].Question)

	history, err = f.svc.History(ctx, "2")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = f.svc.History(ctx, "nope")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	all, err := f.svc.Templates(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 12)
}
