package rebuild

import (
	"testing"

	"github.com/nethalo/sqlforge/internal/analyzer"
	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/parser"
)

func TestRebuild_ExactOutput(t *testing.T) {
	got := Rebuild(Input{
		SelectItems: []model.SelectItem{{Alias: "cnt", Expression: "COUNT(t.id)"}},
		FromTable:   "T t",
		Predicates:  []model.Predicate{{Column: "t.d", Operator: "=", Value: "'2025-01-01'"}},
	})
	want := "SELECT\n    COUNT(t.id) AS 'cnt'\nFROM T t\nWHERE t.d = '2025-01-01'"
	if got != want {
		t.Errorf("Rebuild() =\n%s\nwant\n%s", got, want)
	}
}

func TestRebuild_SelectAliasing(t *testing.T) {
	tests := []struct {
		name string
		item model.SelectItem
		want string
	}{
		{name: "alias differs", item: model.SelectItem{Alias: "n", Expression: "COUNT(*)"}, want: "COUNT(*) AS 'n'"},
		{name: "alias equals expression", item: model.SelectItem{Alias: "t.*", Expression: "t.*"}, want: "t.*"},
		{name: "expression already aliased", item: model.SelectItem{Alias: "x", Expression: "a.b AS x"}, want: "a.b AS x"},
		{name: "lower case as", item: model.SelectItem{Alias: "x", Expression: "a.b as x"}, want: "a.b as x"},
		{name: "quoted alias stripped", item: model.SelectItem{Alias: "'total'", Expression: "SUM(v)"}, want: "SUM(v) AS 'total'"},
		{name: "double quoted alias", item: model.SelectItem{Alias: `"total"`, Expression: "SUM(v)"}, want: "SUM(v) AS 'total'"},
		{name: "empty alias", item: model.SelectItem{Expression: "v"}, want: "v"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectItem(tt.item); got != tt.want {
				t.Errorf("selectItem() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRebuild_Joins(t *testing.T) {
	tests := []struct {
		name string
		join model.Join
		want string
	}{
		{name: "inner", join: model.Join{Kind: "INNER", Table: "B b", OnCondition: "a.id = b.id"}, want: "INNER JOIN B b ON a.id = b.id"},
		{name: "left", join: model.Join{Kind: "LEFT", Table: "B b", OnCondition: "a.id = b.id"}, want: "LEFT JOIN B b ON a.id = b.id"},
		{name: "kind already has JOIN", join: model.Join{Kind: "LEFT JOIN", Table: "B b", OnCondition: "a.id = b.id"}, want: "LEFT JOIN B b ON a.id = b.id"},
		{name: "straight join", join: model.Join{Kind: "STRAIGHT_JOIN", Table: "B b", OnCondition: "a.id = b.id"}, want: "STRAIGHT_JOIN B b ON a.id = b.id"},
		{name: "cross", join: model.Join{Kind: "CROSS", Table: "B b"}, want: "CROSS JOIN B b"},
		{name: "using", join: model.Join{Kind: "INNER", Table: "B b", OnCondition: "USING (id)"}, want: "INNER JOIN B b USING (id)"},
		{name: "empty kind", join: model.Join{Table: "B b", OnCondition: "x = y"}, want: "INNER JOIN B b ON x = y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinClause(tt.join); got != tt.want {
				t.Errorf("joinClause() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRebuild_ClauseOrder(t *testing.T) {
	got := Rebuild(Input{
		SelectItems: []model.SelectItem{
			{Alias: "region", Expression: "r.region"},
			{Alias: "total", Expression: "SUM(o.amount)"},
		},
		FromTable: "orders o",
		Joins:     []model.Join{{Kind: "INNER", Table: "regions r", OnCondition: "r.id = o.region_id"}},
		Predicates: []model.Predicate{
			{Column: "o.status", Operator: "IN", Value: "('open', 'paid')"},
			{Column: "o.created", Operator: "BETWEEN", Value: "'2025-01-01' AND '2025-02-01'"},
		},
		GroupBy: []string{"r.region"},
		OrderBy: []string{"total desc"},
	})
	want := "SELECT\n" +
		"    r.region AS 'region',\n" +
		"    SUM(o.amount) AS 'total'\n" +
		"FROM orders o\n" +
		"INNER JOIN regions r ON r.id = o.region_id\n" +
		"WHERE o.status IN ('open', 'paid')\n" +
		"  AND o.created BETWEEN '2025-01-01' AND '2025-02-01'\n" +
		"GROUP BY r.region\n" +
		"ORDER BY total desc"
	if got != want {
		t.Errorf("Rebuild() =\n%s\nwant\n%s", got, want)
	}
}

func TestRebuild_NoWhere(t *testing.T) {
	got := Rebuild(Input{
		SelectItems: []model.SelectItem{{Alias: "id", Expression: "id"}},
		FromTable:   "orders",
	})
	if got != "SELECT\n    id\nFROM orders" {
		t.Errorf("Rebuild() = %q", got)
	}
}

func TestRebuild_Deterministic(t *testing.T) {
	in := Input{
		SelectItems: []model.SelectItem{{Alias: "a", Expression: "x.a"}},
		FromTable:   "X x",
		Predicates:  []model.Predicate{{Column: "x.b", Operator: ">", Value: "1"}},
	}
	if Rebuild(in) != Rebuild(in) {
		t.Error("Rebuild is not deterministic")
	}
}

// Rebuilding a decomposed statement with its own predicates yields the same
// clause set when parsed again.
func TestRebuild_Idempotence(t *testing.T) {
	tests := []string{
		"SELECT COUNT(t.id) AS cnt FROM T t WHERE t.d = '2025-01-01'",
		"SELECT a.x, b.y AS why FROM A a JOIN B b ON a.id = b.id LEFT JOIN C c ON b.id = c.id WHERE a.k IN (1, 2) AND b.v BETWEEN 3 AND 9",
		"SELECT o.region, SUM(o.amount) AS total FROM orders o WHERE o.status <> 'void' GROUP BY o.region ORDER BY total DESC",
		"SELECT * FROM logs",
		"SELECT a.x FROM A a CROSS JOIN B b",
	}

	for _, sql := range tests {
		t.Run(sql, func(t *testing.T) {
			first, err := analyzer.Analyze(analyzer.Input{SQL: sql})
			if err != nil {
				t.Fatalf("Analyze(original): %v", err)
			}
			m := first.Model
			text := Rebuild(FromModel(m, m.SelectItems, m.WherePredicates))

			if _, err := parser.Parse(text); err != nil {
				t.Fatalf("rebuilt SQL does not parse: %v\n%s", err, text)
			}
			second, err := analyzer.Analyze(analyzer.Input{SQL: text})
			if err != nil {
				t.Fatalf("Analyze(rebuilt): %v", err)
			}
			r := second.Model

			if r.FromTable != m.FromTable {
				t.Errorf("FromTable = %q, want %q", r.FromTable, m.FromTable)
			}
			if len(r.SelectItems) != len(m.SelectItems) {
				t.Errorf("select items = %d, want %d", len(r.SelectItems), len(m.SelectItems))
			}
			if len(r.Joins) != len(m.Joins) {
				t.Fatalf("joins = %d, want %d", len(r.Joins), len(m.Joins))
			}
			for i := range m.Joins {
				if r.Joins[i].Kind != m.Joins[i].Kind || r.Joins[i].Table != m.Joins[i].Table {
					t.Errorf("join[%d] = %+v, want %+v", i, r.Joins[i], m.Joins[i])
				}
			}
			if len(r.WherePredicates) != len(m.WherePredicates) {
				t.Fatalf("predicates = %d, want %d", len(r.WherePredicates), len(m.WherePredicates))
			}
			for i := range m.WherePredicates {
				if r.WherePredicates[i] != m.WherePredicates[i] {
					t.Errorf("predicate[%d] = %+v, want %+v", i, r.WherePredicates[i], m.WherePredicates[i])
				}
			}
			if len(r.GroupBy) != len(m.GroupBy) || len(r.OrderBy) != len(m.OrderBy) {
				t.Errorf("group/order = %v/%v, want %v/%v", r.GroupBy, r.OrderBy, m.GroupBy, m.OrderBy)
			}
			if r.Tier != m.Tier {
				t.Errorf("Tier = %s, want %s", r.Tier, m.Tier)
			}
		})
	}
}
