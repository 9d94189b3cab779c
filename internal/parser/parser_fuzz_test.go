package parser

import (
	"testing"
)

// Fuzz test for the SELECT adapter - discovers edge cases and crashes

func FuzzParse(f *testing.F) {
	seeds := []string{
		"SELECT * FROM users",
		"SELECT u.id AS uid FROM users u WHERE u.id = 1",
		"SELECT a.x FROM A a JOIN B b ON a.id = b.id JOIN C c ON b.id = c.id",
		"SELECT a.x FROM A a LEFT JOIN B b ON a.id = b.id",
		"SELECT COUNT(*) FROM t GROUP BY t.k ORDER BY 1",
		"SELECT x FROM t WHERE y BETWEEN 1 AND 2 AND z IN (1, 2)",
		"SELECT `x` FROM `db`.`t`",
		// Potentially problematic inputs
		"",
		" ",
		"  \n\t  ",
		"SELECT",
		"DELETE FROM logs WHERE id = 1",
		"SELECT 1; SELECT 2",
		"'; DROP TABLE users; --",
		"' OR '1'='1",
		"\\x00\\x00",
	}

	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, sql string) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Parse panicked on input %q: %v", sql, r)
			}
		}()

		stmt, err := Parse(sql)
		if err == nil && stmt == nil {
			t.Error("Parse returned nil statement with nil error")
		}
		if stmt == nil {
			return
		}

		// Every accessor must be safe on any parsed SELECT.
		_ = stmt.FromTables()
		_ = stmt.Projection()
		_ = stmt.Joins()
		_ = stmt.Predicates()
		_ = stmt.GroupBy()
		_ = stmt.OrderBy()
		_ = stmt.Unmodeled()
		if stmt.String() == "" {
			t.Errorf("String() empty for input: %q", sql)
		}
	})
}

func FuzzParse_Predicates(f *testing.F) {
	f.Add("t.a = 1")
	f.Add("t.a BETWEEN 1 AND 2")
	f.Add("t.a IN ('x', 'y') OR NOT t.b > 3")

	f.Fuzz(func(t *testing.T, where string) {
		stmt, err := Parse("SELECT t.a FROM t WHERE " + where)
		if err != nil {
			return
		}
		for _, p := range stmt.Predicates() {
			if p.Operator == "" {
				t.Errorf("predicate with empty operator for WHERE %q", where)
			}
		}
	})
}
