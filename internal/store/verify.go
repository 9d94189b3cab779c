package store

import (
	"context"
	"fmt"

	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/mysql"
	"github.com/nethalo/sqlforge/internal/topology"
)

// RequiredTables are the tables the active schema must contain.
var RequiredTables = []string{
	"templates",
	"template_history",
	"template_select_items",
	"template_joins",
	"template_predicates",
}

// TableCheck is the verification result for one table.
type TableCheck struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
	Rows   int    `json:"rows"`
	Size   string `json:"size,omitempty"` // mysql only
}

// TemplateCheck summarizes the dependent rows of one active template.
type TemplateCheck struct {
	Identifier  string     `json:"query_id"`
	Question    string     `json:"question"`
	Tier        model.Tier `json:"complexity_tier"`
	SelectItems int        `json:"select_items"`
	Joins       int        `json:"joins"`
}

// Report is the outcome of Verify.
type Report struct {
	Backend       string                `json:"backend"`
	ReadOnly      bool                  `json:"read_only"`
	Tables        []TableCheck          `json:"tables"`
	Orphans       map[string]int        `json:"orphans"`
	Templates     []TemplateCheck       `json:"templates"`
	RecentHistory []model.HistoryRecord `json:"recent_history"`
}

// OK reports whether the store is writable, every table exists and no
// orphan rows were found.
func (r *Report) OK() bool {
	if r.ReadOnly {
		return false
	}
	for _, t := range r.Tables {
		if !t.Exists {
			return false
		}
	}
	for _, n := range r.Orphans {
		if n > 0 {
			return false
		}
	}
	return true
}

// Verify checks the schema and data integrity of the active store.
func (s *Store) Verify(ctx context.Context) (*Report, error) {
	r := &Report{Orphans: map[string]int{}}

	backend, err := s.backend(ctx, r)
	if err != nil {
		return nil, err
	}
	r.Backend = backend

	missing := false
	for _, table := range RequiredTables {
		check := TableCheck{Name: table}
		n, err := countRows(ctx, s.db, table)
		if err == nil {
			check.Exists = true
			check.Rows = n
		} else {
			missing = true
			s.logger.Warn("required table missing", "table", table, "error", err)
		}
		if check.Exists && s.dialect == DriverMySQL {
			if size, err := s.mysqlTableSize(ctx, table); err == nil {
				check.Size = size
			}
		}
		r.Tables = append(r.Tables, check)
	}
	if missing {
		return r, nil
	}

	for _, table := range []string{"template_select_items", "template_joins", "template_predicates"} {
		var n int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+table+" d LEFT JOIN templates t ON t.id = d.template_id WHERE t.id IS NULL",
		).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("failed to count orphans in %s: %w", table, err)
		}
		r.Orphans[table] = n
	}

	recent, err := s.List(ctx, ListFilter{Limit: 5})
	if err != nil {
		return nil, err
	}
	for _, sum := range recent {
		tc := TemplateCheck{Identifier: sum.Identifier, Question: sum.Question, Tier: sum.Tier}
		err := s.db.QueryRowContext(ctx,
			`SELECT
				(SELECT COUNT(*) FROM template_select_items si WHERE si.template_id = t.id),
				(SELECT COUNT(*) FROM template_joins j WHERE j.template_id = t.id)
			 FROM templates t WHERE t.query_id = ?`,
			sum.Identifier,
		).Scan(&tc.SelectItems, &tc.Joins)
		if err != nil {
			return nil, fmt.Errorf("failed to count rows for %s: %w", sum.Identifier, err)
		}
		r.Templates = append(r.Templates, tc)
	}

	if r.RecentHistory, err = s.RecentHistory(ctx, 3); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) backend(ctx context.Context, r *Report) (string, error) {
	if s.dialect == DriverMySQL {
		v, err := mysql.GetServerVersion(ctx, s.db)
		if err != nil {
			return "", err
		}
		if !v.SupportsStore() {
			s.logger.Warn("server version may not support the template schema", "version", v.String())
		}
		charset, err := mysql.GetVariable(ctx, s.db, "character_set_database")
		if err != nil {
			return "", err
		}
		topo, err := topology.Detect(ctx, s.db)
		if err != nil {
			return "", err
		}
		r.ReadOnly = !topo.Writable()
		return fmt.Sprintf("mysql %s, charset %s, %s", v, charset, topo), nil
	}

	var version string
	if err := s.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return "", fmt.Errorf("querying sqlite version: %w", err)
	}
	return "sqlite " + version, nil
}

func (s *Store) mysqlTableSize(ctx context.Context, table string) (string, error) {
	database, err := mysql.CurrentDatabase(ctx, s.db)
	if err != nil {
		return "", err
	}
	stats, err := mysql.GetTableStats(ctx, s.db, database, table)
	if err != nil {
		return "", err
	}
	return stats.TotalSizeHuman(), nil
}
