package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nethalo/sqlforge/internal/model"
)

// Store is the Active + History template store.
type Store struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
	now     func() time.Time
}

// Summary is the row-level view of an active template used by search and list.
type Summary struct {
	Identifier        string     `json:"query_id"`
	Question          string     `json:"question"`
	Description       string     `json:"description,omitempty"`
	FromTable         string     `json:"from_table"`
	Tier              model.Tier `json:"complexity_tier"`
	EntityCount       int        `json:"effective_entity_count"`
	Entities          []string   `json:"entities"`
	Tags              []string   `json:"tags,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ModificationCount int        `json:"modification_count"`
}

// SearchFilter narrows Search. Empty Text matches every template.
type SearchFilter struct {
	Text  string
	Tier  model.Tier
	Limit int
}

// ListFilter narrows List.
type ListFilter struct {
	Tier  model.Tier
	Limit int
}

// Counts aggregates row counts across the active store.
type Counts struct {
	Templates   int                `json:"templates"`
	History     int                `json:"history"`
	SelectItems int                `json:"select_items"`
	Joins       int                `json:"joins"`
	Predicates  int                `json:"predicates"`
	ByTier      map[model.Tier]int `json:"by_tier"`
}

// Open connects to the configured backend and applies the active schema.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	db, err := openDB(ctx, opts)
	if err != nil {
		return nil, err
	}
	s := New(db, dialectFor(opts.Driver), logger)
	if err := migrate(ctx, db, s.dialect, kindActive); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("template store opened", "driver", s.dialect, "path", opts.Path)
	return s, nil
}

// New wraps an already-migrated database handle.
func New(db *sql.DB, dialect string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores m as the active model for its identifier. An existing active
// model is archived to history and removed, with its dependent rows, in the
// same transaction as the insert. It reports whether an archive happened.
func (s *Store) Put(ctx context.Context, m *model.StructuralModel) (bool, error) {
	if m == nil || strings.TrimSpace(m.Identifier) == "" {
		return false, &model.ValidationError{Field: "identifier", Problems: []string{"must not be empty"}}
	}

	txErr := func(err error) error {
		return &model.TxError{Op: "put", Identifier: m.Identifier, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, txErr(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	archived, err := s.archive(ctx, tx, m.Identifier)
	if err != nil {
		return false, txErr(err)
	}
	if err := s.insert(ctx, tx, m); err != nil {
		return false, txErr(err)
	}
	if err := tx.Commit(); err != nil {
		return false, txErr(fmt.Errorf("commit: %w", err))
	}

	s.logger.Info("template stored", "query_id", m.Identifier, "tier", m.Tier, "archived", archived)
	return archived, nil
}

// archive moves the active row for identifier, if any, into history and
// deletes it together with its dependent rows.
func (s *Store) archive(ctx context.Context, tx *sql.Tx, identifier string) (bool, error) {
	var (
		rowID              int64
		question, original string
		normalized         string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, question, original_sql, normalized_sql FROM templates WHERE query_id = ?`,
		identifier,
	).Scan(&rowID, &question, &original, &normalized)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read prior row: %w", err)
	}

	sqlText := original
	if sqlText == "" {
		sqlText = normalized
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO template_history (prior_row_id, query_id, question, sql_text, archived_at, reason)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rowID, identifier, question, sqlText, formatTime(s.now()), model.ReasonUpdate,
	); err != nil {
		return false, fmt.Errorf("insert history: %w", err)
	}

	for _, table := range []string{"template_select_items", "template_joins", "template_predicates"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE template_id = ?", rowID); err != nil {
			return false, fmt.Errorf("delete %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, rowID); err != nil {
		return false, fmt.Errorf("delete prior row: %w", err)
	}
	return true, nil
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, m *model.StructuralModel) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	var modifiedAt sql.NullString
	if m.ModifiedAt != nil {
		modifiedAt = sql.NullString{String: formatTime(*m.ModifiedAt), Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO templates (query_id, question, description, from_table, complexity_tier,
			entity_count, entities, tags, group_by, order_by, original_sql, normalized_sql,
			fingerprint, created_at, modified_at, modification_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Identifier, m.Question, m.Description, m.FromTable, string(m.Tier),
		m.EntityCount, encodeList(m.Entities), encodeList(m.Tags), encodeList(m.GroupBy), encodeList(m.OrderBy),
		m.OriginalSQL, m.NormalizedSQL, m.Fingerprint, formatTime(createdAt), modifiedAt, m.ModificationCount,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("template row id: %w", err)
	}

	for i, it := range m.SelectItems {
		category := it.Category
		if category == "" {
			category = model.DefaultCategory
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO template_select_items (template_id, ordinal, alias, expression, source_table, source_column, aggregation, category)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rowID, i, it.Alias, it.Expression, it.SourceTable, it.SourceColumn, it.Aggregation, category,
		); err != nil {
			return fmt.Errorf("insert select item %d: %w", i, err)
		}
	}
	for i, j := range m.Joins {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO template_joins (template_id, ordinal, join_kind, table_name, on_condition, relationship)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rowID, i, j.Kind, j.Table, j.OnCondition, j.Relationship,
		); err != nil {
			return fmt.Errorf("insert join %d: %w", i, err)
		}
	}
	for i, p := range m.WherePredicates {
		if err := insertPredicate(ctx, tx, "template_predicates", "template_id", rowID, i, p); err != nil {
			return err
		}
	}
	return nil
}

func insertPredicate(ctx context.Context, tx *sql.Tx, table, fk string, rowID int64, i int, p model.Predicate) error {
	kind := p.Kind
	if kind == "" {
		kind = model.FilterPredicate
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO "+table+" ("+fk+", ordinal, column_name, operator, value_text, predicate_kind) VALUES (?, ?, ?, ?, ?, ?)",
		rowID, i, p.Column, p.Operator, p.Value, kind,
	)
	if err != nil {
		return fmt.Errorf("insert predicate %d: %w", i, err)
	}
	return nil
}

// Get returns the active model for identifier.
func (s *Store) Get(ctx context.Context, identifier string) (*model.StructuralModel, error) {
	m := &model.StructuralModel{}
	var (
		rowID                            int64
		tier                             string
		entities, tags, groupBy, orderBy string
		createdAt                        string
		modifiedAt                       sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, query_id, question, description, from_table, complexity_tier, entity_count,
			entities, tags, group_by, order_by, original_sql, normalized_sql, fingerprint,
			created_at, modified_at, modification_count
		 FROM templates WHERE query_id = ?`,
		identifier,
	).Scan(&rowID, &m.Identifier, &m.Question, &m.Description, &m.FromTable, &tier, &m.EntityCount,
		&entities, &tags, &groupBy, &orderBy, &m.OriginalSQL, &m.NormalizedSQL, &m.Fingerprint,
		&createdAt, &modifiedAt, &m.ModificationCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound(identifier)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	m.Tier = model.Tier(tier)
	m.Entities = decodeList(entities)
	m.Tags = decodeList(tags)
	m.GroupBy = decodeList(groupBy)
	m.OrderBy = decodeList(orderBy)
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("template %s created_at: %w", identifier, err)
	}
	if modifiedAt.Valid {
		t, err := parseTime(modifiedAt.String)
		if err != nil {
			return nil, fmt.Errorf("template %s modified_at: %w", identifier, err)
		}
		m.ModifiedAt = &t
	}

	if m.SelectItems, err = s.selectItems(ctx, rowID); err != nil {
		return nil, err
	}
	if m.Joins, err = s.joins(ctx, rowID); err != nil {
		return nil, err
	}
	if m.WherePredicates, err = queryPredicates(ctx, s.db, "template_predicates", "template_id", rowID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) selectItems(ctx context.Context, rowID int64) ([]model.SelectItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alias, expression, source_table, source_column, aggregation, category
		 FROM template_select_items WHERE template_id = ? ORDER BY ordinal`,
		rowID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query select items: %w", err)
	}
	defer rows.Close()

	items := []model.SelectItem{}
	for rows.Next() {
		var it model.SelectItem
		if err := rows.Scan(&it.Alias, &it.Expression, &it.SourceTable, &it.SourceColumn, &it.Aggregation, &it.Category); err != nil {
			return nil, fmt.Errorf("failed to scan select item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) joins(ctx context.Context, rowID int64) ([]model.Join, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT join_kind, table_name, on_condition, relationship
		 FROM template_joins WHERE template_id = ? ORDER BY ordinal`,
		rowID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query joins: %w", err)
	}
	defer rows.Close()

	joins := []model.Join{}
	for rows.Next() {
		var j model.Join
		if err := rows.Scan(&j.Kind, &j.Table, &j.OnCondition, &j.Relationship); err != nil {
			return nil, fmt.Errorf("failed to scan join: %w", err)
		}
		joins = append(joins, j)
	}
	return joins, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryPredicates(ctx context.Context, q queryer, table, fk string, rowID int64) ([]model.Predicate, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT column_name, operator, value_text, predicate_kind FROM "+table+" WHERE "+fk+" = ? ORDER BY ordinal",
		rowID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query predicates: %w", err)
	}
	defer rows.Close()

	preds := []model.Predicate{}
	for rows.Next() {
		var p model.Predicate
		if err := rows.Scan(&p.Column, &p.Operator, &p.Value, &p.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan predicate: %w", err)
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

const summaryColumns = `query_id, question, description, from_table, complexity_tier, entity_count,
	entities, tags, created_at, modification_count`

// Search matches Text against question, description, entities and tags,
// newest first.
func (s *Store) Search(ctx context.Context, f SearchFilter) ([]Summary, error) {
	var (
		where []string
		args  []any
	)
	if text := strings.TrimSpace(f.Text); text != "" {
		pattern := "%" + text + "%"
		where = append(where, "(question LIKE ? OR description LIKE ? OR entities LIKE ? OR tags LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if f.Tier != "" {
		where = append(where, "complexity_tier = ?")
		args = append(args, string(f.Tier))
	}
	return s.summaries(ctx, where, args, f.Limit)
}

// List returns templates newest first, optionally filtered by tier.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Summary, error) {
	var (
		where []string
		args  []any
	)
	if f.Tier != "" {
		where = append(where, "complexity_tier = ?")
		args = append(args, string(f.Tier))
	}
	return s.summaries(ctx, where, args, f.Limit)
}

func (s *Store) summaries(ctx context.Context, where []string, args []any, limit int) ([]Summary, error) {
	query := "SELECT " + summaryColumns + " FROM templates"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum            Summary
			tier           string
			entities, tags string
			createdAt      string
		)
		if err := rows.Scan(&sum.Identifier, &sum.Question, &sum.Description, &sum.FromTable, &tier,
			&sum.EntityCount, &entities, &tags, &createdAt, &sum.ModificationCount); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		sum.Tier = model.Tier(tier)
		sum.Entities = decodeList(entities)
		sum.Tags = decodeList(tags)
		if sum.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("template %s created_at: %w", sum.Identifier, err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// History returns the archived versions of identifier, newest first.
func (s *Store) History(ctx context.Context, identifier string) ([]model.HistoryRecord, error) {
	return s.history(ctx, "WHERE query_id = ?", []any{identifier}, 0)
}

// RecentHistory returns the latest archived versions across all identifiers.
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]model.HistoryRecord, error) {
	return s.history(ctx, "", nil, limit)
}

func (s *Store) history(ctx context.Context, where string, args []any, limit int) ([]model.HistoryRecord, error) {
	query := `SELECT id, prior_row_id, query_id, question, sql_text, archived_at, reason FROM template_history ` +
		where + ` ORDER BY id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	out := []model.HistoryRecord{}
	for rows.Next() {
		var (
			h          model.HistoryRecord
			archivedAt string
		)
		if err := rows.Scan(&h.ID, &h.PriorRowID, &h.Identifier, &h.Question, &h.SQLText, &archivedAt, &h.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if h.ArchivedAt, err = parseTime(archivedAt); err != nil {
			return nil, fmt.Errorf("history %d archived_at: %w", h.ID, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// IncrementModification bumps modification_count and stamps modified_at.
// It touches no select, join or predicate rows.
func (s *Store) IncrementModification(ctx context.Context, identifier string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET modification_count = modification_count + 1, modified_at = ? WHERE query_id = ?`,
		formatTime(at), identifier,
	)
	if err != nil {
		return fmt.Errorf("failed to update modification count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update modification count: %w", err)
	}
	if n == 0 {
		return model.NotFound(identifier)
	}
	return nil
}

// Counts returns aggregate row counts.
func (s *Store) Counts(ctx context.Context) (*Counts, error) {
	c := &Counts{ByTier: map[model.Tier]int{}}
	for table, dst := range map[string]*int{
		"templates":             &c.Templates,
		"template_history":      &c.History,
		"template_select_items": &c.SelectItems,
		"template_joins":        &c.Joins,
		"template_predicates":   &c.Predicates,
	} {
		n, err := countRows(ctx, s.db, table)
		if err != nil {
			return nil, err
		}
		*dst = n
	}

	rows, err := s.db.QueryContext(ctx, `SELECT complexity_tier, COUNT(*) FROM templates GROUP BY complexity_tier`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tier string
			n    int
		)
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("failed to scan tier count: %w", err)
		}
		c.ByTier[model.Tier(tier)] = n
	}
	return c, rows.Err()
}

func countRows(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, table string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeList(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []string{}
	}
	return out
}
