package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nethalo/sqlforge/internal/model"
)

// DerivedStore holds templates produced by predicate substitution. It is a
// separate resource from Store; nothing spans both in one transaction.
type DerivedStore struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
}

// OpenDerived connects to the configured backend and applies the derived schema.
func OpenDerived(ctx context.Context, opts Options, logger *slog.Logger) (*DerivedStore, error) {
	db, err := openDB(ctx, opts)
	if err != nil {
		return nil, err
	}
	d := NewDerived(db, dialectFor(opts.Driver), logger)
	if err := migrate(ctx, db, d.dialect, kindDerived); err != nil {
		db.Close()
		return nil, err
	}
	d.logger.Debug("derived store opened", "driver", d.dialect, "path", opts.Path)
	return d, nil
}

// NewDerived wraps an already-migrated database handle.
func NewDerived(db *sql.DB, dialect string, logger *slog.Logger) *DerivedStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DerivedStore{db: db, dialect: dialect, logger: logger}
}

// Close closes the database connection.
func (d *DerivedStore) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Put inserts a derived template and its predicates in one transaction.
func (d *DerivedStore) Put(ctx context.Context, m *model.DerivedModel) error {
	if m == nil || strings.TrimSpace(m.Identifier) == "" {
		return &model.ValidationError{Field: "identifier", Problems: []string{"must not be empty"}}
	}

	txErr := func(err error) error {
		return &model.TxError{Op: "put derived", Identifier: m.Identifier, Err: err}
	}

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	category := m.Category
	if category == "" {
		category = model.DefaultCategory
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return txErr(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO derived_templates (query_id, parent_query_id, question, description, category, sql_text, tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Identifier, m.ParentIdentifier, m.Question, m.Description, category, m.SQL, encodeList(m.Tags), formatTime(createdAt),
	)
	if err != nil {
		return txErr(fmt.Errorf("insert derived template: %w", err))
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return txErr(fmt.Errorf("derived row id: %w", err))
	}
	for i, p := range m.WherePredicates {
		if err := insertPredicate(ctx, tx, "derived_predicates", "derived_id", rowID, i, p); err != nil {
			return txErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return txErr(fmt.Errorf("commit: %w", err))
	}

	d.logger.Info("derived template stored", "query_id", m.Identifier, "parent", m.ParentIdentifier)
	return nil
}

// Get returns the derived template for identifier.
func (d *DerivedStore) Get(ctx context.Context, identifier string) (*model.DerivedModel, error) {
	m := &model.DerivedModel{}
	var (
		rowID     int64
		tags      string
		createdAt string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, query_id, parent_query_id, question, description, category, sql_text, tags, created_at
		 FROM derived_templates WHERE query_id = ?`,
		identifier,
	).Scan(&rowID, &m.Identifier, &m.ParentIdentifier, &m.Question, &m.Description, &m.Category, &m.SQL, &tags, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound(identifier)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get derived template: %w", err)
	}

	m.Tags = decodeList(tags)
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("derived %s created_at: %w", identifier, err)
	}
	if m.WherePredicates, err = queryPredicates(ctx, d.db, "derived_predicates", "derived_id", rowID); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete removes a derived template and its predicates. It is used to
// compensate a regeneration whose parent update failed.
func (d *DerivedStore) Delete(ctx context.Context, identifier string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return &model.TxError{Op: "delete derived", Identifier: identifier, Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	var rowID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM derived_templates WHERE query_id = ?`, identifier).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NotFound(identifier)
	}
	if err != nil {
		return fmt.Errorf("failed to find derived template: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM derived_predicates WHERE derived_id = ?`, rowID); err != nil {
		return &model.TxError{Op: "delete derived", Identifier: identifier, Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM derived_templates WHERE id = ?`, rowID); err != nil {
		return &model.TxError{Op: "delete derived", Identifier: identifier, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &model.TxError{Op: "delete derived", Identifier: identifier, Err: fmt.Errorf("commit: %w", err)}
	}

	d.logger.Warn("derived template removed", "query_id", identifier)
	return nil
}

// Exists reports whether a derived template with identifier is stored.
func (d *DerivedStore) Exists(ctx context.Context, identifier string) (bool, error) {
	var n int
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM derived_templates WHERE query_id = ?`, identifier,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check derived template: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of derived templates.
func (d *DerivedStore) Count(ctx context.Context) (int, error) {
	return countRows(ctx, d.db, "derived_templates")
}

// ListByParent returns the identifiers derived from parent, oldest first.
func (d *DerivedStore) ListByParent(ctx context.Context, parent string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT query_id FROM derived_templates WHERE parent_query_id = ? ORDER BY id`, parent)
	if err != nil {
		return nil, fmt.Errorf("failed to list derived templates: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan derived template: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
