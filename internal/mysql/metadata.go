package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TableStats holds the information_schema figures for one store table.
type TableStats struct {
	Database    string
	Table       string
	Engine      string
	RowCount    int64 // estimate for InnoDB
	DataLength  int64 // bytes
	IndexLength int64 // bytes
}

// TotalSize returns data + index size in bytes.
func (m *TableStats) TotalSize() int64 {
	return m.DataLength + m.IndexLength
}

// TotalSizeHuman returns a human-readable size string.
func (m *TableStats) TotalSizeHuman() string {
	return humanBytes(m.TotalSize())
}

// GetTableStats reads engine and size figures for a table.
func GetTableStats(ctx context.Context, db *sql.DB, database, table string) (*TableStats, error) {
	stats := &TableStats{
		Database: database,
		Table:    table,
	}

	err := db.QueryRowContext(ctx, `
		SELECT
			IFNULL(ENGINE, ''),
			IFNULL(TABLE_ROWS, 0),
			IFNULL(DATA_LENGTH, 0),
			IFNULL(INDEX_LENGTH, 0)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	`, database, table).Scan(
		&stats.Engine,
		&stats.RowCount,
		&stats.DataLength,
		&stats.IndexLength,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("table %s.%s not found", database, table)
		}
		return nil, fmt.Errorf("querying table info: %w", err)
	}
	return stats, nil
}

// CurrentDatabase returns the schema the connection is using.
func CurrentDatabase(ctx context.Context, db *sql.DB) (string, error) {
	var name sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&name); err != nil {
		return "", fmt.Errorf("querying current database: %w", err)
	}
	return name.String, nil
}

func humanBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)
	switch {
	case b >= TB:
		return fmt.Sprintf("%.1f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
