package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ServerVersion represents a parsed MySQL version.
type ServerVersion struct {
	Raw    string // e.g. "8.0.35-27-Percona XtraDB Cluster"
	Major  int
	Minor  int
	Patch  int
	Flavor string // "mysql", "percona", "percona-xtradb-cluster", "mariadb", "aurora-mysql"
}

// String returns a human-readable version string.
func (v ServerVersion) String() string {
	return fmt.Sprintf("%d.%d.%d (%s)", v.Major, v.Minor, v.Patch, v.Flavor)
}

// AtLeast returns true if the server version is >= the given version.
func (v ServerVersion) AtLeast(major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Patch >= patch
}

// SupportsStore reports whether the server can host the template schema
// (utf8mb4 VARCHAR(191) unique keys need 5.7+).
func (v ServerVersion) SupportsStore() bool {
	if v.Flavor == "mariadb" {
		return v.AtLeast(10, 2, 0)
	}
	return v.AtLeast(5, 7, 0)
}

var (
	auroraVersionRe  = regexp.MustCompile(`^(\d+)\.(\d+)\.mysql_aurora\.(\d+\.\d+\.\d+)`)
	generalVersionRe = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)
)

// GetServerVersion queries and parses the server version.
func GetServerVersion(ctx context.Context, db *sql.DB) (ServerVersion, error) {
	var raw string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&raw); err != nil {
		return ServerVersion{}, fmt.Errorf("querying version: %w", err)
	}
	return ParseVersion(raw)
}

// ParseVersion parses a MySQL version string.
func ParseVersion(raw string) (ServerVersion, error) {
	v := ServerVersion{Raw: raw}

	// Aurora versions have no numeric patch and must be matched first.
	if m := auroraVersionRe.FindStringSubmatch(raw); len(m) >= 4 {
		v.Major, _ = strconv.Atoi(m[1])
		v.Minor, _ = strconv.Atoi(m[2])
		v.Flavor = "aurora-mysql"
		return v, nil
	}

	matches := generalVersionRe.FindStringSubmatch(raw)
	if len(matches) < 4 {
		return v, fmt.Errorf("could not parse version: %s", raw)
	}

	v.Major, _ = strconv.Atoi(matches[1])
	v.Minor, _ = strconv.Atoi(matches[2])
	v.Patch, _ = strconv.Atoi(matches[3])

	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "percona xtradb cluster"):
		v.Flavor = "percona-xtradb-cluster"
	case strings.Contains(lower, "percona"):
		v.Flavor = "percona"
	case strings.Contains(lower, "mariadb"):
		v.Flavor = "mariadb"
	default:
		v.Flavor = "mysql"
	}

	return v, nil
}

// GetVariable reads a single session variable.
// Returns the value, or empty string if the variable doesn't exist.
func GetVariable(ctx context.Context, db *sql.DB, name string) (string, error) {
	return showLike(ctx, db, "SHOW VARIABLES", name)
}

// GetStatus reads a single global status counter, or empty string if the
// server does not report it.
func GetStatus(ctx context.Context, db *sql.DB, name string) (string, error) {
	return showLike(ctx, db, "SHOW GLOBAL STATUS", name)
}

func showLike(ctx context.Context, db *sql.DB, show, name string) (string, error) {
	var varName, value sql.NullString

	escapedName := strings.ReplaceAll(name, "_", "\\_")
	escapedName = strings.ReplaceAll(escapedName, "%", "\\%")

	// SHOW commands don't support prepared statements in all MySQL drivers
	query := fmt.Sprintf("%s LIKE '%s'", show, escapedName)
	err := db.QueryRowContext(ctx, query).Scan(&varName, &value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query failed: %w", err)
	}
	if !value.Valid {
		return "", nil
	}
	return value.String, nil
}
