package mysql

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"syscall"

	mysqldriver "github.com/go-sql-driver/mysql"
	"golang.org/x/term"
)

// DefaultDatabase is the schema used when none is configured.
const DefaultDatabase = "sqlforge"

const customTLSName = "sqlforge-custom"

// ConnectionConfig holds MySQL connection parameters.
type ConnectionConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Socket   string
	TLSMode  string // "", "disabled", "preferred", "required", "skip-verify", "custom"
	TLSCA    string // path to CA certificate file (required when TLSMode == "custom")
}

// Connect establishes a MySQL connection for a template store.
func Connect(ctx context.Context, cfg ConnectionConfig) (*sql.DB, error) {
	// Register custom TLS config before building DSN
	if cfg.TLSMode == "custom" {
		if cfg.TLSCA == "" {
			return nil, fmt.Errorf("store.mysql.tls_ca is required when store.mysql.tls=custom")
		}
		if err := registerCustomTLS(cfg.TLSCA); err != nil {
			return nil, fmt.Errorf("TLS setup failed: %w", err)
		}
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	// Writes are sequential; a small pool is enough.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	return db, nil
}

// registerCustomTLS reads a CA certificate PEM file and registers it as a named TLS config.
func registerCustomTLS(caPath string) error {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return fmt.Errorf("reading CA certificate %q: %w", caPath, err)
	}

	rootCAs := x509.NewCertPool()
	if !rootCAs.AppendCertsFromPEM(pem) {
		return fmt.Errorf("no valid certificates found in %q", caPath)
	}

	return mysqldriver.RegisterTLSConfig(customTLSName, &tls.Config{
		RootCAs: rootCAs,
	})
}

func buildDSN(cfg ConnectionConfig) (string, error) {
	switch cfg.TLSMode {
	case "", "disabled", "preferred", "required", "skip-verify", "custom":
	default:
		return "", fmt.Errorf("invalid TLS mode %q: valid values are disabled, preferred, required, skip-verify, custom", cfg.TLSMode)
	}

	dc := mysqldriver.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	if cfg.Socket != "" {
		dc.Net = "unix"
		dc.Addr = cfg.Socket
	} else {
		dc.Net = "tcp"
		dc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}
	dc.DBName = cfg.Database
	if dc.DBName == "" {
		dc.DBName = DefaultDatabase
	}
	dc.InterpolateParams = true

	switch cfg.TLSMode {
	case "preferred":
		dc.TLSConfig = "preferred"
	case "required":
		dc.TLSConfig = "true"
	case "skip-verify":
		dc.TLSConfig = "skip-verify"
	case "custom":
		dc.TLSConfig = customTLSName
	}

	return dc.FormatDSN(), nil
}

// PromptPassword reads a password from the terminal without echoing.
func PromptPassword() string {
	fmt.Fprint(os.Stderr, "Enter MySQL password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(password)
}
