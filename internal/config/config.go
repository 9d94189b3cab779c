// Package config loads sqlforge settings from a viper instance fed by the
// config file, SQLFORGE_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/nethalo/sqlforge/internal/mysql"
	"github.com/nethalo/sqlforge/internal/store"
)

// EnvPrefix is prepended to every environment override, e.g. SQLFORGE_STORE_PATH.
const EnvPrefix = "SQLFORGE"

// Config is the resolved configuration passed to every component.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Log      LogConfig      `mapstructure:"log"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Serve    ServeConfig    `mapstructure:"serve"`
}

// StoreConfig selects the template store backend.
type StoreConfig struct {
	Driver        string      `mapstructure:"driver"`
	Path          string      `mapstructure:"path"`
	GeneratedPath string      `mapstructure:"generated_path"`
	MySQL         MySQLConfig `mapstructure:"mysql"`
}

// MySQLConfig holds the connection used when store.driver is mysql.
type MySQLConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	GeneratedDatabase string `mapstructure:"generated_database"`
	Socket            string `mapstructure:"socket"`
	TLS               string `mapstructure:"tls"`
	TLSCA             string `mapstructure:"tls_ca"`
}

// PathsConfig holds the ingest directories.
type PathsConfig struct {
	Source    string `mapstructure:"source"`
	Templates string `mapstructure:"templates"`
}

// DefaultsConfig holds per-command defaults.
type DefaultsConfig struct {
	Format    string `mapstructure:"format"`
	ListLimit int    `mapstructure:"list_limit"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IngestConfig controls the ingest pipeline.
type IngestConfig struct {
	Workers int  `mapstructure:"workers"`
	Load    bool `mapstructure:"load"`
}

// ServeConfig controls the serve command.
type ServeConfig struct {
	Transport string `mapstructure:"transport"`
	Port      int    `mapstructure:"port"`
}

// Dir returns the default configuration directory, $HOME/.sqlforge.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sqlforge"), nil
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	base := ".sqlforge"
	if dir, err := Dir(); err == nil {
		base = dir
	}

	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.path", filepath.Join(base, "templates.db"))
	v.SetDefault("store.generated_path", filepath.Join(base, "generated.db"))
	v.SetDefault("store.mysql.host", "127.0.0.1")
	v.SetDefault("store.mysql.port", 3306)
	v.SetDefault("store.mysql.user", "sqlforge")
	v.SetDefault("store.mysql.database", "sqlforge")

	v.SetDefault("paths.source", "sql")
	v.SetDefault("paths.templates", "templates")

	v.SetDefault("defaults.format", "text")
	v.SetDefault("defaults.list_limit", 10)

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.load", false)

	v.SetDefault("serve.transport", "stdio")
	v.SetDefault("serve.port", 8765)
}

// BindEnv makes every key overridable as SQLFORGE_<SECTION>_<KEY>.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case store.DriverSQLite:
		if c.Store.Path == "" || c.Store.GeneratedPath == "" {
			errs = append(errs, errors.New("store.path and store.generated_path are required for sqlite"))
		} else if c.Store.Path == c.Store.GeneratedPath && c.Store.Path != ":memory:" {
			errs = append(errs, errors.New("store.path and store.generated_path must differ"))
		}
	case store.DriverMySQL:
		if c.Store.MySQL.Database == "" {
			errs = append(errs, errors.New("store.mysql.database is required for mysql"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be %s or %s, got %q", store.DriverSQLite, store.DriverMySQL, c.Store.Driver))
	}

	if !oneOf(c.Defaults.Format, "text", "plain", "json", "markdown") {
		errs = append(errs, fmt.Errorf("defaults.format must be text, plain, json or markdown, got %q", c.Defaults.Format))
	}
	if c.Defaults.ListLimit <= 0 {
		errs = append(errs, fmt.Errorf("defaults.list_limit must be positive, got %d", c.Defaults.ListLimit))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if !oneOf(c.Log.Format, "text", "json") {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers))
	}
	if !oneOf(c.Serve.Transport, "stdio", "sse", "http") {
		errs = append(errs, fmt.Errorf("serve.transport must be stdio, sse or http, got %q", c.Serve.Transport))
	}
	if c.Serve.Port <= 0 || c.Serve.Port > 65535 {
		errs = append(errs, fmt.Errorf("serve.port out of range: %d", c.Serve.Port))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ActiveStore returns the options for the active template store.
func (c *Config) ActiveStore() store.Options {
	return store.Options{Driver: c.Store.Driver, Path: c.Store.Path, MySQL: c.mysql(c.Store.MySQL.Database)}
}

// DerivedStore returns the options for the derived template store. On mysql
// it lives in its own database, <database>_generated unless configured.
func (c *Config) DerivedStore() store.Options {
	db := c.Store.MySQL.GeneratedDatabase
	if db == "" {
		db = c.Store.MySQL.Database + "_generated"
	}
	return store.Options{Driver: c.Store.Driver, Path: c.Store.GeneratedPath, MySQL: c.mysql(db)}
}

func (c *Config) mysql(database string) mysql.ConnectionConfig {
	m := c.Store.MySQL
	return mysql.ConnectionConfig{
		Host:     m.Host,
		Port:     m.Port,
		User:     m.User,
		Password: m.Password,
		Database: database,
		Socket:   m.Socket,
		TLSMode:  m.TLS,
		TLSCA:    m.TLSCA,
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
	}
}

// Starter returns the YAML written by `config init`.
func Starter() string {
	var b strings.Builder
	b.WriteString("# sqlforge configuration\n\n")
	b.WriteString("store:\n")
	b.WriteString("  driver: sqlite            # sqlite or mysql\n")
	b.WriteString("  # path: ~/.sqlforge/templates.db\n")
	b.WriteString("  # generated_path: ~/.sqlforge/generated.db\n")
	b.WriteString("  mysql:\n")
	b.WriteString("    host: 127.0.0.1\n")
	b.WriteString("    port: 3306\n")
	b.WriteString("    user: sqlforge\n")
	b.WriteString("    # password: omitted for security, will prompt\n")
	b.WriteString("    database: sqlforge\n")
	b.WriteString("    # generated_database: sqlforge_generated\n\n")
	b.WriteString("paths:\n")
	b.WriteString("  source: sql               # contains inbox/, success/, failed/\n")
	b.WriteString("  templates: templates\n\n")
	b.WriteString("defaults:\n")
	b.WriteString("  format: text\n")
	b.WriteString("  list_limit: 10\n\n")
	b.WriteString("log:\n")
	b.WriteString("  level: warn\n")
	b.WriteString("  format: text\n\n")
	b.WriteString("ingest:\n")
	b.WriteString("  workers: 4\n\n")
	b.WriteString("serve:\n")
	b.WriteString("  transport: stdio          # stdio, sse or http\n")
	b.WriteString("  port: 8765\n")
	return b.String()
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
