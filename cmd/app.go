package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/nethalo/sqlforge/internal/config"
	"github.com/nethalo/sqlforge/internal/mysql"
	"github.com/nethalo/sqlforge/internal/output"
	"github.com/nethalo/sqlforge/internal/service"
	"github.com/nethalo/sqlforge/internal/store"
)

// app bundles what a command needs once configuration is resolved.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	active  *store.Store
	derived *store.DerivedStore
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openApp loads configuration and opens both template stores.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	if cfg.Store.Driver == store.DriverMySQL && cfg.Store.MySQL.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		cfg.Store.MySQL.Password = mysql.PromptPassword()
	}

	ctx := commandContext(cmd)
	active, err := store.Open(ctx, cfg.ActiveStore(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening template store: %w", err)
	}
	derived, err := store.OpenDerived(ctx, cfg.DerivedStore(), logger)
	if err != nil {
		_ = active.Close()
		return nil, fmt.Errorf("opening derived template store: %w", err)
	}
	return &app{cfg: cfg, logger: logger, active: active, derived: derived}, nil
}

func (a *app) Close() {
	_ = a.derived.Close()
	_ = a.active.Close()
}

func (a *app) service() *service.Service {
	return service.New(a.active, a.derived, a.logger)
}

// renderer picks the configured format, falling back to plain when text
// output is not going to a terminal.
func renderer(cmd *cobra.Command, cfg *config.Config) output.Renderer {
	w := cmd.OutOrStdout()
	return output.NewRenderer(resolveFormat(cfg.Defaults.Format, w), w)
}

func resolveFormat(format string, w io.Writer) string {
	if format != "text" && format != "" {
		return format
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "text"
	}
	return "plain"
}

// commandContext returns the command's context, or a background one when the
// command is run directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
