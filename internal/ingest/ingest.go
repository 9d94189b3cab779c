// Package ingest turns SQL files dropped into an inbox into template JSON
// files and, optionally, active store entries.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nethalo/sqlforge/internal/analyzer"
	"github.com/nethalo/sqlforge/internal/model"
)

// Directory names under the source directory.
const (
	InboxDir   = "inbox"
	SuccessDir = "success"
	FailedDir  = "failed"
)

// Putter stores a structural model. *store.Store satisfies it.
type Putter interface {
	Put(ctx context.Context, m *model.StructuralModel) (bool, error)
}

// Config locates the pipeline directories.
type Config struct {
	SourceDir    string
	TemplatesDir string
	Workers      int
	// Load stores every analyzed model in addition to writing its JSON file.
	Load bool
}

// Pipeline processes inbox files. Analysis runs in parallel; file moves,
// template writes and store writes happen one at a time.
type Pipeline struct {
	cfg      Config
	store    Putter
	logger   *slog.Logger
	now      func() time.Time
	debounce time.Duration
}

// New creates a Pipeline. store may be nil when cfg.Load is false.
func New(cfg Config, store Putter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		debounce: 100 * time.Millisecond,
	}
}

// FileResult is the outcome for one inbox file.
type FileResult struct {
	File       string     `json:"file"`
	Identifier string     `json:"query_id,omitempty"`
	Tier       model.Tier `json:"complexity_tier,omitempty"`
	Template   string     `json:"template,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
	Loaded     bool       `json:"loaded"`
	Archived   bool       `json:"archived"`
	Error      string     `json:"error,omitempty"`
}

// OK reports whether the file was processed successfully.
func (r FileResult) OK() bool { return r.Error == "" }

// Report summarizes one ProcessInbox run.
type Report struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Files      []FileResult `json:"files"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
}

func (r *Report) add(res FileResult) {
	r.Files = append(r.Files, res)
	if res.OK() {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

// IdentifierFromFilename derives the identifier (stem before the first "_")
// and the question (stem with "_" as spaces) from an inbox file name.
func IdentifierFromFilename(name string) (string, string) {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	id := stem
	if idx := strings.IndexByte(stem, '_'); idx >= 0 {
		id = stem[:idx]
	}
	return id, strings.ReplaceAll(stem, "_", " ")
}

func isSQLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".sql" || ext == ".txt"
}

func (p *Pipeline) dir(name string) string {
	return filepath.Join(p.cfg.SourceDir, name)
}

// EnsureDirs creates the inbox, success, failed and templates directories.
func (p *Pipeline) EnsureDirs() error {
	for _, d := range []string{p.dir(InboxDir), p.dir(SuccessDir), p.dir(FailedDir), p.cfg.TemplatesDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

type analyzed struct {
	name   string
	result *analyzer.Result
	err    error
}

// ProcessInbox analyzes every SQL file in the inbox. A failing file is moved
// to the failed directory with an error log and does not stop the batch.
func (p *Pipeline) ProcessInbox(ctx context.Context) (*Report, error) {
	if err := p.EnsureDirs(); err != nil {
		return nil, err
	}
	names, err := p.inboxFiles()
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: uuid.NewString(), StartedAt: p.now(), Files: []FileResult{}}
	logger := p.logger.With("run_id", report.RunID)
	logger.Info("processing inbox", "files", len(names), "workers", p.cfg.Workers)

	results := make([]analyzed, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.analyze(name)
			results[i] = analyzed{name: name, result: res, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analyzing inbox: %w", err)
	}

	for _, a := range results {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := p.finish(ctx, a, logger)
		report.add(res)
	}

	report.FinishedAt = p.now()
	logger.Info("inbox processed", "succeeded", report.Succeeded, "failed", report.Failed)
	return report, nil
}

// ProcessFile analyzes and files a single inbox file.
func (p *Pipeline) ProcessFile(ctx context.Context, name string) FileResult {
	name = filepath.Base(name)
	res, err := p.analyze(name)
	return p.finish(ctx, analyzed{name: name, result: res, err: err}, p.logger)
}

func (p *Pipeline) inboxFiles() ([]string, error) {
	entries, err := os.ReadDir(p.dir(InboxDir))
	if err != nil {
		return nil, fmt.Errorf("reading inbox: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && isSQLFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (p *Pipeline) analyze(name string) (*analyzer.Result, error) {
	data, err := os.ReadFile(filepath.Join(p.dir(InboxDir), name))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	id, question := IdentifierFromFilename(name)
	sql := strings.TrimSpace(string(data))
	return analyzer.Analyze(analyzer.Input{
		SQL: sql,
		Meta: analyzer.Meta{
			Identifier:  id,
			Question:    question,
			OriginalSQL: sql,
			Now:         p.now(),
		},
	})
}

// finish writes the template, optionally stores it, and moves the source file.
func (p *Pipeline) finish(ctx context.Context, a analyzed, logger *slog.Logger) FileResult {
	res := FileResult{File: a.name}
	err := a.err
	if err == nil {
		m := a.result.Model
		res.Identifier = m.Identifier
		res.Tier = m.Tier
		res.Warnings = a.result.Warnings
		res.Template, err = p.writeTemplate(m)
		if err == nil && p.cfg.Load {
			if p.store == nil {
				err = errors.New("no store configured for loading")
			} else {
				res.Archived, err = p.store.Put(ctx, m)
				res.Loaded = err == nil
			}
			if err != nil {
				// A template whose load failed must not be picked up by a later load.
				if rerr := os.Remove(res.Template); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
					logger.Error("removing unloaded template", "path", res.Template, "error", rerr)
				}
				res.Template = ""
			}
		}
	}

	if err != nil {
		res.Error = err.Error()
		logger.Warn("analysis failed", "file", a.name, "error", err)
		if ferr := p.fail(a.name, err); ferr != nil {
			logger.Error("moving failed file", "file", a.name, "error", ferr)
		}
		return res
	}

	if merr := os.Rename(filepath.Join(p.dir(InboxDir), a.name), filepath.Join(p.dir(SuccessDir), a.name)); merr != nil {
		logger.Error("moving processed file", "file", a.name, "error", merr)
	}
	logger.Info("analyzed", "file", a.name, "query_id", res.Identifier, "tier", res.Tier, "loaded", res.Loaded)
	return res
}

// TemplatePath returns the JSON template path for identifier.
func (p *Pipeline) TemplatePath(identifier string) string {
	return filepath.Join(p.cfg.TemplatesDir, "query_"+identifier+".json")
}

func (p *Pipeline) writeTemplate(m *model.StructuralModel) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding template: %w", err)
	}
	path := p.TemplatePath(m.Identifier)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("writing template: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("writing template: %w", err)
	}
	return path, nil
}

func (p *Pipeline) fail(name string, cause error) error {
	if err := os.Rename(filepath.Join(p.dir(InboxDir), name), filepath.Join(p.dir(FailedDir), name)); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.dir(FailedDir), name+".error.log"), []byte(errorLog(name, cause, p.now())), 0o644)
}

func errorLog(name string, cause error, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "file: %s\ntime: %s\nerror: %v\n", name, at.Format(time.RFC3339), cause)
	depth := 0
	for err := errors.Unwrap(cause); err != nil; err = errors.Unwrap(err) {
		depth++
		fmt.Fprintf(&b, "%scaused by: %v\n", strings.Repeat("  ", depth), err)
	}
	return b.String()
}
