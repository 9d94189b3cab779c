package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nethalo/sqlforge/internal/analyzer"
	"github.com/nethalo/sqlforge/internal/model"
)

// LoadReport summarizes a LoadTemplates run.
type LoadReport struct {
	Loaded   int               `json:"loaded"`
	Archived int               `json:"archived"`
	Failed   int               `json:"failed"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// LoadTemplates stores every query_*.json file of the templates directory.
// A file that cannot be read or stored is counted and skipped.
func (p *Pipeline) LoadTemplates(ctx context.Context) (*LoadReport, error) {
	if p.store == nil {
		return nil, errors.New("no store configured for loading")
	}
	paths, err := filepath.Glob(filepath.Join(p.cfg.TemplatesDir, "query_*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	sort.Strings(paths)

	report := &LoadReport{Errors: map[string]string{}}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		name := filepath.Base(path)
		m, err := ReadTemplate(path)
		if err == nil {
			var archived bool
			archived, err = p.store.Put(ctx, m)
			if archived {
				report.Archived++
			}
		}
		if err != nil {
			report.Failed++
			report.Errors[name] = err.Error()
			p.logger.Warn("template not loaded", "file", name, "error", err)
			continue
		}
		report.Loaded++
	}
	p.logger.Info("templates loaded", "loaded", report.Loaded, "archived", report.Archived, "failed", report.Failed)
	return report, nil
}

// ReadTemplate decodes a template JSON file. A missing or legacy tier
// ("unitB") is normalized, falling back to classifying the joins.
func ReadTemplate(path string) (*model.StructuralModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	var m model.StructuralModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	if strings.TrimSpace(m.Identifier) == "" {
		return nil, &model.ValidationError{Field: "query_id", Problems: []string{"missing in " + filepath.Base(path)}}
	}
	if !m.Tier.Valid() {
		if t, ok := model.ParseTier(string(m.Tier)); ok {
			m.Tier = t
		} else {
			m.Tier, m.EntityCount = analyzer.Classify(m.Joins)
		}
	}
	if m.EntityCount == 0 {
		_, m.EntityCount = analyzer.Classify(m.Joins)
	}
	return &m, nil
}
