package output

import (
	"encoding/json"
	"io"
	"time"

	"github.com/nethalo/sqlforge/internal/analyzer"
	"github.com/nethalo/sqlforge/internal/ingest"
	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/service"
	"github.com/nethalo/sqlforge/internal/store"
)

// JSONRenderer produces machine-readable JSON output.
type JSONRenderer struct {
	w io.Writer
}

type jsonAnalysis struct {
	*model.StructuralModel
	AnalyzedAt time.Time `json:"analyzed_at"`
	Warnings   []string  `json:"warnings,omitempty"`
	Skipped    []string  `json:"skipped_conditions,omitempty"`
}

type jsonTemplates struct {
	Title     string          `json:"title"`
	Count     int             `json:"count"`
	Templates []store.Summary `json:"templates"`
}

type jsonHistory struct {
	Identifier string                `json:"query_id"`
	Records    []model.HistoryRecord `json:"history"`
}

type jsonDoctor struct {
	*store.Report
	Derived int  `json:"derived_templates"`
	OK      bool `json:"ok"`
}

func (r *JSONRenderer) RenderAnalysis(result *analyzer.Result) {
	r.encode(jsonAnalysis{
		StructuralModel: result.Model,
		AnalyzedAt:      result.AnalyzedAt,
		Warnings:        result.Warnings,
		Skipped:         result.Skipped,
	})
}

func (r *JSONRenderer) RenderTemplates(title string, items []store.Summary) {
	if items == nil {
		items = []store.Summary{}
	}
	r.encode(jsonTemplates{Title: title, Count: len(items), Templates: items})
}

func (r *JSONRenderer) RenderDetails(d *service.Details) {
	r.encode(d)
}

func (r *JSONRenderer) RenderRegenerate(res *service.RegenerateResult) {
	r.encode(res)
}

func (r *JSONRenderer) RenderHistory(identifier string, records []model.HistoryRecord) {
	if records == nil {
		records = []model.HistoryRecord{}
	}
	r.encode(jsonHistory{Identifier: identifier, Records: records})
}

func (r *JSONRenderer) RenderStatus(st *service.Status) {
	r.encode(st)
}

func (r *JSONRenderer) RenderIngest(report *ingest.Report) {
	r.encode(report)
}

func (r *JSONRenderer) RenderLoad(report *ingest.LoadReport) {
	r.encode(report)
}

func (r *JSONRenderer) RenderDoctor(report *store.Report, derived int) {
	r.encode(jsonDoctor{Report: report, Derived: derived, OK: report.OK()})
}

func (r *JSONRenderer) encode(v any) {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
