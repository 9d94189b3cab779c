package output

import (
	"io"

	"github.com/nethalo/sqlforge/internal/analyzer"
	"github.com/nethalo/sqlforge/internal/ingest"
	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/service"
	"github.com/nethalo/sqlforge/internal/store"
)

// Renderer defines the output interface.
type Renderer interface {
	RenderAnalysis(result *analyzer.Result)
	RenderTemplates(title string, items []store.Summary)
	RenderDetails(d *service.Details)
	RenderRegenerate(res *service.RegenerateResult)
	RenderHistory(identifier string, records []model.HistoryRecord)
	RenderStatus(st *service.Status)
	RenderIngest(report *ingest.Report)
	RenderLoad(report *ingest.LoadReport)
	RenderDoctor(report *store.Report, derived int)
}

// NewRenderer creates a renderer for the given format.
func NewRenderer(format string, w io.Writer) Renderer {
	switch format {
	case "json":
		return &JSONRenderer{w: w}
	case "markdown":
		return &MarkdownRenderer{w: w}
	case "plain":
		return &PlainRenderer{w: w}
	default:
		return &TextRenderer{w: w}
	}
}
