package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/nethalo/sqlforge/internal/analyzer"
	"github.com/nethalo/sqlforge/internal/ingest"
	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/service"
	"github.com/nethalo/sqlforge/internal/store"
)

// MarkdownRenderer produces markdown output for documentation/tickets.
type MarkdownRenderer struct {
	w io.Writer
}

func (r *MarkdownRenderer) RenderAnalysis(result *analyzer.Result) {
	m := result.Model
	fmt.Fprintf(r.w, "# sqlforge — Structural Analysis\n\n")
	fmt.Fprintf(r.w, "| Property | Value |\n|---|---|\n")
	fmt.Fprintf(r.w, "| Query ID | `%s` |\n", orNone(m.Identifier))
	fmt.Fprintf(r.w, "| Tier | **%s** (%s) |\n", m.Tier, m.Tier.Description())
	fmt.Fprintf(r.w, "| Entities | %s |\n", cell(strings.Join(m.Entities, ", ")))
	fmt.Fprintf(r.w, "| From | `%s` |\n\n", m.FromTable)

	r.renderStructure(m.SelectItems, m.Joins)
	r.renderPredicates(editable(m.WherePredicates), false)

	if len(result.Warnings) > 0 || len(result.Skipped) > 0 {
		fmt.Fprintf(r.w, "## Warnings\n\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(r.w, "- ⚠️ %s\n", w)
		}
		for _, s := range result.Skipped {
			fmt.Fprintf(r.w, "- skipped `%s`\n", s)
		}
		fmt.Fprintln(r.w)
	}

	r.renderSQL(m.NormalizedSQL)
}

func (r *MarkdownRenderer) RenderTemplates(title string, items []store.Summary) {
	fmt.Fprintf(r.w, "# %s\n\n", title)
	if len(items) == 0 {
		fmt.Fprintf(r.w, "_No templates found._\n")
		return
	}
	fmt.Fprintf(r.w, "| ID | Tier | Question | Entities |\n|---|---|---|---|\n")
	for _, s := range items {
		fmt.Fprintf(r.w, "| `%s` | %s | %s | %s |\n", s.Identifier, s.Tier, cell(s.Question), cell(strings.Join(s.Entities, ", ")))
	}
}

func (r *MarkdownRenderer) RenderDetails(d *service.Details) {
	fmt.Fprintf(r.w, "# %s\n\n", cell(orNone(d.Question)))
	fmt.Fprintf(r.w, "| Property | Value |\n|---|---|\n")
	fmt.Fprintf(r.w, "| Query ID | `%s` |\n", d.Identifier)
	if d.Derived {
		fmt.Fprintf(r.w, "| Parent | `%s` |\n", d.ParentIdentifier)
		fmt.Fprintf(r.w, "| Category | %s |\n", d.Category)
	}
	fmt.Fprintf(r.w, "| Tier | **%s** (%s) |\n", d.Tier, d.Tier.Description())
	fmt.Fprintf(r.w, "| Entities | %s |\n", cell(strings.Join(d.Entities, ", ")))
	fmt.Fprintf(r.w, "| Categories | %s |\n", strings.Join(d.Categories, ", "))
	if len(d.Versions) > 0 {
		fmt.Fprintf(r.w, "| Derived versions | %s |\n", strings.Join(d.Versions, ", "))
	}
	if d.ModifiedAt != nil {
		fmt.Fprintf(r.w, "| Modified | %s (%d times) |\n", formatTime(*d.ModifiedAt), d.ModificationCount)
	}
	fmt.Fprintln(r.w)
	if d.Description != "" {
		fmt.Fprintf(r.w, "%s\n\n", d.Description)
	}

	r.renderStructure(d.SelectItems, d.Joins)
	r.renderPredicates(d.Predicates, d.NestedWhere)
	if len(d.Unmodeled) > 0 {
		fmt.Fprintf(r.w, "> ⚠️ %s\n\n", unmodeledNote(d.Unmodeled))
	}
	r.renderSQL(d.SQL)
}

func (r *MarkdownRenderer) RenderRegenerate(res *service.RegenerateResult) {
	fmt.Fprintf(r.w, "# Regenerated `%s`\n\n", res.Identifier)
	fmt.Fprintf(r.w, "Derived from `%s` using the `%s` columns.\n\n", res.ParentIdentifier, res.Category)
	for _, p := range res.Predicates {
		fmt.Fprintf(r.w, "- `%s`\n", p.String())
	}
	if len(res.Predicates) > 0 {
		fmt.Fprintln(r.w)
	}
	r.renderSQL(res.SQL)
}

func (r *MarkdownRenderer) RenderHistory(identifier string, records []model.HistoryRecord) {
	fmt.Fprintf(r.w, "# History of `%s`\n\n", identifier)
	if len(records) == 0 {
		fmt.Fprintf(r.w, "_No archived versions._\n")
		return
	}
	for _, h := range records {
		fmt.Fprintf(r.w, "## #%d — %s (%s)\n\n", h.ID, formatTime(h.ArchivedAt), h.Reason)
		fmt.Fprintf(r.w, "%s\n\n", h.Question)
		r.renderSQL(h.SQLText)
	}
}

func (r *MarkdownRenderer) RenderStatus(st *service.Status) {
	fmt.Fprintf(r.w, "# sqlforge — Status\n\n")
	fmt.Fprintf(r.w, "| Metric | Count |\n|---|---|\n")
	fmt.Fprintf(r.w, "| Templates | %d |\n", st.Active)
	fmt.Fprintf(r.w, "| Derived templates | %d |\n", st.Derived)
	fmt.Fprintf(r.w, "| History records | %d |\n", st.History)
	for _, t := range []model.Tier{model.TierA, model.TierB, model.TierC} {
		fmt.Fprintf(r.w, "| Tier %s | %d |\n", t, st.ByTier[t])
	}
	fmt.Fprintf(r.w, "| Joins (fixed) | %d |\n", st.Joins)
	fmt.Fprintf(r.w, "| Conditions (editable) | %d |\n", st.Predicates)
}

func (r *MarkdownRenderer) RenderIngest(report *ingest.Report) {
	fmt.Fprintf(r.w, "# Ingest run `%s`\n\n", report.RunID)
	fmt.Fprintf(r.w, "**Succeeded:** %d · **Failed:** %d\n\n", report.Succeeded, report.Failed)
	if len(report.Files) == 0 {
		return
	}
	fmt.Fprintf(r.w, "| File | Status | ID | Tier | Detail |\n|---|---|---|---|---|\n")
	for _, f := range report.Files {
		status := "✅"
		if !f.OK() {
			status = "❌"
		}
		fmt.Fprintf(r.w, "| `%s` | %s | %s | %s | %s |\n", f.File, status, f.Identifier, f.Tier, cell(f.Error))
	}
}

func (r *MarkdownRenderer) RenderLoad(report *ingest.LoadReport) {
	fmt.Fprintf(r.w, "# Template load\n\n")
	fmt.Fprintf(r.w, "**Loaded:** %d · **Archived:** %d · **Failed:** %d\n", report.Loaded, report.Archived, report.Failed)
	if len(report.Errors) > 0 {
		fmt.Fprintln(r.w)
		for _, name := range sortedKeys(report.Errors) {
			fmt.Fprintf(r.w, "- `%s`: %s\n", name, report.Errors[name])
		}
	}
}

func (r *MarkdownRenderer) RenderDoctor(report *store.Report, derived int) {
	fmt.Fprintf(r.w, "# sqlforge — Store Integrity\n\n")
	fmt.Fprintf(r.w, "**Backend:** %s · **Derived templates:** %d\n\n", report.Backend, derived)
	fmt.Fprintf(r.w, "| Table | Exists | Rows | Orphans |\n|---|---|---|---|\n")
	for _, t := range report.Tables {
		orphans := "-"
		if n, ok := report.Orphans[t.Name]; ok {
			orphans = fmt.Sprintf("%d", n)
		}
		fmt.Fprintf(r.w, "| `%s` | %v | %d | %s |\n", t.Name, t.Exists, t.Rows, orphans)
	}
	fmt.Fprintln(r.w)
	if report.OK() {
		fmt.Fprintf(r.w, "**Result:** ✅ consistent\n")
	} else {
		fmt.Fprintf(r.w, "**Result:** ❌ integrity problems found\n")
	}
}

func (r *MarkdownRenderer) renderStructure(items []model.SelectItem, joins []model.Join) {
	fmt.Fprintf(r.w, "## Select\n\n")
	fmt.Fprintf(r.w, "| Alias | Expression | Category |\n|---|---|---|\n")
	for _, it := range items {
		fmt.Fprintf(r.w, "| %s | `%s` | %s |\n", cell(it.Alias), it.Expression, it.Category)
	}
	fmt.Fprintln(r.w)

	fmt.Fprintf(r.w, "## Joins (fixed)\n\n")
	if len(joins) == 0 {
		fmt.Fprintf(r.w, "_none_\n\n")
		return
	}
	for _, j := range joins {
		if j.OnCondition == "" {
			fmt.Fprintf(r.w, "- %s `%s`\n", j.Kind, j.Table)
			continue
		}
		fmt.Fprintf(r.w, "- %s `%s` ON `%s`\n", j.Kind, j.Table, j.OnCondition)
	}
	fmt.Fprintln(r.w)
}

func (r *MarkdownRenderer) renderPredicates(preds []service.EditablePredicate, nested bool) {
	fmt.Fprintf(r.w, "## Conditions (editable)\n\n")
	if len(preds) == 0 {
		fmt.Fprintf(r.w, "_none_\n\n")
		return
	}
	for _, p := range preds {
		fmt.Fprintf(r.w, "- `%s`\n", p.String())
	}
	fmt.Fprintln(r.w)
	if nested {
		fmt.Fprintf(r.w, "> ⚠️ %s\n\n", nestedWhereNote)
	}
}

func (r *MarkdownRenderer) renderSQL(sql string) {
	if sql == "" {
		return
	}
	fmt.Fprintf(r.w, "```sql\n%s\n```\n\n", sql)
}

// cell escapes pipes so a value stays inside its table column.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
