package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/nethalo/sqlforge/internal/analyzer"
	"github.com/nethalo/sqlforge/internal/ingest"
	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/service"
	"github.com/nethalo/sqlforge/internal/store"
)

// PlainRenderer produces unformatted text output safe for piping.
type PlainRenderer struct {
	w io.Writer
}

func (r *PlainRenderer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(table.StyleLight)
	return t
}

func (r *PlainRenderer) RenderAnalysis(result *analyzer.Result) {
	m := result.Model
	fmt.Fprintf(r.w, "=== sqlforge — Structural Analysis ===\n\n")
	fmt.Fprintf(r.w, "Query ID:      %s\n", orNone(m.Identifier))
	fmt.Fprintf(r.w, "Tier:          %s (%s)\n", m.Tier, m.Tier.Description())
	fmt.Fprintf(r.w, "Entities:      %d (%s)\n", m.EntityCount, strings.Join(m.Entities, ", "))
	fmt.Fprintf(r.w, "From:          %s\n\n", m.FromTable)

	r.renderStructure(m.SelectItems, m.Joins, m.GroupBy, m.OrderBy)
	r.renderPredicates(editable(m.WherePredicates), false)

	for _, w := range result.Warnings {
		fmt.Fprintf(r.w, "WARNING: %s\n", w)
	}
	for _, s := range result.Skipped {
		fmt.Fprintf(r.w, "SKIPPED: %s\n", s)
	}
	if len(result.Warnings) > 0 || len(result.Skipped) > 0 {
		fmt.Fprintln(r.w)
	}

	fmt.Fprintf(r.w, "--- Normalized SQL ---\n%s\n", m.NormalizedSQL)
}

func (r *PlainRenderer) RenderTemplates(title string, items []store.Summary) {
	if len(items) == 0 {
		fmt.Fprintln(r.w, "No templates found.")
		return
	}
	fmt.Fprintf(r.w, "=== %s (%d) ===\n", title, len(items))
	t := r.newTable()
	t.AppendHeader(table.Row{"ID", "Tier", "Question", "Entities", "Created"})
	for _, s := range items {
		t.AppendRow(table.Row{s.Identifier, s.Tier, s.Question, strings.Join(s.Entities, ", "), formatTime(s.CreatedAt)})
	}
	t.Render()
}

func (r *PlainRenderer) RenderDetails(d *service.Details) {
	fmt.Fprintf(r.w, "=== %s ===\n\n", d.Identifier)
	fmt.Fprintf(r.w, "Question:      %s\n", orNone(d.Question))
	fmt.Fprintf(r.w, "Description:   %s\n", orNone(d.Description))
	fmt.Fprintf(r.w, "Tier:          %s (%s)\n", d.Tier, d.Tier.Description())
	fmt.Fprintf(r.w, "Entities:      %s\n", orNone(strings.Join(d.Entities, ", ")))
	fmt.Fprintf(r.w, "From:          %s\n", d.FromTable)
	if d.Derived {
		fmt.Fprintf(r.w, "Parent:        %s\n", d.ParentIdentifier)
		fmt.Fprintf(r.w, "Category:      %s\n", d.Category)
	}
	fmt.Fprintf(r.w, "Categories:    %s\n", strings.Join(d.Categories, ", "))
	if len(d.Versions) > 0 {
		fmt.Fprintf(r.w, "Versions:      %s\n", strings.Join(d.Versions, ", "))
	}
	fmt.Fprintf(r.w, "Created:       %s\n", formatTime(d.CreatedAt))
	if d.ModifiedAt != nil {
		fmt.Fprintf(r.w, "Modified:      %s (%d times)\n", formatTime(*d.ModifiedAt), d.ModificationCount)
	}
	fmt.Fprintln(r.w)

	r.renderStructure(d.SelectItems, d.Joins, d.GroupBy, d.OrderBy)
	r.renderPredicates(d.Predicates, d.NestedWhere)
	if len(d.Unmodeled) > 0 {
		fmt.Fprintf(r.w, "WARNING: %s\n\n", unmodeledNote(d.Unmodeled))
	}
	fmt.Fprintf(r.w, "--- SQL ---\n%s\n", d.SQL)
}

func (r *PlainRenderer) RenderRegenerate(res *service.RegenerateResult) {
	fmt.Fprintf(r.w, "Regenerated %s from %s (category %s)\n", res.Identifier, res.ParentIdentifier, res.Category)
	for _, p := range res.Predicates {
		fmt.Fprintf(r.w, "  - %s\n", p.String())
	}
	fmt.Fprintf(r.w, "\n%s\n", res.SQL)
}

func (r *PlainRenderer) RenderHistory(identifier string, records []model.HistoryRecord) {
	fmt.Fprintf(r.w, "=== History — %s ===\n", identifier)
	if len(records) == 0 {
		fmt.Fprintln(r.w, "No archived versions.")
		return
	}
	t := r.newTable()
	t.AppendHeader(table.Row{"#", "Archived", "Reason", "Question", "SQL"})
	for _, h := range records {
		t.AppendRow(table.Row{h.ID, formatTime(h.ArchivedAt), h.Reason, h.Question, oneLine(h.SQLText)})
	}
	t.Render()
}

func (r *PlainRenderer) RenderStatus(st *service.Status) {
	fmt.Fprintf(r.w, "=== sqlforge — Status ===\n\n")
	t := r.newTable()
	t.AppendHeader(table.Row{"Metric", "Count"})
	t.AppendRow(table.Row{"Templates", st.Active})
	t.AppendRow(table.Row{"Derived templates", st.Derived})
	t.AppendRow(table.Row{"History records", st.History})
	for _, tier := range []model.Tier{model.TierA, model.TierB, model.TierC} {
		t.AppendRow(table.Row{"Tier " + string(tier), st.ByTier[tier]})
	}
	t.AppendRow(table.Row{"Joins (fixed)", st.Joins})
	t.AppendRow(table.Row{"Conditions (editable)", st.Predicates})
	t.Render()
}

func (r *PlainRenderer) RenderIngest(report *ingest.Report) {
	fmt.Fprintf(r.w, "=== Ingest run %s ===\n", report.RunID)
	if len(report.Files) > 0 {
		t := r.newTable()
		t.AppendHeader(table.Row{"File", "Status", "ID", "Tier", "Detail"})
		for _, f := range report.Files {
			status, detail := "OK", ""
			if !f.OK() {
				status, detail = "FAILED", f.Error
			} else if f.Archived {
				detail = "previous version archived"
			}
			t.AppendRow(table.Row{f.File, status, f.Identifier, f.Tier, detail})
		}
		t.Render()
	}
	fmt.Fprintf(r.w, "Succeeded: %d  Failed: %d\n", report.Succeeded, report.Failed)
}

func (r *PlainRenderer) RenderLoad(report *ingest.LoadReport) {
	fmt.Fprintf(r.w, "Loaded: %d  Archived: %d  Failed: %d\n", report.Loaded, report.Archived, report.Failed)
	for _, name := range sortedKeys(report.Errors) {
		fmt.Fprintf(r.w, "FAILED: %s: %s\n", name, report.Errors[name])
	}
}

func (r *PlainRenderer) RenderDoctor(report *store.Report, derived int) {
	fmt.Fprintf(r.w, "=== sqlforge — Store Integrity ===\n\n")
	fmt.Fprintf(r.w, "Backend:       %s\n", report.Backend)
	fmt.Fprintf(r.w, "Derived:       %d\n\n", derived)

	t := r.newTable()
	t.AppendHeader(table.Row{"Table", "Exists", "Rows", "Orphans", "Size"})
	for _, tc := range report.Tables {
		orphans := ""
		if n, ok := report.Orphans[tc.Name]; ok {
			orphans = fmt.Sprintf("%d", n)
		}
		t.AppendRow(table.Row{tc.Name, tc.Exists, tc.Rows, orphans, tc.Size})
	}
	t.Render()

	for _, h := range report.RecentHistory {
		fmt.Fprintf(r.w, "history: %s %s (%s)\n", formatTime(h.ArchivedAt), h.Identifier, h.Reason)
	}
	if report.OK() {
		fmt.Fprintln(r.w, "RESULT: OK")
	} else {
		fmt.Fprintln(r.w, "RESULT: PROBLEMS FOUND")
	}
}

func (r *PlainRenderer) renderStructure(items []model.SelectItem, joins []model.Join, groupBy, orderBy []string) {
	fmt.Fprintf(r.w, "--- Select ---\n")
	t := r.newTable()
	t.AppendHeader(table.Row{"Alias", "Expression", "Aggregation", "Category"})
	for _, it := range items {
		t.AppendRow(table.Row{it.Alias, it.Expression, it.Aggregation, it.Category})
	}
	t.Render()

	fmt.Fprintf(r.w, "--- Joins (fixed) ---\n")
	if len(joins) == 0 {
		fmt.Fprintln(r.w, "none")
	}
	for _, j := range joins {
		fmt.Fprintf(r.w, "%s %s ON %s\n", j.Kind, j.Table, j.OnCondition)
	}
	if len(groupBy) > 0 {
		fmt.Fprintf(r.w, "Group by:      %s\n", strings.Join(groupBy, ", "))
	}
	if len(orderBy) > 0 {
		fmt.Fprintf(r.w, "Order by:      %s\n", strings.Join(orderBy, ", "))
	}
	fmt.Fprintln(r.w)
}

func (r *PlainRenderer) renderPredicates(preds []service.EditablePredicate, nested bool) {
	fmt.Fprintf(r.w, "--- Conditions (editable) ---\n")
	if len(preds) == 0 {
		fmt.Fprintln(r.w, "none")
	}
	for _, p := range preds {
		fmt.Fprintf(r.w, "%s (%s)\n", p.String(), p.Kind)
	}
	if nested {
		fmt.Fprintf(r.w, "NOTE: %s\n", nestedWhereNote)
	}
	fmt.Fprintln(r.w)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
