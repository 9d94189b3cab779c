package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nethalo/sqlforge/internal/analyzer"
	"github.com/nethalo/sqlforge/internal/ingest"
	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/service"
	"github.com/nethalo/sqlforge/internal/store"
)

const boxWidth = 72

// TextRenderer produces Lip Gloss styled terminal output.
type TextRenderer struct {
	w io.Writer
}

func (r *TextRenderer) RenderAnalysis(result *analyzer.Result) {
	m := result.Model
	fmt.Fprintln(r.w)

	header := TitleStyle.Render("sqlforge — Structural Analysis")
	lines := []string{
		r.labelValue("Query ID:", orNone(m.Identifier)),
		r.labelValue("Question:", orNone(m.Question)),
		r.labelValue("Tier:", fmt.Sprintf("%s (%s)", tierText(m.Tier), m.Tier.Description())),
		r.labelValue("Entities:", fmt.Sprintf("%d (%s)", m.EntityCount, strings.Join(m.Entities, ", "))),
		r.labelValue("From:", m.FromTable),
	}
	fmt.Fprintln(r.w, BoxStyle.Width(boxWidth).Render(header+"\n"+strings.Join(lines, "\n")))

	r.renderStructure(m.SelectItems, m.Joins, nil, m.GroupBy, m.OrderBy)
	r.renderPredicates(editable(m.WherePredicates), false)

	for _, w := range result.Warnings {
		fmt.Fprintln(r.w, WarningBoxStyle.Width(boxWidth).Render(WarningText.Render(IconWarning+" Warning")+"\n"+w))
	}
	for _, s := range result.Skipped {
		fmt.Fprintln(r.w, MutedText.Render("  skipped: "+s))
	}

	r.renderSQL("Normalized SQL", m.NormalizedSQL)
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) RenderTemplates(title string, items []store.Summary) {
	fmt.Fprintln(r.w)
	if len(items) == 0 {
		fmt.Fprintln(r.w, MutedText.Render("No templates found."))
		fmt.Fprintln(r.w)
		return
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s (%d)", title, len(items))))
	for _, s := range items {
		b.WriteString("\n\n" + lipgloss.NewStyle().Bold(true).Render(s.Identifier) + "  " + tierText(s.Tier))
		b.WriteString("\n" + r.labelValue("Question:", s.Question))
		if s.Description != "" {
			b.WriteString("\n" + r.labelValue("Description:", s.Description))
		}
		if len(s.Entities) > 0 {
			b.WriteString("\n" + r.labelValue("Entities:", strings.Join(s.Entities, ", ")))
		}
		if len(s.Tags) > 0 {
			b.WriteString("\n" + r.labelValue("Tags:", strings.Join(s.Tags, ", ")))
		}
	}
	fmt.Fprintln(r.w, BoxStyle.Width(boxWidth).Render(b.String()))
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) RenderDetails(d *service.Details) {
	fmt.Fprintln(r.w)

	kind := "Template"
	if d.Derived {
		kind = "Derived template"
	}
	lines := []string{
		r.labelValue("Query ID:", d.Identifier),
		r.labelValue("Question:", orNone(d.Question)),
		r.labelValue("Description:", orNone(d.Description)),
		r.labelValue("Tier:", fmt.Sprintf("%s (%s)", tierText(d.Tier), d.Tier.Description())),
		r.labelValue("Entities:", orNone(strings.Join(d.Entities, ", "))),
		r.labelValue("From:", d.FromTable),
	}
	if d.Derived {
		lines = append(lines, r.labelValue("Parent:", d.ParentIdentifier), r.labelValue("Category:", d.Category))
	}
	lines = append(lines, r.labelValue("Created:", formatTime(d.CreatedAt)))
	if d.ModifiedAt != nil {
		lines = append(lines, r.labelValue("Modified:", fmt.Sprintf("%s (%d times)", formatTime(*d.ModifiedAt), d.ModificationCount)))
	}
	if len(d.Versions) > 0 {
		lines = append(lines, r.labelValue("Versions:", strings.Join(d.Versions, ", ")))
	}
	fmt.Fprintln(r.w, BoxStyle.Width(boxWidth).Render(TitleStyle.Render(kind)+"\n"+strings.Join(lines, "\n")))

	r.renderStructure(d.SelectItems, d.Joins, d.Categories, d.GroupBy, d.OrderBy)
	r.renderPredicates(d.Predicates, d.NestedWhere)
	if len(d.Unmodeled) > 0 {
		fmt.Fprintln(r.w, WarningBoxStyle.Width(boxWidth).Render(WarningText.Render(IconWarning+" "+unmodeledNote(d.Unmodeled))))
	}
	r.renderSQL("SQL", d.SQL)
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) RenderRegenerate(res *service.RegenerateResult) {
	fmt.Fprintln(r.w)
	var b strings.Builder
	b.WriteString(OKText.Render(IconOK + " Template regenerated"))
	b.WriteString("\n" + r.labelValue("Parent:", res.ParentIdentifier))
	b.WriteString("\n" + r.labelValue("New ID:", res.Identifier))
	b.WriteString("\n" + r.labelValue("Category:", res.Category))
	if len(res.Predicates) > 0 {
		b.WriteString("\n\n" + TitleStyle.Render("Conditions"))
		for _, p := range res.Predicates {
			b.WriteString("\n  " + p.String())
		}
	}
	fmt.Fprintln(r.w, OKBoxStyle.Width(boxWidth).Render(b.String()))
	r.renderSQL("SQL", res.SQL)
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) RenderHistory(identifier string, records []model.HistoryRecord) {
	fmt.Fprintln(r.w)
	title := TitleStyle.Render("History — " + identifier)
	if len(records) == 0 {
		fmt.Fprintln(r.w, BoxStyle.Width(boxWidth).Render(title+"\n"+MutedText.Render("No archived versions.")))
		fmt.Fprintln(r.w)
		return
	}
	var b strings.Builder
	b.WriteString(title)
	for _, h := range records {
		b.WriteString(fmt.Sprintf("\n\n#%d  %s  %s", h.ID, formatTime(h.ArchivedAt), MutedText.Render(h.Reason)))
		b.WriteString("\n" + r.labelValue("Question:", h.Question))
		b.WriteString("\n" + CodeStyle.Render(h.SQLText))
	}
	fmt.Fprintln(r.w, BoxStyle.Width(boxWidth).Render(b.String()))
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) RenderStatus(st *service.Status) {
	fmt.Fprintln(r.w)
	lines := []string{
		r.labelValue("Templates:", fmt.Sprintf("%d", st.Active)),
		r.labelValue("Derived:", fmt.Sprintf("%d", st.Derived)),
		r.labelValue("History:", fmt.Sprintf("%d", st.History)),
	}
	for _, t := range []model.Tier{model.TierA, model.TierB, model.TierC} {
		lines = append(lines, r.labelValue("Tier "+tierText(t)+":", fmt.Sprintf("%d", st.ByTier[t])))
	}
	lines = append(lines,
		r.labelValue("Joins:", fmt.Sprintf("%d (fixed)", st.Joins)),
		r.labelValue("Conditions:", fmt.Sprintf("%d (editable)", st.Predicates)),
	)
	fmt.Fprintln(r.w, OKBoxStyle.Width(boxWidth).Render(TitleStyle.Render("sqlforge — Status")+"\n"+strings.Join(lines, "\n")))
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) RenderIngest(report *ingest.Report) {
	fmt.Fprintln(r.w)
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Ingest run " + report.RunID))
	for _, f := range report.Files {
		if f.OK() {
			b.WriteString(fmt.Sprintf("\n%s %s → %s (tier %s)", IconOK, f.File, f.Identifier, tierText(f.Tier)))
			if f.Archived {
				b.WriteString(MutedText.Render("  previous version archived"))
			}
			continue
		}
		b.WriteString(fmt.Sprintf("\n%s %s  %s", IconError, f.File, ErrorText.Render(f.Error)))
	}
	b.WriteString(fmt.Sprintf("\n\nSucceeded: %d / %d", report.Succeeded, report.Succeeded+report.Failed))

	style := OKBoxStyle
	if report.Failed > 0 {
		style = WarningBoxStyle
	}
	fmt.Fprintln(r.w, style.Width(boxWidth).Render(b.String()))
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) RenderLoad(report *ingest.LoadReport) {
	fmt.Fprintln(r.w)
	lines := []string{
		r.labelValue("Loaded:", fmt.Sprintf("%d", report.Loaded)),
		r.labelValue("Archived:", fmt.Sprintf("%d", report.Archived)),
		r.labelValue("Failed:", fmt.Sprintf("%d", report.Failed)),
	}
	for _, name := range sortedKeys(report.Errors) {
		lines = append(lines, ErrorText.Render(IconError+" "+name)+" "+report.Errors[name])
	}
	style := OKBoxStyle
	if report.Failed > 0 {
		style = WarningBoxStyle
	}
	fmt.Fprintln(r.w, style.Width(boxWidth).Render(TitleStyle.Render("Template load")+"\n"+strings.Join(lines, "\n")))
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) RenderDoctor(report *store.Report, derived int) {
	fmt.Fprintln(r.w)
	var b strings.Builder
	b.WriteString(TitleStyle.Render("sqlforge — Store Integrity"))
	b.WriteString("\n" + r.labelValue("Backend:", report.Backend))
	b.WriteString("\n" + r.labelValue("Derived:", fmt.Sprintf("%d", derived)))

	b.WriteString("\n\n" + TitleStyle.Render("Tables"))
	for _, t := range report.Tables {
		if !t.Exists {
			b.WriteString(fmt.Sprintf("\n%s %s %s", IconError, t.Name, ErrorText.Render("missing")))
			continue
		}
		size := ""
		if t.Size != "" {
			size = MutedText.Render(" " + t.Size)
		}
		b.WriteString(fmt.Sprintf("\n%s %-22s %d rows%s", IconOK, t.Name, t.Rows, size))
	}

	if len(report.Orphans) > 0 {
		b.WriteString("\n\n" + TitleStyle.Render("Orphaned rows"))
		for _, name := range sortedKeys(report.Orphans) {
			n := report.Orphans[name]
			line := fmt.Sprintf("%-22s %d", name, n)
			if n > 0 {
				line = ErrorText.Render(line)
			}
			b.WriteString("\n  " + line)
		}
	}

	if len(report.Templates) > 0 {
		b.WriteString("\n\n" + TitleStyle.Render("Recent templates"))
		for _, t := range report.Templates {
			b.WriteString(fmt.Sprintf("\n  %s [%s] %s: %d select, %d joins", t.Identifier, tierText(t.Tier), t.Question, t.SelectItems, t.Joins))
		}
	}
	if len(report.RecentHistory) > 0 {
		b.WriteString("\n\n" + TitleStyle.Render("Recent history"))
		for _, h := range report.RecentHistory {
			b.WriteString(fmt.Sprintf("\n  %s %s (%s)", formatTime(h.ArchivedAt), h.Identifier, h.Reason))
		}
	}

	style := OKBoxStyle
	verdict := OKText.Render(IconOK + " Store is consistent")
	if !report.OK() {
		style = ErrorBoxStyle
		verdict = ErrorText.Render(IconError + " Store has integrity problems")
	}
	fmt.Fprintln(r.w, style.Width(boxWidth).Render(b.String()+"\n\n"+verdict))
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) renderStructure(items []model.SelectItem, joins []model.Join, categories, groupBy, orderBy []string) {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Select"))
	for _, it := range items {
		line := "  " + it.Expression
		if it.Alias != it.Expression {
			line += MutedText.Render(" as " + it.Alias)
		}
		if it.Category != "" && it.Category != model.DefaultCategory {
			line += MutedText.Render(" [" + it.Category + "]")
		}
		b.WriteString("\n" + line)
	}
	if len(categories) > 0 {
		b.WriteString("\n" + r.labelValue("Categories:", strings.Join(categories, ", ")))
	}

	b.WriteString("\n\n" + TitleStyle.Render(IconLocked+" Joins (fixed)"))
	if len(joins) == 0 {
		b.WriteString("\n  " + MutedText.Render("none"))
	}
	for _, j := range joins {
		b.WriteString(fmt.Sprintf("\n  %s %s", j.Kind, j.Table))
		if j.OnCondition != "" {
			b.WriteString("\n    " + MutedText.Render("ON "+j.OnCondition))
		}
	}
	if len(groupBy) > 0 {
		b.WriteString("\n\n" + r.labelValue("Group by:", strings.Join(groupBy, ", ")))
	}
	if len(orderBy) > 0 {
		b.WriteString("\n" + r.labelValue("Order by:", strings.Join(orderBy, ", ")))
	}
	fmt.Fprintln(r.w, BoxStyle.Width(boxWidth).Render(b.String()))
}

func (r *TextRenderer) renderPredicates(preds []service.EditablePredicate, nested bool) {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(IconEdit + " Conditions (editable)"))
	if len(preds) == 0 {
		b.WriteString("\n  " + MutedText.Render("none"))
	}
	for _, p := range preds {
		b.WriteString(fmt.Sprintf("\n  %s %s", p.String(), MutedText.Render("("+p.Kind+")")))
	}
	style := BoxStyle
	if nested {
		style = WarningBoxStyle
		b.WriteString("\n\n" + WarningText.Render(IconWarning+" "+nestedWhereNote))
	}
	fmt.Fprintln(r.w, style.Width(boxWidth).Render(b.String()))
}

func (r *TextRenderer) renderSQL(title, sql string) {
	if sql == "" {
		return
	}
	fmt.Fprintln(r.w, BoxStyle.Width(boxWidth).Render(TitleStyle.Render(title)+"\n"+CodeStyle.Render(sql)))
}

// helpers

func (r *TextRenderer) labelValue(label, value string) string {
	return LabelStyle.Render(label) + " " + ValueStyle.Render(value)
}

const nestedWhereNote = "The original WHERE clause nests OR/NOT; conditions are listed flat and regenerated joined by AND."

func unmodeledNote(clauses []string) string {
	return "Not reproduced by regeneration: " + strings.Join(clauses, ", ")
}

func editable(preds []model.Predicate) []service.EditablePredicate {
	out := make([]service.EditablePredicate, 0, len(preds))
	for _, p := range preds {
		out = append(out, service.EditablePredicate{Predicate: p, Editable: true})
	}
	return out
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
