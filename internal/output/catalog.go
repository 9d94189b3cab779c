package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nethalo/sqlforge/internal/model"
)

// WriteCatalog renders every template as a Markdown catalog: a summary by
// tier followed by one section per template listing its editable conditions.
func WriteCatalog(w io.Writer, models []*model.StructuralModel, generatedAt time.Time) error {
	var b strings.Builder

	b.WriteString("# Query Template Catalog\n\n")
	fmt.Fprintf(&b, "_Generated %s · %d templates_\n\n", formatTime(generatedAt), len(models))

	byTier := make(map[model.Tier]int)
	for _, m := range models {
		byTier[m.Tier]++
	}
	b.WriteString("## Summary\n\n")
	b.WriteString("| Tier | Meaning | Templates |\n|---|---|---|\n")
	for _, t := range []model.Tier{model.TierA, model.TierB, model.TierC} {
		fmt.Fprintf(&b, "| %s | %s | %d |\n", t, t.Description(), byTier[t])
	}
	b.WriteString("\n")

	if len(models) == 0 {
		b.WriteString("_No templates loaded._\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString("## Templates\n\n")
	for _, m := range models {
		fmt.Fprintf(&b, "### %s\n\n", cell(orNone(m.Question)))
		fmt.Fprintf(&b, "- **ID:** `%s`\n", m.Identifier)
		fmt.Fprintf(&b, "- **Tier:** %s (%s)\n", m.Tier, m.Tier.Description())
		fmt.Fprintf(&b, "- **Entities:** %s\n", orNone(strings.Join(m.Entities, ", ")))
		if len(m.Tags) > 0 {
			fmt.Fprintf(&b, "- **Tags:** %s\n", strings.Join(m.Tags, ", "))
		}
		if cats := m.Categories(); len(cats) > 1 {
			fmt.Fprintf(&b, "- **Column presets:** %s\n", strings.Join(cats, ", "))
		}
		b.WriteString("\n")
		if m.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", m.Description)
		}

		b.WriteString("**Editable parameters**\n\n")
		if len(m.WherePredicates) == 0 {
			b.WriteString("_none_\n\n")
		} else {
			b.WriteString("| Column | Operator | Current value |\n|---|---|---|\n")
			for _, p := range m.WherePredicates {
				fmt.Fprintf(&b, "| `%s` | %s | `%s` |\n", p.Column, p.Operator, cell(p.Value))
			}
			b.WriteString("\n")
		}

		fmt.Fprintf(&b, "```sql\n%s\n```\n\n", m.NormalizedSQL)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
