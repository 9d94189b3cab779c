package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nethalo/sqlforge/internal/mcpserver"
	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/service"
)

var getCmd = &cobra.Command{
	Use:   "get <query-id>",
	Short: "Show a template's joins, editable conditions and column presets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.service().GetDetails(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		renderer(cmd, a.cfg).RenderDetails(d)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search templates by question, description, entities and tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := tierFlag(cmd)
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.service().Search(commandContext(cmd), args[0], tier)
		if err != nil {
			return err
		}
		renderer(cmd, a.cfg).RenderTemplates(fmt.Sprintf("Templates matching %q", args[0]), items)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := tierFlag(cmd)
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		if !cmd.Flags().Changed("limit") {
			limit = a.cfg.Defaults.ListLimit
		}
		items, err := a.service().List(commandContext(cmd), tier, limit)
		if err != nil {
			return err
		}
		renderer(cmd, a.cfg).RenderTemplates("Recent templates", items)
		return nil
	},
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <query-id>",
	Short: "Generate new SQL from a template with different WHERE conditions",
	Long: `Generate new SQL from a template by replacing its WHERE conditions.

Joins are kept exactly as in the template. Conditions are given either with
repeated --where flags ("column operator value") or as a JSON array:

  sqlforge regenerate q001 --where "t.d >= '2025-02-01'" --where "t.kind IN (1, 2)"
  sqlforge regenerate q001 --conditions '[{"column": "t.d", "operator": "=", "value": "1"}]'

The result is stored as a derived template <query-id>_modified_<n>.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		preds, err := conditionFlags(cmd)
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		question, _ := cmd.Flags().GetString("question")
		category, _ := cmd.Flags().GetString("category")
		res, err := a.service().Regenerate(commandContext(cmd), service.RegenerateRequest{
			Identifier: args[0],
			Predicates: preds,
			Question:   question,
			Category:   category,
		})
		if err != nil {
			return err
		}
		renderer(cmd, a.cfg).RenderRegenerate(res)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <query-id>",
	Short: "Show archived versions of a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.service().History(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		renderer(cmd, a.cfg).RenderHistory(args[0], records)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show template, derived template and history counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.service().Status(commandContext(cmd))
		if err != nil {
			return err
		}
		renderer(cmd, a.cfg).RenderStatus(st)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd, searchCmd, listCmd, regenerateCmd, historyCmd, statusCmd)

	searchCmd.Flags().String("tier", "", "Only templates of this tier (A, B or C)")
	listCmd.Flags().String("tier", "", "Only templates of this tier (A, B or C)")
	listCmd.Flags().Int("limit", service.DefaultListLimit, "Maximum number of templates")

	regenerateCmd.Flags().StringArray("where", nil, `Condition as "column operator value" (repeatable)`)
	regenerateCmd.Flags().String("conditions", "", "Conditions as a JSON array")
	regenerateCmd.Flags().String("question", "", "Question the new statement answers")
	regenerateCmd.Flags().String("category", model.DefaultCategory, "Select column preset")
	regenerateCmd.MarkFlagsMutuallyExclusive("where", "conditions")
}

func tierFlag(cmd *cobra.Command) (model.Tier, error) {
	raw, _ := cmd.Flags().GetString("tier")
	if raw == "" {
		return "", nil
	}
	tier, ok := model.ParseTier(raw)
	if !ok {
		return "", fmt.Errorf("unknown tier %q: want A, B or C", raw)
	}
	return tier, nil
}

func conditionFlags(cmd *cobra.Command) ([]model.Predicate, error) {
	if raw, _ := cmd.Flags().GetString("conditions"); raw != "" {
		return mcpserver.ParseConditions(raw)
	}
	wheres, _ := cmd.Flags().GetStringArray("where")
	preds := make([]model.Predicate, 0, len(wheres))
	for _, w := range wheres {
		p, err := parseCondition(w)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// parseCondition splits "column operator value". The value keeps its
// original spacing, so "BETWEEN 1 AND 5" and "IN (1, 2)" survive.
func parseCondition(s string) (model.Predicate, error) {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return model.Predicate{}, fmt.Errorf("condition %q: want \"column operator value\"", s)
	}
	rest := strings.TrimSpace(s)
	rest = strings.TrimSpace(strings.TrimPrefix(rest, fields[0]))
	rest = strings.TrimSpace(strings.TrimPrefix(rest, fields[1]))
	return model.Predicate{
		Column:   fields[0],
		Operator: fields[1],
		Value:    rest,
		Kind:     model.FilterPredicate,
	}, nil
}
