package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nethalo/sqlforge/internal/output"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Write a Markdown catalog of every template",
	Long: `Write a Markdown catalog of every stored template: a summary by tier,
then for each template its question, identifier, tier, entities, editable
parameters and SQL.`,
	Args: cobra.NoArgs,
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

		models, err := a.service().Templates(commandContext(cmd), tier)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		path, _ := cmd.Flags().GetString("output")
		if path != "" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("creating catalog file: %w", err)
			}
			defer f.Close()
			w = f
		}

		if err := output.WriteCatalog(w, models, time.Now()); err != nil {
			return fmt.Errorf("writing catalog: %w", err)
		}
		if path != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Catalog of %d templates written to %s\n", len(models), path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	catalogCmd.Flags().String("tier", "", "Only templates of this tier (A, B or C)")
}
