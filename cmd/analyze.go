package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nethalo/sqlforge/internal/analyzer"
	"github.com/nethalo/sqlforge/internal/ingest"
)

// maxSQLFileSize bounds files read by --file.
const maxSQLFileSize = 10 * 1024 * 1024

var analyzeCmd = &cobra.Command{
	Use:   "analyze [SQL statement]",
	Short: "Decompose a SELECT statement without storing it",
	Long: `Decompose a SQL SELECT statement and report:
  - Select columns with their source table and aggregation
  - Joins, which are fixed in every regenerated statement
  - WHERE conditions, which can be replaced
  - Complexity tier (A, B or C) from the number of qualifying joins
  - Parts of the statement the template does not capture`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sqlText, err := getSQLInput(cmd, args)
		if err != nil {
			return err
		}

		id, _ := cmd.Flags().GetString("id")
		question, _ := cmd.Flags().GetString("question")
		if file, _ := cmd.Flags().GetString("file"); file != "" && id == "" {
			id, question = ingest.IdentifierFromFilename(file)
		}

		result, err := analyzer.Analyze(analyzer.Input{
			SQL:  sqlText,
			Meta: analyzer.Meta{Identifier: id, Question: question},
		})
		if err != nil {
			return err
		}

		renderer(cmd, cfg).RenderAnalysis(result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().String("file", "", "Read SQL from file instead of argument")
	analyzeCmd.Flags().String("id", "", "Template identifier to show in the report")
	analyzeCmd.Flags().String("question", "", "Question the statement answers")
}

func getSQLInput(cmd *cobra.Command, args []string) (string, error) {
	filePath, _ := cmd.Flags().GetString("file")

	if filePath != "" {
		if err := validateSQLFilePath(filePath); err != nil {
			return "", err
		}
		data, err := os.ReadFile(filepath.Clean(filePath))
		if err != nil {
			return "", fmt.Errorf("could not read file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}

	return "", fmt.Errorf("provide a SQL statement as argument or use --file flag")
}

// validateSQLFilePath rejects paths that are missing, not regular files, or too large.
func validateSQLFilePath(path string) error {
	info, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("cannot access file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > maxSQLFileSize {
		return fmt.Errorf("file too large: %s is %d bytes (limit %d)", path, info.Size(), maxSQLFileSize)
	}
	return nil
}
