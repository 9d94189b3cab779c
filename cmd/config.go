package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nethalo/sqlforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage sqlforge configuration",
}

var configInitCmd = &cobra.Command{
	Use:          "init",
	Short:        "Create a starter config file",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		configDir, err := config.Dir()
		if err != nil {
			return err
		}
		configPath := filepath.Join(configDir, "config.yaml")

		// Check if config already exists
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(configPath); err == nil && !force {
			fmt.Fprintf(out, "Config file already exists at %s\n", configPath)
			fmt.Fprint(out, "Overwrite? [y/N]: ")
			reader := bufio.NewReader(cmd.InOrStdin())
			answer, _ := reader.ReadString('\n')
			if strings.TrimSpace(strings.ToLower(answer)) != "y" {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}
		}

		if err := os.MkdirAll(configDir, 0o700); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(config.Starter()), 0o600); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Fprintf(out, "✅ Config written to %s\n", configPath)
		fmt.Fprintln(out, "\nNext steps:")
		fmt.Fprintln(out, "  1. Put .sql files in <paths.source>/inbox")
		fmt.Fprintln(out, "  2. Run 'sqlforge ingest --load'")
		fmt.Fprintln(out, "  3. Run 'sqlforge list' or 'sqlforge serve'")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		configFile := viper.ConfigFileUsed()
		if configFile == "" {
			fmt.Fprintln(out, "No config file found.")
			fmt.Fprintln(out, "Run 'sqlforge config init' to create one.")
			return nil
		}

		fmt.Fprintf(out, "Config file: %s\n\n", configFile)

		data, err := os.ReadFile(configFile)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		fmt.Fprintln(out, string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config without asking")
}
