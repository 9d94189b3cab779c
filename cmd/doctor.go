package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the template store for missing tables and orphaned rows",
	Long: `Connect to the configured template store (sqlite or MySQL), check that
every required table exists, count rows, look for select, join and condition
rows whose template is gone, and list the latest templates and history.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return fmt.Errorf("connection failed: %w", err)
		}
		defer a.Close()

		ctx := commandContext(cmd)
		report, err := a.active.Verify(ctx)
		if err != nil {
			return err
		}
		derived, err := a.derived.Count(ctx)
		if err != nil {
			return err
		}

		renderer(cmd, a.cfg).RenderDoctor(report, derived)
		if !report.OK() {
			return errors.New("template store has integrity problems")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
