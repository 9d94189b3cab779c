package cmd

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nethalo/sqlforge/internal/config"
	"github.com/nethalo/sqlforge/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Analyze every SQL file in the inbox and write JSON templates",
	Long: `Analyze every .sql and .txt file in <source>/inbox.

Each file becomes <templates>/query_<id>.json, where <id> is the part of the
file name before the first underscore, and is moved to <source>/success.
Files that fail are moved to <source>/failed next to a .error.log that
explains why. With --load every template is also written to the store.
With --watch the inbox is processed once and then watched for new files
until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		load, _ := cmd.Flags().GetBool("load")
		watch, _ := cmd.Flags().GetBool("watch")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if w, _ := cmd.Flags().GetInt("workers"); cmd.Flags().Changed("workers") {
			cfg.Ingest.Workers = w
		}
		load = load || cfg.Ingest.Load

		var p *ingest.Pipeline
		if load {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			p = ingest.New(pipelineConfig(cfg, true), a.active, a.logger)
		} else {
			p = ingest.New(pipelineConfig(cfg, false), nil, newLogger(cfg, cmd.ErrOrStderr()))
		}

		if err := p.EnsureDirs(); err != nil {
			return err
		}
		r := renderer(cmd, cfg)

		if !watch {
			report, err := p.ProcessInbox(commandContext(cmd))
			if err != nil {
				return err
			}
			r.RenderIngest(report)
			if report.Failed > 0 {
				return fmt.Errorf("%d of %d files failed; see %s", report.Failed, len(report.Files), filepath.Join(cfg.Paths.Source, ingest.FailedDir))
			}
			return nil
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl-C to stop)\n", filepath.Join(cfg.Paths.Source, ingest.InboxDir))
		return p.Watch(ctx, func(res ingest.FileResult) {
			r.RenderIngest(&ingest.Report{RunID: "watch", Files: []ingest.FileResult{res}, Succeeded: btoi(res.OK()), Failed: btoi(!res.OK())})
		})
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load every query_*.json template into the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		p := ingest.New(pipelineConfig(a.cfg, true), a.active, a.logger)
		report, err := p.LoadTemplates(commandContext(cmd))
		if err != nil {
			return err
		}
		renderer(cmd, a.cfg).RenderLoad(report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd, loadCmd)
	ingestCmd.Flags().Bool("load", false, "Also store every analyzed template")
	ingestCmd.Flags().Bool("watch", false, "Keep watching the inbox for new files")
	ingestCmd.Flags().Int("workers", 4, "Files analyzed in parallel")
}

func pipelineConfig(cfg *config.Config, load bool) ingest.Config {
	return ingest.Config{
		SourceDir:    cfg.Paths.Source,
		TemplatesDir: cfg.Paths.Templates,
		Workers:      cfg.Ingest.Workers,
		Load:         load,
	}
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
