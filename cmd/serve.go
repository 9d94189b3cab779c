package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nethalo/sqlforge/internal/api"
	"github.com/nethalo/sqlforge/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve templates as MCP tools or an HTTP API",
	Long: `Serve the template store.

  --transport stdio   MCP tools over stdin/stdout (default)
  --transport sse     MCP tools over server-sent events on --port
  --transport http    JSON HTTP API on --port`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		transport := a.cfg.Serve.Transport
		if cmd.Flags().Changed("transport") {
			transport, _ = cmd.Flags().GetString("transport")
		}
		port := a.cfg.Serve.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		addr := fmt.Sprintf(":%d", port)

		ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc := a.service()
		mcpserver.Version = Version

		switch transport {
		case "stdio":
			return mcpserver.New(svc, a.cfg.Defaults.Format, a.logger).ServeStdio()
		case "sse":
			return mcpserver.New(svc, a.cfg.Defaults.Format, a.logger).ServeSSE(ctx, addr)
		case "http":
			return api.Serve(ctx, addr, api.NewRouter(svc, a.logger), a.logger)
		default:
			return fmt.Errorf("unknown transport %q: want stdio, sse or http", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("transport", "stdio", "stdio, sse or http")
	serveCmd.Flags().Int("port", 8765, "Listen port for sse and http")
}
