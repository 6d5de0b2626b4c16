package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Mowd/claude-dashboard/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard daemon",
	Long: `Start the dashboard daemon with its REST API and SSE event feed.

On startup any workflow left running by a previous process is marked
failed, so the dashboard never shows phantom in-flight work.

Examples:
  # Start with defaults (127.0.0.1:8734)
  dashd serve

  # Bind to all interfaces on a custom port
  dashd serve --host 0.0.0.0 --port 9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "127.0.0.1", "Host address to bind to")
	serveCmd.Flags().IntP("port", "p", 8734, "Port to listen on")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Recovery sweep: fail anything a dead process left in flight.
	orphans, err := a.store.MarkOrphanedRunning(ctx, "interrupted by server restart")
	if err != nil {
		return fmt.Errorf("recovering orphaned workflows: %w", err)
	}
	if len(orphans) > 0 {
		a.logger.Warn("marked orphaned workflows failed", "count", len(orphans))
	}

	server := api.NewServer(a.store, a.engine, a.bus,
		api.WithLogger(a.logger),
		api.WithAllowedOrigins(a.cfg.Server.AllowedOrigins),
		api.WithRequestTimeout(a.cfg.Server.RequestTimeout),
	)

	if err := server.ListenAndServe(ctx, a.cfg.Server.Addr()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	a.logger.Info("server stopped")
	return nil
}
