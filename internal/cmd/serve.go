package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesolab/batchkeeper/internal/config"
	"github.com/mesolab/batchkeeper/internal/observability"
	"github.com/mesolab/batchkeeper/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tracker status API over HTTP",
	Long: `Serve a small read-mostly HTTP API over the tracker files so outer
tooling can inspect and reset pipeline state without shell access to
the shared mount.

Example:
  batchkeeper serve
  batchkeeper serve --host 0.0.0.0 --port 9090`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	host := cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}

	srv := server.New(host, port, cfg.ProcessedDataRoot, cfg.LockTimeout, observability.CLILogger)
	observability.CLILogger.Info("Starting status server",
		zap.String("addr", srv.Addr()),
		zap.String("processed_data_root", cfg.ProcessedDataRoot))

	if err := srv.ListenAndServe(); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Status server failed", err)
	}
	return nil
}
