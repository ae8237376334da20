// Package cmd implements the batchkeeper CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesolab/batchkeeper/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootVerbose bool

var rootCmd = &cobra.Command{
	Use:   "batchkeeper",
	Short: "Coordinate multi-stage remote processing pipelines over shared storage",
	Long: `batchkeeper drives multi-stage batch processing pipelines whose only
shared medium is a filesystem mount. It keeps per-pipeline run state in
durable tracker files, enforces single-manager ownership, and advances
each pipeline stage by stage as remote jobs finish.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if rootVerbose {
			observability.EnableVerbose()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)",
		versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var coded *cliError
		if errors.As(err, &coded) {
			return coded.code
		}
		return 1
	}
	return 0
}

// cliError carries the process exit code alongside the failure.
type cliError struct {
	code    int
	message string
	err     error
}

func (e *cliError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *cliError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &cliError{code: code, message: message, err: err}
}
