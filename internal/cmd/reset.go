package cmd

import (
	"fmt"
	"path"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesolab/batchkeeper/internal/config"
	"github.com/mesolab/batchkeeper/internal/observability"
	"github.com/mesolab/batchkeeper/pkg/tracker"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Force a tracker back to the unowned idle state",
	Long: `Force a session's tracker back to the unowned idle state regardless of
its current owner.

This is the recovery path for pipelines orphaned by a crashed manager:
the run stays marked running forever because nobody is left to stop it.
Reset does not touch remote jobs; kill those through the scheduler
before resetting, or the orphaned jobs will keep mutating the tracker.

Example:
  batchkeeper reset -p cortex -a m27 -s 2026-03-14-10 -k suite2p`,
	RunE: runReset,
}

var (
	resetProject string
	resetAnimal  string
	resetSession string
	resetKind    string
)

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringVarP(&resetProject, "project", "p", "", "Project name (required)")
	resetCmd.Flags().StringVarP(&resetAnimal, "animal", "a", "", "Animal name (required)")
	resetCmd.Flags().StringVarP(&resetSession, "session", "s", "", "Session name (required)")
	resetCmd.Flags().StringVarP(&resetKind, "kind", "k", "", "Tracker kind (required)")

	_ = resetCmd.MarkFlagRequired("project")
	_ = resetCmd.MarkFlagRequired("animal")
	_ = resetCmd.MarkFlagRequired("session")
	_ = resetCmd.MarkFlagRequired("kind")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	kind, err := tracker.ParseKind(resetKind)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --kind value", err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	dir := path.Join(cfg.ProcessedDataRoot, resetProject, resetAnimal, resetSession, "processed_data")
	tr := tracker.ForKind(dir, kind, tracker.WithLockTimeout(cfg.LockTimeout))
	if err := tr.Reset(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to reset tracker", err)
	}

	observability.CLILogger.Info("Tracker reset",
		zap.String("kind", string(kind)),
		zap.String("path", tr.Path()))
	fmt.Printf("Reset %s tracker for %s/%s/%s\n", kind, resetProject, resetAnimal, resetSession)
	return nil
}
