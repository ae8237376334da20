package cmd

import (
	"fmt"
	"path"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesolab/batchkeeper/internal/config"
	"github.com/mesolab/batchkeeper/internal/observability"
	"github.com/mesolab/batchkeeper/pkg/pipeline"
	"github.com/mesolab/batchkeeper/pkg/tracker"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Force-release a session lock",
	Long: `Force-release a session lock regardless of its current owner.

Use this only after the owning manager process has died; releasing a
lock out from under a live manager lets two managers race the same
session data.

Example:
  batchkeeper unlock -p cortex -a m27 -s 2026-03-14-10`,
	RunE: runUnlock,
}

var (
	unlockProject string
	unlockAnimal  string
	unlockSession string
)

func init() {
	rootCmd.AddCommand(unlockCmd)

	unlockCmd.Flags().StringVarP(&unlockProject, "project", "p", "", "Project name (required)")
	unlockCmd.Flags().StringVarP(&unlockAnimal, "animal", "a", "", "Animal name (required)")
	unlockCmd.Flags().StringVarP(&unlockSession, "session", "s", "", "Session name (required)")

	_ = unlockCmd.MarkFlagRequired("project")
	_ = unlockCmd.MarkFlagRequired("animal")
	_ = unlockCmd.MarkFlagRequired("session")
}

func runUnlock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	session := pipeline.SessionRef{Project: unlockProject, Animal: unlockAnimal, Session: unlockSession}
	lock := sessionLockFor(cfg, session)

	owner, err := lock.Owner()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read session lock", err)
	}
	if owner == tracker.UnownedID {
		fmt.Printf("Session %s/%s/%s is not locked\n", session.Project, session.Animal, session.Session)
		return nil
	}

	if err := lock.ForceRelease(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to release session lock", err)
	}

	observability.CLILogger.Info("Session lock force-released",
		zap.String("path", lock.Path()),
		zap.Int("previous_owner", owner))
	fmt.Printf("Released session lock for %s/%s/%s (was held by manager %d)\n",
		session.Project, session.Animal, session.Session, owner)
	return nil
}

// sessionLockFor resolves the session's lock file beside its raw data.
func sessionLockFor(cfg *config.Config, session pipeline.SessionRef) *tracker.SessionLock {
	lockPath := path.Join(cfg.RawDataRoot, session.Project, session.Animal, session.Session, "session_lock.yaml")
	return tracker.NewSessionLock(lockPath, tracker.WithLockTimeout(cfg.LockTimeout))
}
