package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mesolab/batchkeeper/internal/config"
	"github.com/mesolab/batchkeeper/internal/observability"
	"github.com/mesolab/batchkeeper/pkg/pipeline"
	"github.com/mesolab/batchkeeper/pkg/remote"
	"github.com/mesolab/batchkeeper/pkg/statefile"
	"github.com/mesolab/batchkeeper/pkg/tracker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one processing pipeline for a session",
	Long: `Run one processing pipeline for an acquisition session and block until
it reaches a terminal status.

The command claims the session lock, composes the pipeline for the
requested kind, and then drives it by polling the remote scheduler on
the configured cadence. The session lock is released when the pipeline
ends, whatever its outcome.

Examples:
  batchkeeper run -p cortex -a m27 -s 2026-03-14-10 -k behavior
  batchkeeper run -p cortex -a m27 -s 2026-03-14-10 -k suite2p \
      --suite2p-config /configs/single_day.yaml --planes 4`,
	RunE: runRun,
}

var (
	runProject       string
	runAnimal        string
	runSession       string
	runKind          string
	runSuite2pConfig string
	runPlanes        int
	runKeepJobLogs   bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runProject, "project", "p", "", "Project name (required)")
	runCmd.Flags().StringVarP(&runAnimal, "animal", "a", "", "Animal name (required)")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session name (required)")
	runCmd.Flags().StringVarP(&runKind, "kind", "k", "", "Pipeline kind (required)")
	runCmd.Flags().StringVar(&runSuite2pConfig, "suite2p-config", "", "Remote path of the suite2p parameter file (suite2p only)")
	runCmd.Flags().IntVar(&runPlanes, "planes", 1, "Number of imaging planes (suite2p only)")
	runCmd.Flags().BoolVar(&runKeepJobLogs, "keep-job-logs", false, "Keep remote job log directories after success")

	_ = runCmd.MarkFlagRequired("project")
	_ = runCmd.MarkFlagRequired("animal")
	_ = runCmd.MarkFlagRequired("session")
	_ = runCmd.MarkFlagRequired("kind")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	kind, err := tracker.ParseKind(runKind)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --kind value", err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if runKeepJobLogs {
		cfg.KeepJobLogs = true
	}

	session := pipeline.SessionRef{Project: runProject, Animal: runAnimal, Session: runSession}
	_ = remote.NewLocal()

	lock := sessionLockFor(cfg, session)
	if err := lock.Acquire(cfg.ManagerID); err != nil {
		if tracker.IsOwnershipConflict(err) {
			return exitError(foundry.ExitExternalServiceUnavailable, "Session is locked by another manager", err)
		}
		return exitError(foundry.ExitFileWriteError, "Failed to acquire session lock", err)
	}
	defer func() {
		if relErr := lock.Release(cfg.ManagerID); relErr != nil {
			observability.CLILogger.Warn("Failed to release session lock",
				zap.String("path", lock.Path()),
				zap.Error(relErr))
		}
	}()

	p, err := composePipeline(ctx, cfg, session, kind)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to compose pipeline", err)
	}

	observability.CLILogger.Info("Pipeline composed",
		zap.String("kind", string(kind)),
		zap.String("project", session.Project),
		zap.String("animal", session.Animal),
		zap.String("session", session.Session),
		zap.Int("manager_id", cfg.ManagerID))

	if err := drive(ctx, p, cfg.PollInterval); err != nil {
		return err
	}

	switch p.Status() {
	case pipeline.StatusSucceeded:
		observability.CLILogger.Info("Pipeline succeeded", zap.String("kind", string(kind)))
		return nil
	case pipeline.StatusFailed:
		return exitError(foundry.ExitExternalServiceUnavailable, "Pipeline failed",
			fmt.Errorf("%s pipeline for %s/%s/%s ended in failure",
				kind, session.Project, session.Animal, session.Session))
	case pipeline.StatusAborted:
		return exitError(foundry.ExitExternalServiceUnavailable, "Pipeline aborted",
			fmt.Errorf("%s tracker was reset while the pipeline was running", kind))
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, "Pipeline ended in unexpected status",
			fmt.Errorf("status %q", p.Status()))
	}
}

// drive polls Advance on the configured cadence until the pipeline leaves
// the running state. All waiting happens here; Advance itself never sleeps.
func drive(ctx context.Context, p *pipeline.Pipeline, pollInterval time.Duration) error {
	limiter := rate.NewLimiter(rate.Every(pollInterval), 1)
	for p.Running() {
		if err := limiter.Wait(ctx); err != nil {
			return exitError(foundry.ExitSignalInt, "Run cancelled", err)
		}
		if err := p.Advance(ctx); err != nil {
			if statefile.IsLockTimeout(err) {
				observability.CLILogger.Warn("Tracker lock is contended, will retry",
					zap.Error(err))
				continue
			}
			return exitError(foundry.ExitExternalServiceUnavailable, "Pipeline advance failed", err)
		}
		observability.CLILogger.Debug("Pipeline polled",
			zap.Int("stage", p.Stage()),
			zap.String("status", string(p.Status())))
	}
	return nil
}

func composePipeline(ctx context.Context, cfg *config.Config, session pipeline.SessionRef, kind tracker.Kind) (*pipeline.Pipeline, error) {
	compose := pipeline.ComposeConfig{
		Session:         session,
		Roots:           rootsFor(cfg),
		Service:         remote.NewLocal(),
		ManagerID:       cfg.ManagerID,
		LocalWorkingDir: cfg.LocalWorkingDir,
		KeepJobLogs:     cfg.KeepJobLogs,
		Logger:          observability.CLILogger,
	}

	switch kind {
	case tracker.KindChecksum:
		return pipeline.ComposeChecksum(ctx, compose)
	case tracker.KindPreparation:
		return pipeline.ComposePreparation(ctx, compose)
	case tracker.KindBehavior:
		return pipeline.ComposeBehavior(ctx, compose)
	case tracker.KindVideo:
		return pipeline.ComposeVideo(ctx, compose)
	case tracker.KindArchiving:
		return pipeline.ComposeArchiving(ctx, compose)
	case tracker.KindSuite2p:
		return pipeline.ComposeSuite2p(ctx, compose, pipeline.Suite2pOptions{
			ConfigurationPath: runSuite2pConfig,
			PlaneCount:        runPlanes,
		})
	default:
		// forging, multiday, and manifest runs are composed by the batch
		// planner from multi-session inputs, not from a single session ref.
		return nil, fmt.Errorf("kind %q cannot be composed from a single session", kind)
	}
}

func rootsFor(cfg *config.Config) pipeline.Roots {
	return pipeline.Roots{
		RawData:       cfg.RawDataRoot,
		ProcessedData: cfg.ProcessedDataRoot,
		UserWorking:   cfg.UserWorkingRoot,
	}
}
