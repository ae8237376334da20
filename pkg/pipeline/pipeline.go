// Package pipeline drives a linear sequence of remote job batches (stages)
// to completion, using a durable processing tracker as the source of truth
// for whether the remote side actually finished.
//
// The scheduler can only report that a job left its queue, not whether the
// job's logic succeeded; the tracker can only report what jobs wrote before
// they exited. The executor therefore requires both signals to agree before
// advancing a stage, and treats their disagreement as a failure once no jobs
// remain outstanding.
//
// Scheduling is single-threaded and cooperative: Advance never blocks on
// remote completion. The manager's control loop re-invokes Advance on a
// cadence until Running reports false.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mesolab/batchkeeper/pkg/job"
	"github.com/mesolab/batchkeeper/pkg/remote"
	"github.com/mesolab/batchkeeper/pkg/tracker"
)

// Status is the run-level state of a pipeline.
type Status string

const (
	// StatusRunning means the pipeline is executing or queued on the remote
	// server.
	StatusRunning Status = "running"

	// StatusSucceeded means every stage completed and the tracker confirmed
	// completion.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means a stage failed; remote job logs are preserved for
	// post-mortem regardless of the retention policy.
	StatusFailed Status = "failed"

	// StatusAborted means the tracker was reset externally while the
	// pipeline still expected to advance.
	StatusAborted Status = "aborted"
)

// Config assembles a Pipeline.
type Config struct {
	// Kind identifies the pipeline category; it determines which tracker
	// file records the run's progress.
	Kind tracker.Kind

	// Service is the remote execution capability.
	Service remote.Service

	// Graph is the fully resolved execution graph.
	Graph *job.Graph

	// ManagerID identifies the manager process driving this run.
	ManagerID int

	// RemoteTrackerPath is the tracker snapshot on shared remote storage,
	// written by the jobs themselves.
	RemoteTrackerPath string

	// LocalTrackerPath is the local staging location the remote snapshot is
	// pulled to for inspection.
	LocalTrackerPath string

	// KeepJobLogs retains completed jobs' remote log directories after a
	// successful run. Logs are always retained on failure.
	KeepJobLogs bool

	// Logger receives stage-level progress events. Optional.
	Logger *zap.Logger
}

// Pipeline executes one pipeline run. Not safe for concurrent use; it is
// designed to be driven by a single manager control loop.
type Pipeline struct {
	cfg     Config
	log     *zap.Logger
	status  Status
	stage   int
	handles map[int][]remote.Handle
}

// New validates cfg and returns a Pipeline ready for its first Advance call.
// The local staging directory for the tracker snapshot is created up front.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("remote service is required")
	}
	if cfg.Graph == nil {
		return nil, fmt.Errorf("execution graph is required")
	}
	if cfg.RemoteTrackerPath == "" || cfg.LocalTrackerPath == "" {
		return nil, fmt.Errorf("remote and local tracker paths are required")
	}
	if _, err := tracker.ParseKind(string(cfg.Kind)); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LocalTrackerPath), 0755); err != nil {
		return nil, fmt.Errorf("create local tracker dir: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		cfg:     cfg,
		log:     log,
		status:  StatusRunning,
		handles: make(map[int][]remote.Handle),
	}, nil
}

// Advance checks the pipeline's progress and, when a stage boundary is
// reached, submits the next batch of jobs. It is the executor's single
// externally-driven entry point.
//
// Advance never blocks waiting for remote jobs: while any job of the current
// stage is still outstanding on the scheduler it returns immediately without
// side effects, and the caller re-invokes it later. Transport errors (job
// submission, tracker pull) propagate to the caller, which owns retry
// policy; they do not change the pipeline status.
func (p *Pipeline) Advance(ctx context.Context) error {
	if p.status != StatusRunning {
		return nil
	}

	// First call: submit the opening stage and yield.
	if p.stage == 0 {
		return p.submitStage(ctx, 1)
	}

	// Wait (cooperatively) for the current stage to become
	// scheduler-terminal.
	for _, h := range p.handles[p.stage] {
		done, err := p.cfg.Service.IsComplete(ctx, h)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
	}

	// All jobs left the scheduler queue; the tracker now decides whether
	// that meant success.
	if err := p.cfg.Service.PullFile(ctx, p.cfg.RemoteTrackerPath, p.cfg.LocalTrackerPath); err != nil {
		return err
	}
	st, err := tracker.New(p.cfg.LocalTrackerPath).Peek()
	if err != nil {
		return err
	}

	switch {
	case st.Error:
		// Remote logs are kept for post-mortem regardless of KeepJobLogs.
		p.status = StatusFailed
		p.cleanupLocal()
		p.log.Warn("pipeline stage failed",
			zap.String("pipeline", string(p.cfg.Kind)),
			zap.Int("stage", p.stage))
		return nil

	case st.Complete:
		if p.stage >= p.cfg.Graph.NumStages() {
			return p.finalize(ctx)
		}
		return p.submitStage(ctx, p.stage+1)

	case st.Running:
		if p.stage >= p.cfg.Graph.NumStages() {
			// Scheduler says every job is terminal, tracker still expects
			// progress: a job died before reporting. Implicit failure.
			p.status = StatusFailed
			p.cleanupLocal()
			p.log.Warn("pipeline jobs terminated without reporting completion",
				zap.String("pipeline", string(p.cfg.Kind)),
				zap.Int("stage", p.stage))
			return nil
		}
		return p.submitStage(ctx, p.stage+1)

	default:
		// Idle, neither complete nor errored: the tracker was reset
		// externally while this pipeline still expected to advance.
		p.status = StatusAborted
		p.cleanupLocal()
		p.log.Warn("pipeline aborted externally",
			zap.String("pipeline", string(p.cfg.Kind)),
			zap.Int("stage", p.stage))
		return nil
	}
}

func (p *Pipeline) submitStage(ctx context.Context, stage int) error {
	jobs, err := p.cfg.Graph.Stage(stage)
	if err != nil {
		return err
	}
	p.stage = stage
	for _, j := range jobs {
		h, err := p.cfg.Service.Submit(ctx, j)
		if err != nil {
			return fmt.Errorf("submit stage %d job %s: %w", stage, j.Name, err)
		}
		p.handles[stage] = append(p.handles[stage], h)
	}
	p.log.Info("submitted pipeline stage",
		zap.String("pipeline", string(p.cfg.Kind)),
		zap.Int("stage", stage),
		zap.Int("jobs", len(jobs)))
	return nil
}

func (p *Pipeline) finalize(ctx context.Context) error {
	p.status = StatusSucceeded
	p.cleanupLocal()
	p.log.Info("pipeline succeeded",
		zap.String("pipeline", string(p.cfg.Kind)),
		zap.Int("stages", p.cfg.Graph.NumStages()))

	if p.cfg.KeepJobLogs {
		return nil
	}
	for _, j := range p.cfg.Graph.Jobs() {
		if err := p.cfg.Service.Remove(ctx, j.WorkingDir, true); err != nil {
			return fmt.Errorf("remove job logs %s: %w", j.WorkingDir, err)
		}
	}
	return nil
}

// cleanupLocal removes the local staging directory holding the pulled
// tracker snapshot.
func (p *Pipeline) cleanupLocal() {
	_ = os.RemoveAll(filepath.Dir(p.cfg.LocalTrackerPath))
}

// Status returns the pipeline's run-level state.
func (p *Pipeline) Status() Status { return p.status }

// Running reports whether the pipeline still expects Advance calls.
func (p *Pipeline) Running() bool { return p.status == StatusRunning }

// Stage returns the 1-based index of the most recently submitted stage, or
// zero before the first submission.
func (p *Pipeline) Stage() int { return p.stage }

// Kind returns the pipeline category.
func (p *Pipeline) Kind() tracker.Kind { return p.cfg.Kind }
