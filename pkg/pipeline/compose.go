package pipeline

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mesolab/batchkeeper/pkg/job"
	"github.com/mesolab/batchkeeper/pkg/remote"
	"github.com/mesolab/batchkeeper/pkg/tracker"
)

// SessionRef identifies one acquisition session inside the shared data tree.
type SessionRef struct {
	Project string
	Animal  string
	Session string
}

// Validate reports whether the reference is fully specified.
func (s SessionRef) Validate() error {
	if s.Project == "" || s.Animal == "" || s.Session == "" {
		return fmt.Errorf("project, animal, and session are all required")
	}
	return nil
}

// Roots holds the shared directory roots on the remote server.
type Roots struct {
	// RawData is the root of the raw session data tree.
	RawData string

	// ProcessedData is the root of the processed data tree; tracker files
	// live under it at <project>/<animal>/<session>/processed_data/.
	ProcessedData string

	// UserWorking is the caller's working root; per-job log directories are
	// created under <UserWorking>/job_logs/.
	UserWorking string
}

// ComposeConfig carries everything a pipeline composer needs. Composers
// resolve the full execution graph up front: remote working directories are
// created during composition, and the returned Pipeline starts executing on
// its first Advance call.
type ComposeConfig struct {
	Session   SessionRef
	Roots     Roots
	Service   remote.Service
	ManagerID int

	// LocalWorkingDir is the local directory tracker snapshots are staged
	// under while the pipeline runs.
	LocalWorkingDir string

	KeepJobLogs bool
	Logger      *zap.Logger

	// Now overrides the composition timestamp used in working-directory
	// names. Zero means time.Now.
	Now time.Time
}

func (c *ComposeConfig) validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if c.Service == nil {
		return fmt.Errorf("remote service is required")
	}
	if c.Roots.ProcessedData == "" || c.Roots.UserWorking == "" {
		return fmt.Errorf("processed-data and user-working roots are required")
	}
	if c.LocalWorkingDir == "" {
		return fmt.Errorf("local working directory is required")
	}
	return nil
}

func (c *ComposeConfig) timestamp() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// remoteSessionPath returns the session's directory under root. Remote paths
// are POSIX regardless of the manager's host OS.
func (c *ComposeConfig) remoteSessionPath(root string) string {
	return path.Join(root, c.Session.Project, c.Session.Animal, c.Session.Session)
}

// newStageJob creates one job with its remote working directory resolved and
// created under <user-working-root>/job_logs/.
func newStageJob(ctx context.Context, cfg *ComposeConfig, name, env string, res job.Resources) (*job.Job, error) {
	workDir := path.Join(cfg.Roots.UserWorking, "job_logs", job.WorkDirName(name, cfg.timestamp()))
	if err := cfg.Service.CreateDirectory(ctx, workDir); err != nil {
		return nil, fmt.Errorf("create working directory for %s: %w", name, err)
	}
	j := job.New(name, workDir)
	j.Environment = env
	j.Resources = res
	return j, nil
}

// trackerPaths resolves the remote tracker location beside the session's
// processed data and the local staging path it is pulled to.
func trackerPaths(cfg *ComposeConfig, kind tracker.Kind) (remotePath, localPath string) {
	remotePath = path.Join(cfg.remoteSessionPath(cfg.Roots.ProcessedData), "processed_data", kind.FileName())
	localPath = filepath.Join(cfg.LocalWorkingDir, cfg.Session.Project,
		fmt.Sprintf("%s_%s", cfg.Session.Session, kind), kind.FileName())
	return remotePath, localPath
}

func composeSingleJob(ctx context.Context, cfg *ComposeConfig, kind tracker.Kind, env, command string, res job.Resources) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s_%s_processing", cfg.Session.Session, kind)
	j, err := newStageJob(ctx, cfg, name, env, res)
	if err != nil {
		return nil, err
	}
	j.AddCommand(command)

	graph, err := job.NewGraph([]*job.Job{j})
	if err != nil {
		return nil, err
	}
	remotePath, localPath := trackerPaths(cfg, kind)
	return New(Config{
		Kind:              kind,
		Service:           cfg.Service,
		Graph:             graph,
		ManagerID:         cfg.ManagerID,
		RemoteTrackerPath: remotePath,
		LocalTrackerPath:  localPath,
		KeepJobLogs:       cfg.KeepJobLogs,
		Logger:            cfg.Logger,
	})
}

// ComposeChecksum builds the integrity-verification pipeline: a single job
// that recomputes the session's raw-data checksums on the server and compares
// them against the manifest written at acquisition time.
func ComposeChecksum(ctx context.Context, cfg ComposeConfig) (*Pipeline, error) {
	command := fmt.Sprintf("verify-session -sp %s -um", cfg.remoteSessionPath(cfg.Roots.RawData))
	return composeSingleJob(ctx, &cfg, tracker.KindChecksum, "manage",
		command, job.Resources{CPUs: 4, RAMGB: 10, TimeLimit: 60 * time.Minute})
}

// ComposePreparation builds the processing-preparation pipeline: a single job
// that copies the session's raw data from the storage volume to the fast
// working volume before processing.
func ComposePreparation(ctx context.Context, cfg ComposeConfig) (*Pipeline, error) {
	command := fmt.Sprintf("prepare-session -sp %s -pdr %s -um",
		cfg.remoteSessionPath(cfg.Roots.RawData), cfg.Roots.ProcessedData)
	return composeSingleJob(ctx, &cfg, tracker.KindPreparation, "manage",
		command, job.Resources{CPUs: 2, RAMGB: 8, TimeLimit: 120 * time.Minute})
}

// ComposeBehavior builds the behavior-processing pipeline: a single job that
// extracts behavior data from the session's acquisition logs.
func ComposeBehavior(ctx context.Context, cfg ComposeConfig) (*Pipeline, error) {
	command := fmt.Sprintf("process-behavior -sp %s -pdr %s -um",
		cfg.remoteSessionPath(cfg.Roots.RawData), cfg.Roots.ProcessedData)
	return composeSingleJob(ctx, &cfg, tracker.KindBehavior, "behavior",
		command, job.Resources{CPUs: 7, RAMGB: 5, TimeLimit: 180 * time.Minute})
}

// ComposeVideo builds the video-processing pipeline: a single pose-estimation
// job over the session's behavior videos.
func ComposeVideo(ctx context.Context, cfg ComposeConfig) (*Pipeline, error) {
	command := fmt.Sprintf("process-video -sp %s -pdr %s -um",
		cfg.remoteSessionPath(cfg.Roots.RawData), cfg.Roots.ProcessedData)
	return composeSingleJob(ctx, &cfg, tracker.KindVideo, "video",
		command, job.Resources{CPUs: 12, RAMGB: 32, TimeLimit: 240 * time.Minute})
}

// ComposeArchiving builds the archiving pipeline: a single job that moves the
// session's processed data back to the storage volume and removes the
// now-redundant working copy of the raw data.
func ComposeArchiving(ctx context.Context, cfg ComposeConfig) (*Pipeline, error) {
	command := fmt.Sprintf("archive-session -sp %s -pdr %s -um",
		cfg.remoteSessionPath(cfg.Roots.RawData), cfg.Roots.ProcessedData)
	return composeSingleJob(ctx, &cfg, tracker.KindArchiving, "manage",
		command, job.Resources{CPUs: 2, RAMGB: 8, TimeLimit: 240 * time.Minute})
}

// Suite2pOptions parameterizes the single-day suite2p pipeline.
type Suite2pOptions struct {
	// ConfigurationPath is the remote path of the suite2p parameter file.
	ConfigurationPath string

	// PlaneCount is the number of imaging planes; it determines how many
	// parallel plane-processing jobs stage 2 runs.
	PlaneCount int
}

// ComposeSuite2p builds the three-stage single-day suite2p pipeline:
// binarization, parallel per-plane processing, and combination. The stages
// form a dependency chain; each later batch consumes the previous batch's
// output, so the executor submits them strictly in order.
func ComposeSuite2p(ctx context.Context, cfg ComposeConfig, opts Suite2pOptions) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opts.ConfigurationPath == "" {
		return nil, fmt.Errorf("suite2p configuration path is required")
	}
	if opts.PlaneCount < 1 {
		return nil, fmt.Errorf("plane count must be >= 1, got %d", opts.PlaneCount)
	}

	sessionPath := cfg.remoteSessionPath(cfg.Roots.RawData)
	base := fmt.Sprintf("%s -sp %s -pdr %s", opts.ConfigurationPath, sessionPath, cfg.Roots.ProcessedData)

	binarize, err := newStageJob(ctx, &cfg, fmt.Sprintf("%s_s2p_sd_binarization", cfg.Session.Session),
		"suite2p", job.Resources{CPUs: 1, RAMGB: 5, TimeLimit: 240 * time.Minute})
	if err != nil {
		return nil, err
	}
	binarize.AddCommand(fmt.Sprintf("process-suite2p -i %s -b -w -1 -um", base))

	planes := make([]*job.Job, 0, opts.PlaneCount)
	for plane := 0; plane < opts.PlaneCount; plane++ {
		j, err := newStageJob(ctx, &cfg, fmt.Sprintf("%s_s2p_sd_plane_%d", cfg.Session.Session, plane),
			"suite2p", job.Resources{CPUs: 42, RAMGB: 80, TimeLimit: 300 * time.Minute})
		if err != nil {
			return nil, err
		}
		j.AddCommand(fmt.Sprintf("process-suite2p -i %s -p -t %d -w -1 -um", base, plane))
		planes = append(planes, j)
	}

	combine, err := newStageJob(ctx, &cfg, fmt.Sprintf("%s_s2p_sd_combination", cfg.Session.Session),
		"suite2p", job.Resources{CPUs: 1, RAMGB: 4, TimeLimit: 90 * time.Minute})
	if err != nil {
		return nil, err
	}
	combine.AddCommand(fmt.Sprintf("process-suite2p -i %s -c -w -1 -um", base))

	graph, err := job.NewGraph([]*job.Job{binarize}, planes, []*job.Job{combine})
	if err != nil {
		return nil, err
	}
	remotePath, localPath := trackerPaths(&cfg, tracker.KindSuite2p)
	return New(Config{
		Kind:              tracker.KindSuite2p,
		Service:           cfg.Service,
		Graph:             graph,
		ManagerID:         cfg.ManagerID,
		RemoteTrackerPath: remotePath,
		LocalTrackerPath:  localPath,
		KeepJobLogs:       cfg.KeepJobLogs,
		Logger:            cfg.Logger,
	})
}
