package tracker

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "behavior.yaml"))
}

func TestLoad_InitializesIdleSnapshot(t *testing.T) {
	tr := newTestTracker(t)

	st, err := tr.Peek()
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	want := State{Manager: UnownedID, JobCount: 1}
	if st.Running || st.Complete || st.Error || st.Manager != want.Manager ||
		st.JobCount != want.JobCount || st.CompletedJobs != 0 {
		t.Fatalf("default snapshot mismatch: %+v", st)
	}

	// The all-default snapshot must be persisted before Peek returns.
	if _, err := os.Stat(tr.Path()); err != nil {
		t.Fatalf("tracker file not created on first touch: %v", err)
	}
}

func TestStart_MutualExclusion(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Start(1, 2); err != nil {
		t.Fatalf("Start(1) error: %v", err)
	}
	err := tr.Start(2, 2)
	if !IsOwnershipConflict(err) {
		t.Fatalf("Start(2) expected ErrOwnershipConflict, got %v", err)
	}
}

func TestStart_IdempotentForSameManager(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Start(5, 3); err != nil {
		t.Fatalf("first Start error: %v", err)
	}
	first, err := tr.Peek()
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}

	if err := tr.Start(5, 3); err != nil {
		t.Fatalf("redundant Start error: %v", err)
	}
	second, err := tr.Peek()
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}

	if first.Running != second.Running || first.Manager != second.Manager ||
		first.JobCount != second.JobCount || first.CompletedJobs != second.CompletedJobs {
		t.Fatalf("redundant Start changed state: first=%+v second=%+v", first, second)
	}
}

func TestStop_MonotonicCompletion(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Start(1, 3); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if err := tr.Stop(1); err != nil {
			t.Fatalf("Stop %d error: %v", i, err)
		}
		st, err := tr.Peek()
		if err != nil {
			t.Fatalf("Peek() error: %v", err)
		}
		if st.CompletedJobs != i {
			t.Fatalf("completed_jobs=%d after %d stops", st.CompletedJobs, i)
		}
		wantComplete := i == 3
		if st.Complete != wantComplete {
			t.Fatalf("complete=%v after %d of 3 stops", st.Complete, i)
		}
		if wantComplete && (st.Running || st.Manager != UnownedID) {
			t.Fatalf("final stop did not release ownership: %+v", st)
		}
	}
}

func TestStop_CrashRecoveryAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suite2p.yaml")

	tr := New(path)
	if err := tr.Start(1, 2); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := tr.Stop(1); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	// A fresh Tracker over the same path simulates a new process reading the
	// durable snapshot after the first manager crashed.
	reloaded := New(path)
	st, err := reloaded.Peek()
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if !st.Running || st.CompletedJobs != 1 || st.Manager != 1 {
		t.Fatalf("reloaded snapshot mismatch: %+v", st)
	}
}

func TestAbort_OverridesOwnership(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Start(1, 4); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := tr.Abort(); err != nil {
		t.Fatalf("Abort error: %v", err)
	}

	st, err := tr.Peek()
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if st.Running || st.Complete || st.Error || st.Manager != UnownedID || st.CompletedJobs != 0 {
		t.Fatalf("Abort did not reset to idle: %+v", st)
	}

	// A new manager may now claim the run.
	if err := tr.Start(9, 1); err != nil {
		t.Fatalf("Start after Abort error: %v", err)
	}
}

func TestCompletedRunReleasesForNextManager(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Start(7, 1); err != nil {
		t.Fatalf("Start(7) error: %v", err)
	}
	if err := tr.Stop(7); err != nil {
		t.Fatalf("Stop(7) error: %v", err)
	}

	complete, err := tr.IsComplete()
	if err != nil {
		t.Fatalf("IsComplete() error: %v", err)
	}
	if !complete {
		t.Fatal("run not complete after final stop")
	}

	// The previous run is fully terminal, so a different manager starts
	// without conflict.
	if err := tr.Start(9, 1); err != nil {
		t.Fatalf("Start(9) error: %v", err)
	}
	running, err := tr.IsRunning()
	if err != nil {
		t.Fatalf("IsRunning() error: %v", err)
	}
	if !running {
		t.Fatal("second run not running")
	}
}

func TestError_ReleasesOwnershipAndSetsFlag(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Start(1, 2); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := tr.Error(2); !IsOwnershipConflict(err) {
		t.Fatalf("Error(2) expected ErrOwnershipConflict, got %v", err)
	}
	if err := tr.Error(1); err != nil {
		t.Fatalf("Error(1) error: %v", err)
	}

	st, err := tr.Peek()
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if !st.Error || st.Running || st.Manager != UnownedID {
		t.Fatalf("Error transition mismatch: %+v", st)
	}

	// Error on an idle run is a no-op.
	if err := tr.Error(3); err != nil {
		t.Fatalf("Error on idle run: %v", err)
	}
}

func TestJobLevelTracking(t *testing.T) {
	tr := newTestTracker(t)

	ids := []string{"job-a", "job-b"}
	if err := tr.StartWithJobs(4, ids); err != nil {
		t.Fatalf("StartWithJobs error: %v", err)
	}

	if err := tr.StartJob(4, "job-a", 1201); err != nil {
		t.Fatalf("StartJob error: %v", err)
	}
	status, err := tr.JobStatus("job-a")
	if err != nil {
		t.Fatalf("JobStatus error: %v", err)
	}
	if status != JobRunning {
		t.Fatalf("job-a status=%q want running", status)
	}

	if err := tr.CompleteJob(4, "job-a"); err != nil {
		t.Fatalf("CompleteJob job-a error: %v", err)
	}
	st, err := tr.Peek()
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if st.Complete || st.CompletedJobs != 1 {
		t.Fatalf("run finalized early: %+v", st)
	}

	if err := tr.CompleteJob(4, "job-b"); err != nil {
		t.Fatalf("CompleteJob job-b error: %v", err)
	}
	st, err = tr.Peek()
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if !st.Complete || st.Running {
		t.Fatalf("last job did not finalize the run: %+v", st)
	}
}

func TestJobVerbs_RejectUnknownIDs(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.StartWithJobs(4, []string{"job-a"}); err != nil {
		t.Fatalf("StartWithJobs error: %v", err)
	}
	if err := tr.StartJob(4, "job-x", 1); !IsUnknownJob(err) {
		t.Fatalf("StartJob expected ErrUnknownJob, got %v", err)
	}
	if _, err := tr.JobStatus("job-x"); !IsUnknownJob(err) {
		t.Fatalf("JobStatus expected ErrUnknownJob, got %v", err)
	}
}

func TestFailJob_FailsTheRun(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.StartWithJobs(4, []string{"job-a", "job-b"}); err != nil {
		t.Fatalf("StartWithJobs error: %v", err)
	}
	if err := tr.FailJob(4, "job-b"); err != nil {
		t.Fatalf("FailJob error: %v", err)
	}

	st, err := tr.Peek()
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if !st.Error || st.Running || st.Manager != UnownedID {
		t.Fatalf("FailJob transition mismatch: %+v", st)
	}
	if st.Jobs["job-b"].Status != JobFailed {
		t.Fatalf("job-b status=%q want failed", st.Jobs["job-b"].Status)
	}
}

func TestPeek_RejectsUnknownJobStatus(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video.yaml")
	raw := "running: true\nmanager: 2\njob_count: 1\ncompleted_jobs: 0\njobs:\n  j1:\n    id: j1\n    status: exploded\n"
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("seed tracker file: %v", err)
	}

	if _, err := New(path).Peek(); err == nil {
		t.Fatal("expected validation failure for unknown job status")
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Fatalf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("telemetry"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
