package job

import (
	"strings"
	"testing"
	"time"
)

func TestRenderScript(t *testing.T) {
	j := New("s101_behavior_processing", "/work/job_logs/s101_behavior_processing_2026-08-25-10-30")
	j.Environment = "behavior"
	j.Resources = Resources{CPUs: 7, RAMGB: 5, TimeLimit: 180 * time.Minute}
	j.AddCommand("process-behavior -sp /data/s101 -um")

	script := j.RenderScript()
	for _, want := range []string{
		"#!/bin/bash",
		"#SBATCH --job-name=s101_behavior_processing",
		"#SBATCH --cpus-per-task=7",
		"#SBATCH --mem=5G",
		"#SBATCH --time=180",
		"#SBATCH --output=/work/job_logs/s101_behavior_processing_2026-08-25-10-30/output.txt",
		"source activate behavior",
		"process-behavior -sp /data/s101 -um",
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("script missing %q:\n%s", want, script)
		}
	}
}

func TestValidate(t *testing.T) {
	j := New("demo", "/work/demo")
	if err := j.Validate(); err == nil {
		t.Fatal("expected error for job without commands")
	}
	j.AddCommand("true")
	if err := j.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestWorkDirName(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 30, 59, 0, time.UTC)
	got := WorkDirName("s101_behavior_processing", now)
	want := "s101_behavior_processing_2026-08-25-10-30"
	if got != want {
		t.Fatalf("WorkDirName = %q, want %q", got, want)
	}
}

func TestNewGraph(t *testing.T) {
	a := New("a", "/w/a")
	a.AddCommand("true")
	b := New("b", "/w/b")
	b.AddCommand("true")
	c := New("c", "/w/c")
	c.AddCommand("true")

	g, err := NewGraph([]*Job{a, b}, []*Job{c})
	if err != nil {
		t.Fatalf("NewGraph error: %v", err)
	}
	if g.NumStages() != 2 || g.JobCount() != 3 {
		t.Fatalf("graph shape mismatch: stages=%d jobs=%d", g.NumStages(), g.JobCount())
	}

	stage, err := g.Stage(1)
	if err != nil || len(stage) != 2 {
		t.Fatalf("Stage(1) = %v, %v", stage, err)
	}
	if _, err := g.Stage(3); err == nil {
		t.Fatal("expected out-of-range error for Stage(3)")
	}

	ids := g.JobIDs()
	if len(ids) != 3 || ids[0] != a.ID || ids[2] != c.ID {
		t.Fatalf("JobIDs order mismatch: %v", ids)
	}
}

func TestNewGraph_RejectsEmptyStage(t *testing.T) {
	a := New("a", "/w/a")
	a.AddCommand("true")
	if _, err := NewGraph([]*Job{a}, nil); err == nil {
		t.Fatal("expected error for empty stage")
	}
}
