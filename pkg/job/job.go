// Package job defines the descriptors for one remote unit of work and the
// grouping of jobs into ordered pipeline stages.
//
// A Job is plain data: the commands to run, the resource request, and the
// remote locations for its working directory and logs. Jobs carry no
// behavior beyond rendering their batch submission script; submitting and
// polling them is the remote package's concern.
package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Resources is the scheduler resource request for one job.
type Resources struct {
	// CPUs is the number of CPU cores to allocate.
	CPUs int

	// RAMGB is the memory allocation in gigabytes.
	RAMGB int

	// TimeLimit is the wall-clock ceiling for the job. The scheduler kills
	// the job when it expires, whether or not the job's logic finished.
	TimeLimit time.Duration
}

// Job describes one remote unit of work.
type Job struct {
	// ID uniquely identifies the job within its pipeline run. Assigned at
	// construction; also used as the job's tracker record key.
	ID string

	// Name is the human-readable job name, used for the scheduler job name
	// and the working-directory prefix.
	Name string

	// WorkingDir is the job's working directory on the remote host.
	WorkingDir string

	// OutputLog and ErrorLog are the remote paths capturing the job's
	// stdout and stderr.
	OutputLog string
	ErrorLog  string

	// Environment is the name of the environment activated before the job's
	// commands run (e.g., a conda environment on the compute cluster).
	Environment string

	// Resources is the scheduler resource request.
	Resources Resources

	commands []string
}

// New returns a Job with a fresh unique id. The output and error logs default
// to output.txt and errors.txt inside workingDir.
func New(name, workingDir string) *Job {
	return &Job{
		ID:         uuid.New().String(),
		Name:       name,
		WorkingDir: workingDir,
		OutputLog:  workingDir + "/output.txt",
		ErrorLog:   workingDir + "/errors.txt",
	}
}

// AddCommand appends one shell command to the job's command list. Commands
// run sequentially; the job fails on the first non-zero exit.
func (j *Job) AddCommand(cmd string) {
	j.commands = append(j.commands, cmd)
}

// Commands returns the job's command list in execution order.
func (j *Job) Commands() []string {
	out := make([]string, len(j.commands))
	copy(out, j.commands)
	return out
}

// Validate reports whether the job is submittable.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("job name is required")
	}
	if strings.TrimSpace(j.WorkingDir) == "" {
		return fmt.Errorf("job %s: working directory is required", j.Name)
	}
	if len(j.commands) == 0 {
		return fmt.Errorf("job %s: at least one command is required", j.Name)
	}
	return nil
}

// RenderScript renders the batch submission script for the job, in the
// sbatch directive dialect used by the compute cluster.
func (j *Job) RenderScript() string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", j.Name)
	if j.Resources.CPUs > 0 {
		fmt.Fprintf(&b, "#SBATCH --cpus-per-task=%d\n", j.Resources.CPUs)
	}
	if j.Resources.RAMGB > 0 {
		fmt.Fprintf(&b, "#SBATCH --mem=%dG\n", j.Resources.RAMGB)
	}
	if j.Resources.TimeLimit > 0 {
		fmt.Fprintf(&b, "#SBATCH --time=%d\n", int(j.Resources.TimeLimit.Minutes()))
	}
	fmt.Fprintf(&b, "#SBATCH --output=%s\n", j.OutputLog)
	fmt.Fprintf(&b, "#SBATCH --error=%s\n", j.ErrorLog)
	fmt.Fprintf(&b, "#SBATCH --chdir=%s\n", j.WorkingDir)
	b.WriteString("\n")
	if j.Environment != "" {
		fmt.Fprintf(&b, "source activate %s\n", j.Environment)
	}
	for _, cmd := range j.commands {
		b.WriteString(cmd)
		b.WriteString("\n")
	}
	return b.String()
}

// workDirTimeLayout is minute-resolution UTC; two submissions of the same
// job name within one minute share a working directory.
const workDirTimeLayout = "2006-01-02-15-04"

// WorkDirName returns the conventional working-directory name for a job:
// the job name suffixed with a minute-resolution UTC timestamp.
func WorkDirName(name string, now time.Time) string {
	return fmt.Sprintf("%s_%s", name, now.UTC().Format(workDirTimeLayout))
}
