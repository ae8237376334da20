package job

import "fmt"

// Graph is a fully resolved pipeline execution graph: an ordered sequence of
// stages, each a batch of independent jobs. Stage indices are contiguous and
// start at 1; a later stage's jobs are never submitted until every job of
// every earlier stage has reached a terminal remote state.
//
// The graph is immutable after construction: the whole pipeline is known up
// front, and only the executor's stage cursor moves.
type Graph struct {
	stages [][]*Job
}

// NewGraph builds a Graph from stage batches in execution order.
func NewGraph(stages ...[]*Job) (*Graph, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("a pipeline graph requires at least one stage")
	}
	for i, stage := range stages {
		if len(stage) == 0 {
			return nil, fmt.Errorf("stage %d has no jobs", i+1)
		}
		for _, j := range stage {
			if j == nil {
				return nil, fmt.Errorf("stage %d contains a nil job", i+1)
			}
			if err := j.Validate(); err != nil {
				return nil, fmt.Errorf("stage %d: %w", i+1, err)
			}
		}
	}
	copied := make([][]*Job, len(stages))
	for i, stage := range stages {
		copied[i] = append([]*Job(nil), stage...)
	}
	return &Graph{stages: copied}, nil
}

// NumStages returns the number of stages in the graph.
func (g *Graph) NumStages() int { return len(g.stages) }

// Stage returns the job batch for the 1-based stage index.
func (g *Graph) Stage(i int) ([]*Job, error) {
	if i < 1 || i > len(g.stages) {
		return nil, fmt.Errorf("stage %d out of range [1, %d]", i, len(g.stages))
	}
	return g.stages[i-1], nil
}

// JobCount returns the total number of jobs across all stages.
func (g *Graph) JobCount() int {
	n := 0
	for _, stage := range g.stages {
		n += len(stage)
	}
	return n
}

// Jobs returns every job in stage order.
func (g *Graph) Jobs() []*Job {
	out := make([]*Job, 0, g.JobCount())
	for _, stage := range g.stages {
		out = append(out, stage...)
	}
	return out
}

// JobIDs returns every job id in stage order, for seeding a tracker's
// job-level records.
func (g *Graph) JobIDs() []string {
	out := make([]string, 0, g.JobCount())
	for _, stage := range g.stages {
		for _, j := range stage {
			out = append(out, j.ID)
		}
	}
	return out
}
