package runner

import (
	"blockci-gh/internal/workflow"
)

// Scheduler decides the execution order of jobs. Levels run one after the
// other; jobs inside a level run concurrently.
type Scheduler struct {
	levels [][]string
}

// NewScheduler plans wf. It fails when jobs form a dependency cycle.
func NewScheduler(wf *workflow.Workflow) (*Scheduler, error) {
	levels, err := wf.Levels()
	if err != nil {
		return nil, err
	}
	return &Scheduler{levels: levels}, nil
}

// Len is the number of levels.
func (s *Scheduler) Len() int {
	return len(s.levels)
}

// GetNextJobs returns the job ids for the given level
func (s *Scheduler) GetNextJobs(level int) []string {
	if level < 0 || level >= len(s.levels) {
		return nil
	}
	return s.levels[level]
}
