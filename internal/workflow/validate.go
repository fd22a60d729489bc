package workflow

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrNoJobs     = errors.New("workflow has no jobs")
	ErrNoTriggers = errors.New("workflow has no triggers")
)

// Validate checks the structural rules a runnable workflow must satisfy.
// All problems are reported together.
func (w *Workflow) Validate() error {
	var errs []error
	if w.On.Empty() {
		errs = append(errs, ErrNoTriggers)
	}
	if len(w.Jobs) == 0 {
		errs = append(errs, ErrNoJobs)
	}
	for _, id := range w.JobIDs() {
		job := w.Jobs[id]
		if job == nil {
			errs = append(errs, fmt.Errorf("jobs.%s: empty job", id))
			continue
		}
		if strings.TrimSpace(job.RunsOn) == "" {
			errs = append(errs, fmt.Errorf("jobs.%s: runs-on is required", id))
		}
		if len(job.Steps) == 0 {
			errs = append(errs, fmt.Errorf("jobs.%s: at least one step is required", id))
		}
		if job.TimeoutMinutes < 0 {
			errs = append(errs, fmt.Errorf("jobs.%s: timeout-minutes must not be negative", id))
		}
		for i, step := range job.Steps {
			hasUses, hasRun := step.Uses != "", strings.TrimSpace(step.Run) != ""
			if hasUses == hasRun {
				errs = append(errs, fmt.Errorf("jobs.%s.steps[%d]: exactly one of uses or run is required", id, i))
			}
		}
		for _, need := range job.Needs {
			if _, ok := w.Jobs[need]; !ok {
				errs = append(errs, fmt.Errorf("jobs.%s: needs unknown job %q", id, need))
			}
		}
	}
	if len(errs) == 0 {
		if _, err := w.Levels(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Levels groups job ids so that every job appears after all the jobs it
// needs. Jobs in the same level are independent of each other.
func (w *Workflow) Levels() ([][]string, error) {
	remaining := make(map[string][]string, len(w.Jobs))
	for id, job := range w.Jobs {
		if job == nil {
			remaining[id] = nil
			continue
		}
		remaining[id] = job.Needs
	}

	done := make(map[string]bool, len(w.Jobs))
	var levels [][]string
	for len(remaining) > 0 {
		var level []string
		for id, needs := range remaining {
			ready := true
			for _, n := range needs {
				if !done[n] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			stuck := make([]string, 0, len(remaining))
			for id := range remaining {
				stuck = append(stuck, id)
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("dependency cycle or unknown need among jobs %s", strings.Join(stuck, ", "))
		}
		sort.Strings(level)
		for _, id := range level {
			done[id] = true
			delete(remaining, id)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

var secretRef = regexp.MustCompile(`\$\{\{\s*secrets\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Secrets lists the secret names referenced anywhere in the workflow,
// sorted and de-duplicated.
func (w *Workflow) Secrets() []string {
	seen := map[string]bool{}
	scan := func(s string) {
		for _, m := range secretRef.FindAllStringSubmatch(s, -1) {
			seen[m[1]] = true
		}
	}
	scanMap := func(m map[string]string) {
		for _, v := range m {
			scan(v)
		}
	}

	scanMap(w.Env)
	for _, job := range w.Jobs {
		if job == nil {
			continue
		}
		scanMap(job.Env)
		for _, step := range job.Steps {
			scan(step.Run)
			scanMap(step.With)
			scanMap(step.Env)
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
