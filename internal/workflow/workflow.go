// Package workflow models a CI workflow file: its triggers, its jobs and the
// ordered steps of each job.
package workflow

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Workflow represents one workflow file
type Workflow struct {
	Name string            `yaml:"name"`
	On   Triggers          `yaml:"on"`
	Env  map[string]string `yaml:"env"`
	Jobs map[string]*Job   `yaml:"jobs"`
}

// Job is a unit of execution. Jobs without a needs edge between them may run
// concurrently.
type Job struct {
	Name           string            `yaml:"name"`
	RunsOn         string            `yaml:"runs-on"`
	Needs          StringList        `yaml:"needs"`
	Env            map[string]string `yaml:"env"`
	TimeoutMinutes int               `yaml:"timeout-minutes"`
	Steps          []Step            `yaml:"steps"`
}

// Step represents a single instruction inside a job: either an action
// reference (uses) or a shell command (run).
type Step struct {
	Name string            `yaml:"name"`
	Uses string            `yaml:"uses"`
	Run  string            `yaml:"run"`
	With map[string]string `yaml:"with"`
	Env  map[string]string `yaml:"env"`
}

// DisplayName is the name shown in logs and ledger entries.
func (s Step) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Run != "":
		return s.Run
	default:
		return s.Uses
	}
}

// DisplayName falls back to the job id when the job has no name.
func (j *Job) DisplayName(id string) string {
	if j.Name != "" {
		return j.Name
	}
	return id
}

// StringList accepts either a single scalar or a sequence of scalars.
type StringList []string

func (l *StringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			*l = nil
			return nil
		}
		*l = StringList{n.Value}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := n.Decode(&out); err != nil {
			return err
		}
		*l = out
		return nil
	}
	return fmt.Errorf("line %d: expected string or list of strings", n.Line)
}

// Parse parses YAML content into a Workflow
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return &wf, nil
}

// Load reads a workflow file, parses and validates it
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	wf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// JobIDs returns the job ids in sorted order.
func (w *Workflow) JobIDs() []string {
	ids := make([]string, 0, len(w.Jobs))
	for id := range w.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
