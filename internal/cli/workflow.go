package cli

import (
	"fmt"
	"strings"

	"blockci-gh/internal/workflow"

	"github.com/spf13/cobra"
)

func newWorkflowCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect workflow files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [workflow.yaml]",
		Short: "Parse and validate a workflow file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.cfg.Workflow.Path
			if len(args) == 1 {
				path = args[0]
			}
			wf, err := workflow.Load(path)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "workflow %q OK\n", wf.Name)
			fmt.Fprintf(w, "triggers: %s\n", describeTriggers(wf.On))
			levels, _ := wf.Levels()
			for i, level := range levels {
				for _, id := range level {
					job := wf.Jobs[id]
					fmt.Fprintf(w, "job %s (level %d, runs-on %s): %d steps\n", id, i, job.RunsOn, len(job.Steps))
				}
			}
			if secrets := wf.Secrets(); len(secrets) > 0 {
				fmt.Fprintf(w, "secrets: %s\n", strings.Join(secrets, ", "))
			}
			return nil
		},
	})
	return cmd
}

func describeTriggers(t workflow.Triggers) string {
	var parts []string
	if t.PullRequest != nil {
		parts = append(parts, describeFilter(workflow.EventPullRequest, t.PullRequest))
	}
	if t.Push != nil {
		parts = append(parts, describeFilter(workflow.EventPush, t.Push))
	}
	parts = append(parts, t.Other...)
	return strings.Join(parts, ", ")
}

func describeFilter(name string, f *workflow.Filter) string {
	if len(f.Branches) > 0 {
		return fmt.Sprintf("%s [%s]", name, strings.Join(f.Branches, " "))
	}
	if len(f.BranchesIgnore) > 0 {
		return fmt.Sprintf("%s [not %s]", name, strings.Join(f.BranchesIgnore, " "))
	}
	return name
}
