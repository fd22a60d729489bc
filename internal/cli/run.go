package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blockci-gh/internal/ledger"
	"blockci-gh/internal/runner"
	"blockci-gh/internal/security"
	"blockci-gh/internal/storage"
	"blockci-gh/internal/workflow"

	"github.com/spf13/cobra"
)

func newRunCmd(opts *options) *cobra.Command {
	var (
		noLedger bool
		timeout  time.Duration
		agentID  string
	)
	cmd := &cobra.Command{
		Use:   "run [workflow.yaml]",
		Short: "Run the shell steps of a workflow locally",
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

			r := runner.NewRunner(nil, nil, nil, nil)
			if !noLedger {
				pub, priv, _, err := security.EnsureKeyPair(opts.cfg.Ledger.KeyDir)
				if err != nil {
					return fmt.Errorf("init ledger keys: %w", err)
				}
				l, err := ledger.Open(opts.cfg.Ledger.Path)
				if err != nil {
					return fmt.Errorf("open ledger: %w", err)
				}
				r = runner.NewRunner(storage.NewLogStorage(opts.cfg.Storage.Dir), l, pub, priv)
			}
			r.StepTimeout = timeout
			if agentID != "" {
				r.AgentID = agentID
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, runErr := r.Run(ctx, wf)
			if res != nil {
				printResult(cmd.OutOrStdout(), wf, res)
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&noLedger, "no-ledger", false, "do not save logs or append ledger blocks")
	cmd.Flags().DurationVar(&timeout, "step-timeout", runner.DefaultStepTimeout, "timeout for each run step")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id recorded in ledger blocks")
	return cmd
}

func printResult(w io.Writer, wf *workflow.Workflow, res *runner.Result) {
	for _, id := range wf.JobIDs() {
		jr := res.Jobs[id]
		fmt.Fprintf(w, "==> Job %s: %s\n", id, jr.Status)
		for _, s := range jr.Steps {
			switch {
			case s.Skipped:
				fmt.Fprintf(w, "  - %s (skipped)\n", s.Name)
			case s.Err != nil:
				fmt.Fprintf(w, "  ✘ %s: %v\n", s.Name, s.Err)
			default:
				fmt.Fprintf(w, "  ✔ %s (%s)\n", s.Name, s.Duration.Round(time.Millisecond))
			}
		}
	}
}
