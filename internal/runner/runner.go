package runner

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"blockci-gh/internal/ctxlog"
	"blockci-gh/internal/ledger"
	"blockci-gh/internal/storage"
	"blockci-gh/internal/workflow"
	"blockci-gh/pkg/utils"

	"golang.org/x/sync/errgroup"
)

const DefaultStepTimeout = 5 * time.Minute

type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

type StepResult struct {
	Name     string
	Skipped  bool
	Output   string
	Err      error
	Duration time.Duration
	LogPath  string
}

type JobResult struct {
	ID     string
	Status Status
	Steps  []StepResult
}

type Result struct {
	Jobs map[string]*JobResult
}

// Runner ties together Scheduler + Executor + storage + ledger
type Runner struct {
	Executor    *Executor
	LogStorage  *storage.LogStorage
	Ledger      *ledger.Ledger
	PrivKey     ed25519.PrivateKey
	PubKey      ed25519.PublicKey
	AgentID     string
	StepTimeout time.Duration
	BaseEnv     []string
}

// NewRunner returns a runner with the default executor. logs and l may be
// nil, in which case output is neither saved nor recorded.
func NewRunner(logs *storage.LogStorage, l *ledger.Ledger, pub ed25519.PublicKey, priv ed25519.PrivateKey) *Runner {
	return &Runner{
		Executor:    NewExecutor(),
		LogStorage:  logs,
		Ledger:      l,
		PrivKey:     priv,
		PubKey:      pub,
		AgentID:     "local-agent",
		StepTimeout: DefaultStepTimeout,
		BaseEnv:     os.Environ(),
	}
}

// Run executes the workflow. Independent jobs run concurrently, steps within
// a job run in order, and the first failing step fails its job. Jobs in later
// levels are skipped once any job fails. There is no retry.
func (r *Runner) Run(ctx context.Context, wf *workflow.Workflow) (*Result, error) {
	sched, err := NewScheduler(wf)
	if err != nil {
		return nil, err
	}

	res := &Result{Jobs: make(map[string]*JobResult, len(wf.Jobs))}
	for _, id := range wf.JobIDs() {
		res.Jobs[id] = &JobResult{ID: id, Status: StatusSkipped}
	}

	logger := ctxlog.FromContext(ctx)
	logger.Info("starting workflow", "name", wf.Name, "jobs", len(wf.Jobs), "levels", sched.Len())

	for level := 0; level < sched.Len(); level++ {
		var g errgroup.Group
		for _, id := range sched.GetNextJobs(level) {
			id := id
			jr := res.Jobs[id]
			job := wf.Jobs[id]
			g.Go(func() error {
				return r.runJob(ctx, wf, id, job, jr)
			})
		}
		if err := g.Wait(); err != nil {
			logger.Error("workflow failed", "err", err)
			return res, err
		}
	}

	if r.Ledger != nil && len(r.PubKey) > 0 {
		if err := r.Ledger.VerifyWith(r.PubKey); err != nil {
			logger.Warn("ledger verification failed", "err", err)
		}
	}
	logger.Info("workflow finished successfully", "name", wf.Name)
	return res, nil
}

func (r *Runner) runJob(ctx context.Context, wf *workflow.Workflow, id string, job *workflow.Job, jr *JobResult) error {
	logger := ctxlog.FromContext(ctx).With("job", id)
	ctx = ctxlog.WithLogger(ctx, logger)

	if job.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	logger.Info("job started", "name", job.DisplayName(id), "runs-on", job.RunsOn)
	env := mergeEnv(mergeEnv(r.BaseEnv, wf.Env), job.Env)

	for i, step := range job.Steps {
		name := step.DisplayName()
		if err := ctx.Err(); err != nil {
			jr.Status = StatusCancelled
			return fmt.Errorf("job %s: %w", id, err)
		}

		if step.Uses != "" {
			logger.Info("skipping action step", "uses", step.Uses)
			jr.Steps = append(jr.Steps, StepResult{Name: name, Skipped: true})
			continue
		}

		logger.Info("running step", "step", name)
		start := time.Now()
		output, err := r.Executor.RunStep(ctx, step.Run, mergeEnv(env, step.Env), r.StepTimeout)
		sr := StepResult{
			Name:     name,
			Output:   output,
			Err:      err,
			Duration: time.Since(start),
		}
		sr.LogPath = r.record(ctx, id, name, output, err)
		jr.Steps = append(jr.Steps, sr)
		logger.Debug("step output", "step", name, "output", output)

		if err != nil {
			jr.Status = StatusFailure
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				jr.Status = StatusCancelled
			}
			logger.Error("step failed", "step", name, "err", err)
			return fmt.Errorf("job %s step %d (%s): %w", id, i+1, name, err)
		}
	}

	jr.Status = StatusSuccess
	logger.Info("job completed", "steps", len(job.Steps))
	return nil
}

// record saves step output and appends a ledger block. Failures are logged
// and never fail the step.
func (r *Runner) record(ctx context.Context, jobID, step, output string, stepErr error) string {
	if r.LogStorage == nil {
		return ""
	}
	logger := ctxlog.FromContext(ctx)

	logPath, err := r.LogStorage.SaveLog(jobID, step, output)
	if err != nil {
		logger.Warn("cannot save step log", "err", err)
		return ""
	}
	if r.Ledger == nil {
		return logPath
	}

	logHash, err := utils.HashFile(logPath)
	if err != nil {
		logger.Warn("cannot hash step log", "err", err)
		return logPath
	}
	result := "ok"
	if stepErr != nil {
		result = "failed: " + stepErr.Error()
	}
	blk, err := r.Ledger.AppendEntry(ledger.Entry{
		Stage:   jobID,
		Step:    step,
		Result:  result,
		LogPath: logPath,
		LogHash: logHash,
		AgentID: r.AgentID,
	}, r.PrivKey, r.PubKey)
	if err != nil {
		logger.Warn("cannot append ledger block", "err", err)
		return logPath
	}
	logger.Debug("ledger block appended", "index", blk.Index, "hash", blk.ShortHash())
	return logPath
}

// Failed reports whether any job failed or was cancelled.
func (r *Result) Failed() bool {
	for _, jr := range r.Jobs {
		if jr.Status == StatusFailure || jr.Status == StatusCancelled {
			return true
		}
	}
	return false
}

// mergeEnv appends vars in key order. exec keeps the last value of a
// duplicated key, so later maps override earlier ones.
func mergeEnv(base []string, vars map[string]string) []string {
	if len(vars) == 0 {
		return base
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(keys))
	out = append(out, base...)
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}
