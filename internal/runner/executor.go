package runner

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Executor is responsible for running shell steps
type Executor struct {
	Shell string
	Dir   string
}

func NewExecutor() *Executor {
	return &Executor{Shell: "sh"}
}

// RunStep executes a single command with env and returns its combined output
func (e *Executor) RunStep(ctx context.Context, command string, env []string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.Shell, "-e", "-c", command)
	cmd.Env = env
	cmd.Dir = e.Dir
	// children of the shell may keep the output pipe open after a kill
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		return out.String(), ctxErr
	}
	return out.String(), err
}
