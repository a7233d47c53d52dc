package bashvalidate

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// Runner validates a command line before exec'ing it under bash -c, so it
// inspects what it is about to run rather than exec'ing it blindly.
type Runner struct {
	timeout time.Duration
}

func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{timeout: timeout}
}

// RunResult is what executing a validated command produces.
type RunResult struct {
	Output   string
	ExitCode int
	Rejected bool
	Reason   string
}

// Run validates command, refusing to exec it if any rule matches, then
// runs it under "bash -c" bounded by r.timeout.
func (r *Runner) Run(ctx context.Context, command string) (*RunResult, error) {
	v := Validate(command)
	if !v.Allowed {
		return &RunResult{Rejected: true, Reason: v.Error().Error()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	output, err := cmd.CombinedOutput()

	res := &RunResult{Output: strings.TrimSpace(string(output))}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	} else if err != nil {
		return res, err
	}
	return res, nil
}
