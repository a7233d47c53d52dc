package sandbox

import (
	"bytes"
	"context"
	"os/exec"
)

// bareRunner runs the entry point as a plain child process with no
// namespace or profile isolation. It is only ever selected for
// cfg.Level == LevelNone — Level 2 and 3 must go through a real platform
// backend or fail with EnforcementError.
type bareRunner struct {
	cfg SandboxConfig
}

func newBareRunner(cfg SandboxConfig) (Runner, error) {
	return &bareRunner{cfg: cfg}, nil
}

func (r *bareRunner) Run(ctx context.Context, cfg SandboxConfig) (*RunResult, error) {
	cmd := buildEntryCmd(ctx, cfg)
	cmd.Dir = cfg.OutputDir
	return runMonitored(ctx, cmd, cfg.Input, cfg.Limits)
}

func (r *bareRunner) Cleanup() error { return nil }

// buildEntryCmd constructs the exec.Cmd for cfg's entry point, routing
// through cfg.Interpreter when set.
func buildEntryCmd(ctx context.Context, cfg SandboxConfig) *exec.Cmd {
	if cfg.Interpreter != "" {
		return exec.CommandContext(ctx, cfg.Interpreter, cfg.EntryPoint)
	}
	return exec.CommandContext(ctx, cfg.EntryPoint)
}

// boundedBuffer caps how much of a process's output it retains, matching
// spec.md's max_output_bytes limit — it keeps writing past the cap so the
// process never blocks on a full pipe, it just stops retaining the extra
// bytes and flags Truncated.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return len(p), nil
	}
	remaining := b.limit - int64(b.buf.Len())
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte { return b.buf.Bytes() }
