package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/skillcore/sandbox/internal/bashvalidate"
	"github.com/skillcore/sandbox/internal/sandbox"
)

// Bash validates command via C9, then — if allowed — runs it under the
// same sandbox backend run_skill uses, scoped to skillDir.
func (o *Orchestrator) Bash(ctx context.Context, skillDir, command string, opts Opts) ExecutionResult {
	v := bashvalidate.Validate(command)
	if !v.Allowed {
		o.auditEvent("bash", skillDir, "", "denied_policy", map[string]any{"violations": v.Violations})
		return denied(DenyPolicy, v.Error().Error())
	}

	outputDir, err := os.MkdirTemp("", "skillcore-bash-*")
	if err != nil {
		return failed(FailureInternal, fmt.Sprintf("create output dir: %v", err))
	}
	defer os.RemoveAll(outputDir)

	scriptPath := filepath.Join(outputDir, "cmd.sh")
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\n"+command+"\n"), 0700); err != nil {
		return failed(FailureInternal, fmt.Sprintf("write command script: %v", err))
	}

	cfg := sandbox.SandboxConfig{
		Name:          "bash",
		EntryPoint:    scriptPath,
		Interpreter:   "sh",
		Language:      "shell",
		WorkspaceRoot: skillDir,
		OutputDir:     outputDir,
		Level:         sandbox.ParseLevel(opts.Level),
		Limits:        opts.limits(),
	}

	runner, err := sandbox.New(cfg)
	if err != nil {
		return denied(DenyEnforcement, err.Error())
	}
	defer runner.Cleanup()

	start := time.Now()
	res, err := runner.Run(ctx, cfg)
	if err != nil {
		return failed(FailureInternal, err.Error())
	}
	return execResultFromRun(res, time.Since(start))
}
