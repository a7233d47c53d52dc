//go:build darwin

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// darwinRunner shells out to sandbox-exec with a generated SBPL profile,
// the way a Seatbelt-based runtime does: no raw namespace syscalls, the
// kernel's own sandbox extension enforces the profile.
type darwinRunner struct {
	cfg         SandboxConfig
	profilePath string
}

func newPlatformRunner(cfg SandboxConfig) (Runner, error) {
	if _, err := exec.LookPath("sandbox-exec"); err != nil {
		return nil, fmt.Errorf("sandbox-exec not found: %w", err)
	}

	profile := buildSeatbeltProfile(cfg)
	profilePath := filepath.Join(cfg.OutputDir, ".profile.sb")
	if err := os.WriteFile(profilePath, []byte(profile), 0600); err != nil {
		return nil, fmt.Errorf("write seatbelt profile: %w", err)
	}

	return &darwinRunner{cfg: cfg, profilePath: profilePath}, nil
}

func (r *darwinRunner) Run(ctx context.Context, cfg SandboxConfig) (*RunResult, error) {
	args := []string{"-f", r.profilePath}
	if cfg.Interpreter != "" {
		args = append(args, cfg.Interpreter, cfg.EntryPoint)
	} else {
		args = append(args, cfg.EntryPoint)
	}
	cmd := exec.CommandContext(ctx, "sandbox-exec", args...)
	cmd.Dir = cfg.OutputDir
	return runMonitored(ctx, cmd, cfg.Input, cfg.Limits)
}

func (r *darwinRunner) Cleanup() error {
	return os.Remove(r.profilePath)
}
