//go:build windows

package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// windowsRunner bridges into a WSL2 distribution and runs the entry point
// there, under the same bubblewrap isolation the Linux runner uses —
// Windows itself has no equivalent of Seatbelt or namespaces exposed to an
// unprivileged process, so isolation is delegated to the Linux userspace
// WSL2 already provides.
type windowsRunner struct {
	cfg  SandboxConfig
	distro string
}

func newPlatformRunner(cfg SandboxConfig) (Runner, error) {
	if _, err := exec.LookPath("wsl.exe"); err != nil {
		return nil, fmt.Errorf("wsl.exe not found: %w", err)
	}
	out, err := exec.Command("wsl.exe", "-l", "-q").Output()
	if err != nil {
		return nil, fmt.Errorf("no registered WSL2 distribution: %w", err)
	}
	distro := firstLine(string(out))
	if distro == "" {
		return nil, fmt.Errorf("no registered WSL2 distribution")
	}
	if _, err := exec.Command("wsl.exe", "-d", distro, "--", "which", "bwrap").Output(); err != nil {
		return nil, fmt.Errorf("bubblewrap not installed in WSL2 distro %q", distro)
	}
	return &windowsRunner{cfg: cfg, distro: distro}, nil
}

func (r *windowsRunner) Run(ctx context.Context, cfg SandboxConfig) (*RunResult, error) {
	entry := cfg.EntryPoint
	if cfg.Interpreter != "" {
		entry = cfg.Interpreter + " " + cfg.EntryPoint
	}
	script := fmt.Sprintf(
		"bwrap --unshare-all %s --ro-bind %s %s --tmpfs /tmp --bind %s %s --chdir %s --die-with-parent -- %s",
		netFlag(cfg), cfg.WorkspaceRoot, cfg.WorkspaceRoot, cfg.OutputDir, cfg.OutputDir, cfg.OutputDir, entry,
	)
	cmd := exec.CommandContext(ctx, "wsl.exe", "-d", r.distro, "--", "bash", "-c", script)
	return runMonitored(ctx, cmd, cfg.Input, cfg.Limits)
}

func (r *windowsRunner) Cleanup() error { return nil }

func netFlag(cfg SandboxConfig) string {
	if cfg.NetworkEnabled && cfg.ProxyPort > 0 {
		return "--share-net"
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimPrefix(s, "﻿")
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
