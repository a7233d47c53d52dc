//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/google/uuid"
)

// linuxRunner prefers bubblewrap for namespace, mount and seccomp
// isolation, falls back to firejail when bwrap isn't on PATH, and refuses
// to launch rather than degrade to a bare process when neither is
// available — enforcement, not convenience, is the point of Level 2/3.
// Memory and process-count ceilings are enforced separately via a cgroups
// v2 sub-cgroup, since neither bwrap nor firejail cap RSS on their own.
type linuxRunner struct {
	cfg     SandboxConfig
	backend string // "bwrap" or "firejail"
	cgroup  *cgroupManager
}

func newPlatformRunner(cfg SandboxConfig) (Runner, error) {
	backend := ""
	if _, err := exec.LookPath("bwrap"); err == nil {
		backend = "bwrap"
	} else if _, err := exec.LookPath("firejail"); err == nil {
		backend = "firejail"
	} else {
		return nil, fmt.Errorf("neither bubblewrap nor firejail found on PATH")
	}

	cg, err := newCgroupManager(uuid.NewString(), cfg.Limits.MaxMemoryMB*1024*1024, 64)
	if err != nil {
		return nil, fmt.Errorf("create cgroup: %w", err)
	}

	return &linuxRunner{cfg: cfg, backend: backend, cgroup: cg}, nil
}

func (r *linuxRunner) Run(ctx context.Context, cfg SandboxConfig) (*RunResult, error) {
	var cmd *exec.Cmd
	var err error
	switch r.backend {
	case "bwrap":
		cmd, err = r.buildBwrapCmd(ctx, cfg)
	default:
		cmd, err = r.buildFirejailCmd(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	res, err := runMonitoredWithHook(ctx, cmd, cfg.Input, cfg.Limits, func(pid int) {
		if r.cgroup != nil {
			_ = r.cgroup.AddPID(pid)
		}
	})
	return res, err
}

func (r *linuxRunner) Cleanup() error {
	if r.cgroup != nil {
		return r.cgroup.Destroy()
	}
	return nil
}

// buildBwrapCmd assembles the bubblewrap argument list per spec.md's Linux
// algorithm: unshare every namespace (keep network only when a proxy is
// running for this run), bind the system and skill dirs read-only, bind
// fresh read-write tmpfs for /tmp and the output dir, install the compiled
// seccomp filter, never survive the parent, and run in a new session.
func (r *linuxRunner) buildBwrapCmd(ctx context.Context, cfg SandboxConfig) (*exec.Cmd, error) {
	args := []string{"--unshare-all"}
	if cfg.NetworkEnabled && cfg.ProxyPort > 0 {
		// KNOWN LIMITATION (Linux): bwrap has no flag to scope a shared
		// network namespace to a single loopback port the way the macOS
		// Seatbelt profile's network-outbound rule does, and building that
		// (veth pair into a --unshare-net namespace, or an nftables rule
		// keyed on this run's cgroup) is out of scope here. --share-net
		// grants the child the full host network namespace, so it can
		// connect directly to any host; no proxy variable is set in the
		// child's environment. The loopback-only enforcement spec.md §4.8 describes
		// is only real on macOS today; see DESIGN.md's C10 entry.
		args = append(args, "--share-net")
	}

	for _, p := range []string{"/usr", "/lib", "/lib64", "/bin", "/etc/resolv.conf", "/etc/ssl"} {
		if _, err := os.Stat(p); err == nil {
			args = append(args, "--ro-bind", p, p)
		}
	}
	args = append(args, "--ro-bind", cfg.WorkspaceRoot, cfg.WorkspaceRoot)
	if cfg.EnvCacheDir != "" {
		args = append(args, "--ro-bind", cfg.EnvCacheDir, cfg.EnvCacheDir)
	}
	args = append(args, "--tmpfs", "/tmp")
	args = append(args, "--bind", cfg.OutputDir, cfg.OutputDir)
	args = append(args, "--proc", "/proc", "--dev", "/dev")
	args = append(args, "--chdir", cfg.OutputDir)
	args = append(args, "--die-with-parent", "--new-session")

	cmd := exec.CommandContext(ctx, "bwrap", args...)

	prog := buildSeccompFilter()
	if len(prog) > 0 {
		fd, err := seccompFilterFD(prog)
		if err != nil {
			return nil, err
		}
		cmd.ExtraFiles = append(cmd.ExtraFiles, fd)
		// stdin(0), stdout(1), stderr(2), then ExtraFiles start at fd 3.
		seccompFD := strconv.Itoa(3 + len(cmd.ExtraFiles) - 1)
		cmd.Args = append(cmd.Args, "--seccomp", seccompFD)
	}

	if cfg.Interpreter != "" {
		cmd.Args = append(cmd.Args, "--", cfg.Interpreter, cfg.EntryPoint)
	} else {
		cmd.Args = append(cmd.Args, "--", cfg.EntryPoint)
	}
	return cmd, nil
}

// buildFirejailCmd assembles an equivalent firejail profile when bwrap is
// unavailable. firejail has no direct seccomp-fd-injection flag; it is
// given a --seccomp.drop list instead, which covers the same syscalls as
// the bwrap filter except iopl, ioperm and modify_ldt.
func (r *linuxRunner) buildFirejailCmd(ctx context.Context, cfg SandboxConfig) (*exec.Cmd, error) {
	args := []string{
		"--quiet",
		"--net=none",
		"--private-tmp",
		"--read-only=" + cfg.WorkspaceRoot,
		"--whitelist=" + cfg.OutputDir,
		"--seccomp.drop=mount,umount2,reboot,swapon,swapoff,kexec_load,init_module,finit_module,delete_module,pivot_root,ptrace",
	}
	if cfg.NetworkEnabled && cfg.ProxyPort > 0 {
		// KNOWN LIMITATION (Linux, firejail backend): --net=none puts the
		// child in its own isolated network namespace with its own loopback,
		// which cannot reach the proxy bound to the host's loopback either —
		// unlike the bwrap backend's --share-net, this fails closed rather
		// than open, so a network_enabled skill simply cannot reach an
		// allowed domain on a firejail-only host. Install bubblewrap for
		// network_enabled workloads; see DESIGN.md's C10 entry.
		args[1] = "--net=none"
	}
	if cfg.EnvCacheDir != "" {
		args = append(args, "--read-only="+cfg.EnvCacheDir)
	}
	args = append(args, "--")
	if cfg.Interpreter != "" {
		args = append(args, cfg.Interpreter, cfg.EntryPoint)
	} else {
		args = append(args, cfg.EntryPoint)
	}
	cmd := exec.CommandContext(ctx, "firejail", args...)
	cmd.Dir = cfg.OutputDir
	return cmd, nil
}
