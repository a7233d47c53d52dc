package sandbox

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// runMonitored starts cmd, polls its RSS at a fixed interval, enforces
// limits.Timeout() independently of the process's own behavior, and caps
// captured stdout/stderr at limits.MaxOutputBytes. Every platform runner
// (bare, Seatbelt, bubblewrap/firejail) funnels through this so the state
// machine — Starting, Running, then exactly one of ExitedOk, ExitedError,
// KilledOom, KilledTimeout — is enforced in one place.
func runMonitored(ctx context.Context, cmd *exec.Cmd, input string, limits ResourceLimits) (*RunResult, error) {
	return runMonitoredWithHook(ctx, cmd, input, limits, nil)
}

// runMonitoredWithHook is runMonitored plus an optional onStart callback
// invoked with the child's pid right after a successful Start — used by the
// Linux runner to move the process into its cgroup before it does
// meaningful work.
func runMonitoredWithHook(ctx context.Context, cmd *exec.Cmd, input string, limits ResourceLimits, onStart func(pid int)) (*RunResult, error) {
	var stdout, stderr boundedBuffer
	stdout.limit = limits.MaxOutputBytes
	stderr.limit = limits.MaxOutputBytes
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = strings.NewReader(input)

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout())
	defer cancel()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}

	var peakRSSKB atomic.Uint64
	oomCh := make(chan struct{}, 1)
	pollDone := make(chan struct{})
	go pollRSS(runCtx, cmd.Process.Pid, limits.MaxMemoryMB, &peakRSSKB, oomCh, pollDone)

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	res := &RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	select {
	case err := <-waitErr:
		close(pollDone)
		res.DurationMS = time.Since(start).Milliseconds()
		res.Stdout, res.Stderr = stdout.Bytes(), stderr.Bytes()
		res.Truncated = stdout.truncated || stderr.truncated
		res.PeakRSSKB = peakRSSKB.Load()
		classifyExit(res, err)
		return res, nil

	case <-oomCh:
		close(pollDone)
		_ = cmd.Process.Kill()
		<-waitErr
		res.Reason = KilledOOM
		res.DurationMS = time.Since(start).Milliseconds()
		res.Stdout, res.Stderr = stdout.Bytes(), stderr.Bytes()
		res.PeakRSSKB = peakRSSKB.Load()
		return res, nil

	case <-runCtx.Done():
		close(pollDone)
		_ = cmd.Process.Kill()
		<-waitErr
		res.Reason = KilledTimeout
		res.DurationMS = time.Since(start).Milliseconds()
		res.Stdout, res.Stderr = stdout.Bytes(), stderr.Bytes()
		res.PeakRSSKB = peakRSSKB.Load()
		return res, nil
	}
}

func classifyExit(res *RunResult, err error) {
	if err == nil {
		res.Reason = ExitedOk
		return
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.Reason = ExitedError
		res.ExitCode = exitErr.ExitCode()
		return
	}
	res.Reason = ExitedError
	res.ExitCode = -1
}

// pollRSS samples the process's resident set size roughly every 100ms,
// records the high-water mark in peakRSSKB regardless of maxMemoryMB, and
// signals oomCh once if the sample exceeds maxMemoryMB (maxMemoryMB == 0
// disables the OOM check but peak tracking still runs). Sampling stops
// when done is closed or ctx is cancelled.
func pollRSS(ctx context.Context, pid int, maxMemoryMB uint64, peakRSSKB *atomic.Uint64, oomCh chan<- struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	limit := maxMemoryMB * 1024 * 1024
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			rss, ok := readRSSBytes(pid)
			if !ok {
				continue
			}
			rssKB := rss / 1024
			for {
				cur := peakRSSKB.Load()
				if rssKB <= cur || peakRSSKB.CompareAndSwap(cur, rssKB) {
					break
				}
			}
			if maxMemoryMB > 0 && rss > limit {
				select {
				case oomCh <- struct{}{}:
				default:
				}
				return
			}
		}
	}
}

// readRSSBytes reads a process's current RSS. On Linux it reads
// /proc/<pid>/status, whether or not a cgroup also caps memory; on other
// platforms it reports not-ok so the poller is a no-op.
func readRSSBytes(pid int) (uint64, bool) {
	if runtime.GOOS != "linux" {
		return 0, false
	}
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return 0, false
	}
	return parseVmRSS(data)
}

func parseVmRSS(data []byte) (uint64, bool) {
	const key = "VmRSS:"
	idx := strings.Index(string(data), key)
	if idx < 0 {
		return 0, false
	}
	fields := strings.Fields(string(data[idx+len(key):]))
	if len(fields) == 0 {
		return 0, false
	}
	kb, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return kb * 1024, true
}
