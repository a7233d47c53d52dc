package sandbox

import (
	"context"
	"os"
	"path/filepath"
	goruntime "runtime"
	"testing"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "entry.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBareRunnerExitsOk(t *testing.T) {
	dir := t.TempDir()
	entry := writeScript(t, dir, "echo hi\nexit 0\n")

	r, err := New(SandboxConfig{
		Level:      LevelNone,
		EntryPoint: entry,
		OutputDir:  dir,
		Limits:     ResourceLimits{TimeoutSecs: 5, MaxOutputBytes: 1024},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Cleanup()

	res, err := r.Run(context.Background(), SandboxConfig{
		EntryPoint: entry, OutputDir: dir,
		Limits: ResourceLimits{TimeoutSecs: 5, MaxOutputBytes: 1024},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != ExitedOk {
		t.Errorf("reason = %v, want ExitedOk", res.Reason)
	}
	if string(res.Stdout) != "hi\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestBareRunnerKillsOnTimeout(t *testing.T) {
	dir := t.TempDir()
	entry := writeScript(t, dir, "sleep 5\n")

	r, err := New(SandboxConfig{Level: LevelNone, EntryPoint: entry, OutputDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Cleanup()

	res, err := r.Run(context.Background(), SandboxConfig{
		EntryPoint: entry, OutputDir: dir,
		Limits: ResourceLimits{TimeoutSecs: 1},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != KilledTimeout {
		t.Errorf("reason = %v, want KilledTimeout", res.Reason)
	}
}

func TestBareRunnerExitsError(t *testing.T) {
	dir := t.TempDir()
	entry := writeScript(t, dir, "exit 3\n")

	r, _ := New(SandboxConfig{Level: LevelNone, EntryPoint: entry, OutputDir: dir})
	defer r.Cleanup()

	res, err := r.Run(context.Background(), SandboxConfig{
		EntryPoint: entry, OutputDir: dir,
		Limits: ResourceLimits{TimeoutSecs: 5},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != ExitedError || res.ExitCode != 3 {
		t.Errorf("got reason=%v code=%d, want ExitedError/3", res.Reason, res.ExitCode)
	}
}

func TestBareRunnerForwardsInputToStdin(t *testing.T) {
	dir := t.TempDir()
	entry := writeScript(t, dir, "cat\n")

	r, err := New(SandboxConfig{Level: LevelNone, EntryPoint: entry, OutputDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Cleanup()

	res, err := r.Run(context.Background(), SandboxConfig{
		EntryPoint: entry, OutputDir: dir, Input: `{"hello":"world"}`,
		Limits: ResourceLimits{TimeoutSecs: 5, MaxOutputBytes: 1024},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(res.Stdout) != `{"hello":"world"}` {
		t.Errorf("stdout = %q, want input echoed back", res.Stdout)
	}
}

func TestBareRunnerRecordsPeakRSS(t *testing.T) {
	if goruntime.GOOS != "linux" {
		t.Skip("RSS polling only samples /proc on linux")
	}
	dir := t.TempDir()
	entry := writeScript(t, dir, "sleep 0.3\n")

	r, err := New(SandboxConfig{Level: LevelNone, EntryPoint: entry, OutputDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Cleanup()

	res, err := r.Run(context.Background(), SandboxConfig{
		EntryPoint: entry, OutputDir: dir,
		Limits: ResourceLimits{TimeoutSecs: 5, MaxMemoryMB: 256},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PeakRSSKB == 0 {
		t.Error("expected a nonzero peak_rss_kb sample")
	}
}

func TestBoundedBufferTruncates(t *testing.T) {
	var b boundedBuffer
	b.limit = 4
	b.Write([]byte("hello world"))
	if string(b.Bytes()) != "hell" {
		t.Errorf("bytes = %q, want %q", b.Bytes(), "hell")
	}
	if !b.truncated {
		t.Error("expected truncated = true")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[int]Level{1: LevelNone, 2: LevelIsolated, 3: LevelGated, 99: LevelGated}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%d) = %v, want %v", in, got, want)
		}
	}
}
