package config

import "testing"

func clearSandboxEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SANDBOX_LEVEL", "SANDBOX_MAX_MEMORY_MB", "SANDBOX_TIMEOUT_SECS",
		"SANDBOX_AUTO_APPROVE", "SANDBOX_CACHE_DIR", "SANDBOX_AUDIT_LOG",
		"SANDBOX_STRICT_AUDIT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearSandboxEnv(t)
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SandboxLevel != 3 {
		t.Errorf("SandboxLevel = %d, want 3", c.SandboxLevel)
	}
	if c.MaxMemoryMB != 256 {
		t.Errorf("MaxMemoryMB = %d, want 256", c.MaxMemoryMB)
	}
	if c.TimeoutSecs != 30 {
		t.Errorf("TimeoutSecs = %d, want 30", c.TimeoutSecs)
	}
	if c.AutoApprove {
		t.Error("AutoApprove should default false")
	}
	if c.CacheDir == "" {
		t.Error("CacheDir should have a default")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearSandboxEnv(t)
	t.Setenv("SANDBOX_LEVEL", "1")
	t.Setenv("SANDBOX_MAX_MEMORY_MB", "512")
	t.Setenv("SANDBOX_TIMEOUT_SECS", "60")
	t.Setenv("SANDBOX_AUTO_APPROVE", "true")
	t.Setenv("SANDBOX_CACHE_DIR", "/tmp/skillcore-cache")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SandboxLevel != 1 {
		t.Errorf("SandboxLevel = %d, want 1", c.SandboxLevel)
	}
	if c.MaxMemoryMB != 512 {
		t.Errorf("MaxMemoryMB = %d, want 512", c.MaxMemoryMB)
	}
	if c.TimeoutSecs != 60 {
		t.Errorf("TimeoutSecs = %d, want 60", c.TimeoutSecs)
	}
	if !c.AutoApprove {
		t.Error("AutoApprove should be true")
	}
	if c.CacheDir != "/tmp/skillcore-cache" {
		t.Errorf("CacheDir = %q", c.CacheDir)
	}
}

func TestLoadInvalidLevel(t *testing.T) {
	clearSandboxEnv(t)
	t.Setenv("SANDBOX_LEVEL", "9")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range SANDBOX_LEVEL")
	}
}

func TestLoadInvalidBool(t *testing.T) {
	clearSandboxEnv(t)
	t.Setenv("SANDBOX_AUTO_APPROVE", "maybe")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-boolean SANDBOX_AUTO_APPROVE")
	}
}
