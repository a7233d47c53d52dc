package runtime

import (
	"context"
	"testing"

	"github.com/skillcore/sandbox/internal/manifest"
)

func TestCacheKeyStableUnderReordering(t *testing.T) {
	a := []manifest.PackageSpec{{Ecosystem: "pypi", Name: "requests"}, {Ecosystem: "pypi", Name: "pandas"}}
	b := []manifest.PackageSpec{{Ecosystem: "pypi", Name: "pandas"}, {Ecosystem: "pypi", Name: "requests"}}

	if cacheKey(a, "3.12") != cacheKey(b, "3.12") {
		t.Error("cache key should be order-independent over dependency sort")
	}
}

func TestCacheKeyDiffersOnVersionTag(t *testing.T) {
	deps := []manifest.PackageSpec{{Ecosystem: "pypi", Name: "requests"}}
	if cacheKey(deps, "3.11") == cacheKey(deps, "3.12") {
		t.Error("cache key should differ across python version tags")
	}
}

func TestCacheKeyDiffersOnDependencySet(t *testing.T) {
	a := []manifest.PackageSpec{{Ecosystem: "pypi", Name: "requests"}}
	b := []manifest.PackageSpec{{Ecosystem: "pypi", Name: "requests"}, {Ecosystem: "pypi", Name: "pandas"}}
	if cacheKey(a, "3.12") == cacheKey(b, "3.12") {
		t.Error("cache key should differ when dependency set differs")
	}
}

func TestShellSkillSkipsProvisioning(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()

	m := &manifest.Manifest{Language: manifest.Shell, EntryPoint: "run.sh"}
	paths, err := p.Ensure(context.Background(), m, "/some/skill")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if paths.InterpreterPath != "" || paths.EnvCacheDir != "" {
		t.Errorf("shell skill should not provision an environment, got %+v", paths)
	}
	if paths.WorkspaceRoot != "/some/skill" {
		t.Errorf("workspace root = %q", paths.WorkspaceRoot)
	}
}

func TestMetaStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := openMetaStore(dir + "/cache.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, found, err := db.lookup("key-a"); err != nil || found {
		t.Fatalf("expected no entry for key-a, found=%v err=%v", found, err)
	}

	if err := db.record("key-a", "python", "/cache/envs/key-a"); err != nil {
		t.Fatalf("record: %v", err)
	}

	path, found, err := db.lookup("key-a")
	if err != nil || !found {
		t.Fatalf("expected entry for key-a, found=%v err=%v", found, err)
	}
	if path != "/cache/envs/key-a" {
		t.Errorf("env path = %q", path)
	}
}
