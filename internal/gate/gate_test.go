package gate

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/skillcore/sandbox/internal/scanner"
)

func writeSkill(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestConsumeOnceThenAlreadyConsumed(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "print('hi')\n")

	g := New()
	id, err := g.Record(dir, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if _, err := g.Consume(id, dir); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if _, err := g.Consume(id, dir); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("second consume = %v, want ErrAlreadyConsumed", err)
	}
}

func TestConsumeTamperDetected(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "print('hi')\n")

	g := New()
	id, err := g.Record(dir, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	writeSkill(t, dir, "print('tampered')\n")

	if _, err := g.Consume(id, dir); !errors.Is(err, ErrTamperDetected) {
		t.Fatalf("consume after tamper = %v, want ErrTamperDetected", err)
	}
}

func TestConsumeNotFound(t *testing.T) {
	dir := t.TempDir()
	g := New()
	if _, err := g.Consume("does-not-exist", dir); !errors.Is(err, ErrNotFound) {
		t.Fatalf("consume = %v, want ErrNotFound", err)
	}
}

func TestConsumeExpired(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "print('hi')\n")

	g := New()
	id, err := g.Record(dir, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	g.records[id].TTLDeadline = time.Now().Add(-time.Second)

	if _, err := g.Consume(id, dir); !errors.Is(err, ErrExpired) {
		t.Fatalf("consume expired = %v, want ErrExpired", err)
	}
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "print('hi')\n")

	g := New()
	id, err := g.Record(dir, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	var successes int
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Consume(id, dir); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("expected exactly 1 successful consume across %d goroutines, got %d", n, successes)
	}
}

func TestCodeHashStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "print('hi')\n")

	a, err := CodeHash(dir)
	if err != nil {
		t.Fatalf("code hash: %v", err)
	}
	b, err := CodeHash(dir)
	if err != nil {
		t.Fatalf("code hash: %v", err)
	}
	if a != b {
		t.Errorf("code hash should be stable: %q vs %q", a, b)
	}
}

func TestCodeHashExcludesAssetsAndReferences(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "print('hi')\n")

	before, err := CodeHash(dir)
	if err != nil {
		t.Fatalf("code hash: %v", err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "assets"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "assets", "logo.png"), []byte("binarydata"), 0644); err != nil {
		t.Fatal(err)
	}

	after, err := CodeHash(dir)
	if err != nil {
		t.Fatalf("code hash: %v", err)
	}
	if before != after {
		t.Error("code hash should not change when only assets/ contents change")
	}
}

func TestDecideLevel1And2NeverGate(t *testing.T) {
	severe := []scanner.SecurityIssue{{Severity: scanner.Critical}}
	if d := Decide(1, "x", severe); d.NeedsConfirmation {
		t.Error("level 1 should never gate")
	}
	if d := Decide(2, "x", severe); d.NeedsConfirmation {
		t.Error("level 2 should never gate")
	}
}

func TestDecideLevel3GatesOnHighSeverity(t *testing.T) {
	benign := []scanner.SecurityIssue{{Severity: scanner.Medium}}
	if d := Decide(3, "x", benign); d.NeedsConfirmation {
		t.Error("level 3 should not gate on Medium-only issues")
	}

	severe := []scanner.SecurityIssue{{Severity: scanner.High}}
	d := Decide(3, "scan-1", severe)
	if !d.NeedsConfirmation || d.ScanID != "scan-1" {
		t.Errorf("level 3 should gate on High severity, got %+v", d)
	}
}
