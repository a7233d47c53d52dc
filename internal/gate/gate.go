// Package gate holds scan records by id with a TTL, enforcing the
// two-phase scan→confirm protocol from spec.md §4.5: the single chokepoint
// between static inspection and sandbox launch.
package gate

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/skillcore/sandbox/internal/scanner"
)

// Sentinel errors for consume(), compared with errors.Is.
var (
	ErrNotFound         = errors.New("scan record not found")
	ErrExpired          = errors.New("scan record expired")
	ErrAlreadyConsumed  = errors.New("scan record already consumed")
	ErrTamperDetected   = errors.New("code hash changed since scan")
)

const defaultTTL = 300 * time.Second

// ScanRecord binds a scan result to a content hash and a time-bounded id.
type ScanRecord struct {
	ScanID      string
	SkillDir    string
	CodeHash    string
	Issues      []scanner.SecurityIssue
	CreatedAt   time.Time
	TTLDeadline time.Time
	consumed    bool
}

// Gate is the process-wide scan cache: a mapping scan_id -> ScanRecord,
// protected by a mutex, with passive TTL expiry on lookup. It also keeps
// a known-hash set that SeedKnownHash adds to and KnownHash reports from;
// Decide and Consume do not consult that set, so a known hash does not
// skip confirmation.
type Gate struct {
	mu          sync.Mutex
	records     map[string]*ScanRecord
	knownHashes map[string]bool
}

// New builds an empty Gate.
func New() *Gate {
	return &Gate{
		records:     make(map[string]*ScanRecord),
		knownHashes: make(map[string]bool),
	}
}

// SeedKnownHash records codeHash in the known-hash set. Only KnownHash
// reads the set; it does not change what the gate allows.
func (g *Gate) SeedKnownHash(codeHash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.knownHashes[codeHash] = true
}

// KnownHash reports whether codeHash has been seeded as previously
// approved.
func (g *Gate) KnownHash(codeHash string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.knownHashes[codeHash]
}

// Record computes code_hash over skillDir and inserts a fresh scan record,
// returning its scan_id.
func (g *Gate) Record(skillDir string, issues []scanner.SecurityIssue) (string, error) {
	hash, err := CodeHash(skillDir)
	if err != nil {
		return "", fmt.Errorf("gate: %w", err)
	}

	id, err := newScanID()
	if err != nil {
		return "", fmt.Errorf("gate: generate scan id: %w", err)
	}

	now := time.Now()
	rec := &ScanRecord{
		ScanID:      id,
		SkillDir:    skillDir,
		CodeHash:    hash,
		Issues:      issues,
		CreatedAt:   now,
		TTLDeadline: now.Add(defaultTTL),
	}

	g.mu.Lock()
	g.records[id] = rec
	g.mu.Unlock()

	return id, nil
}

// Consume performs the full gate check: the record must exist, be
// unconsumed, be unexpired, and its recomputed code hash must match the
// stored value exactly. On success it atomically marks the record
// consumed and returns a copy of it; callers must call Consume for a given
// scan_id exactly once to authorize a launch.
func (g *Gate) Consume(scanID, skillDir string) (ScanRecord, error) {
	g.mu.Lock()
	rec, ok := g.records[scanID]
	if !ok {
		g.mu.Unlock()
		return ScanRecord{}, ErrNotFound
	}
	if rec.consumed {
		g.mu.Unlock()
		return ScanRecord{}, ErrAlreadyConsumed
	}
	if time.Now().After(rec.TTLDeadline) {
		g.mu.Unlock()
		return ScanRecord{}, ErrExpired
	}
	// Mark consumed before releasing the lock and doing the (slower) hash
	// recomputation, so two concurrent Consume calls for the same scan_id
	// cannot both proceed to launch — single-consumer semantics per
	// spec.md §5.
	rec.consumed = true
	snapshot := *rec
	g.mu.Unlock()

	currentHash, err := CodeHash(skillDir)
	if err != nil {
		return ScanRecord{}, fmt.Errorf("gate: %w", err)
	}
	if currentHash != snapshot.CodeHash {
		return ScanRecord{}, ErrTamperDetected
	}

	return snapshot, nil
}

// Decision is the outcome of applying the level-based gate rule from
// spec.md §4.5 to a set of scan issues.
type Decision struct {
	NeedsConfirmation bool
	ScanID            string
}

// Decide applies the gate rule for the given sandbox level. Level 1 and 2
// never scan or gate. Level 3 gates only when an issue reaches High
// severity or above; the scan has already been recorded by the caller via
// Record, and its scan_id is passed straight through.
func Decide(level int, scanID string, issues []scanner.SecurityIssue) Decision {
	if level < 3 {
		return Decision{}
	}
	if scanner.HasSeverityAtLeast(issues, scanner.High) {
		return Decision{NeedsConfirmation: true, ScanID: scanID}
	}
	return Decision{}
}

func newScanID() (string, error) {
	buf := make([]byte, 16) // 128 bits
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// codeHashSkipDirs are excluded from the hash, matching the scanner's
// exclusion set.
var codeHashSkipDirs = map[string]bool{"assets": true, "references": true}

// CodeHash computes SHA-256 over the canonical concatenation of all
// regular files under skillDir (excluding assets/ and references/), sorted
// by path, each preceded by its relative path and length — per spec.md §3.
func CodeHash(skillDir string) (string, error) {
	var relPaths []string
	sizes := make(map[string]int64)

	err := walkDir(skillDir, func(rel string, size int64) {
		relPaths = append(relPaths, rel)
		sizes[rel] = size
	})
	if err != nil {
		return "", err
	}
	sort.Strings(relPaths)

	h := sha256.New()
	for _, rel := range relPaths {
		fmt.Fprintf(h, "%s\x00%d\x00", rel, sizes[rel])
		data, err := os.ReadFile(filepath.Join(skillDir, rel))
		if err != nil {
			return "", fmt.Errorf("code_hash: read %s: %w", rel, err)
		}
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func walkDir(root string, visit func(rel string, size int64)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if codeHashSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		visit(filepath.ToSlash(rel), info.Size())
		return nil
	})
}
