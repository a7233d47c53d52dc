// Package runtime provisions per-skill language environments (Python venvs,
// Node node_modules directories) into a content-keyed cache directory, and
// builds the RuntimePaths value the sandbox layer depends on.
package runtime

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// metaStore tracks which cache keys have a provisioned environment, so
// repeated ensure() calls can skip straight to a cache hit without
// re-probing the filesystem.
type metaStore struct {
	db *sql.DB
}

func openMetaStore(dsn string) (*metaStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &metaStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return s, nil
}

func (s *metaStore) Close() error {
	return s.db.Close()
}

func (s *metaStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// lookup reports whether cacheKey already has a recorded environment, and
// bumps its last_used_at if so.
func (s *metaStore) lookup(cacheKey string) (envPath string, found bool, err error) {
	err = s.db.QueryRow("SELECT env_path FROM environments WHERE cache_key = ?", cacheKey).Scan(&envPath)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup cache key: %w", err)
	}
	if _, err := s.db.Exec("UPDATE environments SET last_used_at = CURRENT_TIMESTAMP WHERE cache_key = ?", cacheKey); err != nil {
		return "", false, fmt.Errorf("touch cache key: %w", err)
	}
	return envPath, true, nil
}

func (s *metaStore) record(cacheKey, language, envPath string) error {
	_, err := s.db.Exec(
		`INSERT INTO environments (cache_key, language, env_path) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET last_used_at = CURRENT_TIMESTAMP`,
		cacheKey, language, envPath,
	)
	if err != nil {
		return fmt.Errorf("record cache key: %w", err)
	}
	return nil
}
