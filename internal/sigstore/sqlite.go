package sigstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a durable alternative to Store, backed by a SQLite ledger
// instead of a single JSON file. Useful when the gateway runs with multiple
// worker processes sharing one dedupe history.
type SQLiteStore struct {
	db  *sql.DB
	cap int
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the seen_signatures schema. Parent directories are created as needed.
func NewSQLiteStore(dbPath string, cap int) (*SQLiteStore, error) {
	if cap <= 0 {
		cap = DefaultCap
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sigstore: create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sigstore: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sigstore: enable WAL: %w", err)
	}
	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sigstore: init schema: %w", err)
	}
	return &SQLiteStore{db: db, cap: cap}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS seen_signatures (
		sig TEXT PRIMARY KEY,
		seen_at REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_seen_signatures_seen_at ON seen_signatures(seen_at);
	`)
	return err
}

// Has reports whether sig has been recorded.
func (s *SQLiteStore) Has(sig string) bool {
	if sig == "" {
		return false
	}
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM seen_signatures WHERE sig = ?`, sig).Scan(&exists)
	return err == nil
}

// Add records sig and evicts the oldest rows past the configured cap.
func (s *SQLiteStore) Add(sig string) error {
	if sig == "" {
		return nil
	}
	if _, err := s.db.Exec(
		`INSERT INTO seen_signatures (sig, seen_at) VALUES (?, ?)
		 ON CONFLICT(sig) DO UPDATE SET seen_at = excluded.seen_at`,
		sig, nowSeconds(),
	); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		DELETE FROM seen_signatures WHERE sig IN (
			SELECT sig FROM seen_signatures ORDER BY seen_at ASC
			LIMIT MAX(0, (SELECT COUNT(*) FROM seen_signatures) - ?)
		)`, s.cap)
	return err
}

// Size returns the number of remembered signatures.
func (s *SQLiteStore) Size() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM seen_signatures`).Scan(&count)
	return count, err
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
