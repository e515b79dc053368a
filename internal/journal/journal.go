// Package journal checkpoints batch results in a local sqlite file so an
// interrupted or repeated pass only redoes documents whose text changed.
package journal

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"

	"github.com/thinkscotty/glimpse/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

// Journal is the checkpoint store used by the batch runner.
type Journal interface {
	StartRun(strategy string) (string, error)
	Lookup(filename string, cat models.Category, strategy, fingerprint string) (string, bool, error)
	Record(runID string, e Entry) error
	FinishRun(report models.RunReport) error
	Close() error
}

// Entry is one checkpointed document/category result.
type Entry struct {
	Filename    string
	Category    models.Category
	Strategy    string
	Fingerprint string
	Result      string
	Status      models.Outcome
	Error       string
	Attempts    int
	UpdatedAt   time.Time
}

// Fingerprint returns the hex blake2b-256 digest of parts joined by NUL
// bytes. A single part hashes to the digest of that text alone.
func Fingerprint(parts ...string) string {
	h, _ := blake2b.New256(nil)
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the journal at path. An empty path returns
// a journal that records nothing.
func Open(path string) (Journal, error) {
	if path == "" {
		return Nop{}, nil
	}
	return New(path)
}

func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	conn.SetMaxOpenConns(2)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Path is the file the journal was opened from.
func (db *DB) Path() string { return db.path }

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func (db *DB) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT    PRIMARY KEY,
			strategy    TEXT    NOT NULL,
			started_at  TEXT    NOT NULL,
			finished_at TEXT,
			processed   INTEGER NOT NULL DEFAULT 0,
			failed      INTEGER NOT NULL DEFAULT 0,
			skipped     INTEGER NOT NULL DEFAULT 0,
			cached      INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			filename    TEXT    NOT NULL,
			category    TEXT    NOT NULL,
			strategy    TEXT    NOT NULL,
			fingerprint TEXT    NOT NULL,
			result      TEXT    NOT NULL DEFAULT '',
			status      TEXT    NOT NULL,
			error       TEXT    NOT NULL DEFAULT '',
			attempts    INTEGER NOT NULL DEFAULT 0,
			run_id      TEXT    NOT NULL DEFAULT '',
			updated_at  TEXT    NOT NULL,
			PRIMARY KEY (filename, category, strategy)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_run_status ON entries(run_id, status)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

// Nop is a Journal that keeps nothing; every lookup misses.
type Nop struct{}

func (Nop) StartRun(string) (string, error) { return newRunID(), nil }

func (Nop) Lookup(string, models.Category, string, string) (string, bool, error) {
	return "", false, nil
}

func (Nop) Record(string, Entry) error        { return nil }
func (Nop) FinishRun(models.RunReport) error { return nil }
func (Nop) Close() error                     { return nil }
