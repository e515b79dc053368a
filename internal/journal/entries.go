package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thinkscotty/glimpse/internal/models"
)

// Lookup returns the stored result for a document/category when it was
// produced successfully by the same strategy from text with the same fingerprint.
func (db *DB) Lookup(filename string, cat models.Category, strategy, fingerprint string) (string, bool, error) {
	var result string
	err := db.conn.QueryRow(`
		SELECT result FROM entries
		WHERE filename = ? AND category = ? AND strategy = ? AND fingerprint = ? AND status IN (?, ?)`,
		filename, string(cat), strategy, fingerprint, string(models.OutcomeOK), string(models.OutcomeCached),
	).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s/%s: %w", filename, cat, err)
	}
	return result, true, nil
}

// Record upserts the checkpoint for one document/category.
func (db *DB) Record(runID string, e Entry) error {
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := db.conn.Exec(`
		INSERT INTO entries (filename, category, strategy, fingerprint, result, status, error, attempts, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename, category, strategy) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			result      = excluded.result,
			status      = excluded.status,
			error       = excluded.error,
			attempts    = excluded.attempts,
			run_id      = excluded.run_id,
			updated_at  = excluded.updated_at`,
		e.Filename, string(e.Category), e.Strategy, e.Fingerprint, e.Result, string(e.Status),
		e.Error, e.Attempts, runID, formatTime(updated))
	if err != nil {
		return fmt.Errorf("record %s/%s: %w", e.Filename, e.Category, err)
	}
	return nil
}

// Failures lists the entries that failed during the given run.
func (db *DB) Failures(runID string) ([]Entry, error) {
	rows, err := db.conn.Query(`
		SELECT filename, category, strategy, fingerprint, error, attempts, updated_at
		FROM entries WHERE run_id = ? AND status = ?
		ORDER BY filename, category`, runID, string(models.OutcomeFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var cat, updated string
		if err := rows.Scan(&e.Filename, &cat, &e.Strategy, &e.Fingerprint, &e.Error, &e.Attempts, &updated); err != nil {
			return nil, err
		}
		e.Category = models.Category(cat)
		e.Status = models.OutcomeFailed
		e.UpdatedAt, _ = parseTime(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}
