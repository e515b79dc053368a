package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thinkscotty/glimpse/internal/models"
)

func newRunID() string {
	return uuid.NewString()
}

// StartRun records a new pass and returns its identifier.
func (db *DB) StartRun(strategy string) (string, error) {
	id := newRunID()
	_, err := db.conn.Exec(`INSERT INTO runs (id, strategy, started_at) VALUES (?, ?, ?)`,
		id, strategy, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun stores the counters of a completed pass.
func (db *DB) FinishRun(r models.RunReport) error {
	finished := r.Finished
	if finished.IsZero() {
		finished = time.Now()
	}
	res, err := db.conn.Exec(`
		UPDATE runs SET finished_at = ?, processed = ?, failed = ?, skipped = ?, cached = ?
		WHERE id = ?`,
		formatTime(finished), r.Processed, r.Failed, r.Skipped, r.Cached, r.RunID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: unknown run %s", r.RunID)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(limit int) ([]models.RunSummary, error) {
	rows, err := db.conn.Query(`
		SELECT id, strategy, started_at, finished_at, processed, cached, failed, skipped
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.RunSummary
	for rows.Next() {
		var r models.RunSummary
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &r.Strategy, &started, &finished, &r.Processed, &r.Cached, &r.Failed, &r.Skipped); err != nil {
			return nil, err
		}
		r.StartedAt, _ = parseTime(started)
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err == nil {
				r.FinishedAt = &t
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
