package documents

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sage/internal/apperrors"
)

// HistoryEntry is one row of the brainstorm version history. The history is
// what makes versions monotonic across restarts.
type HistoryEntry struct {
	TaskID      string    `json:"task_id"`
	Version     int       `json:"version"`
	Action      string    `json:"action"`
	GeneratedAt time.Time `json:"generated_at"`
	ContentHash string    `json:"content_hash"`
}

// History is the SQLite-backed brainstorm version log.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the history database.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "open history db")
	}
	// One writer at a time keeps version assignment race-free.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS brainstorm_history (
	task_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	action TEXT NOT NULL,
	generated_at TIMESTAMP NOT NULL,
	content_hash TEXT NOT NULL,
	PRIMARY KEY (task_id, version)
)`)
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.KindSchema, err, "ensure history schema")
	}
	return &History{db: db}, nil
}

// NextVersion reserves the next version number for a task by recording the
// entry. Returns the assigned version.
func (h *History) NextVersion(ctx context.Context, taskID, action, contentHash string) (int, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "begin history tx")
	}
	defer tx.Rollback()

	var current sql.NullInt64
	err = tx.QueryRowContext(ctx,
		"SELECT MAX(version) FROM brainstorm_history WHERE task_id = ?", taskID).Scan(&current)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "read current version")
	}

	version := int(current.Int64) + 1
	_, err = tx.ExecContext(ctx,
		"INSERT INTO brainstorm_history (task_id, version, action, generated_at, content_hash) VALUES (?, ?, ?, ?, ?)",
		taskID, version, action, time.Now().UTC(), contentHash)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "record version")
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "commit history tx")
	}
	return version, nil
}

// CurrentVersion reports the latest recorded version for a task, zero when
// none exists.
func (h *History) CurrentVersion(ctx context.Context, taskID string) (int, error) {
	var current sql.NullInt64
	err := h.db.QueryRowContext(ctx,
		"SELECT MAX(version) FROM brainstorm_history WHERE task_id = ?", taskID).Scan(&current)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "read current version")
	}
	return int(current.Int64), nil
}

// Versions lists the history of a task, oldest first.
func (h *History) Versions(ctx context.Context, taskID string) ([]HistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT task_id, version, action, generated_at, content_hash FROM brainstorm_history WHERE task_id = ? ORDER BY version",
		taskID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "list versions")
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.TaskID, &e.Version, &e.Action, &e.GeneratedAt, &e.ContentHash); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, err, "scan history row")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "iterate history rows")
	}
	return out, nil
}

// Close closes the database.
func (h *History) Close() error { return h.db.Close() }
