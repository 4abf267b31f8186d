package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Queue persists offline actions in an embedded sqlite database. The
// AUTOINCREMENT sequence fixes FIFO order independent of clock precision;
// the public ID is what callers use for removal.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// Open creates or opens the queue database at path.
func Open(path string, logger *slog.Logger) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open db: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: wal mode: %w", err)
	}

	q := &Queue{
		db:     db,
		logger: logger.With("component", "queue"),
	}
	if err := q.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}
	return q, nil
}

// migrate creates tables on first run.
func (q *Queue) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS offline_actions (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			category    TEXT NOT NULL,
			method      TEXT NOT NULL,
			url         TEXT NOT NULL,
			body        BLOB,
			headers     TEXT NOT NULL DEFAULT '{}',
			enqueued_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_actions_category ON offline_actions(category, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := q.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Enqueue persists a failed mutation durably before returning. The returned
// action carries the generated ID and derived category. A persistence error
// is the caller's problem: the durability contract forbids dropping the
// mutation silently.
func (q *Queue) Enqueue(ctx context.Context, method, rawURL string, body []byte, header http.Header) (Action, error) {
	now := time.Now()
	action := Action{
		ID:         newActionID(now),
		Category:   Categorize(rawURL),
		Method:     method,
		URL:        rawURL,
		Body:       body,
		Header:     header,
		EnqueuedAt: now,
	}

	headers, err := json.Marshal(action.Header)
	if err != nil {
		return Action{}, fmt.Errorf("queue: marshal headers: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	_, err = q.db.ExecContext(ctx,
		`INSERT INTO offline_actions(id, category, method, url, body, headers, enqueued_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		action.ID, action.Category, action.Method, action.URL, action.Body, string(headers), now.UnixMilli(),
	)
	if err != nil {
		return Action{}, fmt.Errorf("queue: enqueue: %w", err)
	}

	q.logger.Info("action queued", "id", action.ID, "category", action.Category, "method", action.Method, "url", action.URL)
	return action, nil
}

// Drain returns a snapshot of the category's actions in enqueue order. It
// does not remove anything; the coordinator calls Remove per confirmed
// success.
func (q *Queue) Drain(ctx context.Context, category string) ([]Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.QueryContext(ctx,
		`SELECT id, category, method, url, body, headers, enqueued_at FROM offline_actions WHERE category = ? ORDER BY seq ASC`,
		category,
	)
	if err != nil {
		return nil, fmt.Errorf("queue: drain %s: %w", category, err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// PeekAll returns every queued action across categories in enqueue order.
func (q *Queue) PeekAll(ctx context.Context) ([]Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.QueryContext(ctx,
		`SELECT id, category, method, url, body, headers, enqueued_at FROM offline_actions ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("queue: peek: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// Remove deletes an action after a confirmed-success replay.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx, `DELETE FROM offline_actions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("queue: remove %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		q.logger.Debug("remove of unknown action", "id", id)
	}
	return nil
}

// Len reports how many actions a category holds.
func (q *Queue) Len(ctx context.Context, category string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_actions WHERE category = ?`, category).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: len %s: %w", category, err)
	}
	return n, nil
}

// Counts reports queue depth per category, zero-filled for known categories.
func (q *Queue) Counts(ctx context.Context) (map[string]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[string]int, len(Categories()))
	for _, c := range Categories() {
		counts[c] = 0
	}

	rows, err := q.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM offline_actions GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("queue: counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("queue: counts: %w", err)
		}
		counts[category] = n
	}
	return counts, rows.Err()
}

func (q *Queue) Close() error {
	return q.db.Close()
}

func scanActions(rows *sql.Rows) ([]Action, error) {
	var out []Action
	for rows.Next() {
		var a Action
		var headers string
		var enqueuedMs int64
		if err := rows.Scan(&a.ID, &a.Category, &a.Method, &a.URL, &a.Body, &headers, &enqueuedMs); err != nil {
			return nil, fmt.Errorf("queue: scan: %w", err)
		}
		if headers != "" && headers != "null" {
			if err := json.Unmarshal([]byte(headers), &a.Header); err != nil {
				return nil, fmt.Errorf("queue: unmarshal headers: %w", err)
			}
		}
		a.EnqueuedAt = time.UnixMilli(enqueuedMs)
		out = append(out, a)
	}
	return out, rows.Err()
}
