package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/coday-ai/coday/pkg/events"
)

// SQLiteRepository stores threads in a single SQLite database. It is
// selected with storage.backend: sqlite and suits deployments where a
// directory of YAML files is impractical.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const createThreadsTable = `
CREATE TABLE IF NOT EXISTS threads (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	summary     TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	modified_at TEXT NOT NULL,
	price       REAL NOT NULL DEFAULT 0,
	messages    TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_threads_modified ON threads(modified_at DESC);
`

// NewSQLiteRepository opens (and if needed initializes) the database at
// dsn. Use ":memory:" for an ephemeral store.
func NewSQLiteRepository(dsn string, logger *slog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storeErr("open database", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createThreadsTable); err != nil {
		db.Close()
		return nil, storeErr("init schema", err)
	}
	return &SQLiteRepository{
		db:     db,
		logger: logger.With("component", "thread_repository"),
	}, nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// GetByID loads a thread, or ErrNotFound.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Thread, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, summary, created_at, modified_at, price, messages FROM threads WHERE id = ?`, id)

	var (
		doc               Doc
		created, modified string
		messagesJSON      string
	)
	err := row.Scan(&doc.ID, &doc.Name, &doc.Summary, &created, &modified, &doc.Price, &messagesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("query thread", err)
	}

	doc.CreatedDate = parseStoredTime(created)
	doc.ModifiedDate = parseStoredTime(modified)
	if err := json.Unmarshal([]byte(messagesJSON), &doc.Messages); err != nil {
		return nil, storeErr(fmt.Sprintf("parse messages for %s", id), err)
	}
	return FromDoc(doc), nil
}

// Save upserts the thread snapshot.
func (r *SQLiteRepository) Save(ctx context.Context, t *Thread) error {
	doc := t.Snapshot()
	if doc.Messages == nil {
		doc.Messages = []events.Event{}
	}
	messagesJSON, err := json.Marshal(doc.Messages)
	if err != nil {
		return storeErr("marshal messages", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO threads (id, name, summary, created_at, modified_at, price, messages)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	summary = excluded.summary,
	modified_at = excluded.modified_at,
	price = excluded.price,
	messages = excluded.messages`,
		doc.ID, doc.Name, doc.Summary,
		doc.CreatedDate.UTC().Format(time.RFC3339Nano),
		doc.ModifiedDate.UTC().Format(time.RFC3339Nano),
		doc.Price, string(messagesJSON))
	if err != nil {
		return storeErr("save thread", err)
	}
	return nil
}

// List returns summaries newest first. Messages are not parsed here, so
// a corrupt messages column cannot break listing.
func (r *SQLiteRepository) List(ctx context.Context) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, summary, created_at, modified_at FROM threads ORDER BY modified_at DESC`)
	if err != nil {
		return nil, storeErr("list threads", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var (
			s                 Summary
			created, modified string
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Summary, &created, &modified); err != nil {
			r.logger.Debug("skipping unreadable thread row", "error", err)
			continue
		}
		s.CreatedDate = parseStoredTime(created)
		s.ModifiedDate = parseStoredTime(modified)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list threads", err)
	}
	return summaries, nil
}

// Delete removes a thread, or ErrNotFound.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete thread", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete thread", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
