// Package journal persists queue events to SQLite for the admin surface.
// It uses modernc.org/sqlite (pure Go, no CGO) so the binary is fully static
// and works in scratch/alpine Docker images without a C compiler.
//
// The journal is a plain event subscriber: it records every bus event, local
// and peer-originated alike, and never blocks or fails dispatch.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/whisper-darkly/conveyor-backend/queue"
)

// Entry is a single journalled queue event.
type Entry struct {
	ID             int64     `json:"id"`
	Action         string    `json:"action"`
	QueueID        string    `json:"queue_id"`
	JobID          string    `json:"job_id"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	SourceInstance string    `json:"source_instance"`
	TS             time.Time `json:"ts"`
}

// DB is the SQLite-backed event journal.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path and applies the
// schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// SQLite serialises writes; one connection avoids SQLITE_BUSY on writes.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// migrate applies the schema.  New versions should only ADD statements here
// so that existing databases keep working without a migration tool.
func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS queue_events (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			action          TEXT NOT NULL,
			queue_id        TEXT NOT NULL,
			job_id          TEXT NOT NULL,
			status          TEXT NOT NULL,
			error           TEXT NOT NULL DEFAULT '',
			source_instance TEXT NOT NULL,
			ts              TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_qe_ts ON queue_events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_qe_queue_id ON queue_events(queue_id)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record appends one event.
func (d *DB) Record(ctx context.Context, ev queue.Event) error {
	var queueID, jobID, status, errMsg string
	if ev.Item != nil {
		queueID = ev.Item.QueueID
		jobID = ev.Item.JobID
		status = string(ev.Item.Status)
		errMsg = ev.Item.Error
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO queue_events (action, queue_id, job_id, status, error, source_instance, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.Action, queueID, jobID, status, errMsg, ev.SourceInstance,
		ev.Timestamp.UTC().Format(time.RFC3339Nano))
	return err
}

// Attach subscribes the journal to q's event stream.  Insert failures are
// logged, never propagated — journalling must not disturb dispatch.
func (d *DB) Attach(q *queue.Queue) {
	q.Subscribe(func(ev queue.Event) {
		if err := d.Record(context.Background(), ev); err != nil {
			log.Printf("journal: record %s event: %v", ev.Action, err)
		}
	})
}

// Recent returns up to limit events, newest first.
func (d *DB) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, action, queue_id, job_id, status, error, source_instance, ts
		  FROM queue_events
		 ORDER BY id DESC
		 LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &e.Action, &e.QueueID, &e.JobID, &e.Status, &e.Error, &e.SourceInstance, &ts); err != nil {
			return nil, err
		}
		e.TS, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (d *DB) Close() error { return d.db.Close() }
