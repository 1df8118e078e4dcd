// Package queue implements the crash-safe, ordered, on-disk request
// queue that decouples heartbeat production from delivery.
//
// SQLite in WAL mode is the durability layer: enqueued requests are
// rows, and a request is deleted only after the POST it represents has
// succeeded. A crash between POST success and Ack redelivers at most
// that one request, which the server's merge-on-ingest collapses.
//
// Concurrency contract: any number of producers may Enqueue, but there
// is exactly one consumer driving Peek/Ack. Repeated Peek calls before
// Ack return the same item — "retry the same request", never "pop and
// requeue".
package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/daviddao/pulsemail/pkg/model"

	_ "modernc.org/sqlite"
)

// ErrBadEndpoint is returned by Enqueue for non-heartbeat endpoints.
// Only heartbeats are safe to replay blindly; everything else must be
// sent synchronously.
var ErrBadEndpoint = errors.New("only heartbeat endpoints can be queued")

// ErrNoPeek is returned by Ack when no item is under peek.
var ErrNoPeek = errors.New("ack without a preceding peek")

// Queue is a durable FIFO of flush-ready requests.
type Queue struct {
	db *sql.DB

	mu        sync.Mutex
	currentID int64 // row id returned by the last Peek; 0 = none
	current   *model.QueuedRequest
}

// Open opens (or creates) the queue database and initializes the
// schema. The WAL journal and busy timeout allow a producer to enqueue
// while the consumer holds a read.
func Open(path string) (*Queue, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	q := &Queue{db: db}
	if err := q.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return q, nil
}

// Close closes the database connection. Un-acked items persist for the
// next run.
func (q *Queue) Close() error { return q.db.Close() }

func (q *Queue) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint   TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Enqueue appends a request. Producers may call this concurrently with
// the consumer's Peek/Ack.
func (q *Queue) Enqueue(r model.QueuedRequest) error {
	if !r.IsHeartbeat() {
		return fmt.Errorf("enqueue %q: %w", r.Endpoint, ErrBadEndpoint)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return retryOnContention(func() error {
		_, err := q.db.Exec(
			`INSERT INTO requests (endpoint, payload, created_at) VALUES (?, ?, ?)`,
			r.Endpoint, string(r.Payload), now,
		)
		return err
	})
}

// Peek returns the oldest not-yet-acked request without removing it, or
// nil when the queue is empty. Until Ack is called, every Peek returns
// the same item.
func (q *Queue) Peek() (*model.QueuedRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil {
		return q.current, nil
	}

	var (
		id       int64
		endpoint string
		payload  string
	)
	err := q.db.QueryRow(
		`SELECT id, endpoint, payload FROM requests ORDER BY id ASC LIMIT 1`,
	).Scan(&id, &endpoint, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	q.currentID = id
	q.current = &model.QueuedRequest{Endpoint: endpoint, Payload: []byte(payload)}
	return q.current, nil
}

// Ack permanently removes the item returned by the last Peek. Call it
// only after the request has been delivered (or classified as
// undeliverable).
func (q *Queue) Ack() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil {
		return ErrNoPeek
	}
	id := q.currentID
	err := retryOnContention(func() error {
		_, err := q.db.Exec(`DELETE FROM requests WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return err
	}
	q.currentID = 0
	q.current = nil
	return nil
}

// Reset empties the queue and clears any pending peek. Used when the
// bucket registrations are being rebuilt from scratch and queued
// heartbeats would target stale buckets.
func (q *Queue) Reset() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := retryOnContention(func() error {
		_, err := q.db.Exec(`DELETE FROM requests`)
		return err
	})
	if err != nil {
		return err
	}
	q.currentID = 0
	q.current = nil
	return nil
}

// Size returns the number of queued requests. Diagnostic only: the
// count can be stale the moment it returns.
func (q *Queue) Size() int64 {
	var n int64
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM requests`).Scan(&n); err != nil {
		return 0
	}
	return n
}
