// Package queue implements the durable offline buffer between the
// capture loop and the publisher. Entries live in a local SQLite log and
// are removed only when a transport acknowledges delivery, so a process
// crash never loses unflushed samples.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scorypto/innovriddhi-location-server/internal/track"
)

// DefaultCapacity bounds the number of buffered entries per device.
const DefaultCapacity = 1000

// Entry is a queued sample together with its delivery bookkeeping.
type Entry struct {
	ID               int64
	Sample           track.LocationSample
	EnqueueTime      time.Time
	RetryCount       int
	AttemptedPrimary bool
	AttemptedLegacy  bool
}

// WithCapacity overrides the per-device entry cap.
func WithCapacity(n int) func(*Queue) {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// Queue is an append-only, per-device-ordered delivery log. It is safe
// for concurrent use by the capture and publish paths.
type Queue struct {
	db       *sql.DB
	capacity int

	drops atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// New opens (or creates) the queue log at dbPath. Leases held by a
// previous process are released so interrupted deliveries are retried.
func New(dbPath string, options ...func(*Queue)) (*Queue, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening queue log: %w", err)
	}

	if _, err = db.Exec(initQueueSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing queue schema: %w", err)
	}
	if _, err = db.Exec(releaseLeasesSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("releasing stale leases: %w", err)
	}

	q := Queue{db: db, capacity: DefaultCapacity}
	for _, option := range options {
		option(&q)
	}

	return &q, nil
}

// NextSequence atomically allocates the next sequence number for a
// device. The counter is durable, so sequence numbers keep increasing
// across agent restarts.
func (q *Queue) NextSequence(ctx context.Context, deviceID string) (uint64, error) {
	var seq uint64
	if err := q.db.QueryRowContext(ctx, nextSequenceSQL, deviceID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("allocating sequence number: %w", err)
	}
	return seq, nil
}

// Enqueue appends a sample to the log. When the device exceeds capacity
// the oldest entries are evicted and counted as drops; freshness wins
// over completeness.
func (q *Queue) Enqueue(ctx context.Context, sample track.LocationSample) (err error) {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encoding sample: %w", err)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	if _, err = tx.ExecContext(ctx, insertEntrySQL,
		sample.DeviceID, sample.SequenceNo, payload, sample.Timestamp.UTC(), time.Now().UTC()); err != nil {
		return fmt.Errorf("inserting entry: %w", err)
	}

	var count int
	if err = tx.QueryRowContext(ctx, countDeviceEntriesSQL, sample.DeviceID).Scan(&count); err != nil {
		return fmt.Errorf("counting entries: %w", err)
	}

	if excess := count - q.capacity; excess > 0 {
		res, execErr := tx.ExecContext(ctx, evictOldestSQL, sample.DeviceID, excess)
		if execErr != nil {
			return fmt.Errorf("evicting oldest entries: %w", execErr)
		}
		if n, raErr := res.RowsAffected(); raErr == nil {
			q.drops.Add(uint64(n))
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing enqueue: %w", err)
	}
	return nil
}

// DequeueBatch leases up to max deliverable entries in enqueue order.
// Leased entries are invisible to other callers until acked or requeued.
func (q *Queue) DequeueBatch(ctx context.Context, max int) (entries []Entry, err error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	rows, err := tx.QueryContext(ctx, selectBatchSQL, time.Now().UTC().Unix(), max)
	if err != nil {
		return nil, fmt.Errorf("selecting batch: %w", err)
	}

	for rows.Next() {
		var e Entry
		var payload []byte
		if err = rows.Scan(&e.ID, &payload, &e.EnqueueTime, &e.RetryCount, &e.AttemptedPrimary, &e.AttemptedLegacy); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		if err = json.Unmarshal(payload, &e.Sample); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("decoding entry %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterating batch: %w", err)
	}
	if err = rows.Close(); err != nil {
		return nil, fmt.Errorf("closing batch rows: %w", err)
	}

	for _, e := range entries {
		if _, err = tx.ExecContext(ctx, leaseEntrySQL, e.ID); err != nil {
			return nil, fmt.Errorf("leasing entry %d: %w", e.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing lease: %w", err)
	}
	return entries, nil
}

// Ack removes a delivered (or dead-lettered) entry from the log.
func (q *Queue) Ack(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, deleteEntrySQL, id); err != nil {
		return fmt.Errorf("acking entry %d: %w", id, err)
	}
	return nil
}

// Requeue returns a leased entry to the log for a later delivery cycle.
// The entry becomes deliverable again after delay.
func (q *Queue) Requeue(ctx context.Context, e Entry, delay time.Duration) error {
	nextAttempt := time.Now().Add(delay).UTC().Unix()
	if _, err := q.db.ExecContext(ctx, requeueEntrySQL,
		e.RetryCount+1, e.AttemptedPrimary, e.AttemptedLegacy, nextAttempt, e.ID); err != nil {
		return fmt.Errorf("requeueing entry %d: %w", e.ID, err)
	}
	return nil
}

// Len reports the number of entries currently buffered, leased or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, countEntriesSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// Drops reports how many entries have been evicted over capacity since
// the queue was opened.
func (q *Queue) Drops() uint64 {
	return q.drops.Load()
}

// Close releases the underlying database. Safe to call multiple times.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		q.closeErr = q.db.Close()
	})
	return q.closeErr
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if rErr := rb.Rollback(); rErr != nil && *err == nil && rErr != sql.ErrTxDone {
		*err = rErr
	}
}
