package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/scorypto/innovriddhi-location-server/internal/track"
)

func newTestQueue(t *testing.T, options ...func(*Queue)) *Queue {
	t.Helper()

	q, err := New(filepath.Join(t.TempDir(), "queue.sqlite"), options...)
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func sampleN(deviceID string, seq uint64) track.LocationSample {
	return track.LocationSample{
		DeviceID:   deviceID,
		SequenceNo: seq,
		Timestamp:  time.Now().UTC(),
		Latitude:   -33.86,
		Longitude:  151.20,
		AccuracyM:  10,
		BatteryPct: 80,
	}
}

func TestQueue_EnqueueDequeueOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for seq := uint64(1); seq <= 5; seq++ {
		if err := q.Enqueue(ctx, sampleN("dev-001", seq)); err != nil {
			t.Fatalf("enqueue %d: %v", seq, err)
		}
	}

	entries, err := q.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Sample.SequenceNo != uint64(i+1) {
			t.Errorf("entry %d: expected sequence %d, got %d", i, i+1, e.Sample.SequenceNo)
		}
	}

	// Leased entries must not be handed out twice.
	again, err := q.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected no deliverable entries while leased, got %d", len(again))
	}
}

func TestQueue_CapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, WithCapacity(1000))

	for seq := uint64(1); seq <= 1500; seq++ {
		if err := q.Enqueue(ctx, sampleN("dev-001", seq)); err != nil {
			t.Fatalf("enqueue %d: %v", seq, err)
		}
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 1000 {
		t.Errorf("expected 1000 retained entries, got %d", n)
	}
	if drops := q.Drops(); drops != 500 {
		t.Errorf("expected 500 drops, got %d", drops)
	}

	entries, err := q.DequeueBatch(ctx, 1)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(entries) != 1 || entries[0].Sample.SequenceNo != 501 {
		t.Errorf("expected oldest retained entry to be sequence 501, got %+v", entries)
	}
}

func TestQueue_AckRemoves(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, sampleN("dev-001", 1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	entries, err := q.DequeueBatch(ctx, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("dequeue: %v (%d entries)", err, len(entries))
	}

	if err = q.Ack(ctx, entries[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	if n, _ := q.Len(ctx); n != 0 {
		t.Errorf("expected empty queue after ack, got %d entries", n)
	}
}

func TestQueue_RequeueWithDelay(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, sampleN("dev-001", 1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	entries, err := q.DequeueBatch(ctx, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("dequeue: %v (%d entries)", err, len(entries))
	}

	e := entries[0]
	e.AttemptedPrimary = true
	if err = q.Requeue(ctx, e, time.Hour); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	// Not deliverable until the backoff delay passes.
	entries, err = q.DequeueBatch(ctx, 1)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no deliverable entries before next attempt time, got %d", len(entries))
	}

	if err = q.Requeue(ctx, e, 0); err != nil {
		t.Fatalf("requeue immediate: %v", err)
	}
	entries, err = q.DequeueBatch(ctx, 1)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected entry deliverable again, got %d", len(entries))
	}
	if entries[0].RetryCount != 1 || !entries[0].AttemptedPrimary {
		t.Errorf("expected retry bookkeeping persisted, got %+v", entries[0])
	}
}

func TestQueue_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "queue.sqlite")

	q, err := New(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err = q.Enqueue(ctx, sampleN("dev-001", 1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Lease but never ack: simulates a crash mid-delivery.
	if _, err = q.DequeueBatch(ctx, 1); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err = q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	q2, err := New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer q2.Close()

	entries, err := q2.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue after reopen: %v", err)
	}
	if len(entries) != 1 || entries[0].Sample.SequenceNo != 1 {
		t.Fatalf("expected leased entry recovered after restart, got %+v", entries)
	}
}

func TestQueue_NextSequenceMonotonic(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "queue.sqlite")

	q, err := New(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var last uint64
	for i := 0; i < 10; i++ {
		seq, err := q.NextSequence(ctx, "dev-001")
		if err != nil {
			t.Fatalf("next sequence: %v", err)
		}
		if seq <= last {
			t.Fatalf("sequence not strictly increasing: %d after %d", seq, last)
		}
		last = seq
	}

	other, err := q.NextSequence(ctx, "dev-002")
	if err != nil {
		t.Fatalf("next sequence: %v", err)
	}
	if other != 1 {
		t.Errorf("expected independent counter per device, got %d", other)
	}

	// Counter must survive restart.
	_ = q.Close()
	q2, err := New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer q2.Close()

	seq, err := q2.NextSequence(ctx, "dev-001")
	if err != nil {
		t.Fatalf("next sequence after reopen: %v", err)
	}
	if seq != last+1 {
		t.Errorf("expected %d after reopen, got %d", last+1, seq)
	}
}
