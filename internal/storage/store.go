package storage

import (
	"context"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scorypto/innovriddhi-location-server/internal/track"
)

// Store is the external sink the pipeline writes to. It owns the raw
// sample audit trail, the stoppage records and the per-device tracking
// sessions. All writes are atomic; UpsertStoppage is idempotent on the
// stoppage ID so the detector can re-apply transitions safely.
type Store interface {
	// EnsureSession records a tracking session for the device if one
	// does not exist yet and returns its identifier.
	EnsureSession(ctx context.Context, deviceID string) (sessionID int64, err error)

	// AppendRawSample appends a sample to the audit trail with the
	// gateway's disposition. Fire-and-forget: callers log failures but
	// never fail ingestion over them.
	AppendRawSample(ctx context.Context, s *track.LocationSample, disposition string) error

	// UpsertStoppage creates or updates a stoppage keyed by its stable
	// ID, extending end time, duration and radius on conflict.
	UpsertStoppage(ctx context.Context, s *track.Stoppage) error

	// Stoppages reads stoppage records, newest first, filtered by the
	// given options.
	Stoppages(ctx context.Context, opts ...ReadOption) ([]*track.Stoppage, error)

	// Close releases all database connections. Safe to call repeatedly.
	Close() error
}
