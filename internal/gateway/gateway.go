package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scorypto/innovriddhi-location-server/internal/storage"
	"github.com/scorypto/innovriddhi-location-server/internal/track"
)

// Disposition is the gateway's verdict on one delivered sample.
type Disposition string

const (
	DispositionAccepted  Disposition = "accepted"
	DispositionDuplicate Disposition = "duplicate"
	DispositionStale     Disposition = "stale"
	DispositionRejected  Disposition = "rejected"
)

const (
	// DefaultSequenceGrace is how far behind the highest committed
	// sequence a sample may arrive and still be processed. Devices flush
	// their offline queues in order, but dual-transport delivery can
	// reorder within a flush window.
	DefaultSequenceGrace = 32

	// DefaultClockSkew is the tolerated forward clock drift on device
	// timestamps.
	DefaultClockSkew = 2 * time.Minute

	// DefaultDedupWindow bounds how long an idempotency token is
	// remembered.
	DefaultDedupWindow = 30 * time.Minute

	// DefaultDedupMaxEntries bounds dedup memory regardless of window.
	DefaultDedupMaxEntries = 100_000
)

// Pipeline receives accepted samples for stateful processing.
type Pipeline interface {
	Submit(s track.LocationSample)
}

// Config carries the ingestion thresholds. Zero values fall back to the
// package defaults.
type Config struct {
	SequenceGrace   uint64
	ClockSkew       time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

func (c *Config) applyDefaults() {
	if c.SequenceGrace == 0 {
		c.SequenceGrace = DefaultSequenceGrace
	}
	if c.ClockSkew == 0 {
		c.ClockSkew = DefaultClockSkew
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.DedupMaxEntries == 0 {
		c.DedupMaxEntries = DefaultDedupMaxEntries
	}
}

// WithGatewayLogger sets the gateway logger.
func WithGatewayLogger(logger *slog.Logger) func(*Gateway) {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// Stats is a point-in-time snapshot of ingestion counters. Every sample
// lands in exactly one bucket, so nothing drops silently.
type Stats struct {
	Accepted   uint64
	Duplicates uint64
	Stale      uint64
	Rejected   uint64
}

// Gateway is the single entry point for device samples regardless of
// which transport delivered them. It validates, deduplicates, gates
// stale sequences, records the raw audit trail and hands accepted
// samples to the stateful pipeline.
type Gateway struct {
	cfg      Config
	dedup    *dedupSet
	pipeline Pipeline
	store    storage.Store
	logger   *slog.Logger

	mu       sync.Mutex
	lastSeq  map[string]uint64
	sessions map[string]struct{}

	accepted   atomic.Uint64
	duplicates atomic.Uint64
	stale      atomic.Uint64
	rejected   atomic.Uint64

	now func() time.Time
}

func New(pipeline Pipeline, store storage.Store, cfg Config, options ...func(*Gateway)) *Gateway {
	cfg.applyDefaults()

	g := &Gateway{
		cfg:      cfg,
		dedup:    newDedupSet(cfg.DedupWindow, cfg.DedupMaxEntries),
		pipeline: pipeline,
		store:    store,
		logger:   slog.Default(),
		lastSeq:  make(map[string]uint64),
		sessions: make(map[string]struct{}),
		now:      time.Now,
	}

	for _, opt := range options {
		opt(g)
	}

	return g
}

// Ingest runs one sample through the full gate. The returned disposition
// is what the transport acknowledges back to the device; duplicates and
// stale samples acknowledge as handled so the device stops retrying them.
func (g *Gateway) Ingest(ctx context.Context, s *track.LocationSample) Disposition {
	if err := s.Validate(g.now(), g.cfg.ClockSkew); err != nil {
		g.rejected.Add(1)
		g.logger.Warn(fmt.Sprintf("rejecting sample: %s", err),
			slog.String("deviceID", s.DeviceID),
			slog.Uint64("sequenceNo", s.SequenceNo))
		return DispositionRejected
	}

	token := track.IdempotencyToken(s.DeviceID, s.SequenceNo)
	if !g.dedup.CheckAndInsert(token) {
		g.duplicates.Add(1)
		return DispositionDuplicate
	}

	g.ensureSession(ctx, s.DeviceID)

	if g.isStale(s) {
		g.stale.Add(1)
		g.appendRaw(ctx, s, DispositionStale)
		return DispositionStale
	}

	g.appendRaw(ctx, s, DispositionAccepted)
	g.pipeline.Submit(*s)
	g.accepted.Add(1)
	return DispositionAccepted
}

// isStale reports whether the sample sits at or below the committed
// high-water mark minus the grace window, and advances the mark
// otherwise. Samples within the grace window still flow through even
// when they arrive out of order.
func (g *Gateway) isStale(s *track.LocationSample) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	last := g.lastSeq[s.DeviceID]
	if last > 0 && s.SequenceNo+g.cfg.SequenceGrace <= last {
		return true
	}
	if s.SequenceNo > last {
		g.lastSeq[s.DeviceID] = s.SequenceNo
	}
	return false
}

func (g *Gateway) ensureSession(ctx context.Context, deviceID string) {
	g.mu.Lock()
	_, known := g.sessions[deviceID]
	if !known {
		g.sessions[deviceID] = struct{}{}
	}
	g.mu.Unlock()

	if known {
		return
	}

	if _, err := g.store.EnsureSession(ctx, deviceID); err != nil {
		g.logger.Error(fmt.Sprintf("ensuring session: %s", err),
			slog.String("deviceID", deviceID))
	}
}

// appendRaw writes the audit trail entry. Trail failures are logged and
// counted against nothing; they must not fail ingestion.
func (g *Gateway) appendRaw(ctx context.Context, s *track.LocationSample, d Disposition) {
	if err := g.store.AppendRawSample(ctx, s, string(d)); err != nil {
		g.logger.Error(fmt.Sprintf("appending raw sample: %s", err),
			slog.String("deviceID", s.DeviceID),
			slog.Uint64("sequenceNo", s.SequenceNo))
	}
}

func (g *Gateway) Stats() Stats {
	return Stats{
		Accepted:   g.accepted.Load(),
		Duplicates: g.duplicates.Load(),
		Stale:      g.stale.Load(),
		Rejected:   g.rejected.Load(),
	}
}
