package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/scorypto/innovriddhi-location-server/internal/queue"
	"github.com/scorypto/innovriddhi-location-server/internal/track"
)

const (
	// DefaultBackoffInitial is the first retry delay after a transient
	// delivery failure.
	DefaultBackoffInitial = 10 * time.Second

	// DefaultBackoffCeiling caps the exponential retry delay.
	DefaultBackoffCeiling = 600 * time.Second

	// DefaultMaxAttempts bounds deliveries before an entry is parked at
	// the backoff ceiling for later cycles.
	DefaultMaxAttempts = 8

	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 50
)

// DeadLetter receives entries that can never be delivered.
type DeadLetter interface {
	Route(ctx context.Context, e queue.Entry, reason error) error
}

// LogDeadLetter records poisoned entries in the log with a generated
// reference ID so operators can correlate them with support tickets.
type LogDeadLetter struct {
	logger *slog.Logger
}

// NewLogDeadLetter creates a DeadLetter sink backed by the logger.
func NewLogDeadLetter(logger *slog.Logger) *LogDeadLetter {
	return &LogDeadLetter{logger: logger}
}

func (d *LogDeadLetter) Route(_ context.Context, e queue.Entry, reason error) error {
	d.logger.Error("entry routed to dead letter",
		slog.String("ref", uuid.NewString()),
		slog.String("deviceID", e.Sample.DeviceID),
		slog.Uint64("sequenceNo", e.Sample.SequenceNo),
		slog.Int("retryCount", e.RetryCount),
		slog.String("reason", reason.Error()))
	return nil
}

// WithLogger sets the publisher logger.
func WithLogger(logger *slog.Logger) func(*Publisher) {
	return func(p *Publisher) {
		p.logger = logger.With(slog.String("component", "publisher"))
	}
}

// WithBackoff overrides the retry backoff bounds.
func WithBackoff(initial, ceiling time.Duration) func(*Publisher) {
	return func(p *Publisher) {
		p.backoffInitial = initial
		p.backoffCeiling = ceiling
	}
}

// WithMaxAttempts overrides the attempt bound before an entry is parked
// at the backoff ceiling.
func WithMaxAttempts(n int) func(*Publisher) {
	return func(p *Publisher) {
		p.maxAttempts = n
	}
}

// WithPollInterval overrides how often an idle publisher checks the queue.
func WithPollInterval(d time.Duration) func(*Publisher) {
	return func(p *Publisher) {
		p.pollInterval = d
	}
}

// WithBatchSize overrides the dequeue batch size.
func WithBatchSize(n int) func(*Publisher) {
	return func(p *Publisher) {
		p.batchSize = n
	}
}

// Stats is a snapshot of publisher delivery counters.
type Stats struct {
	Published    uint64
	Transient    uint64
	DeadLettered uint64
}

// Publisher drains the offline queue and delivers entries according to
// the active transport mode. All waiting is timer-based against the
// context; the publisher never busy-waits and never blocks the capture
// path.
type Publisher struct {
	q       *queue.Queue
	primary Transport
	legacy  Transport
	dead    DeadLetter

	mode atomic.Int32

	backoffInitial time.Duration
	backoffCeiling time.Duration
	maxAttempts    int
	pollInterval   time.Duration
	batchSize      int

	published    atomic.Uint64
	transient    atomic.Uint64
	deadLettered atomic.Uint64

	logger *slog.Logger
}

// NewPublisher creates a publisher over the queue and the two transports.
// Either transport may be nil when the configured mode never uses it.
func NewPublisher(q *queue.Queue, primary, legacy Transport, mode Mode, options ...func(*Publisher)) *Publisher {
	p := Publisher{
		q:              q,
		primary:        primary,
		legacy:         legacy,
		dead:           NewLogDeadLetter(slog.Default()),
		backoffInitial: DefaultBackoffInitial,
		backoffCeiling: DefaultBackoffCeiling,
		maxAttempts:    DefaultMaxAttempts,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		logger:         slog.Default(),
	}
	p.mode.Store(int32(mode))

	for _, option := range options {
		option(&p)
	}

	return &p
}

// WithDeadLetter overrides the dead letter sink.
func WithDeadLetter(d DeadLetter) func(*Publisher) {
	return func(p *Publisher) {
		p.dead = d
	}
}

// Mode returns the active transport mode.
func (p *Publisher) Mode() Mode {
	return Mode(p.mode.Load())
}

// SetMode switches the transport mode. Safe to call while Run is active;
// the migration controller flips this remotely.
func (p *Publisher) SetMode(m Mode) {
	p.mode.Store(int32(m))
}

// Stats returns a snapshot of delivery counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published:    p.published.Load(),
		Transient:    p.transient.Load(),
		DeadLettered: p.deadLettered.Load(),
	}
}

// Run drains the queue until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		n, err := p.cycle(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Error(fmt.Sprintf("delivery cycle failed: %s", err))
		}

		if n == 0 {
			timer.Reset(p.pollInterval)
		} else {
			timer.Reset(0)
		}
	}
}

// Flush attempts a best-effort, time-bounded drain of pending entries.
// Entries that cannot be delivered within the budget stay queued for the
// next session. Returns the number of entries delivered.
func (p *Publisher) Flush(ctx context.Context, budget time.Duration) int {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var flushed int
	for ctx.Err() == nil {
		n, err := p.cycle(ctx)
		if err != nil || n == 0 {
			break
		}
		flushed += n
	}
	return flushed
}

// cycle processes one dequeue batch and reports how many entries were
// resolved (delivered or dead-lettered).
func (p *Publisher) cycle(ctx context.Context) (int, error) {
	entries, err := p.q.DequeueBatch(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("dequeueing batch: %w", err)
	}

	var resolved int
	for _, e := range entries {
		if ctx.Err() != nil {
			// Shutting down mid-batch: release the lease for later.
			if rqErr := p.q.Requeue(context.Background(), e, 0); rqErr != nil {
				p.logger.Warn(fmt.Sprintf("releasing lease on shutdown: %s", rqErr))
			}
			continue
		}
		if p.process(ctx, e) {
			resolved++
		}
	}
	return resolved, nil
}

func (p *Publisher) process(ctx context.Context, e queue.Entry) bool {
	payload, err := json.Marshal(e.Sample)
	if err != nil {
		// Unencodable entries are poisoned by definition.
		p.toDeadLetter(ctx, e, fmt.Errorf("%w: encoding sample: %w", ErrPermanentReject, err))
		return true
	}

	env := Envelope{
		Token:       track.IdempotencyToken(e.Sample.DeviceID, e.Sample.SequenceNo),
		OrderingKey: e.Sample.DeviceID,
		Payload:     payload,
	}

	permanent, err := p.deliver(ctx, &e, env)
	switch {
	case err == nil:
		p.published.Add(1)
		if ackErr := p.q.Ack(ctx, e.ID); ackErr != nil {
			p.logger.Error(fmt.Sprintf("acking delivered entry: %s", ackErr))
		}
		return true

	case permanent:
		p.toDeadLetter(ctx, e, err)
		return true

	default:
		p.transient.Add(1)
		delay := p.backoffDelay(e.RetryCount)
		if e.RetryCount+1 >= p.maxAttempts {
			p.logger.Warn("delivery attempts exhausted, parking entry",
				slog.String("deviceID", e.Sample.DeviceID),
				slog.Uint64("sequenceNo", e.Sample.SequenceNo),
				slog.Int("retryCount", e.RetryCount+1))
			delay = p.backoffCeiling
		}
		if rqErr := p.q.Requeue(ctx, e, delay); rqErr != nil {
			p.logger.Error(fmt.Sprintf("requeueing entry: %s", rqErr))
		}
		return false
	}
}

// deliver publishes the envelope per the active mode and updates the
// entry's attempted-transport flags. The permanent result is true only
// when every attempted transport rejected the entry permanently.
func (p *Publisher) deliver(ctx context.Context, e *queue.Entry, env Envelope) (permanent bool, err error) {
	switch p.Mode() {
	case ModePrimaryOnly:
		e.AttemptedPrimary = true
		err = p.primary.Publish(ctx, env)
		return errors.Is(err, ErrPermanentReject), err

	case ModeLegacyOnly:
		e.AttemptedLegacy = true
		err = p.legacy.Publish(ctx, env)
		return errors.Is(err, ErrPermanentReject), err

	case ModeDual:
		e.AttemptedPrimary = true
		e.AttemptedLegacy = true
		pErr := p.primary.Publish(ctx, env)
		lErr := p.legacy.Publish(ctx, env)
		if pErr == nil || lErr == nil {
			return false, nil
		}
		return errors.Is(pErr, ErrPermanentReject) && errors.Is(lErr, ErrPermanentReject),
			errors.Join(pErr, lErr)

	case ModePrimaryWithFallback:
		e.AttemptedPrimary = true
		pErr := p.primary.Publish(ctx, env)
		if pErr == nil {
			return false, nil
		}
		e.AttemptedLegacy = true
		lErr := p.legacy.Publish(ctx, env)
		if lErr == nil {
			return false, nil
		}
		return errors.Is(pErr, ErrPermanentReject) && errors.Is(lErr, ErrPermanentReject),
			errors.Join(pErr, lErr)

	default:
		return false, fmt.Errorf("%w: %d", ErrUnknownMode, p.Mode())
	}
}

func (p *Publisher) toDeadLetter(ctx context.Context, e queue.Entry, reason error) {
	p.deadLettered.Add(1)
	if err := p.dead.Route(ctx, e, reason); err != nil {
		p.logger.Error(fmt.Sprintf("routing to dead letter: %s", err))
	}
	if err := p.q.Ack(ctx, e.ID); err != nil {
		p.logger.Error(fmt.Sprintf("removing dead-lettered entry: %s", err))
	}
}

// backoffDelay doubles from the initial delay per retry up to the ceiling.
func (p *Publisher) backoffDelay(retryCount int) time.Duration {
	delay := p.backoffInitial
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= p.backoffCeiling {
			return p.backoffCeiling
		}
	}
	return delay
}
