package stoppage

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/scorypto/innovriddhi-location-server/internal/track"
)

const (
	defaultLaneCount   = 8
	defaultLaneBacklog = 256
	defaultSweepEvery  = time.Minute
)

// Sink receives stoppage upserts. Implementations must be idempotent on
// the stoppage ID; the same transition may be applied more than once.
type Sink interface {
	UpsertStoppage(ctx context.Context, s *track.Stoppage) error
}

// Notifier observes stoppage events after they reach the sink, e.g. the
// live feed hub. Called from lane goroutines; must not block.
type Notifier func(e Event)

// WithLaneLogger sets the lanes logger.
func WithLaneLogger(logger *slog.Logger) func(*Lanes) {
	return func(l *Lanes) {
		l.logger = logger.With(slog.String("component", "lanes"))
	}
}

// WithSweepInterval overrides how often lanes scan for silent devices.
func WithSweepInterval(d time.Duration) func(*Lanes) {
	return func(l *Lanes) {
		l.sweepEvery = d
	}
}

// WithNotifier registers an event observer.
func WithNotifier(n Notifier) func(*Lanes) {
	return func(l *Lanes) {
		l.notify = n
	}
}

// Lanes shards devices across worker goroutines by a stable hash of the
// device ID. A device's samples always land on the same lane, so its
// state transitions are strictly ordered without any cross-device
// locking.
type Lanes struct {
	lanes    []*lane
	detector *Detector
	sink     Sink
	notify   Notifier

	sweepEvery time.Duration
	logger     *slog.Logger

	wg sync.WaitGroup
}

type lane struct {
	ch     chan track.LocationSample
	states map[string]*track.DeviceState
}

// NewLanes creates n processing lanes over the detector and sink.
func NewLanes(detector *Detector, sink Sink, n int, options ...func(*Lanes)) *Lanes {
	if n <= 0 {
		n = defaultLaneCount
	}

	l := Lanes{
		lanes:      make([]*lane, n),
		detector:   detector,
		sink:       sink,
		sweepEvery: defaultSweepEvery,
		logger:     slog.Default(),
	}
	for i := range l.lanes {
		l.lanes[i] = &lane{
			ch:     make(chan track.LocationSample, defaultLaneBacklog),
			states: make(map[string]*track.DeviceState),
		}
	}

	for _, option := range options {
		option(&l)
	}

	return &l
}

// Submit routes a sample to its device's lane. Blocks only when the lane
// backlog is full, which applies natural backpressure to the gateway.
func (l *Lanes) Submit(s track.LocationSample) {
	l.laneFor(s.DeviceID).ch <- s
}

// Run processes samples until the context is cancelled, then drains each
// lane's backlog before returning.
func (l *Lanes) Run(ctx context.Context) {
	for _, ln := range l.lanes {
		l.wg.Add(1)
		go l.runLane(ctx, ln)
	}
	l.wg.Wait()
}

func (l *Lanes) runLane(ctx context.Context, ln *lane) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.drainLane(ln)
			return

		case s := <-ln.ch:
			l.handle(ctx, ln, s)

		case <-ticker.C:
			l.sweepLane(ctx, ln, time.Now())
		}
	}
}

func (l *Lanes) handle(ctx context.Context, ln *lane, s track.LocationSample) {
	st, ok := ln.states[s.DeviceID]
	if !ok {
		st = track.NewDeviceState(s.DeviceID)
		ln.states[s.DeviceID] = st
	}

	l.emit(ctx, l.detector.Process(st, &s))
}

// sweepLane force-closes state for silent devices and evicts idle ones
// so lane memory stays bounded by the active fleet.
func (l *Lanes) sweepLane(ctx context.Context, ln *lane, now time.Time) {
	for id, st := range ln.states {
		l.emit(ctx, l.detector.CheckInactive(st, now))

		if st.Mode == track.ModeMoving && st.Candidate == nil &&
			!st.LastSampleAt.IsZero() && now.Sub(st.LastSampleAt) >= l.detector.InactivityWindow() {
			delete(ln.states, id)
		}
	}
}

// drainLane processes whatever is already queued at shutdown so accepted
// samples are not dropped on the floor.
func (l *Lanes) drainLane(ln *lane) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case s := <-ln.ch:
			l.handle(ctx, ln, s)
		default:
			return
		}
	}
}

func (l *Lanes) emit(ctx context.Context, events []Event) {
	for _, e := range events {
		if err := l.sink.UpsertStoppage(ctx, &e.Stoppage); err != nil {
			l.logger.Error(fmt.Sprintf("upserting stoppage: %s", err),
				slog.String("deviceID", e.Stoppage.DeviceID),
				slog.String("stoppageID", e.Stoppage.ID),
				slog.String("event", e.Kind.String()))
			continue
		}
		if l.notify != nil {
			l.notify(e)
		}
	}
}

func (l *Lanes) laneFor(deviceID string) *lane {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return l.lanes[int(h.Sum32())%len(l.lanes)]
}
