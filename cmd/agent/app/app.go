package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/scorypto/innovriddhi-location-server/internal/location"
	"github.com/scorypto/innovriddhi-location-server/internal/queue"
	"github.com/scorypto/innovriddhi-location-server/internal/rollout"
	"github.com/scorypto/innovriddhi-location-server/internal/sampler"
	"github.com/scorypto/innovriddhi-location-server/internal/track"
	"github.com/scorypto/innovriddhi-location-server/internal/transport"
)

// Run captures positions, persists them to the offline queue and
// publishes them until the context is cancelled. On shutdown it spends
// the configured flush budget draining what is left in the queue.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	var queueOptions []func(*queue.Queue)
	if config.Queue.Capacity > 0 {
		queueOptions = append(queueOptions, queue.WithCapacity(config.Queue.Capacity))
	}

	q, err := queue.New(config.Queue.DBPath, queueOptions...)
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}
	defer q.Close()

	publisher := createPublisher(q, config, logger)

	provider, err := createProvider(config)
	if err != nil {
		return err
	}

	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		publisher.Run(ctx)
	}()

	captureLoop(ctx, config.Device.ID, provider, q, logger)

	<-publisherDone

	// The context is gone; drain what we can on a fresh one.
	flushed := publisher.Flush(context.Background(), config.Delivery.FlushBudget.Std())

	left, lenErr := q.Len(context.Background())
	if lenErr != nil {
		logger.Error(fmt.Sprintf("reading queue length: %s", lenErr))
	}

	stats := publisher.Stats()
	logger.Info("shutdown summary",
		slog.String("published", humanize.Comma(int64(stats.Published))),
		slog.String("flushed", humanize.Comma(int64(flushed))),
		slog.String("queued", humanize.Comma(int64(left))),
		slog.String("dropped", humanize.Comma(int64(q.Drops()))),
		slog.Uint64("deadLettered", stats.DeadLettered))

	return nil
}

// createPublisher wires the two transports in the mode the rollout
// assigns to this device. Devices outside the rollout percentage stay
// on the legacy broker alone.
func createPublisher(q *queue.Queue, config *Config, logger *slog.Logger) *transport.Publisher {
	mode, _ := transport.ParseMode(config.Delivery.Mode)
	if !rollout.Enabled(config.Device.ID, config.Delivery.RolloutPercent) {
		mode = transport.ModeLegacyOnly
	}

	var primary, legacy transport.Transport
	if config.Delivery.PrimaryEndpoint != "" {
		primary = transport.NewHTTPTransport(config.Delivery.PrimaryEndpoint)
	}
	if config.Delivery.LegacyEndpoint != "" {
		legacy = transport.NewLegacyTransport(config.Delivery.LegacyEndpoint)
	}

	logger.Info("delivery mode selected",
		slog.String("mode", mode.String()),
		slog.Int("rolloutPercent", config.Delivery.RolloutPercent))

	options := []func(*transport.Publisher){
		transport.WithLogger(logger),
		transport.WithDeadLetter(transport.NewLogDeadLetter(logger)),
	}
	if config.Delivery.MaxAttempts > 0 {
		options = append(options, transport.WithMaxAttempts(config.Delivery.MaxAttempts))
	}

	return transport.NewPublisher(q, primary, legacy, mode, options...)
}

func createProvider(config *Config) (location.Provider, error) {
	if config.Simulate == nil {
		return nil, fmt.Errorf("no location source configured: a simulate block is required")
	}
	return location.NewSimulator(config.Simulate.Latitude, config.Simulate.Longitude, config.Simulate.Seed), nil
}

// captureLoop polls the provider at the cadence the sampler picks for
// the current battery and speed. Positions that moved less than the
// active distance filter are skipped to save power and queue space.
func captureLoop(ctx context.Context, deviceID string, provider location.Provider, q *queue.Queue, logger *slog.Logger) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	var last *location.Position

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		pos := provider.Get()
		spec := sampler.Spec(pos.BatteryPct, pos.Charging, pos.SpeedMPS)
		timer.Reset(spec.MinInterval)

		if pos.Timestamp.IsZero() {
			continue
		}
		if last != nil && spec.MinDistanceFilter > 0 {
			moved := track.Haversine(last.Latitude, last.Longitude, pos.Latitude, pos.Longitude)
			if moved < spec.MinDistanceFilter {
				continue
			}
		}

		seq, err := q.NextSequence(ctx, deviceID)
		if err != nil {
			logger.Error(fmt.Sprintf("allocating sequence: %s", err))
			continue
		}

		sample := track.LocationSample{
			DeviceID:   deviceID,
			SequenceNo: seq,
			Timestamp:  pos.Timestamp,
			Latitude:   pos.Latitude,
			Longitude:  pos.Longitude,
			AccuracyM:  pos.AccuracyM,
			SpeedMPS:   pos.SpeedMPS,
			Heading:    pos.Heading,
			BatteryPct: pos.BatteryPct,
			Charging:   pos.Charging,
		}
		if err = q.Enqueue(ctx, sample); err != nil {
			logger.Error(fmt.Sprintf("enqueueing sample: %s", err),
				slog.Uint64("sequenceNo", seq))
			continue
		}

		last = pos
	}
}
