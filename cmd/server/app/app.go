package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/scorypto/innovriddhi-location-server/internal/drift"
	"github.com/scorypto/innovriddhi-location-server/internal/feed"
	"github.com/scorypto/innovriddhi-location-server/internal/gateway"
	"github.com/scorypto/innovriddhi-location-server/internal/stoppage"
	"github.com/scorypto/innovriddhi-location-server/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Run wires the store, the processing lanes, the live feed and the HTTP
// gateway together and serves until the context is cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	store := storage.NewSqliteStore(config.Storage.DBPath)
	defer store.Close()

	filter := drift.New(drift.Config{
		SpeedThresholdMPS:  config.Detection.DriftSpeedKPH / 3.6,
		AccuracyThresholdM: config.Detection.AccuracyThresholdM,
		RadiusM:            config.Detection.DriftRadiusM,
		TimeWindow:         config.Detection.DriftWindow.Std(),
	})
	detector := stoppage.New(filter, stoppage.Config{
		MinStopDuration:  config.Detection.MinStopDuration.Std(),
		DebounceCount:    config.Detection.DebounceCount,
		InactivityWindow: config.Detection.InactivityWindow.Std(),
	})

	hub := feed.NewHub(feed.WithHubLogger(logger))
	go hub.Run(ctx)

	laneOptions := []func(*stoppage.Lanes){
		stoppage.WithLaneLogger(logger),
		stoppage.WithNotifier(hub.Publish),
	}
	if config.Detection.SweepInterval > 0 {
		laneOptions = append(laneOptions, stoppage.WithSweepInterval(config.Detection.SweepInterval.Std()))
	}
	lanes := stoppage.NewLanes(detector, store, config.Detection.Lanes, laneOptions...)

	lanesDone := make(chan struct{})
	go func() {
		defer close(lanesDone)
		lanes.Run(ctx)
	}()

	gw := gateway.New(lanes, store, gateway.Config{
		SequenceGrace:   config.Ingestion.SequenceGrace,
		ClockSkew:       config.Ingestion.ClockSkew.Std(),
		DedupWindow:     config.Ingestion.DedupWindow.Std(),
		DedupMaxEntries: config.Ingestion.DedupMaxEntries,
	}, gateway.WithGatewayLogger(logger))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz"
		},
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status))
			return nil
		},
	}))
	e.Use(middleware.Recover())

	gateway.NewHandler(gw, store, hub).Register(e)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", config.Settings.ListenAddr))
		serveErr <- e.Start(config.Settings.ListenAddr)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error(fmt.Sprintf("shutting down server: %s", err))
	}

	// Lanes drain their backlog once the context is cancelled; wait so
	// accepted samples reach the store before it closes.
	select {
	case <-lanesDone:
	case <-shutdownCtx.Done():
		logger.Warn("lanes did not drain before shutdown deadline")
	}

	stats := gw.Stats()
	logger.Info("ingestion totals",
		slog.Uint64("accepted", stats.Accepted),
		slog.Uint64("duplicates", stats.Duplicates),
		slog.Uint64("stale", stats.Stale),
		slog.Uint64("rejected", stats.Rejected))

	return nil
}
