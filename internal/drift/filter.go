// Package drift separates genuine rest from GPS noise. A stationary
// receiver wanders: successive fixes scatter around the true position,
// which reads as phantom micro-movement and, worse, as phantom new stops
// right after a real stop ended. The filter anchors on the last accepted
// resting point and classifies near-anchor, near-zero-speed samples
// inside the time window as drift.
package drift

import (
	"time"

	"github.com/scorypto/innovriddhi-location-server/internal/track"
)

const (
	// VerdictLowConfidence excludes the sample from stop and drift
	// decisions entirely: the fix is too inaccurate to trust. The
	// sample still lands in the raw audit trail upstream.
	VerdictLowConfidence Verdict = iota

	// VerdictMoving marks a sample showing genuine movement.
	VerdictMoving

	// VerdictDrift marks positional noise around the current anchor.
	// Drift samples never accumulate into stop duration.
	VerdictDrift

	// VerdictStopSignal marks a legitimate stop candidate or stop
	// continuation signal.
	VerdictStopSignal
)

// Default thresholds per the field rollout calibration.
const (
	DefaultSpeedThresholdMPS  = 0.5 / 3.6 // 0.5 km/h
	DefaultAccuracyThresholdM = 100.0
	DefaultRadiusM            = 25.0
	DefaultTimeWindow         = 30 * time.Minute
)

// Verdict is the filter's classification of a single sample.
type Verdict int

func (v Verdict) String() string {
	switch v {
	case VerdictLowConfidence:
		return "low_confidence"
	case VerdictMoving:
		return "moving"
	case VerdictDrift:
		return "drift"
	case VerdictStopSignal:
		return "stop_signal"
	default:
		return "unknown"
	}
}

// Config holds the filter thresholds. Zero values fall back to defaults.
type Config struct {
	SpeedThresholdMPS  float64
	AccuracyThresholdM float64
	RadiusM            float64
	TimeWindow         time.Duration
}

// Filter classifies samples against per-device anchors. The filter
// itself is stateless; anchors live in the DeviceState owned by the
// processing lane.
type Filter struct {
	cfg Config
}

// New creates a Filter, filling unset thresholds with defaults.
func New(cfg Config) *Filter {
	if cfg.SpeedThresholdMPS <= 0 {
		cfg.SpeedThresholdMPS = DefaultSpeedThresholdMPS
	}
	if cfg.AccuracyThresholdM <= 0 {
		cfg.AccuracyThresholdM = DefaultAccuracyThresholdM
	}
	if cfg.RadiusM <= 0 {
		cfg.RadiusM = DefaultRadiusM
	}
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = DefaultTimeWindow
	}
	return &Filter{cfg: cfg}
}

// SpeedThreshold exposes the stop/movement speed boundary so the
// detector and the filter agree on what "stationary" means.
func (f *Filter) SpeedThreshold() float64 { return f.cfg.SpeedThresholdMPS }

// Radius exposes the drift radius used for continuation checks.
func (f *Filter) Radius() float64 { return f.cfg.RadiusM }

// Apply classifies a sample against the device state. For a drift
// verdict the anchor's timestamp is refreshed in place; its position is
// deliberately left alone so noise cannot walk the anchor away from the
// true resting point.
func (f *Filter) Apply(st *track.DeviceState, s *track.LocationSample) Verdict {
	if s.AccuracyM >= f.cfg.AccuracyThresholdM {
		return VerdictLowConfidence
	}

	if s.Speed() >= f.cfg.SpeedThresholdMPS {
		return VerdictMoving
	}

	// A slow sample near a retained anchor while the device is between
	// stops is noise around the previous rest, not a new stop event.
	// While a candidate or confirmed stop is open the same geometry is a
	// continuation signal and is judged by the detector instead.
	if st.Mode == track.ModeMoving && st.Anchor != nil {
		dist := track.Haversine(st.Anchor.Latitude, st.Anchor.Longitude, s.Latitude, s.Longitude)
		if dist < f.cfg.RadiusM && s.Timestamp.Sub(st.Anchor.SetTime) < f.cfg.TimeWindow {
			st.Anchor.SetTime = s.Timestamp
			return VerdictDrift
		}
	}

	return VerdictStopSignal
}
