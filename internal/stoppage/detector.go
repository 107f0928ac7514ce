// Package stoppage turns filtered location samples into Stoppage records
// through a per-device state machine: MOVING, CANDIDATE_STOP,
// CONFIRMED_STOP. Each device's transitions are strictly ordered because
// all of its samples are processed by a single lane.
package stoppage

import (
	"time"

	"github.com/scorypto/innovriddhi-location-server/internal/drift"
	"github.com/scorypto/innovriddhi-location-server/internal/track"
)

const (
	// EventConfirmed announces a newly confirmed stoppage.
	EventConfirmed EventKind = iota

	// EventExtended announces that an open stoppage grew.
	EventExtended

	// EventClosed announces a finalized stoppage.
	EventClosed
)

// Defaults for the state machine thresholds.
const (
	DefaultMinStopDuration  = 5 * time.Minute
	DefaultDebounceCount    = 3
	DefaultInactivityWindow = 2 * time.Hour
)

// EventKind names a stoppage lifecycle transition.
type EventKind int

func (k EventKind) String() string {
	switch k {
	case EventConfirmed:
		return "confirmed"
	case EventExtended:
		return "extended"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a stoppage transition to be applied to the external sink.
// The stoppage is copied so events can cross goroutines safely.
type Event struct {
	Kind     EventKind
	Stoppage track.Stoppage
}

// Config holds the detector thresholds. Zero values fall back to
// defaults.
type Config struct {
	MinStopDuration  time.Duration
	DebounceCount    int
	InactivityWindow time.Duration
}

// Detector is the stoppage state machine. It is stateless across
// devices; all mutable state lives in the DeviceState passed in.
type Detector struct {
	filter *drift.Filter
	cfg    Config
}

// New creates a Detector over the drift filter, filling unset thresholds
// with defaults.
func New(filter *drift.Filter, cfg Config) *Detector {
	if cfg.MinStopDuration <= 0 {
		cfg.MinStopDuration = DefaultMinStopDuration
	}
	if cfg.DebounceCount <= 0 {
		cfg.DebounceCount = DefaultDebounceCount
	}
	if cfg.InactivityWindow <= 0 {
		cfg.InactivityWindow = DefaultInactivityWindow
	}
	return &Detector{filter: filter, cfg: cfg}
}

// InactivityWindow reports the configured silence window after which
// open state is force-closed.
func (d *Detector) InactivityWindow() time.Duration {
	return d.cfg.InactivityWindow
}

// Process runs one sample through the state machine and returns the
// stoppage transitions it caused. Transitions are idempotent on the
// sink: a redelivered cycle upserts the same stoppage ID with the same
// values.
func (d *Detector) Process(st *track.DeviceState, s *track.LocationSample) []Event {
	st.LastSampleAt = s.Timestamp

	switch d.filter.Apply(st, s) {
	case drift.VerdictLowConfidence, drift.VerdictDrift:
		// Excluded from stop decisions; drift never accumulates into
		// stop duration.
		return nil
	case drift.VerdictMoving:
		return d.onMoving(st)
	default:
		return d.onStopSignal(st, s)
	}
}

func (d *Detector) onMoving(st *track.DeviceState) []Event {
	switch st.Mode {
	case track.ModeCandidateStop:
		// Movement before confirmation discards the candidate; it was
		// never a stop.
		st.Mode = track.ModeMoving
		st.Anchor = nil
		st.CandidateRadiusM = 0
		return nil

	case track.ModeConfirmedStop:
		st.ConsecutiveMoving++
		if st.ConsecutiveMoving < d.cfg.DebounceCount {
			return nil
		}
		return d.closeStoppage(st, st.LastStationaryAt, true)

	default:
		return nil
	}
}

func (d *Detector) onStopSignal(st *track.DeviceState, s *track.LocationSample) []Event {
	switch st.Mode {
	case track.ModeMoving:
		st.Mode = track.ModeCandidateStop
		st.CandidateStart = s.Timestamp
		st.LastStationaryAt = s.Timestamp
		st.CandidateRadiusM = 0
		st.ConsecutiveMoving = 0
		st.Anchor = &track.Anchor{Latitude: s.Latitude, Longitude: s.Longitude, SetTime: s.Timestamp}
		return nil

	case track.ModeCandidateStop:
		dist := track.Haversine(st.Anchor.Latitude, st.Anchor.Longitude, s.Latitude, s.Longitude)
		if dist > d.filter.Radius() {
			// Displaced beyond the drift radius before confirmation:
			// the old candidate is discarded and a fresh one opens at
			// the new position.
			st.CandidateStart = s.Timestamp
			st.LastStationaryAt = s.Timestamp
			st.CandidateRadiusM = 0
			st.Anchor = &track.Anchor{Latitude: s.Latitude, Longitude: s.Longitude, SetTime: s.Timestamp}
			return nil
		}

		st.LastStationaryAt = s.Timestamp
		st.CandidateRadiusM = max(st.CandidateRadiusM, dist)

		if s.Timestamp.Sub(st.CandidateStart) < d.cfg.MinStopDuration {
			return nil
		}

		st.Mode = track.ModeConfirmedStop
		st.Candidate = &track.Stoppage{
			ID:             track.StoppageID(st.DeviceID, st.CandidateStart),
			DeviceID:       st.DeviceID,
			StartTime:      st.CandidateStart,
			DurationS:      int64(s.Timestamp.Sub(st.CandidateStart).Seconds()),
			CenterLat:      st.Anchor.Latitude,
			CenterLon:      st.Anchor.Longitude,
			RadiusM:        st.CandidateRadiusM,
			Classification: track.ClassUnclassified,
		}
		return []Event{{Kind: EventConfirmed, Stoppage: *st.Candidate}}

	default: // ModeConfirmedStop
		dist := track.Haversine(st.Anchor.Latitude, st.Anchor.Longitude, s.Latitude, s.Longitude)
		if dist > d.filter.Radius() {
			// Slow creep away from the stop counts as movement evidence
			// toward the debounce exit.
			return d.onMoving(st)
		}

		st.ConsecutiveMoving = 0
		st.LastStationaryAt = s.Timestamp
		st.Candidate.DurationS = int64(s.Timestamp.Sub(st.Candidate.StartTime).Seconds())
		st.Candidate.RadiusM = max(st.Candidate.RadiusM, dist)
		return []Event{{Kind: EventExtended, Stoppage: *st.Candidate}}
	}
}

// CheckInactive force-closes open state for a device that has gone
// silent longer than the inactivity window. The device resets to MOVING
// so stale open stoppages never accumulate.
func (d *Detector) CheckInactive(st *track.DeviceState, now time.Time) []Event {
	if st.LastSampleAt.IsZero() || now.Sub(st.LastSampleAt) < d.cfg.InactivityWindow {
		return nil
	}

	switch st.Mode {
	case track.ModeCandidateStop:
		st.Mode = track.ModeMoving
		st.Anchor = nil
		st.CandidateRadiusM = 0
		return nil

	case track.ModeConfirmedStop:
		return d.closeStoppage(st, st.LastSampleAt, false)

	default:
		return nil
	}
}

// closeStoppage finalizes the open stoppage at end and resets the device
// to MOVING. When the device is still reporting (keepAnchor), the rest
// position is retained so post-stop GPS noise reads as drift instead of
// a phantom new stop.
func (d *Detector) closeStoppage(st *track.DeviceState, end time.Time, keepAnchor bool) []Event {
	stp := st.Candidate
	endCopy := end
	stp.EndTime = &endCopy
	stp.DurationS = int64(end.Sub(stp.StartTime).Seconds())
	stp.Finalized = true

	ev := Event{Kind: EventClosed, Stoppage: *stp}

	st.Mode = track.ModeMoving
	st.Candidate = nil
	st.ConsecutiveMoving = 0
	st.CandidateRadiusM = 0
	if keepAnchor {
		st.Anchor = &track.Anchor{Latitude: stp.CenterLat, Longitude: stp.CenterLon, SetTime: end}
	} else {
		st.Anchor = nil
	}

	return []Event{ev}
}
