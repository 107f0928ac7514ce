package drift

import (
	"testing"
	"time"

	"github.com/scorypto/innovriddhi-location-server/internal/track"
)

const (
	baseLat = -33.8688
	baseLon = 151.2093
)

func slowSample(ts time.Time, lat, lon float64) *track.LocationSample {
	return &track.LocationSample{
		DeviceID:  "dev-001",
		Timestamp: ts,
		Latitude:  lat,
		Longitude: lon,
		AccuracyM: 10,
		SpeedMPS:  0.05, // 0.18 km/h
	}
}

func TestApply_LowAccuracyExcluded(t *testing.T) {
	f := New(Config{})
	st := track.NewDeviceState("dev-001")

	s := slowSample(time.Now(), baseLat, baseLon)
	s.AccuracyM = 150

	if got := f.Apply(st, s); got != VerdictLowConfidence {
		t.Errorf("expected low_confidence for 150m accuracy, got %s", got)
	}
}

func TestApply_FastSampleIsMoving(t *testing.T) {
	f := New(Config{})
	st := track.NewDeviceState("dev-001")

	s := slowSample(time.Now(), baseLat, baseLon)
	s.SpeedMPS = 4.2 // ~15 km/h

	if got := f.Apply(st, s); got != VerdictMoving {
		t.Errorf("expected moving, got %s", got)
	}
}

func TestApply_NoAnchorSlowSampleIsStopSignal(t *testing.T) {
	f := New(Config{})
	st := track.NewDeviceState("dev-001")

	if got := f.Apply(st, slowSample(time.Now(), baseLat, baseLon)); got != VerdictStopSignal {
		t.Errorf("expected stop_signal with no anchor, got %s", got)
	}
}

func TestApply_DriftNearRetainedAnchor(t *testing.T) {
	f := New(Config{})
	now := time.Now()

	st := track.NewDeviceState("dev-001")
	st.Anchor = &track.Anchor{Latitude: baseLat, Longitude: baseLon, SetTime: now.Add(-10 * time.Minute)}

	// ~11m from the anchor, well inside the 25m drift radius.
	s := slowSample(now, baseLat+0.0001, baseLon)
	if got := f.Apply(st, s); got != VerdictDrift {
		t.Fatalf("expected drift near retained anchor, got %s", got)
	}

	// Drift refreshes the anchor timestamp but never its position.
	if !st.Anchor.SetTime.Equal(now) {
		t.Errorf("expected anchor timestamp refreshed to sample time, got %s", st.Anchor.SetTime)
	}
	if st.Anchor.Latitude != baseLat || st.Anchor.Longitude != baseLon {
		t.Error("anchor position must not move on drift")
	}
}

func TestApply_BeyondDriftRadiusIsStopSignal(t *testing.T) {
	f := New(Config{})
	now := time.Now()

	st := track.NewDeviceState("dev-001")
	st.Anchor = &track.Anchor{Latitude: baseLat, Longitude: baseLon, SetTime: now.Add(-10 * time.Minute)}

	// ~33m from the anchor: outside the radius, a genuine new stop.
	s := slowSample(now, baseLat+0.0003, baseLon)
	if got := f.Apply(st, s); got != VerdictStopSignal {
		t.Errorf("expected stop_signal beyond drift radius, got %s", got)
	}
}

func TestApply_ExpiredTimeWindowIsStopSignal(t *testing.T) {
	f := New(Config{})
	now := time.Now()

	st := track.NewDeviceState("dev-001")
	st.Anchor = &track.Anchor{Latitude: baseLat, Longitude: baseLon, SetTime: now.Add(-45 * time.Minute)}

	s := slowSample(now, baseLat, baseLon)
	if got := f.Apply(st, s); got != VerdictStopSignal {
		t.Errorf("expected stop_signal after drift window expiry, got %s", got)
	}
}

func TestApply_OpenStopContinuationNotDrift(t *testing.T) {
	f := New(Config{})
	now := time.Now()

	// While a candidate is open, a slow sample at the anchor is a
	// continuation signal for the detector, not drift.
	st := track.NewDeviceState("dev-001")
	st.Mode = track.ModeCandidateStop
	st.Anchor = &track.Anchor{Latitude: baseLat, Longitude: baseLon, SetTime: now.Add(-2 * time.Minute)}

	if got := f.Apply(st, slowSample(now, baseLat, baseLon)); got != VerdictStopSignal {
		t.Errorf("expected stop_signal during open candidate, got %s", got)
	}
}

func TestApply_DriftStreamSuppressedWithinWindow(t *testing.T) {
	f := New(Config{})
	start := time.Now()

	// Device recently finished a rest here; scattered slow fixes keep
	// arriving for 35 minutes, each within 25m. Every one is drift: the
	// refreshed timestamp keeps the window alive.
	st := track.NewDeviceState("dev-001")
	st.Anchor = &track.Anchor{Latitude: baseLat, Longitude: baseLon, SetTime: start}

	offsets := []float64{0.00005, -0.00008, 0.0001, -0.00004, 0.00012, 0.00002, -0.0001}
	for i := 0; i < 35; i++ {
		ts := start.Add(time.Duration(i+1) * time.Minute)
		s := slowSample(ts, baseLat+offsets[i%len(offsets)], baseLon)
		if got := f.Apply(st, s); got != VerdictDrift {
			t.Fatalf("sample %d: expected drift, got %s", i, got)
		}
	}
}
