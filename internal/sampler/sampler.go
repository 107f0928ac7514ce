// Package sampler decides how aggressively the agent samples GPS based
// on battery, charge state and recent speed. The decision only governs
// capture cadence on the device; it never feeds server-side stop logic.
package sampler

import "time"

const (
	TierBest   AccuracyTier = "best"
	TierHigh   AccuracyTier = "high"
	TierMedium AccuracyTier = "medium"
	TierLow    AccuracyTier = "low"
)

// Speed bands in m/s. 20 km/h and 2 km/h separate driving, walking and
// standing still.
const (
	fastSpeedMPS    = 20.0 / 3.6
	walkingSpeedMPS = 2.0 / 3.6
)

const lowBatteryDistanceFilterM = 50.0

// AccuracyTier selects the positioning accuracy requested from the OS
// location service.
type AccuracyTier string

// SampleSpec is the capture cadence decision for the next sampling window.
type SampleSpec struct {
	Accuracy          AccuracyTier
	MinInterval       time.Duration
	MinDistanceFilter float64 // metres; 0 disables the distance filter
}

// Spec returns the sampling cadence for the given battery level, charge
// state and most recent speed. Negative or otherwise invalid speed
// readings are treated as stationary.
func Spec(batteryPct int, charging bool, speedMPS float64) SampleSpec {
	if charging {
		return SampleSpec{Accuracy: TierBest, MinInterval: 5 * time.Second}
	}

	if speedMPS < 0 {
		speedMPS = 0
	}

	var base time.Duration
	switch {
	case speedMPS > fastSpeedMPS:
		base = 5 * time.Second
	case speedMPS >= walkingSpeedMPS:
		base = 10 * time.Second
	default:
		base = 30 * time.Second
	}

	switch {
	case batteryPct > 50:
		return SampleSpec{Accuracy: TierHigh, MinInterval: base}
	case batteryPct >= 20:
		return SampleSpec{Accuracy: TierMedium, MinInterval: base * 2}
	default:
		return SampleSpec{
			Accuracy:          TierLow,
			MinInterval:       base * 4,
			MinDistanceFilter: lowBatteryDistanceFilterM,
		}
	}
}
