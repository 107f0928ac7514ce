package location

import "time"

// Provider supplies the most recent device position and power state. The
// real implementation sits on top of the platform location service; tests
// and the bundled simulator implement it directly.
type Provider interface {
	Get() *Position
}

// Position is a raw positioning fix before it is turned into a
// LocationSample by the capture loop.
type Position struct {
	Timestamp  time.Time
	Latitude   float64
	Longitude  float64
	AccuracyM  float64
	SpeedMPS   float64
	Heading    float64
	BatteryPct int
	Charging   bool
}
