package location

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	simAccuracyM    = 8.0
	simNoiseM       = 4.0
	metresPerDegLat = 111320.0
)

// Simulator is a deterministic random-walk Provider used by the agent
// when no real location service is available. It alternates between
// moving legs and stationary dwells so the full stop-detection path can
// be exercised end to end.
type Simulator struct {
	mu sync.Mutex

	rng *rand.Rand

	lat, lon float64
	heading  float64
	battery  int

	dwellUntil time.Time
	now        func() time.Time
}

// NewSimulator creates a Simulator starting at the given coordinates.
// The seed makes runs reproducible.
func NewSimulator(lat, lon float64, seed int64) *Simulator {
	return &Simulator{
		rng:     rand.New(rand.NewSource(seed)),
		lat:     lat,
		lon:     lon,
		battery: 100,
		now:     time.Now,
	}
}

// Get advances the walk by one step and returns the current position.
func (s *Simulator) Get() *Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	speed := 0.0

	if now.After(s.dwellUntil) {
		// One in twenty steps the walker stops for a few minutes.
		if s.rng.Intn(20) == 0 {
			s.dwellUntil = now.Add(time.Duration(3+s.rng.Intn(10)) * time.Minute)
		} else {
			speed = 1 + s.rng.Float64()*12 // 3.6 to ~47 km/h
			s.heading += (s.rng.Float64() - 0.5) * 30
			stepM := speed * 5 // assume ~5s between fixes
			s.lat += stepM * math.Cos(s.heading*math.Pi/180) / metresPerDegLat
			s.lon += stepM * math.Sin(s.heading*math.Pi/180) /
				(metresPerDegLat * math.Cos(s.lat*math.Pi/180))
		}
	}

	if s.battery > 5 && s.rng.Intn(50) == 0 {
		s.battery--
	}

	// GPS jitter applies whether moving or not.
	jitterLat := (s.rng.Float64() - 0.5) * 2 * simNoiseM / metresPerDegLat
	jitterLon := (s.rng.Float64() - 0.5) * 2 * simNoiseM /
		(metresPerDegLat * math.Cos(s.lat*math.Pi/180))

	return &Position{
		Timestamp:  now,
		Latitude:   s.lat + jitterLat,
		Longitude:  s.lon + jitterLon,
		AccuracyM:  simAccuracyM + s.rng.Float64()*10,
		SpeedMPS:   speed,
		Heading:    s.heading,
		BatteryPct: s.battery,
		Charging:   false,
	}
}
