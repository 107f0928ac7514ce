package track

import "time"

const (
	ModeMoving Mode = iota
	ModeCandidateStop
	ModeConfirmedStop
)

// Mode is the per-device position of the stoppage state machine.
type Mode int

func (m Mode) String() string {
	switch m {
	case ModeMoving:
		return "MOVING"
	case ModeCandidateStop:
		return "CANDIDATE_STOP"
	case ModeConfirmedStop:
		return "CONFIRMED_STOP"
	default:
		return "UNKNOWN"
	}
}

// Anchor is the last position believed to represent genuine rest. It is
// the reference point for drift-distance checks and for deciding whether
// a near-stationary sample continues the current stop.
type Anchor struct {
	Latitude  float64
	Longitude float64
	SetTime   time.Time
}

// DeviceState is the transient per-device processing state. It is owned
// exclusively by a single processing lane; no locking is required as long
// as all samples for a device land on the same lane.
type DeviceState struct {
	DeviceID string
	Mode     Mode

	Anchor    *Anchor
	Candidate *Stoppage // open candidate or confirmed stoppage

	CandidateStart   time.Time
	LastSampleAt     time.Time
	LastStationaryAt time.Time

	// CandidateRadiusM tracks the widest displacement from the anchor
	// seen while the candidate was forming; it seeds the stoppage radius.
	CandidateRadiusM float64

	ConsecutiveMoving int
}

// NewDeviceState returns the initial state for a device: MOVING with no
// anchor and no open candidate.
func NewDeviceState(deviceID string) *DeviceState {
	return &DeviceState{DeviceID: deviceID, Mode: ModeMoving}
}
