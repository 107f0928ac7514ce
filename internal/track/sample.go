package track

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"
)

var (
	// ErrEmptyDeviceID is returned when a sample carries no device identifier
	ErrEmptyDeviceID = errors.New("empty device ID")

	// ErrOutOfBounds is returned when latitude or longitude is outside valid geo bounds
	ErrOutOfBounds = errors.New("coordinates out of bounds")

	// ErrNegativeAccuracy is returned when a sample reports a negative accuracy radius
	ErrNegativeAccuracy = errors.New("negative accuracy")

	// ErrFutureTimestamp is returned when a sample timestamp exceeds the clock-skew tolerance
	ErrFutureTimestamp = errors.New("timestamp beyond clock-skew tolerance")

	// ErrBatteryOutOfRange is returned when the battery percentage is not within 0-100
	ErrBatteryOutOfRange = errors.New("battery percentage out of range")
)

// LocationSample is a single GPS telemetry reading emitted by a device.
// Samples are immutable once created; sequence numbers increase strictly
// per device and drive both deduplication and ordering on the server.
type LocationSample struct {
	DeviceID   string    `json:"deviceId" msgpack:"did"`
	SequenceNo uint64    `json:"sequenceNo" msgpack:"seq"`
	Timestamp  time.Time `json:"timestamp" msgpack:"ts"`
	Latitude   float64   `json:"latitude" msgpack:"lat"`
	Longitude  float64   `json:"longitude" msgpack:"lon"`
	AccuracyM  float64   `json:"accuracyM" msgpack:"acc"`
	SpeedMPS   float64   `json:"speedMps" msgpack:"spd"`
	Heading    float64   `json:"heading" msgpack:"hdg"`
	BatteryPct int       `json:"batteryPct" msgpack:"bat"`
	Charging   bool      `json:"charging" msgpack:"chg"`
}

// Validate checks field presence and ranges. A sample whose timestamp is
// ahead of now by more than skew is rejected; devices with badly wrong
// clocks must not poison stateful processing.
func (s *LocationSample) Validate(now time.Time, skew time.Duration) error {
	if s.DeviceID == "" {
		return ErrEmptyDeviceID
	}
	if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("%w: lat=%f, lon=%f", ErrOutOfBounds, s.Latitude, s.Longitude)
	}
	if s.AccuracyM < 0 {
		return fmt.Errorf("%w: %f", ErrNegativeAccuracy, s.AccuracyM)
	}
	if s.Timestamp.After(now.Add(skew)) {
		return fmt.Errorf("%w: %s", ErrFutureTimestamp, s.Timestamp.Format(time.RFC3339))
	}
	if s.BatteryPct < 0 || s.BatteryPct > 100 {
		return fmt.Errorf("%w: %d", ErrBatteryOutOfRange, s.BatteryPct)
	}
	return nil
}

// Speed returns the reported speed with negative readings clamped to zero.
// Some GPS chipsets report -1 when no fix-derived speed is available.
func (s *LocationSample) Speed() float64 {
	if s.SpeedMPS < 0 {
		return 0
	}
	return s.SpeedMPS
}

// IdempotencyToken derives the deterministic delivery token for a device
// sample. Redelivered messages carry the same token, so the server-side
// dedup store recognises them without comparing payloads.
func IdempotencyToken(deviceID string, sequenceNo uint64) string {
	h := fnv.New64a()
	h.Write([]byte(deviceID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatUint(sequenceNo, 10)))
	return hex.EncodeToString(h.Sum(nil))
}
