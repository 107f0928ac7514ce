package track

import (
	"encoding/hex"
	"hash/fnv"
	"strconv"
	"time"
)

const (
	ClassUnclassified   StoppageClass = "unclassified"
	ClassCandidateVisit StoppageClass = "candidate_visit"
	ClassBreak          StoppageClass = "break"
	ClassDriftDiscarded StoppageClass = "drift_discarded"
)

// StoppageClass is the classification of a finalized stoppage. The
// detector always emits ClassUnclassified; visit/break assignment is the
// job of a downstream geofence lookup.
type StoppageClass string

// Stoppage is a detected stationary period for a device. The record is
// created when a candidate stop is confirmed and then extended on every
// further stationary sample until movement resumes or the device goes
// silent. EndTime is nil while the stoppage is still open.
type Stoppage struct {
	ID             string        `json:"id"`
	DeviceID       string        `json:"deviceId"`
	StartTime      time.Time     `json:"startTime"`
	EndTime        *time.Time    `json:"endTime,omitempty"`
	DurationS      int64         `json:"durationS"`
	CenterLat      float64       `json:"centerLat"`
	CenterLon      float64       `json:"centerLon"`
	RadiusM        float64       `json:"radiusM"`
	Classification StoppageClass `json:"classification"`
	Finalized      bool          `json:"finalized"`
}

// StoppageID derives the stable identifier used to key upserts in the
// external sink. A stoppage that is extended repeatedly always maps to
// the same row.
func StoppageID(deviceID string, startTime time.Time) string {
	h := fnv.New64a()
	h.Write([]byte(deviceID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(startTime.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}
