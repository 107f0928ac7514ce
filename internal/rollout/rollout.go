// Package rollout gates migration behaviour by device. The decision is a
// pure function of the device ID, so a given device always lands on the
// same side of a percentage rollout and test runs are reproducible.
package rollout

import "hash/fnv"

// Enabled reports whether the device falls inside the rollout
// percentage. percent is clamped to [0, 100].
func Enabled(deviceID string, percent int) bool {
	if percent <= 0 {
		return false
	}
	if percent >= 100 {
		return true
	}

	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return int(h.Sum32()%100) < percent
}
