package rollout

import (
	"fmt"
	"testing"
)

func TestEnabled_Deterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("dev-%03d", i)
		first := Enabled(id, 50)
		for j := 0; j < 5; j++ {
			if Enabled(id, 50) != first {
				t.Fatalf("rollout decision for %s is not stable", id)
			}
		}
	}
}

func TestEnabled_Bounds(t *testing.T) {
	if Enabled("dev-001", 0) {
		t.Error("0% rollout must enable no devices")
	}
	if Enabled("dev-001", -5) {
		t.Error("negative percentage must enable no devices")
	}
	if !Enabled("dev-001", 100) {
		t.Error("100% rollout must enable every device")
	}
	if !Enabled("dev-001", 150) {
		t.Error("percentages above 100 behave as 100")
	}
}

func TestEnabled_Monotonic(t *testing.T) {
	// A device enabled at p% must stay enabled at every higher
	// percentage, otherwise widening a rollout would flap devices.
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("dev-%03d", i)
		enabledAt := -1
		for p := 0; p <= 100; p++ {
			if Enabled(id, p) {
				enabledAt = p
				break
			}
		}
		if enabledAt == -1 {
			t.Fatalf("device %s never enabled", id)
		}
		for p := enabledAt; p <= 100; p++ {
			if !Enabled(id, p) {
				t.Fatalf("device %s enabled at %d%% but not at %d%%", id, enabledAt, p)
			}
		}
	}
}

func TestEnabled_RoughlyProportional(t *testing.T) {
	const n = 2000
	var enabled int
	for i := 0; i < n; i++ {
		if Enabled(fmt.Sprintf("device-%05d", i), 30) {
			enabled++
		}
	}

	// fnv distributes well; allow a generous band around 30%.
	if enabled < n*20/100 || enabled > n*40/100 {
		t.Errorf("expected ~30%% of %d devices enabled, got %d", n, enabled)
	}
}
