package sampler

import (
	"testing"
	"time"
)

func TestSpec(t *testing.T) {
	testCases := []struct {
		name       string
		batteryPct int
		charging   bool
		speedMPS   float64
		want       SampleSpec
	}{
		{
			name: "charging always best accuracy", batteryPct: 10, charging: true, speedMPS: 0,
			want: SampleSpec{Accuracy: TierBest, MinInterval: 5 * time.Second},
		},
		{
			name: "full battery driving", batteryPct: 90, speedMPS: 15, // 54 km/h
			want: SampleSpec{Accuracy: TierHigh, MinInterval: 5 * time.Second},
		},
		{
			name: "full battery walking", batteryPct: 90, speedMPS: 1.5, // 5.4 km/h
			want: SampleSpec{Accuracy: TierHigh, MinInterval: 10 * time.Second},
		},
		{
			name: "full battery stationary", batteryPct: 90, speedMPS: 0.3, // ~1 km/h
			want: SampleSpec{Accuracy: TierHigh, MinInterval: 30 * time.Second},
		},
		{
			name: "medium battery doubles interval", batteryPct: 35, speedMPS: 1.5,
			want: SampleSpec{Accuracy: TierMedium, MinInterval: 20 * time.Second},
		},
		{
			name: "medium battery lower bound", batteryPct: 20, speedMPS: 15,
			want: SampleSpec{Accuracy: TierMedium, MinInterval: 10 * time.Second},
		},
		{
			name: "low battery quadruples interval and filters distance", batteryPct: 10, speedMPS: 15,
			want: SampleSpec{Accuracy: TierLow, MinInterval: 20 * time.Second, MinDistanceFilter: 50},
		},
		{
			name: "low battery stationary", batteryPct: 5, speedMPS: 0,
			want: SampleSpec{Accuracy: TierLow, MinInterval: 2 * time.Minute, MinDistanceFilter: 50},
		},
		{
			name: "negative speed treated as stationary", batteryPct: 90, speedMPS: -1,
			want: SampleSpec{Accuracy: TierHigh, MinInterval: 30 * time.Second},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Spec(tc.batteryPct, tc.charging, tc.speedMPS)
			if got != tc.want {
				t.Errorf("Spec(%d, %t, %.1f) = %+v, want %+v",
					tc.batteryPct, tc.charging, tc.speedMPS, got, tc.want)
			}
		})
	}
}
