package activity

import (
	"testing"
	"time"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/bikepoint"
)

func TestEffectiveExpiry(t *testing.T) {
	startedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		declared   time.Duration
		hardStopAt time.Time
		want       time.Time
	}{
		{
			name:       "declared expiry wins when shortest",
			declared:   30 * time.Minute,
			hardStopAt: startedAt.Add(2 * time.Hour),
			want:       startedAt.Add(30 * time.Minute),
		},
		{
			name:       "hard stop wins when shortest",
			declared:   90 * time.Minute,
			hardStopAt: startedAt.Add(45 * time.Minute),
			want:       startedAt.Add(45 * time.Minute),
		},
		{
			name:       "global ceiling caps an oversized declaration",
			declared:   100000 * time.Second,
			hardStopAt: startedAt.Add(100000 * time.Second),
			want:       startedAt.Add(7200 * time.Second),
		},
		{
			name:       "declared exactly at the ceiling",
			declared:   2 * time.Hour,
			hardStopAt: startedAt.Add(3 * time.Hour),
			want:       startedAt.Add(2 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := effectiveExpiry(startedAt, tt.declared, tt.hardStopAt)
			if !got.Equal(tt.want) {
				t.Errorf("effectiveExpiry = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestEffectiveExpiry_NeverExceedsCutoff sweeps declared expiries and
// hard stops to confirm the global ceiling always holds.
func TestEffectiveExpiry_NeverExceedsCutoff(t *testing.T) {
	startedAt := time.Now()
	ceiling := startedAt.Add(hardSessionCutoff)

	for _, declared := range []time.Duration{time.Minute, time.Hour, 3 * time.Hour, 1000 * time.Hour} {
		for _, window := range []time.Duration{time.Hour, 2 * time.Hour, 48 * time.Hour} {
			got := effectiveExpiry(startedAt, declared, startedAt.Add(window))
			if got.After(ceiling) {
				t.Errorf("declared=%v window=%v: expiry %v exceeds ceiling %v", declared, window, got, ceiling)
			}
		}
	}
}

func TestSubscription_ExpiresAt(t *testing.T) {
	now := time.Now()
	sub := &Subscription{
		StartedAt:      now,
		DeclaredExpiry: 10 * time.Minute,
		HardStopAt:     now.Add(2 * time.Hour),
	}
	if got, want := sub.ExpiresAt(), now.Add(10*time.Minute); !got.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", got, want)
	}
}

func TestSubscription_Threshold(t *testing.T) {
	sub := &Subscription{
		PrimaryMetric: bikepoint.MetricEBikes,
		Thresholds: map[bikepoint.Metric]int{
			bikepoint.MetricBikes:  3,
			bikepoint.MetricEBikes: 2,
		},
	}
	if got := sub.Threshold(); got != 2 {
		t.Errorf("Threshold = %d, want 2", got)
	}

	sub.PrimaryMetric = bikepoint.MetricDocks
	if got := sub.Threshold(); got != 0 {
		t.Errorf("Threshold for unset metric = %d, want 0", got)
	}

	bare := &Subscription{PrimaryMetric: bikepoint.MetricBikes}
	if got := bare.Threshold(); got != 0 {
		t.Errorf("Threshold with nil map = %d, want 0", got)
	}
}

func TestStartParams_Validate(t *testing.T) {
	valid := StartParams{DockID: "BikePoints_1", PushToken: "tok"}
	if err := valid.validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}

	tests := []struct {
		name   string
		params StartParams
	}{
		{"missing dock id", StartParams{PushToken: "tok"}},
		{"missing push token", StartParams{DockID: "BikePoints_1"}},
		{
			"too many alternates",
			StartParams{
				DockID:     "BikePoints_1",
				PushToken:  "tok",
				Alternates: make([]bikepoint.Alternate, bikepoint.MaxAlternates+1),
			},
		},
		{
			"negative threshold",
			StartParams{
				DockID:     "BikePoints_1",
				PushToken:  "tok",
				Thresholds: map[bikepoint.Metric]int{bikepoint.MetricBikes: -1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.params.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
