package alert

import (
	"testing"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/bikepoint"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		metric    bikepoint.Metric
		previous  int
		current   int
		threshold int
		want      string
		wantFire  bool
	}{
		{
			name:     "no change",
			metric:   bikepoint.MetricBikes,
			previous: 5, current: 5, threshold: 3,
		},
		{
			name:     "dropped below threshold",
			metric:   bikepoint.MetricBikes,
			previous: 5, current: 2, threshold: 3,
			want:     "⚠️ Dock A only has 2 bikes available",
			wantFire: true,
		},
		{
			name:     "hit zero under threshold",
			metric:   bikepoint.MetricBikes,
			previous: 2, current: 0, threshold: 3,
			want:     "‼️ Dock A now has no bikes available",
			wantFire: true,
		},
		{
			name:     "rose but still under threshold",
			metric:   bikepoint.MetricBikes,
			previous: 0, current: 2, threshold: 3,
			want:     "✅ Dock A now has 2 bikes available",
			wantFire: true,
		},
		{
			name:     "no threshold and no zero crossing",
			metric:   bikepoint.MetricBikes,
			previous: 2, current: 3, threshold: 0,
		},
		{
			name:     "recovered past threshold",
			metric:   bikepoint.MetricBikes,
			previous: 2, current: 5, threshold: 3,
			want:     "✅ Dock A now has 5 bikes available",
			wantFire: true,
		},
		{
			name:     "recovered to exactly threshold",
			metric:   bikepoint.MetricBikes,
			previous: 2, current: 3, threshold: 3,
			want:     "✅ Dock A now has 3 bikes available",
			wantFire: true,
		},
		{
			name:     "decrease above threshold stays quiet",
			metric:   bikepoint.MetricBikes,
			previous: 5, current: 3, threshold: 3,
		},
		{
			name:     "zero crossing fires without threshold",
			metric:   bikepoint.MetricBikes,
			previous: 2, current: 0, threshold: 0,
			want:     "‼️ Dock A no longer has any bikes",
			wantFire: true,
		},
		{
			name:     "recovery from zero fires without threshold",
			metric:   bikepoint.MetricBikes,
			previous: 0, current: 4, threshold: 0,
			want:     "✅ Dock A now has 4 bikes available",
			wantFire: true,
		},
		{
			name:     "singular label at one",
			metric:   bikepoint.MetricBikes,
			previous: 3, current: 1, threshold: 2,
			want:     "⚠️ Dock A only has 1 bike available",
			wantFire: true,
		},
		{
			name:     "ebikes zero crossing",
			metric:   bikepoint.MetricEBikes,
			previous: 1, current: 0, threshold: 0,
			want:     "‼️ Dock A no longer has any e-bikes",
			wantFire: true,
		},
		{
			name:     "docks under threshold increase",
			metric:   bikepoint.MetricDocks,
			previous: 1, current: 2, threshold: 4,
			want:     "✅ Dock A now has 2 docks available",
			wantFire: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fired := Evaluate("Dock A", tt.metric, tt.previous, tt.current, tt.threshold)
			if fired != tt.wantFire {
				t.Fatalf("fired = %v, want %v (message %q)", fired, tt.wantFire, got)
			}
			if got != tt.want {
				t.Errorf("message = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestEvaluate_Pure verifies repeated evaluation with identical inputs
// yields identical output.
func TestEvaluate_Pure(t *testing.T) {
	first, _ := Evaluate("Dock B", bikepoint.MetricBikes, 5, 2, 3)
	for i := 0; i < 10; i++ {
		got, fired := Evaluate("Dock B", bikepoint.MetricBikes, 5, 2, 3)
		if !fired || got != first {
			t.Fatalf("iteration %d: got %q (fired=%v), want %q", i, got, fired, first)
		}
	}
}
