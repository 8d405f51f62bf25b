package bikepoint

import "testing"

func TestParseMetric(t *testing.T) {
	tests := []struct {
		input   string
		want    Metric
		wantErr bool
	}{
		{"bikes", MetricBikes, false},
		{"ebikes", MetricEBikes, false},
		{"docks", MetricDocks, false},
		{"", "", true},
		{"Bikes", "", true},
		{"slots", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMetric(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMetric(%q): expected error, got %q", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMetric(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMetric(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestMetric_Value(t *testing.T) {
	c := Counts{Bikes: 3, EBikes: 1, Docks: 7}

	tests := []struct {
		metric Metric
		want   int
	}{
		{MetricBikes, 3},
		{MetricEBikes, 1},
		{MetricDocks, 7},
		{Metric("bogus"), 0},
	}

	for _, tt := range tests {
		if got := tt.metric.Value(c); got != tt.want {
			t.Errorf("%s.Value(%+v) = %d, want %d", tt.metric, c, got, tt.want)
		}
	}
}

// TestMetric_Label verifies singular/plural selection: the label is singular
// only when the count is exactly 1.
func TestMetric_Label(t *testing.T) {
	tests := []struct {
		metric Metric
		n      int
		want   string
	}{
		{MetricBikes, 1, "bike"},
		{MetricBikes, 0, "bikes"},
		{MetricBikes, 2, "bikes"},
		{MetricEBikes, 1, "e-bike"},
		{MetricEBikes, 5, "e-bikes"},
		{MetricDocks, 1, "dock"},
		{MetricDocks, 12, "docks"},
	}

	for _, tt := range tests {
		if got := tt.metric.Label(tt.n); got != tt.want {
			t.Errorf("%s.Label(%d) = %q, want %q", tt.metric, tt.n, got, tt.want)
		}
	}
}

func TestCounts_Equality(t *testing.T) {
	a := Counts{Bikes: 2, EBikes: 1, Docks: 4}
	b := Counts{Bikes: 2, EBikes: 1, Docks: 4}
	c := Counts{Bikes: 2, EBikes: 1, Docks: 5}

	if a != b {
		t.Error("identical counts should compare equal")
	}
	if a == c {
		t.Error("counts differing in one counter should not compare equal")
	}
}
