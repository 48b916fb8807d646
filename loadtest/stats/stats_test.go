package stats

import (
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	var ds []time.Duration
	for i := 1; i <= 100; i++ {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}

	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0.50, 50 * time.Millisecond},
		{0.95, 95 * time.Millisecond},
		{0.99, 99 * time.Millisecond},
		{1.00, 100 * time.Millisecond},
		{0.001, 1 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := Percentile(ds, tt.p); got != tt.want {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}

	if got := Percentile(nil, 0.5); got != 0 {
		t.Errorf("Percentile(nil) = %v, want 0", got)
	}
}

func TestParseMetricLine(t *testing.T) {
	tests := []struct {
		line  string
		name  string
		value float64
		ok    bool
	}{
		{"stranger_active_chats 3", "stranger_active_chats", 3, true},
		{`stranger_messages_total{type="relayed"} 42`, "stranger_messages_total", 42, true},
		{"stranger_match_wait_seconds_sum 1.5e-3", "stranger_match_wait_seconds_sum", 0.0015, true},
		{`broken{type="x" 1`, "", 0, false},
		{"lonely", "", 0, false},
	}
	for _, tt := range tests {
		name, value, ok := parseMetricLine(tt.line)
		if ok != tt.ok || name != tt.name || value != tt.value {
			t.Errorf("parseMetricLine(%q) = (%q, %v, %v), want (%q, %v, %v)",
				tt.line, name, value, ok, tt.name, tt.value, tt.ok)
		}
	}
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.AddConnect(time.Millisecond)
	c.AddConnect(2 * time.Millisecond)
	c.AddPair(time.Millisecond)
	c.AddError()
	c.AddRateLimited(2)

	if c.ConnectionCount() != 2 || c.PairCount() != 1 || c.ErrorCount() != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", c.ConnectionCount(), c.PairCount(), c.ErrorCount())
	}
}
