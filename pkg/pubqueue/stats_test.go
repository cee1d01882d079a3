package pubqueue

import (
	"testing"
	"time"
)

func TestStatisticsEmptyQueue(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, okAdapter(), nil)

	st := e.Statistics()
	if st.Total != 0 {
		t.Fatalf("Total = %d, want 0", st.Total)
	}
	if st.SuccessRate != 100 {
		t.Fatalf("SuccessRate = %v, want 100 for empty queue", st.SuccessRate)
	}
	if st.QueueHealth != "excellent" {
		t.Fatalf("QueueHealth = %q, want excellent", st.QueueHealth)
	}
}

func TestHealthBuckets(t *testing.T) {
	t.Parallel()
	tests := []struct {
		rate float64
		want string
	}{
		{100, "excellent"},
		{90, "excellent"},
		{89.9, "good"},
		{75, "good"},
		{74.9, "warning"},
		{50, "warning"},
		{49.9, "critical"},
		{0, "critical"},
	}
	for _, tt := range tests {
		if got := healthFor(tt.rate); got != tt.want {
			t.Errorf("healthFor(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestStatisticsCountsAndPublishedToday(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, okAdapter(), func(c *Config) { c.Timezone = "UTC" })

	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	put := func(id string, status Status, publishedAt time.Time) {
		e.store.items[id] = &Item{
			ID:          id,
			Status:      status,
			PublishedAt: publishedAt,
			UpdatedAt:   fixed,
		}
	}
	put("pub-today", StatusPublished, fixed.Add(-time.Hour))
	put("pub-yesterday", StatusPublished, fixed.Add(-30*time.Hour))
	put("failed", StatusFailed, time.Time{})
	put("pending", StatusPending, time.Time{})

	st := e.Statistics()
	if st.Total != 4 {
		t.Fatalf("Total = %d, want 4", st.Total)
	}
	if st.ByStatus[StatusPublished] != 2 || st.ByStatus[StatusFailed] != 1 || st.ByStatus[StatusPending] != 1 {
		t.Fatalf("ByStatus = %v", st.ByStatus)
	}
	if st.PublishedToday != 1 {
		t.Fatalf("PublishedToday = %d, want 1 (yesterday's publish excluded)", st.PublishedToday)
	}
	if st.SuccessRate != 50 {
		t.Fatalf("SuccessRate = %v, want 50", st.SuccessRate)
	}
	if st.QueueHealth != "warning" {
		t.Fatalf("QueueHealth = %q, want warning", st.QueueHealth)
	}
}
