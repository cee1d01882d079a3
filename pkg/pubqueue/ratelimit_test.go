package pubqueue

import (
	"testing"
	"time"
)

func TestWindowGateHourlyBudget(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g := newWindowGate()
	policy := PlatformPolicy{MaxPerHour: 3}

	for i := 0; i < 3; i++ {
		ok, _ := g.allow(now, "mastodon", policy)
		if !ok {
			t.Fatalf("publish %d unexpectedly blocked", i+1)
		}
		g.record(now.Add(time.Duration(i)*time.Minute), []string{"mastodon"})
	}

	ok, reason := g.allow(now.Add(5*time.Minute), "mastodon", policy)
	if ok {
		t.Fatal("4th publish within the hour should be blocked")
	}
	if reason != reasonHourlyBudget {
		t.Fatalf("reason = %q, want %q", reason, reasonHourlyBudget)
	}

	// Once the window slides past the first publishes, the gate reopens.
	ok, _ = g.allow(now.Add(65*time.Minute), "mastodon", policy)
	if !ok {
		t.Fatal("gate should reopen after the trailing window passes")
	}
}

func TestWindowGateDailyBudget(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g := newWindowGate()
	policy := PlatformPolicy{MaxPerDay: 2}

	g.record(now.Add(-10*time.Hour), []string{"bluesky"})
	g.record(now.Add(-2*time.Hour), []string{"bluesky"})

	ok, reason := g.allow(now, "bluesky", policy)
	if ok {
		t.Fatal("3rd publish within 24h should be blocked")
	}
	if reason != reasonDailyBudget {
		t.Fatalf("reason = %q, want %q", reason, reasonDailyBudget)
	}
}

func TestWindowGateCooldown(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g := newWindowGate()
	policy := PlatformPolicy{Cooldown: 30 * time.Minute}

	g.record(now.Add(-10*time.Minute), []string{"threads"})

	ok, reason := g.allow(now, "threads", policy)
	if ok {
		t.Fatal("publish within cooldown should be blocked")
	}
	if reason != reasonCooldown {
		t.Fatalf("reason = %q, want %q", reason, reasonCooldown)
	}

	ok, _ = g.allow(now.Add(25*time.Minute), "threads", policy)
	if !ok {
		t.Fatal("publish after cooldown should pass")
	}
}

func TestWindowGateUnlimitedByDefault(t *testing.T) {
	t.Parallel()
	now := time.Now()
	g := newWindowGate()
	for i := 0; i < 100; i++ {
		ok, _ := g.allow(now, "anything", PlatformPolicy{})
		if !ok {
			t.Fatal("zero policy must never block")
		}
		g.record(now, []string{"anything"})
	}
}

func TestWindowGatePerPlatformIsolation(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g := newWindowGate()
	policy := PlatformPolicy{MaxPerHour: 1}

	g.record(now, []string{"a"})
	if ok, _ := g.allow(now, "a", policy); ok {
		t.Fatal("platform a should be at budget")
	}
	if ok, _ := g.allow(now, "b", policy); !ok {
		t.Fatal("platform b has its own budget")
	}
}
