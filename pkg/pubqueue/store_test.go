package pubqueue

import (
	"testing"
	"time"
)

func TestDispatchOrdering(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := newStore()

	mk := func(id string, p Priority, at time.Time) *Item {
		it := &Item{ID: id, Priority: p, Status: StatusPending, ScheduledTime: at}
		s.add(it)
		return it
	}

	mk("low-early", PriorityLow, base.Add(-2*time.Hour))
	mk("urgent-late", PriorityUrgent, base.Add(-time.Minute))
	mk("high", PriorityHigh, base.Add(-time.Hour))
	mk("urgent-early", PriorityUrgent, base.Add(-time.Hour))
	mk("medium", PriorityMedium, base.Add(-time.Hour))

	got := s.takeDue(base, 10)
	want := []string{"urgent-early", "urgent-late", "high", "medium", "low-early"}
	if len(got) != len(want) {
		t.Fatalf("takeDue returned %d items, want %d", len(got), len(want))
	}
	for i, it := range got {
		if it.ID != want[i] {
			t.Fatalf("position %d = %s, want %s", i, it.ID, want[i])
		}
	}
	if len(s.order) != 0 {
		t.Fatalf("order not drained: %d left", len(s.order))
	}
}

func TestDispatchOrderingTieBreaksBySeq(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := newStore()
	a := &Item{ID: "first", Priority: PriorityHigh, Status: StatusPending, ScheduledTime: at}
	b := &Item{ID: "second", Priority: PriorityHigh, Status: StatusPending, ScheduledTime: at}
	s.add(a)
	s.add(b)

	got := s.takeDue(at, 2)
	if got[0].ID != "first" || got[1].ID != "second" {
		t.Fatalf("tie not broken by enqueue order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestTakeDueSkipsFutureAndRespectsBudget(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := newStore()
	s.add(&Item{ID: "future-urgent", Priority: PriorityUrgent, Status: StatusScheduled, ScheduledTime: now.Add(time.Hour)})
	s.add(&Item{ID: "due-low", Priority: PriorityLow, Status: StatusPending, ScheduledTime: now})
	s.add(&Item{ID: "due-high", Priority: PriorityHigh, Status: StatusPending, ScheduledTime: now})

	got := s.takeDue(now, 1)
	if len(got) != 1 || got[0].ID != "due-high" {
		t.Fatalf("takeDue = %+v, want [due-high]", got)
	}
	// The future urgent item must stay queued.
	if len(s.order) != 2 {
		t.Fatalf("order length = %d, want 2", len(s.order))
	}
}

func TestReprioritizeReRanks(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := newStore()
	a := &Item{ID: "a", Priority: PriorityLow, Status: StatusPending, ScheduledTime: now}
	b := &Item{ID: "b", Priority: PriorityMedium, Status: StatusPending, ScheduledTime: now}
	s.add(a)
	s.add(b)

	s.reprioritize(a, PriorityUrgent)

	got := s.takeDue(now, 2)
	if got[0].ID != "a" {
		t.Fatalf("reprioritized item not first, got %s", got[0].ID)
	}
}
