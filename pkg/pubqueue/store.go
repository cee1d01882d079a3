package pubqueue

import (
	"sort"
	"time"
)

// store holds all known items plus the dispatch order for the non-terminal,
// non-in-flight ones.
//
// The order slice is kept sorted by (priority weight desc, scheduledTime asc,
// enqueue seq asc). Insertion is O(n) via binary search, which is fine at the
// intended scale; selection walks the prefix of due items. All access happens
// under the engine mutex.
type store struct {
	items map[string]*Item
	order []*Item
	seq   uint64
}

func newStore() *store {
	return &store{items: make(map[string]*Item)}
}

// before reports whether a dispatches ahead of b.
func before(a, b *Item) bool {
	wa, wb := priorityWeight(a.Priority), priorityWeight(b.Priority)
	if wa != wb {
		return wa > wb
	}
	if !a.ScheduledTime.Equal(b.ScheduledTime) {
		return a.ScheduledTime.Before(b.ScheduledTime)
	}
	return a.seq < b.seq
}

// add registers the item and inserts it into the dispatch order.
func (s *store) add(it *Item) {
	s.seq++
	it.seq = s.seq
	s.items[it.ID] = it
	s.insert(it)
}

// insert places an already-registered item into the dispatch order.
func (s *store) insert(it *Item) {
	i := sort.Search(len(s.order), func(i int) bool { return before(it, s.order[i]) })
	s.order = append(s.order, nil)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = it
}

// unlink removes the item from the dispatch order only; it stays in items.
func (s *store) unlink(it *Item) {
	for i, o := range s.order {
		if o == it {
			copy(s.order[i:], s.order[i+1:])
			s.order[len(s.order)-1] = nil
			s.order = s.order[:len(s.order)-1]
			return
		}
	}
}

// delete forgets the item entirely.
func (s *store) delete(it *Item) {
	s.unlink(it)
	delete(s.items, it.ID)
}

// takeDue removes and returns up to max items that are eligible now, in
// dispatch order. Items with a future scheduledTime are skipped, not taken:
// the order is priority-first, so a due low-priority item may sit behind a
// not-yet-due urgent one in the slice.
func (s *store) takeDue(now time.Time, max int) []*Item {
	if max <= 0 {
		return nil
	}
	var due []*Item
	kept := s.order[:0]
	for _, it := range s.order {
		if len(due) < max && it.Status.eligible() && !it.ScheduledTime.After(now) {
			due = append(due, it)
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(s.order); i++ {
		s.order[i] = nil
	}
	s.order = kept
	return due
}

// reprioritize re-ranks a queued item. The caller has already verified the
// item is neither in flight nor terminal.
func (s *store) reprioritize(it *Item, p Priority) {
	s.unlink(it)
	it.Priority = p
	s.insert(it)
}

// list returns filtered copies, newest first by CreatedAt.
func (s *store) list(f Filter) []Item {
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		if f.matches(it) {
			out = append(out, it.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].seq > out[j].seq
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
