package pubqueue

import (
	"sync"
	"time"
)

// breakerState tracks consecutive adapter failures for one platform.
//
// On success: failures reset and the circuit closes. On failure: failures
// increment and, once failures >= trip, the circuit opens for an exponentially
// increasing cooldown. Rate-limit blocks do not count as failures; only
// adapter results do.
type breakerState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type breakerStore struct {
	mu sync.Mutex
	m  map[string]*breakerState
}

func (b *breakerStore) get(platform string) *breakerState {
	if b.m == nil {
		b.m = make(map[string]*breakerState)
	}
	st := b.m[platform]
	if st == nil {
		st = &breakerState{}
		b.m[platform] = st
	}
	return st
}

// isOpen reports whether the platform circuit is currently open.
func (b *breakerStore) isOpen(now time.Time, platform string, cfg BreakerConfig) (bool, time.Time) {
	if cfg.TripFailures <= 0 {
		return false, time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.get(platform)
	b.maybeReset(now, st, cfg)
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

// recordResult updates the platform circuit after an adapter call.
// It returns true when this result tripped the circuit open.
func (b *breakerStore) recordResult(now time.Time, platform string, success bool, cfg BreakerConfig) bool {
	if cfg.TripFailures <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.get(platform)
	b.maybeReset(now, st, cfg)

	if success {
		st.fails = 0
		st.openUntil = time.Time{}
		st.lastFailure = time.Time{}
		return false
	}

	st.fails++
	st.lastFailure = now
	if st.fails < cfg.TripFailures {
		return false
	}

	wasOpen := !st.openUntil.IsZero() && now.Before(st.openUntil)

	// Exponential cooldown after tripping.
	d := cfg.BaseDelay
	for i := 0; i < st.fails-cfg.TripFailures; i++ {
		d *= 2
		if d >= cfg.MaxDelay {
			d = cfg.MaxDelay
			break
		}
	}
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	st.openUntil = now.Add(d)
	return !wasOpen
}

func (b *breakerStore) maybeReset(now time.Time, st *breakerState, cfg BreakerConfig) {
	if !st.lastFailure.IsZero() && cfg.ResetAfter > 0 && now.Sub(st.lastFailure) > cfg.ResetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}

func (b *breakerStore) openCount(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, st := range b.m {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			n++
		}
	}
	return n
}
