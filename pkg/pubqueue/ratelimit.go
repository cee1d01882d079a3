package pubqueue

import "time"

// Blocked-result reasons produced by the window gate and the breaker.
const (
	reasonHourlyBudget = "rate limit: hourly budget"
	reasonDailyBudget  = "rate limit: daily budget"
	reasonCooldown     = "rate limit: cooldown"
	reasonCircuitOpen  = "circuit open"
)

// windowGate is the per-platform sliding-window limiter.
//
// It records the publish times of items that reached status published (once
// per target platform) and checks new attempts against the policy table.
// Keeping its own history instead of scanning the store makes the gate
// independent of retention eviction.
//
// This is a best-effort local limiter, not a token bucket with carry-over:
// bursts immediately after a window boundary are possible. That is a
// documented limitation, not a bug.
type windowGate struct {
	hist map[string][]time.Time
}

func newWindowGate() *windowGate {
	return &windowGate{hist: make(map[string][]time.Time)}
}

// allow checks platform against policy at now. reason is non-empty when
// blocked.
func (g *windowGate) allow(now time.Time, platform string, policy PlatformPolicy) (ok bool, reason string) {
	times := g.prune(now, platform)

	if policy.MaxPerHour > 0 {
		n := 0
		cutoff := now.Add(-time.Hour)
		for _, t := range times {
			if t.After(cutoff) {
				n++
			}
		}
		if n >= policy.MaxPerHour {
			return false, reasonHourlyBudget
		}
	}
	if policy.MaxPerDay > 0 && len(times) >= policy.MaxPerDay {
		return false, reasonDailyBudget
	}
	if policy.Cooldown > 0 && len(times) > 0 {
		if now.Sub(times[len(times)-1]) < policy.Cooldown {
			return false, reasonCooldown
		}
	}
	return true, ""
}

// record notes a completed publish on each of the item's target platforms.
func (g *windowGate) record(now time.Time, platforms []string) {
	for _, p := range platforms {
		g.hist[p] = append(g.hist[p], now)
	}
}

// prune drops history older than the longest window (24h) and returns the
// remaining times for platform, oldest first.
func (g *windowGate) prune(now time.Time, platform string) []time.Time {
	times := g.hist[platform]
	if len(times) == 0 {
		return nil
	}
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		times = append(times[:0:0], times[i:]...)
		if len(times) == 0 {
			delete(g.hist, platform)
		} else {
			g.hist[platform] = times
		}
	}
	return times
}
