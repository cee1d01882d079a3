package pubqueue

import "time"

// Stats is the on-demand health snapshot derived from queue state.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	InFlight int            `json:"in_flight"`

	// PublishedToday counts published items whose publishedAt falls within
	// the current calendar day in the engine's timezone.
	PublishedToday int `json:"published_today"`

	// SuccessRate is published/total as a percentage. An empty queue reports
	// 100 so an idle system never looks unhealthy.
	SuccessRate float64 `json:"success_rate"`

	// QueueHealth buckets SuccessRate: >=90 excellent, >=75 good,
	// >=50 warning, else critical.
	QueueHealth string `json:"queue_health"`
}

// Statistics derives a point-in-time snapshot. It never mutates state.
func (e *Engine) Statistics() Stats {
	now := e.now().In(e.loc)
	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, e.loc)

	e.mu.Lock()
	defer e.mu.Unlock()

	st := Stats{
		ByStatus: make(map[Status]int),
		InFlight: len(e.inFlight),
	}
	for _, it := range e.store.items {
		st.Total++
		st.ByStatus[it.Status]++
		if it.Status == StatusPublished && !it.PublishedAt.IsZero() {
			if p := it.PublishedAt.In(e.loc); !p.Before(dayStart) && p.Before(dayStart.AddDate(0, 0, 1)) {
				st.PublishedToday++
			}
		}
	}

	if st.Total == 0 {
		st.SuccessRate = 100
	} else {
		st.SuccessRate = float64(st.ByStatus[StatusPublished]) / float64(st.Total) * 100
	}
	st.QueueHealth = healthFor(st.SuccessRate)
	return st
}

func healthFor(successRate float64) string {
	switch {
	case successRate >= 90:
		return "excellent"
	case successRate >= 75:
		return "good"
	case successRate >= 50:
		return "warning"
	default:
		return "critical"
	}
}
