package pubqueue

import (
	"strings"
	"time"
)

// Priority orders items in the queue. Higher weight dispatches first.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// priorityWeight returns the dispatch weight for a priority.
// Unknown priorities weigh 0 and sort last.
func priorityWeight(p Priority) int {
	switch p {
	case PriorityUrgent:
		return 100
	case PriorityHigh:
		return 75
	case PriorityMedium:
		return 50
	case PriorityLow:
		return 25
	default:
		return 0
	}
}

// ParsePriority normalizes a priority string. ok is false for unknown values.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityUrgent:
		return PriorityUrgent, true
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityLow:
		return PriorityLow, true
	default:
		return "", false
	}
}

// Status is the item lifecycle state.
//
// pending/scheduled -> processing -> {published | retrying | failed}
// retrying -> processing (next eligible tick)
// any non-terminal -> cancelled (explicit cancel)
//
// published, failed and cancelled are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusPublished  Status = "published"
	StatusRetrying   Status = "retrying"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further automatic transition occurs from st.
func (st Status) Terminal() bool {
	return st == StatusPublished || st == StatusFailed || st == StatusCancelled
}

func (st Status) eligible() bool {
	return st == StatusPending || st == StatusScheduled || st == StatusRetrying
}

// Metadata carries content annotations the engine passes through untouched.
type Metadata struct {
	Hashtags  []string
	Mentions  []string
	MediaRefs []string
	Author    string
	Campaign  string
}

// Metrics are optional engagement numbers returned by the adapter.
type Metrics struct {
	Reach      int
	Engagement int
	Clicks     int
}

// PlatformResult is the outcome of one publish attempt on one platform.
// An item's Results hold exactly one entry per platform attempted in the most
// recent pass; they are replaced, never appended, on each pass.
type PlatformResult struct {
	Platform  string
	Success   bool
	RemoteID  string
	RemoteURL string
	Metrics   *Metrics
	Error     string
}

// Item is one piece of content queued for publishing to one or more platforms.
type Item struct {
	ID        string
	ContentID string
	Title     string
	Body      string
	Platforms []string
	Metadata  Metadata

	ScheduledTime time.Time
	Priority      Priority

	Status     Status
	RetryCount int
	MaxRetries int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	PublishedAt time.Time

	LastError string
	Results   []PlatformResult

	// seq breaks ordering ties between items with equal weight and time.
	seq uint64
	// removeOnRelease marks an in-flight item for deletion once its publish
	// pass returns (Remove on an in-flight item).
	removeOnRelease bool
}

// clone returns a deep copy safe to hand to callers.
func (it *Item) clone() Item {
	cp := *it
	cp.Platforms = append([]string(nil), it.Platforms...)
	cp.Results = append([]PlatformResult(nil), it.Results...)
	cp.Metadata.Hashtags = append([]string(nil), it.Metadata.Hashtags...)
	cp.Metadata.Mentions = append([]string(nil), it.Metadata.Mentions...)
	cp.Metadata.MediaRefs = append([]string(nil), it.Metadata.MediaRefs...)
	for i := range cp.Results {
		if m := cp.Results[i].Metrics; m != nil {
			mc := *m
			cp.Results[i].Metrics = &mc
		}
	}
	return cp
}

func (it *Item) targets(platform string) bool {
	for _, p := range it.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// EnqueueRequest describes a new item.
type EnqueueRequest struct {
	ContentID string
	Title     string
	Body      string
	Platforms []string
	Priority  Priority

	// ScheduledTime is the instant at or after which the item becomes
	// eligible. Zero means "now".
	ScheduledTime time.Time

	// MaxRetries: 0 means the engine default; negative means no retries.
	MaxRetries int

	Metadata Metadata
}

// Filter narrows List results. Zero-value fields match everything.
type Filter struct {
	Status   Status
	Platform string
	Priority Priority
	Limit    int
}

func (f Filter) matches(it *Item) bool {
	if f.Status != "" && it.Status != f.Status {
		return false
	}
	if f.Priority != "" && it.Priority != f.Priority {
		return false
	}
	if f.Platform != "" && !it.targets(f.Platform) {
		return false
	}
	return true
}
