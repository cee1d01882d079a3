package pubqueue

import (
	"time"

	"crosspub/pkg/eventbus"
)

// Event types published on the engine bus.
const (
	EventEngineStarted   = "engine.started"
	EventEngineStopped   = "engine.stopped"
	EventEngineEmergency = "engine.emergency_stop"

	EventItemEnqueued   = "item.enqueued"
	EventItemDispatched = "item.dispatched"
	EventItemPublished  = "item.published"
	EventItemRetrying   = "item.retrying"
	EventItemFailed     = "item.failed"
	EventItemCancelled  = "item.cancelled"
	EventItemEvicted    = "item.evicted"

	EventBreakerOpen = "breaker.open"
)

// ItemEvent is the bus payload for item lifecycle events.
type ItemEvent struct {
	ID         string    `json:"id"`
	ContentID  string    `json:"content_id,omitempty"`
	Title      string    `json:"title,omitempty"`
	Platforms  []string  `json:"platforms"`
	Priority   Priority  `json:"priority"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	Scheduled  time.Time `json:"scheduled"`
	Error      string    `json:"error,omitempty"`
}

// BreakerEvent is the bus payload when a platform circuit opens.
type BreakerEvent struct {
	Platform  string    `json:"platform"`
	OpenUntil time.Time `json:"open_until"`
}

func (e *Engine) publishItemEvent(typ string, now time.Time, it *Item) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ItemEvent{
		ID:         it.ID,
		ContentID:  it.ContentID,
		Title:      it.Title,
		Platforms:  append([]string(nil), it.Platforms...),
		Priority:   it.Priority,
		Status:     it.Status,
		RetryCount: it.RetryCount,
		Scheduled:  it.ScheduledTime,
		Error:      it.LastError,
	}})
}
