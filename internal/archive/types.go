package archive

import (
	"encoding/json"
	"errors"
	"time"

	"crosspub/pkg/pubqueue"
)

var ErrDisabled = errors.New("archive disabled")

// Config configures the archive backend.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", archival is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is the flattened archived form of a finished queue item.
// Keep it compact and schema-stable.
type Record struct {
	ID          string    `json:"id"`
	ContentID   string    `json:"content_id,omitempty"`
	Title       string    `json:"title,omitempty"`
	Body        string    `json:"body"`
	Platforms   []string  `json:"platforms"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	RetryCount  int       `json:"retry_count"`
	LastError   string    `json:"last_error,omitempty"`
	ResultsJSON string    `json:"results,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// NewRecord flattens an evicted item for storage.
func NewRecord(it pubqueue.Item, at time.Time) Record {
	r := Record{
		ID:          it.ID,
		ContentID:   it.ContentID,
		Title:       it.Title,
		Body:        it.Body,
		Platforms:   it.Platforms,
		Priority:    string(it.Priority),
		Status:      string(it.Status),
		RetryCount:  it.RetryCount,
		LastError:   it.LastError,
		CreatedAt:   it.CreatedAt,
		PublishedAt: it.PublishedAt,
		ArchivedAt:  at,
	}
	if len(it.Results) > 0 {
		if b, err := json.Marshal(it.Results); err == nil {
			r.ResultsJSON = string(b)
		}
	}
	return r
}

// Filter narrows List results. Zero-value fields match everything.
type Filter struct {
	Status   string
	Platform string
	Since    time.Time
	Until    time.Time
	Limit    int
}

func (f Filter) matches(r Record) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Platform != "" {
		found := false
		for _, p := range r.Platforms {
			if p == f.Platform {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && r.ArchivedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.ArchivedAt.Before(f.Until) {
		return false
	}
	return true
}
