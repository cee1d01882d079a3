package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Engine controls the publishing queue: dispatch cadence, concurrency,
	// retry backoff and retention of finished items.
	Engine EngineConfig `json:"engine"`

	// Platforms maps a platform name to its publish budget. Platforms without
	// an entry are unlimited.
	Platforms map[string]PlatformConfig `json:"platforms,omitempty"`

	// Recurring declares the content calendar: each entry enqueues a fresh
	// item every time its cron schedule fires.
	Recurring []RecurringConfig `json:"recurring,omitempty"`

	// Archive controls where evicted terminal items go. Nil disables archival.
	Archive *ArchiveConfig `json:"archive,omitempty"`

	// Alerts controls Telegram operator notifications. Nil disables them.
	Alerts *AlertsConfig `json:"alerts,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig mirrors the queue engine knobs.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted/zero fields fall back to the engine defaults.
type EngineConfig struct {
	TickInterval      string  `json:"tick_interval,omitempty"`
	MaxConcurrent     int     `json:"max_concurrent,omitempty"`
	DefaultMaxRetries int     `json:"default_max_retries,omitempty"`
	BaseRetryDelay    string  `json:"base_retry_delay,omitempty"`
	MaxRetryDelay     string  `json:"max_retry_delay,omitempty"`
	PublishTimeout    string  `json:"publish_timeout,omitempty"`
	PublishRatePerSec float64 `json:"publish_rate_per_sec,omitempty"`

	// Timezone for "published today" statistics and recurring schedules
	// (IANA name, e.g. "Europe/Amsterdam"). Empty means the process zone.
	Timezone string `json:"timezone,omitempty"`

	Retention *RetentionConfig `json:"retention,omitempty"`
	Breaker   *BreakerConfig   `json:"breaker,omitempty"`
}

// RetentionConfig bounds how long finished items stay queryable.
//
// Enabled is a pointer so an omitted field (default on) is distinguishable
// from an explicit false.
type RetentionConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	TTL           string `json:"ttl,omitempty"`
	MaxTerminal   int    `json:"max_terminal,omitempty"`
	SweepInterval string `json:"sweep_interval,omitempty"`
}

// BreakerConfig controls the per-platform circuit breaker.
// trip_failures <= 0 (or an omitted section) leaves the breaker off.
type BreakerConfig struct {
	TripFailures int    `json:"trip_failures"`
	BaseDelay    string `json:"base_delay,omitempty"`
	MaxDelay     string `json:"max_delay,omitempty"`
	ResetAfter   string `json:"reset_after,omitempty"`
}

type PlatformConfig struct {
	MaxPerHour int    `json:"max_per_hour,omitempty"`
	MaxPerDay  int    `json:"max_per_day,omitempty"`
	Cooldown   string `json:"cooldown,omitempty"` // Go duration string
}

// RecurringConfig is one content-calendar entry.
type RecurringConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`

	ContentID  string   `json:"content_id,omitempty"`
	Title      string   `json:"title,omitempty"`
	Body       string   `json:"body"`
	Platforms  []string `json:"platforms"`
	Priority   string   `json:"priority,omitempty"`
	MaxRetries int      `json:"max_retries,omitempty"`
}

// ArchiveConfig selects the archive backend for evicted items.
//
// Example:
//
//	"archive": { "driver": "file", "path": "./crosspub_archive" }
type ArchiveConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AlertsConfig controls the Telegram alert channel.
type AlertsConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"` // bot token (do not log)
	ChatID  int64  `json:"chat_id,omitempty"`

	// RatePerSec throttles outgoing alert messages. Default 1.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// Events filters which engine events become alerts. Empty means the
	// default set (item.failed, breaker.open, engine.emergency_stop).
	Events []string `json:"events,omitempty"`

	// DigestInterval is how often a queue-health digest is sent.
	// "0s" or omitted disables the digest.
	DigestInterval string `json:"digest_interval,omitempty"`
}

// Validate checks everything that can be checked without constructing the
// engine: duration syntax, numeric ranges, backend names and required fields.
func (c *Config) Validate() error {
	durs := []struct {
		path string
		raw  string
	}{
		{"engine.tick_interval", c.Engine.TickInterval},
		{"engine.base_retry_delay", c.Engine.BaseRetryDelay},
		{"engine.max_retry_delay", c.Engine.MaxRetryDelay},
		{"engine.publish_timeout", c.Engine.PublishTimeout},
	}
	if r := c.Engine.Retention; r != nil {
		durs = append(durs,
			struct{ path, raw string }{"engine.retention.ttl", r.TTL},
			struct{ path, raw string }{"engine.retention.sweep_interval", r.SweepInterval},
		)
	}
	if b := c.Engine.Breaker; b != nil {
		durs = append(durs,
			struct{ path, raw string }{"engine.breaker.base_delay", b.BaseDelay},
			struct{ path, raw string }{"engine.breaker.max_delay", b.MaxDelay},
			struct{ path, raw string }{"engine.breaker.reset_after", b.ResetAfter},
		)
	}
	for _, d := range durs {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if c.Engine.MaxConcurrent < 0 {
		return errors.New("engine.max_concurrent: must be >= 0")
	}
	if c.Engine.PublishRatePerSec < 0 {
		return errors.New("engine.publish_rate_per_sec: must be >= 0")
	}

	for name, p := range c.Platforms {
		if strings.TrimSpace(name) == "" {
			return errors.New("platforms: empty platform name")
		}
		if p.MaxPerHour < 0 || p.MaxPerDay < 0 {
			return fmt.Errorf("platforms.%s: budgets must be >= 0", name)
		}
		if _, err := ParseDurationField("platforms."+name+".cooldown", p.Cooldown); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{}, len(c.Recurring))
	for i, r := range c.Recurring {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("recurring[%d]: name required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("recurring[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(r.Schedule) == "" {
			return fmt.Errorf("recurring[%d] (%s): schedule required", i, name)
		}
		if strings.TrimSpace(r.Body) == "" {
			return fmt.Errorf("recurring[%d] (%s): body required", i, name)
		}
		if len(r.Platforms) == 0 {
			return fmt.Errorf("recurring[%d] (%s): at least one platform required", i, name)
		}
	}

	if a := c.Archive; a != nil {
		switch strings.TrimSpace(strings.ToLower(a.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("archive.driver: unknown driver %q", a.Driver)
		}
		if _, err := ParseDurationField("archive.busy_timeout", a.BusyTimeout); err != nil {
			return err
		}
	}

	if al := c.Alerts; al != nil && al.Enabled {
		if strings.TrimSpace(al.Token) == "" {
			return errors.New("alerts: token required when enabled")
		}
		if al.ChatID == 0 {
			return errors.New("alerts: chat_id required when enabled")
		}
		if al.RatePerSec < 0 {
			return errors.New("alerts.rate_per_sec: must be >= 0")
		}
		if _, err := ParseDurationField("alerts.digest_interval", al.DigestInterval); err != nil {
			return err
		}
	}
	return nil
}
