package pubqueue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"crosspub/pkg/eventbus"
	logx "crosspub/pkg/logx"
)

// Config controls the engine. All fields except Adapter have sane defaults.
type Config struct {
	// Adapter performs the actual platform publish calls. Required.
	Adapter Adapter

	// TickInterval is the dispatcher tick period. Default 5s.
	TickInterval time.Duration

	// MaxConcurrent bounds how many items (not platform calls) are in flight
	// process-wide. Default 3.
	MaxConcurrent int

	// DefaultMaxRetries applies when EnqueueRequest.MaxRetries is 0. Default 3.
	DefaultMaxRetries int

	// BaseRetryDelay anchors the exponential backoff:
	// delay = BaseRetryDelay * 2^(retryCount-1). Default 1m.
	BaseRetryDelay time.Duration

	// MaxRetryDelay caps the computed backoff. 0 leaves it uncapped so the
	// exponential formula holds exactly.
	MaxRetryDelay time.Duration

	// PublishTimeout bounds each adapter call. Default 30s.
	PublishTimeout time.Duration

	// PublishRatePerSec paces adapter calls across all platforms with a token
	// bucket, in addition to the per-platform window gates. 0 disables pacing.
	PublishRatePerSec float64

	// Timezone is the reference timezone for "published today" statistics and
	// recurring schedules. Empty means the process-local zone.
	Timezone string

	Policies  PolicyTable
	Retention RetentionConfig
	Breaker   BreakerConfig

	// Archiver receives evicted terminal items. Optional.
	Archiver Archiver

	// Logger for engine diagnostics. Zero value logs nothing.
	Logger logx.Logger

	// Bus receives lifecycle events. If nil the engine creates its own;
	// observers reach it via Events().
	Bus eventbus.Bus
}

// RetentionConfig bounds the set of terminal items kept for inspection.
//
// The reference behavior never purged terminal items; keeping that requires an
// explicit Enabled=false. The default is bounded.
type RetentionConfig struct {
	Enabled *bool // nil means enabled

	// TTL evicts terminal items whose UpdatedAt is older than this. Default 24h.
	TTL time.Duration

	// MaxTerminal caps the number of terminal items; the oldest are evicted
	// first once the TTL pass is done. Default 2000.
	MaxTerminal int

	// SweepInterval is how often the engine loop runs the sweeper. Default 5m.
	SweepInterval time.Duration
}

func (r RetentionConfig) enabled() bool { return r.Enabled == nil || *r.Enabled }

// BreakerConfig controls the optional per-platform circuit breaker.
//
// TripFailures <= 0 disables the breaker (the default), keeping baseline
// dispatch semantics unchanged.
type BreakerConfig struct {
	TripFailures int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ResetAfter   time.Duration
}

func (c *Config) withDefaults() error {
	if c.Adapter == nil {
		return errors.New("pubqueue: Config.Adapter is required")
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = 0
	} else if c.DefaultMaxRetries == 0 {
		c.DefaultMaxRetries = 3
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = time.Minute
	}
	if c.MaxRetryDelay < 0 {
		c.MaxRetryDelay = 0
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	if c.PublishRatePerSec < 0 {
		c.PublishRatePerSec = 0
	}
	c.Policies = c.Policies.normalize()

	if c.Retention.TTL <= 0 {
		c.Retention.TTL = 24 * time.Hour
	}
	if c.Retention.MaxTerminal <= 0 {
		c.Retention.MaxTerminal = 2000
	}
	if c.Retention.SweepInterval <= 0 {
		c.Retention.SweepInterval = 5 * time.Minute
	}

	if c.Breaker.TripFailures > 0 {
		if c.Breaker.BaseDelay <= 0 {
			c.Breaker.BaseDelay = 5 * time.Second
		}
		if c.Breaker.MaxDelay <= 0 {
			c.Breaker.MaxDelay = 2 * time.Minute
		}
		if c.Breaker.ResetAfter <= 0 {
			c.Breaker.ResetAfter = 5 * time.Minute
		}
	}
	return nil
}

func (c *Config) location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("pubqueue: invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}
