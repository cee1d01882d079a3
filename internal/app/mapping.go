package app

import (
	"fmt"
	"time"

	"crosspub/internal/alert"
	"crosspub/internal/archive"
	"crosspub/internal/config"
	"crosspub/pkg/pubqueue"
)

// mapEngineConfig translates the config file's engine section into the queue
// engine's native config. Adapter, logger, bus and archiver are wired by the
// caller.
func mapEngineConfig(cfg *config.Config) (pubqueue.Config, error) {
	var (
		out pubqueue.Config
		err error
	)
	e := cfg.Engine

	if out.TickInterval, err = config.ParseDurationField("engine.tick_interval", e.TickInterval); err != nil {
		return out, err
	}
	if out.BaseRetryDelay, err = config.ParseDurationField("engine.base_retry_delay", e.BaseRetryDelay); err != nil {
		return out, err
	}
	if out.MaxRetryDelay, err = config.ParseDurationField("engine.max_retry_delay", e.MaxRetryDelay); err != nil {
		return out, err
	}
	if out.PublishTimeout, err = config.ParseDurationField("engine.publish_timeout", e.PublishTimeout); err != nil {
		return out, err
	}
	out.MaxConcurrent = e.MaxConcurrent
	out.DefaultMaxRetries = e.DefaultMaxRetries
	out.PublishRatePerSec = e.PublishRatePerSec
	out.Timezone = e.Timezone

	if out.Policies, err = mapPolicies(cfg.Platforms); err != nil {
		return out, err
	}
	if e.Retention != nil {
		if out.Retention, err = mapRetention(e.Retention); err != nil {
			return out, err
		}
	}
	if e.Breaker != nil {
		if out.Breaker, err = mapBreaker(e.Breaker); err != nil {
			return out, err
		}
	}
	return out, nil
}

func mapPolicies(platforms map[string]config.PlatformConfig) (pubqueue.PolicyTable, error) {
	if len(platforms) == 0 {
		return nil, nil
	}
	out := make(pubqueue.PolicyTable, len(platforms))
	for name, p := range platforms {
		cooldown, err := config.ParseDurationField("platforms."+name+".cooldown", p.Cooldown)
		if err != nil {
			return nil, err
		}
		out[name] = pubqueue.PlatformPolicy{
			MaxPerHour: p.MaxPerHour,
			MaxPerDay:  p.MaxPerDay,
			Cooldown:   cooldown,
		}
	}
	return out, nil
}

func mapRetention(r *config.RetentionConfig) (pubqueue.RetentionConfig, error) {
	var (
		out pubqueue.RetentionConfig
		err error
	)
	out.Enabled = r.Enabled
	out.MaxTerminal = r.MaxTerminal
	if out.TTL, err = config.ParseDurationField("engine.retention.ttl", r.TTL); err != nil {
		return out, err
	}
	if out.SweepInterval, err = config.ParseDurationField("engine.retention.sweep_interval", r.SweepInterval); err != nil {
		return out, err
	}
	return out, nil
}

func mapBreaker(b *config.BreakerConfig) (pubqueue.BreakerConfig, error) {
	var (
		out pubqueue.BreakerConfig
		err error
	)
	out.TripFailures = b.TripFailures
	if out.BaseDelay, err = config.ParseDurationField("engine.breaker.base_delay", b.BaseDelay); err != nil {
		return out, err
	}
	if out.MaxDelay, err = config.ParseDurationField("engine.breaker.max_delay", b.MaxDelay); err != nil {
		return out, err
	}
	if out.ResetAfter, err = config.ParseDurationField("engine.breaker.reset_after", b.ResetAfter); err != nil {
		return out, err
	}
	return out, nil
}

func mapArchiveConfig(a *config.ArchiveConfig) (archive.Config, error) {
	if a == nil {
		return archive.Config{}, nil
	}
	busy, err := config.ParseDurationField("archive.busy_timeout", a.BusyTimeout)
	if err != nil {
		return archive.Config{}, err
	}
	return archive.Config{Driver: a.Driver, Path: a.Path, BusyTimeout: busy}, nil
}

func mapAlertConfig(a *config.AlertsConfig) (alert.Config, error) {
	if a == nil {
		return alert.Config{}, nil
	}
	digest, err := config.ParseDurationField("alerts.digest_interval", a.DigestInterval)
	if err != nil {
		return alert.Config{}, err
	}
	return alert.Config{
		Enabled:        a.Enabled,
		Token:          a.Token,
		ChatID:         a.ChatID,
		RatePerSec:     a.RatePerSec,
		Events:         a.Events,
		DigestInterval: digest,
	}, nil
}

// recurringDefs translates the content calendar section.
func recurringDefs(cfg *config.Config) []pubqueue.RecurringDef {
	out := make([]pubqueue.RecurringDef, 0, len(cfg.Recurring))
	for _, r := range cfg.Recurring {
		out = append(out, pubqueue.RecurringDef{
			Name:     r.Name,
			Schedule: r.Schedule,
			Template: pubqueue.EnqueueRequest{
				ContentID:  r.ContentID,
				Title:      r.Title,
				Body:       r.Body,
				Platforms:  r.Platforms,
				Priority:   pubqueue.Priority(r.Priority),
				MaxRetries: r.MaxRetries,
			},
		})
	}
	return out
}

// validateMapping runs the translations that Parse-level validation cannot:
// timezone lookup, cron dialect, priority names.
func validateMapping(cfg *config.Config) error {
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := time.LoadLocation(cfg.Engine.Timezone); cfg.Engine.Timezone != "" && err != nil {
		return err
	}
	for _, r := range cfg.Recurring {
		if err := pubqueue.ValidateSchedule(r.Schedule); err != nil {
			return err
		}
		if r.Priority != "" {
			if _, ok := pubqueue.ParsePriority(r.Priority); !ok {
				return fmt.Errorf("recurring %q: unknown priority %q", r.Name, r.Priority)
			}
		}
	}
	if _, err := mapArchiveConfig(cfg.Archive); err != nil {
		return err
	}
	if _, err := mapAlertConfig(cfg.Alerts); err != nil {
		return err
	}
	return nil
}
