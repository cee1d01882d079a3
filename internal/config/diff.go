package config

import (
	"reflect"
	"sort"
	"strings"

	logx "crosspub/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes the alert token),
// and (3) the platform names whose budgets changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Engine
	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.tick_interval", strings.TrimSpace(newCfg.Engine.TickInterval)),
			logx.Int("engine.max_concurrent", newCfg.Engine.MaxConcurrent),
			logx.Int("engine.default_max_retries", newCfg.Engine.DefaultMaxRetries),
			logx.String("engine.base_retry_delay", strings.TrimSpace(newCfg.Engine.BaseRetryDelay)),
			logx.String("engine.timezone", strings.TrimSpace(newCfg.Engine.Timezone)),
			logx.Bool("engine.retention_present", newCfg.Engine.Retention != nil),
			logx.Bool("engine.breaker_present", newCfg.Engine.Breaker != nil),
		)
	}

	// Platforms (budgets)
	platformChanged := diffPlatforms(oldCfg.Platforms, newCfg.Platforms)
	if len(platformChanged) > 0 {
		changed = append(changed, "platforms")
		attrs = append(attrs,
			logx.Int("platforms.changed_count", len(platformChanged)),
			logx.Int("platforms.total", len(newCfg.Platforms)),
		)
	}

	// Recurring (content calendar)
	if !reflect.DeepEqual(oldCfg.Recurring, newCfg.Recurring) {
		changed = append(changed, "recurring")
		attrs = append(attrs, logx.Int("recurring.count", len(newCfg.Recurring)))
	}

	// Archive. Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if a := oldCfg.Archive; a != nil {
		oDriver = strings.TrimSpace(a.Driver)
		oBusy = strings.TrimSpace(a.BusyTimeout)
		oPathSet = strings.TrimSpace(a.Path) != ""
	}
	if a := newCfg.Archive; a != nil {
		nDriver = strings.TrimSpace(a.Driver)
		nBusy = strings.TrimSpace(a.BusyTimeout)
		nPathSet = strings.TrimSpace(a.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "archive")
		attrs = append(attrs,
			logx.String("archive.driver", nDriver),
			logx.Bool("archive.path_set", nPathSet),
			logx.String("archive.busy_timeout", nBusy),
		)
	}

	// Alerts (never log token)
	oA := derefAlerts(oldCfg.Alerts)
	nA := derefAlerts(newCfg.Alerts)
	tokenFlip := (strings.TrimSpace(oA.Token) != "") != (strings.TrimSpace(nA.Token) != "")
	oA.Token, nA.Token = "", ""
	if tokenFlip || !reflect.DeepEqual(oA, nA) {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.enabled", nA.Enabled),
			logx.Bool("alerts.token_set", newCfg.Alerts != nil && strings.TrimSpace(newCfg.Alerts.Token) != ""),
			logx.Bool("alerts.chat_set", nA.ChatID != 0),
			logx.Int("alerts.rate_per_sec", nA.RatePerSec),
			logx.Int("alerts.event_filter_count", len(nA.Events)),
			logx.String("alerts.digest_interval", strings.TrimSpace(nA.DigestInterval)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, platformChanged
}

func derefAlerts(a *AlertsConfig) AlertsConfig {
	if a == nil {
		return AlertsConfig{}
	}
	return *a
}

func diffPlatforms(oldM, newM map[string]PlatformConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || o != n {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
