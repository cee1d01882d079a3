package pubqueue

import (
	"strings"
	"time"
)

// PlatformPolicy holds the static publish limits for one platform.
//
// Zero or negative values disable the corresponding gate.
type PlatformPolicy struct {
	MaxPerHour int
	MaxPerDay  int
	Cooldown   time.Duration
}

// PolicyTable maps platform ids to their policies. Platforms without an entry
// are unlimited.
type PolicyTable map[string]PlatformPolicy

func (t PolicyTable) lookup(platform string) PlatformPolicy {
	if t == nil {
		return PlatformPolicy{}
	}
	return t[platform]
}

// normalize trims platform keys and drops empty ones so config typos
// ("twitter " vs "twitter") don't silently create a second platform.
func (t PolicyTable) normalize() PolicyTable {
	if len(t) == 0 {
		return nil
	}
	out := make(PolicyTable, len(t))
	for k, v := range t {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
