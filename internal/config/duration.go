package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses one of the config's Go duration strings
// ("500ms", "1m30s"). Empty means zero, which every caller treats as "use
// the engine default". path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
