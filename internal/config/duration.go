package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration such as "2s" or "1m30s". A bare
// number has no unit and is rejected rather than read as nanoseconds.
func ParseDurationField(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q (use a unit, e.g. \"2s\"): %w", strings.ToUpper(key), raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", strings.ToUpper(key))
	}
	return d, nil
}
