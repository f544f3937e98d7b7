package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string from the config. Empty is
// zero, not an error; callers layer defaults on top. path names the field in
// errors (e.g. "notify.pacing").
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: bad duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for the
// empty/zero case.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
