package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate performs static checks that don't require any I/O.
// It is used both at startup and as the Watch() validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	for _, f := range []struct{ path, raw string }{
		{"transport.poll_timeout", cfg.Transport.PollTimeout},
		{"cache.ttl", cfg.Cache.TTL},
		{"store.human_delay.min", cfg.Store.HumanDelay.Min},
		{"store.human_delay.max", cfg.Store.HumanDelay.Max},
		{"curation.ranker.timeout", cfg.Curation.Ranker.Timeout},
		{"notify.pacing", cfg.Notify.Pacing},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	if cfg.Store.MinLength < 0 || cfg.Store.MaxLength < 0 {
		return errors.New("store: length bounds must be >= 0")
	}
	if cfg.Store.MaxLength > 0 && cfg.Store.MinLength > cfg.Store.MaxLength {
		return fmt.Errorf("store: min_length %d > max_length %d", cfg.Store.MinLength, cfg.Store.MaxLength)
	}
	if cfg.Store.MaxPerSource < 0 || cfg.Store.MaxPerMinute < 0 {
		return errors.New("store: retention/rate limits must be >= 0")
	}
	if cfg.Curation.TopK < 0 {
		return errors.New("curation: top_k must be >= 0")
	}
	if cfg.Curation.Enabled && strings.TrimSpace(cfg.Curation.Profile) == "" {
		return errors.New("curation: profile is required when curation is enabled")
	}
	return nil
}
