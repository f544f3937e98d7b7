package config

// Config is the full on-disk configuration.
//
// Files may be JSON or YAML; YAML is coerced to JSON so both formats share the
// strict decoder (unknown keys are rejected).
//
// All durations are Go duration strings (e.g. "500ms", "2s", "5m").
type Config struct {
	Transport TransportConfig `json:"transport"`
	Logging   LoggingConfig   `json:"logging"`
	Cache     CacheConfig     `json:"cache"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Store     StoreConfig     `json:"store"`
	Curation  CurationConfig  `json:"curation"`
	Notify    NotifyConfig    `json:"notify"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type TransportConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
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

// CacheConfig controls the source metadata cache.
type CacheConfig struct {
	// TTL after which a cached display name is refetched. Default "5m".
	TTL string `json:"ttl,omitempty"`
}

// DispatchConfig controls the inbound dispatch queue.
//
// Workers bounds only in-flight event processing; the backlog itself is
// unbounded and relies on upstream throttling.
type DispatchConfig struct {
	Workers int `json:"workers,omitempty"` // default 3
}

// StoreConfig controls per-source filtering, throttling, and retention.
//
// Defaults (when fields are omitted/zero):
//   - max_per_source: 100
//   - max_per_minute: 10
//   - min_length: 1, max_length: 4096
type StoreConfig struct {
	MaxPerSource     int  `json:"max_per_source,omitempty"`
	MaxPerMinute     int  `json:"max_per_minute,omitempty"`
	MinLength        int  `json:"min_length,omitempty"`
	MaxLength        int  `json:"max_length,omitempty"`
	IncludeMedia     bool `json:"include_media"`
	IncludeForwarded bool `json:"include_forwarded"`

	// HumanDelay inserts a uniform-random pause before accepting a message.
	// It throttles burst absorption; it is not a correctness mechanism.
	HumanDelay HumanDelayConfig `json:"human_delay"`
}

type HumanDelayConfig struct {
	Enabled bool   `json:"enabled"`
	Min     string `json:"min,omitempty"` // default "500ms"
	Max     string `json:"max,omitempty"` // default "2s"
}

// CurationConfig controls the ranking cycle.
type CurationConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression for periodic cycles. Default "*/15 * * * *".
	// Curation is additionally triggered after every accepted write and by the
	// /curate command.
	Schedule string `json:"schedule,omitempty"`
	// TopK is how many candidates the ranker may mark relevant per cycle.
	TopK int `json:"top_k,omitempty"` // default 3
	// Profile describes the standing interests candidates are ranked against.
	Profile string `json:"profile"`

	Ranker RankerConfig `json:"ranker"`
}

// RankerConfig points at an OpenAI-compatible chat completion endpoint.
// The API key is read from the environment (CURATOR_RANKER_API_KEY), never
// from the config file.
type RankerConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
	Timeout string `json:"timeout,omitempty"` // default "45s"
}

// NotifyConfig controls digest delivery.
type NotifyConfig struct {
	// Destination is the chat that receives curated digests.
	Destination string `json:"destination"`
	// Pacing is the fixed wait between consecutive digests. Default "2s".
	Pacing string `json:"pacing,omitempty"`
}

// StorageConfig controls the durable mirror.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./curator_data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
