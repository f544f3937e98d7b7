package store

import "time"

// Sender identifies who wrote a message.
type Sender struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsSelf bool   `json:"isSelf"`
}

// Content is the canonicalized message payload.
type Content struct {
	Text        string `json:"text"`
	Kind        string `json:"type"`
	HasMedia    bool   `json:"hasMedia"`
	IsForwarded bool   `json:"isForwarded"`
	QuotedID    string `json:"quotedRef,omitempty"`
}

// Meta is bookkeeping the pipeline attaches to a message.
//
// Processed flips false->true at most once; curation never re-evaluates a
// processed message.
type Meta struct {
	SourceID    string     `json:"sourceId"`
	SourceName  string     `json:"sourceName"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	ScrapedAt   time.Time  `json:"scrapedAt"`
}

// Message is the canonical persisted form of an accepted inbound event.
// IDs are unique within their source ledger.
type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Sender    Sender    `json:"sender"`
	Content   Content   `json:"content"`
	Meta      Meta      `json:"metadata"`
}

// SourceStats summarizes one source ledger.
type SourceStats struct {
	Count        int       `json:"count"`        // messages currently retained
	Total        int64     `json:"total"`        // accepted since startup (monotonic)
	LastAccepted time.Time `json:"lastAccepted"` // drives the per-source rate limit
}

// Snapshot is the wholesale durable mirror of the store.
// It is overwritten in full on every persist.
type Snapshot struct {
	LastUpdated time.Time              `json:"lastUpdated"`
	Stats       map[string]SourceStats `json:"stats"`
	Messages    map[string][]Message   `json:"messages"`
}
