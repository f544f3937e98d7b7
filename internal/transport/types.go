package transport

import (
	"context"
	"time"
)

// Event is a raw inbound chat message as delivered by the session layer.
// It is ephemeral: the dispatch queue consumes it and the store decides
// whether anything durable comes out of it.
type Event struct {
	ID          string // platform message id; may be empty, the store then assigns one
	SourceID    string // chat/group identifier (platform-specific, e.g. a JID or chat id)
	SenderID    string
	SenderName  string
	Text        string
	Kind        string // "text", "image", "video", ... (platform-specific)
	HasMedia    bool
	IsForwarded bool
	QuotedID    string // id of the quoted/replied-to message, if any
	FromSelf    bool
	Timestamp   time.Time
}

// ChatInfo is the metadata the pipeline may look up about a source.
type ChatInfo struct {
	ID   string
	Name string
}

type ChatTarget struct {
	ChatID string
}

type SendOptions struct {
	DisablePreview bool
}

// Adapter is the session/transport boundary.
//
// Implementations own connection lifecycle; the pipeline only consumes
// event batches and sends outbound text.
type Adapter interface {
	// Start begins delivering inbound event batches on out until ctx is
	// cancelled or Stop is called. Batches preserve arrival order.
	Start(ctx context.Context, out chan<- []Event) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error

	// ChatInfo resolves display metadata for a source.
	ChatInfo(ctx context.Context, sourceID string) (ChatInfo, error)
}
