// ABOUTME: Reply dispatch contracts: the asynchronous producer of reply text.
// ABOUTME: Implementations stream chunks into the registry and issue the terminal finish.

package dispatch

import (
	"context"

	"github.com/2389/wecom-gateway/internal/stream"
)

// Request describes one user message to generate a reply for.
type Request struct {
	// StreamID is the reply stream the producer writes into.
	StreamID string

	// ConversationKey identifies the serialized conversation lane.
	ConversationKey string

	ChatType string // "single" or "group"
	ChatID   string
	UserID   string

	// Kind is the inbound message kind: text, image, or voice.
	Kind     string
	Text     string
	MediaURL string
}

// Dispatcher generates a reply for a request. Implementations deliver
// zero or more content writes against the reply sink followed by exactly
// one terminal finish; an error return means no finish was issued and the
// caller must finalize the stream itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *Request) error
}

// ReplySink is the slice of the stream registry a dispatcher writes
// through.
type ReplySink interface {
	Update(id, content string, finished bool, items []stream.AttachmentItem) bool
	Finish(ctx context.Context, id string) bool
}
