// Package session owns the per-request stream lifecycle: it opens the
// transport, routes decoded events to the coalescer, timeline and interrupt
// correlator, publishes immutable snapshots to the presentation layer, and
// persists the terminal accumulated message through the conversation store.
package session

import (
	"context"
	"errors"
	"time"

	"goa.design/inlet/runtime/chat/stream"
)

// Roles attached to persisted messages.
const (
	// RoleUser marks a message authored by the user.
	RoleUser = "user"
	// RoleAssistant marks a message accumulated from an agent stream.
	RoleAssistant = "assistant"
)

// CancelledMarker is appended to the partial content of a user-cancelled
// stream before persistence. It is locale agnostic; presentation layers may
// translate it for display.
const CancelledMarker = "[cancelled]"

// ErrThreadNotFound reports a thread with no stored messages.
var ErrThreadNotFound = errors.New("session: thread not found")

type (
	// StoredEvent is the serializable subset of one stream event kept in
	// the persisted message. Raw token and browser frame events are
	// excluded before messages reach the store; they would grow without
	// bound and reconstruct nothing the merged content does not already
	// carry.
	StoredEvent struct {
		// Type is the event type discriminant.
		Type string `json:"type" bson:"type"`
		// Key is the event's dedup identity.
		Key string `json:"key" bson:"key"`
		// Timestamp is the event time.
		Timestamp time.Time `json:"timestamp" bson:"timestamp"`
		// Payload is the event-specific data.
		Payload any `json:"payload,omitempty" bson:"payload,omitempty"`
	}

	// Message is one persisted conversation entry. Assistant messages are
	// the terminal snapshot of a stream: merged content plus the collected
	// event subset, sources and images.
	Message struct {
		// ID is the store-assigned message identifier (uuid). Stores assign
		// it when empty.
		ID string `json:"id" bson:"message_id"`
		// ThreadID is the conversation the message belongs to.
		ThreadID string `json:"thread_id" bson:"thread_id"`
		// Role is RoleUser or RoleAssistant.
		Role string `json:"role" bson:"role"`
		// Content is the message text. For assistant messages this is the
		// merged transcript, with the cancellation marker appended when the
		// user stopped the stream.
		Content string `json:"content" bson:"content"`
		// Events is the persisted event subset in arrival order.
		Events []StoredEvent `json:"events,omitempty" bson:"events,omitempty"`
		// Sources are the de-duplicated discovered references.
		Sources []stream.SourcePayload `json:"sources,omitempty" bson:"sources,omitempty"`
		// Images are the collected images, de-duplicated by index.
		Images []stream.ImagePayload `json:"images,omitempty" bson:"images,omitempty"`
		// Cancelled marks a user-stopped response.
		Cancelled bool `json:"cancelled,omitempty" bson:"cancelled,omitempty"`
		// CreatedAt is the store-assigned creation time (UTC). Stores
		// assign it when zero.
		CreatedAt time.Time `json:"created_at" bson:"created_at"`
	}

	// Store persists conversation messages. The controller hands it exactly
	// one assistant message per request, on the terminal path, and only
	// when the accumulated snapshot is non-empty.
	Store interface {
		// AppendMessage persists one message, assigning ID and CreatedAt
		// when unset, and returns the stored value.
		AppendMessage(ctx context.Context, msg Message) (Message, error)
		// ListMessages returns up to limit messages of a thread, newest
		// first. A limit <= 0 means no limit. Returns ErrThreadNotFound
		// when the thread has no messages.
		ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
	}

	// Request describes one user turn submitted to the backend.
	Request struct {
		// ThreadID identifies the conversation.
		ThreadID string `json:"thread_id"`
		// Content is the user message text.
		Content string `json:"content"`
		// Metadata carries opaque request options forwarded to the backend.
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	// StreamOpener opens the event stream for one request. Implementations
	// return the decoded event channel, an error channel for transport
	// failures (at most one error, then closed), and a cancel function that
	// aborts the underlying I/O. A non-2xx backend response surfaces as an
	// error from Open itself; the stream is never consumed in that case.
	StreamOpener interface {
		Open(ctx context.Context, req Request) (<-chan stream.Event, <-chan error, context.CancelFunc, error)
	}
)

// storedEvents converts collected events into their persisted form,
// excluding the kinds that are not persisted.
func storedEvents(events []stream.Event) []StoredEvent {
	out := make([]StoredEvent, 0, len(events))
	for _, ev := range events {
		switch ev.Type() {
		case stream.EventToken, stream.EventBrowserStream:
			continue
		}
		out = append(out, StoredEvent{
			Type:      string(ev.Type()),
			Key:       ev.Key(),
			Timestamp: ev.OccurredAt(),
			Payload:   ev.Payload(),
		})
	}
	return out
}
