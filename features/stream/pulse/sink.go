// Package pulse exposes a stream.Sink implementation that republishes chat
// events onto goa.design/pulse streams over Redis, so out-of-process
// observers (dashboards, audit consumers) can follow a conversation without
// holding the SSE connection.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientspulse "goa.design/inlet/features/stream/pulse/clients/pulse"
	"goa.design/inlet/runtime/chat/stream"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client clientspulse.Client
		// StreamID derives the target Pulse stream from an event. Defaults
		// to "thread/<ThreadID>".
		StreamID func(stream.Event) (string, error)
		// MarshalEnvelope overrides envelope serialization (primarily for
		// tests).
		MarshalEnvelope func(Envelope) ([]byte, error)
	}

	// Sink publishes chat events into Pulse streams. Safe for concurrent
	// Send calls.
	Sink struct {
		client clientspulse.Client
		opts   sinkOptions
	}

	sinkOptions struct {
		streamID        func(stream.Event) (string, error)
		marshalEnvelope func(Envelope) ([]byte, error)
	}

	// Envelope wraps chat events for transmission over Pulse streams. The
	// subscriber decodes it back into a canonical stream.Event.
	Envelope struct {
		// Type identifies the event kind (e.g., "tool_call", "stage").
		Type string `json:"type"`
		// ThreadID links the event to its conversation.
		ThreadID string `json:"thread_id"`
		// Timestamp is the original event time (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload contains the event-specific data, if any.
		Payload any `json:"payload,omitempty"`
	}
)

// NewSink constructs a Pulse-backed chat event sink. The Client field in
// opts is required; StreamID and MarshalEnvelope default to the built-in
// implementations.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	cfg := sinkOptions{
		streamID:        defaultStreamID,
		marshalEnvelope: defaultMarshal,
	}
	if opts.StreamID != nil {
		cfg.streamID = opts.StreamID
	}
	if opts.MarshalEnvelope != nil {
		cfg.marshalEnvelope = opts.MarshalEnvelope
	}
	return &Sink{client: opts.Client, opts: cfg}, nil
}

// Send publishes the event to the derived Pulse stream. Implements
// stream.Sink.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	streamID, err := s.opts.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	env := Envelope{
		Type:      string(event.Type()),
		ThreadID:  event.ThreadID(),
		Timestamp: event.OccurredAt().UTC(),
		Payload:   event.Payload(),
	}
	payload, err := s.opts.marshalEnvelope(env)
	if err != nil {
		return err
	}
	if _, err := handle.Add(ctx, env.Type, payload); err != nil {
		return err
	}
	return nil
}

// Close releases resources owned by the sink. Implements stream.Sink.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// defaultStreamID derives the Pulse stream name from the event's thread.
func defaultStreamID(event stream.Event) (string, error) {
	if event.ThreadID() == "" {
		return "", errors.New("stream event missing thread id")
	}
	return fmt.Sprintf("thread/%s", event.ThreadID()), nil
}

// defaultMarshal serializes an envelope to JSON.
func defaultMarshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
