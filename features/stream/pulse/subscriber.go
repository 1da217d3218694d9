package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/inlet/features/stream/pulse/clients/pulse"
	"goa.design/inlet/runtime/chat/stream"
)

type (
	// EnvelopeDecoder converts raw payloads read from Pulse into canonical
	// chat events. Custom decoders can handle non-standard envelope
	// formats.
	EnvelopeDecoder func([]byte) (stream.Event, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the consumer group. Defaults to
		// "inlet_subscriber".
		SinkName string
		// Buffer is the event channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes event payloads. Defaults to the built-in
		// envelope decoder.
		Decoder EnvelopeDecoder
	}

	// Subscriber consumes Pulse streams and emits canonical chat events,
	// the cross-process counterpart of the sink.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}
)

// NewSubscriber constructs a Pulse-backed subscriber. The Client field in
// opts is required; the remaining fields default as documented on
// SubscriberOptions.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "inlet_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = DecodeEnvelope
	}
	return &Subscriber{
		client: opts.Client,
		buffer: buffer,
		name:   name,
		decode: decoder,
	}, nil
}

// Subscribe opens a consumer group on the given stream ID and returns
// channels for events and errors. A goroutine consumes from the sink,
// decodes payloads and emits chat events; the returned cancel function
// stops consumption and closes both channels.
func (s *Subscriber) Subscribe(
	ctx context.Context,
	streamID string,
	opts ...streamopts.Sink,
) (<-chan stream.Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan stream.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, events, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return events, errs, cancelFunc, nil
}

// consume reads from the Pulse sink, decodes and emits events, acking each
// one after successful emission. Closes both channels when ctx is cancelled
// or the sink channel closes; a decode or ack failure surfaces on errs and
// ends consumption.
func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- stream.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("pulse ack: %w", ackErr)
				return
			}
		}
	}
}

// DecodeEnvelope deserializes the default envelope format back into a
// canonical chat event by rebuilding the wire shape the stream package
// decodes.
func DecodeEnvelope(payload []byte) (stream.Event, error) {
	var env struct {
		Type      string          `json:"type"`
		ThreadID  string          `json:"thread_id"`
		Timestamp json.RawMessage `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	wire := map[string]json.RawMessage{
		"type": json.RawMessage(fmt.Sprintf("%q", env.Type)),
	}
	if len(env.Timestamp) > 0 {
		wire["timestamp"] = env.Timestamp
	}
	if len(env.Payload) > 0 {
		wire["data"] = env.Payload
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	return stream.DecodeEnvelope(raw, env.ThreadID, time.Now().UTC())
}
