// Package sse decodes a Server-Sent Events response body into canonical
// stream events. The decoder owns the framing concerns only: incremental
// line splitting across chunk boundaries, the `data: ` and `event: ` field
// prefixes, the `[DONE]` terminal sentinel, and skip-on-malformed-JSON
// resilience. Envelope normalization lives in runtime/chat/stream.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"goa.design/inlet/runtime/chat/stream"
	"goa.design/inlet/runtime/chat/telemetry"
)

const (
	// dataPrefix marks a payload-carrying SSE line.
	dataPrefix = "data: "
	// eventPrefix marks an SSE event-name line. Structurally valid but the
	// backend carries everything in the data payload, so these are discarded.
	eventPrefix = "event: "
	// doneSentinel is the literal terminal marker.
	doneSentinel = "[DONE]"

	metricFrames    = "chat.sse.frames"
	metricMalformed = "chat.sse.frames.malformed"
)

// ErrDone reports that the stream terminated with the `[DONE]` sentinel.
// It is a clean termination, distinct from io.EOF (producer closed the
// connection without a sentinel, equally clean) and from transport errors.
var ErrDone = errors.New("sse: stream done")

type (
	// Options configures a Decoder.
	Options struct {
		// ThreadID is the conversation thread decoded events are stamped
		// with.
		ThreadID string
		// Logger receives malformed-frame warnings. Defaults to noop.
		Logger telemetry.Logger
		// Metrics counts decoded and malformed frames. Defaults to noop.
		Metrics telemetry.Metrics
		// Now overrides the arrival-time clock. Defaults to time.Now.
		Now func() time.Time
	}

	// Decoder reads an SSE byte stream and yields canonical events one at a
	// time. It is not safe for concurrent use; a single read loop owns it.
	Decoder struct {
		r       *bufio.Reader
		thread  string
		logger  telemetry.Logger
		metrics telemetry.Metrics
		now     func() time.Time
		done    bool
	}
)

// NewDecoder wraps the response body r. The caller retains ownership of r
// and closes it after the read loop exits.
func NewDecoder(r io.Reader, opts Options) *Decoder {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Decoder{
		r:       bufio.NewReader(r),
		thread:  opts.ThreadID,
		logger:  logger,
		metrics: metrics,
		now:     now,
	}
}

// Next returns the next decoded event. It returns ErrDone when the `[DONE]`
// sentinel arrives, io.EOF when the producer closes the stream, and the
// underlying read error on transport failure. Malformed JSON lines are
// logged, counted and skipped; they never end the stream. A buffered
// partial line at EOF is discarded: a well-formed producer always
// terminates on a line boundary, so the fragment is a protocol violation,
// not data loss.
func (d *Decoder) Next(ctx context.Context) (stream.Event, error) {
	if d.done {
		return nil, ErrDone
	}
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(strings.TrimSpace(line)) > 0 {
					d.logger.Warn(ctx, "discarding partial sse line at eof", "bytes", len(line))
				}
				return nil, io.EOF
			}
			return nil, fmt.Errorf("sse: read: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, dataPrefix):
			payload := strings.TrimSpace(line[len(dataPrefix):])
			if payload == "" {
				continue
			}
			if payload == doneSentinel {
				d.done = true
				return nil, ErrDone
			}
			ev, err := stream.DecodeEnvelope([]byte(payload), d.thread, d.now())
			if err != nil {
				d.metrics.IncCounter(metricMalformed, 1)
				d.logger.Warn(ctx, "skipping malformed sse frame", "err", err)
				continue
			}
			d.metrics.IncCounter(metricFrames, 1, "type", string(ev.Type()))
			return ev, nil
		case strings.HasPrefix(line, eventPrefix):
			// Event-name lines carry no payload.
			continue
		default:
			// Blank separator lines and unknown fields (id:, retry:).
			continue
		}
	}
}
