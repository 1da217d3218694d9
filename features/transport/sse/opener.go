// Package sse implements the session stream opener over HTTP Server-Sent
// Events. It POSTs the request to the backend, verifies the response status
// before any body consumption, and feeds the decoded events into the
// channels the session controller consumes.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"goa.design/inlet/runtime/chat/session"
	"goa.design/inlet/runtime/chat/sse"
	"goa.design/inlet/runtime/chat/stream"
	"goa.design/inlet/runtime/chat/telemetry"
)

// maxErrorBody bounds how much of a failed response body is captured for
// diagnostics.
const maxErrorBody = 4 << 10

type (
	// Doer is the subset of *http.Client the opener needs.
	Doer interface {
		Do(req *http.Request) (*http.Response, error)
	}

	// StatusError reports a non-2xx backend response. The stream body is
	// never consumed when this is returned.
	StatusError struct {
		// Code is the HTTP status code.
		Code int
		// Body is a bounded excerpt of the response body.
		Body string
	}

	// Options configures an Opener.
	Options struct {
		// URL is the stream endpoint. Required.
		URL string
		// Doer executes the request. Defaults to http.DefaultClient. The
		// client must not enforce an overall timeout; streams are
		// long-lived and cancellation travels through the context.
		Doer Doer
		// Headers are added to every request (auth tokens and the like).
		Headers http.Header
		// Logger and Metrics default to noop implementations.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Opener implements session.StreamOpener over HTTP SSE.
	Opener struct {
		url     string
		doer    Doer
		headers http.Header
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}
)

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("stream request failed with status %d", e.Code)
}

// New constructs an Opener.
func New(opts Options) (*Opener, error) {
	if opts.URL == "" {
		return nil, errors.New("sse: endpoint url is required")
	}
	doer := opts.Doer
	if doer == nil {
		doer = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Opener{
		url:     opts.URL,
		doer:    doer,
		headers: opts.Headers,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Open POSTs the request and returns the decoded event stream. The returned
// cancel function aborts the body read at the I/O layer; the session
// controller calls it on every terminal path. A non-2xx response returns a
// *StatusError without consuming the body.
func (o *Opener) Open(ctx context.Context, req session.Request) (<-chan stream.Event, <-chan error, context.CancelFunc, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sse: marshal request: %w", err)
	}
	reqCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("sse: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	for k, vs := range o.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := o.doer.Do(httpReq)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("sse: connect: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		o.metrics.IncCounter("chat.transport.status_errors", 1, "status", fmt.Sprint(resp.StatusCode))
		return nil, nil, nil, &StatusError{Code: resp.StatusCode, Body: string(excerpt)}
	}

	events := make(chan stream.Event, 64)
	errs := make(chan error, 1)
	go o.consume(reqCtx, resp.Body, req.ThreadID, events, errs)
	return events, errs, cancel, nil
}

// consume drives the frame decoder until the stream terminates, forwarding
// events and surfacing at most one transport error. Closes both channels on
// exit.
func (o *Opener) consume(ctx context.Context, body io.ReadCloser, threadID string, events chan<- stream.Event, errs chan<- error) {
	defer close(events)
	defer close(errs)
	defer body.Close()

	dec := sse.NewDecoder(body, sse.Options{
		ThreadID: threadID,
		Logger:   o.logger,
		Metrics:  o.metrics,
	})
	for {
		ev, err := dec.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, sse.ErrDone), errors.Is(err, io.EOF):
				// Clean termination either way.
			case ctx.Err() != nil:
				// Aborted by the caller; the read error is a side effect of
				// cancellation, not a transport failure.
			default:
				errs <- err
			}
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
