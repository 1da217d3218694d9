// Package http delivers interrupt responses to the backend side channel.
// Responses travel outside the event stream, on a separate endpoint keyed by
// thread id, and their outcome is never awaited by the stream loop.
package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"goa.design/inlet/runtime/chat/interrupt"
	"goa.design/inlet/runtime/chat/telemetry"
)

const (
	defaultTimeout = 10 * time.Second
	defaultRetries = 2
)

type (
	// Options configures a Responder.
	Options struct {
		// BaseURL is the backend root, e.g. "https://api.example.com/v1".
		// Required.
		BaseURL string
		// Timeout bounds each delivery attempt. Defaults to 10s.
		Timeout time.Duration
		// Retries is the retry count for failed deliveries. Zero disables
		// retries; negative values fall back to the default of 2.
		Retries int
		// Headers are added to every request.
		Headers map[string]string
		// Logger and Metrics default to noop implementations.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Responder implements interrupt.Responder over HTTP.
	Responder struct {
		client  *resty.Client
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}
)

// New constructs a Responder.
func New(opts Options) (*Responder, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("hitl: base url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := opts.Retries
	if retries < 0 {
		retries = defaultRetries
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		AddRetryCondition(func(res *resty.Response, err error) bool {
			return err != nil || res.StatusCode() >= 500
		}).
		SetHeaders(opts.Headers)
	return &Responder{client: client, logger: logger, metrics: metrics}, nil
}

// Respond POSTs the response to the thread's interrupt endpoint. Implements
// interrupt.Responder.
func (r *Responder) Respond(ctx context.Context, threadID string, resp interrupt.Response) error {
	if threadID == "" {
		return errors.New("hitl: thread id is required")
	}
	if resp.InterruptID == "" {
		return errors.New("hitl: interrupt id is required")
	}
	started := time.Now()
	res, err := r.client.R().
		SetContext(ctx).
		SetBody(resp).
		SetPathParams(map[string]string{
			"thread":    threadID,
			"interrupt": resp.InterruptID,
		}).
		Post("/threads/{thread}/interrupts/{interrupt}")
	r.metrics.RecordTimer("chat.hitl.respond", time.Since(started))
	if err != nil {
		return fmt.Errorf("hitl: deliver response: %w", err)
	}
	if res.IsError() {
		r.metrics.IncCounter("chat.hitl.respond_errors", 1, "status", fmt.Sprint(res.StatusCode()))
		return fmt.Errorf("hitl: deliver response: status %d", res.StatusCode())
	}
	r.logger.Debug(ctx, "interrupt response delivered",
		"thread_id", threadID, "interrupt_id", resp.InterruptID, "action", string(resp.Action))
	return nil
}
