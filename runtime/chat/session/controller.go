package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"goa.design/inlet/runtime/chat/coalesce"
	"goa.design/inlet/runtime/chat/interrupt"
	"goa.design/inlet/runtime/chat/stream"
	"goa.design/inlet/runtime/chat/telemetry"
	"goa.design/inlet/runtime/chat/timeline"
)

const (
	// connectionErrorText is the synthetic assistant content persisted when
	// the transport fails before or during the stream.
	connectionErrorText = "[connection error]"

	// defaultFrameInterval bounds browser frame repaints.
	defaultFrameInterval = 100 * time.Millisecond

	// persistTimeout bounds the terminal store call. Teardown may run with
	// an already-cancelled request context, so persistence gets its own.
	persistTimeout = 5 * time.Second
)

// ErrNoActiveRun reports a Respond or Cancel with no stream in flight.
var ErrNoActiveRun = errors.New("session: no active run")

type (
	// Options configures a Controller.
	Options struct {
		// Opener opens the event stream for each request. Required.
		Opener StreamOpener
		// Store persists terminal messages. Nil disables persistence.
		Store Store
		// Responder delivers interrupt responses to the side channel. Nil
		// acks interrupt submissions without delivery.
		Responder interrupt.Responder
		// Sink receives every routed event for out-of-process fan-out. Nil
		// disables fan-out. Send failures are logged, never fatal.
		Sink stream.Sink
		// FlushInterval is the token batch window. Defaults to
		// coalesce.DefaultInterval.
		FlushInterval time.Duration
		// FrameInterval bounds browser frame repaints. Defaults to
		// defaultFrameInterval.
		FrameInterval time.Duration
		// Logger, Metrics and Tracer default to noop implementations.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
		// Now overrides the clock. Defaults to time.Now.
		Now func() time.Time
	}

	// Controller drives one stream at a time. All per-request mutable state
	// (coalescer, timeline, correlator, accumulator) is owned by the run
	// loop goroutine; user-facing calls communicate with the loop through
	// channels, so the loop never takes a lock on the hot path.
	Controller struct {
		opener    StreamOpener
		store     Store
		sink      stream.Sink
		logger    telemetry.Logger
		metrics   telemetry.Metrics
		tracer    telemetry.Tracer
		now       func() time.Time
		frameRate rate.Limit

		coal *coalesce.Coalescer
		tl   *timeline.Timeline
		corr *interrupt.Correlator

		updates chan Snapshot
		cmds    chan command

		mu  sync.Mutex
		run *Run
	}

	// Run is the handle of one in-flight (or finished) stream.
	Run struct {
		// ID is a readable unique run identifier.
		ID string
		// ThreadID is the conversation the run belongs to.
		ThreadID string

		cancel    context.CancelFunc
		cancelled atomic.Bool
		done      chan struct{}
		err       error
		result    Result
	}

	// Result is the terminal outcome of a run.
	Result struct {
		// Message is the persisted assistant message. Zero when the
		// snapshot was empty and nothing was persisted.
		Message Message
		// Persisted reports whether Message was handed to the store.
		Persisted bool
		// Cancelled reports a user-stopped run.
		Cancelled bool
	}

	// command is a user-facing call forwarded into the run loop.
	command struct {
		action interrupt.Action
		value  any
		errc   chan error
	}
)

// New constructs a Controller.
func New(opts Options) (*Controller, error) {
	if opts.Opener == nil {
		return nil, errors.New("session: stream opener is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	frameInterval := opts.FrameInterval
	if frameInterval <= 0 {
		frameInterval = defaultFrameInterval
	}
	return &Controller{
		opener:    opts.Opener,
		store:     opts.Store,
		sink:      opts.Sink,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		now:       now,
		frameRate: rate.Every(frameInterval),
		coal:      coalesce.New(coalesce.Options{Interval: opts.FlushInterval}),
		tl:        timeline.New(),
		corr:      interrupt.New(interrupt.Options{Responder: opts.Responder, Logger: logger, Now: now}),
		updates:   make(chan Snapshot, 1),
		cmds:      make(chan command),
	}, nil
}

// Updates delivers presentation snapshots. The channel conflates: while a
// snapshot is pending, publishing replaces it, so the consumer always reads
// the latest state and bursts collapse into at most one pending paint.
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// Start begins a new run. Any run still in flight is cancelled first and its
// teardown completes before the new stream opens; per-request state is reset
// in between, so runs never share mutable state. Transport failures do not
// escape: a run whose stream could not be opened finishes immediately with a
// persisted connection-error message and its Err set.
func (c *Controller) Start(ctx context.Context, req Request) (*Run, error) {
	if req.ThreadID == "" {
		return nil, errors.New("session: thread id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev := c.run; prev != nil {
		select {
		case <-prev.done:
		default:
			prev.cancelled.Store(true)
			prev.cancel()
			<-prev.done
		}
	}

	c.coal.Reset()
	c.tl.Reset()
	c.corr.Bind(req.ThreadID)
	c.drainUpdates()

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:       "chat-" + uuid.NewString(),
		ThreadID: req.ThreadID,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.run = run

	runCtx, span := c.tracer.Start(runCtx, "chat.stream")
	events, errs, cancelTransport, err := c.opener.Open(runCtx, req)
	if err != nil {
		c.logger.Error(ctx, "stream open failed", "thread_id", req.ThreadID, "err", err)
		c.metrics.IncCounter("chat.stream.open_errors", 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		span.End()
		run.err = err
		run.result = c.persistFailure(run)
		cancel()
		close(run.done)
		return run, nil
	}

	go c.loop(runCtx, span, run, req, events, errs, cancelTransport)
	return run, nil
}

// Cancel stops the active run. The abort propagates to the transport; the
// run's teardown appends the cancellation marker and persists the partial
// content. Returns ErrNoActiveRun when nothing is in flight.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()
	if run == nil {
		return ErrNoActiveRun
	}
	select {
	case <-run.done:
		return ErrNoActiveRun
	default:
	}
	run.cancelled.Store(true)
	run.cancel()
	return nil
}

// Respond answers the active interrupt with the given action. The call is
// forwarded into the run loop, which owns the correlator; delivery happens
// off-loop and its acknowledgment clears the prompt only if it is still the
// active one.
func (c *Controller) Respond(ctx context.Context, action interrupt.Action, value any) error {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()
	if run == nil {
		return ErrNoActiveRun
	}
	cmd := command{action: action, value: value, errc: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-run.done:
		return ErrNoActiveRun
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done reports run completion.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err returns the terminal error of the run, nil for success and user
// cancellation. Valid after Done is closed.
func (r *Run) Err() error { return r.err }

// Result returns the terminal outcome. Valid after Done is closed.
func (r *Run) Result() Result { return r.result }

// loop is the single goroutine that owns all per-request state. Every
// suspension point is a select case: the event channel, the transport error
// channel, the coalescer flush timer, the interrupt countdown, response
// acknowledgments and forwarded user commands.
func (c *Controller) loop(
	ctx context.Context,
	span telemetry.Span,
	run *Run,
	req Request,
	events <-chan stream.Event,
	errs <-chan error,
	cancelTransport context.CancelFunc,
) {
	started := c.now()
	sctx := newStreamingContext()
	limiter := rate.NewLimiter(c.frameRate, 1)
	var failure error

	defer func() {
		c.teardown(span, run, sctx, failure, started)
		cancelTransport()
		run.cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			if !run.cancelled.Load() {
				failure = ctx.Err()
			}
			return
		case ev, ok := <-events:
			if !ok {
				// The transport goroutine reports its error before closing
				// both channels, so when events closes first the error is
				// already buffered.
				select {
				case err := <-errs:
					if err != nil {
						failure = err
					}
				default:
				}
				return
			}
			if done := c.route(ctx, sctx, limiter, ev); done {
				return
			}
		case err := <-errs:
			if err != nil {
				failure = err
			}
			return
		case <-c.coal.FlushC():
			if c.coal.Flush() {
				c.publish(sctx)
			}
		case <-c.corr.TimeoutC():
			if err := c.corr.Expire(ctx); err != nil {
				c.logger.Warn(ctx, "interrupt expiry submit failed", "err", err)
			}
			c.publish(sctx)
		case ack := <-c.corr.AckC():
			c.corr.Acknowledge(ack)
			c.publish(sctx)
		case cmd := <-c.cmds:
			cmd.errc <- c.corr.Submit(ctx, cmd.action, cmd.value)
			c.publish(sctx)
		}
	}
}

// route folds one event into the per-request state. Returns true when the
// event terminates the stream.
func (c *Controller) route(ctx context.Context, sctx *streamingContext, limiter *rate.Limiter, ev stream.Event) bool {
	c.forward(ctx, ev)
	switch e := ev.(type) {
	case stream.Token:
		c.coal.Add(e.Data.Content)
	case stream.Complete:
		return true
	case stream.ErrorEvent:
		// The backend reported a failure mid-stream. The accumulated reply
		// is superseded by the error text; the stream is not necessarily
		// over, so keep consuming.
		c.coal.Flush()
		c.coal.SetText(e.Data.Message)
		sctx.add(ev)
		c.publish(sctx)
	case stream.Interrupt:
		if sctx.add(ev) {
			c.corr.Offer(e)
			c.publish(sctx)
		}
	case stream.Source:
		if sctx.addSource(e) {
			c.publish(sctx)
		}
	case stream.Image:
		if sctx.addImage(e) {
			c.publish(sctx)
		}
	case stream.BrowserStream:
		sctx.setFrame(e.Data)
		if limiter.Allow() {
			c.publish(sctx)
		}
	default:
		// Stage, tool, browser action, routing, handoff, code and skill
		// events all shape the timeline. Buffered tokens flush first so the
		// transcript never lags a surfaced stage transition.
		c.coal.Flush()
		if sctx.add(ev) {
			c.tl.Apply(ev)
			c.publish(sctx)
		} else {
			c.metrics.IncCounter("chat.stream.events.deduped", 1, "type", string(ev.Type()))
		}
	}
	return false
}

// forward hands the event to the configured fan-out sink. Failures never
// abort the stream.
func (c *Controller) forward(ctx context.Context, ev stream.Event) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Send(ctx, ev); err != nil {
		c.logger.Warn(ctx, "sink send failed", "type", string(ev.Type()), "err", err)
	}
}

// publish delivers the current snapshot, replacing any pending stale one.
func (c *Controller) publish(sctx *streamingContext) {
	snap := Snapshot{
		Content:   c.coal.Text(),
		Groups:    c.tl.Groups(),
		Sources:   sctx.sourcesCopy(),
		Images:    sctx.imagesCopy(),
		Frame:     sctx.frameCopy(),
		Interrupt: c.corr.Active(),
	}
	for {
		select {
		case c.updates <- snap:
			return
		default:
			select {
			case <-c.updates:
			default:
			}
		}
	}
}

// teardown runs exactly once per run, on every terminal path, in order:
// flush the coalescer, decorate the content for the path taken, snapshot the
// accumulator, clear all transient state (timers included), persist the
// snapshot when non-empty, and release the run handle.
func (c *Controller) teardown(span telemetry.Span, run *Run, sctx *streamingContext, failure error, started time.Time) {
	c.coal.Flush()

	cancelled := run.cancelled.Load()
	switch {
	case cancelled:
		if c.coal.Text() != "" {
			c.coal.Append("\n\n")
		}
		c.coal.Append(CancelledMarker)
	case failure != nil:
		if c.coal.Text() != "" {
			c.coal.Append("\n\n")
		}
		c.coal.Append(connectionErrorText)
	}

	content := c.coal.Text()
	events := sctx.events
	sources := sctx.sourcesCopy()
	images := sctx.imagesCopy()

	if cancelled {
		// No paints after cancellation: drop a pending stale snapshot too.
		c.drainUpdates()
	} else {
		// Final paint so the presentation layer observes the flushed tail.
		c.publish(sctx)
	}

	c.coal.Reset()
	c.tl.Reset()
	c.corr.Reset()

	result := Result{Cancelled: cancelled}
	if content != "" || len(events) > 0 || len(images) > 0 {
		msg := Message{
			ThreadID:  run.ThreadID,
			Role:      RoleAssistant,
			Content:   content,
			Events:    storedEvents(events),
			Sources:   sources,
			Images:    images,
			Cancelled: cancelled,
		}
		result.Message = c.persist(msg)
		result.Persisted = c.store != nil
	}

	c.metrics.RecordTimer("chat.stream.duration", c.now().Sub(started))
	switch {
	case failure != nil:
		span.RecordError(failure)
		span.SetStatus(codes.Error, "stream failed")
	case cancelled:
		span.SetStatus(codes.Ok, "cancelled")
	default:
		span.SetStatus(codes.Ok, "completed")
	}
	span.End()

	run.err = failure
	run.result = result
	close(run.done)
}

// persistFailure builds and persists the synthetic connection-error message
// for a stream that never opened.
func (c *Controller) persistFailure(run *Run) Result {
	msg := Message{
		ThreadID: run.ThreadID,
		Role:     RoleAssistant,
		Content:  connectionErrorText,
	}
	return Result{Message: c.persist(msg), Persisted: c.store != nil}
}

// persist hands the message to the store with its own timeout; the request
// context may already be cancelled on the paths that reach here. Store
// failures are logged, never propagated: the stream outcome stands
// regardless of persistence.
func (c *Controller) persist(msg Message) Message {
	if c.store == nil {
		return msg
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	stored, err := c.store.AppendMessage(ctx, msg)
	if err != nil {
		c.logger.Error(ctx, "persist terminal message failed",
			"thread_id", msg.ThreadID, "err", fmt.Errorf("append message: %w", err))
		return msg
	}
	return stored
}

// drainUpdates removes a pending snapshot, if any.
func (c *Controller) drainUpdates() {
	select {
	case <-c.updates:
	default:
	}
}
