// Package interrupt correlates human-in-the-loop prompts with their
// responses. The backend may issue a prompt mid-stream; exactly one prompt
// is active at a time, a countdown auto-submits its default action, and a
// stale acknowledgment never clears a newer prompt.
package interrupt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goa.design/inlet/runtime/chat/stream"
	"goa.design/inlet/runtime/chat/telemetry"
)

// Action enumerates the ways a response answers a prompt. All exits from the
// active slot, user submission, countdown expiry and explicit cancel, travel
// through Submit with one of these values.
type Action string

const (
	// ActionSelect answers a decision prompt with one of its options.
	ActionSelect Action = "select"
	// ActionInput answers an input prompt with free text.
	ActionInput Action = "input"
	// ActionApprove answers a confirm prompt affirmatively.
	ActionApprove Action = "approve"
	// ActionDeny answers a confirm prompt negatively.
	ActionDeny Action = "deny"
	// ActionSkip declines to answer; also the fallback default action.
	ActionSkip Action = "skip"
	// ActionCancel abandons the prompt explicitly.
	ActionCancel Action = "cancel"
)

// ErrNoActivePrompt reports a Submit with no prompt to answer.
var ErrNoActivePrompt = errors.New("interrupt: no active prompt")

type (
	// Prompt is the display model of one pending interrupt.
	Prompt struct {
		// ID is unique per interrupt and correlates the response.
		ID string
		// Kind is the prompt flavor: decision, input or confirm.
		Kind string
		// Message is the prompt text.
		Message string
		// Options enumerates the choices for decision prompts.
		Options []stream.InterruptOption
		// DefaultAction is auto-submitted on countdown expiry; empty means
		// skip.
		DefaultAction string
		// Deadline is when the countdown expires; zero when the prompt has
		// no timeout.
		Deadline time.Time
		// ReceivedAt is the prompt arrival time.
		ReceivedAt time.Time
	}

	// Response is the answer delivered to the side channel.
	Response struct {
		// InterruptID references the prompt being answered.
		InterruptID string `json:"interrupt_id"`
		// Action is how the prompt was answered.
		Action Action `json:"action"`
		// Value carries the selected option or input text when Action
		// requires one.
		Value any `json:"value,omitempty"`
	}

	// Ack reports the outcome of one dispatched response. The controller
	// loop consumes acks and forwards them to Acknowledge.
	Ack struct {
		// InterruptID is the prompt the response was issued for.
		InterruptID string
		// Err is the side-channel delivery error, if any. Delivery failure
		// still clears the slot; the prompt was answered as far as the user
		// is concerned.
		Err error
	}

	// Responder delivers responses to the backend side channel. The result
	// is not awaited by the stream loop; it comes back as an Ack.
	Responder interface {
		Respond(ctx context.Context, threadID string, resp Response) error
	}

	// Options configures a Correlator.
	Options struct {
		// Responder delivers responses. Required for Submit to do anything
		// useful; nil acks immediately without delivery (tests, demos).
		Responder Responder
		// Logger receives dispatch failures. Defaults to noop.
		Logger telemetry.Logger
		// Now overrides the clock. Defaults to time.Now.
		Now func() time.Time
	}

	// Correlator is the single-slot prompt state machine: idle, then
	// awaiting a response, then idle again. The session controller loop
	// owns it; Offer/Submit/Acknowledge/Expire are called from that one
	// goroutine, and only the dispatched Respond call runs elsewhere.
	Correlator struct {
		responder Responder
		logger    telemetry.Logger
		now       func() time.Time

		thread string
		active *Prompt
		timer  *time.Timer
		acks   chan Ack
	}
)

// New returns an idle Correlator.
func New(opts Options) *Correlator {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Correlator{
		responder: opts.Responder,
		logger:    logger,
		now:       now,
		// Small buffer so a late ack never blocks its dispatcher after the
		// consumer loop has exited.
		acks: make(chan Ack, 4),
	}
}

// Bind resets the correlator for a new request on the given thread.
func (c *Correlator) Bind(threadID string) {
	c.Reset()
	c.thread = threadID
}

// Reset clears the slot and any countdown so no timer fires against a
// discarded request. Part of controller teardown.
func (c *Correlator) Reset() {
	c.active = nil
	c.disarm()
	// Drain stale acks from the previous request.
	for {
		select {
		case <-c.acks:
		default:
			return
		}
	}
}

// Offer installs a new active prompt, superseding any prior unanswered one
// for display. The countdown is re-armed from the prompt's timeout; a
// prompt without a timeout disarms it.
func (c *Correlator) Offer(ev stream.Interrupt) {
	p := Prompt{
		ID:            ev.Data.ID,
		Kind:          ev.Data.Kind,
		Message:       ev.Data.Message,
		Options:       ev.Data.Options,
		DefaultAction: ev.Data.DefaultAction,
		ReceivedAt:    ev.OccurredAt(),
	}
	c.disarm()
	if ev.Data.TimeoutSeconds > 0 {
		timeout := time.Duration(ev.Data.TimeoutSeconds) * time.Second
		p.Deadline = c.now().Add(timeout)
		c.timer = time.NewTimer(timeout)
	}
	c.active = &p
}

// Active returns a copy of the active prompt, or nil when idle.
func (c *Correlator) Active() *Prompt {
	if c.active == nil {
		return nil
	}
	cp := *c.active
	return &cp
}

// Submit dispatches a response for the active prompt. The response is
// delivered off-loop; its outcome arrives on AckC carrying the id the
// response was issued for, so a prompt that superseded this one in the
// meantime is never cleared by the ack. This is the single exit path: user
// answers, countdown expiry and explicit cancel all pass through here.
func (c *Correlator) Submit(ctx context.Context, action Action, value any) error {
	if c.active == nil {
		return ErrNoActivePrompt
	}
	resp := Response{InterruptID: c.active.ID, Action: action, Value: value}
	thread := c.thread
	go func() {
		var err error
		if c.responder != nil {
			err = c.responder.Respond(ctx, thread, resp)
		}
		if err != nil {
			c.logger.Error(ctx, "interrupt response delivery failed",
				"thread_id", thread, "interrupt_id", resp.InterruptID, "err", err)
		}
		c.acks <- Ack{InterruptID: resp.InterruptID, Err: err}
	}()
	return nil
}

// AckC delivers the outcome of dispatched responses.
func (c *Correlator) AckC() <-chan Ack {
	return c.acks
}

// Acknowledge clears the active slot only when the acked id still matches
// the active prompt. A stale ack for a superseded prompt leaves the newer
// prompt untouched.
func (c *Correlator) Acknowledge(ack Ack) {
	if c.active == nil || c.active.ID != ack.InterruptID {
		return
	}
	c.active = nil
	c.disarm()
}

// TimeoutC returns the countdown expiry channel, or nil when no countdown
// is armed.
func (c *Correlator) TimeoutC() <-chan time.Time {
	if c.timer == nil {
		return nil
	}
	return c.timer.C
}

// Expire auto-submits the active prompt's default action after countdown
// expiry, or skip when none is declared.
func (c *Correlator) Expire(ctx context.Context) error {
	c.timer = nil
	if c.active == nil {
		return nil
	}
	action := ActionSkip
	if c.active.DefaultAction != "" {
		action = Action(c.active.DefaultAction)
	}
	return c.Submit(ctx, action, nil)
}

// Remaining returns the time left on the active prompt's countdown, floored
// at zero. Prompts without a timeout return zero.
func (c *Correlator) Remaining() time.Duration {
	if c.active == nil || c.active.Deadline.IsZero() {
		return 0
	}
	d := c.active.Deadline.Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}

// disarm stops and clears the countdown timer, draining a fired tick so a
// later TimeoutC never yields a stale one.
func (c *Correlator) disarm() {
	if c.timer == nil {
		return
	}
	if !c.timer.Stop() {
		select {
		case <-c.timer.C:
		default:
		}
	}
	c.timer = nil
}

// FormatRemaining renders a countdown duration as m:ss for display.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
