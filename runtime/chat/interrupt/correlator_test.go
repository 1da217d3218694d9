package interrupt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/inlet/runtime/chat/stream"
)

// recordingResponder captures delivered responses and optionally blocks
// until released, to stage races between delivery and new prompts.
type recordingResponder struct {
	mu        sync.Mutex
	responses []Response
	threads   []string
	gate      chan struct{}
	err       error
}

func (r *recordingResponder) Respond(ctx context.Context, threadID string, resp Response) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
	r.threads = append(r.threads, threadID)
	return r.err
}

func (r *recordingResponder) all() []Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Response, len(r.responses))
	copy(out, r.responses)
	return out
}

func prompt(id string, timeoutSeconds int, defaultAction string) stream.Interrupt {
	p := stream.InterruptPayload{
		ID:             id,
		Kind:           "decision",
		Message:        "Proceed?",
		DefaultAction:  defaultAction,
		TimeoutSeconds: timeoutSeconds,
	}
	return stream.Interrupt{Base: stream.NewBase(stream.EventInterrupt, "th-1", time.Now(), p), Data: p}
}

func waitAck(t *testing.T, c *Correlator) Ack {
	t.Helper()
	select {
	case ack := <-c.AckC():
		return ack
	case <-time.After(time.Second):
		t.Fatal("no ack delivered")
		return Ack{}
	}
}

func TestOfferMakesPromptActive(t *testing.T) {
	c := New(Options{})
	c.Bind("th-1")
	require.Nil(t, c.Active())

	c.Offer(prompt("int-1", 0, ""))
	active := c.Active()
	require.NotNil(t, active)
	assert.Equal(t, "int-1", active.ID)
	assert.Nil(t, c.TimeoutC())
}

func TestNewPromptSupersedesForDisplay(t *testing.T) {
	c := New(Options{})
	c.Bind("th-1")
	c.Offer(prompt("int-1", 0, ""))
	c.Offer(prompt("int-2", 0, ""))
	assert.Equal(t, "int-2", c.Active().ID)
}

func TestSubmitDeliversAndAckClears(t *testing.T) {
	rec := &recordingResponder{}
	c := New(Options{Responder: rec})
	c.Bind("th-1")
	c.Offer(prompt("int-1", 0, ""))

	require.NoError(t, c.Submit(context.Background(), ActionApprove, nil))
	ack := waitAck(t, c)
	assert.Equal(t, "int-1", ack.InterruptID)
	require.NoError(t, ack.Err)

	c.Acknowledge(ack)
	assert.Nil(t, c.Active())

	responses := rec.all()
	require.Len(t, responses, 1)
	assert.Equal(t, Response{InterruptID: "int-1", Action: ActionApprove}, responses[0])
	assert.Equal(t, "th-1", rec.threads[0])
}

func TestStaleAckLeavesNewerPrompt(t *testing.T) {
	rec := &recordingResponder{gate: make(chan struct{})}
	c := New(Options{Responder: rec})
	c.Bind("th-1")

	// A is active and its response is in flight when B arrives.
	c.Offer(prompt("int-a", 0, ""))
	require.NoError(t, c.Submit(context.Background(), ActionApprove, nil))
	c.Offer(prompt("int-b", 0, ""))

	close(rec.gate)
	ack := waitAck(t, c)
	assert.Equal(t, "int-a", ack.InterruptID)

	c.Acknowledge(ack)
	// B stays: the stale ack for A must not clear it.
	require.NotNil(t, c.Active())
	assert.Equal(t, "int-b", c.Active().ID)
}

func TestSubmitWithoutPrompt(t *testing.T) {
	c := New(Options{})
	c.Bind("th-1")
	require.ErrorIs(t, c.Submit(context.Background(), ActionApprove, nil), ErrNoActivePrompt)
}

func TestExpireSubmitsDefaultAction(t *testing.T) {
	rec := &recordingResponder{}
	c := New(Options{Responder: rec})
	c.Bind("th-1")
	c.Offer(prompt("int-1", 1, "approve"))
	require.NotNil(t, c.TimeoutC())

	select {
	case <-c.TimeoutC():
	case <-time.After(3 * time.Second):
		t.Fatal("countdown never fired")
	}
	require.NoError(t, c.Expire(context.Background()))
	ack := waitAck(t, c)
	c.Acknowledge(ack)

	responses := rec.all()
	require.Len(t, responses, 1)
	assert.Equal(t, ActionApprove, responses[0].Action)
	assert.Nil(t, c.Active())
}

func TestExpireDefaultsToSkip(t *testing.T) {
	rec := &recordingResponder{}
	c := New(Options{Responder: rec})
	c.Bind("th-1")
	c.Offer(prompt("int-1", 1, ""))

	require.NoError(t, c.Expire(context.Background()))
	ack := waitAck(t, c)
	c.Acknowledge(ack)

	responses := rec.all()
	require.Len(t, responses, 1)
	assert.Equal(t, ActionSkip, responses[0].Action)
}

func TestDeliveryFailureStillAcksAndClears(t *testing.T) {
	rec := &recordingResponder{err: errors.New("boom")}
	c := New(Options{Responder: rec})
	c.Bind("th-1")
	c.Offer(prompt("int-1", 0, ""))

	require.NoError(t, c.Submit(context.Background(), ActionDeny, nil))
	ack := waitAck(t, c)
	require.Error(t, ack.Err)
	c.Acknowledge(ack)
	assert.Nil(t, c.Active())
}

func TestNewPromptResetsCountdown(t *testing.T) {
	now := time.Now()
	c := New(Options{Now: func() time.Time { return now }})
	c.Bind("th-1")
	c.Offer(prompt("int-1", 60, ""))
	assert.Equal(t, time.Minute, c.Remaining())

	c.Offer(prompt("int-2", 10, ""))
	assert.Equal(t, 10*time.Second, c.Remaining())
}

func TestBindClearsState(t *testing.T) {
	c := New(Options{})
	c.Bind("th-1")
	c.Offer(prompt("int-1", 30, ""))
	c.Bind("th-2")
	assert.Nil(t, c.Active())
	assert.Nil(t, c.TimeoutC())
	assert.Zero(t, c.Remaining())
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{9 * time.Second, "0:09"},
		{61 * time.Second, "1:01"},
		{10 * time.Minute, "10:00"},
		{-time.Second, "0:00"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatRemaining(tc.d))
	}
}
