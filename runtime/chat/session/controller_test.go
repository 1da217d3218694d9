package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/inlet/runtime/chat/interrupt"
	"goa.design/inlet/runtime/chat/stream"
)

// scriptOpener runs a test-provided script that feeds the event channel.
// The script must bail out when ctx is done; sendEvent does that.
type scriptOpener struct {
	script  func(ctx context.Context, events chan<- stream.Event, errs chan<- error)
	openErr error
}

func (o *scriptOpener) Open(ctx context.Context, req Request) (<-chan stream.Event, <-chan error, context.CancelFunc, error) {
	if o.openErr != nil {
		return nil, nil, nil, o.openErr
	}
	events := make(chan stream.Event)
	errs := make(chan error, 1)
	cctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(events)
		defer close(errs)
		o.script(cctx, events, errs)
	}()
	return events, errs, cancel, nil
}

func sendEvent(ctx context.Context, events chan<- stream.Event, ev stream.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// memStore records appended messages.
type memStore struct {
	mu       sync.Mutex
	messages []Message
}

func (s *memStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = "msg-1"
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memStore) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return nil, ErrThreadNotFound
	}
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out, nil
}

func (s *memStore) all() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func token(content string) stream.Token {
	p := stream.TokenPayload{Content: content}
	return stream.Token{Base: stream.NewBase(stream.EventToken, "th-1", time.Now(), p), Data: p}
}

func complete() stream.Complete {
	return stream.Complete{Base: stream.NewBase(stream.EventComplete, "th-1", time.Now(), stream.CompletePayload{})}
}

func stageEvent(name string, status stream.Status) stream.Stage {
	p := stream.StagePayload{Name: name, Status: status}
	return stream.Stage{Base: stream.NewBase(stream.EventStage, "th-1", time.Now(), p), Data: p}
}

func toolCallEvent(id, tool string) stream.ToolCall {
	p := stream.ToolCallPayload{ID: id, Tool: tool}
	return stream.ToolCall{Base: stream.NewBase(stream.EventToolCall, "th-1", time.Now(), p), Data: p}
}

func interruptEvent(id string, timeoutSeconds int) stream.Interrupt {
	p := stream.InterruptPayload{ID: id, Kind: "confirm", Message: "ok?", TimeoutSeconds: timeoutSeconds}
	return stream.Interrupt{Base: stream.NewBase(stream.EventInterrupt, "th-1", time.Now(), p), Data: p}
}

func newTestController(t *testing.T, opener StreamOpener, store Store, responder interrupt.Responder) *Controller {
	t.Helper()
	c, err := New(Options{
		Opener:        opener,
		Store:         store,
		Responder:     responder,
		FlushInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func waitDone(t *testing.T, run *Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run never finished")
	}
}

func TestCompleteFlowPersistsMergedContent(t *testing.T) {
	fragments := []string{"The ", "answer ", "is ", "42."}
	opener := &scriptOpener{script: func(ctx context.Context, events chan<- stream.Event, errs chan<- error) {
		for _, f := range fragments {
			sendEvent(ctx, events, token(f))
		}
		sendEvent(ctx, events, complete())
	}}
	store := &memStore{}
	c := newTestController(t, opener, store, nil)

	run, err := c.Start(context.Background(), Request{ThreadID: "th-1", Content: "question"})
	require.NoError(t, err)
	waitDone(t, run)

	require.NoError(t, run.Err())
	msgs := store.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, strings.Join(fragments, ""), msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.False(t, msgs[0].Cancelled)
	assert.True(t, run.Result().Persisted)
}

func TestBurstPaintsFewerThanFragments(t *testing.T) {
	const n = 20
	opener := &scriptOpener{script: func(ctx context.Context, events chan<- stream.Event, errs chan<- error) {
		for i := 0; i < n; i++ {
			sendEvent(ctx, events, token("x"))
		}
		sendEvent(ctx, events, complete())
	}}
	c := newTestController(t, opener, nil, nil)

	run, err := c.Start(context.Background(), Request{ThreadID: "th-1"})
	require.NoError(t, err)

	paints := 0
	var last Snapshot
	for {
		select {
		case snap := <-c.Updates():
			paints++
			last = snap
			continue
		case <-run.Done():
		}
		break
	}
	// Drain the final conflated paint, if pending.
	select {
	case snap := <-c.Updates():
		paints++
		last = snap
	default:
	}

	assert.Less(t, paints, n)
	assert.Equal(t, strings.Repeat("x", n), last.Content)
}

func TestStageGroupingThroughController(t *testing.T) {
	opener := &scriptOpener{script: func(ctx context.Context, events chan<- stream.Event, errs chan<- error) {
		sendEvent(ctx, events, stageEvent("search", stream.StatusRunning))
		sendEvent(ctx, events, toolCallEvent("tc-1", "web_search"))
		// Retransmitted envelope must be a no-op.
		sendEvent(ctx, events, toolCallEvent("tc-1", "web_search"))
		sendEvent(ctx, events, stageEvent("search", stream.StatusCompleted))
		sendEvent(ctx, events, complete())
	}}
	store := &memStore{}
	c := newTestController(t, opener, store, nil)

	run, err := c.Start(context.Background(), Request{ThreadID: "th-1"})
	require.NoError(t, err)
	waitDone(t, run)

	msgs := store.all()
	require.Len(t, msgs, 1)
	// One tool_call despite the replay, plus two stage transitions.
	var tools, stages int
	for _, ev := range msgs[0].Events {
		switch ev.Type {
		case "tool_call":
			tools++
		case "stage":
			stages++
		}
	}
	assert.Equal(t, 1, tools)
	assert.Equal(t, 2, stages)
}

func TestCancelAppendsMarkerAndStopsPaints(t *testing.T) {
	opener := &scriptOpener{script: func(ctx context.Context, events chan<- stream.Event, errs chan<- error) {
		sendEvent(ctx, events, token("Hello"))
		<-ctx.Done()
	}}
	store := &memStore{}
	c := newTestController(t, opener, store, nil)

	run, err := c.Start(context.Background(), Request{ThreadID: "th-1"})
	require.NoError(t, err)

	// Wait for the flushed partial content to surface.
	select {
	case snap := <-c.Updates():
		require.Equal(t, "Hello", snap.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("no paint before cancel")
	}

	require.NoError(t, c.Cancel())
	waitDone(t, run)

	require.NoError(t, run.Err())
	assert.True(t, run.Result().Cancelled)
	msgs := store.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello\n\n"+CancelledMarker, msgs[0].Content)
	assert.True(t, msgs[0].Cancelled)

	// Zero further paints after cancellation.
	select {
	case snap := <-c.Updates():
		t.Fatalf("unexpected paint after cancel: %q", snap.Content)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMidStreamFailurePreservesPartialContent(t *testing.T) {
	opener := &scriptOpener{script: func(ctx context.Context, events chan<- stream.Event, errs chan<- error) {
		sendEvent(ctx, events, token("partial"))
		errs <- errors.New("connection reset")
	}}
	store := &memStore{}
	c := newTestController(t, opener, store, nil)

	run, err := c.Start(context.Background(), Request{ThreadID: "th-1"})
	require.NoError(t, err)
	waitDone(t, run)

	require.Error(t, run.Err())
	msgs := store.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "partial\n\n[connection error]", msgs[0].Content)
	assert.False(t, msgs[0].Cancelled)
}

func TestOpenFailurePersistsSyntheticMessage(t *testing.T) {
	opener := &scriptOpener{openErr: errors.New("502 bad gateway")}
	store := &memStore{}
	c := newTestController(t, opener, store, nil)

	run, err := c.Start(context.Background(), Request{ThreadID: "th-1"})
	require.NoError(t, err)
	waitDone(t, run)

	require.Error(t, run.Err())
	msgs := store.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "[connection error]", msgs[0].Content)
}

func TestBackendErrorEventReplacesContent(t *testing.T) {
	opener := &scriptOpener{script: func(ctx context.Context, events chan<- stream.Event, errs chan<- error) {
		sendEvent(ctx, events, token("doomed partial"))
		p := stream.ErrorPayload{Message: "quota exceeded"}
		sendEvent(ctx, events, stream.ErrorEvent{Base: stream.NewBase(stream.EventError, "th-1", time.Now(), p), Data: p})
		// The stream is not over just because one error event arrived.
		sendEvent(ctx, events, stageEvent("cleanup", stream.StatusRunning))
		sendEvent(ctx, events, complete())
	}}
	store := &memStore{}
	c := newTestController(t, opener, store, nil)

	run, err := c.Start(context.Background(), Request{ThreadID: "th-1"})
	require.NoError(t, err)
	waitDone(t, run)

	require.NoError(t, run.Err())
	msgs := store.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "quota exceeded", msgs[0].Content)
}

func TestInterruptRaceNewerPromptSurvivesStaleAck(t *testing.T) {
	gate := make(chan struct{})
	responder := &gatedResponder{gate: gate}
	release := make(chan struct{})
	opener := &scriptOpener{script: func(ctx context.Context, events chan<- stream.Event, errs chan<- error) {
		sendEvent(ctx, events, interruptEvent("int-a", 0))
		<-release
		sendEvent(ctx, events, interruptEvent("int-b", 0))
		<-ctx.Done()
	}}
	c := newTestController(t, opener, nil, responder)

	run, err := c.Start(context.Background(), Request{ThreadID: "th-1"})
	require.NoError(t, err)

	waitForInterrupt(t, c, "int-a")
	// Answer A; its delivery is gated so the ack is still in flight when B
	// arrives and becomes active.
	require.NoError(t, c.Respond(context.Background(), interrupt.ActionApprove, nil))
	close(release)
	waitForInterrupt(t, c, "int-b")
	close(gate)

	// B must stay active after A's stale ack lands.
	require.Eventually(t, func() bool {
		return responder.count() == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	snap := latestSnapshot(t, c)
	require.NotNil(t, snap.Interrupt)
	assert.Equal(t, "int-b", snap.Interrupt.ID)

	require.NoError(t, c.Cancel())
	waitDone(t, run)
}

func TestInterruptTimeoutAutoSubmitsDefaultAction(t *testing.T) {
	responder := &recordingActionResponder{}
	opener := &scriptOpener{script: func(ctx context.Context, events chan<- stream.Event, errs chan<- error) {
		p := stream.InterruptPayload{ID: "int-1", Kind: "confirm", Message: "ok?", DefaultAction: "approve", TimeoutSeconds: 1}
		sendEvent(ctx, events, stream.Interrupt{Base: stream.NewBase(stream.EventInterrupt, "th-1", time.Now(), p), Data: p})
		<-ctx.Done()
	}}
	c := newTestController(t, opener, nil, responder)

	run, err := c.Start(context.Background(), Request{ThreadID: "th-1"})
	require.NoError(t, err)
	waitForInterrupt(t, c, "int-1")

	// The countdown expires and exactly one response carrying the default
	// action leaves through the responder; the active slot clears.
	require.Eventually(t, func() bool {
		return len(responder.all()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, interrupt.ActionApprove, responder.all()[0].Action)

	// The ack clears the slot; consume paints until the prompt is gone.
	cleared := time.After(3 * time.Second)
	for {
		var snap Snapshot
		select {
		case snap = <-c.Updates():
		case <-cleared:
			t.Fatal("interrupt slot never cleared")
		}
		if snap.Interrupt == nil {
			break
		}
	}
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, responder.all(), 1)

	require.NoError(t, c.Cancel())
	waitDone(t, run)
}

func TestSecondStartCancelsFirst(t *testing.T) {
	opener1 := &scriptOpener{script: func(ctx context.Context, events chan<- stream.Event, errs chan<- error) {
		sendEvent(ctx, events, token("first"))
		<-ctx.Done()
	}}
	store := &memStore{}
	c := newTestController(t, opener1, store, nil)

	run1, err := c.Start(context.Background(), Request{ThreadID: "th-1"})
	require.NoError(t, err)

	// Give the first stream time to deliver its token.
	require.Eventually(t, func() bool {
		select {
		case <-c.Updates():
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	c.opener = &scriptOpener{script: func(ctx context.Context, events chan<- stream.Event, errs chan<- error) {
		sendEvent(ctx, events, token("second"))
		sendEvent(ctx, events, complete())
	}}
	run2, err := c.Start(context.Background(), Request{ThreadID: "th-1"})
	require.NoError(t, err)

	waitDone(t, run1)
	waitDone(t, run2)
	assert.True(t, run1.Result().Cancelled)
	assert.False(t, run2.Result().Cancelled)

	msgs := store.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first\n\n"+CancelledMarker, msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestEmptySnapshotNotPersisted(t *testing.T) {
	opener := &scriptOpener{script: func(ctx context.Context, events chan<- stream.Event, errs chan<- error) {
		sendEvent(ctx, events, complete())
	}}
	store := &memStore{}
	c := newTestController(t, opener, store, nil)

	run, err := c.Start(context.Background(), Request{ThreadID: "th-1"})
	require.NoError(t, err)
	waitDone(t, run)

	assert.Empty(t, store.all())
	assert.False(t, run.Result().Persisted)
}

func TestRespondWithoutRun(t *testing.T) {
	c := newTestController(t, &scriptOpener{}, nil, nil)
	require.ErrorIs(t, c.Respond(context.Background(), interrupt.ActionApprove, nil), ErrNoActiveRun)
	require.ErrorIs(t, c.Cancel(), ErrNoActiveRun)
}

// recordingActionResponder captures every delivered response.
type recordingActionResponder struct {
	mu        sync.Mutex
	responses []interrupt.Response
}

func (r *recordingActionResponder) Respond(ctx context.Context, threadID string, resp interrupt.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
	return nil
}

func (r *recordingActionResponder) all() []interrupt.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interrupt.Response, len(r.responses))
	copy(out, r.responses)
	return out
}

// gatedResponder blocks deliveries until its gate closes.
type gatedResponder struct {
	gate chan struct{}
	mu   sync.Mutex
	n    int
}

func (r *gatedResponder) Respond(ctx context.Context, threadID string, resp interrupt.Response) error {
	<-r.gate
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return nil
}

func (r *gatedResponder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func waitForInterrupt(t *testing.T, c *Controller, id string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-c.Updates():
			if snap.Interrupt != nil && snap.Interrupt.ID == id {
				return
			}
		case <-deadline:
			t.Fatalf("interrupt %s never surfaced", id)
		}
	}
}

func latestSnapshot(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	select {
	case snap := <-c.Updates():
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot pending")
		return Snapshot{}
	}
}
