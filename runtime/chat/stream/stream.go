// Package stream defines the canonical event taxonomy for a chat stream. The
// backend emits a heterogeneous sequence of typed envelopes over a single SSE
// response; the frame decoder normalizes each envelope into one of the event
// types declared here and every downstream component (coalescer, timeline,
// interrupt correlator, session controller, fan-out sinks) consumes only this
// canonical shape.
//
// Events are immutable once decoded. Mutable bookkeeping such as closing out
// a tool call when its result arrives belongs to the timeline package, never
// to the events themselves.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type (
	// Sink consumes canonical events for delivery to out-of-process
	// observers (for example a Pulse stream republisher). The session
	// controller feeds every routed event to the configured Sink.
	//
	// Implementations must be safe for concurrent use. Send should respect
	// ctx cancellation; a failed Send never aborts stream consumption, the
	// controller logs and moves on.
	Sink interface {
		// Send publishes a single event.
		Send(ctx context.Context, event Event) error
		// Close releases resources owned by the sink.
		Close(ctx context.Context) error
	}

	// Event describes one decoded stream envelope. All concrete event types
	// embed Base to provide standard metadata (type, thread ID, timestamp,
	// payload). Sinks use the Event interface to marshal events generically;
	// consumers type-assert to concrete types for structured field access.
	Event interface {
		// Type returns the event type constant (e.g., EventToolCall,
		// EventStage). Consumers use this to route events by category
		// without performing type assertions.
		Type() EventType

		// ThreadID returns the conversation thread the event belongs to.
		// All events decoded from a single request stream share the same
		// thread ID, providing a stable join key for persistence and
		// cross-process fan-out.
		ThreadID() string

		// Key returns the stable dedup identity of the event. Retransmitted
		// envelopes yield the same key, so set-membership on keys suppresses
		// duplicate processing. Derivation prefers an explicit wire ID and
		// falls back to the event type, the tool or stage name, and the
		// event timestamp. Image events are identified by their index alone
		// because the backend may reassign envelope IDs across delivery
		// attempts for the same logical image.
		Key() string

		// OccurredAt returns the event timestamp: the wire-provided
		// timestamp when the envelope carried one, else the local arrival
		// time assigned at decode.
		OccurredAt() time.Time

		// Payload returns the event-specific data in a JSON-serializable
		// form. Sinks use this for generic marshaling when they don't need
		// typed access.
		Payload() any
	}

	// Token carries one incremental text fragment of the assistant reply.
	// Fragments are buffered by the coalescer and flushed on a bounded
	// cadence; consumers never render individual tokens.
	Token struct {
		Base
		Data TokenPayload
	}

	// Stage marks a lifecycle transition of a named agent phase. A running
	// transition opens a stage, a completed or failed transition closes the
	// most recently opened stage with the same name. Stage names may repeat
	// within one stream.
	Stage struct {
		Base
		Data StagePayload
	}

	// ToolCall announces a tool invocation scheduled by the agent. The
	// timeline attaches it to the currently open stage, synthesizing an
	// implicit group when none is open so orphan tool activity is never
	// lost.
	ToolCall struct {
		Base
		Data ToolCallPayload
	}

	// ToolResult reports the outcome of a prior ToolCall. It matches the
	// call by ID and closes it in place rather than adding a new timeline
	// entry.
	ToolResult struct {
		Base
		Data ToolResultPayload
	}

	// Routing reports that the request was routed to a specific agent.
	Routing struct {
		Base
		Data RoutingPayload
	}

	// Handoff reports a mid-stream transfer of control between agents.
	Handoff struct {
		Base
		Data HandoffPayload
	}

	// Source reports a discovered reference document. Sources are collected
	// separately from the progress timeline and de-duplicated by ID or URL.
	Source struct {
		Base
		Data SourcePayload
	}

	// CodeResult reports the output of an executed code block.
	CodeResult struct {
		Base
		Data CodeResultPayload
	}

	// Image carries a generated image. Index values are unique within a
	// request; later duplicates with an already-seen index are dropped, not
	// merged.
	Image struct {
		Base
		Data ImagePayload
	}

	// BrowserStream carries a live browser screenshot frame. Only the most
	// recent frame is retained; repaints are rate limited by the session
	// controller.
	BrowserStream struct {
		Base
		Data BrowserStreamPayload
	}

	// BrowserAction reports a browser automation step. The timeline folds it
	// into the stage open/close logic under a synthetic "browser_<action>"
	// stage name so live browser activity displays like any other stage.
	BrowserAction struct {
		Base
		Data BrowserActionPayload
	}

	// SkillOutput carries the output of a named skill invocation.
	SkillOutput struct {
		Base
		Data SkillOutputPayload
	}

	// Interrupt requests a bounded-time user decision before the agent
	// continues. At most one interrupt is active at a time; a new one
	// supersedes a prior unanswered one for display.
	Interrupt struct {
		Base
		Data InterruptPayload
	}

	// ErrorEvent reports a backend failure. It replaces the accumulated
	// reply text with the reported message; the stream is not necessarily
	// over because one error event arrived, so consumption continues.
	ErrorEvent struct {
		Base
		Data ErrorPayload
	}

	// Complete marks the end of stream-visible events for the request.
	Complete struct {
		Base
		Data CompletePayload
	}

	// TokenPayload is the typed wire payload for Token.
	TokenPayload struct {
		// Content is the raw text fragment. Consumers concatenate Content
		// from sequential Token events to reconstruct the full reply.
		Content string `json:"content"`
	}

	// StagePayload is the typed wire payload for Stage.
	StagePayload struct {
		// Name identifies the stage. Open/close transitions for the same
		// logical stage are matched by this name, most recently opened wins.
		Name string `json:"name"`
		// Status is the lifecycle transition: running, completed or failed.
		Status Status `json:"status"`
		// Description is optional human-readable detail for display.
		Description string `json:"description,omitempty"`
	}

	// ToolCallPayload is the typed wire payload for ToolCall.
	ToolCallPayload struct {
		// ID correlates this call with its eventual ToolResult. Optional on
		// the wire; when absent the dedup key falls back to tool name and
		// timestamp.
		ID string `json:"id,omitempty"`
		// Tool is the invoked tool identifier (e.g., "web_search").
		Tool string `json:"tool"`
		// Args is the raw tool input. The engine never interprets it; it is
		// carried for display and persistence only.
		Args json.RawMessage `json:"args,omitempty"`
		// Description is optional human-readable detail for display.
		Description string `json:"description,omitempty"`
	}

	// ToolResultPayload is the typed wire payload for ToolResult.
	ToolResultPayload struct {
		// ID matches the ToolCall this result closes.
		ID string `json:"id,omitempty"`
		// Tool repeats the tool identifier so orphan results remain
		// attributable when the matching call was never observed.
		Tool string `json:"tool,omitempty"`
		// Status is completed or failed.
		Status Status `json:"status,omitempty"`
		// Content is the tool output carried for display.
		Content string `json:"content,omitempty"`
	}

	// RoutingPayload is the typed wire payload for Routing.
	RoutingPayload struct {
		// Agent is the identifier of the agent the request was routed to.
		Agent string `json:"agent"`
		// Reason is optional routing rationale.
		Reason string `json:"reason,omitempty"`
	}

	// HandoffPayload is the typed wire payload for Handoff.
	HandoffPayload struct {
		// From is the agent handing off control.
		From string `json:"from,omitempty"`
		// To is the agent receiving control.
		To string `json:"to"`
		// Reason is optional handoff rationale.
		Reason string `json:"reason,omitempty"`
	}

	// SourcePayload is the typed wire payload for Source.
	SourcePayload struct {
		// ID is the backend-assigned source identifier when present.
		ID string `json:"id,omitempty"`
		// Title is the document title for display.
		Title string `json:"title,omitempty"`
		// URL locates the source document.
		URL string `json:"url"`
		// Snippet is an optional content excerpt.
		Snippet string `json:"snippet,omitempty"`
	}

	// CodeResultPayload is the typed wire payload for CodeResult.
	CodeResultPayload struct {
		// ID is the backend-assigned execution identifier when present.
		ID string `json:"id,omitempty"`
		// Language is the executed language (e.g., "python").
		Language string `json:"language,omitempty"`
		// Output is the captured execution output.
		Output string `json:"output"`
		// ExitCode is the process exit code.
		ExitCode int `json:"exit_code,omitempty"`
	}

	// ImagePayload is the typed wire payload for Image.
	ImagePayload struct {
		// Index is the image identity within the request. Duplicate indexes
		// are dropped regardless of envelope ID.
		Index int `json:"index"`
		// MediaType is the MIME type (e.g., "image/png").
		MediaType string `json:"media_type,omitempty"`
		// Data is the base64-encoded image content.
		Data string `json:"data,omitempty"`
		// Alt is optional alternative text.
		Alt string `json:"alt,omitempty"`
	}

	// BrowserStreamPayload is the typed wire payload for BrowserStream.
	BrowserStreamPayload struct {
		// Data is the base64-encoded screenshot frame.
		Data string `json:"data"`
		// URL is the page the frame was captured from.
		URL string `json:"url,omitempty"`
	}

	// BrowserActionPayload is the typed wire payload for BrowserAction.
	BrowserActionPayload struct {
		// Action names the automation step (e.g., "navigate", "click").
		Action string `json:"action"`
		// Status is the lifecycle transition: running, completed or failed.
		Status Status `json:"status"`
		// Detail is optional human-readable detail for display.
		Detail string `json:"detail,omitempty"`
	}

	// SkillOutputPayload is the typed wire payload for SkillOutput.
	SkillOutputPayload struct {
		// Skill names the skill that produced the output.
		Skill string `json:"skill"`
		// Content is the skill output carried for display.
		Content string `json:"content"`
	}

	// InterruptPayload is the typed wire payload for Interrupt.
	InterruptPayload struct {
		// ID is unique per interrupt request and correlates the eventual
		// response.
		ID string `json:"interrupt_id"`
		// Kind is the interrupt flavor: decision, input or confirm.
		Kind string `json:"interrupt_type"`
		// Message is the prompt text shown to the user.
		Message string `json:"prompt"`
		// Options enumerates the choices for decision interrupts.
		Options []InterruptOption `json:"options,omitempty"`
		// DefaultAction is auto-submitted when the countdown expires. When
		// empty the correlator submits "skip".
		DefaultAction string `json:"default_action,omitempty"`
		// TimeoutSeconds bounds how long the prompt may stay unanswered.
		// Zero means no countdown.
		TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	}

	// InterruptOption is one selectable choice of a decision interrupt.
	InterruptOption struct {
		// Value is the machine-readable option value submitted on select.
		Value string `json:"value"`
		// Label is the human-readable option text.
		Label string `json:"label,omitempty"`
	}

	// ErrorPayload is the typed wire payload for ErrorEvent.
	ErrorPayload struct {
		// Message is the user-facing error text reported by the backend.
		Message string `json:"message"`
		// Code is an optional machine-readable error code.
		Code string `json:"code,omitempty"`
	}

	// CompletePayload is the typed wire payload for Complete.
	CompletePayload struct {
		// Reason optionally qualifies the completion (e.g., "stop").
		Reason string `json:"reason,omitempty"`
	}

	// Base provides the shared implementation of Event metadata. Embed this
	// struct in concrete event types to inherit the Type(), ThreadID(),
	// OccurredAt() and Payload() methods; each concrete type supplies its
	// own Key().
	//
	// Field names are abbreviated to minimize visual clutter when
	// constructing events, since Base fields are never accessed directly.
	Base struct {
		// t is the event type constant identifying the payload category.
		t EventType
		// thread is the conversation thread the event was decoded for.
		thread string
		// at is the event timestamp (wire-provided when available, else
		// local arrival time).
		at time.Time
		// p is the JSON-serializable payload returned by Payload().
		p any
	}
)

// Status enumerates lifecycle states shared by stage, tool and browser
// action transitions.
type Status string

const (
	// StatusRunning marks an open unit of work.
	StatusRunning Status = "running"
	// StatusCompleted marks a successfully closed unit of work.
	StatusCompleted Status = "completed"
	// StatusFailed marks an unsuccessfully closed unit of work.
	StatusFailed Status = "failed"
)

// EventType enumerates stream envelope flavors.
type EventType string

const (
	// EventToken streams one incremental text fragment of the assistant
	// reply. Fragments are merged by the coalescer before display; raw
	// token events are excluded from persistence to avoid unbounded
	// storage growth.
	EventToken EventType = "token"

	// EventStage streams a lifecycle transition for a named agent phase.
	// Running opens a stage, completed/failed closes the most recently
	// opened stage with the same name.
	EventStage EventType = "stage"

	// EventToolCall streams a scheduled tool invocation. The timeline
	// attaches it to the currently open stage or synthesizes an implicit
	// "processing" group when none is open.
	EventToolCall EventType = "tool_call"

	// EventToolResult streams a tool outcome. It closes the matching
	// ToolCall in place, identified by ID.
	EventToolResult EventType = "tool_result"

	// EventRouting streams an agent routing notice.
	EventRouting EventType = "routing"

	// EventHandoff streams a control transfer between agents.
	EventHandoff EventType = "handoff"

	// EventSource streams a discovered reference document.
	EventSource EventType = "source"

	// EventCodeResult streams the output of an executed code block.
	EventCodeResult EventType = "code_result"

	// EventImage streams a generated image, identified by index.
	EventImage EventType = "image"

	// EventBrowserStream streams a live browser screenshot frame. Only the
	// latest frame is retained and repaints are rate limited.
	EventBrowserStream EventType = "browser_stream"

	// EventBrowserAction streams a browser automation step, displayed as a
	// synthetic "browser_<action>" stage.
	EventBrowserAction EventType = "browser_action"

	// EventSkillOutput streams the output of a named skill invocation.
	EventSkillOutput EventType = "skill_output"

	// EventInterrupt streams a human-in-the-loop prompt requiring a
	// bounded-time user decision.
	EventInterrupt EventType = "interrupt"

	// EventError streams a backend-reported failure. The accumulated reply
	// text is replaced with the reported message and consumption continues.
	EventError EventType = "error"

	// EventComplete marks the end of stream-visible events for the request.
	EventComplete EventType = "complete"
)

// NewBase constructs a Base with the given type, thread ID, timestamp and
// payload.
func NewBase(t EventType, threadID string, at time.Time, payload any) Base {
	return Base{t: t, thread: threadID, at: at, p: payload}
}

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// ThreadID implements Event.ThreadID.
func (e Base) ThreadID() string { return e.thread }

// OccurredAt implements Event.OccurredAt.
func (e Base) OccurredAt() time.Time { return e.at }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }

// Key implements Event.Key. Tokens are never dedup-inserted; the key exists
// to satisfy the interface and remains unique per fragment.
func (e Token) Key() string {
	return fmt.Sprintf("token:%d", e.OccurredAt().UnixNano())
}

// Key implements Event.Key.
func (e Stage) Key() string {
	return fmt.Sprintf("stage:%s:%s:%d", e.Data.Name, e.Data.Status, e.OccurredAt().UnixNano())
}

// Key implements Event.Key.
func (e ToolCall) Key() string {
	if e.Data.ID != "" {
		return "tool_call:" + e.Data.ID
	}
	return fmt.Sprintf("tool_call:%s:%d", e.Data.Tool, e.OccurredAt().UnixNano())
}

// Key implements Event.Key.
func (e ToolResult) Key() string {
	if e.Data.ID != "" {
		return "tool_result:" + e.Data.ID
	}
	return fmt.Sprintf("tool_result:%s:%d", e.Data.Tool, e.OccurredAt().UnixNano())
}

// Key implements Event.Key.
func (e Routing) Key() string {
	return fmt.Sprintf("routing:%s:%d", e.Data.Agent, e.OccurredAt().UnixNano())
}

// Key implements Event.Key.
func (e Handoff) Key() string {
	return fmt.Sprintf("handoff:%s:%d", e.Data.To, e.OccurredAt().UnixNano())
}

// Key implements Event.Key. Sources prefer their wire ID and fall back to
// the URL, which is stable across retransmissions.
func (e Source) Key() string {
	if e.Data.ID != "" {
		return "source:" + e.Data.ID
	}
	return "source:" + e.Data.URL
}

// Key implements Event.Key.
func (e CodeResult) Key() string {
	if e.Data.ID != "" {
		return "code_result:" + e.Data.ID
	}
	return fmt.Sprintf("code_result:%d", e.OccurredAt().UnixNano())
}

// Key implements Event.Key. Image identity is the index alone: the backend
// may assign the same logical image a different envelope ID across delivery
// attempts.
func (e Image) Key() string {
	return fmt.Sprintf("image:%d", e.Data.Index)
}

// Key implements Event.Key.
func (e BrowserStream) Key() string {
	return fmt.Sprintf("browser_stream:%d", e.OccurredAt().UnixNano())
}

// Key implements Event.Key.
func (e BrowserAction) Key() string {
	return fmt.Sprintf("browser_action:%s:%s:%d", e.Data.Action, e.Data.Status, e.OccurredAt().UnixNano())
}

// Key implements Event.Key.
func (e SkillOutput) Key() string {
	return fmt.Sprintf("skill_output:%s:%d", e.Data.Skill, e.OccurredAt().UnixNano())
}

// Key implements Event.Key.
func (e Interrupt) Key() string {
	return "interrupt:" + e.Data.ID
}

// Key implements Event.Key.
func (e ErrorEvent) Key() string {
	return fmt.Sprintf("error:%d", e.OccurredAt().UnixNano())
}

// Key implements Event.Key.
func (e Complete) Key() string {
	return fmt.Sprintf("complete:%d", e.OccurredAt().UnixNano())
}
