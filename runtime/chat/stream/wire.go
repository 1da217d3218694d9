package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// UnknownTypeError reports an envelope whose type discriminant is not part of
// the canonical taxonomy. The frame decoder logs and skips these; they never
// abort stream consumption.
type UnknownTypeError struct {
	// TypeName is the unrecognized wire discriminant.
	TypeName string
}

// Error implements error.
func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown stream event type %q", e.TypeName)
}

// wireEnvelope probes the fields shared by both observed wire shapes. The
// backend emits envelopes either flattened ({"type":"tool_call","tool":...})
// or with the payload nested under "data"
// ({"type":"tool_call","data":{"tool":...}}). The flattened shape is
// authoritative; the wrapped shape is accepted as a deprecated compatibility
// input and never leaves this file.
type wireEnvelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope normalizes one raw wire envelope into a canonical Event.
// threadID is the conversation thread the stream belongs to (the wire does
// not repeat it per envelope); at is the local arrival time, used as the
// event timestamp when the envelope does not carry one. Unknown type
// discriminants return an *UnknownTypeError so callers can log and skip.
func DecodeEnvelope(data []byte, threadID string, at time.Time) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type discriminant")
	}
	ts := env.Timestamp
	if ts.IsZero() {
		ts = at
	}
	t := EventType(env.Type)

	// Token envelopes are special-cased because the wrapped shape carries
	// the fragment as a bare JSON string under "data" rather than an object.
	if t == EventToken {
		var p TokenPayload
		if len(env.Data) > 0 && env.Data[0] == '"' {
			if err := json.Unmarshal(env.Data, &p.Content); err != nil {
				return nil, fmt.Errorf("decode token data: %w", err)
			}
		} else if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return Token{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	}

	switch t {
	case EventStage:
		var p StagePayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return Stage{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventToolCall:
		var p ToolCallPayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return ToolCall{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventToolResult:
		var p ToolResultPayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return ToolResult{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventRouting:
		var p RoutingPayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return Routing{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventHandoff:
		var p HandoffPayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return Handoff{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventSource:
		var p SourcePayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return Source{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventCodeResult:
		var p CodeResultPayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return CodeResult{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventImage:
		var p ImagePayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return Image{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventBrowserStream:
		var p BrowserStreamPayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return BrowserStream{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventBrowserAction:
		var p BrowserActionPayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return BrowserAction{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventSkillOutput:
		var p SkillOutputPayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return SkillOutput{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventInterrupt:
		var p InterruptPayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return Interrupt{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventError:
		var p ErrorPayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return ErrorEvent{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	case EventComplete:
		var p CompletePayload
		if err := payloadBytes(data, env.Data, &p); err != nil {
			return nil, err
		}
		return Complete{Base: NewBase(t, threadID, ts, p), Data: p}, nil
	default:
		return nil, &UnknownTypeError{TypeName: env.Type}
	}
}

// payloadBytes unmarshals the payload into dst, choosing the wrapped "data"
// object when present and falling back to the flattened envelope itself.
func payloadBytes(flat, data json.RawMessage, dst any) error {
	src := flat
	if isJSONObject(data) {
		src = data
	}
	if err := json.Unmarshal(src, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// isJSONObject reports whether raw holds a JSON object (as opposed to being
// absent, null, or a scalar).
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
