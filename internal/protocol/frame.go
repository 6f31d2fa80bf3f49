// Package protocol decodes the raw session stream into typed events.
//
// The wire format is one JSON frame per logical event:
//
//	{"type": "token", "properties": {"delta": "Hi"}}
//
// The decoder is stateless: one frame in, exactly one typed event out (or
// ErrMalformedFrame). Unknown event types map to EventUnknown so a newer
// backend never breaks the stream.
package protocol

import "encoding/json"

// EventType discriminates stream events. The discriminant is decided once,
// at decode time, never re-inferred from payload shape.
type EventType string

const (
	EventToken            EventType = "token"
	EventToolStart        EventType = "tool_start"
	EventToolEnd          EventType = "tool_end"
	EventPlanCreate       EventType = "plan_create"
	EventPlanUpdate       EventType = "plan_update"
	EventApprovalRequest  EventType = "approval_request"
	EventApprovalResolved EventType = "approval_resolved"
	EventDebugLLMCall     EventType = "debug_llm_call"
	EventDebugToolCall    EventType = "debug_tool_call"
	EventDone             EventType = "done"
	EventError            EventType = "error"

	// EventCancelled is never sent by the backend; the stream controller
	// synthesizes it locally when the user stops a stream so commit logic
	// always runs.
	EventCancelled EventType = "cancelled"

	// EventUnknown is the decoder's pass-through for event types this
	// client does not know. The store ignores it.
	EventUnknown EventType = "unknown"
)

// Frame is the raw wire envelope.
type Frame struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// TokenPayload carries a text delta.
type TokenPayload struct {
	Delta string `json:"delta"`
}

// ToolPayload carries tool_start and tool_end properties.
type ToolPayload struct {
	Tool   string `json:"tool"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Cached bool   `json:"cached,omitempty"`
}

// ErrorPayload carries a terminal error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ApprovalResolvedPayload is the server-side confirmation that an approval
// request was settled.
type ApprovalResolvedPayload struct {
	RequestID string `json:"requestID"`
	Approved  bool   `json:"approved"`
}
