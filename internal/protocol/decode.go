package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/parley-ai/parley/pkg/types"
)

// ErrMalformedFrame is wrapped by all decode failures. The caller drops the
// single frame; the stream itself stays up.
var ErrMalformedFrame = errors.New("malformed frame")

// Event is one decoded stream event. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type EventType

	// Time is when the event was decoded, Unix milliseconds. Tool pairing
	// and debug durations are computed from these local stamps.
	Time int64

	Token    string                   // EventToken
	Tool     *ToolPayload             // EventToolStart, EventToolEnd
	Plan     *types.Plan              // EventPlanCreate, EventPlanUpdate
	Approval *types.ApprovalRequest   // EventApprovalRequest
	Resolved *ApprovalResolvedPayload // EventApprovalResolved
	Debug    types.DebugCall          // EventDebugLLMCall, EventDebugToolCall
	Err      string                   // EventError, EventCancelled

	// Raw preserves the frame for EventUnknown pass-through.
	Raw json.RawMessage
}

// Terminal reports whether the event ends the in-progress turn.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventDone, EventError, EventCancelled:
		return true
	}
	return false
}

// Decode parses one raw frame into a typed event.
func Decode(data []byte) (Event, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return decodeFrame(frame)
}

func decodeFrame(frame Frame) (Event, error) {
	ev := Event{Time: time.Now().UnixMilli()}

	props := frame.Properties
	if len(props) == 0 {
		props = []byte("{}")
	}

	switch EventType(frame.Type) {
	case EventToken:
		var p TokenPayload
		if err := json.Unmarshal(props, &p); err != nil {
			return Event{}, malformed(frame.Type, err)
		}
		ev.Type = EventToken
		ev.Token = p.Delta

	case EventToolStart, EventToolEnd:
		var p ToolPayload
		if err := json.Unmarshal(props, &p); err != nil {
			return Event{}, malformed(frame.Type, err)
		}
		if p.Tool == "" {
			return Event{}, fmt.Errorf("%w: %s without tool name", ErrMalformedFrame, frame.Type)
		}
		ev.Type = EventType(frame.Type)
		ev.Tool = &p

	case EventPlanCreate, EventPlanUpdate:
		var p types.Plan
		if err := json.Unmarshal(props, &p); err != nil {
			return Event{}, malformed(frame.Type, err)
		}
		ev.Type = EventType(frame.Type)
		ev.Plan = &p

	case EventApprovalRequest:
		var p types.ApprovalRequest
		if err := json.Unmarshal(props, &p); err != nil {
			return Event{}, malformed(frame.Type, err)
		}
		if p.RequestID == "" {
			return Event{}, fmt.Errorf("%w: approval_request without requestID", ErrMalformedFrame)
		}
		p.Requested = ev.Time
		ev.Type = EventApprovalRequest
		ev.Approval = &p

	case EventApprovalResolved:
		var p ApprovalResolvedPayload
		if err := json.Unmarshal(props, &p); err != nil {
			return Event{}, malformed(frame.Type, err)
		}
		ev.Type = EventApprovalResolved
		ev.Resolved = &p

	case EventDebugLLMCall:
		call, err := types.UnmarshalDebugCallAs(types.DebugKindLLM, props)
		if err != nil {
			return Event{}, malformed(frame.Type, err)
		}
		ev.Type = EventDebugLLMCall
		ev.Debug = call

	case EventDebugToolCall:
		call, err := types.UnmarshalDebugCallAs(types.DebugKindTool, props)
		if err != nil {
			return Event{}, malformed(frame.Type, err)
		}
		ev.Type = EventDebugToolCall
		ev.Debug = call

	case EventDone:
		ev.Type = EventDone

	case EventError:
		var p ErrorPayload
		if err := json.Unmarshal(props, &p); err != nil {
			return Event{}, malformed(frame.Type, err)
		}
		ev.Type = EventError
		ev.Err = p.Message

	default:
		// Forward compatibility: pass unknown types through untouched.
		raw, _ := json.Marshal(frame)
		ev.Type = EventUnknown
		ev.Raw = raw
	}

	return ev, nil
}

func malformed(eventType string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, eventType, err)
}

// Cancelled builds the locally synthesized terminal event for a stopped
// stream.
func Cancelled() Event {
	return Event{
		Type: EventCancelled,
		Time: time.Now().UnixMilli(),
		Err:  "cancelled by user",
	}
}

// Failed builds a terminal error event for a transport-level failure.
func Failed(message string) Event {
	return Event{
		Type: EventError,
		Time: time.Now().UnixMilli(),
		Err:  message,
	}
}
