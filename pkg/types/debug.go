package types

import (
	"encoding/json"
	"fmt"
)

// DebugCall is one instrumentation record in a session's debug trace.
// The concrete variant is decided once, at decode time, by the "kind" tag.
type DebugCall interface {
	DebugKind() string
	DebugID() string
}

// Debug call kinds.
const (
	DebugKindLLM     = "llm"
	DebugKindTool    = "tool"
	DebugKindDivider = "divider"
)

// LLMCall records one model invocation.
type LLMCall struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"` // always "llm"
	Model        string `json:"model"`
	Node         string `json:"node,omitempty"`
	Input        string `json:"input"`
	Output       string `json:"output"`
	DurationMS   int64  `json:"durationMS"`
	InputTokens  int    `json:"inputTokens,omitempty"`
	OutputTokens int    `json:"outputTokens,omitempty"`
	TotalTokens  int    `json:"totalTokens,omitempty"`
	InProgress   bool   `json:"inProgress"`
}

func (c *LLMCall) DebugKind() string { return DebugKindLLM }
func (c *LLMCall) DebugID() string   { return c.ID }

// DebugToolCall records one tool invocation.
type DebugToolCall struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"` // always "tool"
	Tool       string `json:"tool"`
	Input      string `json:"input,omitempty"`
	Output     string `json:"output"`
	DurationMS int64  `json:"durationMS"`
	Cached     bool   `json:"cached"`
	InProgress bool   `json:"inProgress"`
	// Started anchors the duration computed when the paired end arrives.
	Started int64 `json:"started,omitempty"`
}

func (c *DebugToolCall) DebugKind() string { return DebugKindTool }
func (c *DebugToolCall) DebugID() string   { return c.ID }

// DebugDivider marks the start of a new user turn in the debug trace.
type DebugDivider struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"` // always "divider"
	Timestamp   int64  `json:"timestamp"`
	UserMessage string `json:"userMessage"`
}

func (c *DebugDivider) DebugKind() string { return DebugKindDivider }
func (c *DebugDivider) DebugID() string   { return c.ID }

// UnmarshalDebugCall unmarshals a JSON debug call into the concrete variant
// named by its "kind" field.
func UnmarshalDebugCall(data []byte) (DebugCall, error) {
	var raw struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return UnmarshalDebugCallAs(raw.Kind, data)
}

// UnmarshalDebugCallAs unmarshals data into the concrete variant for kind,
// for payloads whose discriminant travels outside the body (the stream
// protocol carries it in the event type). The kind is stamped onto the
// variant so it round-trips even when the body omits it.
func UnmarshalDebugCallAs(kind string, data []byte) (DebugCall, error) {
	switch kind {
	case DebugKindLLM:
		var c LLMCall
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		c.Kind = DebugKindLLM
		return &c, nil
	case DebugKindTool:
		var c DebugToolCall
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		c.Kind = DebugKindTool
		return &c, nil
	case DebugKindDivider:
		var c DebugDivider
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		c.Kind = DebugKindDivider
		return &c, nil
	default:
		return nil, fmt.Errorf("unknown debug call kind: %q", kind)
	}
}
