// Package types defines the shared data model for parley sessions.
package types

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one committed entry in a session's conversation.
// Messages are append-only; a message is never mutated after commit.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	ToolCalls []ToolCall  `json:"toolCalls,omitempty"`
	Plan      *Plan       `json:"plan,omitempty"`
	Time      MessageTime `json:"time"`
}

// MessageTime contains timestamps for a message, in Unix milliseconds.
type MessageTime struct {
	Created   int64  `json:"created"`
	Completed *int64 `json:"completed,omitempty"`
}

// ToolCall is a finished tool invocation committed into a message.
// Output is empty when the stream ended before the matching tool_end arrived.
type ToolCall struct {
	Tool   string `json:"tool"`
	Input  string `json:"input"`
	Output string `json:"output,omitempty"`
	Cached bool   `json:"cached,omitempty"`
}

// StepKind discriminates the two thinking-step variants.
type StepKind string

const (
	StepToolStart StepKind = "tool_start"
	StepToolEnd   StepKind = "tool_end"
)

// ThinkingStep is a transient start/end marker for one tool invocation
// during the in-progress turn. Steps are cleared when the turn commits.
type ThinkingStep struct {
	Kind   StepKind `json:"kind"`
	Tool   string   `json:"tool"`
	Input  string   `json:"input,omitempty"`
	Output string   `json:"output,omitempty"`
	Cached bool     `json:"cached,omitempty"`
	Time   int64    `json:"time"`
}

// PairToolCalls folds an ordered sequence of thinking steps into committed
// tool calls. A tool_end matches the most recent unmatched tool_start with
// the same tool name, so nested or retried invocations of one tool resolve
// in reverse-start order. Unmatched starts commit with an empty output.
func PairToolCalls(steps []ThinkingStep) []ToolCall {
	type openCall struct {
		index int // position in the result slice
	}

	var calls []ToolCall
	open := make(map[string][]openCall)

	for _, step := range steps {
		switch step.Kind {
		case StepToolStart:
			calls = append(calls, ToolCall{
				Tool:  step.Tool,
				Input: step.Input,
			})
			open[step.Tool] = append(open[step.Tool], openCall{index: len(calls) - 1})
		case StepToolEnd:
			stack := open[step.Tool]
			if len(stack) == 0 {
				// End without a start; nothing to attach the output to.
				continue
			}
			top := stack[len(stack)-1]
			open[step.Tool] = stack[:len(stack)-1]
			calls[top.index].Output = step.Output
			calls[top.index].Cached = step.Cached
		}
	}

	return calls
}
