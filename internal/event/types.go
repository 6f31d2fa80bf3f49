package event

import "github.com/parley-ai/parley/pkg/types"

// TurnStartedData is the data for turn.started events.
type TurnStartedData struct {
	SessionID string `json:"sessionID"`
	UserText  string `json:"userText"`
	// First is true when this is the session's first user message.
	First bool `json:"first"`
}

// TurnCompletedData is the data for turn.completed events.
type TurnCompletedData struct {
	SessionID string `json:"sessionID"`
	// Turn counts committed assistant turns, starting at 1.
	Turn   int    `json:"turn"`
	Reason string `json:"reason"` // "done" | "error" | "cancelled"
}

// ApprovalRequestedData is the data for approval.requested events.
type ApprovalRequestedData struct {
	SessionID string                 `json:"sessionID"`
	Request   *types.ApprovalRequest `json:"request"`
}

// ApprovalSettledData is the data for approval.settled events.
type ApprovalSettledData struct {
	SessionID string `json:"sessionID"`
	RequestID string `json:"requestID"`
	Approved  bool   `json:"approved"`
	TimedOut  bool   `json:"timedOut,omitempty"`
}

// TitleChangedData is the data for title.changed events.
type TitleChangedData struct {
	SessionID string `json:"sessionID"`
	Title     string `json:"title"`
	// Generated is true for backend-generated titles, false for the instant
	// truncated title.
	Generated bool `json:"generated"`
}

// HealthChangedData is the data for health.changed events.
type HealthChangedData struct {
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}
