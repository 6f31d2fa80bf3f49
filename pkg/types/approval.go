package types

// RiskLevel classifies how dangerous an approval-gated tool call is.
type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskWarn      RiskLevel = "warn"
	RiskDangerous RiskLevel = "dangerous"
	RiskBlocked   RiskLevel = "blocked"
)

// ApprovalRequest is a pending request for the user to approve or deny a
// risky tool call. A session holds at most one at a time.
type ApprovalRequest struct {
	RequestID string    `json:"requestID"`
	Tool      string    `json:"tool"`
	Input     string    `json:"input"`
	Risk      RiskLevel `json:"risk"`
	// Requested is when the client first saw the request, Unix milliseconds.
	// The local countdown is anchored here; the backend's own timeout stays
	// authoritative.
	Requested int64 `json:"requested"`
}

// ApprovalDecision is the user's (or the timeout's) answer to a request.
type ApprovalDecision struct {
	RequestID string `json:"requestID"`
	Approved  bool   `json:"approved"`
	// Feedback is optional free text, only meaningful when approved.
	Feedback string `json:"feedback,omitempty"`
	// AllowForSession asks that the tool be pre-approved for the remainder
	// of the session. Honored only when Approved is true.
	AllowForSession bool `json:"allowForSession,omitempty"`
}
