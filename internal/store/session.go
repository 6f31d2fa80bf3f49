package store

import (
	"fmt"
	"sort"

	"github.com/parley-ai/parley/internal/protocol"
	"github.com/parley-ai/parley/pkg/types"
)

// session is one session's live state. The store is its single writer;
// everything exported leaves as a Snapshot copy.
type session struct {
	id    string
	title string

	messages         []types.Message
	isStreaming      bool
	streamingContent string
	thinkingSteps    []types.ThinkingStep
	currentPlan      *types.Plan
	approval         *types.ApprovalRequest
	allowedTools     map[string]bool
	debugCalls       []types.DebugCall

	// turns counts committed assistant turns.
	turns int
}

// Snapshot is a read-only copy of a session's state handed to observers.
type Snapshot struct {
	SessionID        string                 `json:"sessionID"`
	Title            string                 `json:"title"`
	Messages         []types.Message        `json:"messages"`
	IsStreaming      bool                   `json:"isStreaming"`
	StreamingContent string                 `json:"streamingContent"`
	ThinkingSteps    []types.ThinkingStep   `json:"thinkingSteps,omitempty"`
	CurrentPlan      *types.Plan            `json:"currentPlan,omitempty"`
	Approval         *types.ApprovalRequest `json:"approval,omitempty"`
	AllowedTools     []string               `json:"allowedTools,omitempty"`
	DebugCalls       []types.DebugCall      `json:"debugCalls,omitempty"`
	Turns            int                    `json:"turns"`
}

// ProtocolViolationError reports an approval_request that arrived while
// another request was still pending. It is fatal to the turn, never merged.
type ProtocolViolationError struct {
	SessionID string
	RequestID string
	Pending   string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("session %s: approval request %s while %s is pending",
		e.SessionID, e.RequestID, e.Pending)
}

func newSession(id string) *session {
	return &session{
		id:           id,
		allowedTools: make(map[string]bool),
	}
}

// apply folds one decoded event into the session. It returns an error only
// for protocol violations; well-formed events never fail.
func (s *session) apply(ev protocol.Event, debug bool, debugCap int) error {
	// Frames can trail the terminal when a stream is failed locally while
	// the transport still delivers; turn-scoped events on an idle session
	// are dropped so they cannot leak into the next turn. Debug events stay
	// session-scoped and are recorded regardless.
	if !s.isStreaming {
		switch ev.Type {
		case protocol.EventToken, protocol.EventToolStart, protocol.EventToolEnd,
			protocol.EventPlanCreate, protocol.EventPlanUpdate,
			protocol.EventApprovalRequest, protocol.EventApprovalResolved:
			return nil
		}
	}

	switch ev.Type {
	case protocol.EventToken:
		s.streamingContent += ev.Token

	case protocol.EventToolStart:
		s.thinkingSteps = append(s.thinkingSteps, types.ThinkingStep{
			Kind:  types.StepToolStart,
			Tool:  ev.Tool.Tool,
			Input: ev.Tool.Input,
			Time:  ev.Time,
		})
		if debug {
			s.appendDebug(&types.DebugToolCall{
				ID:         generateID(),
				Kind:       types.DebugKindTool,
				Tool:       ev.Tool.Tool,
				Input:      ev.Tool.Input,
				InProgress: true,
				Started:    ev.Time,
			}, debugCap)
		}

	case protocol.EventToolEnd:
		s.thinkingSteps = append(s.thinkingSteps, types.ThinkingStep{
			Kind:   types.StepToolEnd,
			Tool:   ev.Tool.Tool,
			Output: ev.Tool.Output,
			Cached: ev.Tool.Cached,
			Time:   ev.Time,
		})
		if debug {
			s.settleDebugTool(ev.Tool, ev.Time)
		}

	case protocol.EventPlanCreate:
		plan := ev.Plan.Clone()
		for i := range plan.Steps {
			if plan.Steps[i].Status == "" {
				plan.Steps[i].Status = types.StepPending
			}
		}
		s.currentPlan = plan

	case protocol.EventPlanUpdate:
		if s.currentPlan == nil {
			// Update without a create; adopt it wholesale.
			return s.apply(protocol.Event{
				Type: protocol.EventPlanCreate,
				Time: ev.Time,
				Plan: ev.Plan,
			}, debug, debugCap)
		}
		s.currentPlan.Merge(ev.Plan)

	case protocol.EventApprovalRequest:
		if s.approval != nil {
			return &ProtocolViolationError{
				SessionID: s.id,
				RequestID: ev.Approval.RequestID,
				Pending:   s.approval.RequestID,
			}
		}
		req := *ev.Approval
		s.approval = &req

	case protocol.EventApprovalResolved:
		if s.approval != nil && s.approval.RequestID == ev.Resolved.RequestID {
			s.approval = nil
		}

	case protocol.EventDebugLLMCall, protocol.EventDebugToolCall:
		if debug && ev.Debug != nil {
			s.appendDebug(cloneDebugCall(ev.Debug), debugCap)
		}

	case protocol.EventUnknown:
		// Forward-compatibility pass-through; nothing to fold.
	}

	return nil
}

// settleDebugTool finishes the most recent in-progress debug record for the
// tool, computing its duration from the paired start/end timestamps.
func (s *session) settleDebugTool(end *protocol.ToolPayload, now int64) {
	for i := len(s.debugCalls) - 1; i >= 0; i-- {
		call, ok := s.debugCalls[i].(*types.DebugToolCall)
		if !ok || !call.InProgress || call.Tool != end.Tool {
			continue
		}
		call.InProgress = false
		call.Output = end.Output
		call.Cached = end.Cached
		if call.Started > 0 {
			call.DurationMS = now - call.Started
		}
		return
	}
}

func (s *session) appendDebug(call types.DebugCall, debugCap int) {
	s.debugCalls = append(s.debugCalls, call)
	if debugCap > 0 && len(s.debugCalls) > debugCap {
		// Bounded ring: drop the oldest entries.
		drop := len(s.debugCalls) - debugCap
		s.debugCalls = append(s.debugCalls[:0:0], s.debugCalls[drop:]...)
	}
}

// commit ends the in-progress turn. When any content, thinking steps, or
// plan accumulated, they become a new assistant message; partial output is
// committed even on error so the user never loses a half-generated answer.
// Returns the committed message, or nil when the turn was empty.
func (s *session) commit(now int64) *types.Message {
	s.isStreaming = false

	// A pending approval cannot outlive its turn.
	s.approval = nil

	if s.streamingContent == "" && len(s.thinkingSteps) == 0 && s.currentPlan == nil {
		return nil
	}

	msg := types.Message{
		ID:        generateID(),
		SessionID: s.id,
		Role:      types.RoleAssistant,
		Content:   s.streamingContent,
		ToolCalls: types.PairToolCalls(s.thinkingSteps),
		Plan:      s.currentPlan,
		Time:      types.MessageTime{Created: now, Completed: &now},
	}
	s.messages = append(s.messages, msg)
	s.turns++

	s.streamingContent = ""
	s.thinkingSteps = nil
	s.currentPlan = nil

	return &msg
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		SessionID:        s.id,
		Title:            s.title,
		IsStreaming:      s.isStreaming,
		StreamingContent: s.streamingContent,
		CurrentPlan:      s.currentPlan.Clone(),
		Turns:            s.turns,
	}

	snap.Messages = make([]types.Message, len(s.messages))
	copy(snap.Messages, s.messages)

	if len(s.thinkingSteps) > 0 {
		snap.ThinkingSteps = make([]types.ThinkingStep, len(s.thinkingSteps))
		copy(snap.ThinkingSteps, s.thinkingSteps)
	}

	if s.approval != nil {
		req := *s.approval
		snap.Approval = &req
	}

	if len(s.allowedTools) > 0 {
		snap.AllowedTools = make([]string, 0, len(s.allowedTools))
		for tool := range s.allowedTools {
			snap.AllowedTools = append(snap.AllowedTools, tool)
		}
		sort.Strings(snap.AllowedTools)
	}

	if len(s.debugCalls) > 0 {
		snap.DebugCalls = make([]types.DebugCall, len(s.debugCalls))
		for i, call := range s.debugCalls {
			snap.DebugCalls[i] = cloneDebugCall(call)
		}
	}

	return snap
}

func cloneDebugCall(call types.DebugCall) types.DebugCall {
	switch c := call.(type) {
	case *types.LLMCall:
		cp := *c
		return &cp
	case *types.DebugToolCall:
		cp := *c
		return &cp
	case *types.DebugDivider:
		cp := *c
		return &cp
	default:
		return call
	}
}
