package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/pkg/types"
)

func TestDecode_Token(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"token","properties":{"delta":"Hi "}}`))
	require.NoError(t, err)
	assert.Equal(t, EventToken, ev.Type)
	assert.Equal(t, "Hi ", ev.Token)
	assert.Positive(t, ev.Time)
}

func TestDecode_ToolStart(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"tool_start","properties":{"tool":"bash","input":"ls"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventToolStart, ev.Type)
	require.NotNil(t, ev.Tool)
	assert.Equal(t, "bash", ev.Tool.Tool)
	assert.Equal(t, "ls", ev.Tool.Input)
}

func TestDecode_ToolEnd(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"tool_end","properties":{"tool":"bash","output":"ok","cached":true}}`))
	require.NoError(t, err)
	assert.Equal(t, EventToolEnd, ev.Type)
	require.NotNil(t, ev.Tool)
	assert.Equal(t, "ok", ev.Tool.Output)
	assert.True(t, ev.Tool.Cached)
}

func TestDecode_ToolWithoutName(t *testing.T) {
	_, err := Decode([]byte(`{"type":"tool_start","properties":{"input":"ls"}}`))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecode_PlanCreate(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"plan_create","properties":{
		"planID":"p1","title":"Refactor",
		"steps":[{"id":"s1","title":"read code","status":"pending"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, EventPlanCreate, ev.Type)
	require.NotNil(t, ev.Plan)
	assert.Equal(t, "p1", ev.Plan.PlanID)
	require.Len(t, ev.Plan.Steps, 1)
	assert.Equal(t, types.StepPending, ev.Plan.Steps[0].Status)
}

func TestDecode_ApprovalRequest(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"approval_request","properties":{
		"requestID":"r1","tool":"bash","input":"rm -rf /tmp/x","risk":"dangerous"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventApprovalRequest, ev.Type)
	require.NotNil(t, ev.Approval)
	assert.Equal(t, "r1", ev.Approval.RequestID)
	assert.Equal(t, types.RiskDangerous, ev.Approval.Risk)
	assert.Equal(t, ev.Time, ev.Approval.Requested, "requested stamp is local decode time")
}

func TestDecode_ApprovalRequestWithoutID(t *testing.T) {
	_, err := Decode([]byte(`{"type":"approval_request","properties":{"tool":"bash"}}`))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecode_ApprovalResolved(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"approval_resolved","properties":{"requestID":"r1","approved":true}}`))
	require.NoError(t, err)
	assert.Equal(t, EventApprovalResolved, ev.Type)
	require.NotNil(t, ev.Resolved)
	assert.True(t, ev.Resolved.Approved)
}

func TestDecode_DebugLLMCall(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"debug_llm_call","properties":{
		"id":"d1","model":"sonnet","inputTokens":100,"outputTokens":20,"durationMS":900}}`))
	require.NoError(t, err)
	assert.Equal(t, EventDebugLLMCall, ev.Type)
	call, ok := ev.Debug.(*types.LLMCall)
	require.True(t, ok)
	assert.Equal(t, types.DebugKindLLM, call.Kind, "kind stamped even though the body omits it")
	assert.Equal(t, "sonnet", call.Model)
	assert.Equal(t, 100, call.InputTokens)
}

func TestDecode_DebugToolCall(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"debug_tool_call","properties":{"id":"d2","tool":"grep"}}`))
	require.NoError(t, err)
	call, ok := ev.Debug.(*types.DebugToolCall)
	require.True(t, ok)
	assert.Equal(t, types.DebugKindTool, call.Kind)
	assert.Equal(t, "grep", call.Tool)
}

func TestDecode_Terminal(t *testing.T) {
	done, err := Decode([]byte(`{"type":"done"}`))
	require.NoError(t, err)
	assert.Equal(t, EventDone, done.Type)
	assert.True(t, done.Terminal())

	fail, err := Decode([]byte(`{"type":"error","properties":{"message":"rate limited"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventError, fail.Type)
	assert.Equal(t, "rate limited", fail.Err)
	assert.True(t, fail.Terminal())

	tok, err := Decode([]byte(`{"type":"token","properties":{"delta":"x"}}`))
	require.NoError(t, err)
	assert.False(t, tok.Terminal())
}

func TestDecode_UnknownTypePassesThrough(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"usage_report","properties":{"cost":3}}`))
	require.NoError(t, err)
	assert.Equal(t, EventUnknown, ev.Type)
	assert.NotEmpty(t, ev.Raw)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"truncated json", `{"type":"token","properties":{"delta":`},
		{"missing type", `{"properties":{"delta":"x"}}`},
		{"wrong payload shape", `{"type":"token","properties":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestCancelled(t *testing.T) {
	ev := Cancelled()
	assert.Equal(t, EventCancelled, ev.Type)
	assert.True(t, ev.Terminal())
	assert.NotEmpty(t, ev.Err)
}

func TestFailed(t *testing.T) {
	ev := Failed("stream closed unexpectedly")
	assert.Equal(t, EventError, ev.Type)
	assert.True(t, ev.Terminal())
	assert.Equal(t, "stream closed unexpectedly", ev.Err)
}
