package commands

import (
	"fmt"
	"io"
	"sync"

	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/types"
)

// renderer turns session snapshots into terminal output. Snapshots carry
// full state, so it tracks what has already been printed and emits only
// the difference.
type renderer struct {
	mu sync.Mutex
	w  io.Writer

	printed    int
	streaming  bool
	approvalID string
	steps      int
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w}
}

func (r *renderer) observe(snap store.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.IsStreaming && !r.streaming {
		r.streaming = true
		r.printed = 0
		r.steps = 0
	}

	for ; r.steps < len(snap.ThinkingSteps); r.steps++ {
		step := snap.ThinkingSteps[r.steps]
		if step.Kind == types.StepToolStart {
			fmt.Fprintf(r.w, "\n[tool: %s]\n", step.Tool)
		}
	}

	if len(snap.StreamingContent) > r.printed {
		fmt.Fprint(r.w, snap.StreamingContent[r.printed:])
		r.printed = len(snap.StreamingContent)
	}

	if snap.Approval != nil && snap.Approval.RequestID != r.approvalID {
		r.approvalID = snap.Approval.RequestID
		fmt.Fprintf(r.w, "\napproval required: %s (risk: %s) /approve, /deny, or /allow\n",
			snap.Approval.Tool, snap.Approval.Risk)
	}
	if snap.Approval == nil {
		r.approvalID = ""
	}

	if !snap.IsStreaming && r.streaming {
		r.streaming = false
		if r.printed > 0 {
			fmt.Fprintln(r.w)
		}
		r.printed = 0
	}
}
