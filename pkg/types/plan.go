package types

// PlanStepStatus is the live execution status of one plan step.
type PlanStepStatus string

const (
	StepPending   PlanStepStatus = "pending"
	StepRunning   PlanStepStatus = "running"
	StepCompleted PlanStepStatus = "completed"
	StepFailed    PlanStepStatus = "failed"
)

// PlanStep is one step of an agent plan. IDs are stable across revisions.
// Revised is set when a plan_update changes a step the client already knew;
// the store never clears it, consumers decide when the highlight expires.
type PlanStep struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Status  PlanStepStatus `json:"status"`
	Revised bool           `json:"revised,omitempty"`
}

// Plan is the ordered list of steps the agent intends to execute for a turn.
type Plan struct {
	PlanID string     `json:"planID"`
	Title  string     `json:"title"`
	Steps  []PlanStep `json:"steps"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Steps = make([]PlanStep, len(p.Steps))
	copy(cp.Steps, p.Steps)
	return &cp
}

// Merge applies an incoming plan revision by step ID. Steps whose status or
// title differ from the cached copy are marked revised. Steps the client has
// never seen are appended in arrival order.
func (p *Plan) Merge(update *Plan) {
	if update == nil {
		return
	}
	if update.Title != "" {
		p.Title = update.Title
	}

	index := make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		index[step.ID] = i
	}

	for _, incoming := range update.Steps {
		i, known := index[incoming.ID]
		if !known {
			p.Steps = append(p.Steps, incoming)
			index[incoming.ID] = len(p.Steps) - 1
			continue
		}

		cached := &p.Steps[i]
		changed := false
		if incoming.Status != "" && incoming.Status != cached.Status {
			cached.Status = incoming.Status
			changed = true
		}
		if incoming.Title != "" && incoming.Title != cached.Title {
			cached.Title = incoming.Title
			changed = true
		}
		if changed {
			cached.Revised = true
		}
	}
}
