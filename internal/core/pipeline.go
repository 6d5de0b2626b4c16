package core

// StepState is the in-memory view of one step while a pipeline runs.
type StepState struct {
	Role       Role       `json:"role"`
	Status     StepStatus `json:"status"`
	RetryCount int        `json:"retryCount"`
}

// Pipeline is the volatile execution state of a running workflow. It
// mirrors the persisted rows but is owned by the engine; the store
// remains the durable source of truth.
type Pipeline struct {
	WorkflowID   string         `json:"workflowId"`
	Status       WorkflowStatus `json:"status"`
	CurrentStage int            `json:"currentStage"`
	Steps        []StepState    `json:"steps"`
}

// NewPipeline builds pipeline state for a normalized plan. Roles not
// in the plan start skipped, everything else pending.
func NewPipeline(workflowID string, plan []Role) *Pipeline {
	planned := make(map[Role]bool, len(plan))
	for _, r := range plan {
		planned[r] = true
	}
	steps := make([]StepState, 0, len(AllRoles))
	for _, r := range AllRoles {
		status := StepSkipped
		if planned[r] {
			status = StepPending
		}
		steps = append(steps, StepState{Role: r, Status: status})
	}
	return &Pipeline{
		WorkflowID: workflowID,
		Status:     WorkflowPending,
		Steps:      steps,
	}
}

// Step returns a pointer to the state for a role, or nil.
func (p *Pipeline) Step(role Role) *StepState {
	for i := range p.Steps {
		if p.Steps[i].Role == role {
			return &p.Steps[i]
		}
	}
	return nil
}

// PlannedRoles returns the roles of a stage that are part of the plan
// (not skipped).
func (p *Pipeline) PlannedRoles(stage Stage) []Role {
	var roles []Role
	for _, r := range stage.Roles {
		if s := p.Step(r); s != nil && s.Status != StepSkipped {
			roles = append(roles, r)
		}
	}
	return roles
}
