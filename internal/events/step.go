package events

import "github.com/Mowd/claude-dashboard/internal/core"

// Event type constants for step events.
const (
	TypeStepStarted   = "step:started"
	TypeStepStream    = "step:stream"
	TypeStepCompleted = "step:completed"
	TypeStepFailed    = "step:failed"
	TypeStepActivity  = "step:activity"
	TypeStepRetry     = "step:retry"
)

// StepStartedEvent is emitted when a step attempt begins (including
// retry attempts).
type StepStartedEvent struct {
	BaseEvent
	StepID string    `json:"stepId"`
	Role   core.Role `json:"role"`
}

// NewStepStartedEvent creates a new step started event.
func NewStepStartedEvent(workflowID, stepID string, role core.Role) StepStartedEvent {
	return StepStartedEvent{
		BaseEvent: NewBaseEvent(TypeStepStarted, workflowID),
		StepID:    stepID,
		Role:      role,
	}
}

// StepStreamEvent carries a batch of agent output. High-frequency;
// lossy subscribers may drop these under backpressure.
type StepStreamEvent struct {
	BaseEvent
	StepID string    `json:"stepId"`
	Role   core.Role `json:"role"`
	Chunk  string    `json:"chunk"`
}

// NewStepStreamEvent creates a new step stream event.
func NewStepStreamEvent(workflowID, stepID string, role core.Role, chunk string) StepStreamEvent {
	return StepStreamEvent{
		BaseEvent: NewBaseEvent(TypeStepStream, workflowID),
		StepID:    stepID,
		Role:      role,
		Chunk:     chunk,
	}
}

// StepCompletedEvent is emitted when a step settles successfully.
// Token counts are omitted when the agent did not report them.
type StepCompletedEvent struct {
	BaseEvent
	StepID     string    `json:"stepId"`
	Role       core.Role `json:"role"`
	Output     string    `json:"output"`
	DurationMS int64     `json:"durationMs"`
	TokensIn   *int      `json:"tokensIn,omitempty"`
	TokensOut  *int      `json:"tokensOut,omitempty"`
}

// NewStepCompletedEvent creates a new step completed event.
func NewStepCompletedEvent(workflowID, stepID string, role core.Role, output string, durationMS int64, tokensIn, tokensOut *int) StepCompletedEvent {
	return StepCompletedEvent{
		BaseEvent:  NewBaseEvent(TypeStepCompleted, workflowID),
		StepID:     stepID,
		Role:       role,
		Output:     output,
		DurationMS: durationMS,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
	}
}

// StepFailedEvent is emitted when a step exhausts its retries.
type StepFailedEvent struct {
	BaseEvent
	StepID string    `json:"stepId"`
	Role   core.Role `json:"role"`
	Error  string    `json:"error"`
}

// NewStepFailedEvent creates a new step failed event.
func NewStepFailedEvent(workflowID, stepID string, role core.Role, err error) StepFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return StepFailedEvent{
		BaseEvent: NewBaseEvent(TypeStepFailed, workflowID),
		StepID:    stepID,
		Role:      role,
		Error:     errStr,
	}
}

// StepActivityEvent signals what an agent is currently doing.
type StepActivityEvent struct {
	BaseEvent
	StepID   string        `json:"stepId"`
	Role     core.Role     `json:"role"`
	Activity core.Activity `json:"activity"`
}

// NewStepActivityEvent creates a new step activity event.
func NewStepActivityEvent(workflowID, stepID string, role core.Role, activity core.Activity) StepActivityEvent {
	return StepActivityEvent{
		BaseEvent: NewBaseEvent(TypeStepActivity, workflowID),
		StepID:    stepID,
		Role:      role,
		Activity:  activity,
	}
}

// StepRetryEvent is emitted before a retry attempt is scheduled.
// Attempt counts the upcoming attempt, starting at 1 for the first
// retry.
type StepRetryEvent struct {
	BaseEvent
	StepID     string    `json:"stepId"`
	Role       core.Role `json:"role"`
	Attempt    int       `json:"attempt"`
	MaxRetries int       `json:"maxRetries"`
	Reason     string    `json:"reason"`
}

// NewStepRetryEvent creates a new step retry event.
func NewStepRetryEvent(workflowID, stepID string, role core.Role, attempt, maxRetries int, reason string) StepRetryEvent {
	return StepRetryEvent{
		BaseEvent:  NewBaseEvent(TypeStepRetry, workflowID),
		StepID:     stepID,
		Role:       role,
		Attempt:    attempt,
		MaxRetries: maxRetries,
		Reason:     reason,
	}
}
