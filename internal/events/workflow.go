package events

// Event type constants for workflow lifecycle events.
const (
	TypeWorkflowCreated   = "workflow:created"
	TypeWorkflowCompleted = "workflow:completed"
	TypeWorkflowFailed    = "workflow:failed"
	TypeWorkflowPaused    = "workflow:paused"
	TypeWorkflowCancelled = "workflow:cancelled"
)

// WorkflowCreatedEvent is emitted once when a workflow is accepted.
type WorkflowCreatedEvent struct {
	BaseEvent
	Title string `json:"title"`
}

// NewWorkflowCreatedEvent creates a new workflow created event.
func NewWorkflowCreatedEvent(workflowID, title string) WorkflowCreatedEvent {
	return WorkflowCreatedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowCreated, workflowID),
		Title:     title,
	}
}

// WorkflowCompletedEvent is emitted when every planned step finished.
// Emitted at most once per workflow.
type WorkflowCompletedEvent struct {
	BaseEvent
}

// NewWorkflowCompletedEvent creates a new workflow completed event.
func NewWorkflowCompletedEvent(workflowID string) WorkflowCompletedEvent {
	return WorkflowCompletedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowCompleted, workflowID),
	}
}

// WorkflowFailedEvent is emitted when a stage fails after retries.
// This is a priority event, never dropped.
type WorkflowFailedEvent struct {
	BaseEvent
	Error string `json:"error"`
}

// NewWorkflowFailedEvent creates a new workflow failed event.
func NewWorkflowFailedEvent(workflowID string, err error) WorkflowFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return WorkflowFailedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowFailed, workflowID),
		Error:     errStr,
	}
}

// WorkflowPausedEvent is emitted when a workflow is paused. Resuming
// flips the persisted status back without a dedicated event.
type WorkflowPausedEvent struct {
	BaseEvent
}

// NewWorkflowPausedEvent creates a new workflow paused event.
func NewWorkflowPausedEvent(workflowID string) WorkflowPausedEvent {
	return WorkflowPausedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowPaused, workflowID),
	}
}

// WorkflowCancelledEvent is emitted when a workflow is cancelled.
// This is a priority event, never dropped.
type WorkflowCancelledEvent struct {
	BaseEvent
}

// NewWorkflowCancelledEvent creates a new workflow cancelled event.
func NewWorkflowCancelledEvent(workflowID string) WorkflowCancelledEvent {
	return WorkflowCancelledEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowCancelled, workflowID),
	}
}
