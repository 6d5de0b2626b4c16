package core

import (
	"context"
	"time"
)

// StepUpdate is a sparse step mutation. Nil fields are left untouched
// so concurrent writers never clobber each other's columns.
type StepUpdate struct {
	Status      *StepStatus
	Prompt      *string
	Output      *string
	Error       *string
	RetryCount  *int
	DurationMS  *int64
	TokensIn    *int
	TokensOut   *int
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ListFilter narrows workflow listings.
type ListFilter struct {
	Status WorkflowStatus // empty = all
	Query  string         // substring match on title and task
	Limit  int
	Offset int
}

// Metrics aggregates workflow counts for the dashboard.
type Metrics struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"byStatus"`
	AvgDurationSec float64        `json:"avgDurationSec"`
}

// Store is the persistence sink for workflows and steps. The engine
// writes state through it before emitting the matching event, so a
// restarted observer can always reconcile from the store.
type Store interface {
	// CreateWorkflow atomically persists a workflow and one step per
	// role, with plan-excluded roles already marked skipped.
	CreateWorkflow(ctx context.Context, wf *Workflow, plan []Role) error

	// UpdateWorkflowStatus transitions a workflow and bumps updated_at.
	// completed_at is set when the workflow first reaches a terminal
	// status and never cleared afterwards. currentStage may be nil.
	UpdateWorkflowStatus(ctx context.Context, id string, status WorkflowStatus, currentStage *int) error

	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, f ListFilter) ([]*Workflow, error)
	CountWorkflows(ctx context.Context, f ListFilter) (int, error)

	// StepsForWorkflow returns steps in canonical role order.
	StepsForWorkflow(ctx context.Context, workflowID string) ([]*Step, error)
	UpdateStep(ctx context.Context, stepID string, upd StepUpdate) error

	// Metrics aggregates status counts and the average duration of
	// completed workflows.
	Metrics(ctx context.Context) (*Metrics, error)

	// DeleteTerminalBefore removes terminal workflows (and their steps)
	// last updated before the cutoff. Returns the number removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)

	// MarkOrphanedRunning fails workflows left non-terminal by a dead
	// process. Returns the affected workflow IDs.
	MarkOrphanedRunning(ctx context.Context, reason string) ([]string, error)

	Close() error
}
