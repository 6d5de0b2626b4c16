package core

import (
	"time"
	"unicode/utf8"
)

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal workflows
// never transition again.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// StepStatus is the lifecycle state of a single agent step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Workflow is one user request driven through the agent pipeline.
type Workflow struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Task         string         `json:"userPrompt"`
	Status       WorkflowStatus `json:"status"`
	CurrentStage int            `json:"currentStepIndex"`
	ProjectPath  string         `json:"projectPath"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// titleMaxRunes bounds the derived title; longer tasks are truncated
// with an ellipsis.
const titleMaxRunes = 80

// TitleFromTask derives a workflow title from the raw task text.
func TitleFromTask(task string) string {
	if utf8.RuneCountInString(task) <= titleMaxRunes {
		return task
	}
	runes := []rune(task)
	return string(runes[:titleMaxRunes]) + "..."
}

// NewWorkflow builds a pending workflow for a task.
func NewWorkflow(id, task, projectPath string) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:          id,
		Title:       TitleFromTask(task),
		Task:        task,
		Status:      WorkflowPending,
		ProjectPath: projectPath,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Step is one agent's unit of work inside a workflow. Nullable
// columns map to pointer fields.
type Step struct {
	ID          string     `json:"id"`
	WorkflowID  string     `json:"workflowId"`
	Role        Role       `json:"role"`
	Status      StepStatus `json:"status"`
	Prompt      string     `json:"prompt,omitempty"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retryCount"`
	DurationMS  *int64     `json:"durationMs,omitempty"`
	TokensIn    *int       `json:"tokensIn,omitempty"`
	TokensOut   *int       `json:"tokensOut,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
