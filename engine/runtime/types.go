// Package runtime implements the execution core: enablement, firing,
// cancellation, and the hierarchical workflow/task/work-item state
// machines described by the engine's execution semantics. Every
// operation here runs inside one caller-provided store.Tx; none of them
// may suspend partway through a firing.
package runtime

import (
	"time"

	"github.com/tiborkr/tasquencer/engine/core"
)

// WorkflowState is one of the four workflow-instance states.
type WorkflowState string

const (
	WorkflowInitialized WorkflowState = "initialized"
	WorkflowStarted     WorkflowState = "started"
	WorkflowCompleted   WorkflowState = "completed"
	WorkflowCancelled   WorkflowState = "cancelled"
)

// TaskState is one of the five task-instance states.
type TaskState string

const (
	TaskDisabled  TaskState = "disabled"
	TaskEnabled   TaskState = "enabled"
	TaskStarted   TaskState = "started"
	TaskCompleted TaskState = "completed"
	TaskCancelled TaskState = "cancelled"
)

// WorkItemState is one of the five work-item-instance states.
type WorkItemState string

const (
	WorkItemInitialized WorkItemState = "initialized"
	WorkItemStarted     WorkItemState = "started"
	WorkItemCompleted   WorkItemState = "completed"
	WorkItemFailed      WorkItemState = "failed"
	WorkItemCancelled   WorkItemState = "cancelled"
)

// ParentLink identifies the composite/dynamic-composite task that
// spawned a child workflow instance.
type ParentLink struct {
	WorkflowInstanceID string
	TaskName           string
}

// WorkflowInstance is the runtime record for one workflow execution.
type WorkflowInstance struct {
	ID             core.ID
	DefinitionName string
	Version        string
	Parent         *ParentLink
	State          WorkflowState
	Payload        any
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// TaskInstance is the runtime record for one firing of a task.
type TaskInstance struct {
	ID                 core.ID
	WorkflowInstanceID core.ID
	Name               string
	State              TaskState
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// WorkItemInstance is the runtime record for one unit of work owned by
// a task instance.
type WorkItemInstance struct {
	ID             core.ID
	TaskInstanceID core.ID
	State          WorkItemState
	Metadata       map[string]any
	Error          *core.Error
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
