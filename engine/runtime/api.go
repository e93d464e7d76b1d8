package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/tiborkr/tasquencer/engine/audit"
	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/definition"
	"github.com/tiborkr/tasquencer/engine/store"
)

// This file is the execution core's public surface: the operations
// engine/action calls to advance workflow/task/work-item state machines.
// Every method opens its own *repo over the supplied store.Tx so callers
// never see the unexported repo type.

// InitializeWorkflowInstance creates a workflow instance in the
// initialized state, marks its start condition, transitions it to
// started, and recomputes enablement for every task fed by the start
// condition.
func (e *Engine) InitializeWorkflowInstance(
	ctx context.Context,
	tx store.Tx,
	net *definition.Network,
	parent *ParentLink,
	payload any,
) (*WorkflowInstance, error) {
	r := newRepo(tx)
	now := time.Now()
	wi := &WorkflowInstance{
		DefinitionName: net.Name,
		Version:        net.Version,
		Parent:         parent,
		State:          WorkflowInitialized,
		Payload:        payload,
		CreatedAt:      now,
	}
	id, err := r.insertWorkflow(ctx, wi)
	if err != nil {
		return nil, err
	}
	wi.ID = id

	if _, err := r.adjustMarking(ctx, id, net.StartCondition, 1); err != nil {
		return nil, fmt.Errorf("failed to mark start condition: %w", err)
	}
	if err := r.patchWorkflowState(ctx, id, WorkflowStarted, nil); err != nil {
		return nil, err
	}
	wi.State = WorkflowStarted

	span := e.Audit.OpenSpan(ctx, audit.Attribute{Kind: audit.KindWorkflow, Workflow: &audit.WorkflowAttrs{
		ID: id.String(), Name: net.Name, Version: net.Version, Action: "initialize",
	}})
	defer span.Close(ctx)

	if err := e.recomputeEnablement(ctx, r, net, id, []string{net.StartCondition}); err != nil {
		return nil, err
	}
	if err := e.maybeCompleteWorkflow(ctx, r, net, id); err != nil {
		return nil, err
	}
	return wi, nil
}

// GetWorkflowInstance loads a workflow instance by id.
func (e *Engine) GetWorkflowInstance(ctx context.Context, tx store.Tx, id core.ID) (*WorkflowInstance, error) {
	return newRepo(tx).getWorkflow(ctx, id)
}

// GetTaskInstance loads a task instance by id.
func (e *Engine) GetTaskInstance(ctx context.Context, tx store.Tx, id core.ID) (*TaskInstance, error) {
	return newRepo(tx).getTask(ctx, id)
}

// FindTaskInstanceByName returns the most recent task instance named
// taskName under workflowID, used to resolve the (workflowId, taskName)
// paths that initializeWorkflow/initializeWorkItem address.
func (e *Engine) FindTaskInstanceByName(ctx context.Context, tx store.Tx, workflowID core.ID, taskName string) (*TaskInstance, error) {
	return newRepo(tx).findTaskByName(ctx, workflowID, taskName)
}

// GetWorkItemInstance loads a work item instance by id.
func (e *Engine) GetWorkItemInstance(ctx context.Context, tx store.Tx, id core.ID) (*WorkItemInstance, error) {
	return newRepo(tx).getWorkItem(ctx, id)
}

// InitializeWorkItemInstance creates a work item in the initialized
// state under an enabled atomic task instance. The task's onEnabled
// activity already fired when the task itself transitioned
// disabled->enabled; this step only materializes the unit of work the
// caller will start/complete.
func (e *Engine) InitializeWorkItemInstance(
	ctx context.Context,
	tx store.Tx,
	taskInstance *TaskInstance,
	metadata map[string]any,
) (*WorkItemInstance, error) {
	if taskInstance.State != TaskEnabled {
		return nil, core.NewError(
			fmt.Errorf("task %q is not enabled (state %q)", taskInstance.Name, taskInstance.State),
			core.KindPreconditionViolated,
			map[string]any{"taskInstanceId": taskInstance.ID.String()},
		)
	}
	r := newRepo(tx)
	now := time.Now()
	wi := &WorkItemInstance{
		TaskInstanceID: taskInstance.ID,
		State:          WorkItemInitialized,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	id, err := r.insertWorkItem(ctx, wi)
	if err != nil {
		return nil, err
	}
	wi.ID = id
	return wi, nil
}

// StartWorkItemInstance transitions a work item initialized->started
// (in the store and on wi), and transitions its owning task instance enabled->started on the
// first work item to start, so a started atomic task always owns
// exactly one started/initialized work item.
func (e *Engine) StartWorkItemInstance(ctx context.Context, tx store.Tx, wi *WorkItemInstance) error {
	if wi.State != WorkItemInitialized {
		return core.NewError(
			fmt.Errorf("work item %s is not initialized (state %q)", wi.ID, wi.State),
			core.KindPreconditionViolated,
			map[string]any{"workItemId": wi.ID.String()},
		)
	}
	r := newRepo(tx)
	if err := r.patchWorkItemState(ctx, wi.ID, WorkItemStarted); err != nil {
		return err
	}
	wi.State = WorkItemStarted
	ti, err := r.getTask(ctx, wi.TaskInstanceID)
	if err != nil {
		return err
	}
	if ti.State == TaskEnabled {
		if err := r.patchTaskState(ctx, ti.ID, TaskStarted); err != nil {
			return err
		}
	}
	return nil
}

// CompleteWorkItemInstance transitions a work item started->completed
// and fires its owning task with payload as the firing output.
func (e *Engine) CompleteWorkItemInstance(
	ctx context.Context,
	tx store.Tx,
	net *definition.Network,
	workflowID core.ID,
	wi *WorkItemInstance,
	payload any,
) error {
	if wi.State != WorkItemStarted {
		return core.NewError(
			fmt.Errorf("work item %s is not started (state %q)", wi.ID, wi.State),
			core.KindPreconditionViolated,
			map[string]any{"workItemId": wi.ID.String()},
		)
	}
	r := newRepo(tx)
	if err := r.patchWorkItemState(ctx, wi.ID, WorkItemCompleted); err != nil {
		return err
	}
	ti, err := r.getTask(ctx, wi.TaskInstanceID)
	if err != nil {
		return err
	}
	return e.Fire(ctx, r, net, workflowID, ti, payload)
}

// FailWorkItemInstance transitions a work item started->failed and runs
// its owning task's onFailed activity. The owning task remains started.
func (e *Engine) FailWorkItemInstance(
	ctx context.Context,
	tx store.Tx,
	net *definition.Network,
	workflowID core.ID,
	wi *WorkItemInstance,
	failure *core.Error,
) error {
	if wi.State != WorkItemStarted {
		return core.NewError(
			fmt.Errorf("work item %s is not started (state %q)", wi.ID, wi.State),
			core.KindPreconditionViolated,
			map[string]any{"workItemId": wi.ID.String()},
		)
	}
	r := newRepo(tx)
	if err := r.patchWorkItemState(ctx, wi.ID, WorkItemFailed); err != nil {
		return err
	}
	if failure != nil {
		if err := tx.Patch(ctx, store.KindWorkItem, wi.ID.String(), map[string]any{"error": failure.AsMap()}); err != nil {
			return fmt.Errorf("failed to persist work item error: %w", err)
		}
	}
	ti, err := r.getTask(ctx, wi.TaskInstanceID)
	if err != nil {
		return err
	}
	task, ok := net.GetTask(ti.Name)
	if !ok {
		return fmt.Errorf("task %q not found in network", ti.Name)
	}
	return e.runActivity(ctx, tx, workflowID, ti.ID, task, task.Activities.OnFailed, "post")
}

// ResetWorkItemInstance transitions a failed work item back to
// initialized, clearing the persisted failure.
func (e *Engine) ResetWorkItemInstance(ctx context.Context, tx store.Tx, wi *WorkItemInstance) error {
	if wi.State != WorkItemFailed {
		return core.NewError(
			fmt.Errorf("work item %s is not failed (state %q)", wi.ID, wi.State),
			core.KindPreconditionViolated,
			map[string]any{"workItemId": wi.ID.String()},
		)
	}
	r := newRepo(tx)
	if err := tx.Patch(ctx, store.KindWorkItem, wi.ID.String(), map[string]any{"error": nil}); err != nil {
		return fmt.Errorf("failed to clear work item error: %w", err)
	}
	return r.patchWorkItemState(ctx, wi.ID, WorkItemInitialized)
}

// CancelWorkflowInstance cancels workflowID, recursing into child
// workflows of live composite/dynamic-composite tasks via cancelChild.
func (e *Engine) CancelWorkflowInstance(
	ctx context.Context,
	tx store.Tx,
	net *definition.Network,
	workflowID core.ID,
	cancelChild CancelChildWorkflowFunc,
) error {
	return e.CancelWorkflow(ctx, newRepo(tx), net, workflowID, cancelChild)
}

// CancelWorkItemInstance cancels a single work item.
func (e *Engine) CancelWorkItemInstance(
	ctx context.Context,
	tx store.Tx,
	net *definition.Network,
	workflowID core.ID,
	wi *WorkItemInstance,
	taskInstance *TaskInstance,
) error {
	return e.CancelWorkItem(ctx, newRepo(tx), net, workflowID, wi, taskInstance)
}

// StartCompositeInstance transitions a composite/dynamic-composite task
// instance enabled->started.
func (e *Engine) StartCompositeInstance(ctx context.Context, tx store.Tx, taskInstance *TaskInstance) error {
	return e.StartComposite(ctx, newRepo(tx), taskInstance)
}

// CompleteCompositeInstance fires a composite/dynamic-composite task
// using its child workflow's completion payload.
func (e *Engine) CompleteCompositeInstance(
	ctx context.Context,
	tx store.Tx,
	net *definition.Network,
	workflowID core.ID,
	taskInstance *TaskInstance,
	childPayload any,
) error {
	return e.CompleteComposite(ctx, newRepo(tx), net, workflowID, taskInstance, childPayload)
}

// FindChildWorkflows returns every workflow instance id spawned as a
// child of taskName within parentWorkflowID.
func (e *Engine) FindChildWorkflows(ctx context.Context, tx store.Tx, parentWorkflowID core.ID, taskName string) ([]core.ID, error) {
	return newRepo(tx).findChildWorkflowsByParentTask(ctx, parentWorkflowID, taskName)
}
