package action

import (
	"context"
	"fmt"

	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/definition"
	"github.com/tiborkr/tasquencer/engine/runtime"
	"github.com/tiborkr/tasquencer/engine/store"
)

// InitializeWorkItem creates a work item in the initialized state under
// an enabled atomic task instance.
func (d *Dispatcher) InitializeWorkItem(ctx context.Context, path Path, actionName string, payload any) (WorkItemResult, error) {
	return d.initializeWorkItem(ctx, path, actionName, payload, true)
}

// InitializeWorkItemInternal is InitializeWorkItem without the
// authorization check.
func (d *Dispatcher) InitializeWorkItemInternal(ctx context.Context, path Path, actionName string, payload any) (WorkItemResult, error) {
	return d.initializeWorkItem(ctx, path, actionName, payload, false)
}

func (d *Dispatcher) initializeWorkItem(
	ctx context.Context,
	path Path,
	actionName string,
	payload any,
	checkAuthz bool,
) (WorkItemResult, error) {
	actx := newActionContext(actionName, "task", path.TaskName, payload)
	if checkAuthz {
		if err := d.authorize(ctx, actx); err != nil {
			return WorkItemResult{}, err
		}
	}
	task, ok := d.net().GetTask(path.TaskName)
	if !ok || task.Kind != definition.TaskAtomic {
		return WorkItemResult{}, core.NewError(
			fmt.Errorf("task %q is not atomic", path.TaskName),
			core.KindPathNotFound,
			map[string]any{"taskName": path.TaskName},
		)
	}
	parsed, err := validatePayload(ctx, workItemActionSchema(task, actionName), payload)
	if err != nil {
		return WorkItemResult{}, err
	}
	span := d.openWorkItemSpan(ctx, actx, "initialize")
	defer span.Close(ctx)

	var result WorkItemResult
	err = d.Deps.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ti, err := d.Deps.Engine.FindTaskInstanceByName(ctx, tx, path.WorkflowInstanceID, path.TaskName)
		if err != nil {
			return err
		}
		if ti == nil {
			return core.NewError(
				fmt.Errorf("task %q not found in workflow %s", path.TaskName, path.WorkflowInstanceID),
				core.KindPathNotFound,
				map[string]any{"taskName": path.TaskName},
			)
		}
		if ti.State != runtime.TaskEnabled {
			return core.NewError(
				fmt.Errorf("task %q is not enabled (state %q)", path.TaskName, ti.State),
				core.KindPathNotFound,
				map[string]any{"taskName": path.TaskName, "state": string(ti.State)},
			)
		}
		metadata, _ := parsed.(map[string]any)
		wi, err := d.Deps.Engine.InitializeWorkItemInstance(ctx, tx, ti, metadata)
		if err != nil {
			return err
		}
		result = WorkItemResult{WorkItemInstanceID: wi.ID, TaskInstanceID: ti.ID, State: wi.State}
		return nil
	})
	if err != nil {
		return WorkItemResult{}, err
	}
	return result, nil
}

// StartWorkItem transitions a work item initialized->started.
func (d *Dispatcher) StartWorkItem(ctx context.Context, workItemID core.ID, actionName string, payload any) (WorkItemResult, error) {
	return d.startWorkItem(ctx, workItemID, actionName, payload, true)
}

// StartWorkItemInternal is StartWorkItem without the authorization
// check.
func (d *Dispatcher) StartWorkItemInternal(ctx context.Context, workItemID core.ID, actionName string, payload any) (WorkItemResult, error) {
	return d.startWorkItem(ctx, workItemID, actionName, payload, false)
}

func (d *Dispatcher) startWorkItem(
	ctx context.Context,
	workItemID core.ID,
	actionName string,
	payload any,
	checkAuthz bool,
) (WorkItemResult, error) {
	actx := newActionContext(actionName, "workItem", workItemID.String(), payload)
	if checkAuthz {
		if err := d.authorize(ctx, actx); err != nil {
			return WorkItemResult{}, err
		}
	}

	span := d.openWorkItemSpan(ctx, actx, "start")
	defer span.Close(ctx)

	var result WorkItemResult
	err := d.Deps.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		wi, ti, task, err := d.loadWorkItemContext(ctx, tx, workItemID)
		if err != nil {
			return err
		}
		if _, err := validatePayload(ctx, workItemActionSchema(task, actionName), payload); err != nil {
			return err
		}
		if err := d.Deps.Engine.StartWorkItemInstance(ctx, tx, wi); err != nil {
			return err
		}
		result = WorkItemResult{WorkItemInstanceID: wi.ID, TaskInstanceID: ti.ID, State: runtime.WorkItemStarted}
		return nil
	})
	if err != nil {
		return WorkItemResult{}, err
	}
	return result, nil
}

// CompleteWorkItem transitions a work item started->completed and fires
// its owning task. If firing completes the owning workflow and that
// workflow is itself a composite task's child, the parent task fires
// too (propagated recursively up the hierarchy).
func (d *Dispatcher) CompleteWorkItem(ctx context.Context, workItemID core.ID, actionName string, payload any) (WorkItemResult, error) {
	return d.completeWorkItem(ctx, workItemID, actionName, payload, true)
}

// CompleteWorkItemInternal is CompleteWorkItem without the
// authorization check.
func (d *Dispatcher) CompleteWorkItemInternal(ctx context.Context, workItemID core.ID, actionName string, payload any) (WorkItemResult, error) {
	return d.completeWorkItem(ctx, workItemID, actionName, payload, false)
}

func (d *Dispatcher) completeWorkItem(
	ctx context.Context,
	workItemID core.ID,
	actionName string,
	payload any,
	checkAuthz bool,
) (WorkItemResult, error) {
	actx := newActionContext(actionName, "workItem", workItemID.String(), payload)
	if checkAuthz {
		if err := d.authorize(ctx, actx); err != nil {
			return WorkItemResult{}, err
		}
	}

	span := d.openWorkItemSpan(ctx, actx, "complete")
	defer span.Close(ctx)

	var result WorkItemResult
	err := d.Deps.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		wi, ti, task, err := d.loadWorkItemContext(ctx, tx, workItemID)
		if err != nil {
			return err
		}
		parsed, err := validatePayload(ctx, workItemActionSchema(task, actionName), payload)
		if err != nil {
			return err
		}
		if err := d.Deps.Engine.CompleteWorkItemInstance(ctx, tx, d.net(), ti.WorkflowInstanceID, wi, parsed); err != nil {
			return err
		}
		if err := d.propagateCompletionToParent(ctx, tx, ti.WorkflowInstanceID); err != nil {
			return err
		}
		result = WorkItemResult{WorkItemInstanceID: wi.ID, TaskInstanceID: ti.ID, State: runtime.WorkItemCompleted}
		return nil
	})
	if err != nil {
		return WorkItemResult{}, err
	}
	return result, nil
}

// FailWorkItem transitions a work item started->failed and runs its
// owning task's onFailed activity. The owning task remains started.
func (d *Dispatcher) FailWorkItem(ctx context.Context, workItemID core.ID, actionName string, payload any) (WorkItemResult, error) {
	return d.failWorkItem(ctx, workItemID, actionName, payload, true)
}

// FailWorkItemInternal is FailWorkItem without the authorization check.
func (d *Dispatcher) FailWorkItemInternal(ctx context.Context, workItemID core.ID, actionName string, payload any) (WorkItemResult, error) {
	return d.failWorkItem(ctx, workItemID, actionName, payload, false)
}

func (d *Dispatcher) failWorkItem(
	ctx context.Context,
	workItemID core.ID,
	actionName string,
	payload any,
	checkAuthz bool,
) (WorkItemResult, error) {
	actx := newActionContext(actionName, "workItem", workItemID.String(), payload)
	if checkAuthz {
		if err := d.authorize(ctx, actx); err != nil {
			return WorkItemResult{}, err
		}
	}

	span := d.openWorkItemSpan(ctx, actx, "fail")
	defer span.Close(ctx)

	var result WorkItemResult
	err := d.Deps.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		wi, ti, task, err := d.loadWorkItemContext(ctx, tx, workItemID)
		if err != nil {
			return err
		}
		parsed, err := validatePayload(ctx, workItemActionSchema(task, actionName), payload)
		if err != nil {
			return err
		}
		var failure *core.Error
		if ce, ok := asEngineError(parsed); ok {
			failure = ce
		}
		if err := d.Deps.Engine.FailWorkItemInstance(ctx, tx, d.net(), ti.WorkflowInstanceID, wi, failure); err != nil {
			return err
		}
		result = WorkItemResult{WorkItemInstanceID: wi.ID, TaskInstanceID: ti.ID, State: runtime.WorkItemFailed}
		return nil
	})
	if err != nil {
		return WorkItemResult{}, err
	}
	return result, nil
}

func asEngineError(payload any) (*core.Error, bool) {
	if e, ok := payload.(*core.Error); ok {
		return e, true
	}
	return nil, false
}

// ResetWorkItem transitions a failed work item back to initialized.
func (d *Dispatcher) ResetWorkItem(ctx context.Context, workItemID core.ID, actionName string, payload any) (WorkItemResult, error) {
	return d.resetWorkItem(ctx, workItemID, actionName, payload, true)
}

// ResetWorkItemInternal is ResetWorkItem without the authorization
// check.
func (d *Dispatcher) ResetWorkItemInternal(ctx context.Context, workItemID core.ID, actionName string, payload any) (WorkItemResult, error) {
	return d.resetWorkItem(ctx, workItemID, actionName, payload, false)
}

func (d *Dispatcher) resetWorkItem(
	ctx context.Context,
	workItemID core.ID,
	actionName string,
	payload any,
	checkAuthz bool,
) (WorkItemResult, error) {
	actx := newActionContext(actionName, "workItem", workItemID.String(), payload)
	if checkAuthz {
		if err := d.authorize(ctx, actx); err != nil {
			return WorkItemResult{}, err
		}
	}

	span := d.openWorkItemSpan(ctx, actx, "reset")
	defer span.Close(ctx)

	var result WorkItemResult
	err := d.Deps.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		wi, ti, task, err := d.loadWorkItemContext(ctx, tx, workItemID)
		if err != nil {
			return err
		}
		if _, err := validatePayload(ctx, workItemActionSchema(task, actionName), payload); err != nil {
			return err
		}
		if err := d.Deps.Engine.ResetWorkItemInstance(ctx, tx, wi); err != nil {
			return err
		}
		result = WorkItemResult{WorkItemInstanceID: wi.ID, TaskInstanceID: ti.ID, State: runtime.WorkItemInitialized}
		return nil
	})
	if err != nil {
		return WorkItemResult{}, err
	}
	return result, nil
}

// CancelWorkItem cancels a work item; cancels its owning task too iff no
// other active work item remains on it. Cancelling
// an already-terminal work item is a no-op unless the dispatcher was
// configured Strict.
func (d *Dispatcher) CancelWorkItem(ctx context.Context, workItemID core.ID, actionName string, payload any) (WorkItemResult, error) {
	return d.cancelWorkItem(ctx, workItemID, actionName, payload, true)
}

// CancelWorkItemInternal is CancelWorkItem without the authorization
// check.
func (d *Dispatcher) CancelWorkItemInternal(ctx context.Context, workItemID core.ID, actionName string, payload any) (WorkItemResult, error) {
	return d.cancelWorkItem(ctx, workItemID, actionName, payload, false)
}

func (d *Dispatcher) cancelWorkItem(
	ctx context.Context,
	workItemID core.ID,
	actionName string,
	payload any,
	checkAuthz bool,
) (WorkItemResult, error) {
	actx := newActionContext(actionName, "workItem", workItemID.String(), payload)
	if checkAuthz {
		if err := d.authorize(ctx, actx); err != nil {
			return WorkItemResult{}, err
		}
	}

	span := d.openWorkItemSpan(ctx, actx, "cancel")
	defer span.Close(ctx)

	var result WorkItemResult
	err := d.Deps.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		wi, ti, task, err := d.loadWorkItemContext(ctx, tx, workItemID)
		if err != nil {
			return err
		}
		if _, err := validatePayload(ctx, workItemActionSchema(task, actionName), payload); err != nil {
			return err
		}
		if d.Deps.Strict && isTerminalWorkItemState(wi.State) {
			return core.NewError(
				fmt.Errorf("work item %s is not cancellable (state %q)", workItemID, wi.State),
				core.KindPreconditionViolated,
				map[string]any{"workItemId": workItemID.String(), "state": string(wi.State)},
			)
		}
		if err := d.Deps.Engine.CancelWorkItemInstance(ctx, tx, d.net(), ti.WorkflowInstanceID, wi, ti); err != nil {
			return err
		}
		after, err := d.Deps.Engine.GetWorkItemInstance(ctx, tx, workItemID)
		if err != nil {
			return err
		}
		result = WorkItemResult{WorkItemInstanceID: wi.ID, TaskInstanceID: ti.ID, State: after.State}
		return nil
	})
	if err != nil {
		return WorkItemResult{}, err
	}
	return result, nil
}
