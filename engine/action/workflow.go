package action

import (
	"context"
	"fmt"

	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/definition"
	"github.com/tiborkr/tasquencer/engine/runtime"
	"github.com/tiborkr/tasquencer/engine/store"
)

func errAlreadyTerminal(id string) error {
	return fmt.Errorf("workflow instance %s is already terminal", id)
}

// resolveChildNetwork recovers the Network governing a child workflow
// instance from its parent link: the owning task's Child (composite) or
// Candidates[definitionName] (dynamic composite). Both are static
// pointers baked into the parent Network at build time, so no version
// manager lookup is needed here — only a registered parent Network.
func (d *Dispatcher) resolveChildNetwork(childWI *runtime.WorkflowInstance) (*definition.Network, error) {
	if childWI.Parent == nil {
		return nil, fmt.Errorf("workflow instance %s has no parent link", childWI.ID)
	}
	parentTask, ok := d.net().GetTask(childWI.Parent.TaskName)
	if !ok {
		return nil, fmt.Errorf("parent task %q not found in network %q", childWI.Parent.TaskName, d.net().Name)
	}
	switch parentTask.Kind {
	case definition.TaskComposite:
		if parentTask.Child == nil {
			return nil, fmt.Errorf("composite task %q has no child network", parentTask.Name)
		}
		return parentTask.Child, nil
	case definition.TaskDynamicComposite:
		net, ok := parentTask.Candidates[childWI.DefinitionName]
		if !ok {
			return nil, fmt.Errorf("dynamic composite task %q has no candidate %q", parentTask.Name, childWI.DefinitionName)
		}
		return net, nil
	default:
		return nil, fmt.Errorf("task %q (kind %q) does not own a child workflow", parentTask.Name, parentTask.Kind)
	}
}

// InitializeWorkflow creates a child workflow instance under an enabled
// composite or dynamic-composite task, transitioning that task to
// started. For a dynamic-composite task, payload must carry a
// "workflowName" key selecting one of the task's candidates.
func (d *Dispatcher) InitializeWorkflow(ctx context.Context, path Path, actionName string, payload any) (WorkflowResult, error) {
	return d.initializeWorkflow(ctx, path, actionName, payload, true)
}

// InitializeWorkflowInternal is InitializeWorkflow without the
// authorization check.
func (d *Dispatcher) InitializeWorkflowInternal(ctx context.Context, path Path, actionName string, payload any) (WorkflowResult, error) {
	return d.initializeWorkflow(ctx, path, actionName, payload, false)
}

func (d *Dispatcher) initializeWorkflow(
	ctx context.Context,
	path Path,
	actionName string,
	payload any,
	checkAuthz bool,
) (WorkflowResult, error) {
	actx := newActionContext(actionName, "task", path.TaskName, payload)
	if checkAuthz {
		if err := d.authorize(ctx, actx); err != nil {
			return WorkflowResult{}, err
		}
	}
	parsed, err := validatePayload(ctx, workflowActionSchema(d.Deps.Schemas, actionName), payload)
	if err != nil {
		return WorkflowResult{}, err
	}

	var result WorkflowResult
	err = d.Deps.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := d.initializeWorkflowTx(ctx, tx, path, parsed)
		result = r
		return err
	})
	if err != nil {
		return WorkflowResult{}, err
	}
	return result, nil
}

func (d *Dispatcher) initializeWorkflowTx(ctx context.Context, tx store.Tx, path Path, payload any) (WorkflowResult, error) {
	ti, err := d.Deps.Engine.FindTaskInstanceByName(ctx, tx, path.WorkflowInstanceID, path.TaskName)
	if err != nil {
		return WorkflowResult{}, err
	}
	if ti == nil {
		return WorkflowResult{}, core.NewError(
			fmt.Errorf("task %q not found in workflow %s", path.TaskName, path.WorkflowInstanceID),
			core.KindPathNotFound,
			map[string]any{"taskName": path.TaskName},
		)
	}
	task, ok := d.net().GetTask(path.TaskName)
	if !ok || (task.Kind != definition.TaskComposite && task.Kind != definition.TaskDynamicComposite) {
		return WorkflowResult{}, core.NewError(
			fmt.Errorf("task %q is not a composite task", path.TaskName),
			core.KindPathNotFound,
			map[string]any{"taskName": path.TaskName},
		)
	}
	if ti.State != runtime.TaskEnabled {
		return WorkflowResult{}, core.NewError(
			fmt.Errorf("task %q is not enabled (state %q)", path.TaskName, ti.State),
			core.KindPathNotFound,
			map[string]any{"taskName": path.TaskName, "state": string(ti.State)},
		)
	}

	var childNet *definition.Network
	if task.Kind == definition.TaskDynamicComposite {
		name, ok := dynamicCandidateName(payload)
		if !ok {
			return WorkflowResult{}, core.NewError(
				fmt.Errorf("dynamic composite task %q requires a workflowName in the payload", path.TaskName),
				core.KindInvalidPayload,
				nil,
			)
		}
		net, ok := task.Candidates[name]
		if !ok {
			return WorkflowResult{}, core.NewError(
				fmt.Errorf("unknown candidate workflow %q for task %q", name, path.TaskName),
				core.KindPathNotFound,
				map[string]any{"workflowName": name},
			)
		}
		childNet = net
	} else {
		childNet = task.Child
	}

	if err := d.Deps.Engine.StartCompositeInstance(ctx, tx, ti); err != nil {
		return WorkflowResult{}, err
	}
	child, err := d.Deps.Engine.InitializeWorkflowInstance(ctx, tx, childNet, &runtime.ParentLink{
		WorkflowInstanceID: path.WorkflowInstanceID.String(),
		TaskName:           path.TaskName,
	}, payload)
	if err != nil {
		return WorkflowResult{}, err
	}
	if err := d.propagateCompletionToParent(ctx, tx, child.ID); err != nil {
		return WorkflowResult{}, err
	}
	return WorkflowResult{WorkflowInstanceID: child.ID, State: child.State}, nil
}

func dynamicCandidateName(payload any) (string, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	name, ok := m["workflowName"].(string)
	return name, ok && name != ""
}

// CancelWorkflow cancels a non-root workflow instance addressed within
// an action's own schema namespace (actionName selects the payload
// schema, allowing distinct cancel reasons to carry distinct shapes).
// Semantics otherwise match CancelRootWorkflow.
func (d *Dispatcher) CancelWorkflow(ctx context.Context, workflowID core.ID, actionName string, payload any) (WorkflowResult, error) {
	return d.cancelWorkflow(ctx, workflowID, actionName, payload, true)
}

// CancelWorkflowInternal is CancelWorkflow without the authorization
// check.
func (d *Dispatcher) CancelWorkflowInternal(ctx context.Context, workflowID core.ID, actionName string, payload any) (WorkflowResult, error) {
	return d.cancelWorkflow(ctx, workflowID, actionName, payload, false)
}

func (d *Dispatcher) cancelWorkflow(
	ctx context.Context,
	workflowID core.ID,
	actionName string,
	payload any,
	checkAuthz bool,
) (WorkflowResult, error) {
	actx := newActionContext(actionName, "workflow", workflowID.String(), payload)
	if checkAuthz {
		if err := d.authorize(ctx, actx); err != nil {
			return WorkflowResult{}, err
		}
	}
	if _, err := validatePayload(ctx, workflowActionSchema(d.Deps.Schemas, actionName), payload); err != nil {
		return WorkflowResult{}, err
	}

	var result WorkflowResult
	err := d.Deps.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := d.cancelWorkflowTx(ctx, tx, workflowID)
		result = r
		return err
	})
	if err != nil {
		return WorkflowResult{}, err
	}
	return result, nil
}
