package runtime

import (
	"context"
	"fmt"
	"sort"

	"github.com/tiborkr/tasquencer/engine/audit"
	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/definition"
	"github.com/tiborkr/tasquencer/pkg/logger"
)

func isLiveTask(s TaskState) bool { return s == TaskEnabled || s == TaskStarted }

func isTerminalWorkflow(s WorkflowState) bool { return s == WorkflowCompleted || s == WorkflowCancelled }

func isTerminalWorkItem(s WorkItemState) bool {
	return s == WorkItemCompleted || s == WorkItemFailed || s == WorkItemCancelled
}

func isActiveWorkItem(s WorkItemState) bool { return s == WorkItemInitialized || s == WorkItemStarted }

// applyCancellationRegion resets the region owned by the firing task:
// every listed task that is currently enabled or started transitions to
// cancelled (invoking onCanceled); every listed condition's marking is
// zeroed. The zeroed markings are returned so the caller can feed them
// into the enablement recompute and the audit trail.
func (e *Engine) applyCancellationRegion(
	ctx context.Context,
	r *repo,
	net *definition.Network,
	workflowID core.ID,
	task *definition.Task,
) ([]markingChange, error) {
	region, ok := net.CancellationRegionOwnedBy(task.Name)
	if !ok {
		return nil, nil
	}
	for _, taskName := range setKeysSorted(region.Tasks) {
		ti, err := r.findTaskByName(ctx, workflowID, taskName)
		if err != nil {
			return nil, err
		}
		if ti == nil || !isLiveTask(ti.State) {
			continue
		}
		tdef, _ := net.GetTask(taskName)
		if err := r.patchTaskState(ctx, ti.ID, TaskCancelled); err != nil {
			return nil, err
		}
		if err := e.runActivity(ctx, r.tx, workflowID, ti.ID, tdef, tdef.Activities.OnCanceled, "post"); err != nil {
			return nil, err
		}
	}
	var zeroed []markingChange
	for _, condName := range setKeysSorted(region.Conditions) {
		before, _, err := r.marking(ctx, workflowID, condName)
		if err != nil {
			return nil, err
		}
		if err := r.setMarking(ctx, workflowID, condName, 0); err != nil {
			return nil, err
		}
		if before != 0 {
			zeroed = append(zeroed, markingChange{name: condName, before: before, after: 0})
		}
	}
	return zeroed, nil
}

func setKeysSorted(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CancelChildWorkflowFunc recursively cancels the child workflow instance
// owned by a composite/dynamic-composite task instance. Only the caller
// (engine/action, from the parent task's Child or Candidates entry) can
// resolve which Network governs that child when it was spawned from a dynamic-composite
// candidate, so cancellation of the child graph is injected rather than
// performed here.
type CancelChildWorkflowFunc func(ctx context.Context, childWorkflowID core.ID) error

// CancelWorkflow cancels workflowID: every non-terminal descendant task
// (and, via cancelChild, every descendant child workflow spawned by a
// composite/dynamic-composite task) is cancelled depth-first, children
// before parents; markings are zeroed, and the instance transitions to
// cancelled. Cancelling an already-terminal workflow is a no-op.
func (e *Engine) CancelWorkflow(
	ctx context.Context,
	r *repo,
	net *definition.Network,
	workflowID core.ID,
	cancelChild CancelChildWorkflowFunc,
) error {
	wi, err := r.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if isTerminalWorkflow(wi.State) {
		return nil
	}

	for _, state := range []TaskState{TaskStarted, TaskEnabled} {
		instances, err := r.tasksInState(ctx, workflowID, state)
		if err != nil {
			return err
		}
		for _, ti := range instances {
			task, ok := net.GetTask(ti.Name)
			if !ok {
				continue
			}
			if (task.Kind == definition.TaskComposite || task.Kind == definition.TaskDynamicComposite) && cancelChild != nil {
				children, err := r.findChildWorkflowsByParentTask(ctx, workflowID, ti.Name)
				if err != nil {
					return err
				}
				for _, childID := range children {
					if err := cancelChild(ctx, childID); err != nil {
						return err
					}
				}
			}
			if task.Kind == definition.TaskAtomic {
				items, err := r.workItemsForTask(ctx, ti.ID)
				if err != nil {
					return err
				}
				for _, wiInst := range items {
					if isActiveWorkItem(wiInst.State) {
						if err := r.patchWorkItemState(ctx, wiInst.ID, WorkItemCancelled); err != nil {
							return err
						}
					}
				}
			}
			if err := r.patchTaskState(ctx, ti.ID, TaskCancelled); err != nil {
				return err
			}
			if err := e.runActivity(ctx, r.tx, workflowID, ti.ID, task, task.Activities.OnCanceled, "post"); err != nil {
				return err
			}
		}
	}

	for _, condName := range net.Conditions() {
		if err := r.setMarking(ctx, workflowID, condName, 0); err != nil {
			return err
		}
	}

	if err := r.patchWorkflowState(ctx, workflowID, WorkflowCancelled, nowPtr()); err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("workflow cancelled", "workflow", workflowID)
	span := e.Audit.OpenSpan(ctx, audit.Attribute{Kind: audit.KindWorkflow, Workflow: &audit.WorkflowAttrs{
		ID: workflowID.String(), Name: wi.DefinitionName, Version: wi.Version, Action: "cancel",
	}})
	span.Close(ctx)
	return nil
}

// CancelWorkItem cancels a single work item. Cancelling a work item
// cancels its owning task instance iff that task has no other active
// work item. Cancelling an already-terminal work item is a no-op.
func (e *Engine) CancelWorkItem(
	ctx context.Context,
	r *repo,
	net *definition.Network,
	workflowID core.ID,
	wi *WorkItemInstance,
	taskInstance *TaskInstance,
) error {
	if isTerminalWorkItem(wi.State) {
		return nil
	}
	if err := r.patchWorkItemState(ctx, wi.ID, WorkItemCancelled); err != nil {
		return err
	}
	siblings, err := r.workItemsForTask(ctx, taskInstance.ID)
	if err != nil {
		return err
	}
	for _, s := range siblings {
		if s.ID == wi.ID {
			continue
		}
		if isActiveWorkItem(s.State) {
			return nil
		}
	}
	if !isLiveTask(taskInstance.State) {
		return nil
	}
	if err := r.patchTaskState(ctx, taskInstance.ID, TaskCancelled); err != nil {
		return err
	}
	task, ok := net.GetTask(taskInstance.Name)
	if !ok {
		return fmt.Errorf("task %q not found in network", taskInstance.Name)
	}
	return e.runActivity(ctx, r.tx, workflowID, taskInstance.ID, task, task.Activities.OnCanceled, "post")
}
