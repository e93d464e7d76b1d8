package runtime

import (
	"context"
	"fmt"

	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/definition"
)

// StartComposite transitions a composite/dynamic-composite task instance
// from enabled to started. The caller (engine/action) creates the child
// workflow instance via InitializeWorkflowInstance, carrying the parent
// link back to this task, right after this call.
func (e *Engine) StartComposite(ctx context.Context, r *repo, taskInstance *TaskInstance) error {
	if taskInstance.State != TaskEnabled {
		return core.NewError(
			fmt.Errorf("task %q is not enabled (state %q)", taskInstance.Name, taskInstance.State),
			core.KindPreconditionViolated,
			map[string]any{"taskInstanceId": taskInstance.ID.String()},
		)
	}
	return r.patchTaskState(ctx, taskInstance.ID, TaskStarted)
}

// CompleteComposite fires the parent task owning a composite/dynamic-
// composite child workflow once that child reaches completed, surfacing
// the child's completion payload as the parent task's firing output. It
// is the same atomic firing rule as an atomic task's work item
// completion; only the trigger and payload source differ.
func (e *Engine) CompleteComposite(
	ctx context.Context,
	r *repo,
	net *definition.Network,
	parentWorkflowID core.ID,
	parentTaskInstance *TaskInstance,
	childPayload any,
) error {
	if parentTaskInstance.State != TaskStarted {
		return core.NewError(
			fmt.Errorf("parent task %q is not started (state %q)", parentTaskInstance.Name, parentTaskInstance.State),
			core.KindPreconditionViolated,
			map[string]any{"taskInstanceId": parentTaskInstance.ID.String()},
		)
	}
	return e.Fire(ctx, r, net, parentWorkflowID, parentTaskInstance, childPayload)
}

// ResolveDynamicCandidate looks up the candidate child Network for a
// dynamic-composite task by the workflowName selection key the caller
// supplied at initialize time.
func ResolveDynamicCandidate(task *definition.Task, workflowName string) (*definition.Network, bool) {
	if task.Kind != definition.TaskDynamicComposite {
		return nil, false
	}
	net, ok := task.Candidates[workflowName]
	return net, ok
}
