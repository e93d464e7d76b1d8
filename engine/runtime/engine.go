package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/tiborkr/tasquencer/engine/audit"
	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/definition"
	"github.com/tiborkr/tasquencer/engine/store"
	"github.com/tiborkr/tasquencer/pkg/logger"
)

// Engine is the execution core bound to one audit handle. It holds no
// per-call state; every method takes the store.Tx and definition.Network
// it should operate against, so one Engine value can serve concurrent
// actions against different workflow instances.
type Engine struct {
	Audit audit.Handle
}

// New returns an Engine emitting spans/events through h. A nil h is
// replaced with audit.Noop().
func New(h audit.Handle) *Engine {
	if h == nil {
		h = audit.Noop()
	}
	return &Engine{Audit: h}
}

func (e *Engine) runActivity(
	ctx context.Context,
	tx store.Tx,
	workflowID core.ID,
	taskInstanceID core.ID,
	task *definition.Task,
	fn definition.ActivityFunc,
	phase string,
) error {
	if fn == nil {
		return nil
	}
	span := e.Audit.OpenSpan(ctx, audit.Attribute{Kind: audit.KindActivity, Activity: &audit.ActivityAttrs{
		Name:  task.Name,
		Phase: phase,
	}})
	defer span.Close(ctx)
	err := fn(ctx, definition.ActivityDeps{
		Tx:                 tx,
		WorkflowInstanceID: workflowID.String(),
		TaskInstanceID:     taskInstanceID.String(),
		TaskName:           task.Name,
	})
	if err != nil {
		span.Event(ctx, audit.Attribute{Kind: audit.KindActivity, Activity: &audit.ActivityAttrs{
			Name: task.Name, Phase: "error",
		}})
		return core.NewError(
			fmt.Errorf("activity %q for task %q failed: %w", phase, task.Name, err),
			core.KindPreconditionViolated,
			map[string]any{"task": task.Name, "phase": phase},
		)
	}
	return nil
}

// transitionToEnabled inserts a fresh task instance in the enabled state
// and runs its onEnabled activity. A dummy task has no work item and no
// child workflow to wait on, so it fires immediately here rather than
// waiting for an external start/complete action: its instance goes
// straight from enabled to completed.
func (e *Engine) transitionToEnabled(ctx context.Context, r *repo, net *definition.Network, workflowID core.ID, task *definition.Task) error {
	now := time.Now()
	id, err := r.insertTask(ctx, &TaskInstance{
		WorkflowInstanceID: workflowID,
		Name:               task.Name,
		State:              TaskEnabled,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("task enabled", "workflow", workflowID, "task", task.Name, "taskInstance", id)
	if err := e.runActivity(ctx, r.tx, workflowID, id, task, task.Activities.OnEnabled, "pre"); err != nil {
		return err
	}
	if task.Kind == definition.TaskDummy {
		ti := &TaskInstance{ID: id, WorkflowInstanceID: workflowID, Name: task.Name, State: TaskEnabled}
		return e.Fire(ctx, r, net, workflowID, ti, nil)
	}
	return nil
}

func (e *Engine) transitionToDisabled(
	ctx context.Context,
	r *repo,
	workflowID core.ID,
	existing *TaskInstance,
	task *definition.Task,
) error {
	if err := r.patchTaskState(ctx, existing.ID, TaskDisabled); err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("task disabled", "workflow", workflowID, "task", task.Name, "taskInstance", existing.ID)
	return e.runActivity(ctx, r.tx, workflowID, existing.ID, task, task.Activities.OnDisabled, "post")
}
