package runtime

import (
	"context"
	"fmt"

	"github.com/tiborkr/tasquencer/engine/audit"
	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/definition"
)

// markingChange records one condition's token count before and after a
// single mutation within a firing, both for the audit trail and for the
// enablement recompute that closes the firing.
type markingChange struct {
	name   string
	before int
	after  int
}

// Fire executes the atomic firing rule for task once its unit of work
// has completed: debit inbound tokens per the join type, run the OR/XOR
// router if any, credit outbound tokens, apply the task's cancellation
// region, mark the task completed, and recompute enablement for every
// downstream task. payload is the value the OR/XOR router sees in its
// RoutingContext (the completing work item's output, or the completed
// child workflow's output for composites); activities do not receive it.
func (e *Engine) Fire(
	ctx context.Context,
	r *repo,
	net *definition.Network,
	workflowID core.ID,
	taskInstance *TaskInstance,
	payload any,
) error {
	task, ok := net.GetTask(taskInstance.Name)
	if !ok {
		return fmt.Errorf("task %q not found in network", taskInstance.Name)
	}

	span := e.Audit.OpenSpan(ctx, audit.Attribute{Kind: audit.KindTask, Task: &audit.TaskAttrs{
		ID: taskInstance.ID.String(), Name: task.Name, ParentWorkflowID: workflowID.String(), Transition: "fire",
	}})
	defer span.Close(ctx)

	changes, err := e.debitInbound(ctx, r, workflowID, task)
	if err != nil {
		return err
	}

	targets, err := e.selectOutboundTargets(task, workflowID, payload)
	if err != nil {
		return err
	}

	for _, target := range targets {
		after, err := r.adjustMarking(ctx, workflowID, target, 1)
		if err != nil {
			return fmt.Errorf("failed to credit condition %q: %w", target, err)
		}
		changes = append(changes, markingChange{name: target, before: after - 1, after: after})
	}

	zeroed, err := e.applyCancellationRegion(ctx, r, net, workflowID, task)
	if err != nil {
		return err
	}
	changes = append(changes, zeroed...)

	for _, ch := range changes {
		span.Event(ctx, audit.Attribute{Kind: audit.KindCondition, Condition: &audit.ConditionAttrs{
			Name: ch.name, MarkingBefore: ch.before, MarkingAfter: ch.after,
		}})
	}

	if err := r.patchTaskState(ctx, taskInstance.ID, TaskCompleted); err != nil {
		return err
	}

	touched := make([]string, 0, len(changes))
	for _, ch := range changes {
		touched = append(touched, ch.name)
	}
	if err := e.recomputeEnablement(ctx, r, net, workflowID, touched); err != nil {
		return err
	}

	return e.maybeCompleteWorkflow(ctx, r, net, workflowID)
}

// debitInbound consumes tokens from task's inbound conditions per its
// join type: AND debits every inbound condition, XOR debits the single
// marked one, OR debits every marked one.
func (e *Engine) debitInbound(ctx context.Context, r *repo, workflowID core.ID, task *definition.Task) ([]markingChange, error) {
	var changes []markingChange
	debit := func(c string) error {
		after, err := r.adjustMarking(ctx, workflowID, c, -1)
		if err != nil {
			return fmt.Errorf("failed to debit condition %q: %w", c, err)
		}
		changes = append(changes, markingChange{name: c, before: after + 1, after: after})
		return nil
	}
	switch task.Join {
	case definition.JoinAnd:
		for _, c := range task.Inbound {
			if err := debit(c); err != nil {
				return nil, err
			}
		}
	case definition.JoinXor:
		for _, c := range task.Inbound {
			marked, err := r.isMarked(ctx, workflowID, c)
			if err != nil {
				return nil, err
			}
			if marked {
				if err := debit(c); err != nil {
					return nil, err
				}
				break
			}
		}
	case definition.JoinOr:
		for _, c := range task.Inbound {
			marked, err := r.isMarked(ctx, workflowID, c)
			if err != nil {
				return nil, err
			}
			if marked {
				if err := debit(c); err != nil {
					return nil, err
				}
			}
		}
	default:
		return nil, fmt.Errorf("unknown join type %q", task.Join)
	}
	return changes, nil
}

// selectOutboundTargets resolves the split rule: and-split fires every
// target; or/xor-split invoke the router.
func (e *Engine) selectOutboundTargets(
	task *definition.Task,
	workflowID core.ID,
	payload any,
) ([]string, error) {
	implicit := func(tn string) string { return definition.ImplicitConditionName(task.Name, tn) }
	all := task.Outbound.Targets(implicit)

	switch task.Split {
	case definition.SplitAnd:
		return all, nil

	case definition.SplitOr, definition.SplitXor:
		if task.Outbound.Router == nil {
			return nil, core.NewError(
				fmt.Errorf("task %q has %s split but no router configured", task.Name, task.Split),
				core.KindRouterFailed,
				nil,
			)
		}
		chosen, err := task.Outbound.Router(&definition.RoutingContext{
			WorkflowInstanceID: workflowID.String(),
			TaskName:           task.Name,
			Payload:            payload,
		})
		if err != nil {
			return nil, core.NewError(
				fmt.Errorf("router for task %q failed: %w", task.Name, err),
				core.KindRouterFailed,
				nil,
			)
		}
		if len(chosen) == 0 {
			return nil, core.NewError(
				fmt.Errorf("router for task %q returned an empty subset", task.Name),
				core.KindRouterFailed,
				nil,
			)
		}
		if task.Split == definition.SplitXor && len(chosen) != 1 {
			return nil, core.NewError(
				fmt.Errorf("router for task %q (xor split) must return exactly one target, got %d", task.Name, len(chosen)),
				core.KindRouterFailed,
				nil,
			)
		}
		resolved := make([]string, 0, len(chosen))
		for _, name := range chosen {
			if contains(task.Outbound.ToConditions, name) {
				resolved = append(resolved, name)
				continue
			}
			if contains(task.Outbound.ToTasks, name) {
				resolved = append(resolved, implicit(name))
				continue
			}
			return nil, core.NewError(
				fmt.Errorf("router for task %q selected unknown target %q", task.Name, name),
				core.KindRouterFailed,
				nil,
			)
		}
		return resolved, nil

	default:
		return nil, fmt.Errorf("unknown split type %q", task.Split)
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// maybeCompleteWorkflow transitions workflowID to completed once its end
// condition is marked and no task remains enabled or started.
func (e *Engine) maybeCompleteWorkflow(ctx context.Context, r *repo, net *definition.Network, workflowID core.ID) error {
	endMarked, err := r.isMarked(ctx, workflowID, net.EndCondition)
	if err != nil {
		return err
	}
	if !endMarked {
		return nil
	}
	for _, state := range []TaskState{TaskEnabled, TaskStarted} {
		live, err := r.tasksInState(ctx, workflowID, state)
		if err != nil {
			return err
		}
		if len(live) > 0 {
			return nil
		}
	}
	wi, err := r.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wi.State == WorkflowCompleted || wi.State == WorkflowCancelled {
		return nil
	}
	now := nowPtr()
	if err := r.patchWorkflowState(ctx, workflowID, WorkflowCompleted, now); err != nil {
		return err
	}
	span := e.Audit.OpenSpan(ctx, audit.Attribute{Kind: audit.KindWorkflow, Workflow: &audit.WorkflowAttrs{
		ID: workflowID.String(), Name: wi.DefinitionName, Version: wi.Version, Action: "complete",
	}})
	span.Close(ctx)
	return nil
}
