// Package action implements the public action-dispatch layer: the ten
// operations of the engine's action surface (initialize/start/complete/
// fail/cancel/reset across workflows and work items), each validating
// its payload against a per-action schema, opening an audit span, and
// running the execution core's state-machine transitions inside one
// host transaction. Every operation is exposed twice — a public entry
// point that applies the embedder's authorization policy, and an
// internal one that does not — with identical semantics otherwise.
package action

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tiborkr/tasquencer/engine/audit"
	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/definition"
	"github.com/tiborkr/tasquencer/engine/runtime"
	"github.com/tiborkr/tasquencer/engine/schema"
	"github.com/tiborkr/tasquencer/engine/store"
	"github.com/tiborkr/tasquencer/pkg/logger"
)

// Context is the read-only view an authorization Policy receives, the
// same shape regardless of which of the ten operations is dispatching.
// CorrelationID is a fresh random id minted once per dispatch call; it
// is unrelated to any entity's persistent ID (those are ksuid-backed,
// see engine/core.ID). The Policy sees it, and cancelRootWorkflow's
// workflow audit span carries it; other spans and log lines do not.
type Context struct {
	Action        string
	TargetKind    string // "workflow" | "task" | "workItem"
	TargetID      string
	Payload       any
	CorrelationID string
}

// newActionContext builds a Context with a fresh CorrelationID, the
// common prelude to every one of the ten operations.
func newActionContext(actionName, targetKind, targetID string, payload any) Context {
	return Context{
		Action:        actionName,
		TargetKind:    targetKind,
		TargetID:      targetID,
		Payload:       payload,
		CorrelationID: uuid.NewString(),
	}
}

// Policy is a user-defined authorization predicate set once on a
// Dispatcher's Dependencies; every public entry point of that dispatcher
// consults it, passing the action name in actionCtx.Action. There is no
// separate per-action registration. Returning a non-nil error denies the
// action; the dispatcher surfaces it as Forbidden.
type Policy func(ctx context.Context, actionCtx Context) error

// NetworkResolver looks up a registered Network by (workflowName,
// version) — the version manager's job. It lets a child dispatcher
// propagate a composite task's completion up into whatever Network
// governs the parent workflow instance, which need not be the same
// Network as the child's.
type NetworkResolver interface {
	Resolve(workflowName, version string) (*definition.Network, bool)
}

// Path addresses an enabled task instance within a running workflow
// instance, the hierarchical target initializeWorkflow and
// initializeWorkItem resolve against.
type Path struct {
	WorkflowInstanceID core.ID
	TaskName           string
}

// Dependencies bundles everything one action dispatch needs: the
// definition it is bound to, the execution core, the host's transaction
// opener, the action-name-keyed schema registry for workflow-level
// actions (initialize/cancel), the authorization policy, and the
// resolver used for cross-workflow composite-completion propagation.
type Dependencies struct {
	Net      *definition.Network
	Engine   *runtime.Engine
	Store    store.Opener
	Schemas  schema.ActionSchemas
	Policy   Policy
	Resolver NetworkResolver
	// Strict opts into the non-idempotent AlreadyTerminal behavior for
	// cancel operations; defaults to idempotent.
	Strict bool
}

// Dispatcher is the action surface bound to one workflow Network (one
// version, resolved by engine/version.Manager.APIForVersion).
type Dispatcher struct {
	Deps Dependencies
}

// New returns a Dispatcher over deps.
func New(deps Dependencies) *Dispatcher {
	return &Dispatcher{Deps: deps}
}

func (d *Dispatcher) net() *definition.Network { return d.Deps.Net }

func (d *Dispatcher) authorize(ctx context.Context, actx Context) error {
	if d.Deps.Policy == nil {
		return nil
	}
	if err := d.Deps.Policy(ctx, actx); err != nil {
		return core.NewError(
			fmt.Errorf("authorization denied for action %q: %w", actx.Action, err),
			core.KindForbidden,
			map[string]any{"action": actx.Action, "targetKind": actx.TargetKind, "targetId": actx.TargetID},
		)
	}
	return nil
}

// openWorkItemSpan opens the per-operation audit span every work-item
// action carries; transition names the state change the operation
// attempts.
func (d *Dispatcher) openWorkItemSpan(ctx context.Context, actx Context, transition string) audit.Span {
	return d.Deps.Engine.Audit.OpenSpan(ctx, audit.Attribute{Kind: audit.KindWorkItem, WorkItem: &audit.WorkItemAttrs{
		ID: actx.TargetID, Action: actx.Action, Transition: transition,
	}})
}

func validatePayload(ctx context.Context, ref definition.ActionSchemaRef, payload any) (any, error) {
	if ref == nil {
		return payload, nil
	}
	return ref.Parse(ctx, payload)
}

func workflowActionSchema(s schema.ActionSchemas, actionName string) definition.ActionSchemaRef {
	sch := s.For(actionName)
	return sch
}

func workItemActionSchema(task *definition.Task, actionName string) definition.ActionSchemaRef {
	if task == nil || task.WorkItem == nil {
		return nil
	}
	ref, ok := task.WorkItem.ActionSchemas[actionName]
	if !ok {
		return nil
	}
	return ref
}

func isTerminalWorkflowState(s runtime.WorkflowState) bool {
	return s == runtime.WorkflowCompleted || s == runtime.WorkflowCancelled
}

func isTerminalWorkItemState(s runtime.WorkItemState) bool {
	return s == runtime.WorkItemCompleted || s == runtime.WorkItemFailed || s == runtime.WorkItemCancelled
}

// WorkflowResult is returned by every operation that creates, cancels,
// or otherwise mutates a workflow instance.
type WorkflowResult struct {
	WorkflowInstanceID core.ID
	State              runtime.WorkflowState
}

// WorkItemResult is returned by every work-item operation.
type WorkItemResult struct {
	WorkItemInstanceID core.ID
	TaskInstanceID     core.ID
	State              runtime.WorkItemState
}

// loadWorkItemContext resolves a work item id to its instance, owning
// task instance, and task definition — the common prelude to every
// work-item operation.
func (d *Dispatcher) loadWorkItemContext(
	ctx context.Context,
	tx store.Tx,
	workItemID core.ID,
) (*runtime.WorkItemInstance, *runtime.TaskInstance, *definition.Task, error) {
	wi, err := d.Deps.Engine.GetWorkItemInstance(ctx, tx, workItemID)
	if err != nil {
		return nil, nil, nil, err
	}
	ti, err := d.Deps.Engine.GetTaskInstance(ctx, tx, wi.TaskInstanceID)
	if err != nil {
		return nil, nil, nil, err
	}
	task, ok := d.net().GetTask(ti.Name)
	if !ok {
		return nil, nil, nil, fmt.Errorf("task %q not found in network %q", ti.Name, d.net().Name)
	}
	return wi, ti, task, nil
}

// propagateCompletionToParent is the cross-workflow half of composite
// completion: when a child workflow spawned by a composite/dynamic-
// composite task reaches completed, the owning parent task fires with
// the child's payload as output, which may in turn complete the parent
// workflow, so propagation recurses up the hierarchy. A nil Resolver means the
// dispatcher was built for a standalone/root-only Network (e.g. in unit
// tests exercising one level of the graph) and propagation is skipped.
func (d *Dispatcher) propagateCompletionToParent(ctx context.Context, tx store.Tx, workflowID core.ID) error {
	child, err := d.Deps.Engine.GetWorkflowInstance(ctx, tx, workflowID)
	if err != nil {
		return err
	}
	if child.State != runtime.WorkflowCompleted || child.Parent == nil {
		return nil
	}
	if d.Deps.Resolver == nil {
		logger.FromContext(ctx).Debug(
			"skipping composite-completion propagation: no network resolver configured",
			"workflow", workflowID,
		)
		return nil
	}
	parentID := core.ID(child.Parent.WorkflowInstanceID)
	parentWI, err := d.Deps.Engine.GetWorkflowInstance(ctx, tx, parentID)
	if err != nil {
		return err
	}
	parentNet, ok := d.Deps.Resolver.Resolve(parentWI.DefinitionName, parentWI.Version)
	if !ok {
		return fmt.Errorf("could not resolve parent network %s@%s", parentWI.DefinitionName, parentWI.Version)
	}
	parentTask, err := d.Deps.Engine.FindTaskInstanceByName(ctx, tx, parentID, child.Parent.TaskName)
	if err != nil {
		return err
	}
	if parentTask == nil {
		return fmt.Errorf("parent task instance %q not found in workflow %s", child.Parent.TaskName, parentID)
	}
	span := d.Deps.Engine.Audit.OpenSpan(ctx, audit.Attribute{Kind: audit.KindTask, Task: &audit.TaskAttrs{
		ID: parentTask.ID.String(), Name: parentTask.Name, ParentWorkflowID: parentID.String(), Transition: "complete-composite",
	}})
	defer span.Close(ctx)
	if err := d.Deps.Engine.CompleteCompositeInstance(ctx, tx, parentNet, parentID, parentTask, child.Payload); err != nil {
		return err
	}
	childDispatcher := &Dispatcher{Deps: Dependencies{
		Net: parentNet, Engine: d.Deps.Engine, Store: d.Deps.Store,
		Schemas: d.Deps.Schemas, Policy: d.Deps.Policy, Resolver: d.Deps.Resolver, Strict: d.Deps.Strict,
	}}
	return childDispatcher.propagateCompletionToParent(ctx, tx, parentID)
}
