package action

import (
	"context"

	"github.com/tiborkr/tasquencer/engine/audit"
	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/runtime"
	"github.com/tiborkr/tasquencer/engine/store"
)

// InitializeRootWorkflow creates a new top-level workflow instance:
// validates payload, marks the start condition, and drains the
// resulting enablement cascade. Applies the registered authorization
// policy.
func (d *Dispatcher) InitializeRootWorkflow(ctx context.Context, payload any) (WorkflowResult, error) {
	return d.initializeRootWorkflow(ctx, payload, true)
}

// InitializeRootWorkflowInternal is InitializeRootWorkflow without the
// authorization check.
func (d *Dispatcher) InitializeRootWorkflowInternal(ctx context.Context, payload any) (WorkflowResult, error) {
	return d.initializeRootWorkflow(ctx, payload, false)
}

func (d *Dispatcher) initializeRootWorkflow(ctx context.Context, payload any, checkAuthz bool) (WorkflowResult, error) {
	actx := newActionContext("initialize", "workflow", d.net().Name, payload)
	if checkAuthz {
		if err := d.authorize(ctx, actx); err != nil {
			return WorkflowResult{}, err
		}
	}
	parsed, err := validatePayload(ctx, workflowActionSchema(d.Deps.Schemas, "initialize"), payload)
	if err != nil {
		return WorkflowResult{}, err
	}

	var result WorkflowResult
	err = d.Deps.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		wi, err := d.Deps.Engine.InitializeWorkflowInstance(ctx, tx, d.net(), nil, parsed)
		if err != nil {
			return err
		}
		result = WorkflowResult{WorkflowInstanceID: wi.ID, State: wi.State}
		return nil
	})
	if err != nil {
		return WorkflowResult{}, err
	}
	return result, nil
}

// CancelRootWorkflow cancels a top-level workflow instance and every
// non-terminal descendant. Cancelling an already-terminal workflow is a
// no-op unless the dispatcher was configured Strict.
func (d *Dispatcher) CancelRootWorkflow(ctx context.Context, workflowID core.ID, payload any) (WorkflowResult, error) {
	return d.cancelRootWorkflow(ctx, workflowID, payload, true)
}

// CancelRootWorkflowInternal is CancelRootWorkflow without the
// authorization check.
func (d *Dispatcher) CancelRootWorkflowInternal(ctx context.Context, workflowID core.ID, payload any) (WorkflowResult, error) {
	return d.cancelRootWorkflow(ctx, workflowID, payload, false)
}

func (d *Dispatcher) cancelRootWorkflow(ctx context.Context, workflowID core.ID, payload any, checkAuthz bool) (WorkflowResult, error) {
	actx := newActionContext("cancel", "workflow", workflowID.String(), payload)
	if checkAuthz {
		if err := d.authorize(ctx, actx); err != nil {
			return WorkflowResult{}, err
		}
	}
	if _, err := validatePayload(ctx, workflowActionSchema(d.Deps.Schemas, "cancel"), payload); err != nil {
		return WorkflowResult{}, err
	}

	span := d.Deps.Engine.Audit.OpenSpan(ctx, audit.Attribute{Kind: audit.KindWorkflow, Workflow: &audit.WorkflowAttrs{
		ID: workflowID.String(), Name: d.net().Name, Version: d.net().Version, Action: "cancel",
		CorrelationID: actx.CorrelationID,
	}})
	defer span.Close(ctx)

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

// cancelWorkflowTx is the shared cancellation logic used by both the
// root and hierarchical cancelWorkflow operations, and recursively by
// runtime.CancelChildWorkflowFunc — it never opens its own transaction,
// so it composes without nesting store.Opener.WithTx calls.
func (d *Dispatcher) cancelWorkflowTx(ctx context.Context, tx store.Tx, workflowID core.ID) (WorkflowResult, error) {
	wi, err := d.Deps.Engine.GetWorkflowInstance(ctx, tx, workflowID)
	if err != nil {
		return WorkflowResult{}, err
	}
	if d.Deps.Strict && isTerminalWorkflowState(wi.State) {
		return WorkflowResult{}, core.NewError(
			errAlreadyTerminal(workflowID.String()),
			core.KindPreconditionViolated,
			map[string]any{"workflowId": workflowID.String(), "state": string(wi.State)},
		)
	}

	cancelChild := func(ctx context.Context, childID core.ID) error {
		childWI, err := d.Deps.Engine.GetWorkflowInstance(ctx, tx, childID)
		if err != nil {
			return err
		}
		childNet, err := d.resolveChildNetwork(childWI)
		if err != nil {
			return err
		}
		childDispatcher := &Dispatcher{Deps: Dependencies{
			Net: childNet, Engine: d.Deps.Engine, Store: d.Deps.Store,
			Schemas: d.Deps.Schemas, Resolver: d.Deps.Resolver, Strict: d.Deps.Strict,
		}}
		_, err = childDispatcher.cancelWorkflowTx(ctx, tx, childID)
		return err
	}

	if err := d.Deps.Engine.CancelWorkflowInstance(ctx, tx, d.net(), workflowID, runtime.CancelChildWorkflowFunc(cancelChild)); err != nil {
		return WorkflowResult{}, err
	}
	after, err := d.Deps.Engine.GetWorkflowInstance(ctx, tx, workflowID)
	if err != nil {
		return WorkflowResult{}, err
	}
	return WorkflowResult{WorkflowInstanceID: workflowID, State: after.State}, nil
}
