package action_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiborkr/tasquencer/engine/action"
	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/runtime"
	"github.com/tiborkr/tasquencer/engine/schema"
	"github.com/tiborkr/tasquencer/engine/store"
)

func TestInitializeRootWorkflow(t *testing.T) {
	t.Run("Should create a started workflow instance and enable the first task", func(t *testing.T) {
		net := singleTaskNetwork("root-init", atomicWorkItem())
		s, eng := newHarness()
		d := action.New(action.Dependencies{Net: net, Engine: eng, Store: s})

		result, err := d.InitializeRootWorkflowInternal(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, runtime.WorkflowStarted, result.State)
		assert.False(t, result.WorkflowInstanceID.IsZero())
	})

	t.Run("Should reject a payload that fails the registered initialize schema", func(t *testing.T) {
		net := singleTaskNetwork("root-init-invalid", atomicWorkItem())
		s, eng := newHarness()
		d := action.New(action.Dependencies{
			Net: net, Engine: eng, Store: s,
			Schemas: schema.ActionSchemas{
				"initialize": schema.Schema{"type": "object", "required": []any{"name"}},
			},
		})

		_, err := d.InitializeRootWorkflowInternal(context.Background(), map[string]any{})
		require.Error(t, err)
		assert.True(t, core.Is(err, core.KindInvalidPayload))
	})

	t.Run("Should deny the action and surface Forbidden when the policy rejects it", func(t *testing.T) {
		net := singleTaskNetwork("root-init-denied", atomicWorkItem())
		s, eng := newHarness()
		d := action.New(action.Dependencies{
			Net: net, Engine: eng, Store: s,
			Policy: func(ctx context.Context, actx action.Context) error {
				return errors.New("no workflows for you")
			},
		})

		_, err := d.InitializeRootWorkflow(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, core.Is(err, core.KindForbidden))
	})

	t.Run("Should allow the action when the policy approves it", func(t *testing.T) {
		net := singleTaskNetwork("root-init-allowed", atomicWorkItem())
		s, eng := newHarness()
		var seenAction string
		d := action.New(action.Dependencies{
			Net: net, Engine: eng, Store: s,
			Policy: func(ctx context.Context, actx action.Context) error {
				seenAction = actx.Action
				return nil
			},
		})

		_, err := d.InitializeRootWorkflow(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "initialize", seenAction)
	})
}

func TestRejectedActionLeavesNoState(t *testing.T) {
	t.Run("Should persist nothing when the initialize payload is rejected", func(t *testing.T) {
		net := singleTaskNetwork("root-init-atomic", atomicWorkItem())
		s, eng := newHarness()
		d := action.New(action.Dependencies{
			Net: net, Engine: eng, Store: s,
			Schemas: schema.ActionSchemas{
				"initialize": schema.Schema{"type": "object", "required": []any{"name"}},
			},
		})

		_, err := d.InitializeRootWorkflowInternal(context.Background(), map[string]any{"other": true})
		require.Error(t, err)

		withTx(t, s, func(ctx context.Context, tx store.Tx) error {
			for _, kind := range []store.Kind{store.KindWorkflow, store.KindTask, store.KindWorkItem, store.KindConditionMarking} {
				recs, err := tx.Scan(ctx, kind, store.Query{})
				require.NoError(t, err)
				assert.Empty(t, recs, "table %s must stay empty after a rejected action", kind)
			}
			return nil
		})
	})
}

func TestCancelRootWorkflow(t *testing.T) {
	t.Run("Should cancel a running workflow instance", func(t *testing.T) {
		net := singleTaskNetwork("root-cancel", atomicWorkItem())
		s, eng := newHarness()
		d := action.New(action.Dependencies{Net: net, Engine: eng, Store: s})

		started, err := d.InitializeRootWorkflowInternal(context.Background(), nil)
		require.NoError(t, err)

		result, err := d.CancelRootWorkflowInternal(context.Background(), started.WorkflowInstanceID, nil)
		require.NoError(t, err)
		assert.Equal(t, runtime.WorkflowCancelled, result.State)
	})

	t.Run("Should be idempotent on an already-terminal workflow by default", func(t *testing.T) {
		net := singleTaskNetwork("root-cancel-idempotent", atomicWorkItem())
		s, eng := newHarness()
		d := action.New(action.Dependencies{Net: net, Engine: eng, Store: s})

		started, err := d.InitializeRootWorkflowInternal(context.Background(), nil)
		require.NoError(t, err)
		_, err = d.CancelRootWorkflowInternal(context.Background(), started.WorkflowInstanceID, nil)
		require.NoError(t, err)

		result, err := d.CancelRootWorkflowInternal(context.Background(), started.WorkflowInstanceID, nil)
		require.NoError(t, err)
		assert.Equal(t, runtime.WorkflowCancelled, result.State)
	})

	t.Run("Should reject cancelling an already-terminal workflow in Strict mode", func(t *testing.T) {
		net := singleTaskNetwork("root-cancel-strict", atomicWorkItem())
		s, eng := newHarness()
		d := action.New(action.Dependencies{Net: net, Engine: eng, Store: s, Strict: true})

		started, err := d.InitializeRootWorkflowInternal(context.Background(), nil)
		require.NoError(t, err)
		_, err = d.CancelRootWorkflowInternal(context.Background(), started.WorkflowInstanceID, nil)
		require.NoError(t, err)

		_, err = d.CancelRootWorkflowInternal(context.Background(), started.WorkflowInstanceID, nil)
		require.Error(t, err)
		assert.True(t, core.Is(err, core.KindPreconditionViolated))
	})
}
