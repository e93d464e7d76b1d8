package action_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiborkr/tasquencer/engine/action"
	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/definition"
	"github.com/tiborkr/tasquencer/engine/runtime"
	"github.com/tiborkr/tasquencer/engine/store"
)

// TestInitializeWorkflowComposite: a composite task spawns exactly one
// child workflow instance, and the
// owning task instance transitions enabled->started.
func TestInitializeWorkflowComposite(t *testing.T) {
	t.Run("Should spawn the composite's child workflow and start the owning task", func(t *testing.T) {
		child := singleTaskNetwork("leaf-def", atomicWorkItem())
		parent := compositeParentNetwork("parent-def", child)
		s, eng := newHarness()
		resolver := mapResolver{"parent-def@v1": parent}
		d := action.New(action.Dependencies{Net: parent, Engine: eng, Store: s, Resolver: resolver})

		wf, err := d.InitializeRootWorkflowInternal(context.Background(), nil)
		require.NoError(t, err)

		childResult, err := d.InitializeWorkflowInternal(context.Background(), action.Path{
			WorkflowInstanceID: wf.WorkflowInstanceID, TaskName: "Sub",
		}, "initialize", nil)
		require.NoError(t, err)
		assert.Equal(t, runtime.WorkflowStarted, childResult.State)

		withTx(t, s, func(ctx context.Context, tx store.Tx) error {
			sub, err := eng.FindTaskInstanceByName(ctx, tx, wf.WorkflowInstanceID, "Sub")
			require.NoError(t, err)
			require.NotNil(t, sub)
			assert.Equal(t, runtime.TaskStarted, sub.State)
			return nil
		})
	})

	t.Run("Should reject initializing a workflow under a task that is not composite", func(t *testing.T) {
		net := singleTaskNetwork("not-composite", atomicWorkItem())
		s, eng := newHarness()
		d := action.New(action.Dependencies{Net: net, Engine: eng, Store: s})

		wf, err := d.InitializeRootWorkflowInternal(context.Background(), nil)
		require.NoError(t, err)

		_, err = d.InitializeWorkflowInternal(context.Background(), action.Path{
			WorkflowInstanceID: wf.WorkflowInstanceID, TaskName: "Leaf",
		}, "initialize", nil)
		require.Error(t, err)
		assert.True(t, core.Is(err, core.KindPathNotFound))
	})
}

// TestInitializeWorkflowDynamicComposite exercises the "workflowName"
// candidate selection a dynamic composite task requires at initialize
// time.
func TestInitializeWorkflowDynamicComposite(t *testing.T) {
	t.Run("Should spawn the named candidate workflow", func(t *testing.T) {
		candidateA := singleTaskNetwork("candidate-a", atomicWorkItem())
		candidateB := singleTaskNetwork("candidate-b", atomicWorkItem())
		parent := dynamicParentNetwork("dynamic-parent", map[string]*definition.Network{
			"candidate-a": candidateA,
			"candidate-b": candidateB,
		})
		s, eng := newHarness()
		d := action.New(action.Dependencies{Net: parent, Engine: eng, Store: s})

		wf, err := d.InitializeRootWorkflowInternal(context.Background(), nil)
		require.NoError(t, err)

		childResult, err := d.InitializeWorkflowInternal(context.Background(), action.Path{
			WorkflowInstanceID: wf.WorkflowInstanceID, TaskName: "Sub",
		}, "initialize", map[string]any{"workflowName": "candidate-b"})
		require.NoError(t, err)
		assert.Equal(t, runtime.WorkflowStarted, childResult.State)
	})

	t.Run("Should reject a payload missing workflowName", func(t *testing.T) {
		candidateA := singleTaskNetwork("candidate-a2", atomicWorkItem())
		parent := dynamicParentNetwork("dynamic-parent-missing", map[string]*definition.Network{"candidate-a2": candidateA})
		s, eng := newHarness()
		d := action.New(action.Dependencies{Net: parent, Engine: eng, Store: s})

		wf, err := d.InitializeRootWorkflowInternal(context.Background(), nil)
		require.NoError(t, err)

		_, err = d.InitializeWorkflowInternal(context.Background(), action.Path{
			WorkflowInstanceID: wf.WorkflowInstanceID, TaskName: "Sub",
		}, "initialize", map[string]any{})
		require.Error(t, err)
		assert.True(t, core.Is(err, core.KindInvalidPayload))
	})

	t.Run("Should reject an unknown candidate name", func(t *testing.T) {
		candidateA := singleTaskNetwork("candidate-a3", atomicWorkItem())
		parent := dynamicParentNetwork("dynamic-parent-unknown", map[string]*definition.Network{"candidate-a3": candidateA})
		s, eng := newHarness()
		d := action.New(action.Dependencies{Net: parent, Engine: eng, Store: s})

		wf, err := d.InitializeRootWorkflowInternal(context.Background(), nil)
		require.NoError(t, err)

		_, err = d.InitializeWorkflowInternal(context.Background(), action.Path{
			WorkflowInstanceID: wf.WorkflowInstanceID, TaskName: "Sub",
		}, "initialize", map[string]any{"workflowName": "no-such-candidate"})
		require.Error(t, err)
		assert.True(t, core.Is(err, core.KindPathNotFound))
	})
}

// TestCompositeCompletionPropagates: completing the child's leaf work
// item fires the parent's composite task and, since
// that completes the parent's own end condition, the parent workflow too.
func TestCompositeCompletionPropagates(t *testing.T) {
	t.Run("Should propagate completion from the child workflow up to the parent", func(t *testing.T) {
		child := singleTaskNetwork("leaf-def", atomicWorkItem())
		parent := compositeParentNetwork("parent-def", child)
		s, eng := newHarness()
		resolver := mapResolver{"parent-def@v1": parent}

		parentDispatcher := action.New(action.Dependencies{Net: parent, Engine: eng, Store: s, Resolver: resolver})
		childDispatcher := action.New(action.Dependencies{Net: child, Engine: eng, Store: s, Resolver: resolver})

		wf, err := parentDispatcher.InitializeRootWorkflowInternal(context.Background(), nil)
		require.NoError(t, err)

		childResult, err := parentDispatcher.InitializeWorkflowInternal(context.Background(), action.Path{
			WorkflowInstanceID: wf.WorkflowInstanceID, TaskName: "Sub",
		}, "initialize", nil)
		require.NoError(t, err)

		wi, err := childDispatcher.InitializeWorkItemInternal(context.Background(), action.Path{
			WorkflowInstanceID: childResult.WorkflowInstanceID, TaskName: "Leaf",
		}, "start", nil)
		require.NoError(t, err)
		_, err = childDispatcher.StartWorkItemInternal(context.Background(), wi.WorkItemInstanceID, "start", nil)
		require.NoError(t, err)
		_, err = childDispatcher.CompleteWorkItemInternal(context.Background(), wi.WorkItemInstanceID, "complete", nil)
		require.NoError(t, err)

		withTx(t, s, func(ctx context.Context, tx store.Tx) error {
			childAfter, err := eng.GetWorkflowInstance(ctx, tx, childResult.WorkflowInstanceID)
			require.NoError(t, err)
			assert.Equal(t, runtime.WorkflowCompleted, childAfter.State)

			parentAfter, err := eng.GetWorkflowInstance(ctx, tx, wf.WorkflowInstanceID)
			require.NoError(t, err)
			assert.Equal(t, runtime.WorkflowCompleted, parentAfter.State)
			return nil
		})
	})
}

// TestCancelRootCascades: cancelling the root right after it spawned a
// child workflow must leave zero non-terminal descendants behind.
func TestCancelRootCascades(t *testing.T) {
	t.Run("Should leave no non-terminal child workflow, task, or work item", func(t *testing.T) {
		child := singleTaskNetwork("leaf-def-cascade", atomicWorkItem())
		parent := compositeParentNetwork("parent-def-cascade", child)
		s, eng := newHarness()
		resolver := mapResolver{"parent-def-cascade@v1": parent}
		d := action.New(action.Dependencies{Net: parent, Engine: eng, Store: s, Resolver: resolver})

		wf, err := d.InitializeRootWorkflowInternal(context.Background(), nil)
		require.NoError(t, err)
		childResult, err := d.InitializeWorkflowInternal(context.Background(), action.Path{
			WorkflowInstanceID: wf.WorkflowInstanceID, TaskName: "Sub",
		}, "initialize", nil)
		require.NoError(t, err)

		_, err = d.CancelRootWorkflowInternal(context.Background(), wf.WorkflowInstanceID, nil)
		require.NoError(t, err)

		withTx(t, s, func(ctx context.Context, tx store.Tx) error {
			childAfter, err := eng.GetWorkflowInstance(ctx, tx, childResult.WorkflowInstanceID)
			require.NoError(t, err)
			assert.Equal(t, runtime.WorkflowCancelled, childAfter.State)

			tasks, err := tx.Scan(ctx, store.KindTask, store.Query{})
			require.NoError(t, err)
			for _, rec := range tasks {
				state := runtime.TaskState(rec.Body["state"].(string))
				assert.NotContains(t, []runtime.TaskState{runtime.TaskEnabled, runtime.TaskStarted}, state)
			}
			items, err := tx.Scan(ctx, store.KindWorkItem, store.Query{})
			require.NoError(t, err)
			for _, rec := range items {
				state := runtime.WorkItemState(rec.Body["state"].(string))
				assert.NotContains(t, []runtime.WorkItemState{runtime.WorkItemInitialized, runtime.WorkItemStarted}, state)
			}
			return nil
		})
	})
}

func TestCancelWorkflow(t *testing.T) {
	t.Run("Should cancel a non-root (child) workflow instance by its own dispatcher", func(t *testing.T) {
		child := singleTaskNetwork("leaf-def-cancel", atomicWorkItem())
		parent := compositeParentNetwork("parent-def-cancel", child)
		s, eng := newHarness()
		resolver := mapResolver{"parent-def-cancel@v1": parent}
		parentDispatcher := action.New(action.Dependencies{Net: parent, Engine: eng, Store: s, Resolver: resolver})
		childDispatcher := action.New(action.Dependencies{Net: child, Engine: eng, Store: s, Resolver: resolver})

		wf, err := parentDispatcher.InitializeRootWorkflowInternal(context.Background(), nil)
		require.NoError(t, err)
		childResult, err := parentDispatcher.InitializeWorkflowInternal(context.Background(), action.Path{
			WorkflowInstanceID: wf.WorkflowInstanceID, TaskName: "Sub",
		}, "initialize", nil)
		require.NoError(t, err)

		result, err := childDispatcher.CancelWorkflowInternal(context.Background(), childResult.WorkflowInstanceID, "cancel", nil)
		require.NoError(t, err)
		assert.Equal(t, runtime.WorkflowCancelled, result.State)
	})
}
