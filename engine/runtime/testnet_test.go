package runtime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/definition"
	"github.com/tiborkr/tasquencer/engine/runtime"
	"github.com/tiborkr/tasquencer/engine/store"
	"github.com/tiborkr/tasquencer/engine/store/memstore"
)

// atomicWorkItem returns a minimal work item definition; none of the
// scenario tests in this package exercise per-action schema validation
// (that is engine/action's concern), so no schemas are registered.
func atomicWorkItem() *definition.WorkItemDef {
	return &definition.WorkItemDef{ActionSchemas: map[string]definition.ActionSchemaRef{}}
}

// fireTask drives one atomic task instance named taskName through
// initialize->start->complete with payload as the work item's completion
// output, returning the resulting task instance.
func fireTask(
	t *testing.T,
	ctx context.Context,
	eng *runtime.Engine,
	tx store.Tx,
	net *definition.Network,
	workflowID core.ID,
	taskName string,
	payload any,
) *runtime.TaskInstance {
	t.Helper()
	ti, err := eng.FindTaskInstanceByName(ctx, tx, workflowID, taskName)
	require.NoError(t, err)
	require.NotNil(t, ti, "task %q must be enabled before firing", taskName)
	require.Equal(t, runtime.TaskEnabled, ti.State)

	wi, err := eng.InitializeWorkItemInstance(ctx, tx, ti, nil)
	require.NoError(t, err)
	require.NoError(t, eng.StartWorkItemInstance(ctx, tx, wi))
	require.NoError(t, eng.CompleteWorkItemInstance(ctx, tx, net, workflowID, wi, payload))

	after, err := eng.GetTaskInstance(ctx, tx, ti.ID)
	require.NoError(t, err)
	return after
}

// newTestHarness wires together an in-memory store and a noop-audited
// Engine, the minimum dependency set every scenario test needs.
func newTestHarness() (*memstore.Store, *runtime.Engine) {
	return memstore.New(), runtime.New(nil)
}
