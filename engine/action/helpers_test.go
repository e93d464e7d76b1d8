package action_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiborkr/tasquencer/engine/builder"
	"github.com/tiborkr/tasquencer/engine/definition"
	"github.com/tiborkr/tasquencer/engine/runtime"
	"github.com/tiborkr/tasquencer/engine/store"
	"github.com/tiborkr/tasquencer/engine/store/memstore"
)

// atomicWorkItem returns a work item definition whose ActionSchemas map is
// populated from pairs (actionName, schema), for tests that exercise
// per-action payload validation.
func atomicWorkItem(pairs ...any) *definition.WorkItemDef {
	schemas := map[string]definition.ActionSchemaRef{}
	for i := 0; i+1 < len(pairs); i += 2 {
		schemas[pairs[i].(string)] = pairs[i+1].(definition.ActionSchemaRef)
	}
	return &definition.WorkItemDef{ActionSchemas: schemas}
}

// singleTaskNetwork builds start -> Leaf (atomic) -> end, the minimal
// network every work-item-level test drives.
func singleTaskNetwork(name string, workItem *definition.WorkItemDef) *definition.Network {
	result, err := builder.Workflow(name).
		StartCondition("start").
		EndCondition("end").
		Task("Leaf", builder.AsAtomic(workItem)).
		ConnectCondition("start", "Leaf").
		ConnectTask("Leaf", builder.ToConditions("end")).
		Build("v1", builder.BuildOptions{})
	if err != nil {
		panic(err)
	}
	return result.Network
}

// compositeParentNetwork builds start -> Sub (composite, child) -> end.
func compositeParentNetwork(name string, child *definition.Network) *definition.Network {
	result, err := builder.Workflow(name).
		StartCondition("start").
		EndCondition("end").
		Task("Sub", builder.AsComposite(child)).
		ConnectCondition("start", "Sub").
		ConnectTask("Sub", builder.ToConditions("end")).
		Build("v1", builder.BuildOptions{})
	if err != nil {
		panic(err)
	}
	return result.Network
}

// dynamicParentNetwork builds start -> Sub (dynamic composite over
// candidates) -> end.
func dynamicParentNetwork(name string, candidates map[string]*definition.Network) *definition.Network {
	result, err := builder.Workflow(name).
		StartCondition("start").
		EndCondition("end").
		Task("Sub", builder.AsDynamicComposite(candidates)).
		ConnectCondition("start", "Sub").
		ConnectTask("Sub", builder.ToConditions("end")).
		Build("v1", builder.BuildOptions{})
	if err != nil {
		panic(err)
	}
	return result.Network
}

// mapResolver resolves (workflowName, version) pairs registered up front,
// standing in for engine/version.Manager in tests that exercise composite
// completion propagation without a full version manager.
type mapResolver map[string]*definition.Network

func (r mapResolver) Resolve(workflowName, version string) (*definition.Network, bool) {
	net, ok := r[workflowName+"@"+version]
	return net, ok
}

func newHarness() (*memstore.Store, *runtime.Engine) {
	return memstore.New(), runtime.New(nil)
}

// withTx runs fn inside a fresh transaction and fails the test on error,
// for assertions that just need a read-only view of the store after a
// dispatcher call has already committed its own transaction.
func withTx(t *testing.T, s *memstore.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), fn))
}
