package definition_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiborkr/tasquencer/engine/builder"
	"github.com/tiborkr/tasquencer/engine/definition"
)

func buildSimpleNetwork(t *testing.T) *definition.Network {
	t.Helper()
	net := builder.Workflow("extractable").
		StartCondition("start").
		EndCondition("end").
		Task("T1", builder.AsAtomic(&definition.WorkItemDef{})).
		ConnectCondition("start", "T1").
		ConnectTask("T1", builder.ToConditions("end"))
	result, err := net.Build("v1", builder.BuildOptions{})
	require.NoError(t, err)
	return result.Network
}

func TestExtractIsPure(t *testing.T) {
	t.Run("Should return equal structures across repeated calls", func(t *testing.T) {
		net := buildSimpleNetwork(t)
		a := net.Extract()
		b := net.Extract()
		assert.Equal(t, a, b)
	})

	t.Run("Should report the workflow's name, version, and entry/exit conditions", func(t *testing.T) {
		net := buildSimpleNetwork(t)
		s := net.Extract()
		assert.Equal(t, "extractable", s.Name)
		assert.Equal(t, "v1", s.Version)
		assert.Equal(t, "start", s.StartCondition)
		assert.Equal(t, "end", s.EndCondition)
		require.Len(t, s.Tasks, 1)
		assert.Equal(t, "T1", s.Tasks[0].Name)
	})
}

func TestImplicitConditionName(t *testing.T) {
	t.Run("Should format as implicit:<from>-><to>", func(t *testing.T) {
		assert.Equal(t, "implicit:A->B", definition.ImplicitConditionName("A", "B"))
	})
}

func TestFlowTargets(t *testing.T) {
	t.Run("Should list explicit conditions before implicit task targets", func(t *testing.T) {
		flow := definition.Flow{ToConditions: []string{"c1"}, ToTasks: []string{"T2"}}
		targets := flow.Targets(func(tn string) string { return definition.ImplicitConditionName("T1", tn) })
		assert.Equal(t, []string{"c1", "implicit:T1->T2"}, targets)
	})
}

func TestNetworkLookups(t *testing.T) {
	t.Run("Should return ok=false for an unknown task or condition", func(t *testing.T) {
		net := buildSimpleNetwork(t)
		_, ok := net.GetTask("ghost")
		assert.False(t, ok)
		_, ok = net.GetCondition("ghost")
		assert.False(t, ok)
	})

	t.Run("Should report the tasks fed into a condition", func(t *testing.T) {
		net := buildSimpleNetwork(t)
		assert.Equal(t, []string{"T1"}, net.TasksFedBy("end"))
	})
}
