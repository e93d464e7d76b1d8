package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tiborkr/tasquencer/engine/audit"
)

func TestPartition(t *testing.T) {
	t.Run("Should group attributes by their kind discriminator", func(t *testing.T) {
		attrs := []audit.Attribute{
			{Kind: audit.KindWorkflow, Workflow: &audit.WorkflowAttrs{ID: "wf-1", Action: "initialize"}},
			{Kind: audit.KindTask, Task: &audit.TaskAttrs{ID: "t-1", Transition: "fire"}},
			{Kind: audit.KindTask, Task: &audit.TaskAttrs{ID: "t-2", Transition: "fire"}},
			{Kind: audit.KindCondition, Condition: &audit.ConditionAttrs{Name: "start", MarkingBefore: 0, MarkingAfter: 1}},
		}
		grouped := audit.Partition(attrs)
		require.Len(t, grouped, 3)
		assert.Len(t, grouped[audit.KindWorkflow], 1)
		assert.Len(t, grouped[audit.KindTask], 2)
		assert.Len(t, grouped[audit.KindCondition], 1)
	})

	t.Run("Should return an empty map for no attributes", func(t *testing.T) {
		assert.Empty(t, audit.Partition(nil))
	})
}

func TestNoopHandle(t *testing.T) {
	t.Run("Should accept spans and events without side effects", func(t *testing.T) {
		h := audit.Noop()
		span := h.OpenSpan(context.Background(), audit.Attribute{Kind: audit.KindWorkflow})
		require.NotNil(t, span)
		span.Event(context.Background(), audit.Attribute{Kind: audit.KindCustom, Custom: map[string]any{"k": "v"}})
		span.Close(context.Background())
	})
}

func TestOTelHandle(t *testing.T) {
	t.Run("Should open, annotate, and close spans against an OTel tracer", func(t *testing.T) {
		tracer := noop.NewTracerProvider().Tracer("audit-test")
		h := audit.NewOTel(tracer)

		span := h.OpenSpan(context.Background(), audit.Attribute{
			Kind:     audit.KindWorkItem,
			WorkItem: &audit.WorkItemAttrs{ID: "wi-1", Action: "complete", Transition: "complete"},
		})
		require.NotNil(t, span)
		span.Event(context.Background(), audit.Attribute{
			Kind:      audit.KindCondition,
			Condition: &audit.ConditionAttrs{Name: "end", MarkingBefore: 0, MarkingAfter: 1},
		})
		span.Close(context.Background())
	})
}
