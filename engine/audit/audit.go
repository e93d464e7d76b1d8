// Package audit implements the engine's narrow outbound observability
// handle: open/close a span around an action, emit events on it, with a
// closed, tagged attribute set (workflow/task/workItem/condition/
// activity/custom). The engine never reads a span back after emitting
// it — this is a write-only channel to the embedder's tracing backend.
package audit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Kind discriminates the closed set of attribute shapes a Span may
// carry.
type Kind string

const (
	KindWorkflow  Kind = "workflow"
	KindTask      Kind = "task"
	KindWorkItem  Kind = "workItem"
	KindCondition Kind = "condition"
	KindActivity  Kind = "activity"
	KindCustom    Kind = "custom"
)

type WorkflowAttrs struct {
	ID      string
	Name    string
	Version string
	Action  string
	// CorrelationID, when set, ties this span to the action dispatch
	// that opened it (engine/action.Context.CorrelationID).
	CorrelationID string
}

type TaskAttrs struct {
	ID               string
	Name             string
	ParentWorkflowID string
	Transition       string
}

type WorkItemAttrs struct {
	ID         string
	Action     string
	Transition string
}

type ConditionAttrs struct {
	Name          string
	MarkingBefore int
	MarkingAfter  int
}

type ActivityAttrs struct {
	Name  string
	Phase string // "pre", "post", or "error"
}

// Attribute is a tagged union over the six attribute shapes. Exactly one
// of the pointer fields (or Custom) is populated, selected by Kind — the
// type-guard partitioning the design notes call for.
type Attribute struct {
	Kind      Kind
	Workflow  *WorkflowAttrs
	Task      *TaskAttrs
	WorkItem  *WorkItemAttrs
	Condition *ConditionAttrs
	Activity  *ActivityAttrs
	Custom    map[string]any
}

// Partition groups attrs by Kind, the narrow "type guard" the audit
// design calls for: downstream consumers switch on the returned map's
// keys instead of inspecting every Attribute's fields directly.
func Partition(attrs []Attribute) map[Kind][]Attribute {
	out := map[Kind][]Attribute{}
	for _, a := range attrs {
		out[a.Kind] = append(out[a.Kind], a)
	}
	return out
}

func (a Attribute) keyValues() []attribute.KeyValue {
	switch a.Kind {
	case KindWorkflow:
		if a.Workflow == nil {
			return nil
		}
		kvs := []attribute.KeyValue{
			attribute.String("workflow.id", a.Workflow.ID),
			attribute.String("workflow.name", a.Workflow.Name),
			attribute.String("workflow.version", a.Workflow.Version),
			attribute.String("workflow.action", a.Workflow.Action),
		}
		if a.Workflow.CorrelationID != "" {
			kvs = append(kvs, attribute.String("workflow.correlationId", a.Workflow.CorrelationID))
		}
		return kvs
	case KindTask:
		if a.Task == nil {
			return nil
		}
		return []attribute.KeyValue{
			attribute.String("task.id", a.Task.ID),
			attribute.String("task.name", a.Task.Name),
			attribute.String("task.parentWorkflowId", a.Task.ParentWorkflowID),
			attribute.String("task.transition", a.Task.Transition),
		}
	case KindWorkItem:
		if a.WorkItem == nil {
			return nil
		}
		return []attribute.KeyValue{
			attribute.String("workItem.id", a.WorkItem.ID),
			attribute.String("workItem.action", a.WorkItem.Action),
			attribute.String("workItem.transition", a.WorkItem.Transition),
		}
	case KindCondition:
		if a.Condition == nil {
			return nil
		}
		return []attribute.KeyValue{
			attribute.String("condition.name", a.Condition.Name),
			attribute.Int("condition.markingBefore", a.Condition.MarkingBefore),
			attribute.Int("condition.markingAfter", a.Condition.MarkingAfter),
		}
	case KindActivity:
		if a.Activity == nil {
			return nil
		}
		return []attribute.KeyValue{
			attribute.String("activity.name", a.Activity.Name),
			attribute.String("activity.phase", a.Activity.Phase),
		}
	case KindCustom:
		kvs := make([]attribute.KeyValue, 0, len(a.Custom))
		for k, v := range a.Custom {
			kvs = append(kvs, attribute.String(k, toString(v)))
		}
		return kvs
	default:
		return nil
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Span is one open audit span; Event emits a point-in-time record on it,
// Close ends it. Neither reports an error back to the engine, so a
// failing audit backend cannot abort the action through them.
type Span interface {
	Event(ctx context.Context, attr Attribute)
	Close(ctx context.Context)
}

// Handle is the narrow bundle the action dispatcher acquires before each
// action: open a span, and (via the returned Span) close it and emit
// events on it.
type Handle interface {
	OpenSpan(ctx context.Context, attr Attribute) Span
}

// otelHandle adapts Handle onto an OpenTelemetry tracer, so any embedder
// already wired for OTel gets engine spans for free.
type otelHandle struct {
	tracer trace.Tracer
}

// NewOTel returns a Handle backed by tracer.
func NewOTel(tracer trace.Tracer) Handle {
	return &otelHandle{tracer: tracer}
}

func (h *otelHandle) OpenSpan(ctx context.Context, attr Attribute) Span {
	_, span := h.tracer.Start(ctx, spanName(attr), trace.WithAttributes(attr.keyValues()...))
	return &otelSpan{span: span}
}

func spanName(attr Attribute) string {
	switch attr.Kind {
	case KindWorkflow:
		if attr.Workflow != nil {
			return "workflow." + attr.Workflow.Action
		}
	case KindTask:
		if attr.Task != nil {
			return "task." + attr.Task.Transition
		}
	case KindWorkItem:
		if attr.WorkItem != nil {
			return "workItem." + attr.WorkItem.Action
		}
	}
	return string(attr.Kind)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) Event(_ context.Context, attr Attribute) {
	s.span.AddEvent(string(attr.Kind), trace.WithAttributes(attr.keyValues()...))
}

func (s *otelSpan) Close(_ context.Context) {
	s.span.End()
}

type noopHandle struct{}

func (noopHandle) OpenSpan(context.Context, Attribute) Span { return noopSpan{} }

type noopSpan struct{}

func (noopSpan) Event(context.Context, Attribute) {}
func (noopSpan) Close(context.Context)            {}

// Noop returns a Handle that discards everything; the engine's default
// when the embedder registers no tracer.
func Noop() Handle { return noopHandle{} }
