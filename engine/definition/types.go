// Package definition holds the immutable in-memory graph model of a
// workflow: tasks (transitions), conditions (places), flows, and
// cancellation regions. Values in this package are never mutated after
// engine/builder.Build returns a Network; they may be shared read-only
// across any number of concurrent actions.
package definition

import (
	"context"
	"fmt"
	"sort"

	"github.com/tiborkr/tasquencer/engine/store"
)

// JoinType is the rule a task applies to consume inbound tokens.
type JoinType string

const (
	JoinAnd JoinType = "and"
	JoinOr  JoinType = "or"
	JoinXor JoinType = "xor"
)

// SplitType is the rule a task applies to produce outbound tokens.
type SplitType string

const (
	SplitAnd SplitType = "and"
	SplitOr  SplitType = "or"
	SplitXor SplitType = "xor"
)

// TaskKind is the closed set of task variants. Reimplemented as a single
// tagged struct rather than a class hierarchy: polymorphism lives on Kind.
type TaskKind string

const (
	TaskAtomic           TaskKind = "atomic"
	TaskComposite        TaskKind = "composite"
	TaskDynamicComposite TaskKind = "dynamic_composite"
	TaskDummy            TaskKind = "dummy"
)

// ActivityDeps is the read/write view a user activity callback receives:
// the host transaction (scoped to the current action) and the identity
// of the task instance the activity fires for.
type ActivityDeps struct {
	Tx                 store.Tx
	WorkflowInstanceID string
	TaskInstanceID     string
	TaskName           string
}

// ActivityFunc is a user-supplied lifecycle callback. It may perform
// host-provided storage reads/writes through deps.Tx but must not retain
// deps beyond the call, per the engine's concurrency model: there are no
// suspension points inside a firing.
type ActivityFunc func(ctx context.Context, deps ActivityDeps) error

// Activities bundles the lifecycle callbacks a task may declare.
// OnFailed only applies to atomic tasks (invoked when a work item
// transitions to failed).
type Activities struct {
	OnEnabled  ActivityFunc
	OnDisabled ActivityFunc
	OnCanceled ActivityFunc
	OnFailed   ActivityFunc
}

// RouterFunc selects a non-empty subset of outbound targets for an
// OR/XOR split flow. ctx is a read-only RoutingContext; the router must
// be pure with respect to it and must not retain ctx beyond the call.
type RouterFunc func(ctx *RoutingContext) ([]string, error)

// RoutingContext is the read-only view a router function receives: the
// parent workflow instance id, the firing task's name, and the payload
// the completing work item (or child workflow) produced.
type RoutingContext struct {
	WorkflowInstanceID string
	TaskName           string
	Payload            any
}

// Flow describes the outbound wiring of a task: ToConditions are
// explicit condition targets; ToTasks are task targets, each of which
// contributes one implicit condition (synthesized by the builder). A
// condition's outbound wiring is the task-name list Condition.Outbound,
// not a Flow.
//
// Router is consulted only for flows leaving an OR/XOR-split task.
type Flow struct {
	ToConditions []string
	ToTasks      []string
	Router       RouterFunc
}

// Targets returns every target name (conditions and implicit task
// conditions) this flow can produce a token on, in declaration order.
func (f Flow) Targets(implicit func(taskName string) string) []string {
	out := make([]string, 0, len(f.ToConditions)+len(f.ToTasks))
	out = append(out, f.ToConditions...)
	for _, t := range f.ToTasks {
		out = append(out, implicit(t))
	}
	return out
}

// Task is the definition of a single transition in the graph.
type Task struct {
	Name        string
	Description string
	Join        JoinType
	Split       SplitType
	Kind        TaskKind

	// Atomic
	WorkItem *WorkItemDef

	// Composite
	Child *Network

	// Dynamic composite: candidate child networks keyed by the
	// selection name the caller must supply at initialize time.
	Candidates map[string]*Network

	// Inbound/outbound wiring, resolved by the builder.
	Inbound  []string // condition names
	Outbound Flow

	Activities Activities
}

// WorkItemDef is the definition-side shape of an atomic task's unit of
// work: the set of named actions it accepts and the schema each
// validates its payload against.
type WorkItemDef struct {
	ActionSchemas map[string]ActionSchemaRef
}

// ActionSchemaRef is the schema contract a work item's per-action
// payload is validated against. It is an interface so this package does
// not depend on engine/schema; engine/schema.Schema satisfies it.
type ActionSchemaRef interface {
	IsEmpty() bool
	Parse(ctx context.Context, payload any) (any, error)
}

// Condition is a place in the graph. Implicit conditions are synthesized
// by the builder for every direct task->task edge; FromTask/ToTask are
// set only for those.
type Condition struct {
	Name     string
	Implicit bool
	FromTask string
	ToTask   string

	Inbound  []string // task names with an outbound flow targeting this condition
	Outbound []string // task names this condition flows into
}

// CancellationRegion is the set of tasks and conditions reset to idle
// when Owner fires.
type CancellationRegion struct {
	Owner      string
	Tasks      map[string]struct{}
	Conditions map[string]struct{}
}

// MigrationFunc transforms a persisted instance's stored state (as a
// generic record) from an older version's shape to the current one. It
// must be pure and idempotent: re-applying it to its own output must be
// a no-op.
type MigrationFunc func(old map[string]any) (map[string]any, error)

// Network is the immutable, built artifact consumed by the execution
// core.
type Network struct {
	Name           string
	Version        string
	StartCondition string
	EndCondition   string

	tasks      map[string]*Task
	conditions map[string]*Condition
	regions    map[string]*CancellationRegion // keyed by owner task name
}

// NewNetwork is used only by engine/builder; embedders never construct a
// Network directly.
func NewNetwork(
	name, version, start, end string,
	tasks map[string]*Task,
	conditions map[string]*Condition,
	regions map[string]*CancellationRegion,
) *Network {
	return &Network{
		Name:           name,
		Version:        version,
		StartCondition: start,
		EndCondition:   end,
		tasks:          tasks,
		conditions:     conditions,
		regions:        regions,
	}
}

// ImplicitConditionName returns the synthesized condition name for a
// direct task->task edge.
func ImplicitConditionName(from, to string) string {
	return fmt.Sprintf("implicit:%s->%s", from, to)
}

// GetTask returns the task definition named name.
func (n *Network) GetTask(name string) (*Task, bool) {
	t, ok := n.tasks[name]
	return t, ok
}

// GetCondition returns the condition definition named name.
func (n *Network) GetCondition(name string) (*Condition, bool) {
	c, ok := n.conditions[name]
	return c, ok
}

// Tasks returns every task name in the network, in a stable order.
func (n *Network) Tasks() []string {
	names := make([]string, 0, len(n.tasks))
	for name := range n.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Conditions returns every condition name in the network.
func (n *Network) Conditions() []string {
	names := make([]string, 0, len(n.conditions))
	for name := range n.conditions {
		names = append(names, name)
	}
	return names
}

// InboundOf returns the inbound condition names of a task.
func (n *Network) InboundOf(taskName string) []string {
	t, ok := n.tasks[taskName]
	if !ok {
		return nil
	}
	return t.Inbound
}

// OutboundOf returns the outbound flow of a task.
func (n *Network) OutboundOf(taskName string) (Flow, bool) {
	t, ok := n.tasks[taskName]
	if !ok {
		return Flow{}, false
	}
	return t.Outbound, true
}

// TasksFedBy returns the task names whose outbound flow can deposit a
// token on conditionName — the reverse of a condition's Outbound list.
func (n *Network) TasksFedBy(conditionName string) []string {
	c, ok := n.conditions[conditionName]
	if !ok {
		return nil
	}
	return c.Inbound
}

// CancellationRegionOwnedBy returns the cancellation region owned by
// taskName, if any.
func (n *Network) CancellationRegionOwnedBy(taskName string) (*CancellationRegion, bool) {
	r, ok := n.regions[taskName]
	return r, ok
}
