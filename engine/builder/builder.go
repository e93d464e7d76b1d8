// Package builder implements the declarative construction API for a
// workflow definition: a fluent, functional-options surface that
// accumulates task and condition name references as the caller
// describes the graph, and resolves/validates them at Build() time,
// rejecting unknown or dangling references with a diagnostic naming
// the offending edge.
package builder

import (
	"fmt"
	"sort"

	"github.com/tiborkr/tasquencer/engine/definition"
)

// wipTask accumulates a task's properties across Task/DummyTask option
// calls before the graph is resolved.
type wipTask struct {
	name        string
	description string
	join        definition.JoinType
	split       definition.SplitType
	kind        definition.TaskKind
	workItem    *definition.WorkItemDef
	child       *definition.Network
	candidates  map[string]*definition.Network
	outbound    definition.Flow
	activities  definition.Activities
}

// TaskOption configures a task under construction.
type TaskOption func(*wipTask)

func WithJoinType(jt definition.JoinType) TaskOption {
	return func(t *wipTask) { t.join = jt }
}

func WithSplitType(st definition.SplitType) TaskOption {
	return func(t *wipTask) { t.split = st }
}

func WithDescription(desc string) TaskOption {
	return func(t *wipTask) { t.description = desc }
}

// WithActivities attaches lifecycle callbacks to the task.
func WithActivities(a definition.Activities) TaskOption {
	return func(t *wipTask) { t.activities = a }
}

// AsAtomic marks the task as owning a work item definition.
func AsAtomic(workItem *definition.WorkItemDef) TaskOption {
	return func(t *wipTask) {
		t.kind = definition.TaskAtomic
		t.workItem = workItem
	}
}

// AsComposite marks the task as spawning a single child workflow per
// firing.
func AsComposite(child *definition.Network) TaskOption {
	return func(t *wipTask) {
		t.kind = definition.TaskComposite
		t.child = child
	}
}

// AsDynamicComposite marks the task as spawning one of several candidate
// child workflows, selected by name at initialize time. Candidates is a
// Go map, so duplicate candidate names are rejected structurally by the
// type system rather than by a runtime Build()-time check.
func AsDynamicComposite(candidates map[string]*definition.Network) TaskOption {
	return func(t *wipTask) {
		t.kind = definition.TaskDynamicComposite
		t.candidates = candidates
	}
}

// FlowOption configures a task's or condition's outbound wiring.
type FlowOption func(*definition.Flow)

// ToConditions adds explicit condition targets to an outbound flow.
func ToConditions(names ...string) FlowOption {
	return func(f *definition.Flow) { f.ToConditions = append(f.ToConditions, names...) }
}

// ToTasks adds task targets to an outbound flow; the builder synthesizes
// one implicit condition per target at Build() time.
func ToTasks(names ...string) FlowOption {
	return func(f *definition.Flow) { f.ToTasks = append(f.ToTasks, names...) }
}

// Route attaches the OR/XOR split router. Required (and only
// meaningful) when the firing task's split type is "or" or "xor".
func Route(fn definition.RouterFunc) FlowOption {
	return func(f *definition.Flow) { f.Router = fn }
}

// Workflow starts a new definition builder named name.
func Workflow(name string) *Network {
	return &Network{
		name:       name,
		tasks:      map[string]*wipTask{},
		condOut:    map[string][]string{},
		regions:    map[string]*definition.CancellationRegion{},
		referenced: map[string]struct{}{},
	}
}

// Network accumulates a workflow definition under construction. The name
// intentionally matches engine/definition.Network: this is the builder's
// working copy of the artifact that type eventually becomes immutable.
type Network struct {
	name  string
	start string
	end   string

	tasks   map[string]*wipTask
	condOut map[string][]string // condition name -> outbound task names
	regions map[string]*definition.CancellationRegion

	referenced map[string]struct{} // every name seen as a reference, for dangling-ref checks
	errs       []error
}

func (b *Network) fail(err error) *Network {
	b.errs = append(b.errs, err)
	return b
}

// StartCondition declares the graph's single entry place.
func (b *Network) StartCondition(name string) *Network {
	b.start = name
	b.referenced[name] = struct{}{}
	return b
}

// EndCondition declares the graph's single exit place.
func (b *Network) EndCondition(name string) *Network {
	b.end = name
	b.referenced[name] = struct{}{}
	return b
}

// Task declares a task named name with the given options applied in
// order. Defaults: join=and, split=and, kind=atomic (override with
// AsComposite/AsDynamicComposite/DummyTask).
func (b *Network) Task(name string, opts ...TaskOption) *Network {
	if _, exists := b.tasks[name]; exists {
		return b.fail(fmt.Errorf("task %q declared more than once", name))
	}
	t := &wipTask{name: name, join: definition.JoinAnd, split: definition.SplitAnd, kind: definition.TaskAtomic}
	for _, opt := range opts {
		opt(t)
	}
	b.tasks[name] = t
	return b
}

// DummyTask declares a purely structural task: no work item, no child
// workflow. Used to implement implicit joins/splits explicitly.
func (b *Network) DummyTask(name string, opts ...TaskOption) *Network {
	opts = append(opts, func(t *wipTask) { t.kind = definition.TaskDummy })
	return b.Task(name, opts...)
}

// ConnectCondition wires a condition's outbound edges to one or more
// tasks. The condition need not have been declared elsewhere — every
// name referenced anywhere in the graph is validated at Build().
func (b *Network) ConnectCondition(name string, toTasks ...string) *Network {
	b.condOut[name] = append(b.condOut[name], toTasks...)
	b.referenced[name] = struct{}{}
	for _, t := range toTasks {
		b.referenced[t] = struct{}{}
	}
	return b
}

// ConnectTask wires a task's outbound edges. opts combine via ToConditions
// / ToTasks / Route; calling ConnectTask more than once for the same task
// accumulates onto the same Flow.
func (b *Network) ConnectTask(name string, opts ...FlowOption) *Network {
	t, ok := b.tasks[name]
	if !ok {
		return b.fail(fmt.Errorf("connectTask: task %q is not declared", name))
	}
	for _, opt := range opts {
		opt(&t.outbound)
	}
	b.referenced[name] = struct{}{}
	for _, c := range t.outbound.ToConditions {
		b.referenced[c] = struct{}{}
	}
	for _, tn := range t.outbound.ToTasks {
		b.referenced[tn] = struct{}{}
	}
	return b
}

// CancellationRegion declares that, when owner fires, every listed task
// in state enabled/started is cancelled and every listed condition's
// marking is zeroed.
func (b *Network) CancellationRegion(owner string, tasks, conditions []string) *Network {
	r, ok := b.regions[owner]
	if !ok {
		r = &definition.CancellationRegion{
			Owner:      owner,
			Tasks:      map[string]struct{}{},
			Conditions: map[string]struct{}{},
		}
		b.regions[owner] = r
	}
	for _, t := range tasks {
		r.Tasks[t] = struct{}{}
		b.referenced[t] = struct{}{}
	}
	for _, c := range conditions {
		r.Conditions[c] = struct{}{}
		b.referenced[c] = struct{}{}
	}
	b.referenced[owner] = struct{}{}
	return b
}

// Result bundles a built Network with the version metadata the version
// manager needs to register it.
type Result struct {
	Network      *definition.Network
	VersionName  string
	IsDeprecated bool
	Migration    definition.MigrationFunc
}

// BuildOptions carries the per-version metadata passed to Build.
type BuildOptions struct {
	IsVersionDeprecated bool
	Migration           definition.MigrationFunc
}

// Build resolves every accumulated reference, validates the invariants
// from the data model (every task has inbound/outbound flows once
// connectors resolve; start has only outbound; end has only inbound; no
// dangling references), synthesizes implicit conditions for direct
// task->task edges, and freezes the result into an immutable Network.
func (b *Network) Build(versionName string, opts BuildOptions) (*Result, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("builder has %d accumulated error(s): %w", len(b.errs), b.errs[0])
	}
	if b.name == "" {
		return nil, fmt.Errorf("workflow name is required")
	}
	if b.start == "" || b.end == "" {
		return nil, fmt.Errorf("workflow %q requires both a start and an end condition", b.name)
	}
	conditions := map[string]*definition.Condition{}
	ensureCondition := func(name string) *definition.Condition {
		c, ok := conditions[name]
		if !ok {
			c = &definition.Condition{Name: name}
			conditions[name] = c
		}
		return c
	}
	ensureCondition(b.start)
	ensureCondition(b.end)
	for name := range b.condOut {
		ensureCondition(name)
	}

	tasks := map[string]*definition.Task{}
	for name, wip := range b.tasks {
		tasks[name] = &definition.Task{
			Name:        wip.name,
			Description: wip.description,
			Join:        wip.join,
			Split:       wip.split,
			Kind:        wip.kind,
			WorkItem:    wip.workItem,
			Child:       wip.child,
			Candidates:  wip.candidates,
			Activities:  wip.activities,
		}
	}

	// Explicit condition -> task wiring declared via ConnectCondition.
	for condName, toTasks := range b.condOut {
		c := conditions[condName]
		for _, taskName := range toTasks {
			tgt, ok := tasks[taskName]
			if !ok {
				return nil, fmt.Errorf("condition %q connects to undeclared task %q", condName, taskName)
			}
			c.Outbound = appendUnique(c.Outbound, taskName)
			tgt.Inbound = appendUnique(tgt.Inbound, condName)
		}
	}

	// Task outbound wiring declared via ConnectTask, synthesizing an
	// implicit condition for every direct task->task edge.
	for name, wip := range b.tasks {
		flow := definition.Flow{
			ToConditions: append([]string(nil), wip.outbound.ToConditions...),
			ToTasks:      append([]string(nil), wip.outbound.ToTasks...),
			Router:       wip.outbound.Router,
		}
		tasks[name].Outbound = flow
		for _, condName := range flow.ToConditions {
			c := ensureCondition(condName)
			c.Inbound = appendUnique(c.Inbound, name)
		}
		for _, targetTask := range flow.ToTasks {
			tgt, ok := tasks[targetTask]
			if !ok {
				return nil, fmt.Errorf("task %q has outbound edge to undeclared task %q", name, targetTask)
			}
			implicitName := definition.ImplicitConditionName(name, targetTask)
			ic := ensureCondition(implicitName)
			ic.Implicit = true
			ic.FromTask = name
			ic.ToTask = targetTask
			ic.Inbound = appendUnique(ic.Inbound, name)
			ic.Outbound = appendUnique(ic.Outbound, targetTask)
			tgt.Inbound = appendUnique(tgt.Inbound, implicitName)
		}
	}

	if err := b.validateReferences(tasks, conditions); err != nil {
		return nil, err
	}
	if err := b.validateInvariants(tasks, conditions); err != nil {
		return nil, err
	}

	net := definition.NewNetwork(b.name, versionName, b.start, b.end, tasks, conditions, b.regions)
	return &Result{
		Network:      net,
		VersionName:  versionName,
		IsDeprecated: opts.IsVersionDeprecated,
		Migration:    opts.Migration,
	}, nil
}

// validateReferences resolves the symbol table accumulated while the
// graph was described: every name referenced anywhere must name a
// declared task or a wired condition, and every cancellation region's
// contents must resolve to the right element kind.
func (b *Network) validateReferences(
	tasks map[string]*definition.Task,
	conditions map[string]*definition.Condition,
) error {
	for _, name := range sortedNames(b.referenced) {
		if _, ok := tasks[name]; ok {
			continue
		}
		if _, ok := conditions[name]; ok {
			continue
		}
		return fmt.Errorf("name %q is referenced but never declared as a task or wired as a condition", name)
	}
	for _, owner := range sortedRegionOwners(b.regions) {
		region := b.regions[owner]
		if _, ok := tasks[owner]; !ok {
			return fmt.Errorf("cancellation region owner %q is not a declared task", owner)
		}
		for t := range region.Tasks {
			if _, ok := tasks[t]; !ok {
				return fmt.Errorf("cancellation region of %q lists %q, which is not a declared task", owner, t)
			}
		}
		for c := range region.Conditions {
			if _, ok := conditions[c]; !ok {
				return fmt.Errorf("cancellation region of %q lists %q, which is not a wired condition", owner, c)
			}
		}
	}
	return nil
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedRegionOwners(regions map[string]*definition.CancellationRegion) []string {
	owners := make([]string, 0, len(regions))
	for owner := range regions {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

func (b *Network) validateInvariants(
	tasks map[string]*definition.Task,
	conditions map[string]*definition.Condition,
) error {
	startCond, ok := conditions[b.start]
	if !ok {
		startCond = &definition.Condition{Name: b.start}
		conditions[b.start] = startCond
	}
	if len(startCond.Inbound) != 0 {
		return fmt.Errorf("start condition %q must have no inbound flows", b.start)
	}
	if len(startCond.Outbound) == 0 {
		return fmt.Errorf("start condition %q must have at least one outbound flow", b.start)
	}

	endCond, ok := conditions[b.end]
	if !ok {
		endCond = &definition.Condition{Name: b.end}
		conditions[b.end] = endCond
	}
	if len(endCond.Outbound) != 0 {
		return fmt.Errorf("end condition %q must have no outbound flows", b.end)
	}
	if len(endCond.Inbound) == 0 {
		return fmt.Errorf("end condition %q must have at least one inbound flow", b.end)
	}

	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := tasks[name]
		if len(t.Inbound) == 0 {
			return fmt.Errorf("task %q has no inbound flow", name)
		}
		hasOutbound := len(t.Outbound.ToConditions) > 0 || len(t.Outbound.ToTasks) > 0
		if !hasOutbound {
			return fmt.Errorf("task %q has no outbound flow", name)
		}
		targetCount := len(t.Outbound.ToConditions) + len(t.Outbound.ToTasks)
		if (t.Split == definition.SplitOr || t.Split == definition.SplitXor) && t.Outbound.Router == nil {
			return fmt.Errorf("task %q has %s split but no router", name, t.Split)
		}
		if t.Split == definition.SplitXor && targetCount < 1 {
			return fmt.Errorf("task %q has xor split with no outbound targets", name)
		}
		switch t.Kind {
		case definition.TaskAtomic:
			if t.WorkItem == nil {
				return fmt.Errorf("atomic task %q has no work item definition", name)
			}
		case definition.TaskComposite:
			if t.Child == nil {
				return fmt.Errorf("composite task %q has no child workflow", name)
			}
		case definition.TaskDynamicComposite:
			if len(t.Candidates) == 0 {
				return fmt.Errorf("dynamic composite task %q has no candidate workflows", name)
			}
		case definition.TaskDummy:
			// structural only
		}
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

