// Package store defines the abstract transactional storage contract the
// engine requires of its host: four record tables (workflows, tasks,
// work items, condition markings), secondary indexes, and get/insert/
// patch/scan primitives. The engine never implements a real backing
// store — that is explicitly out of this repository's scope — but it
// does ship an in-memory reference implementation (engine/store/memstore)
// used by its own tests.
package store

import "context"

// Kind identifies one of the four record tables.
type Kind string

const (
	KindWorkflow         Kind = "workflows"
	KindTask             Kind = "tasks"
	KindWorkItem         Kind = "workItems"
	KindConditionMarking Kind = "conditionMarkings"
)

// Record is the generic envelope every table stores: an opaque id plus a
// structured body. The engine fills Body with its own
// WorkflowInstance/TaskInstance/WorkItemInstance/Marking shapes
// (engine/runtime); store implementations treat Body as opaque.
type Record struct {
	ID   string
	Body map[string]any
}

// Query selects records from a secondary index. Fields not set (empty
// string) are not filtered on. The index required for each field
// combination is listed in the engine's storage interface contract:
// (workflowId) on tasks, (taskId) on work items, (workflowId,
// conditionName) on markings, (parent) on workflow instances,
// (workflowId, name, state) on tasks.
type Query struct {
	Parent string // parent workflow instance id (workflow table) or owning task/workflow id
	Name   string // task name / condition name
	State  string
}

// Tx is the transactional context every engine operation runs inside.
// All operations on a Tx must observe read-your-writes and commit
// atomically with the host transaction; the engine never spans multiple
// Tx values within one action.
type Tx interface {
	// Get fetches a single record by id. Returns (nil, nil) if absent.
	Get(ctx context.Context, kind Kind, id string) (*Record, error)
	// Insert creates a new record and returns its assigned id.
	Insert(ctx context.Context, kind Kind, body map[string]any) (string, error)
	// Patch applies a partial update (shallow merge) to an existing
	// record.
	Patch(ctx context.Context, kind Kind, id string, diff map[string]any) error
	// Scan returns every record of kind matching q, via the
	// corresponding secondary index.
	Scan(ctx context.Context, kind Kind, q Query) ([]Record, error)
}

// Opener begins a new host transaction. The engine's action dispatcher
// calls WithTx exactly once per operation and commits/aborts by returning
// from the callback (nil error commits, non-nil aborts).
type Opener interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
