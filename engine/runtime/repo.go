package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/store"
)

// repo wraps a store.Tx with the marshalling between the engine's
// runtime structs and the generic Record bodies the storage interface
// persists.
type repo struct {
	tx store.Tx
}

func newRepo(tx store.Tx) *repo {
	return &repo{tx: tx}
}

func (r *repo) insertWorkflow(ctx context.Context, wi *WorkflowInstance) (core.ID, error) {
	body := map[string]any{
		"definitionName": wi.DefinitionName,
		"version":        wi.Version,
		"state":          string(wi.State),
		"payload":        wi.Payload,
		"createdAt":      wi.CreatedAt,
	}
	if wi.Parent != nil {
		body["parent"] = wi.Parent.WorkflowInstanceID
		body["parentTaskName"] = wi.Parent.TaskName
	}
	id, err := r.tx.Insert(ctx, store.KindWorkflow, body)
	if err != nil {
		return "", fmt.Errorf("failed to insert workflow instance: %w", err)
	}
	return core.ID(id), nil
}

func (r *repo) getWorkflow(ctx context.Context, id core.ID) (*WorkflowInstance, error) {
	rec, err := r.tx.Get(ctx, store.KindWorkflow, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow instance %s: %w", id, err)
	}
	if rec == nil {
		return nil, core.NewError(fmt.Errorf("workflow instance %s not found", id), core.KindNotFound, nil)
	}
	wi := &WorkflowInstance{
		ID:             id,
		DefinitionName: fmt.Sprint(rec.Body["definitionName"]),
		Version:        fmt.Sprint(rec.Body["version"]),
		State:          WorkflowState(fmt.Sprint(rec.Body["state"])),
		Payload:        rec.Body["payload"],
	}
	if p, ok := rec.Body["parent"]; ok && p != nil && fmt.Sprint(p) != "" {
		wi.Parent = &ParentLink{
			WorkflowInstanceID: fmt.Sprint(p),
			TaskName:           fmt.Sprint(rec.Body["parentTaskName"]),
		}
	}
	return wi, nil
}

func (r *repo) patchWorkflowState(ctx context.Context, id core.ID, state WorkflowState, completedAt *time.Time) error {
	diff := map[string]any{"state": string(state)}
	if completedAt != nil {
		diff["completedAt"] = *completedAt
	}
	if err := r.tx.Patch(ctx, store.KindWorkflow, id.String(), diff); err != nil {
		return fmt.Errorf("failed to patch workflow instance %s: %w", id, err)
	}
	return nil
}

func (r *repo) insertTask(ctx context.Context, ti *TaskInstance) (core.ID, error) {
	id, err := r.tx.Insert(ctx, store.KindTask, map[string]any{
		"parent":    ti.WorkflowInstanceID.String(),
		"name":      ti.Name,
		"state":     string(ti.State),
		"createdAt": ti.CreatedAt,
		"updatedAt": ti.UpdatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert task instance: %w", err)
	}
	return core.ID(id), nil
}

func (r *repo) getTask(ctx context.Context, id core.ID) (*TaskInstance, error) {
	rec, err := r.tx.Get(ctx, store.KindTask, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load task instance %s: %w", id, err)
	}
	if rec == nil {
		return nil, core.NewError(fmt.Errorf("task instance %s not found", id), core.KindNotFound, nil)
	}
	return &TaskInstance{
		ID:                 id,
		WorkflowInstanceID: core.ID(fmt.Sprint(rec.Body["parent"])),
		Name:               fmt.Sprint(rec.Body["name"]),
		State:              TaskState(fmt.Sprint(rec.Body["state"])),
	}, nil
}

func (r *repo) patchTaskState(ctx context.Context, id core.ID, state TaskState) error {
	if err := r.tx.Patch(ctx, store.KindTask, id.String(), map[string]any{
		"state":     string(state),
		"updatedAt": time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to patch task instance %s: %w", id, err)
	}
	return nil
}

// findTaskByName returns the most recent task instance named taskName
// under workflowID, or nil if none exists yet.
func (r *repo) findTaskByName(ctx context.Context, workflowID core.ID, taskName string) (*TaskInstance, error) {
	recs, err := r.tx.Scan(ctx, store.KindTask, store.Query{Parent: workflowID.String(), Name: taskName})
	if err != nil {
		return nil, fmt.Errorf("failed to scan task instances: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	rec := recs[len(recs)-1]
	return &TaskInstance{
		ID:                 core.ID(rec.ID),
		WorkflowInstanceID: workflowID,
		Name:               taskName,
		State:              TaskState(fmt.Sprint(rec.Body["state"])),
	}, nil
}

func (r *repo) tasksInState(ctx context.Context, workflowID core.ID, state TaskState) ([]TaskInstance, error) {
	recs, err := r.tx.Scan(ctx, store.KindTask, store.Query{Parent: workflowID.String(), State: string(state)})
	if err != nil {
		return nil, fmt.Errorf("failed to scan task instances: %w", err)
	}
	out := make([]TaskInstance, 0, len(recs))
	for _, rec := range recs {
		out = append(out, TaskInstance{
			ID:                 core.ID(rec.ID),
			WorkflowInstanceID: workflowID,
			Name:               fmt.Sprint(rec.Body["name"]),
			State:              state,
		})
	}
	return out, nil
}

func (r *repo) insertWorkItem(ctx context.Context, wi *WorkItemInstance) (core.ID, error) {
	id, err := r.tx.Insert(ctx, store.KindWorkItem, map[string]any{
		"parent":    wi.TaskInstanceID.String(),
		"state":     string(wi.State),
		"metadata":  wi.Metadata,
		"createdAt": wi.CreatedAt,
		"updatedAt": wi.UpdatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert work item instance: %w", err)
	}
	return core.ID(id), nil
}

func (r *repo) getWorkItem(ctx context.Context, id core.ID) (*WorkItemInstance, error) {
	rec, err := r.tx.Get(ctx, store.KindWorkItem, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load work item instance %s: %w", id, err)
	}
	if rec == nil {
		return nil, core.NewError(fmt.Errorf("work item instance %s not found", id), core.KindNotFound, nil)
	}
	metadata, _ := rec.Body["metadata"].(map[string]any)
	return &WorkItemInstance{
		ID:             id,
		TaskInstanceID: core.ID(fmt.Sprint(rec.Body["parent"])),
		State:          WorkItemState(fmt.Sprint(rec.Body["state"])),
		Metadata:       metadata,
	}, nil
}

func (r *repo) patchWorkItemState(ctx context.Context, id core.ID, state WorkItemState) error {
	if err := r.tx.Patch(ctx, store.KindWorkItem, id.String(), map[string]any{
		"state":     string(state),
		"updatedAt": time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to patch work item instance %s: %w", id, err)
	}
	return nil
}

// findChildWorkflowsByParentTask returns every workflow instance id
// spawned as a child of taskName within parentWorkflowID, regardless of
// its current state. The (parent) index on workflow instances is
// sufficient; the parentTaskName filter is applied in-process since it
// is not part of the required secondary-index set.
func (r *repo) findChildWorkflowsByParentTask(ctx context.Context, parentWorkflowID core.ID, taskName string) ([]core.ID, error) {
	recs, err := r.tx.Scan(ctx, store.KindWorkflow, store.Query{Parent: parentWorkflowID.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to scan child workflow instances: %w", err)
	}
	var out []core.ID
	for _, rec := range recs {
		if fmt.Sprint(rec.Body["parentTaskName"]) != taskName {
			continue
		}
		out = append(out, core.ID(rec.ID))
	}
	return out, nil
}

// nowPtr returns a pointer to the current time, for the optional
// completedAt/cancelledAt timestamp fields.
func nowPtr() *time.Time {
	t := time.Now()
	return &t
}

func (r *repo) workItemsForTask(ctx context.Context, taskInstanceID core.ID) ([]WorkItemInstance, error) {
	recs, err := r.tx.Scan(ctx, store.KindWorkItem, store.Query{Parent: taskInstanceID.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to scan work item instances: %w", err)
	}
	out := make([]WorkItemInstance, 0, len(recs))
	for _, rec := range recs {
		out = append(out, WorkItemInstance{
			ID:             core.ID(rec.ID),
			TaskInstanceID: taskInstanceID,
			State:          WorkItemState(fmt.Sprint(rec.Body["state"])),
		})
	}
	return out, nil
}
