package runtime

import (
	"context"
	"fmt"

	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/store"
)

// marking returns the current token count on conditionName for
// workflowID. A condition that has never been touched is unmarked (0).
func (r *repo) marking(ctx context.Context, workflowID core.ID, conditionName string) (int, string, error) {
	recs, err := r.tx.Scan(ctx, store.KindConditionMarking, store.Query{
		Parent: workflowID.String(),
		Name:   conditionName,
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to scan condition marking: %w", err)
	}
	if len(recs) == 0 {
		return 0, "", nil
	}
	count, _ := recs[0].Body["count"].(int)
	return count, recs[0].ID, nil
}

// adjustMarking adds delta tokens to conditionName's count (delta may be
// negative for a debit) and returns the resulting count. Per invariant 1,
// callers must never let the result go below zero.
func (r *repo) adjustMarking(ctx context.Context, workflowID core.ID, conditionName string, delta int) (int, error) {
	count, id, err := r.marking(ctx, workflowID, conditionName)
	if err != nil {
		return 0, err
	}
	next := count + delta
	if next < 0 {
		return 0, fmt.Errorf("marking on condition %q would go negative (%d%+d)", conditionName, count, delta)
	}
	if id == "" {
		if _, err := r.tx.Insert(ctx, store.KindConditionMarking, map[string]any{
			"parent": workflowID.String(),
			"name":   conditionName,
			"count":  next,
		}); err != nil {
			return 0, fmt.Errorf("failed to insert condition marking: %w", err)
		}
		return next, nil
	}
	if err := r.tx.Patch(ctx, store.KindConditionMarking, id, map[string]any{"count": next}); err != nil {
		return 0, fmt.Errorf("failed to patch condition marking: %w", err)
	}
	return next, nil
}

// setMarking forces conditionName's count to an exact value; used to
// zero tokens under a cancellation region.
func (r *repo) setMarking(ctx context.Context, workflowID core.ID, conditionName string, count int) error {
	_, id, err := r.marking(ctx, workflowID, conditionName)
	if err != nil {
		return err
	}
	if id == "" {
		if count == 0 {
			return nil
		}
		_, err := r.tx.Insert(ctx, store.KindConditionMarking, map[string]any{
			"parent": workflowID.String(),
			"name":   conditionName,
			"count":  count,
		})
		return err
	}
	return r.tx.Patch(ctx, store.KindConditionMarking, id, map[string]any{"count": count})
}

// isMarked reports whether conditionName currently holds at least one
// token.
func (r *repo) isMarked(ctx context.Context, workflowID core.ID, conditionName string) (bool, error) {
	count, _, err := r.marking(ctx, workflowID, conditionName)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
