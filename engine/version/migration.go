package version

import (
	"context"
	"fmt"

	"dario.cat/mergo"

	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/store"
)

// migrateTx inspects the persisted workflow instance workflowID,
// applying its registered version's migration if that version is marked
// deprecated. It returns the instance's workflow definition name and the
// version the instance carries after the call (the latest version when a
// migration ran, the stored one otherwise) so the caller can resolve the
// dispatcher for whatever version now governs the instance.
//
// The migration's returned patch is merged onto the stored record with
// mergo, so migrations only need to return the fields that changed, not
// the full record.
func (m *Manager) migrateTx(ctx context.Context, tx store.Tx, workflowID core.ID) (string, string, error) {
	rec, err := tx.Get(ctx, store.KindWorkflow, workflowID.String())
	if err != nil {
		return "", "", fmt.Errorf("failed to load workflow instance %s: %w", workflowID, err)
	}
	if rec == nil {
		return "", "", core.NewError(
			fmt.Errorf("workflow instance %s not found", workflowID),
			core.KindNotFound,
			map[string]any{"workflowId": workflowID.String()},
		)
	}
	workflowName := fmt.Sprint(rec.Body["definitionName"])
	storedVersion := fmt.Sprint(rec.Body["version"])

	e, err := m.lookup(workflowName, storedVersion)
	if err != nil {
		return "", "", err
	}
	if !e.isDeprecated || e.migration == nil {
		return workflowName, storedVersion, nil
	}

	latest := m.latestVersion(workflowName)
	if latest == storedVersion {
		return workflowName, storedVersion, nil
	}

	patch, err := e.migration(rec.Body)
	if err != nil {
		return "", "", core.NewError(
			fmt.Errorf("migration for workflow %q version %q failed: %w", workflowName, storedVersion, err),
			core.KindMigrationFailed,
			map[string]any{"workflowName": workflowName, "fromVersion": storedVersion, "toVersion": latest},
		)
	}

	merged := map[string]any{}
	if err := mergo.Merge(&merged, rec.Body); err != nil {
		return "", "", fmt.Errorf("failed to merge base state during migration: %w", err)
	}
	if err := mergo.Merge(&merged, patch, mergo.WithOverride); err != nil {
		return "", "", fmt.Errorf("failed to merge migration patch: %w", err)
	}
	merged["version"] = latest

	if err := tx.Patch(ctx, store.KindWorkflow, workflowID.String(), merged); err != nil {
		return "", "", fmt.Errorf("failed to persist migrated workflow instance %s: %w", workflowID, err)
	}
	return workflowName, latest, nil
}
