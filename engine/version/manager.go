// Package version implements the version manager: a named collection of
// versions per workflow name, each bound to a built definition.Network,
// routing actions to the correct version and migrating persisted
// instances of a retired version lazily on first touch.
package version

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tiborkr/tasquencer/engine/action"
	"github.com/tiborkr/tasquencer/engine/builder"
	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/definition"
	"github.com/tiborkr/tasquencer/engine/runtime"
	"github.com/tiborkr/tasquencer/engine/schema"
	"github.com/tiborkr/tasquencer/engine/store"
)

// entry is one registered version of one workflow.
type entry struct {
	network      *definition.Network
	isDeprecated bool
	migration    definition.MigrationFunc
	schemas      schema.ActionSchemas
}

// Config bundles the dependencies every Dispatcher the manager hands out
// shares: the execution core, the host's transaction opener, the
// default authorization policy, and the Strict cancel-idempotence
// opt-in.
type Config struct {
	Engine *runtime.Engine
	Store  store.Opener
	Policy action.Policy
	Strict bool
}

// Manager is a named collection of workflow definition versions. It is
// safe for concurrent use: registration happens at startup, lookups and
// migrations happen per action dispatch.
type Manager struct {
	cfg Config

	mu    sync.RWMutex
	byWF  map[string]map[string]*entry
	order map[string][]string // registration order per workflow name, latest last
}

// NewManager returns an empty Manager bound to cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:   cfg,
		byWF:  map[string]map[string]*entry{},
		order: map[string][]string{},
	}
}

// Register adds one built version of workflowName. schemas is the
// workflow-level action schema registry (initialize/cancel) for this
// version; work-item-level schemas live on the atomic tasks themselves
// (engine/definition.WorkItemDef.ActionSchemas). Registering the same
// version name twice for the same workflow is an error.
func (m *Manager) Register(workflowName string, result *builder.Result, schemas schema.ActionSchemas) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions, ok := m.byWF[workflowName]
	if !ok {
		versions = map[string]*entry{}
		m.byWF[workflowName] = versions
	}
	if _, exists := versions[result.VersionName]; exists {
		return fmt.Errorf("workflow %q already has a version %q registered", workflowName, result.VersionName)
	}
	versions[result.VersionName] = &entry{
		network:      result.Network,
		isDeprecated: result.IsDeprecated,
		migration:    result.Migration,
		schemas:      schemas,
	}
	m.order[workflowName] = append(m.order[workflowName], result.VersionName)
	return nil
}

// APIForVersion returns the action dispatcher bound to one specific
// registered version.
func (m *Manager) APIForVersion(workflowName, versionName string) (*action.Dispatcher, error) {
	e, err := m.lookup(workflowName, versionName)
	if err != nil {
		return nil, err
	}
	return action.New(action.Dependencies{
		Net:      e.network,
		Engine:   m.cfg.Engine,
		Store:    m.cfg.Store,
		Schemas:  e.schemas,
		Policy:   m.cfg.Policy,
		Resolver: m,
		Strict:   m.cfg.Strict,
	}), nil
}

// APIForInstance resolves the dispatcher for an already-persisted
// workflow instance, migrating it first if its stored version has since
// been retired. The migration itself commits in its own transaction before
// the returned dispatcher is used, since a migration and the action that
// follows it are logically separate steps — idempotent migrations make
// running it again on every touch safe and cheap.
func (m *Manager) APIForInstance(ctx context.Context, workflowID core.ID) (*action.Dispatcher, error) {
	var workflowName, versionName string
	err := m.cfg.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		name, version, err := m.migrateTx(ctx, tx, workflowID)
		workflowName, versionName = name, version
		return err
	})
	if err != nil {
		return nil, err
	}
	return m.APIForVersion(workflowName, versionName)
}

// Resolve implements action.NetworkResolver.
func (m *Manager) Resolve(workflowName, versionName string) (*definition.Network, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions, ok := m.byWF[workflowName]
	if !ok {
		return nil, false
	}
	e, ok := versions[versionName]
	if !ok {
		return nil, false
	}
	return e.network, true
}

// Pair identifies one registered (workflowName, version).
type Pair struct {
	WorkflowName string
	Version      string
}

// ListDefinitions returns every registered {workflowName, version} pair,
// grouped by workflow name in sorted order; each workflow's versions
// appear in registration order.
func (m *Manager) ListDefinitions() []Pair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := sortedKeys(m.byWF)
	out := make([]Pair, 0, len(names))
	for _, name := range names {
		for _, v := range m.order[name] {
			out = append(out, Pair{WorkflowName: name, Version: v})
		}
	}
	return out
}

// ExtractStructure returns the structural extraction of the registered
// (workflowName, version) pair.
func (m *Manager) ExtractStructure(workflowName, versionName string) (definition.Structure, error) {
	e, err := m.lookup(workflowName, versionName)
	if err != nil {
		return definition.Structure{}, err
	}
	return e.network.Extract(), nil
}

func (m *Manager) lookup(workflowName, versionName string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions, ok := m.byWF[workflowName]
	if !ok {
		return nil, core.NewError(
			fmt.Errorf("workflow %q is not registered", workflowName),
			core.KindDefinitionNotFound,
			map[string]any{"workflowName": workflowName},
		)
	}
	e, ok := versions[versionName]
	if !ok {
		return nil, core.NewError(
			fmt.Errorf("workflow %q has no version %q registered", workflowName, versionName),
			core.KindDefinitionNotFound,
			map[string]any{"workflowName": workflowName, "version": versionName},
		)
	}
	return e, nil
}

func (m *Manager) latestVersion(workflowName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order := m.order[workflowName]
	if len(order) == 0 {
		return ""
	}
	return order[len(order)-1]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
