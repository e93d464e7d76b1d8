package runtime

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/definition"
)

// reachabilityCache memoizes "can a currently live task still deposit a
// token on this condition" within one recomputeEnablement pass. OR-join
// evaluation can re-ask the same question for several joins sharing
// upstream tasks, so the cache is shared across the whole pass rather
// than rebuilt per task.
type reachabilityCache struct {
	cache *lru.Cache[string, bool]
}

func newReachabilityCache() *reachabilityCache {
	c, _ := lru.New[string, bool](1024)
	return &reachabilityCache{cache: c}
}

// recomputeEnablement re-evaluates every task whose inbound set
// intersects touched, transitioning disabled<->enabled and invoking
// OnEnabled/OnDisabled as needed.
func (e *Engine) recomputeEnablement(
	ctx context.Context,
	r *repo,
	net *definition.Network,
	workflowID core.ID,
	touched []string,
) error {
	touchedSet := make(map[string]struct{}, len(touched))
	for _, c := range touched {
		touchedSet[c] = struct{}{}
	}
	rc := newReachabilityCache()

	for _, taskName := range net.Tasks() {
		task, _ := net.GetTask(taskName)
		if !inboundIntersects(task.Inbound, touchedSet) {
			continue
		}
		enabled, err := e.isEnabled(ctx, r, net, workflowID, task, rc)
		if err != nil {
			return fmt.Errorf("failed to evaluate enablement of task %q: %w", taskName, err)
		}
		existing, err := r.findTaskByName(ctx, workflowID, taskName)
		if err != nil {
			return err
		}
		current := TaskDisabled
		if existing != nil {
			current = existing.State
		}
		switch {
		case enabled && current == TaskDisabled:
			if err := e.transitionToEnabled(ctx, r, net, workflowID, task); err != nil {
				return err
			}
		case !enabled && current == TaskEnabled:
			if existing == nil {
				continue
			}
			if err := e.transitionToDisabled(ctx, r, workflowID, existing, task); err != nil {
				return err
			}
		}
	}
	return nil
}

func inboundIntersects(inbound []string, touched map[string]struct{}) bool {
	for _, c := range inbound {
		if _, ok := touched[c]; ok {
			return true
		}
	}
	return false
}

// isEnabled evaluates the join rule for task against the current
// marking.
func (e *Engine) isEnabled(
	ctx context.Context,
	r *repo,
	net *definition.Network,
	workflowID core.ID,
	task *definition.Task,
	rc *reachabilityCache,
) (bool, error) {
	switch task.Join {
	case definition.JoinAnd:
		for _, c := range task.Inbound {
			marked, err := r.isMarked(ctx, workflowID, c)
			if err != nil {
				return false, err
			}
			if !marked {
				return false, nil
			}
		}
		return true, nil

	case definition.JoinXor:
		markedCount := 0
		for _, c := range task.Inbound {
			marked, err := r.isMarked(ctx, workflowID, c)
			if err != nil {
				return false, err
			}
			if marked {
				markedCount++
			}
		}
		return markedCount == 1, nil

	case definition.JoinOr:
		anyMarked := false
		var unmarked []string
		for _, c := range task.Inbound {
			marked, err := r.isMarked(ctx, workflowID, c)
			if err != nil {
				return false, err
			}
			if marked {
				anyMarked = true
			} else {
				unmarked = append(unmarked, c)
			}
		}
		if !anyMarked {
			return false, nil
		}
		for _, c := range unmarked {
			reachable, err := e.canStillReach(ctx, r, net, workflowID, c, rc)
			if err != nil {
				return false, err
			}
			if reachable {
				// A currently live task could still add a token to an
				// unmarked input of this join: defer enablement
				// (non-local OR-join semantics).
				return false, nil
			}
		}
		return true, nil

	default:
		return false, fmt.Errorf("unknown join type %q", task.Join)
	}
}

// canStillReach approximates the non-local YAWL OR-join rule: it reports
// whether any task currently enabled or started in workflowID has a path
// through the static graph, via tasks that have not yet completed or been
// cancelled, to conditionName.
func (e *Engine) canStillReach(
	ctx context.Context,
	r *repo,
	net *definition.Network,
	workflowID core.ID,
	conditionName string,
	rc *reachabilityCache,
) (bool, error) {
	key := workflowID.String() + "|" + conditionName
	if v, ok := rc.cache.Get(key); ok {
		return v, nil
	}
	live := make([]string, 0)
	for _, state := range []TaskState{TaskEnabled, TaskStarted} {
		instances, err := r.tasksInState(ctx, workflowID, state)
		if err != nil {
			return false, err
		}
		for _, ti := range instances {
			live = append(live, ti.Name)
		}
	}
	visited := map[string]struct{}{}
	reached := false
	var walk func(taskName string) error
	walk = func(taskName string) error {
		if _, ok := visited[taskName]; ok {
			return nil
		}
		visited[taskName] = struct{}{}
		task, ok := net.GetTask(taskName)
		if !ok {
			return nil
		}
		targets := task.Outbound.Targets(func(tn string) string {
			return definition.ImplicitConditionName(taskName, tn)
		})
		for _, cond := range targets {
			if cond == conditionName {
				reached = true
				return nil
			}
			c, ok := net.GetCondition(cond)
			if !ok {
				continue
			}
			for _, next := range c.Outbound {
				inst, err := r.findTaskByName(ctx, workflowID, next)
				if err == nil && inst != nil && (inst.State == TaskCompleted || inst.State == TaskCancelled) {
					continue
				}
				if err := walk(next); err != nil {
					return err
				}
				if reached {
					return nil
				}
			}
		}
		return nil
	}
	for _, t := range live {
		if err := walk(t); err != nil {
			return false, err
		}
		if reached {
			break
		}
	}
	rc.cache.Add(key, reached)
	return reached, nil
}
