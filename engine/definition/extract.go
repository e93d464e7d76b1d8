package definition

import "sort"

// Structure is the pure, JSON-friendly record of a Network's shape,
// consumed by the audit/UI layers (which must never see builder or
// execution internals). Extract is referentially transparent: calling it
// twice on the same Network yields equal Structures.
type Structure struct {
	Name           string               `json:"name"`
	Version        string               `json:"version"`
	StartCondition string               `json:"startCondition"`
	EndCondition   string               `json:"endCondition"`
	Tasks          []TaskStructure      `json:"tasks"`
	Conditions     []ConditionStructure `json:"conditions"`
	Regions        []RegionStructure    `json:"cancellationRegions"`
}

type TaskStructure struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Join        JoinType  `json:"join"`
	Split       SplitType `json:"split"`
	Kind        TaskKind  `json:"kind"`
	Inbound     []string  `json:"inbound"`
	Outbound    []string  `json:"outbound"`
	Candidates  []string  `json:"candidates,omitempty"`
}

type ConditionStructure struct {
	Name     string `json:"name"`
	Implicit bool   `json:"implicit"`
	FromTask string `json:"fromTask,omitempty"`
	ToTask   string `json:"toTask,omitempty"`
}

type RegionStructure struct {
	Owner      string   `json:"owner"`
	Tasks      []string `json:"tasks"`
	Conditions []string `json:"conditions"`
}

// Extract produces the pure structural snapshot of n.
func (n *Network) Extract() Structure {
	out := Structure{
		Name:           n.Name,
		Version:        n.Version,
		StartCondition: n.StartCondition,
		EndCondition:   n.EndCondition,
	}
	for _, name := range sortedKeys(n.tasks) {
		t := n.tasks[name]
		ts := TaskStructure{
			Name:        t.Name,
			Description: t.Description,
			Join:        t.Join,
			Split:       t.Split,
			Kind:        t.Kind,
			Inbound:     append([]string(nil), t.Inbound...),
			Outbound:    t.Outbound.Targets(func(tn string) string { return ImplicitConditionName(t.Name, tn) }),
		}
		if t.Kind == TaskDynamicComposite {
			for _, c := range sortedKeys(t.Candidates) {
				ts.Candidates = append(ts.Candidates, c)
			}
		}
		out.Tasks = append(out.Tasks, ts)
	}
	for _, name := range sortedKeys(n.conditions) {
		c := n.conditions[name]
		out.Conditions = append(out.Conditions, ConditionStructure{
			Name:     c.Name,
			Implicit: c.Implicit,
			FromTask: c.FromTask,
			ToTask:   c.ToTask,
		})
	}
	for _, owner := range sortedKeys(n.regions) {
		r := n.regions[owner]
		out.Regions = append(out.Regions, RegionStructure{
			Owner:      r.Owner,
			Tasks:      setKeys(r.Tasks),
			Conditions: setKeys(r.Conditions),
		})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setKeys(m map[string]struct{}) []string {
	return sortedKeys(m)
}
