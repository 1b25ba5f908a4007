package script

// LevelPlan is one DAG level split into a parallel-safe group and a
// sequential group (spec.md §4.5). Sequential nodes run in the given
// order, one at a time, after the level's parallel group has finished, so
// that a stateful call's ordering relative to other stateful calls is
// preserved and it never runs concurrently with other nodes.
type LevelPlan struct {
	Parallel   []string
	Sequential []string
}

// Plan converts a DAG's topological levels into LevelPlans, per spec.md
// §4.5: a node is sequential within its level if it calls a stateful or
// non-concurrent built-in, or if it fans out into its own parallel
// sub-evaluation (the parallel-list built-ins of builtin_meta.go, such as
// range and avg), since those functions already spread their own work
// across workers through mapParallel.
func (d *DAG) Plan() ([]LevelPlan, error) {
	levels, err := d.Levels()
	if err != nil {
		return nil, err
	}
	plans := make([]LevelPlan, len(levels))
	for i, level := range levels {
		var plan LevelPlan
		for _, name := range level {
			node := d.Nodes[name]
			if node.Deps.HasStatefulFunction || node.Deps.HasNonConcurrentFunction || node.Deps.HasParallelFunctionArguments {
				plan.Sequential = append(plan.Sequential, name)
			} else {
				plan.Parallel = append(plan.Parallel, name)
			}
		}
		plans[i] = plan
	}
	return plans, nil
}
