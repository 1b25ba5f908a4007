package script

import "sort"

// Node is one scheduled unit of the dependency graph: an assignment plus
// its precomputed dependency analysis.
type Node struct {
	Assignment *Assignment
	Deps       *DependencyInfo
}

// DAG is the dependency graph of a section's assignments, keyed by
// assignment name. Anonymous (unnamed) assignments get a synthesized key
// so they still participate in leveling, even though nothing can depend on
// them.
type DAG struct {
	Nodes map[string]*Node
	order []string // node names in insertion order
}

// BuildDAG analyzes every assignment in section order and links them by
// name reference. A reference to a name that never appears on the
// left-hand side of an assignment in this section is left unresolved; it
// is treated as an external input (e.g. a [params] parameter) rather than
// an error here; unresolved-reference validation happens at evaluation
// time (spec.md §7, ReferenceError).
func BuildDAG(assignments []*Assignment) *DAG {
	d := &DAG{Nodes: map[string]*Node{}}
	for i, a := range assignments {
		name := a.Name
		if name == "" {
			name = syntheticName(i)
		}
		d.Nodes[name] = &Node{Assignment: a, Deps: AnalyzeAssignment(a)}
		d.order = append(d.order, name)
	}
	return d
}

func syntheticName(i int) string {
	return "$anon" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Levels returns the DAG's nodes partitioned into topological levels: level
// 0 depends on nothing defined in this DAG, level 1 depends only on level
// 0, and so on. Within a level, node names are returned in deterministic
// (sorted) order so that callers get stable output across runs.
func (d *DAG) Levels() ([][]string, error) {
	inDegree := map[string]int{}
	dependents := map[string][]string{}

	for name, node := range d.Nodes {
		count := 0
		for dep := range node.Deps.Dependencies {
			if _, ok := d.Nodes[dep]; ok {
				count++
				dependents[dep] = append(dependents[dep], name)
			}
		}
		inDegree[name] = count
	}

	var levels [][]string
	remaining := len(d.Nodes)
	current := map[string]bool{}
	for name, deg := range inDegree {
		if deg == 0 {
			current[name] = true
		}
	}

	for remaining > 0 {
		if len(current) == 0 {
			return nil, &CircularError{Variables: remainingNames(inDegree, current)}
		}
		var level []string
		for name := range current {
			level = append(level, name)
		}
		sort.Strings(level)
		levels = append(levels, level)
		remaining -= len(level)

		next := map[string]bool{}
		for _, name := range level {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next[dep] = true
				}
			}
			delete(inDegree, name)
		}
		current = next
	}
	return levels, nil
}

func remainingNames(inDegree map[string]int, _ map[string]bool) []string {
	var names []string
	for name := range inDegree {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
