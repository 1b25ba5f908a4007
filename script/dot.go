package script

import (
	"fmt"
	"html"
	"sort"
	"strings"
)

// DumpDOT renders a DAG as Graphviz DOT source, clustering nodes by
// parallel level and coloring sequential (stateful/non-concurrent) nodes
// differently from pure ones, so `dot -Tsvg` gives a quick visual read of
// what a script will actually run concurrently (spec.md §6.3).
func DumpDOT(d *DAG, plans []LevelPlan) (string, error) {
	var sb strings.Builder
	sb.WriteString("digraph script {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, fontname=\"monospace\"];\n")

	for level, plan := range plans {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=%q;\n", fmt.Sprintf("level %d", level))
		names := append(append([]string{}, plan.Parallel...), plan.Sequential...)
		sort.Strings(names)
		for _, name := range names {
			node := d.Nodes[name]
			label := escapeLabel(nodeLabel(node))
			fmt.Fprintf(&sb, "    %q [label=%q, style=filled, fillcolor=%q];\n", name, label, nodeColor(node))
		}
		sb.WriteString("  }\n")
	}

	for name, node := range d.Nodes {
		for dep := range node.Deps.Dependencies {
			if _, ok := d.Nodes[dep]; ok {
				fmt.Fprintf(&sb, "  %q -> %q;\n", dep, name)
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String(), nil
}

func nodeLabel(n *Node) string {
	name := n.Assignment.Name
	if name == "" {
		name = "(anonymous)"
	}
	return name + " = " + n.Assignment.Expr.Canonical()
}

// nodeColor applies spec.md §6.3's four-way purity coloring: stateful
// built-ins are the most restrictive (must run alone, in order), so they
// take priority over a node merely being non-concurrent, which in turn
// takes priority over the plain function-call/simple-expression split.
func nodeColor(n *Node) string {
	switch {
	case n.Deps.HasStatefulFunction:
		return "red"
	case n.Deps.HasNonConcurrentFunction:
		return "orange"
	default:
		if _, ok := n.Assignment.Expr.(*FunctionCall); ok {
			return "lightblue"
		}
		return "lightgray"
	}
}

// escapeLabel applies spec.md §6.3's label escaping: the usual HTML
// entities plus a literal newline, which html.EscapeString leaves alone.
func escapeLabel(s string) string {
	return strings.ReplaceAll(html.EscapeString(s), "\n", "\\n")
}
