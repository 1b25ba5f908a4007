package script

import "strings"

// DependencyInfo summarizes one assignment's references and scheduling
// constraints, computed once per node before the DAG is built (spec.md
// §4.4/§4.5).
type DependencyInfo struct {
	Name                         string
	Dependencies                 map[string]bool
	HasFunctionCall              bool
	HasStatefulFunction          bool
	HasNonConcurrentFunction     bool
	HasParallelFunctionArguments bool
}

// AnalyzeAssignment walks an assignment's expression tree and reports the
// set of identifiers it references along with the scheduling flags that
// drive the level scheduler's parallel/sequential partition.
func AnalyzeAssignment(a *Assignment) *DependencyInfo {
	info := &DependencyInfo{
		Name:         a.Name,
		Dependencies: map[string]bool{},
	}
	walkExpr(a.Expr, info)
	return info
}

func walkExpr(e Expr, info *DependencyInfo) {
	if e == nil {
		return
	}
	switch n := e.(type) {
	case *NumberLiteral, *StringLiteral:
		// no references

	case *Identifier:
		if n.Name != "" {
			info.Dependencies[n.Name] = true
		}

	case *UnaryOp:
		walkExpr(n.Operand, info)

	case *BinaryOp:
		walkExpr(n.Left, info)
		walkExpr(n.Right, info)

	case *FunctionCall:
		info.HasFunctionCall = true
		name := strings.ToLower(n.Name)
		if isStateful(name) {
			info.HasStatefulFunction = true
		}
		if isNonConcurrent(name) {
			info.HasNonConcurrentFunction = true
		}
		if hasParallelListArgs(name) {
			info.HasParallelFunctionArguments = true
		}
		for _, arg := range n.Args {
			walkExpr(arg.Expr, info)
		}

	default:
		// Unknown node kind: nothing to record.
	}
}
