package script

import "fmt"

// SyntaxError reports a tokenizer or parser failure at a byte position.
type SyntaxError struct {
	Position int
	Expected string
	Got      string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d: expected %s, got %s", e.Position, e.Expected, e.Got)
}

// ReferenceError reports use of an undefined variable or a reserved name
// used where a user variable was expected.
type ReferenceError struct {
	Name string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("undefined reference: %s", e.Name)
}

// DisabledBuiltinError reports a call to a built-in that exists but has
// been excluded by the engine's configured enabled-builtin set.
type DisabledBuiltinError struct {
	Name string
}

func (e *DisabledBuiltinError) Error() string {
	return fmt.Sprintf("built-in disabled by configuration: %s", e.Name)
}

// ArityError reports a built-in call with the wrong number of arguments.
type ArityError struct {
	Function string
	Expected string
	Got      int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%s: expected %s arguments, got %d", e.Function, e.Expected, e.Got)
}

// TypeError reports a built-in call with an argument of the wrong kind.
type TypeError struct {
	Function string
	Param    string
	Expected string
	Got      string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: argument %s expected %s, got %s", e.Function, e.Param, e.Expected, e.Got)
}

// ContextError reports a built-in that requires context the evaluator does
// not have (e.g. a detected ellipse).
type ContextError struct {
	Requires string
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("missing required context: %s", e.Requires)
}

// DimensionError reports a binary image operation on mismatched rasters.
type DimensionError struct {
	LeftW, LeftH   int
	RightW, RightH int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: %dx%d vs %dx%d", e.LeftW, e.LeftH, e.RightW, e.RightH)
}

// CircularError reports a dependency cycle found while building the DAG.
type CircularError struct {
	Variables []string
}

func (e *CircularError) Error() string {
	return fmt.Sprintf("circular dependency among: %v", e.Variables)
}

// MissingImageError reports a pixel shift with no provider entry.
type MissingImageError struct {
	Shift float64
}

func (e *MissingImageError) Error() string {
	return fmt.Sprintf("no image available for shift %g", e.Shift)
}

// ExternalError wraps a failure from the external-script bridge.
type ExternalError struct {
	Kind    string
	Message string
	Stack   string
}

func (e *ExternalError) Error() string {
	if e.Stack != "" {
		return fmt.Sprintf("external script (%s) failed: %s\n%s", e.Kind, e.Message, e.Stack)
	}
	return fmt.Sprintf("external script (%s) failed: %s", e.Kind, e.Message)
}

// CancelledError reports that execution was aborted by the caller.
type CancelledError struct {
	Label string
}

func (e *CancelledError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("cancelled: %s", e.Label)
	}
	return "cancelled"
}

// IncludeCycleError reports a cycle in the include resolver's visited set.
type IncludeCycleError struct {
	Path string
}

func (e *IncludeCycleError) Error() string {
	return fmt.Sprintf("include cycle at %s", e.Path)
}
