package script

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// EvalContext carries everything a single Execute call's evaluation needs:
// the caller-supplied hooks, the per-run memo cache, the set of pixel
// shifts actually requested, and the bridge used for script() calls.
type EvalContext struct {
	Images     ImageProvider
	Params     ParameterContext
	Memo       *MemoCache
	Bridge     Bridge
	Progress   ProgressBroadcaster
	Policy     NormalizationPolicy
	MaxWorkers int

	// BridgeTimeout bounds an external-script call (script()/bridge.Run);
	// zero means no additional deadline beyond ctx's own. Set from
	// config.EngineConfig.BridgeTimeout by the caller that builds this
	// EvalContext, since script can't import internal/config without a
	// cycle.
	BridgeTimeout time.Duration

	// BuiltinEnabled reports whether a built-in name may run under the
	// active configuration; nil means everything is enabled. Set from
	// config.EngineConfig.BuiltinEnabled for the same cycle-avoidance
	// reason as BridgeTimeout.
	BuiltinEnabled func(name string) bool

	Context ImageContext

	// Functions holds the script's user-defined functions, keyed by name,
	// wired by the executor before evaluation starts (spec.md §3's
	// FunctionDef, §4.8: "function definitions" are split out alongside
	// sections). evalCall consults this only after the built-in registry
	// misses, so a user function can never shadow a built-in name.
	Functions map[string]*FunctionDef

	shiftsUsed      map[float64]bool
	autoWavelengths map[float64]bool
	usesContinuum   bool

	stateMu   sync.Mutex
	workdir   string
	callDepth int
}

// maxUserFunctionDepth bounds recursive/mutually-recursive user function
// calls. The grammar has no loops or conditionals, so legitimate call
// chains are shallow; this only guards against a script calling itself.
const maxUserFunctionDepth = 64

// NewEvalContext wires a context with sane defaults for any hook the
// caller left nil.
func NewEvalContext(images ImageProvider, params ParameterContext) *EvalContext {
	return &EvalContext{
		Images:          images,
		Params:          params,
		Memo:            NewMemoCache(),
		Progress:        noopBroadcaster{},
		Policy:          NormalizeRebase,
		Functions:       map[string]*FunctionDef{},
		shiftsUsed:      map[float64]bool{},
		autoWavelengths: map[float64]bool{},
	}
}

// AutoWavelengths returns every Ångström offset derived by a2px() during
// this evaluation, sorted ascending (spec.md §4.7).
func (ec *EvalContext) AutoWavelengths() []float64 {
	out := make([]float64, 0, len(ec.autoWavelengths))
	for w := range ec.autoWavelengths {
		out = append(out, w)
	}
	sort.Float64s(out)
	return out
}

// Workdir returns the path most recently set by workdir(), or "" if the
// script never called it (spec.md §4.7's stateful built-in).
func (ec *EvalContext) Workdir() string {
	ec.stateMu.Lock()
	defer ec.stateMu.Unlock()
	return ec.workdir
}

// UsesAutoContinuum reports whether continuum() was called during this
// evaluation (spec.md §4.7).
func (ec *EvalContext) UsesAutoContinuum() bool {
	ec.stateMu.Lock()
	defer ec.stateMu.Unlock()
	return ec.usesContinuum
}

// ShiftsUsed returns every distinct pixel shift the evaluation requested
// from the ImageProvider, sorted ascending (spec.md §6.2's collection
// requirement for reporting which source frames a script actually touched).
func (ec *EvalContext) ShiftsUsed() []float64 {
	out := make([]float64, 0, len(ec.shiftsUsed))
	for s := range ec.shiftsUsed {
		out = append(out, s)
	}
	sort.Float64s(out)
	return out
}

// Eval evaluates an expression against a variable environment, dispatching
// literals, references, operators, and function calls.
func (ec *EvalContext) Eval(ctx context.Context, e Expr, env map[string]Value) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, &CancelledError{}
	}
	switch n := e.(type) {
	case *NumberLiteral:
		return ScalarValue(n.Value), nil

	case *StringLiteral:
		return StringValue(n.Value), nil

	case *Identifier:
		if v, ok := env[n.Name]; ok {
			return v, nil
		}
		if ec.Params != nil {
			if v, ok := ec.Params.Parameter(n.Name); ok {
				return v, nil
			}
		}
		return Value{}, &ReferenceError{Name: n.Name}

	case *UnaryOp:
		v, err := ec.Eval(ctx, n.Operand, env)
		if err != nil {
			return Value{}, err
		}
		return ec.evalUnary(n.Op, v)

	case *BinaryOp:
		left, err := ec.Eval(ctx, n.Left, env)
		if err != nil {
			return Value{}, err
		}
		right, err := ec.Eval(ctx, n.Right, env)
		if err != nil {
			return Value{}, err
		}
		return ec.evalBinary(n.Op, left, right)

	case *FunctionCall:
		return ec.evalCall(ctx, n, env)

	default:
		return Value{}, fmt.Errorf("unhandled expression node %T", e)
	}
}

func (ec *EvalContext) evalUnary(op byte, v Value) (Value, error) {
	switch op {
	case '+':
		return v, nil
	case '-':
		switch v.Kind {
		case KindScalar:
			return ScalarValue(-v.Num), nil
		case KindMono:
			return MonoValue(mapMono(v.Mono, func(f float32) float32 { return -f })), nil
		default:
			return Value{}, &TypeError{Function: "unary -", Param: "operand", Expected: "scalar or mono image", Got: v.Kind.String()}
		}
	default:
		return Value{}, fmt.Errorf("unknown unary operator %q", op)
	}
}

func (ec *EvalContext) evalBinary(op byte, left, right Value) (Value, error) {
	if left.Kind == KindColorized {
		left = MonoValue(left.Color.Mono)
	}
	if right.Kind == KindColorized {
		right = MonoValue(right.Color.Mono)
	}

	switch {
	case left.Kind == KindScalar && right.Kind == KindScalar:
		return ScalarValue(applyOp(op, left.Num, right.Num)), nil

	case left.Kind == KindMono && right.Kind == KindScalar:
		out := mapMono(left.Mono, func(f float32) float32 {
			return float32(applyOp(op, float64(f), right.Num))
		})
		return normalize(MonoValue(out), ec.Policy), nil

	case left.Kind == KindScalar && right.Kind == KindMono:
		out := mapMono(right.Mono, func(f float32) float32 {
			return float32(applyOp(op, left.Num, float64(f)))
		})
		return normalize(MonoValue(out), ec.Policy), nil

	case left.Kind == KindMono && right.Kind == KindMono:
		lw, lh := left.Mono.Width, left.Mono.Height
		rw, rh := right.Mono.Width, right.Mono.Height
		if lw != rw || lh != rh {
			return Value{}, &DimensionError{LeftW: lw, LeftH: lh, RightW: rw, RightH: rh}
		}
		out := NewMonoImage(lw, lh)
		for i := range out.Data {
			out.Data[i] = float32(applyOp(op, float64(left.Mono.Data[i]), float64(right.Mono.Data[i])))
		}
		out.Meta = mergeMeta(left.Mono.Meta, right.Mono.Meta)
		return normalize(MonoValue(out), ec.Policy), nil

	case left.Kind == KindList && right.Kind == KindList:
		return evalListOp(op, left.List, right.List)

	default:
		return Value{}, &TypeError{Function: string(op), Param: "operands", Expected: "scalar or mono image", Got: left.Kind.String() + "/" + right.Kind.String()}
	}
}

// evalListOp implements spec.md §4.6's List/List row: '+' concatenates,
// '-' removes from left every element that also appears in right (setwise
// difference, left's order preserved), anything else is an error.
// Equality for the setwise difference is by canonical textual form for
// scalars/strings and by dimensions+sample hash for images, mirroring
// hashValue's notion of value identity used for memoization.
func evalListOp(op byte, left, right []Value) (Value, error) {
	switch op {
	case '+':
		out := make([]Value, 0, len(left)+len(right))
		out = append(out, left...)
		out = append(out, right...)
		return ListValue(out), nil
	case '-':
		remove := make(map[uint64]bool, len(right))
		for _, v := range right {
			remove[hashValue(v)] = true
		}
		out := make([]Value, 0, len(left))
		for _, v := range left {
			if remove[hashValue(v)] {
				continue
			}
			out = append(out, v)
		}
		return ListValue(out), nil
	default:
		return Value{}, &TypeError{Function: string(op), Param: "operands", Expected: "list supports + and - only", Got: "list/list"}
	}
}

func applyOp(op byte, a, b float64) float64 {
	switch op {
	case '+':
		return a + b
	case '-':
		return a - b
	case '*':
		return a * b
	case '/':
		if b == 0 {
			return 0
		}
		return a / b
	default:
		return 0
	}
}

func mapMono(m *MonoImage, f func(float32) float32) *MonoImage {
	out := NewMonoImage(m.Width, m.Height)
	out.Meta = m.Meta
	for i, v := range m.Data {
		out.Data[i] = f(v)
	}
	return out
}

func mergeMeta(a, b map[CapabilityToken]interface{}) map[CapabilityToken]interface{} {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make(map[CapabilityToken]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// NormalizationPolicy controls how a binary image result's value range is
// adjusted after combination (spec.md §4.6, Open Question resolved in
// DESIGN.md).
type NormalizationPolicy int

const (
	NormalizeRebase NormalizationPolicy = iota
	NormalizeClamp
	NormalizeNone
)

// normalize applies spec.md §4.6's post-binary-operator non-negativity
// rule: compute the output's minimum; if negative, rebase every pixel by
// its absolute value so the floor becomes zero. NormalizeRebase is the
// spec's documented default. NormalizeClamp (DESIGN.md Open Question
// resolution 2) instead clips negative pixels to zero, discarding the
// below-zero signal rather than preserving its relative shape; it never
// touches the upper bound, since clamping an upper bound is explicitly not
// a generic-operator responsibility. NormalizeNone disables the rule
// entirely for callers who need the raw arithmetic result.
func normalize(v Value, policy NormalizationPolicy) Value {
	if v.Kind != KindMono || policy == NormalizeNone {
		return v
	}
	m := v.Mono
	switch policy {
	case NormalizeClamp:
		for i, f := range m.Data {
			if f < 0 {
				m.Data[i] = 0
			}
		}
	case NormalizeRebase:
		min := float32(math.Inf(1))
		for _, f := range m.Data {
			if f < min {
				min = f
			}
		}
		if min < 0 {
			shift := -min
			for i, f := range m.Data {
				m.Data[i] = f + shift
			}
		}
	}
	return v
}

// evalCall dispatches a function call to a built-in implementation first,
// falling back to the script's own user-defined functions (wired by the
// executor into ec.Functions before evaluation starts) so a user function
// can never shadow a built-in name.
func (ec *EvalContext) evalCall(ctx context.Context, f *FunctionCall, env map[string]Value) (Value, error) {
	name := strings.ToLower(f.Name)
	if impl, ok := builtinRegistry[name]; ok {
		if ec.BuiltinEnabled != nil && !ec.BuiltinEnabled(name) {
			return Value{}, &DisabledBuiltinError{Name: f.Name}
		}
		return impl(ctx, ec, f, env)
	}
	if fn, ok := ec.Functions[f.Name]; ok {
		return ec.evalUserFunction(ctx, fn, f, env)
	}
	return Value{}, &ReferenceError{Name: f.Name}
}

// evalUserFunction invokes a script-defined function: positional and named
// arguments are evaluated in the caller's scope, bound to the function's
// parameter names in a fresh scope layered over the caller's (so a
// function body can still see reserved names and outer tmp/outputs
// variables, matching the grammar's lack of an explicit closure/import
// statement), and the body's assignments run in order. The value of the
// body's last assignment is the call's result — the grammar has no
// explicit return keyword, so "last statement" is the only sensible
// convention for a section-shaped body (spec.md §3's FunctionDef).
func (ec *EvalContext) evalUserFunction(ctx context.Context, fn *FunctionDef, call *FunctionCall, callerEnv map[string]Value) (Value, error) {
	ec.stateMu.Lock()
	ec.callDepth++
	depth := ec.callDepth
	ec.stateMu.Unlock()
	defer func() {
		ec.stateMu.Lock()
		ec.callDepth--
		ec.stateMu.Unlock()
	}()
	if depth > maxUserFunctionDepth {
		return Value{}, &ContextError{Requires: "call depth within limit (possible recursive function " + fn.Name + ")"}
	}

	if len(call.Args) > len(fn.Params) {
		return Value{}, &ArityError{Function: fn.Name, Expected: itoa(len(fn.Params)), Got: len(call.Args)}
	}

	scope := make(map[string]Value, len(callerEnv)+len(fn.Params))
	for k, v := range callerEnv {
		scope[k] = v
	}
	bound := make(map[string]bool, len(fn.Params))
	for i, p := range fn.Params {
		a, ok := argAt(call, p, i)
		if !ok {
			continue
		}
		v, err := ec.Eval(ctx, a.Expr, callerEnv)
		if err != nil {
			return Value{}, err
		}
		scope[p] = v
		bound[p] = true
	}
	for _, p := range fn.Params {
		if !bound[p] {
			return Value{}, &ArityError{Function: fn.Name, Expected: itoa(len(fn.Params)), Got: len(bound)}
		}
	}

	if fn.Body == nil || len(fn.Body.Assignments) == 0 {
		return Unit, nil
	}
	var result Value
	for _, a := range fn.Body.Assignments {
		v, err := ec.Eval(ctx, a.Expr, scope)
		if err != nil {
			return Value{}, err
		}
		if a.Name != "" {
			scope[a.Name] = v
		}
		result = v
	}
	return result, nil
}

// mapParallel runs fn(i) for i in [0, n) concurrently, bounded by
// ec.MaxWorkers, and returns the results in index order. This is the fan-out
// mechanism behind every built-in flagged hasParallelFunctionArguments in
// builtin_meta.go (spec.md §4.4/§4.7): the scheduler places such a call's
// node on its own sequential level slot (it must not race other nodes
// competing for the same worker budget), but internally the call is free
// to spread its own list of independent sub-computations across workers.
func (ec *EvalContext) mapParallel(ctx context.Context, n int, fn func(ctx context.Context, i int) (Value, error)) ([]Value, error) {
	out := make([]Value, n)
	g, gctx := errgroup.WithContext(ctx)
	if ec.MaxWorkers > 0 {
		g.SetLimit(ec.MaxWorkers)
	}
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			v, err := fn(gctx, i)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
