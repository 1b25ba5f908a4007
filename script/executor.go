package script

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Mode selects which single/batch sections participate in an execution
// (spec.md §4.8 step 2). Sections named tmp/outputs are always included
// regardless of mode; [params] is discarded at this layer.
type Mode int

const (
	ModeSingle Mode = iota
	ModeBatch
)

// InvalidExpression records one assignment that failed to evaluate, or was
// skipped because an upstream dependency failed (spec.md §4.8 step 6,
// §7). Text preserves the original right-hand-side source, not a
// re-rendered canonical form.
type InvalidExpression struct {
	Label   string
	Text    string
	Err     error
	Skipped bool
}

// ScriptResult is everything Execute produces (spec.md §6.3).
type ScriptResult struct {
	RunID             string
	Images            map[string]Value
	Values            map[string]Value
	Errors            []InvalidExpression
	VariableShifts    []float64
	ExpressionShifts  []float64
	AutoWavelengths   []float64
	UsesAutoContinuum bool
	Shadowed          map[string][]string
}

// Executor drives one or more scripts through the full pipeline: include
// resolution, tokenization, parsing, dependency analysis, DAG leveling, and
// evaluation (spec.md §4.8).
type Executor struct {
	Log     *zap.Logger
	Images  ImageProvider
	Params  ParameterContext
	Context ImageContext
	Bridge  Bridge
	Config  ExecutorConfig
}

// ExecutorConfig mirrors the subset of internal/config.EngineConfig the
// evaluator needs, kept separate so script stays independent of the config
// package's YAML/file concerns.
type ExecutorConfig struct {
	MaxWorkers int
	Policy     NormalizationPolicy

	// BridgeTimeout bounds each external-script call; zero leaves it to
	// the run's own ctx deadline. Mirrors config.EngineConfig.BridgeTimeout.
	BridgeTimeout time.Duration

	// BuiltinEnabled gates which built-ins evalCall may dispatch to; nil
	// enables everything. Mirrors config.EngineConfig.BuiltinEnabled.
	BuiltinEnabled func(name string) bool
}

// NewExecutor builds an Executor with a no-op logger; callers normally
// override Log with internal/obslog's executor-category logger.
func NewExecutor(images ImageProvider, params ParameterContext) *Executor {
	return &Executor{
		Log:    zap.NewNop(),
		Images: images,
		Params: params,
		Config: ExecutorConfig{Policy: NormalizeRebase},
	}
}

// selectedSection pairs an already-parsed Section with the decision of
// whether it counts as an "outputs" section for result collection and
// shift-snapshot purposes.
type selectedSection struct {
	kind    SectionKind
	isOut   bool
	section *Section
}

// Execute resolves includes, tokenizes, parses, schedules, and evaluates
// src for the requested mode, returning every reachable assignment's final
// value plus the shift/wavelength bookkeeping spec.md §4.8 requires. The
// returned error is always nil: once ctx is done, every node evaluated
// afterwards fails with a CancelledError recorded in Errors, and the partial
// result is still returned. Per spec.md §7, a
// per-node evaluation failure never aborts the run: it is recorded in
// Errors and the node's dependents are marked Skipped.
func (ex *Executor) Execute(ctx context.Context, src string, baseDir string, fr FileReader, mode Mode) (*ScriptResult, error) {
	runID := uuid.NewString()
	log := ex.Log.With(zap.String("run_id", runID))
	log.Info("execution starting")

	result := &ScriptResult{
		RunID:    runID,
		Images:   map[string]Value{},
		Values:   map[string]Value{},
		Shadowed: map[string][]string{},
	}

	resolved := src
	if fr != nil {
		var err error
		resolved, err = ResolveIncludes(src, baseDir, fr)
		if err != nil {
			log.Error("include resolution failed", zap.Error(err))
			result.Errors = append(result.Errors, InvalidExpression{Err: err})
			return result, nil
		}
	}

	tokens := Tokenize(resolved)
	scriptAST, perrs := ParseScript(tokens)
	for _, pe := range perrs {
		result.Errors = append(result.Errors, InvalidExpression{Err: pe})
	}

	hasOutputsSection := false
	for _, s := range scriptAST.Sections {
		if s.Kind == SectionOutputs {
			hasOutputsSection = true
			break
		}
	}

	var selected []selectedSection
	for _, s := range scriptAST.Sections {
		switch s.Kind {
		case SectionParams, SectionFunctionBody:
			continue
		case SectionTmp:
			selected = append(selected, selectedSection{kind: s.Kind, isOut: false, section: s})
		case SectionOutputs:
			selected = append(selected, selectedSection{kind: s.Kind, isOut: true, section: s})
		case SectionAnonymous:
			selected = append(selected, selectedSection{kind: s.Kind, isOut: !hasOutputsSection, section: s})
		case SectionSingle:
			if mode == ModeSingle {
				selected = append(selected, selectedSection{kind: s.Kind, isOut: false, section: s})
			}
		case SectionBatch:
			if mode == ModeBatch {
				selected = append(selected, selectedSection{kind: s.Kind, isOut: false, section: s})
			}
		}
	}

	var combined []*Assignment
	outputName := map[string]bool{}
	for _, sel := range selected {
		kept, shadowed := DedupeAssignments(sel.section.Assignments)
		if len(shadowed) > 0 {
			result.Shadowed[sel.section.Name] = append(result.Shadowed[sel.section.Name], shadowed...)
		}
		combined = append(combined, kept...)
		if sel.isOut {
			for _, a := range kept {
				outputName[assignmentKey(a)] = true
			}
		}
	}
	combined, crossShadowed := DedupeAssignments(combined)
	if len(crossShadowed) > 0 {
		result.Shadowed[""] = append(result.Shadowed[""], crossShadowed...)
		for _, name := range crossShadowed {
			log.Warn("assignment shadowed by a later section", zap.String("name", name))
		}
	}

	ec := NewEvalContext(ex.Images, ex.Params)
	ec.Bridge = ex.Bridge
	ec.Context = ex.Context
	ec.Policy = ex.Config.Policy
	ec.MaxWorkers = ex.Config.MaxWorkers
	ec.BridgeTimeout = ex.Config.BridgeTimeout
	ec.BuiltinEnabled = ex.Config.BuiltinEnabled
	ec.Progress = noopBroadcaster{}
	ec.Functions = map[string]*FunctionDef{}
	for _, fn := range scriptAST.Functions {
		ec.Functions[fn.Name] = fn
	}

	env := map[string]Value{}
	seedReservedVars(env, ex.Context)

	dag := BuildDAG(combined)
	plans, err := dag.Plan()
	if err != nil {
		log.Error("scheduling failed", zap.Error(err))
		result.Errors = append(result.Errors, InvalidExpression{Err: err})
		return result, nil
	}

	var mu sync.Mutex
	failed := map[string]bool{}
	var anonOutputs []Value
	var variableShifts []float64
	snapshotTaken := false

	for levelIdx, plan := range plans {
		ex.logLevel(log, levelIdx, len(plans), plan)
		ec.Progress.OnLevelStart(levelIdx, len(plans))

		if !snapshotTaken && levelHasOutput(plan, dag, outputName) {
			variableShifts = ec.ShiftsUsed()
			snapshotTaken = true
		}

		runOne := func(rctx context.Context, name string) {
			node := dag.Nodes[name]
			var upstream string
			mu.Lock()
			for dep := range node.Deps.Dependencies {
				if failed[dep] {
					upstream = dep
					break
				}
			}
			mu.Unlock()
			if upstream != "" {
				mu.Lock()
				failed[name] = true
				result.Errors = append(result.Errors, InvalidExpression{
					Label: node.Assignment.Name, Text: node.Assignment.Text, Skipped: true,
					Err: &ReferenceError{Name: upstream},
				})
				mu.Unlock()
				return
			}

			v, evalErr := ec.evalNode(rctx, node, env)
			if evalErr != nil {
				mu.Lock()
				failed[name] = true
				result.Errors = append(result.Errors, InvalidExpression{
					Label: node.Assignment.Name, Text: node.Assignment.Text, Err: evalErr,
				})
				mu.Unlock()
				return
			}
			mu.Lock()
			if node.Assignment.Name != "" {
				env[node.Assignment.Name] = v
			}
			if node.Assignment.Synthesized {
				anonOutputs = append(anonOutputs, v)
			}
			mu.Unlock()
			ec.Progress.OnNodeDone(name)
		}

		var wg sync.WaitGroup
		sem := make(chan struct{}, workerLimit(ec.MaxWorkers, len(plan.Parallel)))
		for _, name := range plan.Parallel {
			name := name
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				runOne(ctx, name)
			}()
		}
		wg.Wait()

		for _, name := range plan.Sequential {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				result.Errors = append(result.Errors, InvalidExpression{Label: name, Err: &CancelledError{}})
				mu.Unlock()
				continue
			}
			runOne(ctx, name)
		}
	}

	if !snapshotTaken {
		variableShifts = ec.ShiftsUsed()
	}

	collectResult(result, env, anonOutputs, outputName, combined)

	result.VariableShifts = variableShifts
	finalShifts := ec.ShiftsUsed()
	result.ExpressionShifts = setDifference(finalShifts, variableShifts)
	result.AutoWavelengths = ec.AutoWavelengths()
	result.UsesAutoContinuum = ec.UsesAutoContinuum()

	if combined := combineNodeErrors(result.Errors); combined != nil {
		log.Warn("execution completed with node errors", zap.Error(combined))
	}
	log.Info("execution finished", zap.Int("values", len(env)), zap.Int("errors", len(result.Errors)))
	return result, nil
}

// combineNodeErrors folds every non-skipped node failure into a single
// multierr-wrapped error for a one-line log summary; result.Errors remains
// the per-node detail callers inspect, this is only for log aggregation.
func combineNodeErrors(errs []InvalidExpression) error {
	var combined error
	for _, ie := range errs {
		if ie.Skipped {
			continue
		}
		combined = multierr.Append(combined, ie.Err)
	}
	return combined
}

func assignmentKey(a *Assignment) string {
	if a.Name != "" {
		return a.Name
	}
	return a.Text
}

func workerLimit(maxWorkers, n int) int {
	if n <= 0 {
		n = 1
	}
	if maxWorkers > 0 && maxWorkers < n {
		return maxWorkers
	}
	return n
}

func levelHasOutput(plan LevelPlan, dag *DAG, outputName map[string]bool) bool {
	for _, name := range plan.Parallel {
		if nodeIsOutput(dag.Nodes[name], outputName) {
			return true
		}
	}
	for _, name := range plan.Sequential {
		if nodeIsOutput(dag.Nodes[name], outputName) {
			return true
		}
	}
	return false
}

func nodeIsOutput(n *Node, outputName map[string]bool) bool {
	return outputName[assignmentKey(n.Assignment)]
}

func setDifference(after, before []float64) []float64 {
	seen := map[float64]bool{}
	for _, v := range before {
		seen[v] = true
	}
	var out []float64
	for _, v := range after {
		if !seen[v] {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

// collectResult classifies every evaluated assignment's value into the
// image or scalar/string result maps (spec.md §4.8 step 7): a List<Image>
// is flattened into label_0, label_1, ... entries. An anonymous expression
// is reported only once, as output_N — its synthesized env key (used
// internally so the DAG has something to key the node on) is never a name
// the script itself wrote, so it is excluded from the named-value pass.
func collectResult(result *ScriptResult, env map[string]Value, anonOutputs []Value, outputName map[string]bool, combined []*Assignment) {
	synthesized := map[string]bool{}
	for _, a := range combined {
		if a.Synthesized {
			synthesized[a.Name] = true
		}
	}
	for name, v := range env {
		if synthesized[name] {
			continue
		}
		placeValue(result, name, v)
	}
	for i, v := range anonOutputs {
		placeValue(result, "output_"+itoa(i), v)
	}
	_ = outputName
}

func placeValue(result *ScriptResult, label string, v Value) {
	switch v.Kind {
	case KindMono, KindRGB, KindColorized:
		result.Images[label] = v
	case KindList:
		allImages := len(v.List) > 0
		for _, item := range v.List {
			if !item.IsImage() {
				allImages = false
				break
			}
		}
		if allImages {
			for i, item := range v.List {
				result.Images[label+"_"+itoa(i)] = item
			}
			return
		}
		result.Values[label] = v
	default:
		result.Values[label] = v
	}
}

// seedReservedVars binds spec.md §4.8 step 3's reserved scalar names into
// env from the supplied ImageContext, before any assignment evaluates. A
// nil context, or a name the context doesn't know, simply leaves that
// reserved name unbound; built-ins that need it raise ContextError lazily.
func seedReservedVars(env map[string]Value, imgCtx ImageContext) {
	if imgCtx == nil {
		return
	}
	for _, name := range ReservedNames {
		if v, ok := imgCtx.Reserved(name); ok {
			env[name] = ScalarValue(v)
		}
	}
}

func (ex *Executor) logLevel(log *zap.Logger, idx, total int, plan LevelPlan) {
	log.Debug("scheduling level",
		zap.Int("level", idx),
		zap.Int("total_levels", total),
		zap.Strings("parallel", plan.Parallel),
		zap.Strings("sequential", plan.Sequential),
	)
}

// evalNode evaluates one DAG node's expression, memoizing the result when
// it is safe to do so (spec.md §9): an expression is memoized by the
// structural hash of its AST combined with the hashes of every dependency
// value already resolved in env, and only when it contains no stateful or
// non-concurrent call.
func (ec *EvalContext) evalNode(ctx context.Context, node *Node, env map[string]Value) (Value, error) {
	if node.Deps.HasStatefulFunction || node.Deps.HasNonConcurrentFunction {
		return ec.Eval(ctx, node.Assignment.Expr, env)
	}

	depHashes := make([]uint64, 0, len(node.Deps.Dependencies))
	for dep := range node.Deps.Dependencies {
		if v, ok := env[dep]; ok {
			depHashes = append(depHashes, hashValue(v))
		}
	}
	key := HashAssignments(node.Assignment.Expr, depHashes)
	return ec.Memo.GetOrCompute(key, func() (Value, error) {
		return ec.Eval(ctx, node.Assignment.Expr, env)
	})
}

// hashValue produces a cheap content hash for a Value so it can feed a memo
// key. A mono image is hashed by its dimensions plus a strided sample of
// about eight pixels (every len/8-th) rather than every pixel, and an RGB
// image by its dimensions only, trading a small chance of collision
// on pathological inputs for speed on the common case.
func hashValue(v Value) uint64 {
	switch v.Kind {
	case KindScalar:
		return HashExpr(&NumberLiteral{Value: v.Num})
	case KindString:
		return HashExpr(&StringLiteral{Value: v.Str})
	case KindMono:
		return hashMonoSample(v.Mono)
	case KindRGB:
		return hashMonoDims(v.RGB.Width, v.RGB.Height)
	case KindColorized:
		return hashMonoSample(v.Color.Mono) ^ HashExpr(&StringLiteral{Value: v.Color.Curve.key()})
	default:
		return 0
	}
}

func hashMonoDims(w, h int) uint64 {
	return HashExpr(&NumberLiteral{Value: float64(w)*1e6 + float64(h)})
}

func hashMonoSample(m *MonoImage) uint64 {
	h := hashMonoDims(m.Width, m.Height)
	n := len(m.Data)
	if n == 0 {
		return h
	}
	step := n / 8
	if step == 0 {
		step = 1
	}
	for i := 0; i < n; i += step {
		h ^= HashExpr(&NumberLiteral{Value: float64(m.Data[i])})
	}
	return h
}
