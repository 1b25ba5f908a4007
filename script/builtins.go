package script

import (
	"context"
	"math"
	"sort"
)

// builtinFunc implements one built-in's call semantics: evaluate whatever
// arguments it needs (in whichever order/concurrency fits the function),
// then produce a result Value or an error.
type builtinFunc func(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error)

// builtinRegistry is keyed by lowercase name; evalCall lowercases the call
// site's name before looking it up (spec.md §4.7: built-in dispatch is
// case-insensitive).
var builtinRegistry = map[string]builtinFunc{
	"img":            biImg,
	"range":          biRange,
	"avg":            biAvg,
	"min":            biMin,
	"max":            biMax,
	"median":         biMedian,
	"avg2":           biAvg2,
	"median2":        biMedian2,
	"img_avg":        biImgAvg,
	"img_median":     biImgMedian,
	"img_min":        biImgMin,
	"img_max":        biImgMax,
	"invert":         biInvert,
	"asinh_stretch":  biAsinhStretch,
	"linear_stretch": biLinearStretch,
	"clahe":          biClahe,
	"adjust_contrast": biAdjustContrast,
	"autocrop":       biAutocrop,
	"fix_banding":    biFixBanding,
	"colorize":       biColorize,
	"remove_bg":      biRemoveBg,
	"continuum":      biContinuum,
	"a2px":           biA2px,
	"anim":           biAnim,
	"script":         biScript,
	"workdir":        biWorkdir,
}

func argByPos(call *FunctionCall, i int) (Arg, bool) {
	pos := 0
	for _, a := range call.Args {
		if a.Name != "" {
			continue
		}
		if pos == i {
			return a, true
		}
		pos++
	}
	return Arg{}, false
}

func argByName(call *FunctionCall, name string) (Arg, bool) {
	for _, a := range call.Args {
		if a.Name == name {
			return a, true
		}
	}
	return Arg{}, false
}

// argAt resolves a single argument by name first, falling back to position,
// matching how evalNamedOrPositional treats a name/position pair.
func argAt(call *FunctionCall, name string, pos int) (Arg, bool) {
	if a, ok := argByName(call, name); ok {
		return a, true
	}
	return argByPos(call, pos)
}

func evalScalarAt(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value, name string, pos int, def float64) (float64, error) {
	a, ok := argAt(call, name, pos)
	if !ok {
		return def, nil
	}
	v, err := ec.Eval(ctx, a.Expr, env)
	if err != nil {
		return 0, err
	}
	if v.Kind != KindScalar {
		return 0, &TypeError{Function: call.Name, Param: name, Expected: "scalar", Got: v.Kind.String()}
	}
	return v.Num, nil
}

func evalStringAt(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value, name string, pos int) (string, bool, error) {
	a, ok := argAt(call, name, pos)
	if !ok {
		return "", false, nil
	}
	v, err := ec.Eval(ctx, a.Expr, env)
	if err != nil {
		return "", false, err
	}
	if v.Kind != KindString {
		return "", false, &TypeError{Function: call.Name, Param: name, Expected: "string", Got: v.Kind.String()}
	}
	return v.Str, true, nil
}

// evalOptionalStringAt resolves a string argument by name first, then by
// position, but treats a non-string value found at the positional slot as
// "not supplied" rather than a type error: colorize() accepts either a
// profile-name string there or the first of its explicit numeric LUT
// arguments (spec.md §4.7), and the two forms must not be confused for an
// error. A named argument that isn't a string is still a genuine mistake,
// since there's no positional ambiguity to excuse it.
func evalOptionalStringAt(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value, name string, pos int) (string, bool, error) {
	if a, ok := argByName(call, name); ok {
		v, err := ec.Eval(ctx, a.Expr, env)
		if err != nil {
			return "", false, err
		}
		if v.Kind != KindString {
			return "", false, &TypeError{Function: call.Name, Param: name, Expected: "string", Got: v.Kind.String()}
		}
		return v.Str, true, nil
	}
	a, ok := argByPos(call, pos)
	if !ok {
		return "", false, nil
	}
	v, err := ec.Eval(ctx, a.Expr, env)
	if err != nil {
		return "", false, err
	}
	if v.Kind != KindString {
		return "", false, nil
	}
	return v.Str, true, nil
}

func evalNamedOrPositional(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value, names []string, defaults []float64) ([]float64, error) {
	out := append([]float64(nil), defaults...)
	for i, name := range names {
		v, err := evalScalarAt(ctx, ec, call, env, name, i, defaults[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// biImg resolves `img(shift)` to the source frame registered for pixel
// shift x, recording the shift in the run's used-shift set (spec.md §6.2).
func biImg(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	a, ok := argByPos(call, 0)
	if !ok {
		return Value{}, &ArityError{Function: "img", Expected: "1", Got: 0}
	}
	v, err := ec.Eval(ctx, a.Expr, env)
	if err != nil {
		return Value{}, err
	}
	if v.Kind != KindScalar {
		return Value{}, &TypeError{Function: "img", Param: "0", Expected: "scalar", Got: v.Kind.String()}
	}
	return ec.imageForShift(ctx, v.Num)
}

func (ec *EvalContext) imageForShift(ctx context.Context, shift float64) (Value, error) {
	if ec.Images == nil {
		return Value{}, &ContextError{Requires: "image provider"}
	}
	ec.stateMu.Lock()
	ec.shiftsUsed[shift] = true
	ec.stateMu.Unlock()
	img, err := ec.Images.ImageForShift(ctx, shift)
	if err != nil || img == nil {
		return Value{}, &MissingImageError{Shift: shift}
	}
	return MonoValue(img), nil
}

// biRange builds a list of images by calling img(v) for every v in the
// inclusive, stepped range [from, to] (spec.md §4.7/§8: range(-2, 2, 1)
// yields five frames). A from > to pair is normalized by swapping, so the
// direction of the step never matters.
func biRange(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	vals, err := evalNamedOrPositional(ctx, ec, call, env, []string{"from", "to", "step"}, []float64{0, 0, 1})
	if err != nil {
		return Value{}, err
	}
	from, to, step := vals[0], vals[1], math.Abs(vals[2])
	if step == 0 {
		return Value{}, &TypeError{Function: "range", Param: "step", Expected: "nonzero", Got: "0"}
	}
	if from > to {
		from, to = to, from
	}
	var shifts []float64
	for v := from; v <= to+1e-9; v += step {
		shifts = append(shifts, v)
	}
	// range() is declared parallel-list-capable (builtin_meta.go): every
	// shift's frame is independent, so fetch them concurrently instead of
	// one at a time.
	out, err := ec.mapParallel(ctx, len(shifts), func(gctx context.Context, i int) (Value, error) {
		return ec.imageForShift(gctx, shifts[i])
	})
	if err != nil {
		return Value{}, err
	}
	return ListValue(out), nil
}

// evalAggInputs gathers the samples an aggregation built-in reduces: a
// single list argument is flattened, otherwise every argument is a sample
// in its own right (spec.md §4.7: avg/min/max/median accept either form).
func evalAggInputs(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) ([]Value, error) {
	return evalAggInputsFrom(ctx, ec, call.Args, call.Name, env)
}

func biAvg(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	vals, err := evalAggInputs(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	return aggregate(call.Name, vals, meanOf)
}

func biMin(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	vals, err := evalAggInputs(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	return aggregate(call.Name, vals, func(samples []float64) float64 {
		m := samples[0]
		for _, s := range samples[1:] {
			if s < m {
				m = s
			}
		}
		return m
	})
}

func biMax(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	vals, err := evalAggInputs(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	return aggregate(call.Name, vals, func(samples []float64) float64 {
		m := samples[0]
		for _, s := range samples[1:] {
			if s > m {
				m = s
			}
		}
		return m
	})
}

// biMedian aggregates elementwise via the median; for an even sample count
// it averages the two middle order statistics (DESIGN.md Open Question
// resolution).
func biMedian(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	vals, err := evalAggInputs(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	return aggregate(call.Name, vals, medianOf)
}

func meanOf(samples []float64) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

func medianOf(samples []float64) float64 {
	s := append([]float64(nil), samples...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// clipSamples drops every sample more than sigma standard deviations from
// the pre-clip mean. Ties in distance-to-mean (can only arise from
// floating-point equality) are broken by lower sample index, matching the
// deterministic order in which arguments were given.
func clipSamples(samples []float64, sigma float64) []float64 {
	if len(samples) == 0 {
		return samples
	}
	mean := meanOf(samples)
	variance := 0.0
	for _, s := range samples {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return samples
	}

	type scored struct {
		v    float64
		dist float64
		idx  int
	}
	kept := make([]scored, 0, len(samples))
	for i, s := range samples {
		kept = append(kept, scored{v: s, dist: math.Abs(s - mean), idx: i})
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].dist != kept[j].dist {
			return kept[i].dist < kept[j].dist
		}
		return kept[i].idx < kept[j].idx
	})

	out := make([]float64, 0, len(samples))
	for _, k := range kept {
		if k.dist > sigma*stddev {
			continue
		}
		out = append(out, k.v)
	}
	if len(out) == 0 {
		return []float64{mean}
	}
	return out
}

func sigmaArg(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (float64, []Arg, error) {
	sigma := 2.0
	var dataArgs []Arg
	for _, a := range call.Args {
		if a.Name == "sigma" {
			v, err := ec.Eval(ctx, a.Expr, env)
			if err != nil {
				return 0, nil, err
			}
			if v.Kind != KindScalar {
				return 0, nil, &TypeError{Function: call.Name, Param: "sigma", Expected: "scalar", Got: v.Kind.String()}
			}
			sigma = v.Num
			continue
		}
		dataArgs = append(dataArgs, a)
	}
	return sigma, dataArgs, nil
}

// biAvg2 is avg()'s sigma-clipped counterpart: samples beyond `sigma`
// standard deviations of the raw mean are discarded before averaging
// (spec.md §4.7, default sigma 2.0).
func biAvg2(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	sigma, dataArgs, err := sigmaArg(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	vals, err := evalAggInputsFrom(ctx, ec, dataArgs, call.Name, env)
	if err != nil {
		return Value{}, err
	}
	return aggregate(call.Name, vals, func(samples []float64) float64 {
		return meanOf(clipSamples(samples, sigma))
	})
}

// biMedian2 is median()'s sigma-clipped counterpart.
func biMedian2(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	sigma, dataArgs, err := sigmaArg(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	vals, err := evalAggInputsFrom(ctx, ec, dataArgs, call.Name, env)
	if err != nil {
		return Value{}, err
	}
	return aggregate(call.Name, vals, func(samples []float64) float64 {
		return medianOf(clipSamples(samples, sigma))
	})
}

// evalAggInputsFrom gathers an aggregation built-in's samples. A single
// positional list argument is flattened (already-resolved Values, nothing
// left to fan out); a variadic arg list is evaluated concurrently since
// these built-ins are all declared parallel-list-capable (builtin_meta.go)
// and each argument is an independent sub-computation (commonly its own
// img(shift) call).
func evalAggInputsFrom(ctx context.Context, ec *EvalContext, args []Arg, fnName string, env map[string]Value) ([]Value, error) {
	if len(args) == 1 && args[0].Name == "" {
		v, err := ec.Eval(ctx, args[0].Expr, env)
		if err != nil {
			return nil, err
		}
		if v.Kind == KindList {
			return v.List, nil
		}
		return []Value{v}, nil
	}
	if len(args) == 0 {
		return nil, &ArityError{Function: fnName, Expected: "at least 1", Got: 0}
	}
	return ec.mapParallel(ctx, len(args), func(gctx context.Context, i int) (Value, error) {
		return ec.Eval(gctx, args[i].Expr, env)
	})
}

// aggregate applies reduce elementwise across a mix of scalar and
// equal-sized mono image arguments, returning a scalar if every argument
// was a scalar and a mono image otherwise.
func aggregate(fnName string, vals []Value, reduce func([]float64) float64) (Value, error) {
	if len(vals) == 0 {
		return Value{}, &ArityError{Function: fnName, Expected: "at least 1", Got: 0}
	}
	allScalar := true
	var w, h int
	for _, v := range vals {
		switch v.Kind {
		case KindScalar:
		case KindMono:
			allScalar = false
			if w == 0 {
				w, h = v.Mono.Width, v.Mono.Height
			} else if v.Mono.Width != w || v.Mono.Height != h {
				return Value{}, &DimensionError{LeftW: w, LeftH: h, RightW: v.Mono.Width, RightH: v.Mono.Height}
			}
		default:
			return Value{}, &TypeError{Function: fnName, Param: "args", Expected: "scalar or mono image", Got: v.Kind.String()}
		}
	}
	if allScalar {
		samples := make([]float64, len(vals))
		for i, v := range vals {
			samples[i] = v.Num
		}
		return ScalarValue(reduce(samples)), nil
	}
	out := NewMonoImage(w, h)
	samples := make([]float64, len(vals))
	for p := 0; p < w*h; p++ {
		for i, v := range vals {
			if v.Kind == KindScalar {
				samples[i] = v.Num
			} else {
				samples[i] = float64(v.Mono.Data[p])
			}
		}
		out.Data[p] = float32(reduce(samples))
	}
	return MonoValue(out), nil
}

// imageStat reduces a single mono image's pixel data to one scalar, or maps
// that reduction across a list of images (spec.md §4.7: img_avg, img_median,
// img_min, img_max accept either a single image or a list).
// imageStat reduces v (or every element of v if it is a list) via reduce.
// The list branch fans out across ec's worker bound since img_avg/img_min/
// img_max/img_median are all declared parallel-list-capable
// (builtin_meta.go) and each element's reduction is independent.
func imageStat(ctx context.Context, ec *EvalContext, fnName string, v Value, reduce func([]float32) float64) (Value, error) {
	switch v.Kind {
	case KindMono:
		return ScalarValue(reduce(v.Mono.Data)), nil
	case KindList:
		out, err := ec.mapParallel(ctx, len(v.List), func(gctx context.Context, i int) (Value, error) {
			return imageStat(gctx, ec, fnName, v.List[i], reduce)
		})
		if err != nil {
			return Value{}, err
		}
		return ListValue(out), nil
	default:
		return Value{}, &TypeError{Function: fnName, Param: "0", Expected: "mono image or list of mono images", Got: v.Kind.String()}
	}
}

func evalImagePositional(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	a, ok := argByPos(call, 0)
	if !ok {
		return Value{}, &ArityError{Function: call.Name, Expected: "at least 1", Got: 0}
	}
	return ec.Eval(ctx, a.Expr, env)
}

func biImgAvg(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	return imageStat(ctx, ec, call.Name, v, func(data []float32) float64 {
		sum := 0.0
		for _, f := range data {
			sum += float64(f)
		}
		return sum / float64(len(data))
	})
}

func biImgMedian(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	return imageStat(ctx, ec, call.Name, v, func(data []float32) float64 {
		samples := make([]float64, len(data))
		for i, f := range data {
			samples[i] = float64(f)
		}
		return medianOf(samples)
	})
}

func biImgMin(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	return imageStat(ctx, ec, call.Name, v, func(data []float32) float64 { return float64(minFloat32(data)) })
}

func biImgMax(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	return imageStat(ctx, ec, call.Name, v, func(data []float32) float64 { return float64(maxFloat32(data)) })
}

func minFloat32(data []float32) float32 {
	m := data[0]
	for _, f := range data[1:] {
		if f < m {
			m = f
		}
	}
	return m
}

func maxFloat32(data []float32) float32 {
	m := data[0]
	for _, f := range data[1:] {
		if f > m {
			m = f
		}
	}
	return m
}

// fanoutMono applies fn to a single mono image, or maps it element-wise
// over a list of mono images (spec.md §4.7: every pointwise built-in that
// takes an image accepts a list of images in its place). Fan-out here runs
// sequentially; only the aggregation/stat built-ins in
// script/builtin_meta.go are flagged for the scheduler's concurrent list
// execution.
func fanoutMono(fnName string, v Value, fn func(*MonoImage) (Value, error)) (Value, error) {
	switch v.Kind {
	case KindMono:
		return fn(v.Mono)
	case KindColorized:
		return fn(v.Color.Mono)
	case KindList:
		out := make([]Value, len(v.List))
		for i, item := range v.List {
			r, err := fanoutMono(fnName, item, fn)
			if err != nil {
				return Value{}, err
			}
			out[i] = r
		}
		return ListValue(out), nil
	default:
		return Value{}, &TypeError{Function: fnName, Param: "0", Expected: "mono image or list of mono images", Got: v.Kind.String()}
	}
}

func biInvert(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	return fanoutMono(call.Name, v, func(m *MonoImage) (Value, error) {
		max := maxFloat32(m.Data)
		return MonoValue(mapMono(m, func(f float32) float32 { return max - f })), nil
	})
}

// biAsinhStretch applies an inverse hyperbolic sine stretch:
// out = asinh((v - bp) * s), the standard JSol'Ex contrast curve for
// bringing faint prominence/filament detail out of a linear image.
func biAsinhStretch(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	bp, err := evalScalarAt(ctx, ec, call, env, "bp", 1, 0)
	if err != nil {
		return Value{}, err
	}
	s, err := evalScalarAt(ctx, ec, call, env, "s", 2, 1)
	if err != nil {
		return Value{}, err
	}
	return fanoutMono(call.Name, v, func(m *MonoImage) (Value, error) {
		return MonoValue(mapMono(m, func(f float32) float32 {
			return float32(math.Asinh((float64(f) - bp) * s))
		})), nil
	})
}

// biLinearStretch rescales [lo, hi] to [0, 1] linearly, leaving values
// outside the window unclamped (spec.md §4.7: clamping is a caller choice,
// not a linear_stretch responsibility).
func biLinearStretch(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	lo, err := evalScalarAt(ctx, ec, call, env, "lo", 1, 0)
	if err != nil {
		return Value{}, err
	}
	hi, err := evalScalarAt(ctx, ec, call, env, "hi", 2, 1)
	if err != nil {
		return Value{}, err
	}
	if hi == lo {
		return Value{}, &TypeError{Function: "linear_stretch", Param: "hi", Expected: "!= lo", Got: "lo"}
	}
	return fanoutMono(call.Name, v, func(m *MonoImage) (Value, error) {
		return MonoValue(mapMono(m, func(f float32) float32 {
			return float32((float64(f) - lo) / (hi - lo))
		})), nil
	})
}

// biClahe applies a simplified contrast-limited adaptive histogram
// equalization: the image is partitioned into tileSize x tileSize tiles,
// each tile's own histogram (quantized to `bins` buckets) is clipped at a
// fraction `clip` of the tile's pixel count and redistributed, and the
// resulting cumulative distribution remaps that tile's pixels. Unlike a
// reference CLAHE this does not blend neighboring tiles' CDFs, so tile
// boundaries can be visible on very flat input; acceptable for the
// contrast-recovery role this built-in plays in a processing script.
func biClahe(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	total := len(call.Args)
	tileSize, bins, clip := 8.0, 256.0, 0.0
	switch {
	case total == 2:
		clip, err = evalScalarAt(ctx, ec, call, env, "clip", 1, 0.02)
	case total >= 4:
		tileSize, err = evalScalarAt(ctx, ec, call, env, "tileSize", 1, 8)
		if err == nil {
			bins, err = evalScalarAt(ctx, ec, call, env, "bins", 2, 256)
		}
		if err == nil {
			clip, err = evalScalarAt(ctx, ec, call, env, "clip", 3, 0.02)
		}
	default:
		return Value{}, &ArityError{Function: "clahe", Expected: "2 or 4", Got: total}
	}
	if err != nil {
		return Value{}, err
	}
	tile := int(tileSize)
	if tile < 1 {
		tile = 1
	}
	numBins := int(bins)
	if numBins < 2 {
		numBins = 2
	}
	return fanoutMono(call.Name, v, func(m *MonoImage) (Value, error) {
		return MonoValue(claheApply(m, tile, numBins, clip)), nil
	})
}

func claheApply(m *MonoImage, tile, bins int, clip float64) *MonoImage {
	out := NewMonoImage(m.Width, m.Height)
	out.Meta = m.Meta
	lo, hi := float64(minFloat32(m.Data)), float64(maxFloat32(m.Data))
	if hi == lo {
		copy(out.Data, m.Data)
		return out
	}
	span := hi - lo
	for ty := 0; ty < m.Height; ty += tile {
		for tx := 0; tx < m.Width; tx += tile {
			x1, y1 := tx+tile, ty+tile
			if x1 > m.Width {
				x1 = m.Width
			}
			if y1 > m.Height {
				y1 = m.Height
			}
			hist := make([]int, bins)
			n := 0
			for y := ty; y < y1; y++ {
				for x := tx; x < x1; x++ {
					b := int((float64(m.Data[y*m.Width+x]) - lo) / span * float64(bins-1))
					hist[b]++
					n++
				}
			}
			if clip > 0 && n > 0 {
				limit := int(clip * float64(n))
				if limit < 1 {
					limit = 1
				}
				var excess int
				for b, c := range hist {
					if c > limit {
						excess += c - limit
						hist[b] = limit
					}
				}
				if excess > 0 {
					per := excess / bins
					for b := range hist {
						hist[b] += per
					}
				}
			}
			cdf := make([]float64, bins)
			running := 0
			for b, c := range hist {
				running += c
				if n > 0 {
					cdf[b] = float64(running) / float64(n)
				}
			}
			for y := ty; y < y1; y++ {
				for x := tx; x < x1; x++ {
					b := int((float64(m.Data[y*m.Width+x]) - lo) / span * float64(bins-1))
					out.Data[y*m.Width+x] = float32(lo + cdf[b]*span)
				}
			}
		}
	}
	return out
}

// biAdjustContrast clips to [lo, hi] and rescales to the full [0, 255]
// range a conventional 8-bit contrast window expects.
func biAdjustContrast(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	lo, err := evalScalarAt(ctx, ec, call, env, "min", 1, 0)
	if err != nil {
		return Value{}, err
	}
	hi, err := evalScalarAt(ctx, ec, call, env, "max", 2, 255)
	if err != nil {
		return Value{}, err
	}
	if hi == lo {
		return Value{}, &TypeError{Function: "adjust_contrast", Param: "max", Expected: "!= min", Got: "min"}
	}
	return fanoutMono(call.Name, v, func(m *MonoImage) (Value, error) {
		return MonoValue(mapMono(m, func(f float32) float32 {
			c := float64(f)
			if c < lo {
				c = lo
			}
			if c > hi {
				c = hi
			}
			return float32((c - lo) / (hi - lo) * 255)
		})), nil
	})
}

// biAutocrop crops an image to a square bounding box around the fitted
// solar disk plus a 10% margin, clipped to the source bounds (spec.md
// §6.2: a context-dependent built-in; requires an ImageContext ellipse).
func biAutocrop(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	if ec.Context == nil {
		return Value{}, &ContextError{Requires: "detected solar disk ellipse"}
	}
	ell, ok := ec.Context.Ellipse()
	if !ok {
		return Value{}, &ContextError{Requires: "detected solar disk ellipse"}
	}
	return fanoutMono(call.Name, v, func(m *MonoImage) (Value, error) {
		radius := ell.SemiMajor
		if ell.SemiMinor > radius {
			radius = ell.SemiMinor
		}
		radius *= 1.1
		x0 := int(ell.CenterX - radius)
		y0 := int(ell.CenterY - radius)
		x1 := int(ell.CenterX + radius)
		y1 := int(ell.CenterY + radius)
		if x0 < 0 {
			x0 = 0
		}
		if y0 < 0 {
			y0 = 0
		}
		if x1 > m.Width {
			x1 = m.Width
		}
		if y1 > m.Height {
			y1 = m.Height
		}
		if x1 <= x0 || y1 <= y0 {
			return Value{}, &ContextError{Requires: "disk ellipse within image bounds"}
		}
		w, h := x1-x0, y1-y0
		out := NewMonoImage(w, h)
		out.Meta = m.Meta
		for y := 0; y < h; y++ {
			copy(out.Data[y*w:(y+1)*w], m.Data[(y0+y)*m.Width+x0:(y0+y)*m.Width+x1])
		}
		return MonoValue(out), nil
	})
}

// biFixBanding corrects horizontal sensor banding by rebasing every
// bandSize-row band's mean to the image's global mean, repeated `passes`
// times (spec.md §4.7). When an ImageContext ellipse is available, pixels
// inside the solar disk are excluded from each band's mean so limb
// brightness doesn't bias the correction; the correction itself still
// applies to every pixel in the band.
func biFixBanding(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	bandSize, err := evalScalarAt(ctx, ec, call, env, "bandSize", 1, 16)
	if err != nil {
		return Value{}, err
	}
	passes, err := evalScalarAt(ctx, ec, call, env, "passes", 2, 1)
	if err != nil {
		return Value{}, err
	}
	band := int(bandSize)
	if band < 1 {
		band = 1
	}
	var ell Ellipse
	haveEllipse := false
	if ec.Context != nil {
		ell, haveEllipse = ec.Context.Ellipse()
	}
	return fanoutMono(call.Name, v, func(m *MonoImage) (Value, error) {
		out := m.Clone()
		for p := 0; p < int(passes); p++ {
			fixBandingPass(out, band, ell, haveEllipse)
		}
		return MonoValue(out), nil
	})
}

func fixBandingPass(m *MonoImage, band int, ell Ellipse, haveEllipse bool) {
	global := 0.0
	for _, f := range m.Data {
		global += float64(f)
	}
	global /= float64(len(m.Data))

	inDisk := func(x, y int) bool {
		if !haveEllipse || ell.SemiMajor == 0 || ell.SemiMinor == 0 {
			return false
		}
		dx := (float64(x) - ell.CenterX) / ell.SemiMajor
		dy := (float64(y) - ell.CenterY) / ell.SemiMinor
		return dx*dx+dy*dy <= 1
	}
	for y0 := 0; y0 < m.Height; y0 += band {
		y1 := y0 + band
		if y1 > m.Height {
			y1 = m.Height
		}
		sum, n := 0.0, 0
		for y := y0; y < y1; y++ {
			for x := 0; x < m.Width; x++ {
				if inDisk(x, y) {
					continue
				}
				sum += float64(m.Data[y*m.Width+x])
				n++
			}
		}
		if n == 0 {
			continue
		}
		shift := float32(global - sum/float64(n))
		for y := y0; y < y1; y++ {
			for x := 0; x < m.Width; x++ {
				m.Data[y*m.Width+x] += shift
			}
		}
	}
}

// colorProfiles maps a named curve to explicit per-channel ratios
// (spec.md §8 scenario 3: "h-alpha" maps v to (v, v/2, 0)).
var colorProfiles = map[string]ColorCurve{
	"h-alpha":   {RIn: 1, ROut: 1, GIn: 1, GOut: 0.5, BIn: 1, BOut: 0},
	"calcium-k": {RIn: 1, ROut: 0.2, GIn: 1, GOut: 0.6, BIn: 1, BOut: 1},
	"continuum": {RIn: 1, ROut: 1, GIn: 1, GOut: 1, BIn: 1, BOut: 1},
}

// biColorize pairs a mono image with a named curve profile or explicit
// per-channel (in, out) ratios, deferring the actual RGB render (spec.md
// §9). Accepts colorize(img, "profileName") or
// colorize(img, rIn, rOut, gIn, gOut, bIn, bOut).
func biColorize(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}

	curve := ColorCurve{RIn: 1, ROut: 1, GIn: 1, GOut: 1, BIn: 1, BOut: 1}
	if name, ok, err := evalOptionalStringAt(ctx, ec, call, env, "profile", 1); err != nil {
		return Value{}, err
	} else if ok {
		p, known := colorProfiles[name]
		if !known {
			return Value{}, &TypeError{Function: "colorize", Param: "profile", Expected: "known profile name", Got: name}
		}
		curve = p
		curve.Profile = name
	} else if len(call.Args) >= 7 {
		names := []string{"rIn", "rOut", "gIn", "gOut", "bIn", "bOut"}
		vals := make([]float64, len(names))
		for i, name := range names {
			x, err := evalScalarAt(ctx, ec, call, env, name, i+1, 1)
			if err != nil {
				return Value{}, err
			}
			vals[i] = x
		}
		curve.RIn, curve.ROut = vals[0], vals[1]
		curve.GIn, curve.GOut = vals[2], vals[3]
		curve.BIn, curve.BOut = vals[4], vals[5]
	}

	return fanoutMono(call.Name, v, func(m *MonoImage) (Value, error) {
		return ColorizedValue(&ColorizedImage{Mono: m, Curve: curve}), nil
	})
}

// biRemoveBg subtracts an estimated background level from the region
// outside the solar disk, ramping the correction from zero at the limb to
// full strength by 1.2x the disk radius, scaled by `tolerance` (spec.md
// §4.7). Requires an ImageContext ellipse.
func biRemoveBg(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	v, err := evalImagePositional(ctx, ec, call, env)
	if err != nil {
		return Value{}, err
	}
	tolerance, err := evalScalarAt(ctx, ec, call, env, "tolerance", 1, 0.9)
	if err != nil {
		return Value{}, err
	}
	if ec.Context == nil {
		return Value{}, &ContextError{Requires: "detected solar disk ellipse"}
	}
	ell, ok := ec.Context.Ellipse()
	if !ok {
		return Value{}, &ContextError{Requires: "detected solar disk ellipse"}
	}
	return fanoutMono(call.Name, v, func(m *MonoImage) (Value, error) {
		return MonoValue(removeBgApply(m, ell, tolerance)), nil
	})
}

func removeBgApply(m *MonoImage, ell Ellipse, tolerance float64) *MonoImage {
	const transitionEnd = 1.2
	var sum float64
	var n int
	radial := func(x, y int) float64 {
		if ell.SemiMajor == 0 || ell.SemiMinor == 0 {
			return 0
		}
		dx := (float64(x) - ell.CenterX) / ell.SemiMajor
		dy := (float64(y) - ell.CenterY) / ell.SemiMinor
		return math.Sqrt(dx*dx + dy*dy)
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if radial(x, y) >= transitionEnd {
				sum += float64(m.Data[y*m.Width+x])
				n++
			}
		}
	}
	bg := 0.0
	if n > 0 {
		bg = sum / float64(n)
	}
	out := NewMonoImage(m.Width, m.Height)
	out.Meta = m.Meta
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			r := radial(x, y)
			var strength float64
			switch {
			case r <= 1:
				strength = 0
			case r >= transitionEnd:
				strength = 1
			default:
				strength = (r - 1) / (transitionEnd - 1)
			}
			out.Data[y*m.Width+x] = m.Data[y*m.Width+x] - float32(bg*tolerance*strength)
		}
	}
	return out
}

// biContinuum returns the run's reference continuum frame, marking this
// evaluation as having consulted it (spec.md §4.7/§6.3's UsesAutoContinuum
// flag, used to decide whether a continuum frame needs to be fetched at
// all for a given run).
func biContinuum(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	if ec.Images == nil {
		return Value{}, &ContextError{Requires: "image provider"}
	}
	ec.stateMu.Lock()
	ec.usesContinuum = true
	ec.stateMu.Unlock()
	img, err := ec.Images.ContinuumImage(ctx)
	if err != nil || img == nil {
		return Value{}, &MissingImageError{Shift: math.NaN()}
	}
	return MonoValue(img), nil
}

// biA2px converts an Ångström offset to a pixel shift using the run's
// detected dispersion (Å/pixel), recording the wavelength so the executor
// can report every wavelength the script derived (spec.md §4.7/§6.3).
func biA2px(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	a, ok := argByPos(call, 0)
	if !ok {
		return Value{}, &ArityError{Function: "a2px", Expected: "1", Got: 0}
	}
	v, err := ec.Eval(ctx, a.Expr, env)
	if err != nil {
		return Value{}, err
	}
	if v.Kind != KindScalar {
		return Value{}, &TypeError{Function: "a2px", Param: "0", Expected: "scalar", Got: v.Kind.String()}
	}
	dispersion, ok := 0.0, false
	if cv, present := env["detectedDispersion"]; present && cv.Kind == KindScalar {
		dispersion, ok = cv.Num, true
	} else if ec.Context != nil {
		dispersion, ok = ec.Context.Reserved("detectedDispersion")
	}
	if !ok || dispersion == 0 {
		return Value{}, &ContextError{Requires: "detected dispersion"}
	}
	ec.stateMu.Lock()
	ec.autoWavelengths[v.Num] = true
	ec.stateMu.Unlock()
	return ScalarValue(v.Num / dispersion), nil
}

// biAnim wraps a list of frames into an opaque animation handle at a fixed
// cadence (spec.md §4.7); the engine never interprets the frame contents.
func biAnim(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	la, ok := argByPos(call, 0)
	if !ok {
		return Value{}, &ArityError{Function: "anim", Expected: "2", Got: 0}
	}
	listVal, err := ec.Eval(ctx, la.Expr, env)
	if err != nil {
		return Value{}, err
	}
	if listVal.Kind != KindList {
		return Value{}, &TypeError{Function: "anim", Param: "0", Expected: "list", Got: listVal.Kind.String()}
	}
	ms, err := evalScalarAt(ctx, ec, call, env, "msPerFrame", 1, 100)
	if err != nil {
		return Value{}, err
	}
	frames := append([]Value(nil), listVal.List...)
	return AnimationValue(&Animation{Frames: frames, MsPerFrame: ms}), nil
}

// biWorkdir records the given path as the run's working directory, read
// back through EvalContext.Workdir; stateful (spec.md §4.4/builtin_meta.go), so the scheduler never
// runs two workdir() calls concurrently with each other.
func biWorkdir(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	path, ok, err := evalStringAt(ctx, ec, call, env, "path", 0)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, &ArityError{Function: "workdir", Expected: "1", Got: 0}
	}
	ec.stateMu.Lock()
	ec.workdir = path
	ec.stateMu.Unlock()
	return Unit, nil
}

// biScript runs an external script body through the bridge (spec.md §4.9).
// Every argument after the first two (kind, source) — positional or
// named — is passed through to the bridge as an extra scalar argument, in
// call order, giving the embedded script access to a script()-level "vars"
// set without the grammar needing object literals.
func biScript(ctx context.Context, ec *EvalContext, call *FunctionCall, env map[string]Value) (Value, error) {
	if ec.Bridge == nil {
		return Value{}, &ContextError{Requires: "external-script bridge"}
	}
	kindA, ok := argByPos(call, 0)
	if !ok {
		return Value{}, &ArityError{Function: "script", Expected: "at least 2", Got: 0}
	}
	kindV, err := ec.Eval(ctx, kindA.Expr, env)
	if err != nil {
		return Value{}, err
	}
	if kindV.Kind != KindString {
		return Value{}, &TypeError{Function: "script", Param: "0", Expected: "string", Got: kindV.Kind.String()}
	}
	srcA, ok := argByPos(call, 1)
	if !ok {
		return Value{}, &ArityError{Function: "script", Expected: "at least 2", Got: 1}
	}
	srcV, err := ec.Eval(ctx, srcA.Expr, env)
	if err != nil {
		return Value{}, err
	}
	if srcV.Kind != KindString {
		return Value{}, &TypeError{Function: "script", Param: "1", Expected: "string", Got: srcV.Kind.String()}
	}

	var rest []Value
	for i, a := range call.Args {
		if i < 2 && a.Name == "" {
			continue
		}
		v, err := ec.Eval(ctx, a.Expr, env)
		if err != nil {
			return Value{}, err
		}
		rest = append(rest, v)
	}

	runCtx := ctx
	if ec.BridgeTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, ec.BridgeTimeout)
		defer cancel()
	}

	v, err := ec.Bridge.Run(runCtx, kindV.Str, srcV.Str, rest)
	if err != nil {
		return Value{}, &ExternalError{Kind: kindV.Str, Message: err.Error()}
	}
	return v, nil
}
