package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImages struct {
	images     map[float64]*MonoImage
	continuum  *MonoImage
}

func (f fakeImages) ImageForShift(ctx context.Context, shift float64) (*MonoImage, error) {
	img, ok := f.images[shift]
	if !ok {
		return nil, assert.AnError
	}
	return img, nil
}

func (f fakeImages) ContinuumImage(ctx context.Context) (*MonoImage, error) {
	if f.continuum == nil {
		return nil, assert.AnError
	}
	return f.continuum, nil
}

func flatMono(w, h int, v float32) *MonoImage {
	m := NewMonoImage(w, h)
	for i := range m.Data {
		m.Data[i] = v
	}
	return m
}

func TestEvalScalarArithmetic(t *testing.T) {
	ec := NewEvalContext(nil, nil)
	v, err := ec.Eval(context.Background(), mustParse(t, "2 + 3 * 4"), map[string]Value{})
	require.NoError(t, err)
	assert.Equal(t, 14.0, v.Num)
}

func TestEvalIdentifierFromEnv(t *testing.T) {
	ec := NewEvalContext(nil, nil)
	env := map[string]Value{"x": ScalarValue(9)}
	v, err := ec.Eval(context.Background(), mustParse(t, "x + 1"), env)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v.Num)
}

func TestEvalUndefinedReferenceErrors(t *testing.T) {
	ec := NewEvalContext(nil, nil)
	_, err := ec.Eval(context.Background(), mustParse(t, "y"), map[string]Value{})
	require.Error(t, err)
	var refErr *ReferenceError
	require.ErrorAs(t, err, &refErr)
}

func TestEvalImgCollectsUsedShift(t *testing.T) {
	images := fakeImages{images: map[float64]*MonoImage{10: flatMono(2, 2, 0.5)}}
	ec := NewEvalContext(images, nil)
	v, err := ec.Eval(context.Background(), mustParse(t, "img(10)"), map[string]Value{})
	require.NoError(t, err)
	assert.Equal(t, KindMono, v.Kind)
	assert.Equal(t, []float64{10}, ec.ShiftsUsed())
}

func TestEvalImgMissingImage(t *testing.T) {
	images := fakeImages{images: map[float64]*MonoImage{}}
	ec := NewEvalContext(images, nil)
	_, err := ec.Eval(context.Background(), mustParse(t, "img(99)"), map[string]Value{})
	require.Error(t, err)
	var missing *MissingImageError
	require.ErrorAs(t, err, &missing)
}

func TestEvalBinaryDimensionMismatch(t *testing.T) {
	env := map[string]Value{
		"a": MonoValue(flatMono(2, 2, 1)),
		"b": MonoValue(flatMono(3, 3, 1)),
	}
	ec := NewEvalContext(nil, nil)
	_, err := ec.Eval(context.Background(), mustParse(t, "a + b"), env)
	require.Error(t, err)
	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)
}

func TestEvalColorizeThenRender(t *testing.T) {
	env := map[string]Value{"m": MonoValue(flatMono(2, 2, 0.5))}
	ec := NewEvalContext(nil, nil)
	v, err := ec.Eval(context.Background(), mustParse(t, `colorize(m, profile="h-alpha")`), env)
	require.NoError(t, err)
	require.Equal(t, KindColorized, v.Kind)
	rgb := v.Color.Render()
	assert.Equal(t, 2, rgb.Width)
}

func TestEvalRangeAndAvg(t *testing.T) {
	images := fakeImages{images: map[float64]*MonoImage{
		-2: flatMono(1, 1, 0), -1: flatMono(1, 1, 1), 0: flatMono(1, 1, 2), 1: flatMono(1, 1, 3), 2: flatMono(1, 1, 4),
	}}
	ec := NewEvalContext(images, nil)
	v, err := ec.Eval(context.Background(), mustParse(t, "avg(range(-2, 2, 1))"), map[string]Value{})
	require.NoError(t, err)
	require.Equal(t, KindMono, v.Kind)
	assert.InDelta(t, 2.0, v.Mono.Data[0], 0.0001)
	assert.Equal(t, []float64{-2, -1, 0, 1, 2}, ec.ShiftsUsed())
}

func TestEvalAvgOfScalars(t *testing.T) {
	ec := NewEvalContext(nil, nil)
	v, err := ec.Eval(context.Background(), mustParse(t, "avg(1, 2, 3)"), map[string]Value{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v.Num)
}

func TestEvalMedianEvenCountAveragesMiddlePair(t *testing.T) {
	ec := NewEvalContext(nil, nil)
	v, err := ec.Eval(context.Background(), mustParse(t, "median(1, 2, 3, 4)"), map[string]Value{})
	require.NoError(t, err)
	assert.Equal(t, 2.5, v.Num)
}

func TestEvalAvg2RejectsOutlier(t *testing.T) {
	ec := NewEvalContext(nil, nil)
	v, err := ec.Eval(context.Background(), mustParse(t, "avg2(1, 1, 1, 100, sigma=1)"), map[string]Value{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v.Num, 0.0001)
}

func TestEvalRangeSwapsFromTo(t *testing.T) {
	images := fakeImages{images: map[float64]*MonoImage{0: flatMono(1, 1, 0), 1: flatMono(1, 1, 1)}}
	ec := NewEvalContext(images, nil)
	v, err := ec.Eval(context.Background(), mustParse(t, "range(1, 0, 1)"), map[string]Value{})
	require.NoError(t, err)
	require.Equal(t, KindList, v.Kind)
	assert.Len(t, v.List, 2)
}

func TestEvalWorkdirIsStatefulAndRecordsPath(t *testing.T) {
	ec := NewEvalContext(nil, nil)
	v, err := ec.Eval(context.Background(), mustParse(t, `workdir("/tmp/sun")`), map[string]Value{})
	require.NoError(t, err)
	assert.Equal(t, KindUnit, v.Kind)
	assert.Equal(t, "/tmp/sun", ec.Workdir())
}

func TestEvalInvertFlipsAroundMax(t *testing.T) {
	env := map[string]Value{"m": MonoValue(flatMono(2, 1, 0.25))}
	ec := NewEvalContext(nil, nil)
	v, err := ec.Eval(context.Background(), mustParse(t, "invert(m)"), env)
	require.NoError(t, err)
	assert.InDelta(t, 0, v.Mono.Data[0], 0.0001)
}

func TestEvalAutocropRequiresEllipseContext(t *testing.T) {
	env := map[string]Value{"m": MonoValue(flatMono(4, 4, 1))}
	ec := NewEvalContext(nil, nil)
	_, err := ec.Eval(context.Background(), mustParse(t, "autocrop(m)"), env)
	require.Error(t, err)
	var ctxErr *ContextError
	require.ErrorAs(t, err, &ctxErr)
}

func TestEvalAutocropWithEllipseContext(t *testing.T) {
	env := map[string]Value{"m": MonoValue(flatMono(10, 10, 1))}
	ec := NewEvalContext(nil, nil)
	ec.Context = StaticImageContext{Disk: Ellipse{CenterX: 5, CenterY: 5, SemiMajor: 3, SemiMinor: 3}, HasDisk: true}
	v, err := ec.Eval(context.Background(), mustParse(t, "autocrop(m)"), env)
	require.NoError(t, err)
	w, h, ok := v.Dims()
	require.True(t, ok)
	assert.True(t, w <= 10 && h <= 10)
}

func TestEvalA2pxRequiresDetectedDispersion(t *testing.T) {
	ec := NewEvalContext(nil, nil)
	_, err := ec.Eval(context.Background(), mustParse(t, "a2px(1.0)"), map[string]Value{})
	require.Error(t, err)
	var ctxErr *ContextError
	require.ErrorAs(t, err, &ctxErr)
}

func TestEvalA2pxConvertsAndRecordsWavelength(t *testing.T) {
	env := map[string]Value{"detectedDispersion": ScalarValue(0.5)}
	ec := NewEvalContext(nil, nil)
	v, err := ec.Eval(context.Background(), mustParse(t, "a2px(1.0)"), env)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v.Num)
	assert.Equal(t, []float64{1.0}, ec.AutoWavelengths())
}

func TestEvalContinuumSetsUsesAutoContinuumFlag(t *testing.T) {
	images := fakeImages{continuum: flatMono(1, 1, 0.5)}
	ec := NewEvalContext(images, nil)
	_, err := ec.Eval(context.Background(), mustParse(t, "continuum()"), map[string]Value{})
	require.NoError(t, err)
	assert.True(t, ec.UsesAutoContinuum())
}

func TestEvalFunctionCallDispatchesToUserFunction(t *testing.T) {
	ec := NewEvalContext(nil, nil)
	ec.Functions["double"] = &FunctionDef{
		Name:   "double",
		Params: []string{"x"},
		Body:   &Section{Assignments: []*Assignment{{Expr: mustParse(t, "x * 2")}}},
	}
	v, err := ec.Eval(context.Background(), mustParse(t, "double(21)"), map[string]Value{})
	require.NoError(t, err)
	assert.Equal(t, 42.0, v.Num)
}

func TestEvalListConcatAndDifference(t *testing.T) {
	ec := NewEvalContext(nil, nil)
	env := map[string]Value{
		"a": ListValue([]Value{ScalarValue(1), ScalarValue(2)}),
		"b": ListValue([]Value{ScalarValue(2), ScalarValue(3)}),
	}
	sum, err := ec.Eval(context.Background(), mustParse(t, "a + b"), env)
	require.NoError(t, err)
	assert.Len(t, sum.List, 4)

	diff, err := ec.Eval(context.Background(), mustParse(t, "a - b"), env)
	require.NoError(t, err)
	require.Len(t, diff.List, 1)
	assert.Equal(t, 1.0, diff.List[0].Num)
}
