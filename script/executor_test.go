package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestExecutor(images ImageProvider) *Executor {
	ex := NewExecutor(images, nil)
	ex.Log = zap.NewNop()
	return ex
}

func TestExecutorRunsSingleSection(t *testing.T) {
	ex := newTestExecutor(nil)
	src := "[result]\na = 2\nb = 3\nc = a + b\n"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := ex.Execute(ctx, src, ".", nil, ModeSingle)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Contains(t, res.Values, "c")
	assert.Equal(t, 5.0, res.Values["c"].Num)
}

func TestExecutorCollectsAnonymousOutputs(t *testing.T) {
	ex := newTestExecutor(nil)
	src := "[result]\n1 + 1\n"
	res, err := ex.Execute(context.Background(), src, ".", nil, ModeSingle)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Contains(t, res.Values, "output_0")
	assert.Equal(t, 2.0, res.Values["output_0"].Num)
}

func TestExecutorCollectsShiftsUsed(t *testing.T) {
	images := fakeImages{images: map[float64]*MonoImage{5: flatMono(1, 1, 0.1), 10: flatMono(1, 1, 0.2)}}
	ex := newTestExecutor(images)
	src := "[stack]\na = img(5)\nb = img(10)\nc = a + b\n"
	res, err := ex.Execute(context.Background(), src, ".", nil, ModeSingle)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	assert.Equal(t, []float64{5, 10}, res.VariableShifts)
}

func TestExecutorReportsCircularDependency(t *testing.T) {
	ex := newTestExecutor(nil)
	src := "[bad]\na = b + 1\nb = a + 1\n"
	res, err := ex.Execute(context.Background(), src, ".", nil, ModeSingle)
	require.NoError(t, err)
	require.NotEmpty(t, res.Errors)
	var circ *CircularError
	found := false
	for _, ie := range res.Errors {
		if assert.ErrorAs(t, ie.Err, &circ) {
			found = true
		}
	}
	assert.True(t, found, "expected a CircularError among result.Errors")
}

func TestExecutorLastDeclarationWinsOnDuplicateName(t *testing.T) {
	ex := newTestExecutor(nil)
	src := "[dup]\nx = 1\nx = 2\ny = x\n"
	res, err := ex.Execute(context.Background(), src, ".", nil, ModeSingle)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	assert.Equal(t, 2.0, res.Values["x"].Num)
	assert.Equal(t, 2.0, res.Values["y"].Num)
	assert.Contains(t, res.Shadowed["dup"], "x")
}
