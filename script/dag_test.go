package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDAGLevels(t *testing.T) {
	assignments := []*Assignment{
		{Name: "a", Expr: mustParse(t, "1")},
		{Name: "b", Expr: mustParse(t, "a + 1")},
		{Name: "c", Expr: mustParse(t, "a + b")},
	}
	d := BuildDAG(assignments)
	levels, err := d.Levels()
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"a"}, levels[0])
	assert.Equal(t, []string{"b"}, levels[1])
	assert.Equal(t, []string{"c"}, levels[2])
}

func TestBuildDAGParallelLevel(t *testing.T) {
	assignments := []*Assignment{
		{Name: "a", Expr: mustParse(t, "1")},
		{Name: "b", Expr: mustParse(t, "2")},
		{Name: "c", Expr: mustParse(t, "a + b")},
	}
	d := BuildDAG(assignments)
	levels, err := d.Levels()
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, levels[0])
}

func TestBuildDAGDetectsCycle(t *testing.T) {
	assignments := []*Assignment{
		{Name: "a", Expr: mustParse(t, "b + 1")},
		{Name: "b", Expr: mustParse(t, "a + 1")},
	}
	d := BuildDAG(assignments)
	_, err := d.Levels()
	require.Error(t, err)
	var cycleErr *CircularError
	require.ErrorAs(t, err, &cycleErr)
}

func TestPlanPartitionsStatefulNodesToSequential(t *testing.T) {
	assignments := []*Assignment{
		{Name: "a", Expr: mustParse(t, "1")},
		{Name: "b", Expr: mustParse(t, "workdir(a)")},
	}
	d := BuildDAG(assignments)
	plans, err := d.Plan()
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, []string{"b"}, plans[1].Sequential)
	assert.Empty(t, plans[1].Parallel)
}
