package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, text string) Expr {
	t.Helper()
	p := NewParser(text, ModeStrict)
	e, errs := p.ParseExpression()
	require.Empty(t, errs)
	return e
}

func TestAnalyzeAssignmentDependencies(t *testing.T) {
	a := &Assignment{Name: "c", Expr: mustParse(t, "a + b * 2")}
	info := AnalyzeAssignment(a)
	assert.True(t, info.Dependencies["a"])
	assert.True(t, info.Dependencies["b"])
	assert.False(t, info.HasFunctionCall)
}

func TestAnalyzeAssignmentStatefulFlag(t *testing.T) {
	a := &Assignment{Name: "total", Expr: mustParse(t, `workdir("/tmp")`)}
	info := AnalyzeAssignment(a)
	assert.True(t, info.HasFunctionCall)
	assert.True(t, info.HasStatefulFunction)
	assert.False(t, info.HasNonConcurrentFunction)
}

func TestAnalyzeAssignmentNonConcurrentFlag(t *testing.T) {
	a := &Assignment{Name: "r", Expr: mustParse(t, `script("go", "code", x)`)}
	info := AnalyzeAssignment(a)
	assert.True(t, info.HasNonConcurrentFunction)
}

func TestAnalyzeAssignmentParallelFanoutFlag(t *testing.T) {
	a := &Assignment{Name: "r", Expr: mustParse(t, "avg(xs)")}
	info := AnalyzeAssignment(a)
	assert.True(t, info.HasParallelFunctionArguments)
}
