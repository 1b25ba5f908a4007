package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOK(t *testing.T, text string) Expr {
	t.Helper()
	p := NewParser(text, ModeStrict)
	e, errs := p.ParseExpression()
	require.Empty(t, errs, "unexpected parse errors for %q: %v", text, errs)
	return e
}

func TestParserPrecedence(t *testing.T) {
	e := parseOK(t, "1 + 2 * 3")
	bin, ok := e.(*BinaryOp)
	require.True(t, ok)
	assert.Equal(t, byte('+'), bin.Op)
	rhs, ok := bin.Right.(*BinaryOp)
	require.True(t, ok)
	assert.Equal(t, byte('*'), rhs.Op)
}

func TestParserLeftAssociative(t *testing.T) {
	e := parseOK(t, "10 - 2 - 3")
	bin := e.(*BinaryOp)
	assert.Equal(t, byte('-'), bin.Op)
	lhs, ok := bin.Left.(*BinaryOp)
	require.True(t, ok)
	assert.Equal(t, byte('-'), lhs.Op)
}

func TestParserParenOverridesPrecedence(t *testing.T) {
	e := parseOK(t, "(1 + 2) * 3")
	bin := e.(*BinaryOp)
	assert.Equal(t, byte('*'), bin.Op)
	_, ok := bin.Left.(*BinaryOp)
	require.True(t, ok)
}

func TestParserUnaryMinus(t *testing.T) {
	e := parseOK(t, "-5")
	u, ok := e.(*UnaryOp)
	require.True(t, ok)
	assert.Equal(t, byte('-'), u.Op)
}

func TestParserFunctionCallPositionalAndNamed(t *testing.T) {
	e := parseOK(t, `colorize(img, profile="h-alpha")`)
	call, ok := e.(*FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "colorize", call.Name)
	require.Len(t, call.Args, 2)
	assert.Equal(t, "", call.Args[0].Name)
	assert.Equal(t, "profile", call.Args[1].Name)
}

func TestParserSemicolonSeparator(t *testing.T) {
	e := parseOK(t, "mean(a; b; c)")
	call := e.(*FunctionCall)
	assert.Len(t, call.Args, 3)
}

func TestParserStrictModeReportsTrailingGarbage(t *testing.T) {
	p := NewParser("1 + 2 )", ModeStrict)
	_, errs := p.ParseExpression()
	assert.NotEmpty(t, errs)
}

func TestParserTolerantModeCollectsErrorsWithoutPanicking(t *testing.T) {
	p := NewParser("1 + * 2", ModeTolerant)
	assert.NotPanics(t, func() {
		_, errs := p.ParseExpression()
		assert.NotEmpty(t, errs)
	})
}
