package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTokenizeRoundTrip(t *testing.T) {
	src := "[[batch]]\nx = 1 + 2 # comment\n\nrange(start=0, end=3)\n"
	tokens := Tokenize(src)
	require.Equal(t, src, Render(tokens))
}

func TestTokenizeSectionHeaders(t *testing.T) {
	tokens := Tokenize("[single]\n[[batch]]\n[]\n")
	require.Len(t, tokens, 3)
	assert.Equal(t, TokSection, tokens[0].Kind)
	assert.False(t, tokens[0].Batch)
	assert.Equal(t, "single", tokens[0].SectionName)
	assert.True(t, tokens[1].Batch)
	assert.Equal(t, "batch", tokens[1].SectionName)
}

func TestTokenizeVariableDefinition(t *testing.T) {
	tokens := Tokenize("result = shift(10) + shift(-10)\n")
	require.Len(t, tokens, 1)
	tok := tokens[0]
	assert.Equal(t, TokVariableDefinition, tok.Kind)
	assert.Equal(t, "result", tok.VarName)
	assert.Contains(t, tok.ExprText, "shift(10)")
}

func TestTokenizeTripleQuotedMultilineDoesNotStartNewSection(t *testing.T) {
	src := "doc = \"\"\"\n[not_a_section]\nstill text\n\"\"\"\nnext = 1\n"
	tokens := Tokenize(src)
	var sections int
	for _, tok := range tokens {
		if tok.Kind == TokSection {
			sections++
		}
	}
	assert.Equal(t, 0, sections)
	assert.Equal(t, src, Render(tokens))
}

func TestTokenizeInvalidExpression(t *testing.T) {
	tokens := Tokenize("bad = 1 +\n")
	require.Len(t, tokens, 1)
	assert.Equal(t, TokInvalid, tokens[0].Kind)
}

func TestTokenizeTrailingCommentInsideStringNotStripped(t *testing.T) {
	tokens := Tokenize(`label = "contains # not a comment"` + "\n")
	require.Len(t, tokens, 1)
	assert.Equal(t, "", tokens[0].TrailingComment)
}
