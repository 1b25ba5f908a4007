package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpDOTContainsNodesAndEdges(t *testing.T) {
	assignments := []*Assignment{
		{Name: "a", Expr: mustParse(t, "1")},
		{Name: "b", Expr: mustParse(t, "a + 1")},
	}
	d := BuildDAG(assignments)
	plans, err := d.Plan()
	require.NoError(t, err)
	out, err := DumpDOT(d, plans)
	require.NoError(t, err)
	assert.Contains(t, out, `"a"`)
	assert.Contains(t, out, `"b"`)
	assert.Contains(t, out, `"a" -> "b"`)
}

func TestDumpDOTColorsByPurity(t *testing.T) {
	assignments := []*Assignment{
		{Name: "w", Expr: mustParse(t, `workdir("/tmp")`)},
		{Name: "s", Expr: mustParse(t, `script("go", "code")`)},
		{Name: "c", Expr: mustParse(t, "avg(1, 2)")},
		{Name: "e", Expr: mustParse(t, "1 + 1")},
	}
	d := BuildDAG(assignments)
	plans, err := d.Plan()
	require.NoError(t, err)
	out, err := DumpDOT(d, plans)
	require.NoError(t, err)
	assert.Contains(t, out, `fillcolor="red"`)
	assert.Contains(t, out, `fillcolor="orange"`)
	assert.Contains(t, out, `fillcolor="lightblue"`)
	assert.Contains(t, out, `fillcolor="lightgray"`)
}

func TestEscapeLabelEscapesNewlineAndHTML(t *testing.T) {
	out := escapeLabel("a = 1\nb & <c>")
	assert.NotContains(t, out, "\n")
	assert.Contains(t, out, "\\n")
	assert.Contains(t, out, "&amp;")
	assert.Contains(t, out, "&lt;c&gt;")
}
