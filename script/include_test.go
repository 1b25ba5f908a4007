package script

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFS map[string]string

func (m memFS) ReadFile(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return []byte(data), nil
}

func TestResolveIncludesInlines(t *testing.T) {
	fs := memFS{
		"/base/common.imse": "shared = 1\n",
	}
	out, err := ResolveIncludes("include \"common.imse\"\nx = shared + 1\n", "/base", fs)
	require.NoError(t, err)
	assert.Contains(t, out, "shared = 1")
	assert.Contains(t, out, "x = shared + 1")
}

func TestResolveIncludesNested(t *testing.T) {
	fs := memFS{
		"/base/a.imse": "include \"b.imse\"\na = 1\n",
		"/base/b.imse": "b = 2\n",
	}
	out, err := ResolveIncludes("include \"a.imse\"\n", "/base", fs)
	require.NoError(t, err)
	assert.Contains(t, out, "b = 2")
	assert.Contains(t, out, "a = 1")
}

func TestResolveIncludesDetectsCycle(t *testing.T) {
	fs := memFS{
		"/base/a.imse": "include \"b.imse\"\n",
		"/base/b.imse": "include \"a.imse\"\n",
	}
	_, err := ResolveIncludes("include \"a.imse\"\n", "/base", fs)
	require.Error(t, err)
	var cycleErr *IncludeCycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestResolveIncludesMissingFile(t *testing.T) {
	fs := memFS{}
	out, err := ResolveIncludes("include \"missing.imse\"\nx = 1\n", "/base", fs)
	require.NoError(t, err)
	assert.Contains(t, out, `include "missing.imse"`)
	assert.Contains(t, out, "x = 1")
}

func TestResolveIncludesMissingFileLeavesUnresolvedMarker(t *testing.T) {
	fs := memFS{}
	out, err := ResolveIncludes("include \"missing.imse\"\n", "/base", fs)
	require.NoError(t, err)

	tokens := Tokenize(out)
	scriptAST, perrs := ParseScript(tokens)
	assert.Empty(t, perrs)
	require.Len(t, scriptAST.Sections, 1)
	require.Len(t, scriptAST.Sections[0].Includes, 1)
	inc := scriptAST.Sections[0].Includes[0]
	assert.Equal(t, "missing.imse", inc.Path)
	assert.False(t, inc.Resolved)
}
