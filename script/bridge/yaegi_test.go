package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateImportsRejectsForbiddenPackage(t *testing.T) {
	src := `
import (
	"os"
)

func Run(args []float64) (float64, error) {
	return 0, nil
}
`
	err := validateImports(src)
	require.Error(t, err)
}

func TestValidateImportsAllowsWhitelisted(t *testing.T) {
	src := `
import (
	"math"
	"strconv"
)

func Run(args []float64) (float64, error) {
	return math.Sqrt(args[0]), nil
}
`
	assert.NoError(t, validateImports(src))
}

func TestWrapSourceAddsPackageMain(t *testing.T) {
	out := wrapSource("func Run(args []float64) (float64, error) { return 0, nil }")
	assert.Contains(t, out, "package main")
}

func TestWrapSourceLeavesExplicitPackageMainAlone(t *testing.T) {
	src := "package main\nfunc Run(args []float64) (float64, error) { return 0, nil }"
	assert.Equal(t, src, wrapSource(src))
}
