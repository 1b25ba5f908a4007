package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorizedImageRenderAppliesProfileLUT(t *testing.T) {
	mono := flatMono(2, 1, 0.5)
	c := &ColorizedImage{Mono: mono, Curve: ColorCurve{RIn: 1, ROut: 2, GIn: 1, GOut: 1, BIn: 1, BOut: 0.5}}
	rgb := c.Render()
	assert.InDelta(t, 1.0, rgb.R[0], 0.0001)
	assert.InDelta(t, 0.5, rgb.G[0], 0.0001)
	assert.InDelta(t, 0.25, rgb.B[0], 0.0001)
}

func TestValueDimsOnlyForImages(t *testing.T) {
	_, _, ok := ScalarValue(1).Dims()
	assert.False(t, ok)
	w, h, ok := MonoValue(flatMono(3, 4, 0)).Dims()
	assert.True(t, ok)
	assert.Equal(t, 3, w)
	assert.Equal(t, 4, h)
}

func TestMonoImageCloneIsIndependent(t *testing.T) {
	m := flatMono(2, 2, 1)
	clone := m.Clone()
	clone.Data[0] = 99
	assert.NotEqual(t, m.Data[0], clone.Data[0])
}
