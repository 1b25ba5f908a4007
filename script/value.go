// Package script implements the Image-Math Scripting Engine: the tokenizer,
// parser, dependency analyzer, DAG scheduler, and evaluator that turn a
// script into a dependency graph of image and scalar computations.
package script

import "fmt"

// Kind tags the variant held by a Value.
type Kind int

const (
	KindUnit Kind = iota
	KindScalar
	KindMono
	KindRGB
	KindColorized
	KindList
	KindString
	KindAnimation
)

func (k Kind) String() string {
	switch k {
	case KindUnit:
		return "unit"
	case KindScalar:
		return "scalar"
	case KindMono:
		return "mono image"
	case KindRGB:
		return "rgb image"
	case KindColorized:
		return "colorized image"
	case KindList:
		return "list"
	case KindString:
		return "string"
	case KindAnimation:
		return "animation"
	default:
		return "unknown"
	}
}

// CapabilityToken names an opaque piece of per-image context metadata
// (ellipse fit, solar parameters, reference-coord transforms, ...).
type CapabilityToken string

const (
	CapEllipse         CapabilityToken = "ellipse"
	CapPixelShift       CapabilityToken = "pixel_shift"
	CapSolarParameters  CapabilityToken = "solar_parameters"
	CapReferenceCoords  CapabilityToken = "reference_coords"
)

// MonoImage is a single-plane, row-major float32 raster.
type MonoImage struct {
	Width, Height int
	Data          []float32
	Meta          map[CapabilityToken]interface{}
}

// NewMonoImage allocates a mono image of the given size, zero-filled.
func NewMonoImage(w, h int) *MonoImage {
	return &MonoImage{Width: w, Height: h, Data: make([]float32, w*h)}
}

func (m *MonoImage) dims() (int, int) { return m.Width, m.Height }

// Clone returns a deep copy of the image (metadata map is shared, since it
// is treated as immutable context, not mutable state).
func (m *MonoImage) Clone() *MonoImage {
	out := &MonoImage{Width: m.Width, Height: m.Height, Data: make([]float32, len(m.Data)), Meta: m.Meta}
	copy(out.Data, m.Data)
	return out
}

// RGBImage is a three-plane, row-major float32 raster.
type RGBImage struct {
	Width, Height int
	R, G, B       []float32
}

// NewRGBImage allocates an RGB image of the given size, zero-filled.
func NewRGBImage(w, h int) *RGBImage {
	return &RGBImage{Width: w, Height: h, R: make([]float32, w*h), G: make([]float32, w*h), B: make([]float32, w*h)}
}

func (r *RGBImage) dims() (int, int) { return r.Width, r.Height }

// ColorCurve is a small closed description of a mono-to-RGB conversion,
// deliberately not a closure: it must be cheap to copy, compare for
// memoization, and render in a debug dump (spec.md §9).
type ColorCurve struct {
	// Profile names the named curve the pairs below were copied from (e.g.
	// "h-alpha"); empty when the pairs were given explicitly.
	Profile string
	// Per-channel (in, out) pairs; Render always applies these.
	RIn, ROut, GIn, GOut, BIn, BOut float64
}

func (c ColorCurve) key() string {
	if c.Profile != "" {
		return "profile:" + c.Profile
	}
	return fmt.Sprintf("lut:%g:%g:%g:%g:%g:%g", c.RIn, c.ROut, c.GIn, c.GOut, c.BIn, c.BOut)
}

// ColorizedImage pairs a mono image with a deferred color curve, applied
// only when the image is rendered.
type ColorizedImage struct {
	Mono  *MonoImage
	Curve ColorCurve
}

// Render applies the color curve, producing an RGB image.
func (c *ColorizedImage) Render() *RGBImage {
	out := NewRGBImage(c.Mono.Width, c.Mono.Height)
	for i, v := range c.Mono.Data {
		out.R[i] = lut(v, c.Curve.RIn, c.Curve.ROut)
		out.G[i] = lut(v, c.Curve.GIn, c.Curve.GOut)
		out.B[i] = lut(v, c.Curve.BIn, c.Curve.BOut)
	}
	return out
}

func lut(v float32, in, out float64) float32 {
	if in == 0 {
		return v
	}
	return float32(float64(v) / in * out)
}

// Animation is the opaque handle produced by anim() (spec.md §4.7): an
// ordered list of frames rendered externally at a fixed cadence. The engine
// itself never decodes or encodes the frame sequence; it only threads the
// handle through to the caller.
type Animation struct {
	Frames     []Value
	MsPerFrame float64
}

// Value is the tagged union of script-level values (spec.md §3).
type Value struct {
	Kind  Kind
	Num   float64
	Str   string
	Mono  *MonoImage
	RGB   *RGBImage
	Color *ColorizedImage
	List  []Value
	Anim  *Animation
}

// Unit is the empty value.
var Unit = Value{Kind: KindUnit}

func ScalarValue(v float64) Value        { return Value{Kind: KindScalar, Num: v} }
func StringValue(v string) Value         { return Value{Kind: KindString, Str: v} }
func MonoValue(m *MonoImage) Value       { return Value{Kind: KindMono, Mono: m} }
func RGBValue(r *RGBImage) Value         { return Value{Kind: KindRGB, RGB: r} }
func ColorizedValue(c *ColorizedImage) Value {
	return Value{Kind: KindColorized, Color: c}
}
func ListValue(items []Value) Value { return Value{Kind: KindList, List: items} }
func AnimationValue(a *Animation) Value { return Value{Kind: KindAnimation, Anim: a} }

// IsImage reports whether v is a mono, rgb, or colorized image.
func (v Value) IsImage() bool {
	return v.Kind == KindMono || v.Kind == KindRGB || v.Kind == KindColorized
}

// Dims returns the width/height of an image value, or ok=false otherwise.
func (v Value) Dims() (w, h int, ok bool) {
	switch v.Kind {
	case KindMono:
		w, h = v.Mono.dims()
		return w, h, true
	case KindRGB:
		w, h = v.RGB.dims()
		return w, h, true
	case KindColorized:
		w, h = v.Color.Mono.dims()
		return w, h, true
	default:
		return 0, 0, false
	}
}
