package script

import "context"

// ImageProvider resolves a pixel shift (in arcseconds, or another
// instrument-defined unit) to a loaded source image (spec.md §6.2). The
// evaluator calls this for every frame an img() or range() call evaluates
// (the same shift may be requested more than once), and records every
// shift it asks for so the executor can report which shifts were actually
// used. ContinuumImage backs the `continuum()` built-in; a
// provider that never has a continuum frame may return an error, which
// surfaces as a MissingImageError.
type ImageProvider interface {
	ImageForShift(ctx context.Context, shift float64) (*MonoImage, error)
	ContinuumImage(ctx context.Context) (*MonoImage, error)
}

// ParameterContext resolves `[params]` entries and other externally
// supplied named values that a script references but never assigns
// (spec.md §6.2). Names not found here and not assigned anywhere in the
// script produce a ReferenceError.
type ParameterContext interface {
	Parameter(name string) (Value, bool)
}

// Ellipse is the fitted solar-disk ellipse (spec.md GLOSSARY), supplied
// through ImageContext to built-ins that need disk geometry: autocrop,
// remove_bg, and (optionally) fix_banding.
type Ellipse struct {
	CenterX, CenterY   float64
	SemiMajor, SemiMinor float64
	RotationRad        float64
}

// ImageContext resolves the per-run solar-parameter context a script's
// structural and coronagraph built-ins read lazily (spec.md §6.2): the
// detected ellipse plus the reserved scalar values seeded into every
// execution's environment. A nil ImageContext is valid; built-ins that
// require a capability it cannot supply raise ContextError.
type ImageContext interface {
	// Ellipse returns the detected solar-disk ellipse, if one was fit.
	Ellipse() (Ellipse, bool)
	// Reserved returns one of the reserved scalar names seeded into the
	// environment before execution (spec.md §4.8 step 3): blackPoint,
	// solarPAngle, solarB0Angle, carringtonRotation, detectedWavelength,
	// detectedDispersion.
	Reserved(name string) (float64, bool)
}

// ReservedNames enumerates the scalar identifiers the executor seeds into
// every run's environment from the supplied ImageContext, before any
// assignment is evaluated (spec.md §4.8 step 3).
var ReservedNames = []string{
	"blackPoint",
	"solarPAngle",
	"solarB0Angle",
	"carringtonRotation",
	"detectedWavelength",
	"detectedDispersion",
}

// ProgressBroadcaster receives coarse progress notifications as the
// executor works through DAG levels, used to drive a UI progress bar. All
// methods must be safe to call from multiple goroutines concurrently,
// since parallel-level nodes report independently.
type ProgressBroadcaster interface {
	OnLevelStart(level, total int)
	OnNodeDone(name string)
}

// noopBroadcaster discards every event; used when the caller supplies none.
type noopBroadcaster struct{}

func (noopBroadcaster) OnLevelStart(int, int) {}
func (noopBroadcaster) OnNodeDone(string)     {}

// MapParameterContext is a ParameterContext backed by a plain map, for CLI
// use and tests.
type MapParameterContext map[string]Value

func (m MapParameterContext) Parameter(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}

// StaticImageContext is an ImageContext backed by plain fields, for CLI use
// and tests.
type StaticImageContext struct {
	Disk       Ellipse
	HasDisk    bool
	ReservedBy map[string]float64
}

func (s StaticImageContext) Ellipse() (Ellipse, bool) { return s.Disk, s.HasDisk }

func (s StaticImageContext) Reserved(name string) (float64, bool) {
	v, ok := s.ReservedBy[name]
	return v, ok
}
