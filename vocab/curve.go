package vocab

import (
	"fmt"
	"math"

	"github.com/mleroux/kgraph/store"
)

// Newton-Raphson parameters for solving the Bezier x(t) inverse.
const (
	solveIterations = 8
	solveEpsilon    = 1e-6
)

// CubicBezier is an easing curve with fixed endpoints (0,0) and (1,1)
// and two control points, the same family CSS transitions use.
type CubicBezier struct {
	cx, bx, ax float64
	cy, by, ay float64
}

// NewCubicBezier builds a curve from its two control points.
func NewCubicBezier(x1, y1, x2, y2 float64) *CubicBezier {
	c := &CubicBezier{}
	c.cx = 3 * x1
	c.bx = 3*(x2-x1) - c.cx
	c.ax = 1 - c.cx - c.bx
	c.cy = 3 * y1
	c.by = 3*(y2-y1) - c.cy
	c.ay = 1 - c.cy - c.by
	return c
}

func (c *CubicBezier) sampleX(t float64) float64 {
	return ((c.ax*t+c.bx)*t + c.cx) * t
}

func (c *CubicBezier) sampleY(t float64) float64 {
	return ((c.ay*t+c.by)*t + c.cy) * t
}

func (c *CubicBezier) sampleDerivX(t float64) float64 {
	return (3*c.ax*t+2*c.bx)*t + c.cx
}

// solveX finds t such that x(t) = x by Newton-Raphson, seeded with x
// itself. 8 iterations converge well inside epsilon for every curve
// with control x in [0,1].
func (c *CubicBezier) solveX(x float64) float64 {
	t := x
	for i := 0; i < solveIterations; i++ {
		dx := c.sampleX(t) - x
		if math.Abs(dx) < solveEpsilon {
			return t
		}
		d := c.sampleDerivX(t)
		if math.Abs(d) < solveEpsilon {
			break
		}
		t -= dx / d
	}
	return t
}

// YForX evaluates the curve at horizontal position x, clamped to the
// unit interval.
func (c *CubicBezier) YForX(x float64) float64 {
	if x <= 0 {
		return 0.0
	}
	if x >= 1 {
		return 1.0
	}
	return c.sampleY(c.solveX(x))
}

// ---------------------------------------------------------------------------
// Builtin profiles
// ---------------------------------------------------------------------------

// BuiltinProfiles returns the seeded easing profiles, mirroring the CSS
// timing-function family plus three vocabulary-specific curves.
func BuiltinProfiles() []store.CurveProfile {
	return []store.CurveProfile{
		{ProfileName: "linear", ControlX1: 0.0, ControlY1: 0.0, ControlX2: 1.0, ControlY2: 1.0,
			Description: "Constant rate increase. Predictable, good for testing.", IsBuiltin: true},
		{ProfileName: "ease", ControlX1: 0.25, ControlY1: 0.1, ControlX2: 0.25, ControlY2: 1.0,
			Description: "CSS default. Balanced acceleration.", IsBuiltin: true},
		{ProfileName: "ease-in", ControlX1: 0.42, ControlY1: 0.0, ControlX2: 1.0, ControlY2: 1.0,
			Description: "Slow start, fast end. Gradual then sharp.", IsBuiltin: true},
		{ProfileName: "ease-out", ControlX1: 0.0, ControlY1: 0.0, ControlX2: 0.58, ControlY2: 1.0,
			Description: "Fast start, slow end. Sharp then gradual.", IsBuiltin: true},
		{ProfileName: "ease-in-out", ControlX1: 0.42, ControlY1: 0.0, ControlX2: 0.58, ControlY2: 1.0,
			Description: "Smooth S-curve. Balanced transitions.", IsBuiltin: true},
		{ProfileName: "aggressive", ControlX1: 0.1, ControlY1: 0.0, ControlX2: 0.9, ControlY2: 1.0,
			Description: "Stay passive until 75%, sharp acceleration near limit.", IsBuiltin: true},
		{ProfileName: "gentle", ControlX1: 0.5, ControlY1: 0.5, ControlX2: 0.5, ControlY2: 0.5,
			Description: "Very gradual. Good for high-churn environments.", IsBuiltin: true},
		{ProfileName: "exponential", ControlX1: 0.7, ControlY1: 0.0, ControlX2: 0.84, ControlY2: 0.0,
			Description: "Explosive near limit. Use when capacity is strict.", IsBuiltin: true},
	}
}

// CurveFor builds the Bezier for a stored profile.
func CurveFor(p store.CurveProfile) *CubicBezier {
	return NewCubicBezier(p.ControlX1, p.ControlY1, p.ControlX2, p.ControlY2)
}

// ValidateProfile checks a custom profile before it is persisted.
// Control x values must stay in [0,1] to keep x(t) monotonic; y values
// may overshoot into [-2,2] for bounce-style curves.
func ValidateProfile(p store.CurveProfile) error {
	if len(p.ProfileName) < 3 || len(p.ProfileName) > 50 {
		return fmt.Errorf("profile name must be 3-50 characters, got %d", len(p.ProfileName))
	}
	for _, x := range []float64{p.ControlX1, p.ControlX2} {
		if x < 0 || x > 1 {
			return fmt.Errorf("control x out of range [0,1]: %v", x)
		}
	}
	for _, y := range []float64{p.ControlY1, p.ControlY2} {
		if y < -2 || y > 2 {
			return fmt.Errorf("control y out of range [-2,2]: %v", y)
		}
	}
	if len(p.Description) < 10 {
		return fmt.Errorf("profile description must be at least 10 characters")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Aggressiveness
// ---------------------------------------------------------------------------

// Pruning zones ordered by increasing pressure.
const (
	ZoneComfort   = "comfort"
	ZoneWatch     = "watch"
	ZoneMerge     = "merge"
	ZoneMixed     = "mixed"
	ZoneEmergency = "emergency"
	ZoneBlock     = "block"
)

// Aggressiveness maps the current vocabulary size onto [0,1] pruning
// pressure through the curve, plus the action zone that pressure falls
// in. Sizes at or beyond the emergency limit always report (1, block);
// sizes past the soft max blend the curve value linearly toward 1.
func Aggressiveness(size, vocabMin, vocabMax, emergency int, curve *CubicBezier) (float64, string) {
	if size <= vocabMin {
		return 0.0, ZoneComfort
	}
	if size >= emergency {
		return 1.0, ZoneBlock
	}

	position := float64(size-vocabMin) / float64(vocabMax-vocabMin)
	if position < 0 {
		position = 0
	}
	if position > 1 {
		position = 1
	}

	a := curve.YForX(position)
	if size > vocabMax {
		overage := float64(size-vocabMax) / float64(emergency-vocabMax)
		a += (1.0 - a) * overage
	}

	return a, zoneFor(a, size, emergency)
}

func zoneFor(a float64, size, emergency int) string {
	switch {
	case a < 0.2:
		return ZoneComfort
	case a < 0.5:
		return ZoneWatch
	case a < 0.7:
		return ZoneMerge
	case a < 0.9:
		return ZoneMixed
	case size < emergency:
		return ZoneEmergency
	default:
		return ZoneBlock
	}
}
