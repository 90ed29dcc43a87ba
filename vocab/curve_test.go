package vocab

import (
	"math"
	"strings"
	"testing"

	"github.com/mleroux/kgraph/store"
)

func profileByName(t *testing.T, name string) store.CurveProfile {
	t.Helper()
	for _, p := range BuiltinProfiles() {
		if p.ProfileName == name {
			return p
		}
	}
	t.Fatalf("no builtin profile %q", name)
	return store.CurveProfile{}
}

func TestLinearCurve(t *testing.T) {
	curve := NewCubicBezier(0, 0, 1, 1)
	for _, x := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1} {
		y := curve.YForX(x)
		if math.Abs(y-x) > 0.01 {
			t.Errorf("linear YForX(%f) = %f, want %f", x, y, x)
		}
	}
}

func TestCurveEndpoints(t *testing.T) {
	for _, p := range BuiltinProfiles() {
		curve := CurveFor(p)
		if y := curve.YForX(0); y != 0 {
			t.Errorf("%s: YForX(0) = %f, want 0", p.ProfileName, y)
		}
		if y := curve.YForX(1); y != 1 {
			t.Errorf("%s: YForX(1) = %f, want 1", p.ProfileName, y)
		}
	}
}

func TestYForXClamps(t *testing.T) {
	curve := CurveFor(profileByName(t, "aggressive"))
	if y := curve.YForX(-0.5); y != 0 {
		t.Errorf("YForX(-0.5) = %f, want 0", y)
	}
	if y := curve.YForX(1.5); y != 1 {
		t.Errorf("YForX(1.5) = %f, want 1", y)
	}
}

func TestCurvesMonotonic(t *testing.T) {
	for _, p := range BuiltinProfiles() {
		curve := CurveFor(p)
		prev := 0.0
		for i := 0; i <= 100; i++ {
			x := float64(i) / 100
			y := curve.YForX(x)
			if y < prev-0.001 {
				t.Errorf("%s not monotonic at x=%f: %f < %f", p.ProfileName, x, y, prev)
			}
			prev = y
		}
	}
}

func TestAggressiveCurveShape(t *testing.T) {
	curve := CurveFor(profileByName(t, "aggressive"))

	// Passive through the middle of the window, sharp near the end.
	if y := curve.YForX(0.25); y >= 0.3 {
		t.Errorf("YForX(0.25) = %f, want < 0.3", y)
	}
	if y := curve.YForX(0.5); math.Abs(y-0.5) > 1e-9 {
		t.Errorf("YForX(0.5) = %f, want 0.5 (symmetric control points)", y)
	}
	if y := curve.YForX(0.85); y <= 0.7 {
		t.Errorf("YForX(0.85) = %f, want > 0.7", y)
	}
	if y := curve.YForX(0.95); y <= 0.9 {
		t.Errorf("YForX(0.95) = %f, want > 0.9", y)
	}
}

func TestSolveXConverges(t *testing.T) {
	curve := CurveFor(profileByName(t, "aggressive"))
	for _, x := range []float64{0.1, 0.25, 0.5, 0.75, 0.9} {
		tt := curve.solveX(x)
		if got := curve.sampleX(tt); math.Abs(got-x) > 1e-5 {
			t.Errorf("solveX(%f): x(t) = %f, off by %g", x, got, math.Abs(got-x))
		}
	}
}

func TestBuiltinProfiles(t *testing.T) {
	profiles := BuiltinProfiles()
	if len(profiles) != 8 {
		t.Fatalf("builtin profiles = %d, want 8", len(profiles))
	}

	want := map[string]bool{
		"linear": true, "ease": true, "ease-in": true, "ease-out": true,
		"ease-in-out": true, "aggressive": true, "gentle": true, "exponential": true,
	}
	for _, p := range profiles {
		if !want[p.ProfileName] {
			t.Errorf("unexpected profile %q", p.ProfileName)
		}
		delete(want, p.ProfileName)
		if !p.IsBuiltin {
			t.Errorf("%s not marked builtin", p.ProfileName)
		}
		if err := ValidateProfile(p); err != nil {
			t.Errorf("%s fails validation: %v", p.ProfileName, err)
		}
	}
	for name := range want {
		t.Errorf("missing profile %q", name)
	}
}

func TestValidateProfile(t *testing.T) {
	ok := store.CurveProfile{
		ProfileName: "custom-steep", ControlX1: 0.1, ControlY1: 0.9,
		ControlX2: 0.2, ControlY2: 1, Description: "very steep early ramp",
	}
	if err := ValidateProfile(ok); err != nil {
		t.Fatalf("valid profile rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*store.CurveProfile)
	}{
		{"name too short", func(p *store.CurveProfile) { p.ProfileName = "ab" }},
		{"name too long", func(p *store.CurveProfile) { p.ProfileName = strings.Repeat("x", 51) }},
		{"x1 out of range", func(p *store.CurveProfile) { p.ControlX1 = 1.5 }},
		{"x2 negative", func(p *store.CurveProfile) { p.ControlX2 = -0.1 }},
		{"y1 below range", func(p *store.CurveProfile) { p.ControlY1 = -2.5 }},
		{"y2 above range", func(p *store.CurveProfile) { p.ControlY2 = 2.5 }},
		{"description too short", func(p *store.CurveProfile) { p.Description = "short" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ok
			tt.mutate(&p)
			if err := ValidateProfile(p); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAggressivenessBoundaries(t *testing.T) {
	curve := CurveFor(profileByName(t, "aggressive"))

	tests := []struct {
		size     int
		wantA    float64 // exact, or -1 to skip
		wantZone string
	}{
		{20, 0.0, ZoneComfort},
		{30, 0.0, ZoneComfort},  // at vocab_min
		{300, 1.0, ZoneBlock},   // at emergency
		{320, 1.0, ZoneBlock},   // beyond emergency
		{35, -1, ZoneComfort},   // just above min
		{50, -1, ZoneWatch},     // a third into the window
		{65, -1, ZoneMerge},     // past the midpoint
		{80, -1, ZoneMixed},     // approaching the soft max
		{95, -1, ZoneEmergency}, // past soft max, below emergency
	}
	for _, tt := range tests {
		a, zone := Aggressiveness(tt.size, 30, 90, 300, curve)
		if zone != tt.wantZone {
			t.Errorf("Aggressiveness(%d) zone = %s, want %s (a=%f)", tt.size, zone, tt.wantZone, a)
		}
		if tt.wantA >= 0 && a != tt.wantA {
			t.Errorf("Aggressiveness(%d) = %f, want exactly %f", tt.size, a, tt.wantA)
		}
	}
}

func TestAggressivenessOverageBoost(t *testing.T) {
	curve := CurveFor(profileByName(t, "aggressive"))

	a85, _ := Aggressiveness(85, 30, 90, 300, curve)
	a95, zone95 := Aggressiveness(95, 30, 90, 300, curve)
	if a95 <= a85 {
		t.Errorf("past the soft max should boost: a(95)=%f <= a(85)=%f", a95, a85)
	}
	if a95 < 0.9 || zone95 != ZoneEmergency {
		t.Errorf("a(95) = %f zone %s, want >= 0.9 emergency", a95, zone95)
	}
}

func TestAggressivenessRange(t *testing.T) {
	curve := CurveFor(profileByName(t, "aggressive"))
	valid := map[string]bool{
		ZoneComfort: true, ZoneWatch: true, ZoneMerge: true,
		ZoneMixed: true, ZoneEmergency: true, ZoneBlock: true,
	}
	for size := 0; size <= 350; size += 5 {
		a, zone := Aggressiveness(size, 30, 90, 300, curve)
		if a < 0 || a > 1 {
			t.Errorf("Aggressiveness(%d) = %f out of [0,1]", size, a)
		}
		if !valid[zone] {
			t.Errorf("Aggressiveness(%d) zone = %q", size, zone)
		}
	}
}

func TestZonesAppearInOrder(t *testing.T) {
	curve := CurveFor(profileByName(t, "aggressive"))
	order := map[string]int{
		ZoneComfort: 0, ZoneWatch: 1, ZoneMerge: 2,
		ZoneMixed: 3, ZoneEmergency: 4, ZoneBlock: 5,
	}
	last := -1
	for size := 30; size <= 300; size++ {
		_, zone := Aggressiveness(size, 30, 90, 300, curve)
		if order[zone] < last {
			t.Fatalf("zone regressed to %s at size %d", zone, size)
		}
		last = order[zone]
	}
}
