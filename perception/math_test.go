package perception

import (
	"math"
	"testing"
)

func TestNormalizeAngle(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{math.Pi / 2, math.Pi / 2},
		{3 * math.Pi, math.Pi},
		{-3 * math.Pi, -math.Pi},
		{2 * math.Pi, 0},
	}
	for _, tc := range cases {
		if got := NormalizeAngle(tc.in); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("NormalizeAngle(%g) = %g, want %g", tc.in, got, tc.want)
		}
	}
}

func TestToroidalDelta(t *testing.T) {
	// Straight-line delta inside the world.
	dx, dy := ToroidalDelta(10, 10, 20, 15, 60, 60)
	if dx != 10 || dy != 5 {
		t.Errorf("delta = (%g, %g), want (10, 5)", dx, dy)
	}

	// Wrap-around is shorter across the seam.
	dx, dy = ToroidalDelta(5, 30, 55, 30, 60, 60)
	if dx != -10 || dy != 0 {
		t.Errorf("wrapped delta = (%g, %g), want (-10, 0)", dx, dy)
	}
	dx, _ = ToroidalDelta(55, 30, 5, 30, 60, 60)
	if dx != 10 {
		t.Errorf("wrapped delta = %g, want 10", dx)
	}
}
