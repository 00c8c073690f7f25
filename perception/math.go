package perception

import "math"

// clampFloat clamps v between minVal and maxVal.
func clampFloat(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

// clamp01 clamps v to the [0, 1] range.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizeAngle wraps an angle to [-Pi, Pi].
func NormalizeAngle(angle float64) float64 {
	for angle > math.Pi {
		angle -= 2 * math.Pi
	}
	for angle < -math.Pi {
		angle += 2 * math.Pi
	}
	return angle
}

// ToroidalDelta returns the shortest displacement from (x1,y1) to (x2,y2)
// in a toroidal world of the given size.
func ToroidalDelta(x1, y1, x2, y2, width, height float64) (dx, dy float64) {
	dx = x2 - x1
	dy = y2 - y1

	if dx > width/2 {
		dx -= width
	} else if dx < -width/2 {
		dx += width
	}
	if dy > height/2 {
		dy -= height
	} else if dy < -height/2 {
		dy += height
	}
	return dx, dy
}

// isFinite reports whether v is neither NaN nor infinite.
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
