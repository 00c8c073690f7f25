package perception

import (
	"fmt"
	"math"
)

// ZoneStrategy maps a radial bin index (0-based) to a haze value in [0,1].
// The near "critical" zone carries low haze (high precision); the far
// "peripheral" zone carries high haze. Whether the transition between the
// two is a hard step or a smooth sigmoid is an unresolved empirical choice,
// so both live behind this interface and are picked at configuration time.
type ZoneStrategy interface {
	Haze(bin int) float64
}

// StepZone is the hard-step transition: every bin up to and including the
// boundary gets the critical haze, every bin past it the peripheral haze.
type StepZone struct {
	boundary   int // 0-based index of the last critical bin
	critical   float64
	peripheral float64
}

// NewStepZone builds a hard-step zone strategy. boundary is 1-based, as in
// the haze schedule supplied by the harness, and must lie in [1, radialBins].
func NewStepZone(boundary, radialBins int, critical, peripheral float64) (StepZone, error) {
	if err := validateZone(boundary, radialBins, critical, peripheral); err != nil {
		return StepZone{}, err
	}
	return StepZone{boundary: boundary - 1, critical: critical, peripheral: peripheral}, nil
}

// Haze returns the haze for the given 0-based radial bin.
func (z StepZone) Haze(bin int) float64 {
	if bin <= z.boundary {
		return z.critical
	}
	return z.peripheral
}

// SigmoidZone blends the two haze levels smoothly across the boundary.
// The smooth transition keeps the precision field differentiable, which
// gradient-based action selection needs; the cost is a softer zone edge.
type SigmoidZone struct {
	boundary   float64 // 0-based boundary position
	critical   float64
	peripheral float64
	width      float64 // transition width in radial bins
}

// NewSigmoidZone builds a smooth zone strategy. boundary is 1-based;
// width is the transition scale in bins and must be positive.
func NewSigmoidZone(boundary, radialBins int, critical, peripheral, width float64) (SigmoidZone, error) {
	if err := validateZone(boundary, radialBins, critical, peripheral); err != nil {
		return SigmoidZone{}, err
	}
	if width <= 0 {
		return SigmoidZone{}, fmt.Errorf("sigmoid zone width must be > 0, got %g", width)
	}
	return SigmoidZone{
		boundary:   float64(boundary - 1),
		critical:   critical,
		peripheral: peripheral,
		width:      width,
	}, nil
}

// Haze returns the blended haze for the given 0-based radial bin.
func (z SigmoidZone) Haze(bin int) float64 {
	blend := 1.0 / (1.0 + math.Exp(-(float64(bin)-z.boundary)/z.width))
	return z.critical + (z.peripheral-z.critical)*blend
}

func validateZone(boundary, radialBins int, critical, peripheral float64) error {
	if boundary < 1 || boundary > radialBins {
		return fmt.Errorf("zone boundary %d outside [1, %d]", boundary, radialBins)
	}
	if critical < 0 || critical > 1 {
		return fmt.Errorf("critical haze %g outside [0,1]", critical)
	}
	if peripheral < 0 || peripheral > 1 {
		return fmt.Errorf("peripheral haze %g outside [0,1]", peripheral)
	}
	return nil
}

// WeightParams bound the haze-to-weight conversion. Epsilon keeps the
// inverse finite at zero haze; the clamp bounds gradients on both sides.
type WeightParams struct {
	Epsilon   float64
	WeightMin float64
	WeightMax float64
}

// WeightFromHaze converts a haze value to a precision weight,
// weight = 1/(haze+epsilon), clamped to [WeightMin, WeightMax].
// The weight is strictly decreasing in haze inside the clamp range.
func WeightFromHaze(haze float64, p WeightParams) float64 {
	return clampFloat(1.0/(haze+p.Epsilon), p.WeightMin, p.WeightMax)
}

// PrecisionMap holds per-bin importance weights: a radial profile derived
// from the zone strategy, broadcast across angular bins, with an optional
// per-angle attenuation from self-haze. Built once per timestep and
// treated as immutable afterwards.
type PrecisionMap struct {
	nr, nt  int
	radial  []float64
	angular []float64 // multiplicative attenuation per angular bin, 1 = none
	params  WeightParams
}

// NewPrecisionMap derives the per-bin weights from a zone strategy.
func NewPrecisionMap(radialBins, angularBins int, zone ZoneStrategy, p WeightParams) (*PrecisionMap, error) {
	if radialBins < 1 || angularBins < 1 {
		return nil, fmt.Errorf("precision map dimensions %dx%d invalid", radialBins, angularBins)
	}
	if p.Epsilon <= 0 || p.WeightMin <= 0 || p.WeightMax < p.WeightMin {
		return nil, fmt.Errorf("invalid weight params: eps=%g clamp=[%g,%g]",
			p.Epsilon, p.WeightMin, p.WeightMax)
	}

	pm := &PrecisionMap{
		nr:      radialBins,
		nt:      angularBins,
		radial:  make([]float64, radialBins),
		angular: make([]float64, angularBins),
		params:  p,
	}
	for r := 0; r < radialBins; r++ {
		pm.radial[r] = WeightFromHaze(zone.Haze(r), p)
	}
	for t := 0; t < angularBins; t++ {
		pm.angular[t] = 1.0
	}
	return pm, nil
}

// RadialBins returns the radial dimension.
func (pm *PrecisionMap) RadialBins() int { return pm.nr }

// AngularBins returns the angular dimension.
func (pm *PrecisionMap) AngularBins() int { return pm.nt }

// Weight returns the radial precision weight for a 0-based bin.
func (pm *PrecisionMap) Weight(r int) float64 {
	return pm.radial[r]
}

// WeightAt returns the effective weight for a (radial, angular) bin,
// including any angular attenuation, clamped to the configured bounds.
func (pm *PrecisionMap) WeightAt(r, t int) float64 {
	return clampFloat(pm.radial[r]*pm.angular[t], pm.params.WeightMin, pm.params.WeightMax)
}

// Modulated returns a copy with haze modulation applied: environmental haze
// attenuates every bin by (1-h)^2, and self-haze attenuates a frontal
// angular sector of the given half-width the same way. The frontal sector
// is centered on relative angle zero (the agent's heading). Attenuations
// compound; effective weights stay inside the configured clamp.
func (pm *PrecisionMap) Modulated(envHaze, selfHaze float64, frontalHalfWidth int) *PrecisionMap {
	out := &PrecisionMap{
		nr:      pm.nr,
		nt:      pm.nt,
		radial:  make([]float64, pm.nr),
		angular: make([]float64, pm.nt),
		params:  pm.params,
	}
	envAtt := (1 - clamp01(envHaze)) * (1 - clamp01(envHaze))
	for r := 0; r < pm.nr; r++ {
		out.radial[r] = clampFloat(pm.radial[r]*envAtt, pm.params.WeightMin, pm.params.WeightMax)
	}
	copy(out.angular, pm.angular)

	if selfHaze > 0 {
		selfAtt := (1 - clamp01(selfHaze)) * (1 - clamp01(selfHaze))
		// Relative angle 0 sits in the middle of the angular range.
		center := pm.nt / 2
		for dt := -frontalHalfWidth; dt <= frontalHalfWidth; dt++ {
			t := ((center+dt)%pm.nt + pm.nt) % pm.nt
			out.angular[t] *= selfAtt
		}
	}
	return out
}
