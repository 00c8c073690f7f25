// Package perception builds egocentric log-polar perception maps from
// relative neighbor and obstacle state, and derives the precision field
// that weights them.
package perception

import (
	"fmt"
	"math"

	"github.com/pthm-cable/wayfield/components"
)

// Perception map channels.
const (
	ChannelOccupancy = 0 // bin contains at least one entity
	ChannelProximity = 1 // proximity saliency, 1 at contact range, 0 at sensing limit
	ChannelRisk      = 2 // normalized approach speed of the most salient entity
	NumChannels      = 3
)

// Map is an immutable log-polar perception tensor
// [channels x radial bins x angular bins] with all values in [0,1].
type Map struct {
	nr, nt int
	data   []float64 // index (c*nr+r)*nt + t
}

// NewMap allocates a zeroed map of the given shape.
func NewMap(radialBins, angularBins int) *Map {
	return &Map{
		nr:   radialBins,
		nt:   angularBins,
		data: make([]float64, NumChannels*radialBins*angularBins),
	}
}

// MapFromVector builds a map from a flat channel-major vector, clamping
// every value to [0,1]. The vector length must match the shape.
func MapFromVector(radialBins, angularBins int, v []float64) (*Map, error) {
	m := NewMap(radialBins, angularBins)
	if len(v) != len(m.data) {
		return nil, fmt.Errorf("vector length %d does not match map size %d", len(v), len(m.data))
	}
	for i, x := range v {
		m.data[i] = clamp01(x)
	}
	return m, nil
}

// RadialBins returns the radial dimension.
func (m *Map) RadialBins() int { return m.nr }

// AngularBins returns the angular dimension.
func (m *Map) AngularBins() int { return m.nt }

// Size returns the total number of values.
func (m *Map) Size() int { return len(m.data) }

// At returns the value of channel c at bin (r, t).
func (m *Map) At(c, r, t int) float64 {
	return m.data[(c*m.nr+r)*m.nt+t]
}

// AppendFlat appends the map's values in channel-major order to dst and
// returns the extended slice. Used to feed the map into the model without
// exposing internal storage.
func (m *Map) AppendFlat(dst []float64) []float64 {
	return append(dst, m.data...)
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	out := NewMap(m.nr, m.nt)
	copy(out.data, m.data)
	return out
}

// BuilderConfig holds the geometry and aggregation parameters for map
// construction.
type BuilderConfig struct {
	RadialBins  int
	AngularBins int
	RMin        float64 // contact range: ego radius + entity radius
	DMax        float64 // sensing range
	SpeedNorm   float64 // approach-speed normalization for the risk channel
	BetaScale   float64 // aggregation sharpness per unit precision weight
	BetaMin     float64
	BetaMax     float64
}

// MapBuilder converts entity lists into perception maps. It is stateless
// apart from its configuration and safe for concurrent use.
type MapBuilder struct {
	cfg      BuilderConfig
	logScale float64 // radial bins per log-distance unit
}

// NewMapBuilder validates the geometry and returns a builder.
func NewMapBuilder(cfg BuilderConfig) (*MapBuilder, error) {
	if cfg.RadialBins < 2 || cfg.AngularBins < 2 {
		return nil, fmt.Errorf("map shape %dx%d too small", cfg.RadialBins, cfg.AngularBins)
	}
	if cfg.RMin <= 0 || cfg.DMax <= cfg.RMin {
		return nil, fmt.Errorf("sensing range [%g, %g] invalid", cfg.RMin, cfg.DMax)
	}
	if cfg.SpeedNorm <= 0 {
		return nil, fmt.Errorf("speed norm must be > 0, got %g", cfg.SpeedNorm)
	}
	if cfg.BetaMin <= 0 || cfg.BetaMax < cfg.BetaMin {
		return nil, fmt.Errorf("beta clamp [%g, %g] invalid", cfg.BetaMin, cfg.BetaMax)
	}
	return &MapBuilder{
		cfg:      cfg,
		logScale: float64(cfg.RadialBins-1) / math.Log(cfg.DMax/cfg.RMin),
	}, nil
}

// Config returns the builder's configuration.
func (b *MapBuilder) Config() BuilderConfig { return b.cfg }

// RadialBin maps a distance to a 0-based radial bin. Distances at or below
// contact range land in bin 0; the rest follow a logarithmic scale clipped
// to the outermost bin.
func (b *MapBuilder) RadialBin(dist float64) int {
	if dist <= b.cfg.RMin {
		return 0
	}
	bin := int(math.Floor(1 + b.logScale*math.Log(dist/b.cfg.RMin)))
	if bin < 1 {
		bin = 1
	}
	if bin >= b.cfg.RadialBins {
		bin = b.cfg.RadialBins - 1
	}
	return bin
}

// AngularBin maps a relative angle to a 0-based angular bin by linear
// division of the full field of view [-Pi, Pi).
func (b *MapBuilder) AngularBin(relAngle float64) int {
	a := NormalizeAngle(relAngle)
	bin := int((a + math.Pi) / (2 * math.Pi) * float64(b.cfg.AngularBins))
	// a == Pi wraps to bin 0
	return ((bin % b.cfg.AngularBins) + b.cfg.AngularBins) % b.cfg.AngularBins
}

// BinAngle returns the center angle of a 0-based angular bin.
func (b *MapBuilder) BinAngle(t int) float64 {
	w := 2 * math.Pi / float64(b.cfg.AngularBins)
	return -math.Pi + (float64(t)+0.5)*w
}

// BinDistance returns the representative distance of a 0-based radial bin
// (the inverse of RadialBin at the bin's lower edge).
func (b *MapBuilder) BinDistance(r int) float64 {
	if r <= 0 {
		return 0
	}
	return b.cfg.RMin * math.Exp(float64(r-1)/b.logScale)
}

// Build constructs the perception map for one agent. Entities carry
// relative position and relative velocity in the world frame; angles are
// re-expressed in the ego frame using the agent's heading. Entities beyond
// sensing range are skipped. A malformed entity aborts the build with an
// EntityStateError; the caller is expected to filter upstream and retry.
//
// Bins holding several entities aggregate each channel with a softmax
// combination sharpened by the per-radial-bin precision weight:
//
//	agg(v, w, beta) = sum(v_i * exp(beta*w_i)) / sum(exp(beta*w_i))
//
// where w_i is the entity's proximity saliency. High beta selects the most
// salient entity; beta near zero degrades to the arithmetic mean. Beta is
// clamped to a finite positive range so the exponentials cannot overflow.
func (b *MapBuilder) Build(ego components.AgentState, entities []Entity, prec *PrecisionMap) (*Map, error) {
	if prec.RadialBins() != b.cfg.RadialBins || prec.AngularBins() != b.cfg.AngularBins {
		return nil, fmt.Errorf("precision map shape %dx%d does not match builder %dx%d",
			prec.RadialBins(), prec.AngularBins(), b.cfg.RadialBins, b.cfg.AngularBins)
	}

	nBins := b.cfg.RadialBins * b.cfg.AngularBins
	var num [NumChannels][]float64
	for c := range num {
		num[c] = make([]float64, nBins)
	}
	den := make([]float64, nBins)

	for i, en := range entities {
		if err := en.Validate(i); err != nil {
			return nil, err
		}

		dist := math.Hypot(en.RelX, en.RelY)
		if dist > b.cfg.DMax {
			continue
		}

		relAngle := NormalizeAngle(math.Atan2(en.RelY, en.RelX) - ego.Heading)
		r := b.RadialBin(dist)
		t := b.AngularBin(relAngle)
		bin := r*b.cfg.AngularBins + t

		prox := clamp01(1 - dist/b.cfg.DMax)

		// Radial component of relative velocity; negative means approaching.
		erX, erY := en.RelX/dist, en.RelY/dist
		vRad := en.RelVX*erX + en.RelVY*erY
		risk := clamp01(math.Max(0, -vRad) / b.cfg.SpeedNorm)

		beta := clampFloat(b.cfg.BetaScale*prec.Weight(r), b.cfg.BetaMin, b.cfg.BetaMax)
		ew := math.Exp(beta * prox)

		den[bin] += ew
		num[ChannelOccupancy][bin] += 1.0 * ew
		num[ChannelProximity][bin] += prox * ew
		num[ChannelRisk][bin] += risk * ew
	}

	m := NewMap(b.cfg.RadialBins, b.cfg.AngularBins)
	for c := 0; c < NumChannels; c++ {
		for bin := 0; bin < nBins; bin++ {
			if den[bin] > 0 {
				m.data[c*nBins+bin] = clamp01(num[c][bin] / den[bin])
			}
		}
	}
	return m, nil
}
