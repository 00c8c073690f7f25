// Package model provides the predictive world model: a stochastic
// encoder with twin decoder heads that, given a perception map and a
// candidate action, predict the next map and reconstruct the current one.
// Parameters are trained offline; at inference time they are immutable and
// shared read-only across all agent decisions.
package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pthm-cable/wayfield/components"
	"github.com/pthm-cable/wayfield/perception"
)

// ErrModelUnavailable means no usable model could be loaded. There is no
// safe default prediction: safety and surprise terms are meaningless
// without the model, so callers must fail fast.
var ErrModelUnavailable = errors.New("predictive model unavailable")

// ErrPredictionDivergence means the model produced NaN/Inf outputs.
// The affected decision must fall back to a safe default action rather
// than trusting a silently substituted prediction.
var ErrPredictionDivergence = errors.New("prediction diverged to non-finite values")

// actionDims is the size of the action vector appended to model inputs.
const actionDims = 2

// layer is one dense layer, out x in.
type layer struct {
	w *mat.Dense
	b []float64
}

// apply computes w*in + b into a fresh slice.
func (l *layer) apply(in []float64) []float64 {
	rows, _ := l.w.Dims()
	out := make([]float64, rows)
	v := mat.NewVecDense(rows, out)
	v.MulVec(l.w, mat.NewVecDense(len(in), in))
	for i := range out {
		out[i] += l.b[i]
	}
	return out
}

// Latent holds the encoder's output distribution over the latent space.
// Its lifetime is a single evaluation call; it is never persisted.
type Latent struct {
	Mean   []float64
	LogVar []float64
}

// Sample draws one latent vector from the distribution. Inference inside
// the control loop always uses the mean; sampling exists for offline
// diagnostics and dataset generation.
func (l Latent) Sample(src rand.Source) []float64 {
	out := make([]float64, len(l.Mean))
	for i := range out {
		n := distuv.Normal{
			Mu:    l.Mean[i],
			Sigma: math.Exp(0.5 * l.LogVar[i]),
			Src:   src,
		}
		out[i] = n.Rand()
	}
	return out
}

// Predictive is the inference-time world model. All methods are pure with
// respect to the receiver and safe for concurrent use.
type Predictive struct {
	nr, nt    int
	latentDim int
	inLen     int // flattened map + action
	mapSize   int

	encoder []layer // last layer emits [mean | logvar], linear
	next    []layer // latent+action -> predicted next map, sigmoid output
	recon   []layer // latent+action -> current map reconstruction, sigmoid output
}

// NewRandom creates a randomly initialized model with one hidden layer per
// stage, Xavier-scaled. Useful for tests and for exercising the control
// loop before a trained weights file exists.
func NewRandom(rng *rand.Rand, radialBins, angularBins, latentDim, hiddenDim int) *Predictive {
	mapSize := perception.NumChannels * radialBins * angularBins
	inLen := mapSize + actionDims

	p := &Predictive{
		nr:        radialBins,
		nt:        angularBins,
		latentDim: latentDim,
		inLen:     inLen,
		mapSize:   mapSize,
	}
	p.encoder = []layer{
		randomLayer(rng, hiddenDim, inLen),
		randomLayer(rng, 2*latentDim, hiddenDim),
	}
	p.next = []layer{
		randomLayer(rng, hiddenDim, latentDim+actionDims),
		randomLayer(rng, mapSize, hiddenDim),
	}
	p.recon = []layer{
		randomLayer(rng, hiddenDim, latentDim+actionDims),
		randomLayer(rng, mapSize, hiddenDim),
	}
	return p
}

func randomLayer(rng *rand.Rand, out, in int) layer {
	// Xavier initialization
	scale := math.Sqrt(2.0 / float64(in))
	w := mat.NewDense(out, in, nil)
	for i := 0; i < out; i++ {
		for j := 0; j < in; j++ {
			w.Set(i, j, rng.NormFloat64()*scale)
		}
	}
	return layer{w: w, b: make([]float64, out)}
}

// LatentDim returns the latent space size.
func (p *Predictive) LatentDim() int { return p.latentDim }

// MapShape returns the perception map shape the model was built for.
func (p *Predictive) MapShape() (radialBins, angularBins int) { return p.nr, p.nt }

// forward runs in through the layer stack with tanh on all but the last
// layer, which stays linear. The caller applies any output activation.
func forward(layers []layer, in []float64) []float64 {
	x := in
	for i := range layers {
		x = layers[i].apply(x)
		if i < len(layers)-1 {
			for j := range x {
				x[j] = math.Tanh(x[j])
			}
		}
	}
	return x
}

// Encode maps a perception map and a candidate action to a latent
// distribution.
func (p *Predictive) Encode(m *perception.Map, a components.Action) (Latent, error) {
	if m.Size() != p.mapSize {
		return Latent{}, fmt.Errorf("map size %d does not match model input %d: %w",
			m.Size(), p.mapSize, ErrModelUnavailable)
	}

	in := make([]float64, 0, p.inLen)
	in = m.AppendFlat(in)
	in = append(in, a.X, a.Y)

	out := forward(p.encoder, in)
	lat := Latent{
		Mean:   out[:p.latentDim],
		LogVar: out[p.latentDim:],
	}
	if !allFinite(lat.Mean) || !allFinite(lat.LogVar) {
		return Latent{}, fmt.Errorf("encoder output: %w", ErrPredictionDivergence)
	}
	return lat, nil
}

// Decode maps a latent vector and action to the predicted next perception
// map.
func (p *Predictive) Decode(z []float64, a components.Action) (*perception.Map, error) {
	return p.decodeHead(p.next, z, a)
}

// Reconstruct maps a latent vector and action to a reconstruction of the
// current perception map, used as the surprise signal.
func (p *Predictive) Reconstruct(z []float64, a components.Action) (*perception.Map, error) {
	return p.decodeHead(p.recon, z, a)
}

func (p *Predictive) decodeHead(head []layer, z []float64, a components.Action) (*perception.Map, error) {
	if len(z) != p.latentDim {
		return nil, fmt.Errorf("latent size %d does not match model %d: %w",
			len(z), p.latentDim, ErrModelUnavailable)
	}

	in := make([]float64, 0, p.latentDim+actionDims)
	in = append(in, z...)
	in = append(in, a.X, a.Y)

	out := forward(head, in)
	for i := range out {
		out[i] = sigmoid(out[i])
	}
	if !allFinite(out) {
		return nil, fmt.Errorf("decoder output: %w", ErrPredictionDivergence)
	}
	return perception.MapFromVector(p.nr, p.nt, out)
}

// Predict is the primary inference entry point: one forward pass producing
// the predicted next map and the reconstruction of the current map for a
// candidate action. Decoding uses the latent mean, so the result is
// deterministic for a given (map, action) pair.
func (p *Predictive) Predict(m *perception.Map, a components.Action) (predicted, reconstructed *perception.Map, err error) {
	lat, err := p.Encode(m, a)
	if err != nil {
		return nil, nil, err
	}
	predicted, err = p.Decode(lat.Mean, a)
	if err != nil {
		return nil, nil, err
	}
	reconstructed, err = p.Reconstruct(lat.Mean, a)
	if err != nil {
		return nil, nil, err
	}
	return predicted, reconstructed, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
