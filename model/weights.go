package model

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/pthm-cable/wayfield/perception"
)

// layerJSON holds one dense layer's flattened weights for serialization.
type layerJSON struct {
	In  int       `json:"in"`
	Out int       `json:"out"`
	W   []float64 `json:"w"` // row-major, Out x In
	B   []float64 `json:"b"` // Out
}

// weightsFile is the on-disk model format.
type weightsFile struct {
	RadialBins  int         `json:"radial_bins"`
	AngularBins int         `json:"angular_bins"`
	Channels    int         `json:"channels"`
	LatentDim   int         `json:"latent_dim"`
	Encoder     []layerJSON `json:"encoder"`
	NextHead    []layerJSON `json:"next_head"`
	ReconHead   []layerJSON `json:"recon_head"`
}

// Load reads pretrained model parameters from a JSON weights file. The map
// shape must match the perception configuration; any read, parse, or shape
// problem wraps ErrModelUnavailable so callers can fail fast.
func Load(path string, radialBins, angularBins int) (*Predictive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading weights file %s: %v: %w", path, err, ErrModelUnavailable)
	}

	var wf weightsFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing weights file %s: %v: %w", path, err, ErrModelUnavailable)
	}

	if wf.RadialBins != radialBins || wf.AngularBins != angularBins {
		return nil, fmt.Errorf("weights trained for %dx%d map, configured %dx%d: %w",
			wf.RadialBins, wf.AngularBins, radialBins, angularBins, ErrModelUnavailable)
	}
	if wf.Channels != perception.NumChannels {
		return nil, fmt.Errorf("weights trained for %d channels, core uses %d: %w",
			wf.Channels, perception.NumChannels, ErrModelUnavailable)
	}
	if wf.LatentDim < 1 {
		return nil, fmt.Errorf("latent dim %d invalid: %w", wf.LatentDim, ErrModelUnavailable)
	}

	mapSize := perception.NumChannels * radialBins * angularBins
	p := &Predictive{
		nr:        radialBins,
		nt:        angularBins,
		latentDim: wf.LatentDim,
		inLen:     mapSize + actionDims,
		mapSize:   mapSize,
	}

	if p.encoder, err = buildLayers(wf.Encoder, p.inLen, 2*wf.LatentDim); err != nil {
		return nil, fmt.Errorf("encoder: %v: %w", err, ErrModelUnavailable)
	}
	if p.next, err = buildLayers(wf.NextHead, wf.LatentDim+actionDims, mapSize); err != nil {
		return nil, fmt.Errorf("next head: %v: %w", err, ErrModelUnavailable)
	}
	if p.recon, err = buildLayers(wf.ReconHead, wf.LatentDim+actionDims, mapSize); err != nil {
		return nil, fmt.Errorf("recon head: %v: %w", err, ErrModelUnavailable)
	}
	return p, nil
}

// buildLayers assembles a layer stack, checking that the dimensions chain
// from wantIn to wantOut and that every value is finite.
func buildLayers(spec []layerJSON, wantIn, wantOut int) ([]layer, error) {
	if len(spec) == 0 {
		return nil, fmt.Errorf("no layers")
	}
	layers := make([]layer, len(spec))
	in := wantIn
	for i, lj := range spec {
		if lj.In != in {
			return nil, fmt.Errorf("layer %d expects %d inputs, previous layer feeds %d", i, lj.In, in)
		}
		if len(lj.W) != lj.Out*lj.In || len(lj.B) != lj.Out {
			return nil, fmt.Errorf("layer %d weight shapes inconsistent", i)
		}
		if !allFinite(lj.W) || !allFinite(lj.B) {
			return nil, fmt.Errorf("layer %d contains non-finite weights", i)
		}
		w := mat.NewDense(lj.Out, lj.In, lj.W)
		b := make([]float64, lj.Out)
		copy(b, lj.B)
		layers[i] = layer{w: w, b: b}
		in = lj.Out
	}
	if in != wantOut {
		return nil, fmt.Errorf("final layer emits %d values, expected %d", in, wantOut)
	}
	return layers, nil
}

// Save writes the model's parameters as a JSON weights file. Used by
// tooling that generates or converts models; the control loop never writes.
func (p *Predictive) Save(path string) error {
	wf := weightsFile{
		RadialBins:  p.nr,
		AngularBins: p.nt,
		Channels:    perception.NumChannels,
		LatentDim:   p.latentDim,
		Encoder:     marshalLayers(p.encoder),
		NextHead:    marshalLayers(p.next),
		ReconHead:   marshalLayers(p.recon),
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshaling weights: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing weights file: %w", err)
	}
	return nil
}

func marshalLayers(layers []layer) []layerJSON {
	out := make([]layerJSON, len(layers))
	for i := range layers {
		rows, cols := layers[i].w.Dims()
		lj := layerJSON{
			In:  cols,
			Out: rows,
			W:   make([]float64, 0, rows*cols),
			B:   make([]float64, rows),
		}
		for r := 0; r < rows; r++ {
			lj.W = append(lj.W, layers[i].w.RawRowView(r)...)
		}
		copy(lj.B, layers[i].b)
		out[i] = lj
	}
	return out
}
