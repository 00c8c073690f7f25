// Package main provides CMA-ES optimization for haze-schedule and cost
// parameters that produce low-collision, high-progress crowd navigation.
package main

import (
	"math"

	"github.com/pthm-cable/wayfield/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of optimizable parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			// Haze schedule
			{Name: "zone_boundary", Path: "precision.zone_boundary", Min: 2, Max: 12, Default: 6},
			{Name: "haze_peripheral", Path: "precision.haze_peripheral", Min: 0.1, Max: 0.9, Default: 0.5},
			{Name: "transition_width", Path: "precision.transition_width", Min: 0.5, Max: 4.0, Default: 2.0},
			// Cost weights (goal_weight locked at 0.5 as the scale anchor)
			{Name: "safety_weight", Path: "cost.safety_weight", Min: 0.2, Max: 3.0, Default: 1.0},
			{Name: "surprise_weight", Path: "cost.surprise_weight", Min: 0.0, Max: 1.0, Default: 0.3},
			// Deadlock handling
			{Name: "self_haze_rise", Path: "sim.self_haze_rise", Min: 0.01, Max: 0.2, Default: 0.05},
			{Name: "stuck_ticks", Path: "sim.stuck_ticks", Min: 10, Max: 120, Default: 50},
			// Dynamics
			{Name: "accel_relax", Path: "sim.accel_relax", Min: 1.0, Max: 8.0, Default: 4.0},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		val := v[i]
		if val < spec.Min {
			val = spec.Min
		}
		if val > spec.Max {
			val = spec.Max
		}
		clamped[i] = val
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)

	// Order must match Specs order
	i := 0
	cfg.Precision.ZoneBoundary = int(math.Round(clamped[i]))
	i++
	cfg.Precision.HazePeripheral = clamped[i]
	i++
	cfg.Precision.TransitionWidth = clamped[i]
	i++
	cfg.Cost.GoalWeight = 0.5 // locked: anchors the cost scale
	cfg.Cost.SafetyWeight = clamped[i]
	i++
	cfg.Cost.SurpriseWeight = clamped[i]
	i++
	cfg.Sim.SelfHazeRise = clamped[i]
	i++
	cfg.Sim.StuckTicks = int32(math.Round(clamped[i]))
	i++
	cfg.Sim.AccelRelax = clamped[i]
}
