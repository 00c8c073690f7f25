// Package control implements free-energy action evaluation and selection:
// the cost decomposition over goal progress, precision-weighted safety, and
// precision-weighted surprise, and the search for the action minimizing it.
package control

import (
	"fmt"
	"math"

	"github.com/pthm-cable/wayfield/components"
	"github.com/pthm-cable/wayfield/perception"
)

// Dynamics predicts the post-action velocity of an agent deterministically.
// The simulation harness supplies the same function it integrates with, so
// the goal term scores the velocity the agent will actually have.
type Dynamics func(s components.AgentState, a components.Action) components.Velocity

// RelaxationDynamics returns the first-order velocity relaxation used by the
// harness: the velocity moves toward the action by a fraction relax*dt per
// step, capped at 1.
func RelaxationDynamics(relax, dt float64) Dynamics {
	f := relax * dt
	if f > 1 {
		f = 1
	}
	return func(s components.AgentState, a components.Action) components.Velocity {
		return components.Velocity{
			X: s.Vel.X + (a.X-s.Vel.X)*f,
			Y: s.Vel.Y + (a.Y-s.Vel.Y)*f,
		}
	}
}

// GoalMode selects how the goal term scores the post-action velocity.
type GoalMode int

const (
	// GoalDirection scores the negative projection onto the preferred
	// direction: progress lowers cost.
	GoalDirection GoalMode = iota
	// GoalVelocity scores the squared distance to the preferred velocity.
	GoalVelocity
)

// Weights are the non-negative term weights of the total cost.
type Weights struct {
	Goal     float64
	Safety   float64
	Surprise float64
}

// FreeEnergy is the scalar decision cost for one candidate action, with
// its per-term breakdown kept for diagnostics.
type FreeEnergy struct {
	Total    float64
	Goal     float64
	Safety   float64
	Surprise float64
}

// IsFinite reports whether the total cost is a usable finite number.
func (f FreeEnergy) IsFinite() bool {
	return !math.IsNaN(f.Total) && !math.IsInf(f.Total, 0)
}

// Evaluator combines the three cost terms. It holds only immutable
// configuration and is safe to share across goroutines; Evaluate is a pure
// function of its inputs.
type Evaluator struct {
	weights Weights
	mode    GoalMode
	dyn     Dynamics
}

// NewEvaluator validates the weights and returns an evaluator.
func NewEvaluator(w Weights, mode GoalMode, dyn Dynamics) (*Evaluator, error) {
	if w.Goal < 0 || w.Safety < 0 || w.Surprise < 0 {
		return nil, fmt.Errorf("cost weights must be non-negative, got %+v", w)
	}
	if dyn == nil {
		return nil, fmt.Errorf("dynamics function is required")
	}
	return &Evaluator{weights: w, mode: mode, dyn: dyn}, nil
}

// EvalInput carries everything one cost evaluation reads. All maps are
// treated as read-only.
type EvalInput struct {
	State         components.AgentState
	Action        components.Action
	Goal          components.Goal
	Current       *perception.Map
	Predicted     *perception.Map
	Reconstructed *perception.Map
	Precision     *perception.PrecisionMap
}

// Evaluate computes the free-energy cost of a candidate action.
//
// Goal: progress of the predicted post-action velocity toward the goal.
// Safety: precision-weighted risk and proximity summed over the predicted
// map, so near-field risk dominates while far-field risk is discounted.
// Surprise: precision-weighted squared reconstruction error between the
// current map and the model's reconstruction of it under this action.
func (e *Evaluator) Evaluate(in EvalInput) (FreeEnergy, error) {
	if err := checkShapes(in); err != nil {
		return FreeEnergy{}, err
	}

	vPost := e.dyn(in.State, in.Action)

	var goal float64
	switch e.mode {
	case GoalDirection:
		n := math.Hypot(in.Goal.DirX, in.Goal.DirY)
		if n > 0 {
			goal = -(vPost.X*in.Goal.DirX + vPost.Y*in.Goal.DirY) / n
		}
	case GoalVelocity:
		pref := in.Goal.PreferredVelocity()
		dx := vPost.X - pref.X
		dy := vPost.Y - pref.Y
		goal = dx*dx + dy*dy
	}

	var safety, surprise float64
	nr := in.Current.RadialBins()
	nt := in.Current.AngularBins()
	for r := 0; r < nr; r++ {
		for t := 0; t < nt; t++ {
			w := in.Precision.WeightAt(r, t)
			safety += w * (in.Predicted.At(perception.ChannelRisk, r, t) +
				in.Predicted.At(perception.ChannelProximity, r, t))
			for c := 0; c < perception.NumChannels; c++ {
				d := in.Current.At(c, r, t) - in.Reconstructed.At(c, r, t)
				surprise += w * d * d
			}
		}
	}

	fe := FreeEnergy{
		Goal:     goal,
		Safety:   safety,
		Surprise: surprise,
	}
	fe.Total = e.weights.Goal*goal + e.weights.Safety*safety + e.weights.Surprise*surprise
	return fe, nil
}

func checkShapes(in EvalInput) error {
	nr := in.Current.RadialBins()
	nt := in.Current.AngularBins()
	for _, m := range []*perception.Map{in.Predicted, in.Reconstructed} {
		if m.RadialBins() != nr || m.AngularBins() != nt {
			return fmt.Errorf("map shape %dx%d does not match current %dx%d",
				m.RadialBins(), m.AngularBins(), nr, nt)
		}
	}
	if in.Precision.RadialBins() != nr || in.Precision.AngularBins() != nt {
		return fmt.Errorf("precision shape %dx%d does not match map %dx%d",
			in.Precision.RadialBins(), in.Precision.AngularBins(), nr, nt)
	}
	return nil
}
