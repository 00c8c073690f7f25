package control

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/diff/fd"

	"github.com/pthm-cable/wayfield/components"
)

// ErrNoFeasibleAction means every candidate produced a non-finite cost.
// The selector returns the safe default action alongside this error; the
// caller should surface the warning rather than swallow it.
var ErrNoFeasibleAction = errors.New("no feasible action: all candidates non-finite")

// EvaluateFunc scores one candidate action. It must be pure so candidates
// can be evaluated concurrently.
type EvaluateFunc func(a components.Action) (FreeEnergy, error)

// Selector searches the action space for the cost-minimizing action.
// Implementations terminate in a bounded number of evaluations.
type Selector interface {
	Select(eval EvaluateFunc, baseline components.Action) (components.Action, FreeEnergy, error)
}

// parallelCandidates is the minimum candidate count for parallel
// evaluation; below this goroutine overhead dominates.
const parallelCandidates = 16

// DiscreteSelector evaluates a fixed grid of candidate actions and returns
// the argmin. Deterministic, derivative-free, and exactly |grid|
// evaluations per decision.
type DiscreteSelector struct {
	MaxAction    float64
	Magnitudes   int  // magnitude levels, > 0
	Angles       int  // angle levels, > 0
	WithBaseline bool // include the (clamped) baseline action in the grid
}

// NewDiscreteSelector validates the grid shape.
func NewDiscreteSelector(maxAction float64, magnitudes, angles int, withBaseline bool) (*DiscreteSelector, error) {
	if maxAction <= 0 {
		return nil, fmt.Errorf("max action must be > 0, got %g", maxAction)
	}
	if magnitudes < 1 || angles < 2 {
		return nil, fmt.Errorf("grid %dx%d too small", magnitudes, angles)
	}
	return &DiscreteSelector{
		MaxAction:    maxAction,
		Magnitudes:   magnitudes,
		Angles:       angles,
		WithBaseline: withBaseline,
	}, nil
}

// Candidates generates the evaluation grid: the zero action, the cross
// product of magnitude and angle levels, and optionally the baseline.
func (s *DiscreteSelector) Candidates(baseline components.Action) []components.Action {
	out := make([]components.Action, 0, 2+s.Magnitudes*s.Angles)
	out = append(out, components.Action{})
	for k := 1; k <= s.Magnitudes; k++ {
		mag := s.MaxAction * float64(k) / float64(s.Magnitudes)
		for j := 0; j < s.Angles; j++ {
			angle := 2 * math.Pi * float64(j) / float64(s.Angles)
			out = append(out, components.Action{
				X: mag * math.Cos(angle),
				Y: mag * math.Sin(angle),
			})
		}
	}
	if s.WithBaseline && baseline.IsFinite() {
		out = append(out, baseline.Clamped(s.MaxAction))
	}
	return out
}

// Select evaluates every candidate and returns the finite-cost minimum.
// Evaluation errors abort the decision: the zero action comes back with the
// error so the caller can apply its fallback policy. If no candidate has a
// finite cost, the zero action comes back with ErrNoFeasibleAction.
func (s *DiscreteSelector) Select(eval EvaluateFunc, baseline components.Action) (components.Action, FreeEnergy, error) {
	candidates := s.Candidates(baseline)
	costs := make([]FreeEnergy, len(candidates))
	errs := make([]error, len(candidates))

	if len(candidates) >= parallelCandidates {
		var wg sync.WaitGroup
		for i := range candidates {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				costs[i], errs[i] = eval(candidates[i])
			}(i)
		}
		wg.Wait()
	} else {
		for i := range candidates {
			costs[i], errs[i] = eval(candidates[i])
		}
	}

	for _, err := range errs {
		if err != nil {
			return components.Action{}, FreeEnergy{}, err
		}
	}

	bestIdx := -1
	for i := range candidates {
		if !costs[i].IsFinite() {
			continue
		}
		if bestIdx < 0 || costs[i].Total < costs[bestIdx].Total {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return components.Action{}, FreeEnergy{}, ErrNoFeasibleAction
	}
	return candidates[bestIdx], costs[bestIdx], nil
}

// GradientSelector minimizes the cost by descent from a baseline action.
// The gradient comes from central finite differences through the whole
// evaluation (perception aggregation and model inference included), so no
// hand-derived derivatives are involved. Iterations are fixed, giving a
// bounded evaluation count; the best action seen so far is returned even
// when the iteration budget runs out mid-descent.
type GradientSelector struct {
	MaxAction  float64
	StepSize   float64
	GradClip   float64
	Iterations int
}

// NewGradientSelector validates the descent parameters.
func NewGradientSelector(maxAction, stepSize, gradClip float64, iterations int) (*GradientSelector, error) {
	if maxAction <= 0 || stepSize <= 0 || gradClip <= 0 {
		return nil, fmt.Errorf("max action, step size, and grad clip must be > 0")
	}
	if iterations < 1 {
		return nil, fmt.Errorf("iterations must be >= 1, got %d", iterations)
	}
	return &GradientSelector{
		MaxAction:  maxAction,
		StepSize:   stepSize,
		GradClip:   gradClip,
		Iterations: iterations,
	}, nil
}

// Select runs the fixed-iteration descent.
func (s *GradientSelector) Select(eval EvaluateFunc, baseline components.Action) (components.Action, FreeEnergy, error) {
	start := baseline
	if !start.IsFinite() {
		start = components.Action{}
	}
	start = start.Clamped(s.MaxAction)

	var evalErr error
	costAt := func(x []float64) float64 {
		fe, err := eval(components.Action{X: x[0], Y: x[1]})
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			return math.Inf(1)
		}
		return fe.Total
	}

	x := []float64{start.X, start.Y}
	best := components.Action{X: x[0], Y: x[1]}
	bestCost, err := eval(best)
	if err != nil {
		return components.Action{}, FreeEnergy{}, err
	}

	grad := make([]float64, 2)
	settings := &fd.Settings{Formula: fd.Central}
	for iter := 0; iter < s.Iterations; iter++ {
		fd.Gradient(grad, costAt, x, settings)
		if evalErr != nil {
			return components.Action{}, FreeEnergy{}, evalErr
		}
		if !isFinite(grad[0]) || !isFinite(grad[1]) {
			break
		}

		x[0] -= s.StepSize * clampAbs(grad[0], s.GradClip)
		x[1] -= s.StepSize * clampAbs(grad[1], s.GradClip)

		a := components.Action{X: x[0], Y: x[1]}.Clamped(s.MaxAction)
		x[0], x[1] = a.X, a.Y

		fe, err := eval(a)
		if err != nil {
			return components.Action{}, FreeEnergy{}, err
		}
		if fe.IsFinite() && (!bestCost.IsFinite() || fe.Total < bestCost.Total) {
			best = a
			bestCost = fe
		}
	}

	if !bestCost.IsFinite() {
		return components.Action{}, FreeEnergy{}, ErrNoFeasibleAction
	}
	return best, bestCost, nil
}

func clampAbs(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
