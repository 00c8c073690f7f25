package control

import (
	"errors"
	"math"
	"testing"

	"github.com/pthm-cable/wayfield/components"
)

// quadraticEval scores actions by squared distance to a target, the
// simplest cost surface with a known minimum.
func quadraticEval(tx, ty float64) EvaluateFunc {
	return func(a components.Action) (FreeEnergy, error) {
		dx, dy := a.X-tx, a.Y-ty
		c := dx*dx + dy*dy
		return FreeEnergy{Total: c, Goal: c}, nil
	}
}

func TestDiscreteSelectorFindsMinimum(t *testing.T) {
	s, err := NewDiscreteSelector(2.0, 3, 8, false)
	if err != nil {
		t.Fatalf("NewDiscreteSelector: %v", err)
	}

	// Target on a grid point: magnitude 2, angle 0.
	a, fe, err := s.Select(quadraticEval(2, 0), components.Action{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if math.Abs(a.X-2) > 1e-9 || math.Abs(a.Y) > 1e-9 {
		t.Errorf("selected (%g, %g), want (2, 0)", a.X, a.Y)
	}
	if fe.Total > 1e-9 {
		t.Errorf("minimum cost = %g, want 0", fe.Total)
	}
}

func TestDiscreteSelectorReturnsGridMember(t *testing.T) {
	s, _ := NewDiscreteSelector(2.0, 3, 8, true)
	baseline := components.Action{X: 0.31, Y: -0.17}

	a, _, err := s.Select(quadraticEval(0.7, 1.3), baseline)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	found := false
	for _, c := range s.Candidates(baseline) {
		if c == a {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("selected action (%g, %g) not in candidate grid", a.X, a.Y)
	}
}

func TestDiscreteSelectorZeroCandidate(t *testing.T) {
	s, _ := NewDiscreteSelector(2.0, 3, 8, false)

	// Zero is the global minimum and must be selectable.
	a, _, err := s.Select(quadraticEval(0, 0), components.Action{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if a.X != 0 || a.Y != 0 {
		t.Errorf("selected (%g, %g), want zero action", a.X, a.Y)
	}
}

func TestDiscreteSelectorBaselineClamped(t *testing.T) {
	s, _ := NewDiscreteSelector(2.0, 3, 8, true)
	for _, c := range s.Candidates(components.Action{X: 100, Y: 0}) {
		if c.Magnitude() > 2.0+1e-9 {
			t.Errorf("candidate (%g, %g) exceeds max action", c.X, c.Y)
		}
	}
}

func TestDiscreteSelectorNoFeasible(t *testing.T) {
	s, _ := NewDiscreteSelector(2.0, 3, 8, false)
	infEval := func(a components.Action) (FreeEnergy, error) {
		return FreeEnergy{Total: math.Inf(1)}, nil
	}
	a, _, err := s.Select(infEval, components.Action{})
	if !errors.Is(err, ErrNoFeasibleAction) {
		t.Errorf("error = %v, want ErrNoFeasibleAction", err)
	}
	if a.X != 0 || a.Y != 0 {
		t.Errorf("fallback action (%g, %g), want zero", a.X, a.Y)
	}
}

func TestDiscreteSelectorEvalErrorAborts(t *testing.T) {
	s, _ := NewDiscreteSelector(2.0, 3, 8, false)
	boom := errors.New("model exploded")
	failingEval := func(a components.Action) (FreeEnergy, error) {
		// The grid contains the magnitude-2, angle-0 candidate.
		if a.X > 1.9 {
			return FreeEnergy{}, boom
		}
		return FreeEnergy{Total: 1}, nil
	}
	a, _, err := s.Select(failingEval, components.Action{})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped eval error", err)
	}
	if a.X != 0 || a.Y != 0 {
		t.Errorf("error action (%g, %g), want zero", a.X, a.Y)
	}
}

func TestGradientSelectorDescends(t *testing.T) {
	s, err := NewGradientSelector(2.0, 0.5, 10, 5)
	if err != nil {
		t.Fatalf("NewGradientSelector: %v", err)
	}

	baseline := components.Action{X: 0, Y: 0}
	a, fe, err := s.Select(quadraticEval(1, 0.5), baseline)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	startCost := 1.0*1.0 + 0.5*0.5
	if fe.Total >= startCost {
		t.Errorf("descent cost %g not below start %g", fe.Total, startCost)
	}
	if a.Magnitude() > 2.0+1e-9 {
		t.Errorf("action magnitude %g exceeds max", a.Magnitude())
	}
}

func TestGradientSelectorRespectsMaxAction(t *testing.T) {
	s, _ := NewGradientSelector(1.0, 2.0, 10, 8)

	// Minimum far outside the feasible disk drags the descent outward.
	a, _, err := s.Select(quadraticEval(50, 50), components.Action{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if a.Magnitude() > 1.0+1e-9 {
		t.Errorf("action magnitude %g exceeds max 1", a.Magnitude())
	}
}

func TestGradientSelectorNonFiniteBaseline(t *testing.T) {
	s, _ := NewGradientSelector(2.0, 0.5, 10, 3)
	a, _, err := s.Select(quadraticEval(0.5, 0), components.Action{X: math.NaN(), Y: 0})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !a.IsFinite() {
		t.Error("selected action is non-finite")
	}
}

func TestGradientSelectorNoFeasible(t *testing.T) {
	s, _ := NewGradientSelector(2.0, 0.5, 10, 3)
	nanEval := func(a components.Action) (FreeEnergy, error) {
		return FreeEnergy{Total: math.NaN()}, nil
	}
	_, _, err := s.Select(nanEval, components.Action{})
	if !errors.Is(err, ErrNoFeasibleAction) {
		t.Errorf("error = %v, want ErrNoFeasibleAction", err)
	}
}

func TestSelectorValidation(t *testing.T) {
	if _, err := NewDiscreteSelector(0, 3, 8, false); err == nil {
		t.Error("zero max action accepted")
	}
	if _, err := NewDiscreteSelector(2, 0, 8, false); err == nil {
		t.Error("zero magnitudes accepted")
	}
	if _, err := NewGradientSelector(2, 0.5, 10, 0); err == nil {
		t.Error("zero iterations accepted")
	}
}
