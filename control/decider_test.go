package control

import (
	"errors"
	"math"
	"testing"

	"github.com/pthm-cable/wayfield/components"
	"github.com/pthm-cable/wayfield/config"
	"github.com/pthm-cable/wayfield/model"
	"github.com/pthm-cable/wayfield/perception"
)

// kinematicStub is an action-conditioned world model for decider tests:
// it advances the known entities one step under the candidate action and
// rebuilds the perception map, so avoidance is observable in the predicted
// safety term. Reconstruction is exact, which zeroes the surprise term.
type kinematicStub struct {
	builder  *perception.MapBuilder
	prec     *perception.PrecisionMap
	ego      components.AgentState
	entities []perception.Entity
	dt       float64
}

func (k *kinematicStub) Predict(m *perception.Map, a components.Action) (*perception.Map, *perception.Map, error) {
	adv := make([]perception.Entity, len(k.entities))
	for i, en := range k.entities {
		rvx := en.RelVX - a.X
		rvy := en.RelVY - a.Y
		adv[i] = perception.Entity{
			RelX:  en.RelX + rvx*k.dt,
			RelY:  en.RelY + rvy*k.dt,
			RelVX: rvx,
			RelVY: rvy,
		}
	}
	pred, err := k.builder.Build(k.ego, adv, k.prec)
	if err != nil {
		return nil, nil, err
	}
	return pred, m.Clone(), nil
}

// failingModel always returns its configured error.
type failingModel struct {
	err error
}

func (f *failingModel) Predict(*perception.Map, components.Action) (*perception.Map, *perception.Map, error) {
	return nil, nil, f.err
}

func deciderConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Cost.GoalMode = "direction"
	return cfg
}

func newStub(t *testing.T, cfg *config.Config, entities []perception.Entity) *kinematicStub {
	t.Helper()
	builder, err := perception.NewMapBuilder(perception.BuilderConfig{
		RadialBins:  cfg.Map.RadialBins,
		AngularBins: cfg.Map.AngularBins,
		RMin:        cfg.Derived.RMin,
		DMax:        cfg.Derived.DMax,
		SpeedNorm:   cfg.Map.SpeedNorm,
		BetaScale:   cfg.Map.BetaScale,
		BetaMin:     cfg.Map.BetaMin,
		BetaMax:     cfg.Map.BetaMax,
	})
	if err != nil {
		t.Fatalf("NewMapBuilder: %v", err)
	}
	z, err := perception.NewStepZone(cfg.Precision.ZoneBoundary, cfg.Map.RadialBins,
		cfg.Precision.HazeCritical, cfg.Precision.HazePeripheral)
	if err != nil {
		t.Fatalf("NewStepZone: %v", err)
	}
	prec, err := perception.NewPrecisionMap(cfg.Map.RadialBins, cfg.Map.AngularBins, z,
		perception.WeightParams{
			Epsilon:   cfg.Precision.Epsilon,
			WeightMin: cfg.Precision.WeightMin,
			WeightMax: cfg.Precision.WeightMax,
		})
	if err != nil {
		t.Fatalf("NewPrecisionMap: %v", err)
	}
	return &kinematicStub{
		builder:  builder,
		prec:     prec,
		entities: entities,
		dt:       cfg.Sim.DT,
	}
}

func hazeFrom(cfg *config.Config) HazeParams {
	return HazeParams{
		ZoneBoundary: cfg.Precision.ZoneBoundary,
		Critical:     cfg.Precision.HazeCritical,
		Peripheral:   cfg.Precision.HazePeripheral,
	}
}

func TestDecideEmptyScenePureGoal(t *testing.T) {
	cfg := deciderConfig(t)
	stub := newStub(t, cfg, nil)
	d, err := NewDecider(cfg, stub, RelaxationDynamics(1, 1))
	if err != nil {
		t.Fatalf("NewDecider: %v", err)
	}

	dec, err := d.Decide(Request{
		Goal: components.Goal{DirX: 1, DirY: 0, Speed: 1},
		Haze: hazeFrom(cfg),
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Fallback {
		t.Error("empty scene produced a fallback")
	}
	// Nothing to avoid and nothing to be surprised by: full speed toward
	// the goal wins.
	if math.Abs(dec.Action.X-cfg.Selector.MaxAction) > 1e-9 || math.Abs(dec.Action.Y) > 1e-9 {
		t.Errorf("selected (%g, %g), want (%g, 0)", dec.Action.X, dec.Action.Y, cfg.Selector.MaxAction)
	}
	if dec.Cost.Safety != 0 {
		t.Errorf("empty scene safety = %g, want 0", dec.Cost.Safety)
	}
	if dec.Cost.Surprise != 0 {
		t.Errorf("exact reconstruction surprise = %g, want 0", dec.Cost.Surprise)
	}
}

func TestDecideAvoidsObstacleOnGoalPath(t *testing.T) {
	cfg := deciderConfig(t)
	// Static obstacle dead ahead on the goal path, inside the critical zone.
	entities := []perception.Entity{{RelX: 3, RelY: 0}}
	stub := newStub(t, cfg, entities)
	d, err := NewDecider(cfg, stub, RelaxationDynamics(1, 1))
	if err != nil {
		t.Fatalf("NewDecider: %v", err)
	}

	dec, err := d.Decide(Request{
		Entities: entities,
		Goal:     components.Goal{DirX: 1, DirY: 0, Speed: 1},
		Haze:     hazeFrom(cfg),
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Fallback {
		t.Error("obstacle scene produced a fallback")
	}
	// Full speed straight at the obstacle must lose to some deviation.
	if math.Abs(dec.Action.X-cfg.Selector.MaxAction) < 1e-9 && math.Abs(dec.Action.Y) < 1e-9 {
		t.Error("decider charged straight at the obstacle")
	}
	if dec.Cost.Safety <= 0 {
		t.Errorf("obstacle scene safety = %g, want > 0", dec.Cost.Safety)
	}
}

func TestDecideEntityErrorPropagates(t *testing.T) {
	cfg := deciderConfig(t)
	bad := []perception.Entity{{RelX: math.NaN(), RelY: 1}}
	stub := newStub(t, cfg, nil)
	d, err := NewDecider(cfg, stub, RelaxationDynamics(1, 1))
	if err != nil {
		t.Fatalf("NewDecider: %v", err)
	}

	_, err = d.Decide(Request{
		Entities: bad,
		Goal:     components.Goal{DirX: 1, DirY: 0, Speed: 1},
		Haze:     hazeFrom(cfg),
	})
	var ese *perception.EntityStateError
	if !errors.As(err, &ese) {
		t.Fatalf("error = %v, want EntityStateError", err)
	}
}

func TestDecideModelFailureFallsBack(t *testing.T) {
	cfg := deciderConfig(t)
	d, err := NewDecider(cfg, &failingModel{err: model.ErrPredictionDivergence}, RelaxationDynamics(1, 1))
	if err != nil {
		t.Fatalf("NewDecider: %v", err)
	}

	dec, err := d.Decide(Request{
		Goal: components.Goal{DirX: 1, DirY: 0, Speed: 1},
		Haze: hazeFrom(cfg),
	})
	if !errors.Is(err, model.ErrPredictionDivergence) {
		t.Errorf("error = %v, want ErrPredictionDivergence", err)
	}
	if !dec.Fallback {
		t.Error("model failure did not set Fallback")
	}
	if dec.Action.X != 0 || dec.Action.Y != 0 {
		t.Errorf("fallback action (%g, %g), want zero", dec.Action.X, dec.Action.Y)
	}
}

func TestDecideInvalidHazeSchedule(t *testing.T) {
	cfg := deciderConfig(t)
	stub := newStub(t, cfg, nil)
	d, err := NewDecider(cfg, stub, RelaxationDynamics(1, 1))
	if err != nil {
		t.Fatalf("NewDecider: %v", err)
	}

	haze := hazeFrom(cfg)
	haze.ZoneBoundary = 0
	if _, err := d.Decide(Request{Goal: components.Goal{DirX: 1}, Haze: haze}); err == nil {
		t.Error("invalid zone boundary accepted")
	}
}

func TestNewDeciderValidation(t *testing.T) {
	cfg := deciderConfig(t)
	if _, err := NewDecider(cfg, nil, RelaxationDynamics(1, 1)); err == nil {
		t.Error("nil model accepted")
	}

	cfg = deciderConfig(t)
	cfg.Selector.Strategy = "simulated-annealing"
	if _, err := NewDecider(cfg, &failingModel{}, RelaxationDynamics(1, 1)); err == nil {
		t.Error("unknown selector strategy accepted")
	}
}

func TestDecideGradientStrategy(t *testing.T) {
	cfg := deciderConfig(t)
	cfg.Selector.Strategy = "gradient"
	stub := newStub(t, cfg, nil)
	d, err := NewDecider(cfg, stub, RelaxationDynamics(1, 1))
	if err != nil {
		t.Fatalf("NewDecider: %v", err)
	}

	dec, err := d.Decide(Request{
		Goal:     components.Goal{DirX: 1, DirY: 0, Speed: 1},
		Haze:     hazeFrom(cfg),
		Baseline: components.Action{X: 0.5, Y: 0},
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	// Descent from the baseline must make goal progress and stay bounded.
	if dec.Action.X <= 0.5 {
		t.Errorf("gradient descent action X = %g, want > baseline 0.5", dec.Action.X)
	}
	if dec.Action.Magnitude() > cfg.Selector.MaxAction+1e-9 {
		t.Errorf("action magnitude %g exceeds max", dec.Action.Magnitude())
	}
}
