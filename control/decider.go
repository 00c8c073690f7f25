package control

import (
	"fmt"

	"github.com/pthm-cable/wayfield/components"
	"github.com/pthm-cable/wayfield/config"
	"github.com/pthm-cable/wayfield/perception"
)

// Model is the inference contract the decider needs from the predictive
// world model: one forward pass producing the predicted next map and the
// reconstruction of the current map for a candidate action.
type Model interface {
	Predict(m *perception.Map, a components.Action) (predicted, reconstructed *perception.Map, err error)
}

// HazeParams is the per-step haze schedule supplied by the harness. Zone
// boundary and the two haze levels configure the precision field;
// environmental and self haze attenuate it.
type HazeParams struct {
	ZoneBoundary int
	Critical     float64
	Peripheral   float64
	Env          float64
	Self         float64
}

// Request is one decision's input snapshot. Everything is read-only for the
// duration of the decision.
type Request struct {
	State    components.AgentState
	Entities []perception.Entity
	Goal     components.Goal
	Haze     HazeParams
	Baseline components.Action
}

// Decision is the outcome of one decision cycle.
type Decision struct {
	Action   components.Action
	Cost     FreeEnergy
	Fallback bool // true when the action is the safe default, not a selected optimum
}

// Decider composes the full per-step pipeline: precision field from the
// haze schedule, perception map from entities, model-conditioned cost per
// candidate, and action selection. It retains no per-step state; decisions
// for different agents may run concurrently on a shared Decider.
type Decider struct {
	builder      *perception.MapBuilder
	model        Model
	eval         *Evaluator
	sel          Selector
	weightParams perception.WeightParams

	smoothZone      bool
	transitionWidth float64
	frontalSectors  int
}

// NewDecider assembles a decider from configuration. The model and the
// dynamics function come from the caller: the model is loaded (or
// generated) at startup, and dynamics must match what the harness
// integrates.
func NewDecider(cfg *config.Config, m Model, dyn Dynamics) (*Decider, error) {
	if m == nil {
		return nil, fmt.Errorf("predictive model is required")
	}

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
		return nil, fmt.Errorf("perception builder: %w", err)
	}

	var mode GoalMode
	switch cfg.Cost.GoalMode {
	case "direction":
		mode = GoalDirection
	case "velocity":
		mode = GoalVelocity
	default:
		return nil, fmt.Errorf("unknown goal mode %q", cfg.Cost.GoalMode)
	}

	eval, err := NewEvaluator(Weights{
		Goal:     cfg.Cost.GoalWeight,
		Safety:   cfg.Cost.SafetyWeight,
		Surprise: cfg.Cost.SurpriseWeight,
	}, mode, dyn)
	if err != nil {
		return nil, err
	}

	var sel Selector
	switch cfg.Selector.Strategy {
	case "discrete":
		sel, err = NewDiscreteSelector(cfg.Selector.MaxAction,
			cfg.Selector.Magnitudes, cfg.Selector.Angles, cfg.Selector.WithBaseline)
	case "gradient":
		sel, err = NewGradientSelector(cfg.Selector.MaxAction,
			cfg.Selector.StepSize, cfg.Selector.GradClip, cfg.Selector.Iterations)
	default:
		err = fmt.Errorf("unknown selector strategy %q", cfg.Selector.Strategy)
	}
	if err != nil {
		return nil, err
	}

	return &Decider{
		builder: builder,
		model:   m,
		eval:    eval,
		sel:     sel,
		weightParams: perception.WeightParams{
			Epsilon:   cfg.Precision.Epsilon,
			WeightMin: cfg.Precision.WeightMin,
			WeightMax: cfg.Precision.WeightMax,
		},
		smoothZone:      cfg.Precision.Strategy == "sigmoid",
		transitionWidth: cfg.Precision.TransitionWidth,
		frontalSectors:  cfg.Precision.FrontalSectors,
	}, nil
}

// Decide runs one decision cycle. Perception-construction errors
// (EntityStateError) surface to the caller for upstream filtering. Model
// and selection failures come back with the safe default (zero) action and
// Fallback set, so the harness can apply the action while still seeing the
// error.
func (d *Decider) Decide(req Request) (Decision, error) {
	cfg := d.builder.Config()

	var zone perception.ZoneStrategy
	var err error
	if d.smoothZone {
		zone, err = perception.NewSigmoidZone(req.Haze.ZoneBoundary, cfg.RadialBins,
			req.Haze.Critical, req.Haze.Peripheral, d.transitionWidth)
	} else {
		zone, err = perception.NewStepZone(req.Haze.ZoneBoundary, cfg.RadialBins,
			req.Haze.Critical, req.Haze.Peripheral)
	}
	if err != nil {
		return Decision{}, fmt.Errorf("haze schedule: %w", err)
	}

	prec, err := perception.NewPrecisionMap(cfg.RadialBins, cfg.AngularBins, zone, d.weightParams)
	if err != nil {
		return Decision{}, fmt.Errorf("precision field: %w", err)
	}
	if req.Haze.Env > 0 || req.Haze.Self > 0 {
		prec = prec.Modulated(req.Haze.Env, req.Haze.Self, d.frontalSectors)
	}

	current, err := d.builder.Build(req.State, req.Entities, prec)
	if err != nil {
		return Decision{}, err
	}

	evalFn := func(a components.Action) (FreeEnergy, error) {
		predicted, reconstructed, err := d.model.Predict(current, a)
		if err != nil {
			return FreeEnergy{}, err
		}
		return d.eval.Evaluate(EvalInput{
			State:         req.State,
			Action:        a,
			Goal:          req.Goal,
			Current:       current,
			Predicted:     predicted,
			Reconstructed: reconstructed,
			Precision:     prec,
		})
	}

	action, cost, err := d.sel.Select(evalFn, req.Baseline)
	if err != nil {
		// Safe default: the zero action. The error still surfaces so the
		// harness can distinguish a fallback from a selected optimum.
		return Decision{Action: components.Action{}, Fallback: true}, err
	}
	return Decision{Action: action, Cost: cost}, nil
}
