// Package config provides configuration loading and access for the
// navigation core and simulation harness.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all configuration parameters.
type Config struct {
	Map       MapConfig       `yaml:"map"`
	Precision PrecisionConfig `yaml:"precision"`
	Model     ModelConfig     `yaml:"model"`
	Cost      CostConfig      `yaml:"cost"`
	Selector  SelectorConfig  `yaml:"selector"`
	Sim       SimConfig       `yaml:"sim"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// MapConfig holds perception map geometry and aggregation parameters.
type MapConfig struct {
	RadialBins   int     `yaml:"radial_bins"`
	AngularBins  int     `yaml:"angular_bins"`
	SensingRatio float64 `yaml:"sensing_ratio"` // d_max = sensing_ratio * (r_self + r_entity)
	SelfRadius   float64 `yaml:"self_radius"`
	EntityRadius float64 `yaml:"entity_radius"`
	SpeedNorm    float64 `yaml:"speed_norm"` // approach-speed normalization for the risk channel
	BetaScale    float64 `yaml:"beta_scale"` // aggregation sharpness per unit precision weight
	BetaMin      float64 `yaml:"beta_min"`
	BetaMax      float64 `yaml:"beta_max"`
}

// PrecisionConfig holds haze zone and precision weight parameters.
type PrecisionConfig struct {
	Strategy        string  `yaml:"strategy"` // "step" or "sigmoid"
	ZoneBoundary    int     `yaml:"zone_boundary"`
	HazeCritical    float64 `yaml:"haze_critical"`
	HazePeripheral  float64 `yaml:"haze_peripheral"`
	TransitionWidth float64 `yaml:"transition_width"` // sigmoid width in radial bins
	Epsilon         float64 `yaml:"epsilon"`          // weight = 1/(haze+epsilon)
	WeightMin       float64 `yaml:"weight_min"`
	WeightMax       float64 `yaml:"weight_max"`
	FrontalSectors  int     `yaml:"frontal_sectors"` // half-width of the self-haze frontal sector, in angular bins
}

// ModelConfig holds predictive model parameters.
type ModelConfig struct {
	WeightsPath string `yaml:"weights_path"` // JSON weights file; empty means no model configured
	LatentDim   int    `yaml:"latent_dim"`   // expected latent size, validated against the weights file
	HiddenDim   int    `yaml:"hidden_dim"`   // hidden layer size for randomly initialized models
}

// CostConfig holds free-energy term weights.
type CostConfig struct {
	GoalWeight     float64 `yaml:"goal_weight"`
	SafetyWeight   float64 `yaml:"safety_weight"`
	SurpriseWeight float64 `yaml:"surprise_weight"`
	GoalMode       string  `yaml:"goal_mode"` // "direction" or "velocity"
}

// SelectorConfig holds action selection parameters.
type SelectorConfig struct {
	Strategy     string  `yaml:"strategy"` // "discrete" or "gradient"
	MaxAction    float64 `yaml:"max_action"`
	Magnitudes   int     `yaml:"magnitudes"` // discrete: magnitude levels
	Angles       int     `yaml:"angles"`     // discrete: angle levels
	WithBaseline bool    `yaml:"with_baseline"`
	Iterations   int     `yaml:"iterations"` // gradient: descent steps
	StepSize     float64 `yaml:"step_size"`
	GradClip     float64 `yaml:"grad_clip"`
}

// SimConfig holds harness parameters for the headless simulation.
type SimConfig struct {
	DT            float64 `yaml:"dt"`
	WorldWidth    float64 `yaml:"world_width"`
	WorldHeight   float64 `yaml:"world_height"`
	Agents        int     `yaml:"agents"`
	Seed          int64   `yaml:"seed"`
	StuckSpeed    float64 `yaml:"stuck_speed"`     // below this speed an agent counts as stuck
	StuckTicks    int32   `yaml:"stuck_ticks"`     // ticks stuck before self-haze ramps up
	SelfHazeRise  float64 `yaml:"self_haze_rise"`  // self-haze increase per stuck tick
	SelfHazeDecay float64 `yaml:"self_haze_decay"` // self-haze decrease per free tick
	EnvHaze       float64 `yaml:"env_haze"`        // uniform environmental haze
	AccelRelax    float64 `yaml:"accel_relax"`     // velocity relaxation rate toward the chosen action
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow float64 `yaml:"stats_window"` // seconds per stats window
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	RMin    float64 // r_self + r_entity, the inner edge of the polar map
	DMax    float64 // sensing range
	MapSize int     // radial_bins * angular_bins * channels
}

// NumChannels is the number of perception map channels
// (occupancy, proximity saliency, collision risk).
const NumChannels = 3

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults
// if path is empty. Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into the same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// Validate checks parameter ranges that the core depends on.
func (c *Config) Validate() error {
	if c.Map.RadialBins < 2 {
		return fmt.Errorf("map.radial_bins must be >= 2, got %d", c.Map.RadialBins)
	}
	if c.Map.AngularBins < 2 {
		return fmt.Errorf("map.angular_bins must be >= 2, got %d", c.Map.AngularBins)
	}
	if c.Map.SensingRatio <= 1 {
		return fmt.Errorf("map.sensing_ratio must be > 1, got %g", c.Map.SensingRatio)
	}
	if c.Precision.ZoneBoundary < 1 || c.Precision.ZoneBoundary > c.Map.RadialBins {
		return fmt.Errorf("precision.zone_boundary must be in [1, %d], got %d",
			c.Map.RadialBins, c.Precision.ZoneBoundary)
	}
	if c.Precision.HazeCritical < 0 || c.Precision.HazeCritical > 1 {
		return fmt.Errorf("precision.haze_critical must be in [0,1], got %g", c.Precision.HazeCritical)
	}
	if c.Precision.HazePeripheral < 0 || c.Precision.HazePeripheral > 1 {
		return fmt.Errorf("precision.haze_peripheral must be in [0,1], got %g", c.Precision.HazePeripheral)
	}
	if c.Precision.Epsilon <= 0 {
		return fmt.Errorf("precision.epsilon must be > 0, got %g", c.Precision.Epsilon)
	}
	if c.Precision.WeightMin <= 0 || c.Precision.WeightMax < c.Precision.WeightMin {
		return fmt.Errorf("precision weight clamp [%g, %g] is invalid",
			c.Precision.WeightMin, c.Precision.WeightMax)
	}
	switch c.Precision.Strategy {
	case "step", "sigmoid":
	default:
		return fmt.Errorf("precision.strategy must be \"step\" or \"sigmoid\", got %q", c.Precision.Strategy)
	}
	switch c.Cost.GoalMode {
	case "direction", "velocity":
	default:
		return fmt.Errorf("cost.goal_mode must be \"direction\" or \"velocity\", got %q", c.Cost.GoalMode)
	}
	switch c.Selector.Strategy {
	case "discrete", "gradient":
	default:
		return fmt.Errorf("selector.strategy must be \"discrete\" or \"gradient\", got %q", c.Selector.Strategy)
	}
	if c.Cost.GoalWeight < 0 || c.Cost.SafetyWeight < 0 || c.Cost.SurpriseWeight < 0 {
		return fmt.Errorf("cost weights must be non-negative")
	}
	if c.Selector.MaxAction <= 0 {
		return fmt.Errorf("selector.max_action must be > 0, got %g", c.Selector.MaxAction)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.RMin = c.Map.SelfRadius + c.Map.EntityRadius
	c.Derived.DMax = c.Map.SensingRatio * c.Derived.RMin
	c.Derived.MapSize = c.Map.RadialBins * c.Map.AngularBins * NumChannels
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
