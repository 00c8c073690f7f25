// Package main runs a headless crowd navigation simulation and writes
// decision diagnostics as CSV.
package main

import (
	"flag"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/pthm-cable/wayfield/config"
	"github.com/pthm-cable/wayfield/control"
	"github.com/pthm-cable/wayfield/model"
	"github.com/pthm-cable/wayfield/sim"
	"github.com/pthm-cable/wayfield/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Config YAML file (empty = use defaults)")
	scenario := flag.String("scenario", sim.ScenarioCrowd, "Scenario: crowd, corridor, or scramble")
	agents := flag.Int("agents", 0, "Agent count (0 = from config)")
	steps := flag.Int("steps", 2000, "Simulation duration in ticks")
	outputDir := flag.String("output", "", "Output directory for CSV results (empty = disabled)")
	weightsPath := flag.String("weights", "", "Model weights file (overrides config)")
	randomModel := flag.Bool("random-model", false, "Use a randomly initialized model instead of trained weights")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := config.Init(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Cfg()
	if *weightsPath != "" {
		cfg.Model.WeightsPath = *weightsPath
	}
	if *agents == 0 {
		*agents = cfg.Sim.Agents
	}

	m, err := loadModel(cfg, *randomModel)
	if err != nil {
		log.Fatalf("failed to load model: %v", err)
	}

	s, err := sim.New(cfg, m)
	if err != nil {
		log.Fatalf("failed to build simulation: %v", err)
	}

	out, err := telemetry.NewOutputManager(*outputDir)
	if err != nil {
		log.Fatalf("failed to create output: %v", err)
	}
	s.SetOutput(out)
	if err := out.WriteConfig(cfg); err != nil {
		log.Fatalf("failed to write config: %v", err)
	}

	if err := s.Setup(*scenario, *agents); err != nil {
		log.Fatalf("failed to set up scenario: %v", err)
	}

	slog.Info("starting", "scenario", *scenario, "agents", *agents, "steps", *steps)
	start := time.Now()
	s.Run(*steps)
	elapsed := time.Since(start)
	slog.Info("done",
		"steps", *steps,
		"elapsed", elapsed.Round(time.Millisecond),
		"ticks_per_sec", float64(*steps)/elapsed.Seconds(),
	)

	if err := s.Close(); err != nil {
		log.Fatalf("failed to close outputs: %v", err)
	}
}

// loadModel loads trained weights, or generates a random model when
// explicitly requested. Without either, the run fails fast: there is no
// safe default prediction.
func loadModel(cfg *config.Config, random bool) (control.Model, error) {
	if cfg.Model.WeightsPath != "" {
		return model.Load(cfg.Model.WeightsPath, cfg.Map.RadialBins, cfg.Map.AngularBins)
	}
	if random {
		rng := rand.New(rand.NewPCG(uint64(cfg.Sim.Seed), uint64(cfg.Sim.Seed)+7))
		return model.NewRandom(rng, cfg.Map.RadialBins, cfg.Map.AngularBins,
			cfg.Model.LatentDim, cfg.Model.HiddenDim), nil
	}
	return nil, model.ErrModelUnavailable
}
