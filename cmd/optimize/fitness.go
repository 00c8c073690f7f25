package main

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/pthm-cable/wayfield/config"
	"github.com/pthm-cable/wayfield/model"
	"github.com/pthm-cable/wayfield/sim"
	"github.com/pthm-cable/wayfield/telemetry"
)

// FitnessEvaluator runs headless simulations and computes fitness.
type FitnessEvaluator struct {
	params     *ParamVector
	steps      int
	seeds      []int64
	scenario   string
	agents     int
	baseConfig *config.Config

	// Best run tracking
	mu          sync.Mutex
	bestFitness float64
	lastDetail  runDetail // detail from most recent Evaluate call
}

// runDetail summarizes a run for progress reporting.
type runDetail struct {
	collisionRate float64 // collisions per agent per sim-second
	progress      float64 // mean velocity projection onto goal, normalized by goal speed
	fallbackRate  float64 // fallbacks per decision
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, steps int, seeds []int64, scenario string, agents int, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		steps:       steps,
		seeds:       seeds,
		scenario:    scenario,
		agents:      agents,
		baseConfig:  baseCfg,
		bestFitness: math.Inf(1),
	}
}

// LastDetail returns the run detail from the most recent evaluation.
func (fe *FitnessEvaluator) LastDetail() runDetail {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastDetail
}

// Fitness component weights. Collisions dominate; progress differentiates
// configs with similar safety records; fallbacks get a small penalty so
// the optimizer cannot hide behind the safe default.
const (
	fitnessWeightCollision = 10.0
	fitnessWeightProgress  = 1.0
	fitnessWeightFallback  = 0.5

	warmupWindows = 1 // skip first N windows while the scenario settles
)

// Evaluate computes fitness for a parameter vector (lower = better).
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	details := make([]runDetail, len(fe.seeds))
	var wg sync.WaitGroup

	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			details[idx] = fe.runSimulation(x, s)
		}(i, seed)
	}
	wg.Wait()

	var totalFitness float64
	var sumDetail runDetail
	for _, d := range details {
		totalFitness += fitnessWeightCollision*d.collisionRate +
			fitnessWeightFallback*d.fallbackRate -
			fitnessWeightProgress*d.progress
		sumDetail.collisionRate += d.collisionRate
		sumDetail.progress += d.progress
		sumDetail.fallbackRate += d.fallbackRate
	}

	n := float64(len(fe.seeds))
	avgFitness := totalFitness / n

	fe.mu.Lock()
	if avgFitness < fe.bestFitness {
		fe.bestFitness = avgFitness
	}
	fe.lastDetail = runDetail{
		collisionRate: sumDetail.collisionRate / n,
		progress:      sumDetail.progress / n,
		fallbackRate:  sumDetail.fallbackRate / n,
	}
	fe.mu.Unlock()

	return avgFitness
}

// runSimulation executes a single headless simulation run and reduces its
// window stats to a runDetail.
func (fe *FitnessEvaluator) runSimulation(x []float64, seed int64) runDetail {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, x)
	cfg.Sim.Seed = seed

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)+7))
	m := model.NewRandom(rng, cfg.Map.RadialBins, cfg.Map.AngularBins,
		cfg.Model.LatentDim, cfg.Model.HiddenDim)

	s, err := sim.New(cfg, m)
	if err != nil {
		// A config the harness rejects is the worst possible candidate.
		return runDetail{collisionRate: math.Inf(1)}
	}
	defer s.Close()

	var windows []telemetry.WindowStats
	s.OnWindow = func(stats telemetry.WindowStats) {
		windows = append(windows, stats)
	}

	if err := s.Setup(fe.scenario, fe.agents); err != nil {
		return runDetail{collisionRate: math.Inf(1)}
	}
	s.Run(fe.steps)

	return reduceWindows(windows, cfg)
}

// reduceWindows aggregates window stats past warmup into a runDetail.
func reduceWindows(windows []telemetry.WindowStats, cfg *config.Config) runDetail {
	if len(windows) <= warmupWindows {
		return runDetail{}
	}
	valid := windows[warmupWindows:]

	var collisions int
	var progressSum, fallbackSum float64
	var agentSec float64
	windowSec := cfg.Telemetry.StatsWindow
	goalSpeed := cfg.Selector.MaxAction * 0.5

	for _, w := range valid {
		collisions += w.Collisions
		agentSec += float64(w.Agents) * windowSec
		if goalSpeed > 0 {
			progressSum += w.MeanProgress / goalSpeed
		}
		if w.Decisions > 0 {
			fallbackSum += float64(w.Fallbacks) / float64(w.Decisions)
		}
	}

	n := float64(len(valid))
	d := runDetail{
		progress:     progressSum / n,
		fallbackRate: fallbackSum / n,
	}
	if agentSec > 0 {
		d.collisionRate = float64(collisions) / agentSec
	}
	return d
}

// copyConfig creates a copy of the base config. All config sections are
// plain value types, so a shallow copy is a deep copy.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	return &cfg
}
