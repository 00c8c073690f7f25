// Package telemetry collects per-decision diagnostics and windowed
// statistics from the simulation harness and writes them as CSV.
package telemetry

import (
	"log/slog"
	"math"
)

// WindowStats holds aggregated statistics for a time window.
type WindowStats struct {
	WindowStartTick int32   `csv:"-"`
	WindowEndTick   int32   `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	Agents int `csv:"agents"`

	// Decision outcomes during the window
	Decisions    int `csv:"decisions"`
	Fallbacks    int `csv:"fallbacks"`
	ModelErrors  int `csv:"model_errors"`
	NoFeasible   int `csv:"no_feasible"`
	EntityErrors int `csv:"entity_errors"`

	// Cost breakdown means over selected (non-fallback) decisions
	MeanCost     float64 `csv:"mean_cost"`
	MeanGoal     float64 `csv:"mean_goal"`
	MeanSafety   float64 `csv:"mean_safety"`
	MeanSurprise float64 `csv:"mean_surprise"`

	// Motion quality
	Collisions   int     `csv:"collisions"`
	MinClearance float64 `csv:"min_clearance"`
	MeanProgress float64 `csv:"mean_progress"` // mean velocity projection onto goal direction
	MeanSpeed    float64 `csv:"mean_speed"`
	StuckAgents  int     `csv:"stuck_agents"`
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_end", int(s.WindowEndTick)),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("agents", s.Agents),
		slog.Int("decisions", s.Decisions),
		slog.Int("fallbacks", s.Fallbacks),
		slog.Int("collisions", s.Collisions),
		slog.Float64("mean_cost", s.MeanCost),
		slog.Float64("mean_surprise", s.MeanSurprise),
		slog.Float64("mean_progress", s.MeanProgress),
		slog.Float64("min_clearance", s.MinClearance),
		slog.Int("stuck_agents", s.StuckAgents),
	)
}

// Collector accumulates events within time windows and produces
// WindowStats. Not goroutine-safe: the harness records from the
// single-threaded apply phase.
type Collector struct {
	windowDurationTicks int32
	dt                  float64

	windowStartTick int32

	decisions    int
	fallbacks    int
	modelErrors  int
	noFeasible   int
	entityErrors int

	sumCost     float64
	sumGoal     float64
	sumSafety   float64
	sumSurprise float64
	scored      int

	collisions   int
	minClearance float64
	sumProgress  float64
	sumSpeed     float64
	moved        int
	stuckAgents  int
}

// NewCollector creates a stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per tick
func NewCollector(windowDurationSec, dt float64) *Collector {
	ticks := int32(windowDurationSec / dt)
	if ticks < 1 {
		ticks = 1
	}
	c := &Collector{
		windowDurationTicks: ticks,
		dt:                  dt,
	}
	c.resetWindow(0)
	return c
}

func (c *Collector) resetWindow(startTick int32) {
	*c = Collector{
		windowDurationTicks: c.windowDurationTicks,
		dt:                  c.dt,
		windowStartTick:     startTick,
		minClearance:        math.Inf(1),
	}
}

// RecordDecision records a completed decision with its cost breakdown.
func (c *Collector) RecordDecision(total, goal, safety, surprise float64) {
	c.decisions++
	c.scored++
	c.sumCost += total
	c.sumGoal += goal
	c.sumSafety += safety
	c.sumSurprise += surprise
}

// RecordFallback records a decision that fell back to the safe default.
func (c *Collector) RecordFallback(modelError, noFeasible bool) {
	c.decisions++
	c.fallbacks++
	if modelError {
		c.modelErrors++
	}
	if noFeasible {
		c.noFeasible++
	}
}

// RecordEntityError records a perception input rejected as malformed.
func (c *Collector) RecordEntityError() {
	c.entityErrors++
}

// RecordCollision records a pairwise agent overlap this tick.
func (c *Collector) RecordCollision() {
	c.collisions++
}

// RecordClearance tracks the minimum center distance between any agent
// pair seen in the window.
func (c *Collector) RecordClearance(dist float64) {
	if dist < c.minClearance {
		c.minClearance = dist
	}
}

// RecordMotion records an agent's per-tick motion quality: its speed and
// the projection of its velocity onto its goal direction.
func (c *Collector) RecordMotion(speed, progress float64, stuck bool) {
	c.sumSpeed += speed
	c.sumProgress += progress
	c.moved++
	if stuck {
		c.stuckAgents++
	}
}

// WindowDone reports whether the window ending at tick is complete.
func (c *Collector) WindowDone(tick int32) bool {
	return tick-c.windowStartTick >= c.windowDurationTicks
}

// Flush finalizes the current window and starts the next one.
func (c *Collector) Flush(tick int32, agents int) WindowStats {
	s := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   tick,
		SimTimeSec:      float64(tick) * c.dt,
		Agents:          agents,
		Decisions:       c.decisions,
		Fallbacks:       c.fallbacks,
		ModelErrors:     c.modelErrors,
		NoFeasible:      c.noFeasible,
		EntityErrors:    c.entityErrors,
		Collisions:      c.collisions,
		MinClearance:    c.minClearance,
		StuckAgents:     c.stuckAgents,
	}
	if c.scored > 0 {
		n := float64(c.scored)
		s.MeanCost = c.sumCost / n
		s.MeanGoal = c.sumGoal / n
		s.MeanSafety = c.sumSafety / n
		s.MeanSurprise = c.sumSurprise / n
	}
	if c.moved > 0 {
		s.MeanProgress = c.sumProgress / float64(c.moved)
		s.MeanSpeed = c.sumSpeed / float64(c.moved)
	}
	if math.IsInf(s.MinClearance, 1) {
		s.MinClearance = 0
	}
	c.resetWindow(tick)
	return s
}
