// Package sim is a headless stepwise simulation harness for the control
// core: a toroidal world of agents that each run one decision cycle per
// tick against a snapshot of their neighbors.
package sim

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/wayfield/components"
	"github.com/pthm-cable/wayfield/config"
	"github.com/pthm-cable/wayfield/control"
	"github.com/pthm-cable/wayfield/telemetry"
)

// AgentID tags an ECS entity with a stable identifier for telemetry.
type AgentID struct {
	ID uint32
}

// Obstacle is a static circular obstacle. Obstacles live outside the ECS:
// they never move and are only read during perception assembly.
type Obstacle struct {
	Pos    components.Position
	Radius float64
}

// Sim owns the world state and the per-tick decision cycle.
type Sim struct {
	cfg     *config.Config
	world   *ecs.World
	decider *control.Decider

	mapper *ecs.Map6[
		components.Position,
		components.Velocity,
		components.Heading,
		components.Goal,
		components.HazeState,
		AgentID,
	]
	filter *ecs.Filter6[
		components.Position,
		components.Velocity,
		components.Heading,
		components.Goal,
		components.HazeState,
		AgentID,
	]
	posMap  *ecs.Map1[components.Position]
	velMap  *ecs.Map1[components.Velocity]
	headMap *ecs.Map1[components.Heading]
	hazeMap *ecs.Map1[components.HazeState]

	obstacles []Obstacle

	collector *telemetry.Collector
	out       *telemetry.OutputManager
	decisions []telemetry.DecisionRecord

	// OnWindow, when set, receives each completed stats window. Used by
	// the parameter optimizer to score runs without CSV output.
	OnWindow func(telemetry.WindowStats)

	parallel *parallelState
	rng      *rand.Rand

	tick   int32
	nextID uint32

	width, height float64
	dt            float64
	dmax          float64
	bodyRadius    float64
	relaxFactor   float64
}

// New creates a simulation around a configured decider. The model is
// supplied by the caller so startup can fail fast on ErrModelUnavailable
// before any world state exists.
func New(cfg *config.Config, m control.Model) (*Sim, error) {
	dyn := control.RelaxationDynamics(cfg.Sim.AccelRelax, cfg.Sim.DT)
	decider, err := control.NewDecider(cfg, m, dyn)
	if err != nil {
		return nil, fmt.Errorf("building decider: %w", err)
	}

	world := ecs.NewWorld()
	relax := cfg.Sim.AccelRelax * cfg.Sim.DT
	if relax > 1 {
		relax = 1
	}

	s := &Sim{
		cfg:     cfg,
		world:   world,
		decider: decider,
		mapper: ecs.NewMap6[
			components.Position,
			components.Velocity,
			components.Heading,
			components.Goal,
			components.HazeState,
			AgentID,
		](world),
		filter: ecs.NewFilter6[
			components.Position,
			components.Velocity,
			components.Heading,
			components.Goal,
			components.HazeState,
			AgentID,
		](world),
		posMap:      ecs.NewMap1[components.Position](world),
		velMap:      ecs.NewMap1[components.Velocity](world),
		headMap:     ecs.NewMap1[components.Heading](world),
		hazeMap:     ecs.NewMap1[components.HazeState](world),
		collector:   telemetry.NewCollector(cfg.Telemetry.StatsWindow, cfg.Sim.DT),
		parallel:    newParallelState(),
		rng:         rand.New(rand.NewPCG(uint64(cfg.Sim.Seed), uint64(cfg.Sim.Seed)+1)),
		width:       cfg.Sim.WorldWidth,
		height:      cfg.Sim.WorldHeight,
		dt:          cfg.Sim.DT,
		dmax:        cfg.Derived.DMax,
		bodyRadius:  cfg.Map.SelfRadius,
		relaxFactor: relax,
	}
	return s, nil
}

// SetOutput attaches an output manager for CSV logging. May be nil.
func (s *Sim) SetOutput(out *telemetry.OutputManager) {
	s.out = out
}

// AddAgent spawns an agent at the given position with the given heading
// and goal, and returns its entity.
func (s *Sim) AddAgent(pos components.Position, heading float64, goal components.Goal) ecs.Entity {
	id := s.nextID
	s.nextID++

	p := pos
	vel := components.Velocity{}
	head := components.Heading{Angle: heading}
	haze := components.HazeState{Env: s.cfg.Sim.EnvHaze}
	tag := AgentID{ID: id}

	return s.mapper.NewEntity(&p, &vel, &head, &goal, &haze, &tag)
}

// AddObstacle places a static circular obstacle.
func (s *Sim) AddObstacle(x, y, radius float64) {
	s.obstacles = append(s.obstacles, Obstacle{
		Pos:    components.Position{X: x, Y: y},
		Radius: radius,
	})
}

// AgentCount returns the number of live agents.
func (s *Sim) AgentCount() int {
	n := 0
	query := s.filter.Query()
	for query.Next() {
		n++
	}
	return n
}

// Tick returns the current tick number.
func (s *Sim) Tick() int32 { return s.tick }

// AgentState returns the current state of an agent entity. A despawned
// entity yields the zero state.
func (s *Sim) AgentState(e ecs.Entity) components.AgentState {
	pos := s.posMap.Get(e)
	vel := s.velMap.Get(e)
	head := s.headMap.Get(e)
	if pos == nil || vel == nil || head == nil {
		return components.AgentState{}
	}
	return components.AgentState{Pos: *pos, Vel: *vel, Heading: head.Angle}
}

// Close stops the worker pool and closes any attached output.
func (s *Sim) Close() error {
	s.parallel.stopWorkers()
	return s.out.Close()
}

// wrap confines a coordinate to [0, limit).
func wrap(v, limit float64) float64 {
	v = math.Mod(v, limit)
	if v < 0 {
		v += limit
	}
	return v
}
