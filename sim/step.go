package sim

import (
	"errors"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/wayfield/components"
	"github.com/pthm-cable/wayfield/control"
	"github.com/pthm-cable/wayfield/model"
	"github.com/pthm-cable/wayfield/perception"
	"github.com/pthm-cable/wayfield/telemetry"
)

// parallelThreshold is the minimum agent count to use parallel decisions.
// Below this, single-threaded is faster due to goroutine overhead.
const parallelThreshold = 8

// agentSnapshot captures read-only state for parallel decision making.
type agentSnapshot struct {
	Entity ecs.Entity
	ID     uint32
	State  components.AgentState
	Goal   components.Goal
	Haze   components.HazeState
}

// intent captures one decision's output, applied after the parallel phase.
type intent struct {
	Action     components.Action
	Cost       control.FreeEnergy
	Fallback   bool
	ModelErr   bool
	NoFeasible bool
	EntityErr  bool
}

// workerScratch holds per-worker reusable buffers.
type workerScratch struct {
	Entities []perception.Entity
}

// workChunk is a range of agents for one worker.
type workChunk struct {
	start, end int
}

// parallelState holds resources for parallel decision computation.
type parallelState struct {
	snapshots  []agentSnapshot
	intents    []intent
	scratches  []workerScratch
	numWorkers int

	workChan chan workChunk
	doneChan chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

func newParallelState() *parallelState {
	numWorkers := runtime.GOMAXPROCS(0)
	scratches := make([]workerScratch, numWorkers)
	for i := range scratches {
		scratches[i].Entities = make([]perception.Entity, 0, 64)
	}
	return &parallelState{
		numWorkers: numWorkers,
		scratches:  scratches,
		snapshots:  make([]agentSnapshot, 0, 256),
		intents:    make([]intent, 0, 256),
	}
}

func (p *parallelState) startWorkers(s *Sim) {
	if p.running {
		return
	}
	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(s, i)
	}
}

func (p *parallelState) stopWorkers() {
	if !p.running {
		return
	}
	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

func (p *parallelState) worker(s *Sim, workerID int) {
	defer p.wg.Done()
	scratch := &p.scratches[workerID]

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			s.decideChunk(chunk.start, chunk.end, scratch)
			p.doneChan <- struct{}{}
		}
	}
}

// Step runs one decision cycle for every agent: snapshot, parallel decide,
// apply. Agents are decision-independent within the tick; each reads the
// start-of-tick snapshot only.
func (s *Sim) Step() {
	// Phase A: build snapshots (single-threaded)
	s.parallel.snapshots = s.parallel.snapshots[:0]
	query := s.filter.Query()
	for query.Next() {
		entity := query.Entity()
		pos, vel, head, goal, haze, tag := query.Get()
		s.parallel.snapshots = append(s.parallel.snapshots, agentSnapshot{
			Entity: entity,
			ID:     tag.ID,
			State:  components.AgentState{Pos: *pos, Vel: *vel, Heading: head.Angle},
			Goal:   *goal,
			Haze:   *haze,
		})
	}

	n := len(s.parallel.snapshots)
	if n == 0 {
		s.tick++
		return
	}

	if cap(s.parallel.intents) < n {
		s.parallel.intents = make([]intent, n)
	}
	s.parallel.intents = s.parallel.intents[:n]

	// Phase B: decide (single-threaded below the threshold)
	if n < parallelThreshold {
		s.decideChunk(0, n, &s.parallel.scratches[0])
	} else {
		s.decideParallel(n)
	}

	// Phase C: apply intents (single-threaded, preserves determinism)
	s.applyIntents()

	s.tick++
	s.flushWindow()
}

func (s *Sim) decideParallel(n int) {
	if !s.parallel.running {
		s.parallel.startWorkers(s)
	}

	numWorkers := s.parallel.numWorkers
	chunkSize := (n + numWorkers - 1) / numWorkers

	dispatched := 0
	for w := 0; w < numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		s.parallel.workChan <- workChunk{start: start, end: end}
		dispatched++
	}
	for i := 0; i < dispatched; i++ {
		<-s.parallel.doneChan
	}
}

// decideChunk runs the decision cycle for a range of agents.
func (s *Sim) decideChunk(i0, i1 int, scratch *workerScratch) {
	for i := i0; i < i1; i++ {
		snap := &s.parallel.snapshots[i]
		out := &s.parallel.intents[i]
		*out = intent{}

		scratch.Entities = s.gatherEntities(scratch.Entities[:0], i, snap, out)

		decision, err := s.decider.Decide(control.Request{
			State:    snap.State,
			Entities: scratch.Entities,
			Goal:     snap.Goal,
			Haze: control.HazeParams{
				ZoneBoundary: s.cfg.Precision.ZoneBoundary,
				Critical:     s.cfg.Precision.HazeCritical,
				Peripheral:   s.cfg.Precision.HazePeripheral,
				Env:          snap.Haze.Env,
				Self:         snap.Haze.Self,
			},
			Baseline: components.Action{X: snap.State.Vel.X, Y: snap.State.Vel.Y},
		})

		out.Action = decision.Action
		out.Cost = decision.Cost
		out.Fallback = decision.Fallback
		if err != nil {
			out.ModelErr = errors.Is(err, model.ErrModelUnavailable) ||
				errors.Is(err, model.ErrPredictionDivergence)
			out.NoFeasible = errors.Is(err, control.ErrNoFeasibleAction)
			if !decision.Fallback {
				// Perception-level failure: hold course rather than stop dead.
				out.Action = components.Action{X: snap.State.Vel.X, Y: snap.State.Vel.Y}
				out.Fallback = true
			}
		}
	}
}

// gatherEntities assembles the relative entity list for one agent from the
// start-of-tick snapshots and the static obstacles. Malformed states are
// filtered here, upstream of the perception builder, and counted.
func (s *Sim) gatherEntities(dst []perception.Entity, self int, snap *agentSnapshot, out *intent) []perception.Entity {
	for j := range s.parallel.snapshots {
		if j == self {
			continue
		}
		other := &s.parallel.snapshots[j]
		dx, dy := perception.ToroidalDelta(
			snap.State.Pos.X, snap.State.Pos.Y,
			other.State.Pos.X, other.State.Pos.Y,
			s.width, s.height,
		)
		if math.Hypot(dx, dy) > s.dmax {
			continue
		}
		e := perception.Entity{
			RelX:  dx,
			RelY:  dy,
			RelVX: other.State.Vel.X - snap.State.Vel.X,
			RelVY: other.State.Vel.Y - snap.State.Vel.Y,
		}
		if e.Validate(j) != nil {
			out.EntityErr = true
			continue
		}
		dst = append(dst, e)
	}

	for j := range s.obstacles {
		ob := &s.obstacles[j]
		dx, dy := perception.ToroidalDelta(
			snap.State.Pos.X, snap.State.Pos.Y,
			ob.Pos.X, ob.Pos.Y,
			s.width, s.height,
		)
		if math.Hypot(dx, dy) > s.dmax {
			continue
		}
		// A static obstacle still approaches in the ego frame when the
		// agent moves toward it.
		e := perception.Entity{
			RelX:  dx,
			RelY:  dy,
			RelVX: -snap.State.Vel.X,
			RelVY: -snap.State.Vel.Y,
		}
		if e.Validate(j) != nil {
			out.EntityErr = true
			continue
		}
		dst = append(dst, e)
	}
	return dst
}

// applyIntents integrates the chosen actions and updates per-agent haze
// state, then records telemetry for the tick.
func (s *Sim) applyIntents() {
	simCfg := &s.cfg.Sim

	for i := range s.parallel.snapshots {
		snap := &s.parallel.snapshots[i]
		out := &s.parallel.intents[i]

		pos := s.posMap.Get(snap.Entity)
		vel := s.velMap.Get(snap.Entity)
		head := s.headMap.Get(snap.Entity)
		haze := s.hazeMap.Get(snap.Entity)
		if pos == nil || vel == nil || head == nil || haze == nil {
			continue
		}

		// Velocity relaxation toward the chosen action; must match the
		// dynamics the evaluator scored with.
		vel.X += (out.Action.X - vel.X) * s.relaxFactor
		vel.Y += (out.Action.Y - vel.Y) * s.relaxFactor

		pos.X = wrap(pos.X+vel.X*s.dt, s.width)
		pos.Y = wrap(pos.Y+vel.Y*s.dt, s.height)

		speed := math.Hypot(vel.X, vel.Y)
		if speed > 1e-6 {
			head.Angle = math.Atan2(vel.Y, vel.X)
		}

		// Deadlock self-hazing: sustained low speed softens the frontal
		// precision so the agent can push through or turn away.
		stuck := speed < simCfg.StuckSpeed
		if stuck {
			haze.StuckTicks++
		} else if haze.StuckTicks > 0 {
			haze.StuckTicks--
		}
		if haze.StuckTicks > simCfg.StuckTicks {
			haze.Self = math.Min(1, haze.Self+simCfg.SelfHazeRise)
		} else {
			haze.Self = math.Max(0, haze.Self-simCfg.SelfHazeDecay)
		}
		haze.Env = simCfg.EnvHaze

		// Telemetry
		if out.Fallback {
			s.collector.RecordFallback(out.ModelErr, out.NoFeasible)
		} else {
			s.collector.RecordDecision(out.Cost.Total, out.Cost.Goal, out.Cost.Safety, out.Cost.Surprise)
		}
		if out.EntityErr {
			s.collector.RecordEntityError()
		}
		pref := snap.Goal.PreferredVelocity()
		progress := 0.0
		if n := math.Hypot(pref.X, pref.Y); n > 0 {
			progress = (vel.X*pref.X + vel.Y*pref.Y) / n
		}
		s.collector.RecordMotion(speed, progress, stuck)

		s.decisions = append(s.decisions, telemetry.DecisionRecord{
			Tick:     s.tick,
			AgentID:  snap.ID,
			ActionX:  out.Action.X,
			ActionY:  out.Action.Y,
			Cost:     out.Cost.Total,
			Goal:     out.Cost.Goal,
			Safety:   out.Cost.Safety,
			Surprise: out.Cost.Surprise,
			SelfHaze: haze.Self,
			Fallback: out.Fallback,
		})
	}

	s.recordProximity()
}

// recordProximity scans agent pairs and agent-obstacle pairs for
// collisions and minimum clearance.
func (s *Sim) recordProximity() {
	snaps := s.parallel.snapshots
	for i := 0; i < len(snaps); i++ {
		pi := s.posMap.Get(snaps[i].Entity)
		if pi == nil {
			continue
		}
		for j := i + 1; j < len(snaps); j++ {
			pj := s.posMap.Get(snaps[j].Entity)
			if pj == nil {
				continue
			}
			dx, dy := perception.ToroidalDelta(pi.X, pi.Y, pj.X, pj.Y, s.width, s.height)
			dist := math.Hypot(dx, dy)
			s.collector.RecordClearance(dist)
			if dist < 2*s.bodyRadius {
				s.collector.RecordCollision()
			}
		}
		for _, ob := range s.obstacles {
			dx, dy := perception.ToroidalDelta(pi.X, pi.Y, ob.Pos.X, ob.Pos.Y, s.width, s.height)
			dist := math.Hypot(dx, dy)
			s.collector.RecordClearance(dist)
			if dist < s.bodyRadius+ob.Radius {
				s.collector.RecordCollision()
			}
		}
	}
}

// flushWindow emits window stats and buffered decision records when the
// current stats window completes.
func (s *Sim) flushWindow() {
	if !s.collector.WindowDone(s.tick) {
		return
	}
	stats := s.collector.Flush(s.tick, len(s.parallel.snapshots))
	slog.Info("window", "stats", stats)
	if s.OnWindow != nil {
		s.OnWindow(stats)
	}
	if err := s.out.WriteStats(stats); err != nil {
		slog.Warn("writing stats", "err", err)
	}
	if err := s.out.WriteDecisions(s.decisions); err != nil {
		slog.Warn("writing decisions", "err", err)
	}
	s.decisions = s.decisions[:0]
}

// Run executes the given number of steps.
func (s *Sim) Run(steps int) {
	for i := 0; i < steps; i++ {
		s.Step()
	}
}
