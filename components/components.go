// Package components defines plain data types shared between the control
// core and the ECS simulation harness.
package components

import "math"

// Position is an entity's world position.
type Position struct {
	X, Y float64
}

// Velocity is an entity's velocity.
type Velocity struct {
	X, Y float64
}

// Heading is an entity's facing angle in radians, [-Pi, Pi].
type Heading struct {
	Angle float64
}

// Goal describes where an agent wants to go: a preferred direction and a
// preferred cruise speed. DirX/DirY need not be normalized; consumers
// normalize before use.
type Goal struct {
	DirX, DirY float64
	Speed      float64
}

// PreferredVelocity returns the goal as a velocity vector at the preferred
// speed. A zero direction yields a zero vector.
func (g Goal) PreferredVelocity() Velocity {
	n := math.Hypot(g.DirX, g.DirY)
	if n == 0 {
		return Velocity{}
	}
	return Velocity{X: g.DirX / n * g.Speed, Y: g.DirY / n * g.Speed}
}

// HazeState tracks per-agent haze modulation inputs. The control core itself
// is stateless; this lives in the harness and feeds the per-step haze
// parameters into each decision.
type HazeState struct {
	Env        float64 // environmental haze at the agent's location, [0,1]
	Self       float64 // self-haze accumulated by deadlock detection, [0,1]
	StuckTicks int32   // consecutive ticks below the stuck-speed threshold
}

// AgentState is the snapshot of an agent read by the control core each step.
type AgentState struct {
	Pos     Position
	Vel     Velocity
	Heading float64
}

// Speed returns the magnitude of the agent's velocity.
func (s AgentState) Speed() float64 {
	return math.Hypot(s.Vel.X, s.Vel.Y)
}

// Action is a bounded 2D action vector (a desired velocity in world frame).
type Action struct {
	X, Y float64
}

// Magnitude returns the length of the action vector.
func (a Action) Magnitude() float64 {
	return math.Hypot(a.X, a.Y)
}

// Clamped returns the action with its magnitude limited to maxMag.
func (a Action) Clamped(maxMag float64) Action {
	m := a.Magnitude()
	if m <= maxMag || m == 0 {
		return a
	}
	s := maxMag / m
	return Action{X: a.X * s, Y: a.Y * s}
}

// IsFinite reports whether both action components are finite numbers.
func (a Action) IsFinite() bool {
	return !math.IsNaN(a.X) && !math.IsInf(a.X, 0) &&
		!math.IsNaN(a.Y) && !math.IsInf(a.Y, 0)
}
