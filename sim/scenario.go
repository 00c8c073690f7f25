package sim

import (
	"fmt"
	"math"

	"github.com/pthm-cable/wayfield/components"
)

// Scenario names accepted by Setup.
const (
	ScenarioCrowd    = "crowd"    // random placement, random goal directions
	ScenarioCorridor = "corridor" // single obstacle between agents and goal
	ScenarioScramble = "scramble" // two groups crossing at right angles
)

// Setup populates the world for a named scenario with the given number of
// agents.
func (s *Sim) Setup(scenario string, agents int) error {
	switch scenario {
	case ScenarioCrowd:
		s.setupCrowd(agents)
	case ScenarioCorridor:
		s.setupCorridor(agents)
	case ScenarioScramble:
		s.setupScramble(agents)
	default:
		return fmt.Errorf("unknown scenario %q", scenario)
	}
	return nil
}

// setupCrowd scatters agents uniformly with random headings and random
// goal directions at the configured max cruise speed.
func (s *Sim) setupCrowd(agents int) {
	speed := s.cfg.Selector.MaxAction * 0.5
	for i := 0; i < agents; i++ {
		pos := components.Position{
			X: s.rng.Float64() * s.width,
			Y: s.rng.Float64() * s.height,
		}
		heading := s.rng.Float64()*2*math.Pi - math.Pi
		goalAngle := s.rng.Float64() * 2 * math.Pi
		goal := components.Goal{
			DirX:  math.Cos(goalAngle),
			DirY:  math.Sin(goalAngle),
			Speed: speed,
		}
		s.AddAgent(pos, heading, goal)
	}
}

// setupCorridor lines agents up on the left edge heading right, with one
// obstacle planted on the straight-line path.
func (s *Sim) setupCorridor(agents int) {
	speed := s.cfg.Selector.MaxAction * 0.5
	spacing := s.height / float64(agents+1)
	for i := 0; i < agents; i++ {
		pos := components.Position{
			X: s.width * 0.1,
			Y: spacing * float64(i+1),
		}
		goal := components.Goal{DirX: 1, DirY: 0, Speed: speed}
		s.AddAgent(pos, 0, goal)
	}
	s.AddObstacle(s.width*0.5, s.height*0.5, s.bodyRadius*2)
}

// setupScramble creates two groups crossing at right angles, the classic
// deadlock-prone crossing.
func (s *Sim) setupScramble(agents int) {
	speed := s.cfg.Selector.MaxAction * 0.5
	half := agents / 2
	for i := 0; i < half; i++ {
		jitter := (s.rng.Float64() - 0.5) * s.height * 0.2
		s.AddAgent(
			components.Position{X: s.width * 0.15, Y: s.height*0.5 + jitter},
			0,
			components.Goal{DirX: 1, DirY: 0, Speed: speed},
		)
	}
	for i := half; i < agents; i++ {
		jitter := (s.rng.Float64() - 0.5) * s.width * 0.2
		s.AddAgent(
			components.Position{X: s.width*0.5 + jitter, Y: s.height * 0.15},
			math.Pi/2,
			components.Goal{DirX: 0, DirY: 1, Speed: speed},
		)
	}
}
