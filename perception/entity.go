package perception

import "fmt"

// Entity is a neighbor or obstacle as seen from the ego agent: a relative
// position and a relative velocity, both in the world frame. For static
// obstacles the harness supplies the negated ego velocity as RelVel so that
// approach speed is still observable.
type Entity struct {
	RelX, RelY   float64
	RelVX, RelVY float64
}

// EntityStateError reports a malformed entity in a perception input list.
// It is recoverable: callers should filter the offending entity upstream
// and retry.
type EntityStateError struct {
	Index  int
	Reason string
}

func (e *EntityStateError) Error() string {
	return fmt.Sprintf("invalid entity state at index %d: %s", e.Index, e.Reason)
}

// Validate checks a single entity for NaN/Inf components and a degenerate
// (zero-radius) position.
func (en Entity) Validate(index int) error {
	if !isFinite(en.RelX) || !isFinite(en.RelY) {
		return &EntityStateError{Index: index, Reason: "non-finite relative position"}
	}
	if !isFinite(en.RelVX) || !isFinite(en.RelVY) {
		return &EntityStateError{Index: index, Reason: "non-finite relative velocity"}
	}
	if en.RelX == 0 && en.RelY == 0 {
		return &EntityStateError{Index: index, Reason: "zero-radius position"}
	}
	return nil
}
