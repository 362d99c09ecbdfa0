package sim

import (
	"time"

	"github.com/normalocity/pedestrians/internal/mover"
)

// Engine is the world the loop drives: commands are applied first, then
// every pedestrian advances once.
type Engine interface {
	Apply(tick uint64, cmds []Command) []CommandRejection
	Step(tick uint64, elapsed time.Duration)
	Snapshot() Snapshot
}

// CommandRejection reports a staged command the engine refused to apply.
type CommandRejection struct {
	Command Command `json:"command"`
	Reason  string  `json:"reason"`
}

// PedestrianSnapshot is one crowd member as seen after a tick.
type PedestrianSnapshot struct {
	ID    string
	State mover.Snapshot
}

// Snapshot lists every pedestrian, ordered by ID.
type Snapshot struct {
	Pedestrians []PedestrianSnapshot
}
