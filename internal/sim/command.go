package sim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/normalocity/pedestrians/internal/mover"
)

// CommandType enumerates the supported movement commands.
type CommandType string

const (
	CommandHeadToward    CommandType = "HeadToward"
	CommandHeadAlongPath CommandType = "HeadAlongPath"
	CommandAddStep       CommandType = "AddStep"
	CommandHeadDirection CommandType = "HeadDirection"
	CommandChangeSpeed   CommandType = "ChangeSpeed"
	CommandPause         CommandType = "Pause"
	CommandResume        CommandType = "Resume"
	CommandStop          CommandType = "Stop"
)

// ErrInvalidCommand wraps every validation failure reported by Validate.
var ErrInvalidCommand = errors.New("invalid command")

// Point is a waypoint on the wire.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TargetCommand heads straight for a point.
type TargetCommand struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Speed float64 `json:"speed"`
}

// PathCommand replaces the current route.
type PathCommand struct {
	Waypoints []Point `json:"waypoints"`
	Speed     float64 `json:"speed"`
}

// StepCommand appends one waypoint.
type StepCommand struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DirectionCommand starts open-ended travel.
type DirectionCommand struct {
	Heading mover.Heading `json:"heading"`
	Speed   float64       `json:"speed"`
}

// SpeedCommand carries the speed for ChangeSpeed and Resume.
type SpeedCommand struct {
	Speed float64 `json:"speed"`
}

// Command represents an intent captured for processing on the next tick.
type Command struct {
	ID         string            `json:"id,omitempty"`
	OriginTick uint64            `json:"originTick"`
	ActorID    string            `json:"actorId"`
	Type       CommandType       `json:"type"`
	IssuedAt   time.Time         `json:"issuedAt"`
	Target     *TargetCommand    `json:"target,omitempty"`
	Path       *PathCommand      `json:"path,omitempty"`
	Step       *StepCommand      `json:"step,omitempty"`
	Direction  *DirectionCommand `json:"direction,omitempty"`
	Speed      *SpeedCommand     `json:"speed,omitempty"`
}

// Validate checks that the payload required by Type is present and holds
// finite coordinates and non-negative speeds.
func (c Command) Validate() error {
	if c.ActorID == "" {
		return fmt.Errorf("%w: missing actor", ErrInvalidCommand)
	}
	switch c.Type {
	case CommandHeadToward:
		if c.Target == nil {
			return missingPayload(c.Type)
		}
		return firstErr(checkPoint(c.Target.X, c.Target.Y), checkSpeed(c.Target.Speed))
	case CommandHeadAlongPath:
		if c.Path == nil {
			return missingPayload(c.Type)
		}
		if len(c.Path.Waypoints) == 0 {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, mover.ErrEmptyPath)
		}
		for _, p := range c.Path.Waypoints {
			if err := checkPoint(p.X, p.Y); err != nil {
				return err
			}
		}
		return checkSpeed(c.Path.Speed)
	case CommandAddStep:
		if c.Step == nil {
			return missingPayload(c.Type)
		}
		return checkPoint(c.Step.X, c.Step.Y)
	case CommandHeadDirection:
		if c.Direction == nil {
			return missingPayload(c.Type)
		}
		if !c.Direction.Heading.Valid() {
			return fmt.Errorf("%w: heading %s", ErrInvalidCommand, c.Direction.Heading)
		}
		return checkSpeed(c.Direction.Speed)
	case CommandChangeSpeed, CommandResume:
		if c.Speed == nil {
			return missingPayload(c.Type)
		}
		return checkSpeed(c.Speed.Speed)
	case CommandPause, CommandStop:
		return nil
	}
	return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, c.Type)
}

func missingPayload(t CommandType) error {
	return fmt.Errorf("%w: %s without payload", ErrInvalidCommand, t)
}

func checkPoint(x, y float64) error {
	if !finite(x) || !finite(y) {
		return fmt.Errorf("%w: non-finite point (%v, %v)", ErrInvalidCommand, x, y)
	}
	return nil
}

func checkSpeed(speed float64) error {
	if !finite(speed) || speed < 0 {
		return fmt.Errorf("%w: speed %v", ErrInvalidCommand, speed)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
