package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/normalocity/pedestrians/internal/mover"
)

func TestCommandValidate(t *testing.T) {
	cases := []struct {
		name  string
		cmd   Command
		valid bool
	}{
		{name: "head toward", cmd: Command{ActorID: "a", Type: CommandHeadToward, Target: &TargetCommand{X: 1, Y: 2, Speed: 15}}, valid: true},
		{name: "head toward without payload", cmd: Command{ActorID: "a", Type: CommandHeadToward}},
		{name: "negative speed", cmd: Command{ActorID: "a", Type: CommandHeadToward, Target: &TargetCommand{X: 1, Y: 2, Speed: -1}}},
		{name: "nan target", cmd: Command{ActorID: "a", Type: CommandHeadToward, Target: &TargetCommand{X: math.NaN(), Speed: 1}}},
		{name: "path", cmd: Command{ActorID: "a", Type: CommandHeadAlongPath, Path: &PathCommand{Waypoints: []Point{{X: 1}}, Speed: 15}}, valid: true},
		{name: "empty path", cmd: Command{ActorID: "a", Type: CommandHeadAlongPath, Path: &PathCommand{Speed: 15}}},
		{name: "infinite waypoint", cmd: Command{ActorID: "a", Type: CommandHeadAlongPath, Path: &PathCommand{Waypoints: []Point{{X: math.Inf(1)}}, Speed: 15}}},
		{name: "add step", cmd: Command{ActorID: "a", Type: CommandAddStep, Step: &StepCommand{X: 3, Y: 4}}, valid: true},
		{name: "direction", cmd: Command{ActorID: "a", Type: CommandHeadDirection, Direction: &DirectionCommand{Heading: mover.HeadingUp, Speed: 45}}, valid: true},
		{name: "direction none", cmd: Command{ActorID: "a", Type: CommandHeadDirection, Direction: &DirectionCommand{Speed: 45}}},
		{name: "change speed", cmd: Command{ActorID: "a", Type: CommandChangeSpeed, Speed: &SpeedCommand{Speed: 45}}, valid: true},
		{name: "resume without speed", cmd: Command{ActorID: "a", Type: CommandResume}},
		{name: "pause", cmd: Command{ActorID: "a", Type: CommandPause}, valid: true},
		{name: "stop", cmd: Command{ActorID: "a", Type: CommandStop}, valid: true},
		{name: "missing actor", cmd: Command{Type: CommandStop}},
		{name: "unknown type", cmd: Command{ActorID: "a", Type: "Teleport"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cmd.Validate()
			if tc.valid && err != nil {
				t.Fatalf("expected valid command, got %v", err)
			}
			if !tc.valid {
				if err == nil {
					t.Fatalf("expected validation error")
				}
				if !errors.Is(err, ErrInvalidCommand) {
					t.Fatalf("expected ErrInvalidCommand, got %v", err)
				}
			}
		})
	}
}

func TestEmptyPathValidationWrapsMoverError(t *testing.T) {
	cmd := Command{ActorID: "a", Type: CommandHeadAlongPath, Path: &PathCommand{Speed: 1}}
	if err := cmd.Validate(); !errors.Is(err, mover.ErrEmptyPath) {
		t.Fatalf("expected mover.ErrEmptyPath, got %v", err)
	}
}
