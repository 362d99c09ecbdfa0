// Package scenario loads crowd setups from JSON files.
package scenario

import (
	"encoding/json"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/normalocity/pedestrians/internal/crowd"
	"github.com/normalocity/pedestrians/internal/mover"
	"github.com/normalocity/pedestrians/internal/sim"
)

// ErrInvalidScenario marks scenario documents that fail validation.
var ErrInvalidScenario = errors.New("invalid scenario")

type Point struct {
	X float64 `json:"x" jsonschema:"description=Horizontal coordinate in world units"`
	Y float64 `json:"y" jsonschema:"description=Vertical coordinate in world units; grows downward"`
}

// Pedestrian describes one crowd member and its initial order. At most one of
// Target, Path and Heading may be set.
type Pedestrian struct {
	ID      string   `json:"id,omitempty" jsonschema:"title=Pedestrian id,description=Stable identifier; generated when omitted"`
	X       float64  `json:"x" jsonschema:"description=Spawn position x"`
	Y       float64  `json:"y" jsonschema:"description=Spawn position y"`
	Radius  float64  `json:"radius,omitempty" jsonschema:"minimum=0,description=Collision radius; defaults to the standard body size"`
	Speed   *float64 `json:"speed,omitempty" jsonschema:"minimum=0,description=Units per second; defaults to walking speed"`
	Target  *Point   `json:"target,omitempty" jsonschema:"description=Point to walk straight toward"`
	Path    []Point  `json:"path,omitempty" jsonschema:"minItems=1,description=Waypoints to follow in order"`
	Heading string   `json:"heading,omitempty" jsonschema:"enum=up,enum=down,enum=left,enum=right,description=Open-ended travel direction"`
}

// Scenario is the root of a scenario file.
type Scenario struct {
	Name        string       `json:"name,omitempty" jsonschema:"description=Human readable label"`
	Pedestrians []Pedestrian `json:"pedestrians" jsonschema:"required,description=Crowd members spawned when the scenario loads"`
}

// Load reads and validates the scenario at path.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open scenario %s", path)
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load scenario %s", path)
	}
	return s, nil
}

// Decode parses and validates a scenario document. Unknown fields are
// rejected.
func Decode(r io.Reader) (*Scenario, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	var s Scenario
	if err := decoder.Decode(&s); err != nil {
		return nil, errors.Wrap(err, "decode scenario")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every pedestrian entry and the uniqueness of explicit IDs.
func (s *Scenario) Validate() error {
	seen := make(map[string]int, len(s.Pedestrians))
	for i, p := range s.Pedestrians {
		if p.ID != "" {
			if first, dup := seen[p.ID]; dup {
				return errors.Wrapf(ErrInvalidScenario, "pedestrian %d reuses id %q from pedestrian %d", i, p.ID, first)
			}
			seen[p.ID] = i
		}
		if err := p.validate(); err != nil {
			return errors.Wrapf(err, "pedestrian %d", i)
		}
	}
	return nil
}

func (p Pedestrian) validate() error {
	if !finite(p.X) || !finite(p.Y) {
		return errors.Wrap(ErrInvalidScenario, "non-finite position")
	}
	if !finite(p.Radius) || p.Radius < 0 {
		return errors.Wrapf(ErrInvalidScenario, "radius %v", p.Radius)
	}
	if p.Speed != nil && (!finite(*p.Speed) || *p.Speed < 0) {
		return errors.Wrapf(ErrInvalidScenario, "speed %v", *p.Speed)
	}

	orders := 0
	if p.Target != nil {
		orders++
		if !finite(p.Target.X) || !finite(p.Target.Y) {
			return errors.Wrap(ErrInvalidScenario, "non-finite target")
		}
	}
	if p.Path != nil {
		orders++
		if len(p.Path) == 0 {
			return errors.Wrap(ErrInvalidScenario, mover.ErrEmptyPath.Error())
		}
		for i, wp := range p.Path {
			if !finite(wp.X) || !finite(wp.Y) {
				return errors.Wrapf(ErrInvalidScenario, "non-finite waypoint %d", i)
			}
		}
	}
	if p.Heading != "" {
		orders++
		heading, err := mover.ParseHeading(p.Heading)
		if err != nil || !heading.Valid() {
			return errors.Wrapf(ErrInvalidScenario, "heading %q", p.Heading)
		}
	}
	if orders > 1 {
		return errors.Wrap(ErrInvalidScenario, "target, path and heading are mutually exclusive")
	}
	return nil
}

// Apply spawns every pedestrian into c and issues its initial order. It
// returns the IDs in scenario order. Pedestrians spawned before a failure stay
// in the crowd.
func (s *Scenario) Apply(c *crowd.Crowd) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(s.Pedestrians))
	var commands []sim.Command
	for i, p := range s.Pedestrians {
		id := p.ID
		if id == "" {
			generated, err := c.Spawn(p.X, p.Y, p.Radius)
			if err != nil {
				return ids, errors.Wrapf(err, "spawn pedestrian %d", i)
			}
			id = generated
		} else if err := c.SpawnWithID(id, p.X, p.Y, p.Radius); err != nil {
			return ids, errors.Wrapf(err, "spawn pedestrian %q", id)
		}
		ids = append(ids, id)
		if cmd, ok := p.command(id); ok {
			commands = append(commands, cmd)
		}
	}

	if rejected := c.Apply(0, commands); len(rejected) > 0 {
		first := rejected[0]
		return ids, errors.Wrapf(ErrInvalidScenario, "initial order for %q rejected: %s", first.Command.ActorID, first.Reason)
	}
	return ids, nil
}

func (p Pedestrian) command(id string) (sim.Command, bool) {
	speed := mover.WalkingSpeed
	if p.Speed != nil {
		speed = *p.Speed
	}
	cmd := sim.Command{ActorID: id}
	switch {
	case p.Target != nil:
		cmd.Type = sim.CommandHeadToward
		cmd.Target = &sim.TargetCommand{X: p.Target.X, Y: p.Target.Y, Speed: speed}
	case len(p.Path) > 0:
		waypoints := make([]sim.Point, len(p.Path))
		for i, wp := range p.Path {
			waypoints[i] = sim.Point{X: wp.X, Y: wp.Y}
		}
		cmd.Type = sim.CommandHeadAlongPath
		cmd.Path = &sim.PathCommand{Waypoints: waypoints, Speed: speed}
	case p.Heading != "":
		heading, _ := mover.ParseHeading(p.Heading)
		cmd.Type = sim.CommandHeadDirection
		cmd.Direction = &sim.DirectionCommand{Heading: heading, Speed: speed}
	default:
		return sim.Command{}, false
	}
	return cmd, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
