package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/normalocity/pedestrians/internal/mover"
	"github.com/normalocity/pedestrians/internal/sim"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Outbound message types.
	TypeState         = "state"
	TypeCommandAck    = "commandAck"
	TypeCommandReject = "commandReject"
	TypeHeartbeat     = "heartbeat"

	// Inbound message types.
	TypeCommand = "command"
)

// Point is a position on the wire.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pedestrian is the wire view of one crowd member. Target is always finite;
// during open-ended travel it is the position the heading was set from and
// Heading names the direction.
type Pedestrian struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Radius    float64 `json:"radius"`
	Direction float64 `json:"direction"`
	Speed     float64 `json:"speed"`
	Target    Point   `json:"target"`
	Heading   string  `json:"heading,omitempty"`
	Arrived   bool    `json:"arrived"`
	OnPath    bool    `json:"onPath"`
	PathIndex int     `json:"pathIndex"`
	Path      []Point `json:"path,omitempty"`
}

// FromSnapshot converts a crowd snapshot entry for the wire.
func FromSnapshot(p sim.PedestrianSnapshot) Pedestrian {
	s := p.State
	out := Pedestrian{
		ID:        p.ID,
		X:         s.Center.X,
		Y:         s.Center.Y,
		Radius:    s.Radius,
		Direction: s.Direction,
		Speed:     s.Speed,
		Target:    Point{X: s.Target.X, Y: s.Target.Y},
		Arrived:   s.Arrived,
		OnPath:    s.OnPath,
		PathIndex: s.PathIndex,
	}
	if s.Heading != mover.HeadingNone {
		out.Heading = s.Heading.String()
	}
	if len(s.Path) > 0 {
		out.Path = make([]Point, len(s.Path))
		for i, wp := range s.Path {
			out.Path[i] = Point{X: wp.X, Y: wp.Y}
		}
	}
	return out
}

// FromSnapshots converts a whole crowd snapshot, keeping its order.
func FromSnapshots(list []sim.PedestrianSnapshot) []Pedestrian {
	out := make([]Pedestrian, len(list))
	for i, p := range list {
		out[i] = FromSnapshot(p)
	}
	return out
}

// StateMessage is broadcast to every subscriber after each tick.
type StateMessage struct {
	Ver         int          `json:"ver"`
	Type        string       `json:"type"`
	Tick        uint64       `json:"tick"`
	ServerTime  int64        `json:"serverTime"`
	Pedestrians []Pedestrian `json:"pedestrians"`
}

func NewStateMessage(tick uint64, now time.Time, snapshot sim.Snapshot) StateMessage {
	return StateMessage{
		Ver:         Version,
		Type:        TypeState,
		Tick:        tick,
		ServerTime:  now.UnixMilli(),
		Pedestrians: FromSnapshots(snapshot.Pedestrians),
	}
}

// EncodeState renders a state message and reports how many pedestrians it
// carries.
func EncodeState(msg StateMessage) ([]byte, int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, 0, err
	}
	return data, len(msg.Pedestrians), nil
}

// SpawnRequest is the body of POST /pedestrians.
type SpawnRequest struct {
	ID     string  `json:"id,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius,omitempty"`
}

// CommandRequest is a movement command as clients send it. Speed defaults to
// walking speed when omitted.
type CommandRequest struct {
	Type      sim.CommandType `json:"type"`
	X         float64         `json:"x,omitempty"`
	Y         float64         `json:"y,omitempty"`
	Speed     *float64        `json:"speed,omitempty"`
	Waypoints []Point         `json:"waypoints,omitempty"`
	Heading   string          `json:"heading,omitempty"`
}

// ToCommand builds the staged command for actorID.
func (r CommandRequest) ToCommand(actorID string) (sim.Command, error) {
	speed := mover.WalkingSpeed
	if r.Speed != nil {
		speed = *r.Speed
	}
	cmd := sim.Command{ActorID: actorID, Type: r.Type}
	switch r.Type {
	case sim.CommandHeadToward:
		cmd.Target = &sim.TargetCommand{X: r.X, Y: r.Y, Speed: speed}
	case sim.CommandHeadAlongPath:
		waypoints := make([]sim.Point, len(r.Waypoints))
		for i, wp := range r.Waypoints {
			waypoints[i] = sim.Point{X: wp.X, Y: wp.Y}
		}
		cmd.Path = &sim.PathCommand{Waypoints: waypoints, Speed: speed}
	case sim.CommandAddStep:
		cmd.Step = &sim.StepCommand{X: r.X, Y: r.Y}
	case sim.CommandHeadDirection:
		heading, err := mover.ParseHeading(r.Heading)
		if err != nil {
			return sim.Command{}, err
		}
		cmd.Direction = &sim.DirectionCommand{Heading: heading, Speed: speed}
	case sim.CommandChangeSpeed, sim.CommandResume:
		cmd.Speed = &sim.SpeedCommand{Speed: speed}
	case sim.CommandPause, sim.CommandStop:
	default:
		return sim.Command{}, fmt.Errorf("%w: unknown command type %q", sim.ErrInvalidCommand, r.Type)
	}
	if err := cmd.Validate(); err != nil {
		return sim.Command{}, err
	}
	return cmd, nil
}

// ClientMessage captures an inbound websocket message.
type ClientMessage struct {
	Ver     int             `json:"ver,omitempty"`
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	ActorID string          `json:"actorId,omitempty"`
	Command *CommandRequest `json:"command,omitempty"`
	SentAt  int64           `json:"sentAt,omitempty"`
}

type CommandAck struct {
	Ver       int    `json:"ver"`
	Type      string `json:"type"`
	Seq       uint64 `json:"seq"`
	CommandID string `json:"commandId,omitempty"`
	Tick      uint64 `json:"tick,omitempty"`
}

type CommandReject struct {
	Ver    int    `json:"ver"`
	Type   string `json:"type"`
	Seq    uint64 `json:"seq"`
	Reason string `json:"reason"`
	Retry  bool   `json:"retry,omitempty"`
}

type Heartbeat struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
}

func NewCommandAck(seq uint64, cmd sim.Command) CommandAck {
	return CommandAck{Ver: Version, Type: TypeCommandAck, Seq: seq, CommandID: cmd.ID, Tick: cmd.OriginTick}
}

func NewCommandReject(seq uint64, reason string, retry bool) CommandReject {
	return CommandReject{Ver: Version, Type: TypeCommandReject, Seq: seq, Reason: reason, Retry: retry}
}

func NewHeartbeat(now time.Time, clientTime int64) Heartbeat {
	return Heartbeat{Ver: Version, Type: TypeHeartbeat, ServerTime: now.UnixMilli(), ClientTime: clientTime}
}
