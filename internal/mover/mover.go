// Package mover implements the movement and path-following state machine of a
// single pedestrian.
package mover

import (
	"math"

	"github.com/golang/geo/r2"
)

const (
	// StopDistance is the maximum distance from a target at which a mover
	// counts as arrived.
	StopDistance = 3.0
	// DefaultCollisionRadius is the radius given to movers built with New.
	DefaultCollisionRadius = 3.0
)

// Speed presets in units per second.
const (
	Stopped      = 0.0
	WalkingSpeed = 15.0
	RunningSpeed = 45.0
)

// Mover is a single pedestrian on a 2D plane with screen coordinates (y grows
// downward). It seeks one target point at a time and optionally follows an
// owned sequence of waypoints.
//
// A Mover does no locking; hosts must serialise calls.
type Mover struct {
	center    r2.Point
	radius    float64
	direction float64
	speed     float64

	target  r2.Point
	heading Heading

	path      []r2.Point
	pathIndex int
}

// New creates a stationary mover at (x, y) with DefaultCollisionRadius. A fresh
// mover targets its own position and therefore starts out arrived.
func New(x, y float64) *Mover {
	return NewWithRadius(x, y, DefaultCollisionRadius)
}

// NewWithRadius creates a stationary mover with an explicit collision radius.
// Non-positive radii fall back to DefaultCollisionRadius.
func NewWithRadius(x, y, radius float64) *Mover {
	if radius <= 0 || math.IsNaN(radius) {
		radius = DefaultCollisionRadius
	}
	center := r2.Point{X: x, Y: y}
	return &Mover{
		center: center,
		radius: radius,
		speed:  Stopped,
		target: center,
	}
}

func (m *Mover) Center() r2.Point { return m.center }

func (m *Mover) CenterX() float64 { return m.center.X }

func (m *Mover) CenterY() float64 { return m.center.Y }

func (m *Mover) Radius() float64 { return m.radius }

// Direction is the travel direction in radians, in (-π, π].
func (m *Mover) Direction() float64 { return m.direction }

func (m *Mover) Speed() float64 { return m.speed }

// Target returns the point currently sought. During open-ended travel the
// coordinate along the travel axis is ±Inf.
func (m *Mover) Target() r2.Point {
	if m.heading == HeadingNone {
		return m.target
	}
	return m.heading.edgeFrom(m.target)
}

func (m *Mover) TargetX() float64 { return m.Target().X }

func (m *Mover) TargetY() float64 { return m.Target().Y }

// Heading reports the open-ended travel direction, or HeadingNone when the
// mover seeks a concrete point.
func (m *Mover) Heading() Heading { return m.heading }

// IsOnPath reports whether the mover is following a path, even while paused.
func (m *Mover) IsOnPath() bool { return m.path != nil }

// PathIndex is the index of the waypoint being sought. It is 0 when no path is
// active.
func (m *Mover) PathIndex() int { return m.pathIndex }

// PathLen is the number of waypoints in the active path, 0 without one.
func (m *Mover) PathLen() int { return len(m.path) }

// Path returns a copy of the active waypoints, or nil when not on a path.
func (m *Mover) Path() []r2.Point {
	if m.path == nil {
		return nil
	}
	return append([]r2.Point(nil), m.path...)
}

// Snapshot captures the mover state by value. During open-ended travel Target
// holds the point the travel started from and Heading names the direction, so
// every coordinate stays finite.
type Snapshot struct {
	Center    r2.Point
	Radius    float64
	Direction float64
	Speed     float64
	Target    r2.Point
	Heading   Heading
	Arrived   bool
	OnPath    bool
	PathIndex int
	Path      []r2.Point
}

// Snapshot returns a copy of the mover state that shares no storage with it.
func (m *Mover) Snapshot() Snapshot {
	return Snapshot{
		Center:    m.center,
		Radius:    m.radius,
		Direction: m.direction,
		Speed:     m.speed,
		Target:    m.target,
		Heading:   m.heading,
		Arrived:   m.HasReachedDestination(),
		OnPath:    m.IsOnPath(),
		PathIndex: m.pathIndex,
		Path:      m.Path(),
	}
}
