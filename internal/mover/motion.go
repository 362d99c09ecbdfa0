package mover

import (
	"math"
	"time"

	"github.com/golang/geo/r2"
)

// Step describes what a single Advance call did.
type Step int

const (
	// StepIdle means nothing changed: the mover is stopped or already settled.
	StepIdle Step = iota
	// StepMoved means the center was displaced toward the target.
	StepMoved
	// StepArrived means a direct target was reached and the mover settled.
	StepArrived
	// StepWaypointReached means a waypoint was reached and the next one is now
	// targeted.
	StepWaypointReached
	// StepPathCompleted means the final waypoint was reached and the path was
	// cleared.
	StepPathCompleted
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepMoved:
		return "moved"
	case StepArrived:
		return "arrived"
	case StepWaypointReached:
		return "waypoint_reached"
	case StepPathCompleted:
		return "path_completed"
	default:
		return "unknown"
	}
}

// Advance moves the mover for the given elapsed time. A direct target reached
// during the call settles the mover with zero speed at once. When the target
// was already reached the position is left untouched and the arrival is
// handled instead: the next waypoint is targeted, the path is finished, or the
// mover settles. A single tick never carries the mover past a point target.
// Negative durations count as zero.
func (m *Mover) Advance(elapsed time.Duration) Step {
	if m.HasReachedDestination() {
		return m.arrive()
	}
	if elapsed <= 0 || m.speed == 0 {
		return StepIdle
	}

	distance := m.speed * elapsed.Seconds()
	if m.heading == HeadingNone {
		if remaining := m.DistanceToTarget(); distance > remaining {
			distance = remaining
		}
	}
	step := r2.Point{X: math.Cos(m.direction), Y: math.Sin(m.direction)}.Mul(distance)
	m.center = m.center.Add(step)
	if m.path == nil && m.HasReachedDestination() {
		m.speed = Stopped
		return StepArrived
	}
	return StepMoved
}

func (m *Mover) arrive() Step {
	if m.path == nil {
		if m.speed == Stopped {
			return StepIdle
		}
		m.speed = Stopped
		return StepArrived
	}

	m.pathIndex++
	if m.pathIndex >= len(m.path) {
		m.Stop()
		return StepPathCompleted
	}
	m.setTargetLocation(m.path[m.pathIndex])
	return StepWaypointReached
}

// HasReachedDestination reports whether the center lies within StopDistance
// of the target. It is always false during open-ended travel.
func (m *Mover) HasReachedDestination() bool {
	if m.heading != HeadingNone {
		return false
	}
	return m.DistanceToTarget() <= StopDistance
}

// DistanceToPoint is the straight-line distance from the center to (x, y).
func (m *Mover) DistanceToPoint(x, y float64) float64 {
	return m.center.Sub(r2.Point{X: x, Y: y}).Norm()
}

// DistanceToTarget is the distance to the immediate target only. It is +Inf
// during open-ended travel.
func (m *Mover) DistanceToTarget() float64 {
	if m.heading != HeadingNone {
		return math.Inf(1)
	}
	return m.DistanceToPoint(m.target.X, m.target.Y)
}

// DistanceToEndOfPath estimates the remaining travel along the path: the
// distance to the current waypoint plus every remaining segment. The value is
// exact only while the mover walks straight lines between waypoints. Without
// a path it equals DistanceToTarget.
func (m *Mover) DistanceToEndOfPath() float64 {
	total := m.DistanceToTarget()
	for i := m.pathIndex + 1; i < len(m.path); i++ {
		total += m.path[i].Sub(m.path[i-1]).Norm()
	}
	return total
}

// TimeToTarget estimates how long reaching the current target takes at the
// current speed. ok is false while stopped or travelling open-ended. Estimates
// beyond the range of time.Duration saturate at its maximum.
func (m *Mover) TimeToTarget() (time.Duration, bool) {
	return m.eta(m.DistanceToTarget())
}

// TimeToEndOfPath is TimeToTarget for DistanceToEndOfPath.
func (m *Mover) TimeToEndOfPath() (time.Duration, bool) {
	return m.eta(m.DistanceToEndOfPath())
}

func (m *Mover) eta(distance float64) (time.Duration, bool) {
	if m.speed <= 0 || math.IsInf(distance, 0) || math.IsNaN(distance) {
		return 0, false
	}
	nanos := distance / m.speed * float64(time.Second)
	if nanos >= math.MaxInt64 {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(nanos), true
}

// setTargetLocation points the mover at p and recomputes the direction.
func (m *Mover) setTargetLocation(p r2.Point) {
	m.target = p
	m.heading = HeadingNone
	delta := p.Sub(m.center)
	m.direction = math.Atan2(delta.Y, delta.X)
}
