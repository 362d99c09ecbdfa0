package mover

import "github.com/golang/geo/r2"

// HeadToward sends the mover straight toward (x, y) at speed. Any active path
// or open-ended travel is cancelled. A point within StopDistance counts as
// reached and leaves the mover stopped.
func (m *Mover) HeadToward(x, y, speed float64) {
	m.clearPath()
	m.speed = speed
	m.setTargetLocation(r2.Point{X: x, Y: y})
	if m.HasReachedDestination() {
		m.speed = Stopped
	}
}

// SetNewTargetPoint is an alias of HeadToward.
func (m *Mover) SetNewTargetPoint(x, y, speed float64) {
	m.HeadToward(x, y, speed)
}

// HeadAlongPath replaces any current path with a copy of path and starts
// toward its first waypoint. An empty path returns ErrEmptyPath and leaves the
// mover untouched.
func (m *Mover) HeadAlongPath(path []r2.Point, speed float64) error {
	if len(path) == 0 {
		return ErrEmptyPath
	}
	m.path = append(make([]r2.Point, 0, len(path)), path...)
	m.pathIndex = 0
	m.speed = speed
	m.setTargetLocation(m.path[0])
	return nil
}

// AddStepToPath extends the path with (x, y). Without a path a new one is
// started and the mover heads for the point at its current speed. Otherwise the
// point is appended unless it repeats the last waypoint, and the current
// waypoint stays targeted.
func (m *Mover) AddStepToPath(x, y float64) {
	p := r2.Point{X: x, Y: y}
	if m.path == nil {
		m.path = []r2.Point{p}
		m.pathIndex = 0
		m.setTargetLocation(p)
		return
	}
	if m.path[len(m.path)-1] == p {
		return
	}
	m.path = append(m.path, p)
}

// HeadDirection starts open-ended travel along h at speed. The mover keeps
// going until another command replaces the heading; it has no terminal state
// of its own. Invalid headings are ignored.
func (m *Mover) HeadDirection(h Heading, speed float64) {
	if !h.Valid() {
		return
	}
	m.clearPath()
	m.speed = speed
	m.target = m.center
	m.heading = h
	m.direction = h.angle()
}

// ChangeSpeedTo updates the speed while the target has not been reached yet.
func (m *Mover) ChangeSpeedTo(speed float64) {
	if !m.HasReachedDestination() {
		m.speed = speed
	}
}

// Pause halts the mover and keeps its target and path for Resume.
func (m *Mover) Pause() {
	m.speed = Stopped
}

// Resume sets the speed without touching target, path or direction. A mover
// standing on a direct target stays stopped.
func (m *Mover) Resume(speed float64) {
	if m.path == nil && m.HasReachedDestination() {
		return
	}
	m.speed = speed
}

// Stop halts the mover and forgets where it was headed.
func (m *Mover) Stop() {
	m.speed = Stopped
	m.target = m.center
	m.heading = HeadingNone
	m.clearPath()
}

func (m *Mover) clearPath() {
	m.path = nil
	m.pathIndex = 0
}
