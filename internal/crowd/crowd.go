// Package crowd keeps a registry of independently moving pedestrians and
// advances them together, one tick at a time.
package crowd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"

	"github.com/normalocity/pedestrians/internal/mover"
	"github.com/normalocity/pedestrians/internal/sim"
	"github.com/normalocity/pedestrians/logging"
	loggingmovement "github.com/normalocity/pedestrians/logging/movement"
)

var (
	ErrNotFound    = errors.New("pedestrian not found")
	ErrDuplicateID = errors.New("pedestrian id already in use")
)

// Config bounds the walkable area. Open-ended travellers that leave Bounds
// are stopped. An empty rect disables the check.
type Config struct {
	Bounds r2.Rect
}

func DefaultConfig() Config {
	return Config{Bounds: r2.RectFromPoints(r2.Point{X: 0, Y: 0}, r2.Point{X: 2400, Y: 1800})}
}

// Crowd is safe for concurrent use.
type Crowd struct {
	mu        sync.RWMutex
	cfg       Config
	members   map[string]*mover.Mover
	publisher logging.Publisher
	tick      uint64

	// index is rebuilt by Near when membership or positions changed since
	// the last query.
	index      *Index
	indexStale bool
}

func New(cfg Config, publisher logging.Publisher) *Crowd {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Crowd{
		cfg:       cfg,
		members:   make(map[string]*mover.Mover),
		index:     newIndex(),
		publisher: publisher,
	}
}

func (c *Crowd) Config() Config {
	return c.cfg
}

// Spawn adds a stationary pedestrian and returns its generated ID.
func (c *Crowd) Spawn(x, y, radius float64) (string, error) {
	id := uuid.NewString()
	if err := c.SpawnWithID(id, x, y, radius); err != nil {
		return "", err
	}
	return id, nil
}

// SpawnWithID adds a stationary pedestrian under a caller-chosen ID.
func (c *Crowd) SpawnWithID(id string, x, y, radius float64) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", mover.ErrInvalidArgument)
	}
	if !finite(x) || !finite(y) {
		return fmt.Errorf("%w: non-finite position (%v, %v)", mover.ErrInvalidArgument, x, y)
	}
	c.mu.Lock()
	if _, exists := c.members[id]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	m := mover.NewWithRadius(x, y, radius)
	c.members[id] = m
	c.indexStale = true
	tick := c.tick
	c.mu.Unlock()

	loggingmovement.Spawned(context.Background(), c.publisher, tick, id, loggingmovement.PositionPayload{X: x, Y: y})
	return nil
}

func (c *Crowd) Remove(id string) error {
	c.mu.Lock()
	m, ok := c.members[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(c.members, id)
	c.indexStale = true
	tick := c.tick
	c.mu.Unlock()

	loggingmovement.Removed(context.Background(), c.publisher, tick, id, loggingmovement.PositionPayload{X: m.CenterX(), Y: m.CenterY()})
	return nil
}

func (c *Crowd) Get(id string) (mover.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[id]
	if !ok {
		return mover.Snapshot{}, false
	}
	return m.Snapshot(), true
}

func (c *Crowd) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Snapshot satisfies sim.Engine.
func (c *Crowd) Snapshot() sim.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.sortedIDsLocked()
	out := make([]sim.PedestrianSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, sim.PedestrianSnapshot{ID: id, State: c.members[id].Snapshot()})
	}
	return sim.Snapshot{Pedestrians: out}
}

// Near lists pedestrians whose bodies overlap the circle of radius around
// (x, y), nearest first.
func (c *Crowd) Near(x, y, radius float64) []sim.PedestrianSnapshot {
	if radius < 0 || !finite(radius) {
		return nil
	}
	center := r2.Point{X: x, Y: y}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshIndexLocked()
	type hit struct {
		snapshot sim.PedestrianSnapshot
		distance float64
	}
	var hits []hit
	for _, id := range c.index.candidates(center, radius) {
		m, ok := c.members[id]
		if !ok {
			continue
		}
		d := m.DistanceToPoint(x, y)
		if d > radius+m.Radius() {
			continue
		}
		hits = append(hits, hit{snapshot: sim.PedestrianSnapshot{ID: id, State: m.Snapshot()}, distance: d})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].distance != hits[j].distance {
			return hits[i].distance < hits[j].distance
		}
		return hits[i].snapshot.ID < hits[j].snapshot.ID
	})
	out := make([]sim.PedestrianSnapshot, len(hits))
	for i, h := range hits {
		out[i] = h.snapshot
	}
	return out
}

// Apply satisfies sim.Engine. Commands run in order; those naming unknown
// pedestrians or failing validation are returned as rejections.
func (c *Crowd) Apply(tick uint64, cmds []sim.Command) []sim.CommandRejection {
	var rejected []sim.CommandRejection
	c.mu.Lock()
	for _, cmd := range cmds {
		if err := c.applyLocked(cmd); err != nil {
			rejected = append(rejected, sim.CommandRejection{Command: cmd, Reason: err.Error()})
		}
	}
	c.mu.Unlock()

	for _, r := range rejected {
		loggingmovement.CommandRejected(context.Background(), c.publisher, tick, r.Command.ActorID, r.Command.ID, loggingmovement.CommandRejectedPayload{
			Command: string(r.Command.Type),
			Reason:  r.Reason,
		})
	}
	return rejected
}

func (c *Crowd) applyLocked(cmd sim.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	m, ok := c.members[cmd.ActorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, cmd.ActorID)
	}
	switch cmd.Type {
	case sim.CommandHeadToward:
		m.HeadToward(cmd.Target.X, cmd.Target.Y, cmd.Target.Speed)
	case sim.CommandHeadAlongPath:
		path := make([]r2.Point, len(cmd.Path.Waypoints))
		for i, p := range cmd.Path.Waypoints {
			path[i] = r2.Point{X: p.X, Y: p.Y}
		}
		return m.HeadAlongPath(path, cmd.Path.Speed)
	case sim.CommandAddStep:
		m.AddStepToPath(cmd.Step.X, cmd.Step.Y)
	case sim.CommandHeadDirection:
		m.HeadDirection(cmd.Direction.Heading, cmd.Direction.Speed)
	case sim.CommandChangeSpeed:
		m.ChangeSpeedTo(cmd.Speed.Speed)
	case sim.CommandPause:
		m.Pause()
	case sim.CommandResume:
		m.Resume(cmd.Speed.Speed)
	case sim.CommandStop:
		m.Stop()
	}
	return nil
}

type stepEvent struct {
	id      string
	step    mover.Step
	snap    mover.Snapshot
	bounded bool
}

// Step satisfies sim.Engine. Every pedestrian advances once, in ID order.
func (c *Crowd) Step(tick uint64, elapsed time.Duration) {
	var events []stepEvent
	c.mu.Lock()
	c.tick = tick
	for _, id := range c.sortedIDsLocked() {
		m := c.members[id]
		step := m.Advance(elapsed)
		if heading := m.Heading(); heading != mover.HeadingNone && !c.inBounds(m.Center()) {
			m.Stop()
			snap := m.Snapshot()
			snap.Heading = heading
			events = append(events, stepEvent{id: id, step: step, snap: snap, bounded: true})
			continue
		}
		switch step {
		case mover.StepArrived, mover.StepWaypointReached, mover.StepPathCompleted:
			events = append(events, stepEvent{id: id, step: step, snap: m.Snapshot()})
		}
	}
	c.indexStale = true
	c.mu.Unlock()

	c.publishStepEvents(tick, events)
}

func (c *Crowd) publishStepEvents(tick uint64, events []stepEvent) {
	ctx := context.Background()
	for _, e := range events {
		position := loggingmovement.PositionPayload{X: e.snap.Center.X, Y: e.snap.Center.Y}
		if e.bounded {
			loggingmovement.BoundsReached(ctx, c.publisher, tick, e.id, loggingmovement.BoundsPayload{
				X:       position.X,
				Y:       position.Y,
				Heading: e.snap.Heading.String(),
			})
			continue
		}
		switch e.step {
		case mover.StepArrived:
			loggingmovement.Arrived(ctx, c.publisher, tick, e.id, position)
		case mover.StepWaypointReached:
			loggingmovement.WaypointReached(ctx, c.publisher, tick, e.id, loggingmovement.WaypointPayload{
				X:         e.snap.Target.X,
				Y:         e.snap.Target.Y,
				PathIndex: e.snap.PathIndex,
				PathLen:   len(e.snap.Path),
			})
		case mover.StepPathCompleted:
			loggingmovement.PathCompleted(ctx, c.publisher, tick, e.id, position)
		}
	}
}

func (c *Crowd) inBounds(p r2.Point) bool {
	if c.cfg.Bounds.IsEmpty() {
		return true
	}
	return c.cfg.Bounds.ContainsPoint(p)
}

func (c *Crowd) refreshIndexLocked() {
	if !c.indexStale {
		return
	}
	c.indexStale = false
	centers := make(map[string]r2.Point, len(c.members))
	radii := make(map[string]float64, len(c.members))
	for id, m := range c.members {
		centers[id] = m.Center()
		radii[id] = m.Radius()
	}
	c.index.rebuild(centers, radii)
}

func (c *Crowd) sortedIDsLocked() []string {
	ids := make([]string, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

var _ sim.Engine = (*Crowd)(nil)
