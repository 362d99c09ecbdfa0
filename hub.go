// Package pedestrians hosts a crowd of independently walking pedestrians,
// advances it on a fixed tick and streams the result to websocket
// subscribers.
package pedestrians

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/normalocity/pedestrians/internal/crowd"
	"github.com/normalocity/pedestrians/internal/mover"
	"github.com/normalocity/pedestrians/internal/net/proto"
	"github.com/normalocity/pedestrians/internal/sim"
	"github.com/normalocity/pedestrians/internal/telemetry"
	"github.com/normalocity/pedestrians/logging"
	loggingsimulation "github.com/normalocity/pedestrians/logging/simulation"
)

const writeWait = 10 * time.Second

// Reasons reported for commands refused before they reach the queue, in
// addition to the sim.CommandReject* reasons.
const (
	CommandRejectUnknownActor = "unknown_actor"
)

// HubDeps carries the infrastructure a hub reports to.
type HubDeps struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Clock     logging.Clock
}

// Hub owns the crowd, its tick loop and the live subscribers.
type Hub struct {
	cfg       HubConfig
	crowd     *crowd.Crowd
	loop      *sim.Loop
	logger    telemetry.Logger
	publisher logging.Publisher
	clock     logging.Clock
	metrics   *telemetry.Counters
	telemetry telemetryCounters

	mu            sync.Mutex
	subscribers   map[string]*subscriber
	overrunStreak atomic.Uint64
}

type subscriber struct {
	id             string
	conn           *websocket.Conn
	mu             sync.Mutex
	lastCommandSeq atomic.Uint64
}

func (s *subscriber) ID() string {
	return s.id
}

// WriteMessage serialises writes; gorilla connections allow one writer.
func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(messageType, data)
}

func (s *subscriber) writeLocked(messageType int, data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *subscriber) LastCommandSeq() uint64 {
	return s.lastCommandSeq.Load()
}

func (s *subscriber) StoreLastCommandSeq(seq uint64) {
	s.lastCommandSeq.Store(seq)
}

// NewHub creates an empty crowd and the loop that drives it.
func NewHub(cfg HubConfig, deps HubDeps) *Hub {
	if deps.Logger == nil {
		deps.Logger = telemetry.LoggerFunc(nil)
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Clock == nil {
		deps.Clock = logging.SystemClock
	}
	h := &Hub{
		cfg:         cfg,
		logger:      deps.Logger,
		publisher:   deps.Publisher,
		clock:       deps.Clock,
		metrics:     &telemetry.Counters{},
		subscribers: make(map[string]*subscriber),
	}
	h.crowd = crowd.New(cfg.Crowd, deps.Publisher)
	h.loop = sim.NewLoop(h.crowd, sim.Deps{
		Logger:    deps.Logger,
		Metrics:   h.metrics,
		Clock:     deps.Clock,
		Publisher: deps.Publisher,
	}, cfg.Loop, sim.LoopHooks{
		AfterStep: h.afterStep,
		OnQueueWarning: func(length int) {
			h.logger.Printf("[backpressure] command queue length=%d capacity=%d", length, cfg.Loop.CommandCapacity)
		},
	})
	return h
}

func (h *Hub) Config() HubConfig {
	return h.cfg
}

// Crowd exposes the underlying registry for direct setup such as scenarios.
func (h *Hub) Crowd() *crowd.Crowd {
	return h.crowd
}

// Spawn adds a pedestrian. An empty req.ID gets a generated one.
func (h *Hub) Spawn(req proto.SpawnRequest) (proto.Pedestrian, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := h.crowd.SpawnWithID(id, req.X, req.Y, req.Radius); err != nil {
		return proto.Pedestrian{}, err
	}
	snapshot, _ := h.crowd.Get(id)
	return proto.FromSnapshot(sim.PedestrianSnapshot{ID: id, State: snapshot}), nil
}

func (h *Hub) Remove(id string) error {
	return h.crowd.Remove(id)
}

func (h *Hub) Pedestrian(id string) (proto.Pedestrian, bool) {
	snapshot, ok := h.crowd.Get(id)
	if !ok {
		return proto.Pedestrian{}, false
	}
	return proto.FromSnapshot(sim.PedestrianSnapshot{ID: id, State: snapshot}), true
}

func (h *Hub) Pedestrians() []proto.Pedestrian {
	return proto.FromSnapshots(h.crowd.Snapshot().Pedestrians)
}

func (h *Hub) Near(x, y, radius float64) []proto.Pedestrian {
	return proto.FromSnapshots(h.crowd.Near(x, y, radius))
}

// EnqueueCommand converts req and stages it for the next tick. The reason is
// empty when the command was accepted.
func (h *Hub) EnqueueCommand(actorID string, req proto.CommandRequest) (sim.Command, bool, string) {
	if _, ok := h.crowd.Get(actorID); !ok {
		return sim.Command{}, false, CommandRejectUnknownActor
	}
	cmd, err := req.ToCommand(actorID)
	if err != nil {
		return sim.Command{}, false, sim.CommandRejectInvalid
	}
	cmd.ID = uuid.NewString()
	cmd.OriginTick = h.loop.Tick()
	cmd.IssuedAt = h.clock.Now()
	if ok, reason := h.loop.Enqueue(cmd); !ok {
		return cmd, false, reason
	}
	return cmd, true, ""
}

// ValidateCommand reports why req cannot be turned into a command.
func (h *Hub) ValidateCommand(actorID string, req proto.CommandRequest) error {
	_, err := req.ToCommand(actorID)
	return err
}

// Subscribe sends conn the current state and registers it for broadcasts.
// The subscriber's write lock is held from the snapshot until the initial
// frame is out, so no tick broadcast can overtake it.
func (h *Hub) Subscribe(conn *websocket.Conn) (*subscriber, error) {
	sub := &subscriber{id: uuid.NewString(), conn: conn}
	sub.mu.Lock()
	defer sub.mu.Unlock()

	data, entities, err := h.MarshalState()
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	if err := sub.writeLocked(websocket.TextMessage, data); err != nil {
		h.mu.Lock()
		delete(h.subscribers, sub.id)
		h.mu.Unlock()
		return nil, err
	}
	h.telemetry.RecordBroadcast(len(data), entities)
	return sub, nil
}

// Unsubscribe drops the subscriber and closes its connection.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	delete(h.subscribers, id)
	h.mu.Unlock()
	if ok {
		sub.conn.Close()
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Now reads the hub clock.
func (h *Hub) Now() time.Time {
	return h.clock.Now()
}

// RunSimulation drives the fixed-rate tick loop until the stop channel closes.
func (h *Hub) RunSimulation(stop <-chan struct{}) {
	h.loop.Run(stop)
}

// Advance runs one tick of delta outside the timed loop.
func (h *Hub) Advance(delta time.Duration) sim.LoopStepResult {
	start := h.clock.Now()
	result := h.loop.Advance(sim.LoopTickContext{Delta: delta})
	result.Duration = h.clock.Now().Sub(start)
	result.Budget = h.cfg.Loop.Budget()
	h.afterStep(result)
	return result
}

func (h *Hub) afterStep(result sim.LoopStepResult) {
	overrun := result.Budget > 0 && result.Duration > result.Budget
	h.telemetry.RecordTick(result.Duration, overrun)
	if overrun {
		streak := h.overrunStreak.Add(1)
		loggingsimulation.TickBudgetOverrun(context.Background(), h.publisher, result.Tick, loggingsimulation.TickBudgetOverrunPayload{
			DurationMillis: result.Duration.Milliseconds(),
			BudgetMillis:   result.Budget.Milliseconds(),
			Ratio:          float64(result.Duration) / float64(result.Budget),
			Streak:         streak,
		}, nil)
	} else {
		h.overrunStreak.Store(0)
	}

	msg := proto.NewStateMessage(result.Tick, result.Now, result.Snapshot)
	data, entities, err := proto.EncodeState(msg)
	if err != nil {
		h.logger.Printf("failed to marshal state message: %v", err)
		return
	}
	h.BroadcastState(data, entities)
}

// MarshalState encodes the current crowd as a state message.
func (h *Hub) MarshalState() ([]byte, int, error) {
	msg := proto.NewStateMessage(h.loop.Tick(), h.clock.Now(), h.crowd.Snapshot())
	return proto.EncodeState(msg)
}

// BroadcastState sends data to every subscriber, dropping those whose write
// fails.
func (h *Hub) BroadcastState(data []byte, entities int) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Printf("failed to send update to %s: %v", sub.id, err)
			h.Unsubscribe(sub.id)
			continue
		}
		h.telemetry.RecordBroadcast(len(data), entities)
	}
}

func (h *Hub) TelemetrySnapshot() TelemetrySnapshot {
	return h.telemetry.Snapshot()
}

// Diagnostics summarises the hub for the diagnostics endpoint.
type Diagnostics struct {
	Tick            uint64            `json:"tick"`
	TickRate        int               `json:"tickRate"`
	Pedestrians     int               `json:"pedestrians"`
	Subscribers     int               `json:"subscribers"`
	PendingCommands int               `json:"pendingCommands"`
	Telemetry       TelemetrySnapshot `json:"telemetry"`
	Metrics         map[string]uint64 `json:"metrics"`
}

func (h *Hub) Diagnostics() Diagnostics {
	return Diagnostics{
		Tick:            h.loop.Tick(),
		TickRate:        h.cfg.TickRate(),
		Pedestrians:     h.crowd.Len(),
		Subscribers:     h.SubscriberCount(),
		PendingCommands: h.loop.Pending(),
		Telemetry:       h.telemetry.Snapshot(),
		Metrics:         h.metrics.Snapshot(),
	}
}

// IsNotFound reports whether err means the pedestrian does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, crowd.ErrNotFound)
}

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool {
	return errors.Is(err, mover.ErrInvalidArgument) || errors.Is(err, sim.ErrInvalidCommand)
}

// IsConflict reports whether err was caused by a duplicate pedestrian ID.
func IsConflict(err error) bool {
	return errors.Is(err, crowd.ErrDuplicateID)
}
