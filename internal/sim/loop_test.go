package sim

import (
	"sync"
	"testing"
	"time"

	"github.com/normalocity/pedestrians/internal/telemetry"
)

type fakeEngine struct {
	mu       sync.Mutex
	applied  [][]Command
	steps    []time.Duration
	ticks    []uint64
	rejectID string
}

func (e *fakeEngine) Apply(tick uint64, cmds []Command) []CommandRejection {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, cmds)
	var rejected []CommandRejection
	for _, cmd := range cmds {
		if cmd.ActorID == e.rejectID {
			rejected = append(rejected, CommandRejection{Command: cmd, Reason: "unknown pedestrian"})
		}
	}
	return rejected
}

func (e *fakeEngine) Step(tick uint64, elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticks = append(e.ticks, tick)
	e.steps = append(e.steps, elapsed)
}

func (e *fakeEngine) Snapshot() Snapshot {
	return Snapshot{Pedestrians: []PedestrianSnapshot{{ID: "a"}}}
}

func stopCommand(actor string) Command {
	return Command{ActorID: actor, Type: CommandStop}
}

func TestLoopAdvanceAppliesStagedCommands(t *testing.T) {
	engine := &fakeEngine{rejectID: "ghost"}
	loop := NewLoop(engine, Deps{}, DefaultLoopConfig(), LoopHooks{})

	for _, actor := range []string{"a", "b", "ghost"} {
		if ok, reason := loop.Enqueue(stopCommand(actor)); !ok {
			t.Fatalf("expected enqueue to succeed, got %s", reason)
		}
	}
	if loop.Pending() != 3 {
		t.Fatalf("expected 3 pending commands, got %d", loop.Pending())
	}

	result := loop.Advance(LoopTickContext{Delta: 50 * time.Millisecond})
	if result.Tick != 1 || loop.Tick() != 1 {
		t.Fatalf("expected tick 1, got result %d loop %d", result.Tick, loop.Tick())
	}
	if len(result.Commands) != 3 || len(result.Rejected) != 1 {
		t.Fatalf("expected 3 commands with 1 rejection, got %d/%d", len(result.Commands), len(result.Rejected))
	}
	if result.Commands[0].OriginTick != 0 || result.Commands[0].IssuedAt.IsZero() {
		t.Fatalf("expected issue time to be stamped, got %+v", result.Commands[0])
	}
	if loop.Pending() != 0 {
		t.Fatalf("expected queue to be drained")
	}
	if len(engine.steps) != 1 || engine.steps[0] != 50*time.Millisecond {
		t.Fatalf("expected one step of 50ms, got %v", engine.steps)
	}
	if len(result.Snapshot.Pedestrians) != 1 {
		t.Fatalf("expected snapshot in result")
	}

	second := loop.Advance(LoopTickContext{})
	if second.Tick != 2 || len(second.Commands) != 0 {
		t.Fatalf("expected empty tick 2, got tick %d with %d commands", second.Tick, len(second.Commands))
	}
}

func TestLoopEnqueueThrottlesPerActor(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.PerActorLimit = 2
	var dropped []string
	var counters telemetry.Counters
	loop := NewLoop(&fakeEngine{}, Deps{Metrics: &counters}, cfg, LoopHooks{
		OnCommandDrop: func(reason string, cmd Command) { dropped = append(dropped, reason) },
	})

	loop.Enqueue(stopCommand("a"))
	loop.Enqueue(stopCommand("a"))
	ok, reason := loop.Enqueue(stopCommand("a"))
	if ok || reason != CommandRejectQueueLimit {
		t.Fatalf("expected queue limit rejection, got %v %q", ok, reason)
	}
	if ok, _ := loop.Enqueue(stopCommand("b")); !ok {
		t.Fatalf("expected other actor to be accepted")
	}
	if len(dropped) != 1 || dropped[0] != CommandRejectQueueLimit {
		t.Fatalf("expected one drop hook call, got %v", dropped)
	}

	loop.Advance(LoopTickContext{})
	if ok, _ := loop.Enqueue(stopCommand("a")); !ok {
		t.Fatalf("expected throttle to reset after a tick")
	}
	if got := counters.Snapshot()[rejectedCommandsMetricKey]; got != 1 {
		t.Fatalf("expected 1 rejected command metric, got %d", got)
	}
}

func TestLoopForgetsDropCountsEachTick(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.PerActorLimit = 1
	var logged []string
	logger := telemetry.LoggerFunc(func(format string, args ...any) {
		logged = append(logged, format)
	})
	loop := NewLoop(&fakeEngine{}, Deps{Logger: logger}, cfg, LoopHooks{})

	for _, actor := range []string{"a", "b", "c"} {
		loop.Enqueue(stopCommand(actor))
		loop.Enqueue(stopCommand(actor))
	}
	if len(loop.dropCounts) != 3 {
		t.Fatalf("expected drop counts for 3 actors, got %d", len(loop.dropCounts))
	}

	loop.Advance(LoopTickContext{})
	if len(loop.dropCounts) != 0 {
		t.Fatalf("expected drop counts to be cleared after a tick, got %v", loop.dropCounts)
	}

	loop.Enqueue(stopCommand("a"))
	loop.Enqueue(stopCommand("a"))
	if len(logged) != 4 {
		t.Fatalf("expected the first drop of a new tick to be logged again, got %d log lines", len(logged))
	}
}

func TestLoopEnqueueRejectsFullBufferAndInvalidCommands(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.CommandCapacity = 1
	cfg.PerActorLimit = 0
	loop := NewLoop(&fakeEngine{}, Deps{}, cfg, LoopHooks{})

	if ok, _ := loop.Enqueue(stopCommand("a")); !ok {
		t.Fatalf("expected first command to be accepted")
	}
	if ok, reason := loop.Enqueue(stopCommand("b")); ok || reason != CommandRejectQueueFull {
		t.Fatalf("expected queue full, got %v %q", ok, reason)
	}
	if ok, reason := loop.Enqueue(Command{ActorID: "a", Type: CommandHeadToward}); ok || reason != CommandRejectInvalid {
		t.Fatalf("expected invalid rejection, got %v %q", ok, reason)
	}
}

func TestLoopQueueWarning(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.WarningStep = 2
	cfg.PerActorLimit = 0
	var warnings []int
	loop := NewLoop(&fakeEngine{}, Deps{}, cfg, LoopHooks{OnQueueWarning: func(n int) { warnings = append(warnings, n) }})

	for i := 0; i < 5; i++ {
		loop.Enqueue(stopCommand("a"))
	}
	if len(warnings) != 2 || warnings[0] != 2 || warnings[1] != 4 {
		t.Fatalf("expected warnings at 2 and 4, got %v", warnings)
	}
}

func TestLoopRunInvokesAfterStepUntilStopped(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.TickRate = 200

	stop := make(chan struct{})
	results := make(chan LoopStepResult, 16)
	engine := &fakeEngine{}
	loop := NewLoop(engine, Deps{}, cfg, LoopHooks{AfterStep: func(r LoopStepResult) {
		select {
		case results <- r:
		default:
		}
	}})

	done := make(chan struct{})
	go func() {
		loop.Run(stop)
		close(done)
	}()

	var last LoopStepResult
	for i := 0; i < 3; i++ {
		select {
		case last = <-results:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for tick %d", i+1)
		}
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop")
	}

	if last.Tick < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", last.Tick)
	}
	if last.Budget != 5*time.Millisecond {
		t.Fatalf("expected 5ms budget, got %s", last.Budget)
	}
	if last.Delta <= 0 || last.Delta > last.MaxDelta {
		t.Fatalf("expected delta within (0, %s], got %s", last.MaxDelta, last.Delta)
	}
}

func TestNewLoopRequiresEngine(t *testing.T) {
	if NewLoop(nil, Deps{}, DefaultLoopConfig(), LoopHooks{}) != nil {
		t.Fatalf("expected nil loop without engine")
	}
	var loop *Loop
	if ok, _ := loop.Enqueue(stopCommand("a")); ok {
		t.Fatalf("expected nil loop to reject")
	}
}
