package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/normalocity/pedestrians/logging"
	loggingsimulation "github.com/normalocity/pedestrians/logging/simulation"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to per-actor
	// queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
	// CommandRejectInvalid indicates the command failed validation.
	CommandRejectInvalid = "invalid"

	ticksMetricKey            = "sim_ticks_total"
	clampedTicksMetricKey     = "sim_ticks_clamped_total"
	rejectedCommandsMetricKey = "sim_commands_rejected_total"
	appliedCommandsMetricKey  = "sim_commands_applied_total"

	defaultTickRate        = 15
	defaultCommandCapacity = 1024
)

// LoopConfig tunes the command buffer and tick loop orchestration.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
	CommandCapacity int
	PerActorLimit   int
	WarningStep     int
}

func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		TickRate:        defaultTickRate,
		CatchupMaxTicks: 3,
		CommandCapacity: defaultCommandCapacity,
		PerActorLimit:   16,
		WarningStep:     256,
	}
}

// Budget is the wall time one tick may take.
func (c LoopConfig) Budget() time.Duration {
	rate := c.TickRate
	if rate <= 0 {
		rate = defaultTickRate
	}
	return time.Second / time.Duration(rate)
}

// LoopTickContext describes the tick about to run.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta time.Duration
}

// LoopStepResult captures what a tick did.
type LoopStepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        time.Duration
	Snapshot     Snapshot
	Commands     []Command
	Rejected     []CommandRejection
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     time.Duration
}

// LoopHooks lets the owner observe the loop. Every hook is optional.
type LoopHooks struct {
	Prepare        func(LoopTickContext)
	AfterStep      func(LoopStepResult)
	OnCommandDrop  func(reason string, cmd Command)
	OnQueueWarning func(length int)
}

// Loop coordinates command ingestion and the fixed-timestep simulation runner.
type Loop struct {
	engine Engine
	buffer *CommandBuffer
	hooks  LoopHooks
	config LoopConfig
	deps   Deps
	tick   atomic.Uint64
	stepMu sync.Mutex

	queueMu       sync.Mutex
	perActorCount map[string]int
	dropCounts    map[string]uint64
}

// NewLoop wraps engine with a ring-buffer queue and a fixed-timestep runner.
func NewLoop(engine Engine, deps Deps, cfg LoopConfig, hooks LoopHooks) *Loop {
	if engine == nil {
		return nil
	}
	if cfg.CommandCapacity <= 0 {
		cfg.CommandCapacity = defaultCommandCapacity
	}
	if deps.Clock == nil {
		deps.Clock = logging.SystemClock
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	return &Loop{
		engine:        engine,
		buffer:        NewCommandBuffer(cfg.CommandCapacity, deps.Metrics),
		hooks:         hooks,
		config:        cfg,
		deps:          deps,
		perActorCount: make(map[string]int),
		dropCounts:    make(map[string]uint64),
	}
}

func (l *Loop) Config() LoopConfig {
	if l == nil {
		return LoopConfig{}
	}
	return l.config
}

// Tick reports the last tick that ran.
func (l *Loop) Tick() uint64 {
	if l == nil {
		return 0
	}
	return l.tick.Load()
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// Enqueue validates and stages a command, enforcing per-actor throttling and
// capacity limits. The reason is empty when the command was accepted.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	if err := cmd.Validate(); err != nil {
		l.reportDrop(CommandRejectInvalid, cmd, 0)
		return false, CommandRejectInvalid
	}
	if cmd.OriginTick == 0 {
		cmd.OriginTick = l.tick.Load()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = l.deps.Clock.Now()
	}

	reason := ""
	var dropCount uint64
	warnLength := 0
	l.queueMu.Lock()
	if l.config.PerActorLimit > 0 {
		count := l.perActorCount[cmd.ActorID]
		if count >= l.config.PerActorLimit {
			reason = CommandRejectQueueLimit
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else {
			l.perActorCount[cmd.ActorID] = count + 1
		}
	}
	if reason == "" {
		if !l.buffer.Push(cmd) {
			reason = CommandRejectQueueFull
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else if step := l.config.WarningStep; step > 0 {
			if length := l.buffer.Len(); length >= step && length%step == 0 {
				warnLength = length
			}
		}
	}
	l.queueMu.Unlock()

	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	if warnLength > 0 && l.hooks.OnQueueWarning != nil {
		l.hooks.OnQueueWarning(warnLength)
	}
	return true, ""
}

// Advance executes a single simulation step using the staged commands.
func (l *Loop) Advance(ctx LoopTickContext) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	l.stepMu.Lock()
	defer l.stepMu.Unlock()

	if ctx.Tick == 0 {
		ctx.Tick = l.tick.Load() + 1
	}
	if ctx.Now.IsZero() {
		ctx.Now = l.deps.Clock.Now()
	}
	commands := l.drainCommands()
	if l.hooks.Prepare != nil {
		l.hooks.Prepare(ctx)
	}
	rejected := l.engine.Apply(ctx.Tick, commands)
	l.engine.Step(ctx.Tick, ctx.Delta)
	l.tick.Store(ctx.Tick)

	if m := l.deps.Metrics; m != nil {
		m.Add(ticksMetricKey, 1)
		m.Add(appliedCommandsMetricKey, uint64(len(commands)-len(rejected)))
		if len(rejected) > 0 {
			m.Add(rejectedCommandsMetricKey, uint64(len(rejected)))
		}
	}
	return LoopStepResult{
		Tick:     ctx.Tick,
		Now:      ctx.Now,
		Delta:    ctx.Delta,
		Snapshot: l.engine.Snapshot(),
		Commands: commands,
		Rejected: rejected,
	}
}

// Run drives the fixed-timestep loop until the stop channel closes. The
// elapsed time handed to the engine is measured on the clock and clamped to
// CatchupMaxTicks budgets so a stalled process does not teleport pedestrians.
func (l *Loop) Run(stop <-chan struct{}) {
	if l == nil {
		return
	}
	budget := l.config.Budget()
	ticker := time.NewTicker(budget)
	defer ticker.Stop()

	clock := l.deps.Clock
	maxDelta := budget
	if l.config.CatchupMaxTicks > 1 {
		maxDelta = budget * time.Duration(l.config.CatchupMaxTicks)
	}
	last := clock.Now()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := clock.Now()
			delta := now.Sub(last)
			clamped := false
			if delta <= 0 {
				delta = budget
			} else if delta > maxDelta {
				clamped = true
				loggingsimulation.CatchupClamped(context.Background(), l.deps.Publisher, l.tick.Load()+1, loggingsimulation.CatchupClampedPayload{
					ElapsedMillis: delta.Milliseconds(),
					ClampedMillis: maxDelta.Milliseconds(),
				})
				delta = maxDelta
			}
			last = now

			start := clock.Now()
			result := l.Advance(LoopTickContext{Now: now, Delta: delta})
			result.Duration = clock.Now().Sub(start)
			result.Budget = budget
			result.ClampedDelta = clamped
			result.MaxDelta = maxDelta
			if clamped && l.deps.Metrics != nil {
				l.deps.Metrics.Add(clampedTicksMetricKey, 1)
			}

			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}

func (l *Loop) drainCommands() []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	commands := l.buffer.Drain()
	if len(l.perActorCount) > 0 {
		l.perActorCount = make(map[string]int)
	}
	if len(l.dropCounts) > 0 {
		l.dropCounts = make(map[string]uint64)
	}
	return commands
}

func (l *Loop) incrementDropLocked(actorID string) uint64 {
	count := l.dropCounts[actorID] + 1
	l.dropCounts[actorID] = count
	return count
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	if l.deps.Metrics != nil {
		l.deps.Metrics.Add(rejectedCommandsMetricKey, 1)
	}
	// Log on powers of two of the per-tick drop count so a flooding actor
	// does not flood the log too.
	if reason != CommandRejectInvalid && count > 0 && count&(count-1) == 0 && l.deps.Logger != nil {
		l.deps.Logger.Printf(
			"[backpressure] dropping command actor=%s type=%s reason=%s count=%d limit=%d",
			cmd.ActorID,
			cmd.Type,
			reason,
			count,
			l.config.PerActorLimit,
		)
	}
}
