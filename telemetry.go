package pedestrians

import (
	"sync/atomic"
	"time"
)

type telemetryCounters struct {
	ticks                 atomic.Uint64
	bytesSent             atomic.Uint64
	entitiesSent          atomic.Uint64
	broadcasts            atomic.Uint64
	tickDurationMillis    atomic.Int64
	tickOverruns          atomic.Uint64
	lastBroadcastBytes    atomic.Uint64
	lastBroadcastEntities atomic.Uint64
}

// TelemetrySnapshot is served by the diagnostics endpoint.
type TelemetrySnapshot struct {
	Ticks                 uint64 `json:"ticks"`
	BytesSent             uint64 `json:"bytesSent"`
	EntitiesSent          uint64 `json:"entitiesSent"`
	Broadcasts            uint64 `json:"broadcasts"`
	TickDurationMillis    int64  `json:"tickDurationMillis"`
	TickOverruns          uint64 `json:"tickOverruns"`
	LastBroadcastBytes    uint64 `json:"lastBroadcastBytes"`
	LastBroadcastEntities uint64 `json:"lastBroadcastEntities"`
}

func (t *telemetryCounters) RecordBroadcast(bytes, entities int) {
	if bytes < 0 {
		bytes = 0
	}
	if entities < 0 {
		entities = 0
	}
	t.broadcasts.Add(1)
	t.bytesSent.Add(uint64(bytes))
	t.entitiesSent.Add(uint64(entities))
	t.lastBroadcastBytes.Store(uint64(bytes))
	t.lastBroadcastEntities.Store(uint64(entities))
}

func (t *telemetryCounters) RecordTick(duration time.Duration, overrun bool) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.ticks.Add(1)
	t.tickDurationMillis.Store(millis)
	if overrun {
		t.tickOverruns.Add(1)
	}
}

func (t *telemetryCounters) Snapshot() TelemetrySnapshot {
	return TelemetrySnapshot{
		Ticks:                 t.ticks.Load(),
		BytesSent:             t.bytesSent.Load(),
		EntitiesSent:          t.entitiesSent.Load(),
		Broadcasts:            t.broadcasts.Load(),
		TickDurationMillis:    t.tickDurationMillis.Load(),
		TickOverruns:          t.tickOverruns.Load(),
		LastBroadcastBytes:    t.lastBroadcastBytes.Load(),
		LastBroadcastEntities: t.lastBroadcastEntities.Load(),
	}
}
