package pedestrians

import (
	"github.com/normalocity/pedestrians/internal/crowd"
	"github.com/normalocity/pedestrians/internal/sim"
)

// HubConfig groups the tunables of the crowd and its tick loop.
type HubConfig struct {
	Crowd crowd.Config
	Loop  sim.LoopConfig
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		Crowd: crowd.DefaultConfig(),
		Loop:  sim.DefaultLoopConfig(),
	}
}

// TickRate reports the configured ticks per second.
func (c HubConfig) TickRate() int {
	if c.Loop.TickRate <= 0 {
		return sim.DefaultLoopConfig().TickRate
	}
	return c.Loop.TickRate
}
