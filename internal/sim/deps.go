package sim

import (
	"github.com/normalocity/pedestrians/internal/telemetry"
	"github.com/normalocity/pedestrians/logging"
)

// Deps carries shared infrastructure for the loop.
type Deps struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Clock     logging.Clock
	Publisher logging.Publisher
}
