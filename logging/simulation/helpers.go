package simulation

import (
	"context"

	"github.com/normalocity/pedestrians/logging"
)

const (
	// EventTickBudgetOverrun is emitted when a tick takes longer than its budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventCatchupClamped is emitted when the loop drops ticks it could not catch up on.
	EventCatchupClamped logging.EventType = "simulation.catchup_clamped"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// TickBudgetOverrun publishes a warning when a tick exceeds the configured budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}

// CatchupClampedPayload records how much wall time the loop skipped.
type CatchupClampedPayload struct {
	ElapsedMillis int64 `json:"elapsedMillis"`
	ClampedMillis int64 `json:"clampedMillis"`
}

func CatchupClamped(ctx context.Context, pub logging.Publisher, tick uint64, payload CatchupClampedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCatchupClamped,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}
