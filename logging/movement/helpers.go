// Package movement builds the events published while pedestrians walk.
package movement

import (
	"context"

	"github.com/normalocity/pedestrians/logging"
)

const (
	EventSpawned         logging.EventType = "pedestrian.spawned"
	EventRemoved         logging.EventType = "pedestrian.removed"
	EventWaypointReached logging.EventType = "pedestrian.waypoint_reached"
	EventPathCompleted   logging.EventType = "pedestrian.path_completed"
	EventArrived         logging.EventType = "pedestrian.arrived"
	EventBoundsReached   logging.EventType = "pedestrian.bounds_reached"
	EventCommandRejected logging.EventType = "pedestrian.command_rejected"
)

// PositionPayload is the position a pedestrian had when the event fired.
type PositionPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// WaypointPayload describes path progress after a waypoint was reached.
type WaypointPayload struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	PathIndex int     `json:"pathIndex"`
	PathLen   int     `json:"pathLen"`
}

// BoundsPayload records where an open-ended traveller was stopped.
type BoundsPayload struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading string  `json:"heading"`
}

// CommandRejectedPayload explains why a queued command was not applied.
type CommandRejectedPayload struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

func Spawned(ctx context.Context, pub logging.Publisher, tick uint64, id string, payload PositionPayload) {
	publish(ctx, pub, EventSpawned, tick, id, logging.SeverityInfo, payload)
}

func Removed(ctx context.Context, pub logging.Publisher, tick uint64, id string, payload PositionPayload) {
	publish(ctx, pub, EventRemoved, tick, id, logging.SeverityInfo, payload)
}

func WaypointReached(ctx context.Context, pub logging.Publisher, tick uint64, id string, payload WaypointPayload) {
	publish(ctx, pub, EventWaypointReached, tick, id, logging.SeverityDebug, payload)
}

func PathCompleted(ctx context.Context, pub logging.Publisher, tick uint64, id string, payload PositionPayload) {
	publish(ctx, pub, EventPathCompleted, tick, id, logging.SeverityInfo, payload)
}

func Arrived(ctx context.Context, pub logging.Publisher, tick uint64, id string, payload PositionPayload) {
	publish(ctx, pub, EventArrived, tick, id, logging.SeverityInfo, payload)
}

func BoundsReached(ctx context.Context, pub logging.Publisher, tick uint64, id string, payload BoundsPayload) {
	publish(ctx, pub, EventBoundsReached, tick, id, logging.SeverityInfo, payload)
}

// CommandRejected is a warning: the caller asked for something the crowd
// could not do.
func CommandRejected(ctx context.Context, pub logging.Publisher, tick uint64, id, commandID string, payload CommandRejectedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:      EventCommandRejected,
		Tick:      tick,
		Actor:     logging.PedestrianRef(id),
		Severity:  logging.SeverityWarn,
		Category:  logging.CategoryMovement,
		Payload:   payload,
		CommandID: commandID,
	})
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, tick uint64, id string, severity logging.Severity, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    logging.PedestrianRef(id),
		Severity: severity,
		Category: logging.CategoryMovement,
		Payload:  payload,
	})
}
