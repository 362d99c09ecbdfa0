package ws

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/normalocity/pedestrians"
	"github.com/normalocity/pedestrians/internal/net/proto"
	"github.com/normalocity/pedestrians/internal/sim"
)

func newTestServer(t *testing.T) (*pedestrians.Hub, *websocket.Conn) {
	t.Helper()

	hub := pedestrians.NewHub(pedestrians.DefaultHubConfig(), pedestrians.HubDeps{})
	if _, err := hub.Spawn(proto.SpawnRequest{ID: "walker", X: 0, Y: 0}); err != nil {
		t.Fatalf("failed to spawn pedestrian: %v", err)
	}

	srv := httptest.NewServer(NewHandler(hub, HandlerConfig{}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL), nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	return hub, conn
}

func websocketURL(t *testing.T, baseURL string) string {
	t.Helper()

	parsed, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	parsed.Scheme = "ws"
	parsed.Path = "/"
	return parsed.String()
}

func readInto(t *testing.T, conn *websocket.Conn, dst any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		t.Fatalf("failed to decode %s: %v", payload, err)
	}
}

func send(t *testing.T, conn *websocket.Conn, msg proto.ClientMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
}

func TestInitialStateIsSentOnConnect(t *testing.T) {
	hub, conn := newTestServer(t)

	var state proto.StateMessage
	readInto(t, conn, &state)
	if state.Type != proto.TypeState || state.Ver != proto.Version {
		t.Fatalf("expected state message, got %+v", state)
	}
	if state.Tick != 0 {
		t.Fatalf("expected tick 0, got %d", state.Tick)
	}
	if len(state.Pedestrians) != 1 || state.Pedestrians[0].ID != "walker" {
		t.Fatalf("expected walker in initial state, got %+v", state.Pedestrians)
	}
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.SubscriberCount())
	}
}

func TestCommandIsAcknowledgedAndApplied(t *testing.T) {
	hub, conn := newTestServer(t)
	var initial proto.StateMessage
	readInto(t, conn, &initial)

	speed := 10.0
	send(t, conn, proto.ClientMessage{
		Type:    proto.TypeCommand,
		Seq:     1,
		ActorID: "walker",
		Command: &proto.CommandRequest{Type: sim.CommandHeadToward, X: 0, Y: 100, Speed: &speed},
	})

	var ack proto.CommandAck
	readInto(t, conn, &ack)
	if ack.Type != proto.TypeCommandAck || ack.Seq != 1 || ack.CommandID == "" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	hub.Advance(time.Second)

	var state proto.StateMessage
	readInto(t, conn, &state)
	if state.Tick != 1 {
		t.Fatalf("expected tick 1, got %d", state.Tick)
	}
	walker := state.Pedestrians[0]
	if walker.Y < 9.999 || walker.Y > 10.001 || walker.Speed != speed {
		t.Fatalf("expected walker 10 units down at speed %f, got %+v", speed, walker)
	}
	if walker.Target != (proto.Point{X: 0, Y: 100}) {
		t.Fatalf("unexpected target %+v", walker.Target)
	}
}

func TestReplayedSequenceIsAcknowledgedOnce(t *testing.T) {
	hub, conn := newTestServer(t)
	var initial proto.StateMessage
	readInto(t, conn, &initial)

	msg := proto.ClientMessage{
		Type:    proto.TypeCommand,
		Seq:     7,
		ActorID: "walker",
		Command: &proto.CommandRequest{Type: sim.CommandPause},
	}
	send(t, conn, msg)
	var first proto.CommandAck
	readInto(t, conn, &first)

	send(t, conn, msg)
	var second proto.CommandAck
	readInto(t, conn, &second)
	if second.Type != proto.TypeCommandAck || second.Seq != 7 {
		t.Fatalf("expected replay ack, got %+v", second)
	}
	if second.CommandID != "" {
		t.Fatalf("expected replay to skip staging, got command %q", second.CommandID)
	}
	if pending := hub.Diagnostics().PendingCommands; pending != 1 {
		t.Fatalf("expected 1 pending command, got %d", pending)
	}
}

func TestCommandRejections(t *testing.T) {
	cases := []struct {
		name   string
		msg    proto.ClientMessage
		reason string
	}{
		{
			name:   "unknown actor",
			msg:    proto.ClientMessage{Type: proto.TypeCommand, Seq: 1, ActorID: "ghost", Command: &proto.CommandRequest{Type: sim.CommandStop}},
			reason: pedestrians.CommandRejectUnknownActor,
		},
		{
			name:   "missing command",
			msg:    proto.ClientMessage{Type: proto.TypeCommand, Seq: 1, ActorID: "walker"},
			reason: sim.CommandRejectInvalid,
		},
		{
			name:   "bad heading",
			msg:    proto.ClientMessage{Type: proto.TypeCommand, Seq: 1, ActorID: "walker", Command: &proto.CommandRequest{Type: sim.CommandHeadDirection, Heading: "north"}},
			reason: sim.CommandRejectInvalid,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, conn := newTestServer(t)
			var initial proto.StateMessage
			readInto(t, conn, &initial)

			send(t, conn, tc.msg)
			var reject proto.CommandReject
			readInto(t, conn, &reject)
			if reject.Type != proto.TypeCommandReject || reject.Reason != tc.reason {
				t.Fatalf("expected reject %q, got %+v", tc.reason, reject)
			}
			if reject.Retry {
				t.Fatalf("expected non-retryable reject")
			}
		})
	}
}

func TestHeartbeatEchoesClientTime(t *testing.T) {
	_, conn := newTestServer(t)
	var initial proto.StateMessage
	readInto(t, conn, &initial)

	send(t, conn, proto.ClientMessage{Type: proto.TypeHeartbeat, SentAt: 12345})
	var hb proto.Heartbeat
	readInto(t, conn, &hb)
	if hb.Type != proto.TypeHeartbeat || hb.ClientTime != 12345 || hb.ServerTime == 0 {
		t.Fatalf("unexpected heartbeat %+v", hb)
	}
}
