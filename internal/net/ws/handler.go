package ws

import (
	"encoding/json"
	nethttp "net/http"

	"github.com/gorilla/websocket"

	"github.com/normalocity/pedestrians"
	"github.com/normalocity/pedestrians/internal/net/proto"
	"github.com/normalocity/pedestrians/internal/sim"
	"github.com/normalocity/pedestrians/internal/telemetry"
)

type subscription interface {
	ID() string
	WriteMessage(messageType int, data []byte) error
	LastCommandSeq() uint64
	StoreLastCommandSeq(seq uint64)
}

type HandlerConfig struct {
	Logger telemetry.Logger
}

// Handler upgrades HTTP requests to state-streaming websocket sessions.
type Handler struct {
	hub      *pedestrians.Hub
	logger   telemetry.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *pedestrians.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed: %v", err)
		return
	}

	sub, err := h.hub.Subscribe(conn)
	if err != nil {
		h.logger.Printf("failed to send initial state: %v", err)
		conn.Close()
		return
	}
	session := subscription(sub)
	defer h.hub.Unsubscribe(session.ID())

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg proto.ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", session.ID(), err)
			continue
		}

		var reply any
		switch msg.Type {
		case proto.TypeCommand:
			reply = h.handleCommand(session, msg)
		case proto.TypeHeartbeat:
			reply = proto.NewHeartbeat(h.hub.Now(), msg.SentAt)
		default:
			h.logger.Printf("discarding unknown message type %q from %s", msg.Type, session.ID())
			continue
		}
		if reply == nil {
			continue
		}
		data, err := json.Marshal(reply)
		if err != nil {
			h.logger.Printf("failed to marshal response for %s: %v", session.ID(), err)
			continue
		}
		if err := session.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// handleCommand stages a command and returns the ack or reject to send.
// Replayed sequence numbers are acknowledged without being staged again.
func (h *Handler) handleCommand(session subscription, msg proto.ClientMessage) any {
	seq := msg.Seq
	if seq > 0 {
		if last := session.LastCommandSeq(); last > 0 && seq <= last {
			return proto.CommandAck{Ver: proto.Version, Type: proto.TypeCommandAck, Seq: seq}
		}
	}
	if msg.Command == nil {
		return proto.NewCommandReject(seq, sim.CommandRejectInvalid, false)
	}

	cmd, ok, reason := h.hub.EnqueueCommand(msg.ActorID, *msg.Command)
	if !ok {
		retry := reason == sim.CommandRejectQueueLimit || reason == sim.CommandRejectQueueFull
		return proto.NewCommandReject(seq, reason, retry)
	}
	if seq > 0 {
		session.StoreLastCommandSeq(seq)
	}
	return proto.NewCommandAck(seq, cmd)
}
