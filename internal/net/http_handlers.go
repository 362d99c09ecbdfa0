package net

import (
	"encoding/json"
	"io"
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/normalocity/pedestrians"
	"github.com/normalocity/pedestrians/internal/net/proto"
	"github.com/normalocity/pedestrians/internal/net/ws"
	"github.com/normalocity/pedestrians/internal/observability"
	"github.com/normalocity/pedestrians/internal/sim"
	"github.com/normalocity/pedestrians/internal/telemetry"
)

const maxBodyBytes = 1 << 20

type HTTPHandlerConfig struct {
	Logger        telemetry.Logger
	Observability observability.Config
	// AccessLog receives combined-format request logs. Nil disables them.
	AccessLog io.Writer
	// Extra is merged into the diagnostics payload under "extra".
	Extra func() any
}

type api struct {
	hub    *pedestrians.Hub
	logger telemetry.Logger
	extra  func() any
}

// NewHTTPHandler builds the REST and websocket surface over hub.
func NewHTTPHandler(hub *pedestrians.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	a := &api{hub: hub, logger: logger, extra: cfg.Extra}

	router := mux.NewRouter()
	router.HandleFunc("/health", a.health).Methods(nethttp.MethodGet)
	router.HandleFunc("/diagnostics", a.diagnostics).Methods(nethttp.MethodGet)
	router.HandleFunc("/pedestrians", a.listPedestrians).Methods(nethttp.MethodGet)
	router.HandleFunc("/pedestrians", a.spawnPedestrian).Methods(nethttp.MethodPost)
	router.HandleFunc("/pedestrians/near", a.nearPedestrians).Methods(nethttp.MethodGet)
	router.HandleFunc("/pedestrians/{id}", a.getPedestrian).Methods(nethttp.MethodGet)
	router.HandleFunc("/pedestrians/{id}", a.removePedestrian).Methods(nethttp.MethodDelete)
	router.HandleFunc("/pedestrians/{id}/commands", a.postCommand).Methods(nethttp.MethodPost)
	router.Handle("/ws", ws.NewHandler(hub, ws.HandlerConfig{Logger: logger}))
	cfg.Observability.Register(router)

	if cfg.AccessLog == nil {
		return router
	}
	return handlers.CombinedLoggingHandler(cfg.AccessLog, router)
}

func (a *api) health(w nethttp.ResponseWriter, r *nethttp.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

func (a *api) diagnostics(w nethttp.ResponseWriter, r *nethttp.Request) {
	payload := struct {
		Status     string                  `json:"status"`
		ServerTime int64                   `json:"serverTime"`
		Hub        pedestrians.Diagnostics `json:"hub"`
		Extra      any                     `json:"extra,omitempty"`
	}{
		Status:     "ok",
		ServerTime: time.Now().UnixMilli(),
		Hub:        a.hub.Diagnostics(),
	}
	if a.extra != nil {
		payload.Extra = a.extra()
	}
	writeJSON(w, nethttp.StatusOK, payload)
}

func (a *api) listPedestrians(w nethttp.ResponseWriter, r *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, struct {
		Pedestrians []proto.Pedestrian `json:"pedestrians"`
	}{Pedestrians: a.hub.Pedestrians()})
}

func (a *api) spawnPedestrian(w nethttp.ResponseWriter, r *nethttp.Request) {
	var req proto.SpawnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pedestrian, err := a.hub.Spawn(req)
	switch {
	case err == nil:
		writeJSON(w, nethttp.StatusCreated, pedestrian)
	case pedestrians.IsConflict(err):
		httpError(w, err.Error(), nethttp.StatusConflict)
	case pedestrians.IsInvalid(err):
		httpError(w, err.Error(), nethttp.StatusBadRequest)
	default:
		a.logger.Printf("spawn failed: %v", err)
		httpError(w, "spawn failed", nethttp.StatusInternalServerError)
	}
}

func (a *api) nearPedestrians(w nethttp.ResponseWriter, r *nethttp.Request) {
	query := r.URL.Query()
	x, errX := strconv.ParseFloat(query.Get("x"), 64)
	y, errY := strconv.ParseFloat(query.Get("y"), 64)
	radius, errR := strconv.ParseFloat(query.Get("radius"), 64)
	if errX != nil || errY != nil || errR != nil || radius < 0 {
		httpError(w, "x, y and a non-negative radius are required", nethttp.StatusBadRequest)
		return
	}
	writeJSON(w, nethttp.StatusOK, struct {
		Pedestrians []proto.Pedestrian `json:"pedestrians"`
	}{Pedestrians: a.hub.Near(x, y, radius)})
}

func (a *api) getPedestrian(w nethttp.ResponseWriter, r *nethttp.Request) {
	pedestrian, ok := a.hub.Pedestrian(mux.Vars(r)["id"])
	if !ok {
		httpError(w, "unknown pedestrian", nethttp.StatusNotFound)
		return
	}
	writeJSON(w, nethttp.StatusOK, pedestrian)
}

func (a *api) removePedestrian(w nethttp.ResponseWriter, r *nethttp.Request) {
	err := a.hub.Remove(mux.Vars(r)["id"])
	switch {
	case err == nil:
		w.WriteHeader(nethttp.StatusNoContent)
	case pedestrians.IsNotFound(err):
		httpError(w, "unknown pedestrian", nethttp.StatusNotFound)
	default:
		a.logger.Printf("remove failed: %v", err)
		httpError(w, "remove failed", nethttp.StatusInternalServerError)
	}
}

func (a *api) postCommand(w nethttp.ResponseWriter, r *nethttp.Request) {
	id := mux.Vars(r)["id"]
	var req proto.CommandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cmd, ok, reason := a.hub.EnqueueCommand(id, req)
	if ok {
		writeJSON(w, nethttp.StatusAccepted, proto.NewCommandAck(0, cmd))
		return
	}
	switch reason {
	case pedestrians.CommandRejectUnknownActor:
		httpError(w, "unknown pedestrian", nethttp.StatusNotFound)
	case sim.CommandRejectInvalid:
		msg := reason
		if err := a.hub.ValidateCommand(id, req); err != nil {
			msg = err.Error()
		}
		httpError(w, msg, nethttp.StatusBadRequest)
	default:
		w.Header().Set("Retry-After", "1")
		httpError(w, reason, nethttp.StatusTooManyRequests)
	}
}

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, dst any) bool {
	decoder := json.NewDecoder(nethttp.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w nethttp.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
