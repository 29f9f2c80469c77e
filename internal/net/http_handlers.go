// Package net serves the operator HTTP surface of a dedicated server and,
// when enabled, the websocket transport.
package net

import (
	"encoding/json"
	nethttp "net/http"
	"sync/atomic"
	"time"

	"kartsync/server/internal/netgame"
	"kartsync/server/internal/observability"
	"kartsync/server/internal/telemetry"
	"kartsync/server/internal/tics"
)

// StatusBoard hands the session's latest status to HTTP handlers. The
// session goroutine publishes; handlers only read.
type StatusBoard struct {
	current atomic.Pointer[netgame.Status]
}

func (b *StatusBoard) Publish(st netgame.Status) {
	b.current.Store(&st)
}

func (b *StatusBoard) Load() (netgame.Status, bool) {
	st := b.current.Load()
	if st == nil {
		return netgame.Status{}, false
	}
	return *st, true
}

type HTTPHandlerConfig struct {
	Logger telemetry.Logger
	Status *StatusBoard
	// Telemetry returns the current counter snapshot; nil omits it.
	Telemetry func() map[string]uint64
	// WebSocket, when set, is mounted at /ws.
	WebSocket     nethttp.Handler
	Observability observability.Config
}

func NewHTTPHandler(cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}
	board := cfg.Status
	if board == nil {
		board = &StatusBoard{}
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if _, ok := board.Load(); !ok {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			w.Write([]byte("starting"))
			return
		}
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		st, ok := board.Load()
		status := "ok"
		if !ok {
			status = "starting"
		}
		payload := struct {
			Status     string          `json:"status"`
			ServerTime int64           `json:"serverTime"`
			TickRate   int             `json:"tickRate"`
			Session    *netgame.Status `json:"session,omitempty"`
			Telemetry  any             `json:"telemetry,omitempty"`
		}{
			Status:     status,
			ServerTime: time.Now().UnixMilli(),
			TickRate:   tics.Rate,
		}
		if ok {
			payload.Session = &st
		}
		if cfg.Telemetry != nil {
			payload.Telemetry = cfg.Telemetry()
		}

		data, err := json.Marshal(payload)
		if err != nil {
			logger.Printf("diagnostics: %v", err)
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if cfg.WebSocket != nil {
		mux.Handle("/ws", cfg.WebSocket)
	}
	observability.Register(mux, cfg.Observability)

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
