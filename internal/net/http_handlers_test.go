package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"kartsync/server/internal/netgame"
	"kartsync/server/internal/observability"
)

func TestHealthReportsStartingUntilFirstStatus(t *testing.T) {
	board := &StatusBoard{}
	handler := NewHTTPHandler(HTTPHandlerConfig{Status: board})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the session runs, got %d", resp.Code)
	}

	board.Publish(netgame.Status{Name: "test"})
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", resp.Code, resp.Body.String())
	}
}

func TestDiagnosticsIncludesSessionAndTelemetry(t *testing.T) {
	board := &StatusBoard{}
	want := netgame.Status{
		Name:    "Sunday cup",
		GameTic: 700,
		InLevel: true,
		Nodes:   1,
		Players: []netgame.PlayerStatus{
			{Slot: 0, Name: "Alice", Node: 1, Key: "abc", Ping: 3},
			{Slot: 1, Name: "Bot 1", Node: -1, Bot: true},
		},
	}
	board.Publish(want)
	handler := NewHTTPHandler(HTTPHandlerConfig{
		Status:    board,
		Telemetry: func() map[string]uint64 { return map[string]uint64{"net.packets_in": 12} },
	})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/diagnostics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var payload struct {
		Status    string            `json:"status"`
		TickRate  int               `json:"tickRate"`
		Session   netgame.Status    `json:"session"`
		Telemetry map[string]uint64 `json:"telemetry"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "ok" || payload.TickRate != 35 {
		t.Fatalf("unexpected header fields %+v", payload)
	}
	if diff := cmp.Diff(want, payload.Session); diff != "" {
		t.Fatalf("session (-want +got):\n%s", diff)
	}
	if payload.Telemetry["net.packets_in"] != 12 {
		t.Fatalf("telemetry missing: %v", payload.Telemetry)
	}
}

func TestOptionalRoutes(t *testing.T) {
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	tests := []struct {
		name string
		cfg  HTTPHandlerConfig
		path string
		code int
	}{
		{name: "websocket mounted", cfg: HTTPHandlerConfig{WebSocket: ws}, path: "/ws", code: http.StatusTeapot},
		{name: "websocket absent", cfg: HTTPHandlerConfig{}, path: "/ws", code: http.StatusNotFound},
		{name: "pprof enabled", cfg: HTTPHandlerConfig{Observability: observability.Config{EnablePprof: true}}, path: "/debug/pprof/", code: http.StatusOK},
		{name: "pprof disabled", cfg: HTTPHandlerConfig{}, path: "/debug/pprof/", code: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			NewHTTPHandler(tt.cfg).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if resp.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, resp.Code)
			}
		})
	}
}
