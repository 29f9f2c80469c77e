package logging

import (
	"context"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Write(event Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func TestRouterDeliversAboveSeverityFloor(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	cfg := DefaultConfig()
	cfg.MinimumSeverity = SeverityInfo
	cfg.Fields = map[string]any{"server": "test"}
	sink := &captureSink{}
	router, err := NewRouter(cfg, ClockFunc(func() time.Time { return fixed }), nil, map[string]Sink{"capture": sink})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	router.Publish(context.Background(), Event{Type: "dropped", Severity: SeverityDebug})
	router.Publish(context.Background(), Event{Type: "kept", Severity: SeverityWarn, Actor: NodeRef(3), Extra: map[string]any{"server": "own"}})
	router.Publish(context.Background(), Event{Severity: SeverityError})

	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !sink.closed {
		t.Fatalf("sink was not closed")
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected one event, got %d", len(sink.events))
	}
	got := sink.events[0]
	if got.Type != "kept" || !got.Time.Equal(fixed) {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.Extra["server"] != "own" {
		t.Fatalf("static field overwrote event field: %v", got.Extra)
	}
	if got.Actor != (EntityRef{ID: "3", Kind: EntityKindNode}) {
		t.Fatalf("unexpected actor %+v", got.Actor)
	}

	snap := router.Metrics().Snapshot()
	if snap["events.total"] != 1 || snap["events.kept"] != 1 {
		t.Fatalf("unexpected metrics %v", snap)
	}
}

func TestRouterRequiresSink(t *testing.T) {
	if _, err := NewRouter(DefaultConfig(), nil, nil, nil); err == nil {
		t.Fatalf("expected an error without sinks")
	}
}

func TestRouterPublishAfterCloseIsIgnored(t *testing.T) {
	sink := &captureSink{}
	router, err := NewRouter(DefaultConfig(), nil, nil, map[string]Sink{"capture": sink})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	router.Close(context.Background())
	router.Publish(context.Background(), Event{Type: "late", Severity: SeverityError})
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no events, got %d", len(sink.events))
	}
}

func TestWithFields(t *testing.T) {
	var got Event
	pub := WithFields(PublisherFunc(func(_ context.Context, e Event) { got = e }), map[string]any{"trace": "x"})
	pub.Publish(context.Background(), Event{Type: "t"})
	if got.Extra["trace"] != "x" {
		t.Fatalf("field not applied: %+v", got)
	}
}

func TestParseSeverity(t *testing.T) {
	for _, name := range []string{"debug", "info", "warn", "error"} {
		sev, ok := ParseSeverity(name)
		if !ok || sev.String() != name {
			t.Fatalf("ParseSeverity(%q) = %v, %v", name, sev, ok)
		}
	}
	if _, ok := ParseSeverity("loud"); ok {
		t.Fatalf("expected unknown severity to fail")
	}
}

func TestConfigValidateSinks(t *testing.T) {
	tests := []struct {
		name  string
		sinks []string
		ok    bool
	}{
		{"default", DefaultConfig().EnabledSinks, true},
		{"both", []string{SinkConsole, SinkJSON}, true},
		{"none", nil, false},
		{"unknown", []string{SinkConsole, "syslog"}, false},
		{"duplicate", []string{SinkJSON, SinkJSON}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Config{EnabledSinks: tt.sinks}.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate(%v) = %v, want ok=%v", tt.sinks, err, tt.ok)
			}
		})
	}
}
