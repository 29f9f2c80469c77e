package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"kartsync/server/logging"
)

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults changed (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	body := `
listen = "127.0.0.1:6000"
server_name = "Sunday cup"
max_connections = 8
allow_guests = false
resync_attempts = 4
admin_keys = ["abc", "def"]

[log]
sinks = ["console", "json"]
severity = "debug"
json_path = "events.jsonl"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	want.Listen = "127.0.0.1:6000"
	want.ServerName = "Sunday cup"
	want.MaxConnections = 8
	want.AllowGuests = false
	want.ResyncAttempts = 4
	want.AdminKeys = []string{"abc", "def"}
	want.Log = Log{Sinks: []string{"console", "json"}, Severity: "debug", JSONPath: "events.jsonl"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}

	logCfg := cfg.Logging()
	if logCfg.MinimumSeverity != logging.SeverityDebug || !logCfg.HasSink("json") || logCfg.JSON.FilePath != "events.jsonl" {
		t.Fatalf("unexpected logging config %+v", logCfg)
	}
}

func TestLoadRejectsOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(path, []byte("max_connections = 40\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"KARTSYNC_MAX_CONNECTIONS": "12",
		"KARTSYNC_ALLOW_JOIN":      "false",
		"KARTSYNC_MAX_PING":        "lots",
		"KARTSYNC_ADMIN_KEYS":      " k1 , ,k2",
		"KARTSYNC_LOG_SEVERITY":    "warn",
	}
	var logged []string
	logger := loggerFunc(func(format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	})

	cfg := Default()
	cfg.ApplyEnv(func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}, logger)

	if cfg.MaxConnections != 12 || cfg.AllowJoin {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.MaxPing != Default().MaxPing {
		t.Fatalf("invalid value should be ignored, got %d", cfg.MaxPing)
	}
	if diff := cmp.Diff([]string{"k1", "k2"}, cfg.AdminKeys); diff != "" {
		t.Fatalf("admin keys (-want +got):\n%s", diff)
	}
	if cfg.Log.Severity != "warn" {
		t.Fatalf("severity %q", cfg.Log.Severity)
	}
	wantLog := []string{`invalid KARTSYNC_MAX_PING="lots": strconv.Atoi: parsing "lots": invalid syntax`}
	if diff := cmp.Diff(wantLog, logged); diff != "" {
		t.Fatalf("log lines (-want +got):\n%s", diff)
	}
}

type loggerFunc func(format string, args ...any)

func (f loggerFunc) Printf(format string, args ...any) { f(format, args...) }

func TestValidateBotsAndPublicIP(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "bots fill all but one slot", mutate: func(c *Config) { c.MaxConnections = 4; c.Bots = 3 }, ok: true},
		{name: "bots fill every slot", mutate: func(c *Config) { c.MaxConnections = 4; c.Bots = 4 }},
		{name: "ipv4", mutate: func(c *Config) { c.PublicIP = "203.0.113.7" }, ok: true},
		{name: "ipv6", mutate: func(c *Config) { c.PublicIP = "2001:db8::1" }},
		{name: "garbage", mutate: func(c *Config) { c.PublicIP = "example.com" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
