// Package config loads server options from an optional TOML file and then
// applies KARTSYNC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"

	"kartsync/server/internal/telemetry"
	"kartsync/server/logging"
)

// Config is the server configuration file.
type Config struct {
	Listen         string `toml:"listen" json:"listen" jsonschema:"description=UDP address the session listens on"`
	Transport      string `toml:"transport" json:"transport" jsonschema:"description=Datagram transport of the session,enum=udp,enum=websocket"`
	HTTP           string `toml:"http" json:"http,omitempty" jsonschema:"description=HTTP address serving /health and /diagnostics and /ws for the websocket transport; empty disables HTTP"`
	Pprof          bool   `toml:"pprof" json:"pprof,omitempty" jsonschema:"description=Mount net/http/pprof under /debug/pprof/"`
	PublicIP       string `toml:"public_ip" json:"public_ip,omitempty" jsonschema:"description=IPv4 address stamped into challenges; clients refuse challenges naming another address"`
	ServerName     string `toml:"server_name" json:"server_name" jsonschema:"maxLength=32"`
	MaxConnections int    `toml:"max_connections" json:"max_connections" jsonschema:"minimum=2,maximum=16"`
	AllowJoin      bool   `toml:"allow_join" json:"allow_join"`
	AllowGuests    bool   `toml:"allow_guests" json:"allow_guests"`
	Bots           int    `toml:"bots" json:"bots" jsonschema:"description=Bot players added at startup,minimum=0,maximum=15"`

	JoinDelay      int `toml:"join_delay" json:"join_delay" jsonschema:"description=Join throttle in seconds; 0 disables it,minimum=0,maximum=30"`
	JoinIntervalMS int `toml:"join_interval_ms" json:"join_interval_ms" jsonschema:"description=Minimum spacing of join attempts from one address; 0 disables it,minimum=0"`
	JoinBurst      int `toml:"join_burst" json:"join_burst" jsonschema:"minimum=1"`

	ResyncAttempts int `toml:"resync_attempts" json:"resync_attempts" jsonschema:"description=Snapshots sent to a desynchronised node before it is kicked,minimum=0,maximum=10"`
	KickTime       int `toml:"kick_time" json:"kick_time" jsonschema:"description=Minutes a kicked address stays banned,minimum=0"`
	MaxPing        int `toml:"max_ping" json:"max_ping" jsonschema:"description=Average lag in tics above which players are kicked; 0 disables it,minimum=0"`
	PingTimeout    int `toml:"ping_timeout" json:"ping_timeout" jsonschema:"description=Seconds over max_ping before the kick,minimum=1"`
	MinDelay       int `toml:"min_delay" json:"min_delay" jsonschema:"description=Tics of input delay no client goes below,minimum=0,maximum=30"`
	NetTimeout     int `toml:"net_timeout" json:"net_timeout" jsonschema:"description=Tics of silence before an in-game node is dropped,minimum=35"`
	JoinTimeout    int `toml:"join_timeout" json:"join_timeout" jsonschema:"description=Tics a joining node may take,minimum=35"`
	SoftPacketMax  int `toml:"soft_packet_max" json:"soft_packet_max" jsonschema:"description=Preferred datagram size in bytes,minimum=64,maximum=1450"`
	ExtraTics      int `toml:"extra_tics" json:"extra_tics" jsonschema:"description=Tics resent redundantly in every ServerTics packet,minimum=0,maximum=20"`

	BanFile   string   `toml:"ban_file" json:"ban_file,omitempty"`
	AdminKeys []string `toml:"admin_keys" json:"admin_keys,omitempty" jsonschema:"description=Pretty key ids granted admin on join"`

	Log Log `toml:"log" json:"log"`
}

// Log selects the structured logging sinks.
type Log struct {
	Sinks    []string `toml:"sinks" json:"sinks" jsonschema:"enum=console,enum=json"`
	Severity string   `toml:"severity" json:"severity" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	JSONPath string   `toml:"json_path" json:"json_path,omitempty"`
}

func Default() Config {
	return Config{
		Listen:         ":5029",
		Transport:      "udp",
		HTTP:           ":8080",
		ServerName:     "KartSync server",
		MaxConnections: 16,
		AllowJoin:      true,
		AllowGuests:    true,
		JoinDelay:      10,
		JoinIntervalMS: 1000,
		JoinBurst:      3,
		ResyncAttempts: 2,
		KickTime:       10,
		MaxPing:        20,
		PingTimeout:    10,
		MinDelay:       2,
		NetTimeout:     210,
		JoinTimeout:    210,
		SoftPacketMax:  1450,
		ExtraTics:      1,
		BanFile:        "ban.txt",
		Log: Log{
			Sinks:    []string{logging.SinkConsole},
			Severity: "info",
		},
	}
}

var ErrInvalid = errors.New("config: invalid value")

// Load reads path over the defaults. An empty path or a missing file keeps
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from KARTSYNC_* variables. Unparseable values
// are reported through logger and ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool), logger telemetry.Logger) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if logger == nil {
		logger = telemetry.Discard()
	}
	str := func(name string, dst *string) {
		if raw, ok := lookup(name); ok {
			*dst = raw
		}
	}
	num := func(name string, dst *int) {
		raw, ok := lookup(name)
		if !ok || raw == "" {
			return
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			logger.Printf("invalid %s=%q: %v", name, raw, err)
			return
		}
		*dst = value
	}
	flag := func(name string, dst *bool) {
		raw, ok := lookup(name)
		if !ok || raw == "" {
			return
		}
		value, err := strconv.ParseBool(raw)
		if err != nil {
			logger.Printf("invalid %s=%q: %v", name, raw, err)
			return
		}
		*dst = value
	}
	list := func(name string, dst *[]string) {
		raw, ok := lookup(name)
		if !ok {
			return
		}
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}

	str("KARTSYNC_LISTEN", &c.Listen)
	str("KARTSYNC_TRANSPORT", &c.Transport)
	str("KARTSYNC_HTTP", &c.HTTP)
	flag("KARTSYNC_PPROF", &c.Pprof)
	str("KARTSYNC_PUBLIC_IP", &c.PublicIP)
	str("KARTSYNC_SERVER_NAME", &c.ServerName)
	num("KARTSYNC_MAX_CONNECTIONS", &c.MaxConnections)
	flag("KARTSYNC_ALLOW_JOIN", &c.AllowJoin)
	flag("KARTSYNC_ALLOW_GUESTS", &c.AllowGuests)
	num("KARTSYNC_BOTS", &c.Bots)
	num("KARTSYNC_JOIN_DELAY", &c.JoinDelay)
	num("KARTSYNC_JOIN_INTERVAL_MS", &c.JoinIntervalMS)
	num("KARTSYNC_JOIN_BURST", &c.JoinBurst)
	num("KARTSYNC_RESYNC_ATTEMPTS", &c.ResyncAttempts)
	num("KARTSYNC_KICK_TIME", &c.KickTime)
	num("KARTSYNC_MAX_PING", &c.MaxPing)
	num("KARTSYNC_PING_TIMEOUT", &c.PingTimeout)
	num("KARTSYNC_MIN_DELAY", &c.MinDelay)
	num("KARTSYNC_NET_TIMEOUT", &c.NetTimeout)
	num("KARTSYNC_JOIN_TIMEOUT", &c.JoinTimeout)
	num("KARTSYNC_SOFT_PACKET_MAX", &c.SoftPacketMax)
	num("KARTSYNC_EXTRA_TICS", &c.ExtraTics)
	str("KARTSYNC_BAN_FILE", &c.BanFile)
	list("KARTSYNC_ADMIN_KEYS", &c.AdminKeys)
	list("KARTSYNC_LOG_SINKS", &c.Log.Sinks)
	str("KARTSYNC_LOG_SEVERITY", &c.Log.Severity)
	str("KARTSYNC_LOG_JSON_PATH", &c.Log.JSONPath)
}

// Validate checks ranges the session relies on.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	switch c.Transport {
	case "udp":
		check(c.Listen != "", "udp transport needs listen")
	case "websocket":
		check(c.HTTP != "", "websocket transport needs http")
	default:
		check(false, "transport %q", c.Transport)
	}
	check(c.MaxConnections >= 2 && c.MaxConnections <= 16, "max_connections %d outside 2..16", c.MaxConnections)
	check(c.Bots >= 0 && c.Bots < c.MaxConnections, "bots %d outside 0..%d", c.Bots, c.MaxConnections-1)
	if c.PublicIP != "" {
		addr, err := netip.ParseAddr(c.PublicIP)
		check(err == nil && addr.Unmap().Is4(), "public_ip %q is not an IPv4 address", c.PublicIP)
	}
	check(c.JoinDelay >= 0 && c.JoinDelay <= 30, "join_delay %d outside 0..30", c.JoinDelay)
	check(c.JoinIntervalMS >= 0, "join_interval_ms %d is negative", c.JoinIntervalMS)
	check(c.ResyncAttempts >= 0 && c.ResyncAttempts <= 10, "resync_attempts %d outside 0..10", c.ResyncAttempts)
	check(c.KickTime >= 0, "kick_time %d is negative", c.KickTime)
	check(c.MaxPing >= 0, "max_ping %d is negative", c.MaxPing)
	check(c.MinDelay >= 0 && c.MinDelay <= 30, "min_delay %d outside 0..30", c.MinDelay)
	check(c.NetTimeout >= 35, "net_timeout %d below 35", c.NetTimeout)
	check(c.JoinTimeout >= 35, "join_timeout %d below 35", c.JoinTimeout)
	check(c.SoftPacketMax >= 64 && c.SoftPacketMax <= 1450, "soft_packet_max %d outside 64..1450", c.SoftPacketMax)
	check(c.ExtraTics >= 0 && c.ExtraTics <= 20, "extra_tics %d outside 0..20", c.ExtraTics)
	if _, ok := logging.ParseSeverity(c.Log.Severity); !ok {
		check(false, "log severity %q", c.Log.Severity)
	}
	if len(c.Log.Sinks) > 0 {
		err := logging.Config{EnabledSinks: c.Log.Sinks}.Validate()
		check(err == nil, "log sinks: %v", err)
	}
	return errors.Join(errs...)
}

// JoinInterval is the per-address join spacing.
func (c Config) JoinInterval() time.Duration {
	return time.Duration(c.JoinIntervalMS) * time.Millisecond
}

// Logging converts the log section into a router configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if len(c.Log.Sinks) > 0 {
		cfg.EnabledSinks = append([]string(nil), c.Log.Sinks...)
	}
	if sev, ok := logging.ParseSeverity(c.Log.Severity); ok {
		cfg.MinimumSeverity = sev
	}
	cfg.JSON.FilePath = c.Log.JSONPath
	cfg.Fields = map[string]any{"server": c.ServerName}
	return cfg
}
