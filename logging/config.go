package logging

import (
	"fmt"
	"slices"
	"time"
)

// Sink names a session router understands.
const (
	SinkConsole = "console"
	SinkJSON    = "json"
)

// Config selects the sinks a Router fans out to and how much it buffers.
type Config struct {
	EnabledSinks     []string
	BufferSize       int
	MinimumSeverity  Severity
	Fields           map[string]any
	JSON             JSONConfig
	DropWarnInterval time.Duration
}

// JSONConfig configures the json sink. An empty FilePath writes to stdout.
type JSONConfig struct {
	FilePath      string
	FlushInterval time.Duration
}

// DefaultConfig logs Info and above to the console. Resync and join traffic
// bursts once per tic per node, so the queue is sized for a full server.
func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{SinkConsole},
		BufferSize:       1024,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 10 * time.Second,
		JSON: JSONConfig{
			FlushInterval: time.Second,
		},
	}
}

// KnownSink reports whether name is a sink the session can build.
func KnownSink(name string) bool {
	return name == SinkConsole || name == SinkJSON
}

// Validate rejects unknown or duplicate sink names.
func (c Config) Validate() error {
	if len(c.EnabledSinks) == 0 {
		return fmt.Errorf("logging: no sinks enabled")
	}
	for i, name := range c.EnabledSinks {
		if !KnownSink(name) {
			return fmt.Errorf("logging: unknown sink %q", name)
		}
		if slices.Contains(c.EnabledSinks[:i], name) {
			return fmt.Errorf("logging: sink %q listed twice", name)
		}
	}
	return nil
}

func (c Config) HasSink(name string) bool {
	return slices.Contains(c.EnabledSinks, name)
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
