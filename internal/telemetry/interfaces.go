package telemetry

import (
	"log"

	"kartsync/server/logging"
)

// Logger is the operator-facing log used for plain messages such as
// startup, refusals and console output.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger. A nil logger discards.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// StandardLogger exposes the wrapped logger so it can double as the
// router's fallback.
func (l *loggerAdapter) StandardLogger() *log.Logger {
	return l.logger
}

// Discard drops every message.
func Discard() Logger {
	return LoggerFunc(func(string, ...any) {})
}

// Metrics is the counter surface the session updates.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// Counter keys updated by the session.
const (
	KeyPacketsIn       = "net.packets_in"
	KeyPacketsOut      = "net.packets_out"
	KeyPacketsRejected = "net.packets_rejected"
	KeyBytesOut        = "net.bytes_out"
	KeyTicsRun         = "sim.tics_run"
	KeyNodes           = "session.nodes"
	KeyPlayers         = "session.players"
	KeyResyncs         = "session.resyncs"
	KeyKicks           = "session.kicks"
	KeyJoinsRefused    = "session.joins_refused"
)

// WrapMetrics adapts the logging router metrics into the Metrics interface.
func WrapMetrics(metrics *logging.Metrics) Metrics {
	return &metricsAdapter{metrics: metrics}
}

type metricsAdapter struct {
	metrics *logging.Metrics
}

func (m *metricsAdapter) Add(key string, delta uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryAdd(key, delta)
}

func (m *metricsAdapter) Store(key string, value uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryStore(key, value)
}

type nopMetrics struct{}

func (nopMetrics) Add(string, uint64)   {}
func (nopMetrics) Store(string, uint64) {}

// NopMetrics discards every update.
func NopMetrics() Metrics {
	return nopMetrics{}
}
