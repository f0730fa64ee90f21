// Package logger defines the logging contract used by every go-cavro package.
//
// Transports, the port registry and pump state machines all log through the
// Logger interface, so applications can plug in their own logging framework.
// The default implementation is backed by log/slog.
//
// Log Levels:
//
//   - DebugLevel: frame retries, probe results, state reconciliation.
//   - InfoLevel: serial ports opened and closed, pump initialization.
//   - WarnLevel: recoverable device errors, exhausted retries, table discrepancies.
//   - ErrorLevel: failures that leave a pump in an unknown state.
//   - FatalLevel: unrecoverable errors; the process exits.
package logger

// Level indicates the logging severity level.
type Level = int8

// LogLevel is kept as an alias of Level for callers that prefer the longer name.
type LogLevel = Level

const (
	// DebugLevel logs are voluminous (one line per frame retry) and usually disabled.
	DebugLevel Level = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs indicate the driver recovered from something unusual.
	WarnLevel
	// ErrorLevel logs are high-priority.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// Logger defines a common interface for structured logging.
type Logger interface {
	// Debug logs a message at DebugLevel with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at InfoLevel with optional key-value pairs.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at WarnLevel with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at ErrorLevel with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at FatalLevel and then calls os.Exit(1).
	Fatal(msg string, keysAndValues ...any)
	// With creates a child logger carrying the given key-values.
	// Key-values added to the child don't affect the parent, and vice versa.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level for this logger.
	Level() Level
	// SetLevel sets the minimum enabled level for this logger.
	SetLevel(level Level)
}
