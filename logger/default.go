package logger

import "sync/atomic"

var defLogger atomic.Value

func init() {
	defLogger.Store(holder{NewSlog(InfoLevel, false)})
}

// holder keeps atomic.Value storing a single concrete type.
type holder struct{ l Logger }

// GetLogger returns the process-wide default logger.
func GetLogger() Logger {
	return defLogger.Load().(holder).l //nolint:forcetypeassert
}

// SetLogger replaces the process-wide default logger. Components constructed
// afterwards pick it up; existing ones keep the logger they were given.
func SetLogger(l Logger) {
	if l == nil {
		return
	}
	defLogger.Store(holder{l})
}

func Debug(msg string, keysAndValues ...any) { GetLogger().Debug(msg, keysAndValues...) }

func Info(msg string, keysAndValues ...any) { GetLogger().Info(msg, keysAndValues...) }

func Warn(msg string, keysAndValues ...any) { GetLogger().Warn(msg, keysAndValues...) }

func Error(msg string, keysAndValues ...any) { GetLogger().Error(msg, keysAndValues...) }

func Fatal(msg string, keysAndValues ...any) { GetLogger().Fatal(msg, keysAndValues...) }

func SetLevel(level Level) { GetLogger().SetLevel(level) }

func With(keyValues ...any) Logger { return GetLogger().With(keyValues...) }
