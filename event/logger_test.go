package event

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type observedLogs struct {
	logs *observer.ObservedLogs
}

func testLogger() (*zap.Logger, *observedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), &observedLogs{logs: logs}
}

// mustEntry finds the first log entry with the given message and
// returns its fields, failing the test when absent.
func (o *observedLogs) mustEntry(t *testing.T, msg string) map[string]any {
	t.Helper()
	for _, e := range o.logs.All() {
		if e.Message == msg {
			fields := make(map[string]any, len(e.Context))
			for _, f := range e.Context {
				fields[f.Key] = fieldValue(f)
			}
			return fields
		}
	}
	t.Fatalf("no log entry %q, got %d entries", msg, o.logs.Len())
	return nil
}

func fieldValue(f zapcore.Field) any {
	switch f.Type {
	case zapcore.StringType:
		return f.String
	case zapcore.Int64Type, zapcore.Int32Type:
		return f.Integer
	case zapcore.BoolType:
		return f.Integer == 1
	default:
		return f.Interface
	}
}
