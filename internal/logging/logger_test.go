package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := map[string]bool{
		"debug":   true,
		"info":    false,
		"":        false,
		"WARNING": false,
		"bogus":   false,
	}
	for level, debugEnabled := range cases {
		logger, err := NewLogger(level, "json")
		if err != nil {
			t.Fatalf("level %q: %v", level, err)
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != debugEnabled {
			t.Fatalf("level %q: expected debug enabled=%v, got %v", level, debugEnabled, got)
		}
	}
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	logger, err := NewLogger("error", "console")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("warn must be disabled at error level")
	}
}
