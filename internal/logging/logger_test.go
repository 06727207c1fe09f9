package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger, err := NewLogger("warn", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("warn should be enabled")
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if level := parseLevel("verbose"); level != zapcore.InfoLevel {
		t.Fatalf("expected info fallback, got %s", level)
	}
}
