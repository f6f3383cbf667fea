package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewAppliesLevel(t *testing.T) {
	logger, err := New("debug", "json")
	if err != nil {
		t.Fatalf("new logger failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level to be enabled")
	}

	logger, err = New("warn", "console")
	if err != nil {
		t.Fatalf("new console logger failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info to be disabled at warn level")
	}
}

func TestNewRejectsUnknownValues(t *testing.T) {
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
