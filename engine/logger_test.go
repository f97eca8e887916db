package engine

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLoggerInstalls(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	Logger().Debug("backend check")
	if logs.FilterMessage("backend check").Len() != 1 {
		t.Error("installed logger did not receive the entry")
	}
}

func TestSetLoggerNilResetsToNop(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	SetLogger(nil)

	Logger().Debug("dropped")
	if logs.Len() != 0 {
		t.Errorf("expected no entries after reset, got %d", logs.Len())
	}
}
