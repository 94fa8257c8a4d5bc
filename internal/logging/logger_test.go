// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"go.uber.org/zap"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Development: true})
	if err != nil {
		t.Fatalf("New(dev) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{})
	if err != nil {
		t.Fatalf("New(prod) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("production logger should not log debug by default")
	}
}

func TestNewHonoursLevel(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Level: "warn"})
	if err != nil {
		t.Fatalf("New(warn) error = %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Fatal("info should be disabled at warn level")
	}
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected invalid level error")
	}
}
