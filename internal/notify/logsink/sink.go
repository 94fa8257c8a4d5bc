// Package logsink writes net-new events to the structured log.
package logsink

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// Sink logs every event at info level.
type Sink struct {
	logger *zap.Logger
}

// New returns a Sink writing to logger.
func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger.Named("events")}
}

// Notify never fails.
func (s *Sink) Notify(_ context.Context, c signals.Candidate) error {
	s.logger.Info("net-new signal",
		zap.String("type", string(c.Type)),
		zap.String("company", c.Company),
		zap.String("summary", c.Summary()),
		zap.String("url", c.URL),
		zap.String("source", string(c.Source)),
		zap.String("strategy", c.Strategy),
		zap.Int("confidence", c.Confidence),
	)
	return nil
}
