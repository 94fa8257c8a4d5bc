// Package notify defines the event payload delivered to sinks and a fan-out
// sink that forwards to several destinations.
package notify

import (
	"context"
	"errors"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// Event is the wire payload for a net-new candidate.
type Event struct {
	Type      signals.DetectionType `json:"type"`
	DedupKey  string                `json:"dedup_key"`
	Summary   string                `json:"summary"`
	Candidate signals.Candidate     `json:"candidate"`
}

// NewEvent wraps a candidate for delivery.
func NewEvent(c signals.Candidate) Event {
	return Event{
		Type:      c.Type,
		DedupKey:  c.Key().String(),
		Summary:   c.Summary(),
		Candidate: c,
	}
}

// Multi delivers to every sink and reports the joined failures.
type Multi []signals.Sink

// Notify forwards the candidate to each sink even when an earlier one fails.
func (m Multi) Notify(ctx context.Context, c signals.Candidate) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
