package signals

import (
	"context"
	"errors"
	"time"
)

// ErrNoCompanies aborts a scan before it starts.
var ErrNoCompanies = errors.New("no active companies configured")

// Store persists the company roster, accepted candidates and dedup keys.
type Store interface {
	ListCompanies(ctx context.Context) ([]Company, error)
	SaveCandidate(ctx context.Context, candidate Candidate) (string, error)
	LoadDedupKeys(ctx context.Context) ([]DedupKey, error)
	AppendDedupKey(ctx context.Context, key DedupKey) error
}

// Sink receives net-new events.
type Sink interface {
	Notify(ctx context.Context, candidate Candidate) error
}

// Classifier optionally vetoes content before pattern extraction.
type Classifier interface {
	Relevant(ctx context.Context, kind DetectionType, company string, text string) (bool, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
