// Package dedup tracks which events have already been reported.
//
// The in-memory set mirrors the persisted key list. A key moves through
// Begin (reserved, in flight) to Commit (persisted and visible) or Abort
// (released so a later scan can retry it).
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// ErrNotReserved is returned when committing a key that was never begun.
var ErrNotReserved = errors.New("dedup key not reserved")

// Persistence is the subset of signals.Store the dedup store needs.
type Persistence interface {
	LoadDedupKeys(ctx context.Context) ([]signals.DedupKey, error)
	AppendDedupKey(ctx context.Context, key signals.DedupKey) error
}

// Store is a concurrency-safe set of reported dedup keys.
type Store struct {
	mu       sync.Mutex
	seen     map[signals.DedupKey]struct{}
	inFlight map[signals.DedupKey]struct{}
	backend  Persistence
	logger   *zap.Logger
}

// New creates an empty Store. Call Load to populate it from the backend.
func New(backend Persistence, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		seen:     make(map[signals.DedupKey]struct{}),
		inFlight: make(map[signals.DedupKey]struct{}),
		backend:  backend,
		logger:   logger,
	}
}

// Load replaces the in-memory set with the persisted keys.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	keys, err := s.backend.LoadDedupKeys(ctx)
	if err != nil {
		return fmt.Errorf("load dedup keys: %w", err)
	}
	seen := make(map[signals.DedupKey]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	s.mu.Lock()
	s.seen = seen
	s.mu.Unlock()
	s.logger.Info("dedup keys loaded", zap.Int("count", len(keys)))
	return nil
}

// IsNew reports whether key has neither been committed nor reserved.
func (s *Store) IsNew(key signals.DedupKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isNewLocked(key)
}

func (s *Store) isNewLocked(key signals.DedupKey) bool {
	if _, ok := s.seen[key]; ok {
		return false
	}
	_, busy := s.inFlight[key]
	return !busy
}

// Begin atomically checks key and reserves it. It returns false when the key
// is already reported or another worker holds it; the caller must then skip
// the candidate. A true result must be followed by Commit or Abort.
func (s *Store) Begin(key signals.DedupKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isNewLocked(key) {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

// Commit persists a reserved key and marks it as reported. If persistence
// fails the key is still released from the in-flight set and remembered for
// the life of the process, so the event is not re-sent until a restart.
func (s *Store) Commit(ctx context.Context, key signals.DedupKey) error {
	s.mu.Lock()
	if _, ok := s.inFlight[key]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("commit %s: %w", key, ErrNotReserved)
	}
	s.mu.Unlock()

	var err error
	if s.backend != nil {
		err = s.backend.AppendDedupKey(ctx, key)
	}

	s.mu.Lock()
	delete(s.inFlight, key)
	s.seen[key] = struct{}{}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("persist dedup key", zap.String("key", key.String()), zap.Error(err))
		return fmt.Errorf("append dedup key: %w", err)
	}
	return nil
}

// Abort releases a reservation without reporting the key.
func (s *Store) Abort(key signals.DedupKey) {
	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
}

// Len returns the number of reported keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
