// Package memory keeps the company roster, candidates and dedup keys
// in-process for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

var (
	// ErrDuplicateCompany is returned when a seeded company id is reused.
	ErrDuplicateCompany = errors.New("company already exists")
	// ErrUnknownCompany is returned when a company id is not on the roster.
	ErrUnknownCompany = errors.New("company not found")
)

// Store provides an in-memory signals.Store.
type Store struct {
	mu         sync.RWMutex
	ids        signals.IDGenerator
	companies  map[string]signals.Company
	candidates map[string]signals.Candidate
	byDigest   map[string]string
	order      []string
	keys       map[string]signals.DedupKey
	keyOrder   []string
}

// NewStore constructs a Store seeded with the given companies.
func NewStore(ids signals.IDGenerator, companies ...signals.Company) (*Store, error) {
	s := &Store{
		ids:        ids,
		companies:  make(map[string]signals.Company),
		candidates: make(map[string]signals.Candidate),
		byDigest:   make(map[string]string),
		keys:       make(map[string]signals.DedupKey),
	}
	for _, c := range companies {
		if err := s.AddCompany(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddCompany inserts a roster entry.
func (s *Store) AddCompany(c signals.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.companies[c.ID]; exists {
		return ErrDuplicateCompany
	}
	s.companies[c.ID] = c
	return nil
}

// ListCompanies returns active companies ordered by name.
func (s *Store) ListCompanies(_ context.Context) ([]signals.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]signals.Company, 0, len(s.companies))
	for _, c := range s.companies {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// MarkScanned stamps the company's last scan time.
func (s *Store) MarkScanned(_ context.Context, companyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[companyID]
	if !ok {
		return ErrUnknownCompany
	}
	c.LastScannedAt = &at
	s.companies[companyID] = c
	return nil
}

// SaveCandidate stores the candidate and returns its generated id. Saving a
// candidate with an already stored dedup digest returns the existing id.
func (s *Store) SaveCandidate(_ context.Context, candidate signals.Candidate) (string, error) {
	digest := candidate.Key().Digest()
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byDigest[digest]; ok {
		return id, nil
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", err
	}
	s.candidates[id] = candidate
	s.byDigest[digest] = id
	s.order = append(s.order, id)
	return id, nil
}

// Candidates returns stored candidates in insertion order.
func (s *Store) Candidates() []signals.Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]signals.Candidate, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.candidates[id])
	}
	return out
}

// LoadDedupKeys returns every persisted key in insertion order.
func (s *Store) LoadDedupKeys(_ context.Context) ([]signals.DedupKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]signals.DedupKey, 0, len(s.keyOrder))
	for _, digest := range s.keyOrder {
		out = append(out, s.keys[digest])
	}
	return out, nil
}

// AppendDedupKey records the key. Appending an existing key is a no-op.
func (s *Store) AppendDedupKey(_ context.Context, key signals.DedupKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	digest := key.Digest()
	if _, ok := s.keys[digest]; ok {
		return nil
	}
	s.keys[digest] = key
	s.keyOrder = append(s.keyOrder, digest)
	return nil
}
