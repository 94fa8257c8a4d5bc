package strategy

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

var (
	// ErrNoResource is returned when a strategy requires an egress resource
	// and the pool has none active. The strategy is skipped, never retried.
	ErrNoResource error = &skipError{msg: "no egress resource available"}
	// ErrUnsupported is returned when a strategy cannot serve a company.
	ErrUnsupported error = &skipError{msg: "strategy does not support company"}
	// ErrUnknownStrategy is a configuration error naming a strategy that was
	// never registered.
	ErrUnknownStrategy = eris.New("unknown strategy")
)

// skipError ends a strategy attempt without counting it as a failure.
type skipError struct{ msg string }

func (e *skipError) Error() string { return e.msg }

// Permanent tells retry policies not to try again.
func (e *skipError) Permanent() bool { return true }

// Strategy fetches raw content about one company for a single detection type.
type Strategy interface {
	Name() string
	Source() signals.SourceTag
	Supports(company signals.Company) bool
	Fetch(ctx context.Context, company signals.Company) ([]signals.RawContent, error)
}

// Registry maps strategy names to implementations per detection type.
type Registry struct {
	byType map[signals.DetectionType]map[string]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[signals.DetectionType]map[string]Strategy)}
}

// Register adds s under its name for kind. Names are unique per kind.
func (r *Registry) Register(kind signals.DetectionType, s Strategy) error {
	named, ok := r.byType[kind]
	if !ok {
		named = make(map[string]Strategy)
		r.byType[kind] = named
	}
	if _, dup := named[s.Name()]; dup {
		return eris.Errorf("strategy %q already registered for %s", s.Name(), kind)
	}
	named[s.Name()] = s
	return nil
}

// Lookup returns the strategy registered under name for kind.
func (r *Registry) Lookup(kind signals.DetectionType, name string) (Strategy, bool) {
	s, ok := r.byType[kind][name]
	return s, ok
}

// Names lists registered strategy names for kind in sorted order.
func (r *Registry) Names(kind signals.DetectionType) []string {
	names := make([]string, 0, len(r.byType[kind]))
	for name := range r.byType[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain builds the ordered chain for kind. Every name in order must be
// registered.
func (r *Registry) Chain(kind signals.DetectionType, order []string, opts ChainOptions) (*Chain, error) {
	if len(order) == 0 {
		return nil, eris.Errorf("no strategies configured for %s", kind)
	}
	strategies := make([]Strategy, 0, len(order))
	seen := make(map[string]struct{}, len(order))
	for _, name := range order {
		if _, dup := seen[name]; dup {
			return nil, eris.Errorf("strategy %q listed twice for %s", name, kind)
		}
		seen[name] = struct{}{}
		s, ok := r.Lookup(kind, name)
		if !ok {
			return nil, eris.Wrapf(ErrUnknownStrategy, "%s strategy %q", kind, name)
		}
		strategies = append(strategies, s)
	}
	return NewChain(kind, strategies, opts), nil
}
