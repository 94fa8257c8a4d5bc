// Package resource rotates outbound requests across a pool of proxy
// endpoints and tracks their health.
package resource

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/signal-scanner/internal/clock/system"
	"github.com/JakeFAU/signal-scanner/internal/metrics"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultFailureThreshold = 3
	DefaultProbeInterval    = 5 * time.Minute
	defaultProbeParallel    = 4
)

var (
	// ErrUnknownHandle is returned when reporting on a handle the pool does not own.
	ErrUnknownHandle = eris.New("unknown resource handle")
	// ErrDuplicateEndpoint is returned when two endpoints share a host and port.
	ErrDuplicateEndpoint = eris.New("duplicate resource endpoint")
)

// Prober checks whether a handle can currently carry traffic.
type Prober interface {
	Probe(ctx context.Context, h Handle) (time.Duration, error)
}

// Config controls pool behaviour.
type Config struct {
	Endpoints        []string
	FailureThreshold int
	ProbeInterval    time.Duration
	ProbeParallelism int
}

// ProbeSummary describes the result of one health probe round.
type ProbeSummary struct {
	Probed      int `json:"probed"`
	Healthy     int `json:"healthy"`
	Reactivated int `json:"reactivated"`
	Deactivated int `json:"deactivated"`
}

type entry struct {
	Handle
	useSeq uint64
}

// Pool hands out handles least-recently-used first and disables handles that
// fail repeatedly.
type Pool struct {
	mu        sync.Mutex
	entries   []*entry
	index     map[string]*entry
	seq       uint64
	threshold int
	interval  time.Duration
	parallel  int
	prober    Prober
	clock     signals.Clock
	logger    *zap.Logger
}

// NewPool parses the configured endpoints into handles.
func NewPool(cfg Config, prober Prober, clock signals.Clock, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	p := &Pool{
		index:     make(map[string]*entry, len(cfg.Endpoints)),
		threshold: cfg.FailureThreshold,
		interval:  cfg.ProbeInterval,
		parallel:  cfg.ProbeParallelism,
		prober:    prober,
		clock:     clock,
		logger:    logger,
	}
	if p.threshold <= 0 {
		p.threshold = DefaultFailureThreshold
	}
	if p.interval <= 0 {
		p.interval = DefaultProbeInterval
	}
	if p.parallel <= 0 {
		p.parallel = defaultProbeParallel
	}
	for _, raw := range cfg.Endpoints {
		h, err := ParseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := p.index[h.ID]; dup {
			return nil, eris.Wrapf(ErrDuplicateEndpoint, "endpoint %s", h.ID)
		}
		e := &entry{Handle: h}
		p.entries = append(p.entries, e)
		p.index[h.ID] = e
	}
	metrics.SetActiveResources(len(p.entries))
	return p, nil
}

// Acquire returns the active handle that was used least recently and marks
// it used. The boolean is false when no handle is active; callers should
// carry on without a proxy or skip the work, never wait.
func (p *Pool) Acquire() (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *entry
	for _, e := range p.entries {
		if !e.Active {
			continue
		}
		if best == nil || e.useSeq < best.useSeq {
			best = e
		}
	}
	if best == nil {
		return Handle{}, false
	}
	p.seq++
	best.useSeq = p.seq
	best.LastUsedAt = p.clock.Now()
	return best.Handle, true
}

// ReportOutcome records the result of a request made through handle id.
func (p *Pool) ReportOutcome(id string, success bool, responseTime time.Duration) error {
	p.mu.Lock()
	e, ok := p.index[id]
	if !ok {
		p.mu.Unlock()
		return eris.Wrapf(ErrUnknownHandle, "handle %s", id)
	}
	deactivated := p.applyLocked(e, success, responseTime)
	active := p.activeLocked()
	p.mu.Unlock()

	if deactivated {
		p.logger.Warn("resource disabled after consecutive failures",
			zap.String("resource", id), zap.Int("threshold", p.threshold))
	}
	metrics.SetActiveResources(active)
	return nil
}

// applyLocked updates health and reports whether the handle was just
// disabled.
func (p *Pool) applyLocked(e *entry, success bool, responseTime time.Duration) bool {
	if success {
		e.ConsecutiveFailures = 0
		e.LastResponseTime = responseTime
		e.Active = true
		return false
	}
	e.ConsecutiveFailures++
	if e.Active && e.ConsecutiveFailures >= p.threshold {
		e.Active = false
		return true
	}
	return false
}

func (p *Pool) activeLocked() int {
	n := 0
	for _, e := range p.entries {
		if e.Active {
			n++
		}
	}
	return n
}

type probeResult struct {
	id  string
	rt  time.Duration
	err error
}

// RunHealthProbe probes every handle, active or not. Disabled handles that
// pass are reactivated with their failure count reset; active handles that
// fail accrue a failure like any other request.
func (p *Pool) RunHealthProbe(ctx context.Context) ProbeSummary {
	handles := p.Snapshot()
	if p.prober == nil || len(handles) == 0 {
		return ProbeSummary{}
	}

	results := make([]probeResult, len(handles))
	var g errgroup.Group
	g.SetLimit(p.parallel)
	for i, h := range handles {
		g.Go(func() error {
			rt, err := p.prober.Probe(ctx, h)
			results[i] = probeResult{id: h.ID, rt: rt, err: err}
			return nil
		})
	}
	_ = g.Wait()

	summary := ProbeSummary{Probed: len(results)}
	p.mu.Lock()
	for _, r := range results {
		e := p.index[r.id]
		wasActive := e.Active
		if r.err == nil {
			summary.Healthy++
			if !wasActive {
				summary.Reactivated++
			}
		}
		if p.applyLocked(e, r.err == nil, r.rt) {
			summary.Deactivated++
		}
		metrics.ObserveResourceProbe(r.err == nil)
	}
	active := p.activeLocked()
	p.mu.Unlock()

	metrics.SetActiveResources(active)
	p.logger.Info("resource health probe complete",
		zap.Int("probed", summary.Probed),
		zap.Int("healthy", summary.Healthy),
		zap.Int("reactivated", summary.Reactivated),
		zap.Int("deactivated", summary.Deactivated),
		zap.Int("active", active))
	return summary
}

// Run probes on the configured interval until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunHealthProbe(ctx)
		}
	}
}

// Snapshot returns copies of every handle in configuration order.
func (p *Pool) Snapshot() []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Handle, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.Handle)
	}
	return out
}

// ActiveCount returns the number of active handles.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

// Len returns the number of configured handles.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
