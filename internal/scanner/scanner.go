// Package scanner runs one scan: every active company is driven through the
// strategy chain for the requested detection type, in fixed-size batches,
// and net-new candidates are persisted, announced and committed to the
// dedup store.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/signal-scanner/internal/clock/system"
	"github.com/JakeFAU/signal-scanner/internal/metrics"
	"github.com/JakeFAU/signal-scanner/internal/policy/retry"
	"github.com/JakeFAU/signal-scanner/internal/signals"
	"github.com/JakeFAU/signal-scanner/internal/strategy"
)

// ErrScanInProgress is returned when a scan of the same type is running.
var ErrScanInProgress = errors.New("scan already in progress")

// Defaults for Config.
const (
	DefaultBatchSize     = 3
	DefaultNotifyTimeout = 10 * time.Second
)

var (
	defaultIntraBatch = Range{Min: 3 * time.Second, Max: 5 * time.Second}
	defaultInterBatch = Range{Min: 30 * time.Second, Max: 35 * time.Second}
)

// Range is an inclusive duration interval.
type Range struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// Config controls batching and pacing.
type Config struct {
	BatchSize       int
	IntraBatchDelay Range
	InterBatchDelay Range
	NotifyTimeout   time.Duration
}

// Runner drives one company through a strategy chain.
type Runner interface {
	Run(ctx context.Context, company signals.Company, ex strategy.Extractor) strategy.Result
}

// Deduper is the reservation protocol of the dedup store.
type Deduper interface {
	Begin(key signals.DedupKey) bool
	Commit(ctx context.Context, key signals.DedupKey) error
	Abort(key signals.DedupKey)
}

// ScanMarker is implemented by stores that track when a company was last
// scanned.
type ScanMarker interface {
	MarkScanned(ctx context.Context, companyID string, at time.Time) error
}

// Recorder receives every finished report.
type Recorder interface {
	Record(report signals.ScanReport)
}

// Pauser sleeps unless the context ends first.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration) error
}

// Jitter picks a duration in [lo, hi].
type Jitter func(lo, hi time.Duration) time.Duration

// Options bundles the scanner's collaborators.
type Options struct {
	Config    Config
	Store     signals.Store
	Sink      signals.Sink
	Dedup     Deduper
	Chains    map[signals.DetectionType]Runner
	Extractor strategy.Extractor
	Recorder  Recorder
	IDs       signals.IDGenerator
	Clock     signals.Clock
	Pauser    Pauser
	Jitter    Jitter
	Logger    *zap.Logger
}

// Scanner orchestrates scans.
type Scanner struct {
	cfg       Config
	store     signals.Store
	sink      signals.Sink
	dedup     Deduper
	chains    map[signals.DetectionType]Runner
	extractor strategy.Extractor
	recorder  Recorder
	ids       signals.IDGenerator
	clock     signals.Clock
	pauser    Pauser
	jitter    Jitter
	logger    *zap.Logger

	mu      sync.Mutex
	running map[signals.DetectionType]bool
}

// New validates opts and returns a Scanner.
func New(opts Options) (*Scanner, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("scanner: store is required")
	case opts.Dedup == nil:
		return nil, errors.New("scanner: dedup store is required")
	case opts.Extractor == nil:
		return nil, errors.New("scanner: extractor is required")
	case len(opts.Chains) == 0:
		return nil, errors.New("scanner: at least one strategy chain is required")
	case opts.IDs == nil:
		return nil, errors.New("scanner: id generator is required")
	}
	cfg := opts.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.IntraBatchDelay == (Range{}) {
		cfg.IntraBatchDelay = defaultIntraBatch
	}
	if cfg.InterBatchDelay == (Range{}) {
		cfg.InterBatchDelay = defaultInterBatch
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.Pauser == nil {
		opts.Pauser = system.Pauser{}
	}
	if opts.Jitter == nil {
		opts.Jitter = retry.Between
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scanner{
		cfg:       cfg,
		store:     opts.Store,
		sink:      opts.Sink,
		dedup:     opts.Dedup,
		chains:    opts.Chains,
		extractor: opts.Extractor,
		recorder:  opts.Recorder,
		ids:       opts.IDs,
		clock:     opts.Clock,
		pauser:    opts.Pauser,
		jitter:    opts.Jitter,
		logger:    opts.Logger.Named("scanner"),
		running:   make(map[signals.DetectionType]bool),
	}, nil
}

// Supports reports whether a chain is configured for kind.
func (s *Scanner) Supports(kind signals.DetectionType) bool {
	_, ok := s.chains[kind]
	return ok
}

// Running reports whether a scan of kind is in progress.
func (s *Scanner) Running(kind signals.DetectionType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[kind]
}

// RunScan executes one scan of kind and returns its report. Only
// configuration problems return an error; everything that goes wrong for an
// individual company is counted in the report. A canceled context stops the
// scan between companies and yields a report with Aborted set.
func (s *Scanner) RunScan(ctx context.Context, kind signals.DetectionType) (signals.ScanReport, error) {
	run, err := s.prepare(ctx, kind)
	if err != nil {
		return signals.ScanReport{}, err
	}
	return s.execute(ctx, run), nil
}

// Start claims kind, resolves the roster and runs the scan in the
// background. The returned channel yields the report once and is then
// closed. Errors are the same configuration errors RunScan returns.
func (s *Scanner) Start(ctx context.Context, kind signals.DetectionType) (string, <-chan signals.ScanReport, error) {
	run, err := s.prepare(ctx, kind)
	if err != nil {
		return "", nil, err
	}
	done := make(chan signals.ScanReport, 1)
	go func() {
		defer close(done)
		done <- s.execute(ctx, run)
	}()
	return run.id, done, nil
}

type scanRun struct {
	id        string
	kind      signals.DetectionType
	chain     Runner
	companies []signals.Company
}

func (s *Scanner) prepare(ctx context.Context, kind signals.DetectionType) (scanRun, error) {
	chain, ok := s.chains[kind]
	if !ok {
		return scanRun{}, fmt.Errorf("no strategy chain configured for %q", kind)
	}
	if !s.claim(kind) {
		return scanRun{}, fmt.Errorf("%s: %w", kind, ErrScanInProgress)
	}
	companies, err := s.activeCompanies(ctx)
	if err != nil {
		s.release(kind)
		return scanRun{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.release(kind)
		return scanRun{}, fmt.Errorf("generate scan id: %w", err)
	}
	return scanRun{id: id, kind: kind, chain: chain, companies: companies}, nil
}

func (s *Scanner) execute(ctx context.Context, run scanRun) signals.ScanReport {
	defer s.release(run.kind)

	kind, chain, companies := run.kind, run.chain, run.companies
	agg := &aggregate{report: signals.ScanReport{
		ID:             run.id,
		Type:           kind,
		StartedAt:      s.clock.Now(),
		CompaniesTotal: len(companies),
		StrategyWins:   make(map[string]int),
	}}
	log := s.logger.With(zap.String("scan_id", run.id), zap.String("type", string(kind)))
	log.Info("scan started", zap.Int("companies", len(companies)), zap.Int("batch_size", s.cfg.BatchSize))

	for start := 0; start < len(companies); start += s.cfg.BatchSize {
		if start > 0 {
			delay := s.jitter(s.cfg.InterBatchDelay.Min, s.cfg.InterBatchDelay.Max)
			log.Debug("pausing between batches", zap.Duration("delay", delay))
			if err := s.pauser.Pause(ctx, delay); err != nil {
				break
			}
		}
		end := min(start+s.cfg.BatchSize, len(companies))
		s.runBatch(ctx, kind, chain, companies[start:end], agg)
		if ctx.Err() != nil {
			break
		}
	}

	report := agg.finish(s.clock.Now(), ctx.Err() != nil)
	if s.recorder != nil {
		s.recorder.Record(report)
	}
	log.Info("scan finished",
		zap.Bool("aborted", report.Aborted),
		zap.Int("processed", report.CompaniesProcessed),
		zap.Int("found", report.CandidatesFound),
		zap.Int("rejected", report.CandidatesRejected),
		zap.Int("events", report.EventsEmitted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("failures", report.Failures),
		zap.Duration("duration", report.Duration))
	return report
}

func (s *Scanner) claim(kind signals.DetectionType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[kind] {
		return false
	}
	s.running[kind] = true
	return true
}

func (s *Scanner) release(kind signals.DetectionType) {
	s.mu.Lock()
	delete(s.running, kind)
	s.mu.Unlock()
}

func (s *Scanner) activeCompanies(ctx context.Context) ([]signals.Company, error) {
	all, err := s.store.ListCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	active := make([]signals.Company, 0, len(all))
	for _, c := range all {
		if c.Active {
			active = append(active, c)
		}
	}
	if len(active) == 0 {
		return nil, signals.ErrNoCompanies
	}
	return active, nil
}

// runBatch processes one batch with one worker per company. Starts are
// staggered by the intra-batch delay so companies never hit upstreams in
// the same instant.
func (s *Scanner) runBatch(
	ctx context.Context,
	kind signals.DetectionType,
	chain Runner,
	batch []signals.Company,
	agg *aggregate,
) {
	var g errgroup.Group
	g.SetLimit(len(batch))
	var offset time.Duration
	for i, company := range batch {
		if i > 0 {
			offset += s.jitter(s.cfg.IntraBatchDelay.Min, s.cfg.IntraBatchDelay.Max)
		}
		wait := offset
		g.Go(func() error {
			if wait > 0 {
				if err := s.pauser.Pause(ctx, wait); err != nil {
					return nil
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			agg.add(s.scanCompany(ctx, kind, chain, company))
			return nil
		})
	}
	_ = g.Wait()
}

type companyOutcome struct {
	state               strategy.State
	winner              string
	found               int
	rejected            int
	failures            int
	emitted             int
	duplicates          int
	persistenceFailures int
}

func (s *Scanner) scanCompany(
	ctx context.Context,
	kind signals.DetectionType,
	chain Runner,
	company signals.Company,
) companyOutcome {
	log := s.logger.With(zap.String("type", string(kind)), zap.String("company", company.Name))
	result := chain.Run(ctx, company, s.extractor)
	out := companyOutcome{
		state:    result.State,
		winner:   result.Winner,
		found:    len(result.Candidates),
		rejected: result.Rejected,
		failures: result.Failures(),
	}
	if result.State == strategy.StateExhausted {
		log.Info("all strategies exhausted", zap.Int("attempts", len(result.Attempts)))
	}

	// Once a company's results are in hand they are handed off in full so a
	// cancellation cannot leave a reservation half done.
	emitCtx := context.WithoutCancel(ctx)
	for _, cand := range result.Candidates {
		switch s.emit(emitCtx, cand, log) {
		case emitted:
			out.emitted++
		case duplicate:
			out.duplicates++
		case persistFailed:
			out.persistenceFailures++
		case emittedUncommitted:
			out.emitted++
			out.persistenceFailures++
		}
	}
	if marker, ok := s.store.(ScanMarker); ok && result.State == strategy.StateValidated {
		if err := marker.MarkScanned(emitCtx, company.ID, s.clock.Now()); err != nil {
			log.Warn("failed to record scan time", zap.Error(err))
		}
	}
	return out
}

type emitResult int

const (
	emitted emitResult = iota
	duplicate
	persistFailed
	emittedUncommitted
)

// emit runs the reserve, save, notify, commit sequence for one candidate.
// A failed save or notify releases the reservation so the next scan retries.
func (s *Scanner) emit(ctx context.Context, cand signals.Candidate, log *zap.Logger) emitResult {
	key := cand.Key()
	kind := string(cand.Type)
	if !s.dedup.Begin(key) {
		metrics.ObserveDuplicate(kind)
		log.Debug("duplicate candidate suppressed", zap.String("key", key.String()))
		return duplicate
	}

	id, err := s.store.SaveCandidate(ctx, cand)
	if err != nil {
		s.dedup.Abort(key)
		metrics.ObservePersistenceFailure("save")
		log.Error("save candidate failed", zap.String("key", key.String()), zap.Error(err))
		return persistFailed
	}

	if s.sink != nil {
		notifyCtx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
		err = s.sink.Notify(notifyCtx, cand)
		cancel()
		if err != nil {
			s.dedup.Abort(key)
			metrics.ObservePersistenceFailure("notify")
			log.Error("notify failed, event will be retried",
				zap.String("candidate_id", id),
				zap.String("key", key.String()),
				zap.Error(err))
			return persistFailed
		}
	}

	metrics.ObserveEvent(kind)
	if err := s.dedup.Commit(ctx, key); err != nil {
		metrics.ObservePersistenceFailure("dedup")
		log.Error("commit dedup key failed", zap.String("key", key.String()), zap.Error(err))
		return emittedUncommitted
	}
	log.Info("new event",
		zap.String("candidate_id", id),
		zap.String("summary", cand.Summary()),
		zap.Int("confidence", cand.Confidence),
		zap.String("strategy", cand.Strategy))
	return emitted
}

// aggregate folds company outcomes into the report.
type aggregate struct {
	mu     sync.Mutex
	report signals.ScanReport
}

func (a *aggregate) add(o companyOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := &a.report
	if o.state != strategy.StateCanceled {
		r.CompaniesProcessed++
	}
	if o.state == strategy.StateExhausted {
		r.CompaniesExhausted++
	}
	if o.winner != "" {
		r.StrategyWins[o.winner]++
	}
	r.CandidatesFound += o.found
	r.CandidatesRejected += o.rejected
	r.Failures += o.failures
	r.EventsEmitted += o.emitted
	r.Duplicates += o.duplicates
	r.PersistenceFailures += o.persistenceFailures
}

func (a *aggregate) finish(now time.Time, aborted bool) signals.ScanReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.report
	r.FinishedAt = now
	r.Duration = now.Sub(r.StartedAt)
	r.Aborted = aborted
	wins := make(map[string]int, len(r.StrategyWins))
	for k, v := range r.StrategyWins {
		wins[k] = v
	}
	r.StrategyWins = wins
	return r
}
