package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/extract"
	"github.com/JakeFAU/signal-scanner/internal/metrics"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// DefaultTimeout bounds one strategy attempt.
const DefaultTimeout = 20 * time.Second

// State is the terminal state of a company run through the chain.
type State string

// Terminal states.
const (
	StateValidated State = "validated"
	StateExhausted State = "exhausted"
	StateCanceled  State = "canceled"
)

// Attempt outcomes, also used as metric labels.
const (
	OutcomeAccepted    = "accepted"
	OutcomeEmpty       = "empty"
	OutcomeError       = "error"
	OutcomeUnsupported = "unsupported"
)

// Extractor turns raw content into candidates.
type Extractor interface {
	Extract(ctx context.Context, in extract.Input) extract.Outcome
}

// RetryPolicy decides whether a failed fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Pauser sleeps for a duration unless the context ends first.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration) error
}

// ChainOptions configures a Chain.
type ChainOptions struct {
	Timeout time.Duration
	Retry   RetryPolicy
	Pauser  Pauser
	Logger  *zap.Logger
}

// Attempt records one strategy's contribution to a company run.
type Attempt struct {
	Strategy string
	Outcome  string
	Contents int
	Accepted int
	Rejected int
	Tries    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of running the chain for one company.
type Result struct {
	Candidates []signals.Candidate
	Rejected   int
	Winner     string
	Attempts   []Attempt
	State      State
}

// Failures counts attempts that ended in an error.
func (r Result) Failures() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Outcome == OutcomeError {
			n++
		}
	}
	return n
}

// Chain runs strategies in order and stops at the first one whose content
// yields at least one accepted candidate.
type Chain struct {
	kind       signals.DetectionType
	strategies []Strategy
	timeout    time.Duration
	retry      RetryPolicy
	pauser     Pauser
	logger     *zap.Logger
}

// NewChain builds a chain over strategies in priority order.
func NewChain(kind signals.DetectionType, strategies []Strategy, opts ChainOptions) *Chain {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Chain{
		kind:       kind,
		strategies: strategies,
		timeout:    opts.Timeout,
		retry:      opts.Retry,
		pauser:     opts.Pauser,
		logger:     opts.Logger.Named("chain").With(zap.String("type", string(kind))),
	}
}

// Kind returns the detection type the chain serves.
func (c *Chain) Kind() signals.DetectionType {
	return c.kind
}

// Strategies returns the strategy names in priority order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Run drives the chain for company. Strategy failures never abort the run;
// they are recorded and the next strategy is tried.
func (c *Chain) Run(ctx context.Context, company signals.Company, ex Extractor) Result {
	result := Result{State: StateExhausted}
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			result.State = StateCanceled
			return result
		}
		attempt := c.runStrategy(ctx, s, company, ex)
		metrics.ObserveStrategyAttempt(string(c.kind), s.Name(), attempt.outcome.Outcome)
		result.Attempts = append(result.Attempts, attempt.outcome)
		result.Rejected += attempt.outcome.Rejected
		if len(attempt.accepted) > 0 {
			result.Candidates = attempt.accepted
			result.Winner = s.Name()
			result.State = StateValidated
			return result
		}
	}
	if ctx.Err() != nil {
		result.State = StateCanceled
	}
	return result
}

type strategyRun struct {
	outcome  Attempt
	accepted []signals.Candidate
}

func (c *Chain) runStrategy(ctx context.Context, s Strategy, company signals.Company, ex Extractor) strategyRun {
	log := c.logger.With(zap.String("company", company.Name), zap.String("strategy", s.Name()))
	run := strategyRun{outcome: Attempt{Strategy: s.Name()}}
	if !s.Supports(company) {
		run.outcome.Outcome = OutcomeUnsupported
		log.Debug("strategy does not support company")
		return run
	}

	start := time.Now()
	contents, tries, err := c.fetch(ctx, s, company)
	run.outcome.Tries = tries
	run.outcome.Duration = time.Since(start)
	if err != nil {
		run.outcome.Outcome = OutcomeError
		run.outcome.Err = err
		if errors.Is(err, ErrUnsupported) || errors.Is(err, ErrNoResource) {
			run.outcome.Outcome = OutcomeUnsupported
			log.Debug("strategy skipped", zap.Error(err))
			return run
		}
		log.Warn("strategy failed, falling through", zap.Int("tries", tries), zap.Error(err))
		return run
	}

	run.outcome.Contents = len(contents)
	seen := make(map[signals.DedupKey]int)
	for _, content := range contents {
		out := ex.Extract(ctx, extract.Input{
			Type:     c.kind,
			Company:  company,
			Source:   s.Source(),
			Strategy: s.Name(),
			Content:  content,
		})
		run.outcome.Rejected += len(out.Rejected)
		for _, cand := range out.Accepted {
			key := cand.Key()
			if i, ok := seen[key]; ok {
				if cand.Confidence > run.accepted[i].Confidence {
					run.accepted[i] = cand
				}
				continue
			}
			seen[key] = len(run.accepted)
			run.accepted = append(run.accepted, cand)
		}
	}
	run.outcome.Accepted = len(run.accepted)
	metrics.ObserveCandidates(string(c.kind), string(s.Source()), "rejected", run.outcome.Rejected)
	metrics.ObserveCandidates(string(c.kind), string(s.Source()), "accepted", run.outcome.Accepted)

	if run.outcome.Accepted == 0 {
		run.outcome.Outcome = OutcomeEmpty
		log.Debug("strategy yielded no accepted candidates",
			zap.Int("contents", len(contents)),
			zap.Int("rejected", run.outcome.Rejected))
		return run
	}
	run.outcome.Outcome = OutcomeAccepted
	log.Info("strategy accepted candidates", zap.Int("accepted", run.outcome.Accepted))
	return run
}

// fetch runs one strategy under the per-attempt timeout, retrying transient
// errors when a policy is configured.
func (c *Chain) fetch(ctx context.Context, s Strategy, company signals.Company) ([]signals.RawContent, int, error) {
	for attempt := 1; ; attempt++ {
		contents, err := c.fetchOnce(ctx, s, company)
		if err == nil {
			return contents, attempt, nil
		}
		if ctx.Err() != nil || c.retry == nil || !c.retry.ShouldRetry(err, attempt) {
			return nil, attempt, err
		}
		delay := c.retry.Backoff(attempt)
		c.logger.Debug("retrying strategy",
			zap.String("company", company.Name),
			zap.String("strategy", s.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if perr := c.pause(ctx, delay); perr != nil {
			return nil, attempt, err
		}
	}
}

func (c *Chain) fetchOnce(ctx context.Context, s Strategy, company signals.Company) ([]signals.RawContent, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	contents, err := s.Fetch(attemptCtx, company)
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, eris.Wrapf(context.DeadlineExceeded, "%s timed out after %s", s.Name(), c.timeout)
		}
		return nil, err
	}
	return contents, nil
}

func (c *Chain) pause(ctx context.Context, d time.Duration) error {
	if c.pauser != nil {
		return c.pauser.Pause(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
