// Package server builds the scanner service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/analytics"
	"github.com/JakeFAU/signal-scanner/internal/api"
	anthropicclassifier "github.com/JakeFAU/signal-scanner/internal/classifier/anthropic"
	"github.com/JakeFAU/signal-scanner/internal/clock/system"
	"github.com/JakeFAU/signal-scanner/internal/config"
	"github.com/JakeFAU/signal-scanner/internal/dedup"
	"github.com/JakeFAU/signal-scanner/internal/extract"
	"github.com/JakeFAU/signal-scanner/internal/fetcher"
	collyfetcher "github.com/JakeFAU/signal-scanner/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/signal-scanner/internal/fetcher/headless"
	"github.com/JakeFAU/signal-scanner/internal/id/uuid"
	"github.com/JakeFAU/signal-scanner/internal/metrics"
	"github.com/JakeFAU/signal-scanner/internal/notify"
	"github.com/JakeFAU/signal-scanner/internal/notify/logsink"
	pubsubsink "github.com/JakeFAU/signal-scanner/internal/notify/pubsub"
	"github.com/JakeFAU/signal-scanner/internal/notify/webhook"
	"github.com/JakeFAU/signal-scanner/internal/policy/ratelimit"
	"github.com/JakeFAU/signal-scanner/internal/policy/retry"
	"github.com/JakeFAU/signal-scanner/internal/resource"
	"github.com/JakeFAU/signal-scanner/internal/scanner"
	"github.com/JakeFAU/signal-scanner/internal/signals"
	"github.com/JakeFAU/signal-scanner/internal/storage"
	"github.com/JakeFAU/signal-scanner/internal/strategy"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     storage.Provider
	pool      *resource.Pool
	plain     *collyfetcher.Fetcher
	headless  *headlessfetcher.Fetcher
	pubsub    *pubsubsink.Sink
	recorder  *analytics.Recorder
	scanner   *scanner.Scanner
	apiServer *api.Server
	registry  *strategy.Registry
	baseCtx   context.Context
	cancel    context.CancelFunc
}

// Build creates the application's dependencies. The logger is owned by the
// caller.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app := &App{cfg: cfg, logger: logger, baseCtx: baseCtx, cancel: cancel}

	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Strings("sinks", cfg.Notify.Sinks),
		zap.Int("companies", len(cfg.Companies)),
	)

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	clock := system.New()
	ids := uuid.New()

	var err error
	a.store, err = storage.Open(ctx, a.cfg.Storage, ids, a.cfg.Roster(), a.logger.Named("storage"))
	if err != nil {
		return err
	}

	seen := dedup.New(a.store, a.logger.Named("dedup"))
	if err := seen.Load(ctx); err != nil {
		return fmt.Errorf("dedup load failed: %w", err)
	}

	a.pool, err = resource.NewPool(resource.Config{
		Endpoints:        a.cfg.Resources.Endpoints,
		FailureThreshold: a.cfg.Resources.FailureThreshold,
		ProbeInterval:    a.cfg.Resources.ProbeInterval,
		ProbeParallelism: a.cfg.Resources.ProbeParallelism,
	}, resource.NewHTTPProber(a.cfg.Resources.ProbeURL, a.cfg.Resources.ProbeTimeout, a.cfg.HTTP.UserAgent),
		clock, a.logger.Named("resources"))
	if err != nil {
		return fmt.Errorf("resource pool init failed: %w", err)
	}
	a.logger.Info("resource pool initialized",
		zap.Int("endpoints", a.pool.Len()),
		zap.Bool("required", a.cfg.Resources.Required),
	)

	registry, err := a.buildStrategies(clock)
	if err != nil {
		return err
	}
	a.registry = registry

	engine, err := a.buildExtractor(clock)
	if err != nil {
		return err
	}

	sink, err := a.buildSinks(ctx)
	if err != nil {
		return err
	}

	chainOpts := strategy.ChainOptions{
		Timeout: a.cfg.Scan.StrategyTimeout,
		Retry: retry.NewExponentialPolicy(
			a.cfg.Scan.Retry.MaxAttempts,
			a.cfg.Scan.Retry.BaseDelay,
			a.cfg.Scan.Retry.MaxDelay,
		),
		Pauser: system.Pauser{},
		Logger: a.logger,
	}
	chains := make(map[signals.DetectionType]scanner.Runner)
	for _, kind := range []signals.DetectionType{signals.DetectionJob, signals.DetectionHire} {
		order := a.cfg.ChainOrder(kind)
		if len(order) == 0 {
			continue
		}
		chain, err := registry.Chain(kind, order, chainOpts)
		if err != nil {
			return fmt.Errorf("%s chain: %w", kind, err)
		}
		chains[kind] = chain
		a.logger.Info("strategy chain configured", zap.String("type", string(kind)), zap.Strings("order", chain.Strategies()))
	}

	a.recorder = analytics.NewRecorder(analytics.DefaultHistory)
	a.scanner, err = scanner.New(scanner.Options{
		Config: scanner.Config{
			BatchSize:       a.cfg.Scan.BatchSize,
			IntraBatchDelay: scanner.Range(a.cfg.Scan.IntraBatchDelay),
			InterBatchDelay: scanner.Range(a.cfg.Scan.InterBatchDelay),
			NotifyTimeout:   a.cfg.Scan.NotifyTimeout,
		},
		Store:     a.store,
		Sink:      sink,
		Dedup:     seen,
		Chains:    chains,
		Extractor: engine,
		Recorder:  a.recorder,
		IDs:       ids,
		Clock:     clock,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("scanner init failed: %w", err)
	}

	apiKey := ""
	if a.cfg.Auth.Enabled {
		apiKey = a.cfg.Auth.APIKey
	}
	a.apiServer = api.NewServer(api.Options{
		Scanner:     a.scanner,
		Reports:     a.recorder,
		Resources:   a.pool,
		Clock:       clock,
		APIKey:      apiKey,
		BaseContext: a.baseCtx,
		Logger:      a.logger,
	})
	return nil
}

func (a *App) buildStrategies(clock signals.Clock) (*strategy.Registry, error) {
	a.plain = collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.HTTP.UserAgent,
		RespectRobots: a.cfg.HTTP.RespectRobots,
		Timeout:       a.cfg.HTTP.Timeout,
		MaxBodyBytes:  a.cfg.HTTP.MaxBodyBytes,
	})
	a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.HTTP.UserAgent))

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.RateLimit.DefaultRPS,
		DefaultBurst: a.cfg.RateLimit.DefaultBurst,
		Hosts:        a.cfg.RateLimit.Hosts,
	})
	egressOpts := []strategy.EgressOption{
		strategy.WithLimiter(limiter),
		strategy.WithLogger(a.logger.Named("egress")),
	}
	if a.pool.Len() > 0 || a.cfg.Resources.Required {
		egressOpts = append(egressOpts, strategy.WithPool(a.pool, a.cfg.Resources.Required))
	}
	plain := strategy.NewEgress(a.plain, egressOpts...)

	var rendered *strategy.Egress
	if a.cfg.Headless.Enabled {
		var err error
		a.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavTimeout,
			SettleDelay:       a.cfg.Headless.SettleDelay,
		}, a.logger.Named("headless"))
		if err != nil {
			a.logger.Warn("headless fetcher init failed, career pages will not be rendered", zap.Error(err))
		} else {
			rendered = strategy.NewEgress(a.headless, egressOpts...)
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		}
	}

	// Profile pages are rendered client side; the session strategy only
	// falls back to plain HTTP when no browser is available.
	session := plain
	if rendered != nil {
		session = rendered
	}

	sc := a.cfg.Strategies
	registry := strategy.NewRegistry()
	register := func(kind signals.DetectionType, s strategy.Strategy) error {
		if err := registry.Register(kind, s); err != nil {
			return fmt.Errorf("register %s strategy: %w", kind, err)
		}
		return nil
	}
	careers := strategy.NewCareers(plain, rendered, fetcher.NewRenderDetector(a.cfg.Headless.PromotionThreshold),
		a.logger.Named("careers"))
	searchCfg := func(query string) strategy.SearchConfig {
		return strategy.SearchConfig{
			BaseURL:  sc.Search.BaseURL,
			Query:    query,
			Language: sc.Search.Language,
			Region:   sc.Search.Region,
			MaxAge:   sc.Search.MaxAge,
			MaxItems: sc.Search.MaxItems,
		}
	}
	for _, reg := range []struct {
		kind signals.DetectionType
		s    strategy.Strategy
	}{
		{signals.DetectionJob, strategy.NewAPI(strategy.APIConfig{
			GreenhouseURL: sc.API.GreenhouseURL,
			LeverURL:      sc.API.LeverURL,
			MaxPostings:   sc.API.MaxPostings,
		}, plain)},
		{signals.DetectionJob, careers},
		{signals.DetectionJob, strategy.NewSession(strategy.SessionConfig{Cookie: sc.Session.Cookie, Path: sc.Session.JobPath}, session)},
		{signals.DetectionJob, strategy.NewSearch(signals.DetectionJob, searchCfg(sc.Search.JobQuery), plain, clock)},
		{signals.DetectionJob, strategy.NewHeuristic(sc.Heuristic.JobPaths, plain, a.logger.Named("heuristic"))},
		{signals.DetectionHire, strategy.NewSession(strategy.SessionConfig{Cookie: sc.Session.Cookie, Path: sc.Session.HirePath}, session)},
		{signals.DetectionHire, strategy.NewSearch(signals.DetectionHire, searchCfg(sc.Search.HireQuery), plain, clock)},
		{signals.DetectionHire, strategy.NewHeuristic(sc.Heuristic.HirePaths, plain, a.logger.Named("heuristic"))},
	} {
		if err := register(reg.kind, reg.s); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (a *App) buildExtractor(clock signals.Clock) (*extract.Engine, error) {
	var (
		rules []extract.Rule
		err   error
	)
	if a.cfg.Extract.RulesFile != "" {
		rules, err = extract.LoadRules(a.cfg.Extract.RulesFile)
	} else {
		rules, err = extract.DefaultRules()
	}
	if err != nil {
		return nil, fmt.Errorf("load extraction rules: %w", err)
	}

	var classifier signals.Classifier
	if a.cfg.Classifier.Enabled {
		c, err := anthropicclassifier.New(anthropicclassifier.Config{
			APIKey:   a.cfg.Classifier.APIKey,
			Model:    a.cfg.Classifier.Model,
			MaxChars: a.cfg.Classifier.MaxChars,
			BaseURL:  a.cfg.Classifier.BaseURL,
		}, a.logger.Named("classifier"))
		if err != nil {
			return nil, fmt.Errorf("classifier init failed: %w", err)
		}
		classifier = c
		a.logger.Info("relevance classifier enabled", zap.String("base_url", a.cfg.Classifier.BaseURL))
	}

	engine, err := extract.NewEngine(extract.Options{
		Rules:           rules,
		Vocabulary:      a.cfg.Extract.Vocabulary,
		ConfidenceFloor: a.cfg.Extract.ConfidenceFloor,
		Classifier:      classifier,
		Clock:           clock,
		Logger:          a.logger.Named("extract"),
	})
	if err != nil {
		return nil, fmt.Errorf("extraction engine init failed: %w", err)
	}
	a.logger.Info("extraction engine ready", zap.Strings("rules", engine.RuleNames()))
	return engine, nil
}

func (a *App) buildSinks(ctx context.Context) (notify.Multi, error) {
	var sinks notify.Multi
	for _, name := range a.cfg.Notify.Sinks {
		switch name {
		case config.SinkLog:
			sinks = append(sinks, logsink.New(a.logger))
		case config.SinkWebhook:
			s, err := webhook.New(webhook.Config{
				URL:     a.cfg.Notify.Webhook.URL,
				Headers: a.cfg.Notify.Webhook.Headers,
				Timeout: a.cfg.Notify.Webhook.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("webhook sink init failed: %w", err)
			}
			sinks = append(sinks, s)
		case config.SinkPubSub:
			s, err := pubsubsink.New(ctx, pubsubsink.Config{
				ProjectID: a.cfg.Notify.PubSub.ProjectID,
				Topic:     a.cfg.Notify.PubSub.Topic,
			})
			if err != nil {
				return nil, fmt.Errorf("pubsub sink init failed: %w", err)
			}
			a.pubsub = s
			sinks = append(sinks, s)
		default:
			return nil, fmt.Errorf("unknown sink %q", name)
		}
		a.logger.Info("notification sink enabled", zap.String("sink", name))
	}
	if len(sinks) == 0 {
		a.logger.Warn("no notification sinks configured, events are only persisted")
	}
	return sinks, nil
}

// Scan runs one scan of kind in the foreground.
func (a *App) Scan(ctx context.Context, kind signals.DetectionType) (signals.ScanReport, error) {
	report, err := a.scanner.RunScan(ctx, kind)
	if err != nil {
		return signals.ScanReport{}, fmt.Errorf("run %s scan: %w", kind, err)
	}
	return report, nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the HTTP API and the resource health loop until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	go a.pool.Run(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("http server: %w", runErr)
	}
	return nil
}

// Close cancels background scans and releases every held resource.
func (a *App) Close() {
	a.cancel()
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.plain != nil {
		a.plain.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub sink close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}
