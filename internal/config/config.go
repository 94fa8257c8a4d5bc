// Package config loads and validates scanner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/signal-scanner/internal/extract"
	"github.com/JakeFAU/signal-scanner/internal/policy/ratelimit"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Notification sinks.
const (
	SinkLog     = "log"
	SinkWebhook = "webhook"
	SinkPubSub  = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Resources  ResourcesConfig  `mapstructure:"resources"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Companies  []CompanyConfig  `mapstructure:"companies"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DelayRange is an inclusive randomized delay window.
type DelayRange struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// ScanConfig governs batching and pacing of a scan.
type ScanConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	IntraBatchDelay DelayRange    `mapstructure:"intra_batch_delay"`
	InterBatchDelay DelayRange    `mapstructure:"inter_batch_delay"`
	StrategyTimeout time.Duration `mapstructure:"strategy_timeout"`
	NotifyTimeout   time.Duration `mapstructure:"notify_timeout"`
	Retry           RetryConfig   `mapstructure:"retry"`
}

// RetryConfig configures transient-error retries inside one strategy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// StrategiesConfig orders the chains and tunes each strategy.
type StrategiesConfig struct {
	Job       []string        `mapstructure:"job"`
	Hire      []string        `mapstructure:"hire"`
	Session   SessionConfig   `mapstructure:"session"`
	Search    SearchConfig    `mapstructure:"search"`
	API       APIConfig       `mapstructure:"api"`
	Heuristic HeuristicConfig `mapstructure:"heuristic"`
}

// SessionConfig holds the authenticated scrape settings.
type SessionConfig struct {
	Cookie   string `mapstructure:"cookie"`
	JobPath  string `mapstructure:"job_path"`
	HirePath string `mapstructure:"hire_path"`
}

// SearchConfig configures the news search feed.
type SearchConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	JobQuery  string        `mapstructure:"job_query"`
	HireQuery string        `mapstructure:"hire_query"`
	Language  string        `mapstructure:"language"`
	Region    string        `mapstructure:"region"`
	MaxAge    time.Duration `mapstructure:"max_age"`
	MaxItems  int           `mapstructure:"max_items"`
}

// APIConfig points at the structured job board APIs.
type APIConfig struct {
	GreenhouseURL string `mapstructure:"greenhouse_url"`
	LeverURL      string `mapstructure:"lever_url"`
	MaxPostings   int    `mapstructure:"max_postings"`
}

// HeuristicConfig lists website paths probed per detection type.
type HeuristicConfig struct {
	JobPaths  []string `mapstructure:"job_paths"`
	HirePaths []string `mapstructure:"hire_paths"`
}

// HTTPConfig configures the plain page fetcher.
type HTTPConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
}

// RateLimitConfig bounds request rates per upstream host.
type RateLimitConfig struct {
	DefaultRPS   float64                        `mapstructure:"default_rps"`
	DefaultBurst int                            `mapstructure:"default_burst"`
	Hosts        map[string]ratelimit.HostLimit `mapstructure:"hosts"`
}

// ResourcesConfig describes the egress proxy pool.
type ResourcesConfig struct {
	Endpoints        []string      `mapstructure:"endpoints"`
	Required         bool          `mapstructure:"required"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	ProbeParallelism int           `mapstructure:"probe_parallelism"`
	ProbeURL         string        `mapstructure:"probe_url"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
}

// ExtractConfig tunes the extraction engine.
type ExtractConfig struct {
	ConfidenceFloor int                `mapstructure:"confidence_floor"`
	RulesFile       string             `mapstructure:"rules_file"`
	Vocabulary      extract.Vocabulary `mapstructure:"vocabulary"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig controls the Postgres connection pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	TablePrefix     string        `mapstructure:"table_prefix"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SQLiteConfig points at the embedded database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// NotifyConfig lists the sinks that receive net-new events.
type NotifyConfig struct {
	Sinks   []string      `mapstructure:"sinks"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// WebhookConfig configures JSON POST delivery.
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ClassifierConfig enables the optional model-backed relevance veto.
type ClassifierConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	MaxChars int    `mapstructure:"max_chars"`
	BaseURL  string `mapstructure:"base_url"`
}

// CompanyConfig is a roster entry declared in the config file.
type CompanyConfig struct {
	ID         string `mapstructure:"id"`
	Name       string `mapstructure:"name"`
	ProfileURL string `mapstructure:"profile_url"`
	CareerURL  string `mapstructure:"career_url"`
	Website    string `mapstructure:"website"`
	Disabled   bool   `mapstructure:"disabled"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIGNALSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("scan.batch_size", 3)
	v.SetDefault("scan.intra_batch_delay.min", "3s")
	v.SetDefault("scan.intra_batch_delay.max", "5s")
	v.SetDefault("scan.inter_batch_delay.min", "30s")
	v.SetDefault("scan.inter_batch_delay.max", "35s")
	v.SetDefault("scan.strategy_timeout", "20s")
	v.SetDefault("scan.notify_timeout", "10s")
	v.SetDefault("scan.retry.max_attempts", 2)
	v.SetDefault("scan.retry.base_delay", "500ms")
	v.SetDefault("scan.retry.max_delay", "5s")

	v.SetDefault("strategies.job", []string{"session", "api", "careers", "search", "heuristic"})
	v.SetDefault("strategies.hire", []string{"session", "search", "heuristic"})
	v.SetDefault("strategies.session.cookie", "")
	v.SetDefault("strategies.session.job_path", "jobs/")
	v.SetDefault("strategies.session.hire_path", "posts/")
	v.SetDefault("strategies.search.base_url", "https://news.google.com/rss/search")
	v.SetDefault("strategies.search.language", "en-US")
	v.SetDefault("strategies.search.region", "US")
	v.SetDefault("strategies.search.max_age", "336h")
	v.SetDefault("strategies.search.max_items", 25)
	v.SetDefault("strategies.api.greenhouse_url", "https://boards-api.greenhouse.io/v1/boards")
	v.SetDefault("strategies.api.lever_url", "https://api.lever.co/v0/postings")
	v.SetDefault("strategies.api.max_postings", 200)

	v.SetDefault("http.user_agent", "signalscan/0.1 (+https://github.com/JakeFAU/signal-scanner)")
	v.SetDefault("http.timeout", "20s")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.max_body_bytes", 4<<20)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "25s")
	v.SetDefault("headless.settle_delay", "1s")
	v.SetDefault("headless.promotion_threshold", 60)

	v.SetDefault("ratelimit.default_rps", 1.0)
	v.SetDefault("ratelimit.default_burst", 2)

	v.SetDefault("resources.required", false)
	v.SetDefault("resources.failure_threshold", 3)
	v.SetDefault("resources.probe_interval", "5m")
	v.SetDefault("resources.probe_parallelism", 4)
	v.SetDefault("resources.probe_url", "https://www.gstatic.com/generate_204")
	v.SetDefault("resources.probe_timeout", "10s")

	v.SetDefault("extract.confidence_floor", extract.DefaultConfidenceFloor)
	v.SetDefault("extract.rules_file", "")

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.sqlite.path", "signalscan.db")

	v.SetDefault("notify.sinks", []string{SinkLog})
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.timeout", "10s")
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "")

	v.SetDefault("classifier.enabled", false)
	v.SetDefault("classifier.api_key", "")
	v.SetDefault("classifier.max_chars", 4000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.Scan.validate(); err != nil {
		return err
	}
	if len(c.Strategies.Job) == 0 && len(c.Strategies.Hire) == 0 {
		return fmt.Errorf("strategies.job or strategies.hire must list at least one strategy")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Resources.FailureThreshold <= 0 {
		return fmt.Errorf("resources.failure_threshold must be > 0")
	}
	if c.Resources.ProbeInterval <= 0 {
		return fmt.Errorf("resources.probe_interval must be > 0")
	}
	if c.Resources.Required && len(c.Resources.Endpoints) == 0 {
		return fmt.Errorf("resources.endpoints must be set when resources are required")
	}
	if c.Extract.ConfidenceFloor < 0 || c.Extract.ConfidenceFloor > 100 {
		return fmt.Errorf("extract.confidence_floor must be between 0 and 100")
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if c.Classifier.Enabled && c.Classifier.APIKey == "" {
		return fmt.Errorf("classifier.api_key must be set when the classifier is enabled")
	}
	return validateCompanies(c.Companies)
}

func (s ScanConfig) validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("scan.batch_size must be > 0")
	}
	if err := s.IntraBatchDelay.validate("scan.intra_batch_delay"); err != nil {
		return err
	}
	if err := s.InterBatchDelay.validate("scan.inter_batch_delay"); err != nil {
		return err
	}
	if s.StrategyTimeout <= 0 {
		return fmt.Errorf("scan.strategy_timeout must be > 0")
	}
	if s.NotifyTimeout <= 0 {
		return fmt.Errorf("scan.notify_timeout must be > 0")
	}
	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("scan.retry.max_attempts must be >= 1")
	}
	return nil
}

func (r DelayRange) validate(key string) error {
	if r.Min < 0 || r.Max < 0 {
		return fmt.Errorf("%s must not be negative", key)
	}
	if r.Max < r.Min {
		return fmt.Errorf("%s.max must be >= %s.min", key, key)
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Backend {
	case BackendMemory:
	case BackendPostgres:
		if s.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
		}
	case BackendSQLite:
		if s.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, postgres, sqlite (got %q)", s.Backend)
	}
	return nil
}

func (n NotifyConfig) validate() error {
	for _, sink := range n.Sinks {
		switch sink {
		case SinkLog:
		case SinkWebhook:
			if n.Webhook.URL == "" {
				return fmt.Errorf("notify.webhook.url must be set when the webhook sink is enabled")
			}
		case SinkPubSub:
			if n.PubSub.ProjectID == "" || n.PubSub.Topic == "" {
				return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic must be set when the pubsub sink is enabled")
			}
		default:
			return fmt.Errorf("notify.sinks: unknown sink %q", sink)
		}
	}
	return nil
}

func validateCompanies(companies []CompanyConfig) error {
	seen := make(map[string]struct{}, len(companies))
	for i, c := range companies {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("companies[%d].name must be set", i)
		}
		id := c.companyID()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("companies[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (c CompanyConfig) companyID() string {
	if c.ID != "" {
		return c.ID
	}
	return strings.Join(strings.Fields(strings.ToLower(c.Name)), "-")
}

// Roster converts the configured companies into scanner roster entries.
// Entries without an id get one derived from the name.
func (c Config) Roster() []signals.Company {
	out := make([]signals.Company, 0, len(c.Companies))
	for _, cc := range c.Companies {
		out = append(out, signals.Company{
			ID:         cc.companyID(),
			Name:       strings.TrimSpace(cc.Name),
			ProfileURL: cc.ProfileURL,
			CareerURL:  cc.CareerURL,
			Website:    cc.Website,
			Active:     !cc.Disabled,
		})
	}
	return out
}

// ChainOrder returns the configured strategy order for a detection type.
func (c Config) ChainOrder(kind signals.DetectionType) []string {
	if kind == signals.DetectionHire {
		return c.Strategies.Hire
	}
	return c.Strategies.Job
}
