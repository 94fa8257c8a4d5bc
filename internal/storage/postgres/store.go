// Package postgres provides a Postgres-backed signals.Store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

var validPrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table naming.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

type tables struct {
	companies  string
	candidates string
	dedupKeys  string
}

func tablesFor(prefix string) (tables, error) {
	if prefix != "" && !validPrefix.MatchString(prefix) {
		return tables{}, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return tables{
		companies:  prefix + "companies",
		candidates: prefix + "candidates",
		dedupKeys:  prefix + "dedup_keys",
	}, nil
}

// Store persists companies, candidates and dedup keys in Postgres.
type Store struct {
	pool   pool
	ids    signals.IDGenerator
	tables tables
}

// New connects to Postgres using the provided config.
func New(ctx context.Context, cfg Config, ids signals.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	t, err := tablesFor(cfg.TablePrefix)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, ids: ids, tables: t}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, prefix string, ids signals.IDGenerator) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	t, err := tablesFor(prefix)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, ids: ids, tables: t}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	profile_url     TEXT NOT NULL DEFAULT '',
	career_url      TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	last_scanned_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS %[2]s (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	dedup_digest  TEXT NOT NULL,
	company       TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	person_name   TEXT NOT NULL DEFAULT '',
	position      TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	profile_url   TEXT NOT NULL DEFAULT '',
	evidence      TEXT NOT NULL,
	source        TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	pattern       TEXT NOT NULL,
	confidence    INTEGER NOT NULL,
	discovered_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS %[2]s_digest_key ON %[2]s (dedup_digest);
CREATE TABLE IF NOT EXISTS %[3]s (
	digest     TEXT PRIMARY KEY,
	key        TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`, s.tables.companies, s.tables.candidates, s.tables.dedupKeys)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// UpsertCompany inserts or refreshes a roster entry.
func (s *Store) UpsertCompany(ctx context.Context, c signals.Company) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, profile_url, career_url, website, active)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	profile_url = EXCLUDED.profile_url,
	career_url = EXCLUDED.career_url,
	website = EXCLUDED.website,
	active = EXCLUDED.active`, s.tables.companies)
	if _, err := s.pool.Exec(ctx, query, c.ID, c.Name, c.ProfileURL, c.CareerURL, c.Website, c.Active); err != nil {
		return fmt.Errorf("upsert company %s: %w", c.ID, err)
	}
	return nil
}

// ListCompanies returns active companies ordered by name.
func (s *Store) ListCompanies(ctx context.Context) ([]signals.Company, error) {
	query := fmt.Sprintf(`
SELECT id, name, profile_url, career_url, website, active, last_scanned_at
FROM %s
WHERE active
ORDER BY name, id`, s.tables.companies)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var out []signals.Company
	for rows.Next() {
		var (
			c       signals.Company
			scanned *time.Time
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.ProfileURL, &c.CareerURL, &c.Website, &c.Active, &scanned); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		c.LastScannedAt = scanned
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	return out, nil
}

// MarkScanned stamps the company's last scan time.
func (s *Store) MarkScanned(ctx context.Context, companyID string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET last_scanned_at = $1 WHERE id = $2`, s.tables.companies)
	tag, err := s.pool.Exec(ctx, query, at, companyID)
	if err != nil {
		return fmt.Errorf("mark scanned %s: %w", companyID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark scanned %s: company not found", companyID)
	}
	return nil
}

// SaveCandidate inserts the candidate and returns its id. A candidate whose
// dedup digest is already stored keeps its original row and id.
func (s *Store) SaveCandidate(ctx context.Context, c signals.Candidate) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("candidate id: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	type,
	dedup_digest,
	company,
	title,
	location,
	person_name,
	position,
	url,
	profile_url,
	evidence,
	source,
	strategy,
	pattern,
	confidence,
	discovered_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (dedup_digest) DO UPDATE SET dedup_digest = EXCLUDED.dedup_digest
RETURNING id`, s.tables.candidates)

	args := []any{
		id,
		string(c.Type),
		c.Key().Digest(),
		c.Company,
		c.Title,
		c.Location,
		c.PersonName,
		c.Position,
		c.URL,
		c.ProfileURL,
		c.Evidence,
		string(c.Source),
		c.Strategy,
		c.Pattern,
		c.Confidence,
		c.DiscoveredAt,
	}
	var stored string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&stored); err != nil {
		return "", fmt.Errorf("insert candidate: %w", err)
	}
	return stored, nil
}

// LoadDedupKeys returns every persisted key.
func (s *Store) LoadDedupKeys(ctx context.Context) ([]signals.DedupKey, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT key FROM %s ORDER BY created_at`, s.tables.dedupKeys))
	if err != nil {
		return nil, fmt.Errorf("load dedup keys: %w", err)
	}
	defer rows.Close()

	var out []signals.DedupKey
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan dedup key: %w", err)
		}
		out = append(out, signals.DedupKey(key))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load dedup keys: %w", err)
	}
	return out, nil
}

// AppendDedupKey records the key. Appending an existing key is a no-op.
func (s *Store) AppendDedupKey(ctx context.Context, key signals.DedupKey) error {
	query := fmt.Sprintf(`
INSERT INTO %s (digest, key, type)
VALUES ($1,$2,$3)
ON CONFLICT (digest) DO NOTHING`, s.tables.dedupKeys)
	if _, err := s.pool.Exec(ctx, query, key.Digest(), key.String(), string(key.Type())); err != nil {
		return fmt.Errorf("append dedup key: %w", err)
	}
	return nil
}
