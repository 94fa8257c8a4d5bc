// Package sqlite provides an embedded signals.Store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// Store implements signals.Store using a single SQLite file.
type Store struct {
	db  *sql.DB
	ids signals.IDGenerator
}

// New opens a SQLite database at the given path and configures WAL mode.
func New(dsn string, ids signals.IDGenerator) (*Store, error) {
	if ids == nil {
		return nil, eris.New("sqlite: id generator is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &Store{db: db, ids: ids}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS companies (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	profile_url     TEXT NOT NULL DEFAULT '',
	career_url      TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	active          INTEGER NOT NULL DEFAULT 1,
	last_scanned_at TEXT
);

CREATE TABLE IF NOT EXISTS candidates (
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
	discovered_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dedup_keys (
	digest     TEXT PRIMARY KEY,
	key        TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_candidates_digest ON candidates(dedup_digest);
CREATE INDEX IF NOT EXISTS idx_candidates_company ON candidates(company);
`

// Migrate creates the schema when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertCompany inserts or refreshes a roster entry.
func (s *Store) UpsertCompany(ctx context.Context, c signals.Company) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (id, name, profile_url, career_url, website, active)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			profile_url = excluded.profile_url,
			career_url = excluded.career_url,
			website = excluded.website,
			active = excluded.active`,
		c.ID, c.Name, c.ProfileURL, c.CareerURL, c.Website, c.Active,
	)
	return eris.Wrapf(err, "sqlite: upsert company %s", c.ID)
}

// MarkScanned stamps the company's last scan time.
func (s *Store) MarkScanned(ctx context.Context, companyID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET last_scanned_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), companyID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark scanned %s", companyID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: company %s not found", companyID)
	}
	return nil
}

// ListCompanies returns active companies ordered by name.
func (s *Store) ListCompanies(ctx context.Context) ([]signals.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, profile_url, career_url, website, active, last_scanned_at
		 FROM companies WHERE active = 1 ORDER BY name, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close() //nolint:errcheck

	var out []signals.Company
	for rows.Next() {
		var (
			c       signals.Company
			scanned sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.ProfileURL, &c.CareerURL, &c.Website, &c.Active, &scanned); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		if scanned.Valid {
			ts, err := time.Parse(time.RFC3339Nano, scanned.String)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: parse last_scanned_at for %s", c.ID)
			}
			c.LastScannedAt = &ts
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate companies")
}

// SaveCandidate inserts the candidate and returns its id. A candidate whose
// dedup digest is already stored keeps its original row and id.
func (s *Store) SaveCandidate(ctx context.Context, c signals.Candidate) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", eris.Wrap(err, "sqlite: candidate id")
	}
	var stored string
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO candidates (
			id, type, dedup_digest, company, title, location, person_name, position,
			url, profile_url, evidence, source, strategy, pattern, confidence, discovered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dedup_digest) DO UPDATE SET dedup_digest = excluded.dedup_digest
		RETURNING id`,
		id, string(c.Type), c.Key().Digest(), c.Company, c.Title, c.Location, c.PersonName, c.Position,
		c.URL, c.ProfileURL, c.Evidence, string(c.Source), c.Strategy, c.Pattern, c.Confidence,
		c.DiscoveredAt.UTC().Format(time.RFC3339Nano),
	).Scan(&stored)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert candidate")
	}
	return stored, nil
}

// CountCandidates returns the number of stored candidates of the given type.
func (s *Store) CountCandidates(ctx context.Context, kind signals.DetectionType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candidates WHERE type = ?`, string(kind)).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count candidates")
}

// LoadDedupKeys returns every persisted key in insertion order.
func (s *Store) LoadDedupKeys(ctx context.Context) ([]signals.DedupKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM dedup_keys ORDER BY rowid`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load dedup keys")
	}
	defer rows.Close() //nolint:errcheck

	var out []signals.DedupKey
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dedup key")
		}
		out = append(out, signals.DedupKey(key))
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate dedup keys")
}

// AppendDedupKey records the key. Appending an existing key is a no-op.
func (s *Store) AppendDedupKey(ctx context.Context, key signals.DedupKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_keys (digest, key, type) VALUES (?, ?, ?) ON CONFLICT(digest) DO NOTHING`,
		key.Digest(), key.String(), string(key.Type()),
	)
	return eris.Wrap(err, "sqlite: append dedup key")
}
