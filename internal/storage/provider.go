// Package storage opens the configured signals.Store backend and seeds it
// with the company roster. The backends themselves live in the memory,
// postgres and sqlite subpackages.
package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/config"
	"github.com/JakeFAU/signal-scanner/internal/signals"
	"github.com/JakeFAU/signal-scanner/internal/storage/memory"
	"github.com/JakeFAU/signal-scanner/internal/storage/postgres"
	"github.com/JakeFAU/signal-scanner/internal/storage/sqlite"
)

// Provider is a signals.Store that owns resources released by Close.
type Provider interface {
	signals.Store
	Close() error
}

type rosterWriter interface {
	UpsertCompany(ctx context.Context, c signals.Company) error
}

// Open returns the backend named by cfg.Backend with its schema migrated
// and every roster company upserted.
func Open(
	ctx context.Context,
	cfg config.StorageConfig,
	ids signals.IDGenerator,
	roster []signals.Company,
	logger *zap.Logger,
) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case config.BackendPostgres:
		logger.Info("using postgres storage backend", zap.String("table_prefix", cfg.Postgres.TablePrefix))
		st, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			TablePrefix:     cfg.Postgres.TablePrefix,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		}, ids)
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		p := &closer{Store: st, close: func() error { st.Close(); return nil }}
		if err := prepare(ctx, st, st.Migrate, roster); err != nil {
			_ = p.Close()
			return nil, err
		}
		return p, nil
	case config.BackendSQLite:
		logger.Info("using sqlite storage backend", zap.String("path", cfg.SQLite.Path))
		st, err := sqlite.New(cfg.SQLite.Path, ids)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		p := &closer{Store: st, close: st.Close}
		if err := prepare(ctx, st, st.Migrate, roster); err != nil {
			_ = p.Close()
			return nil, err
		}
		return p, nil
	case config.BackendMemory, "":
		logger.Info("using in-memory storage backend")
		st, err := memory.NewStore(ids, roster...)
		if err != nil {
			return nil, fmt.Errorf("memory store init failed: %w", err)
		}
		return &closer{Store: st}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func prepare(ctx context.Context, w rosterWriter, migrate func(context.Context) error, roster []signals.Company) error {
	if err := migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	for _, c := range roster {
		if err := w.UpsertCompany(ctx, c); err != nil {
			return fmt.Errorf("seed company %s: %w", c.ID, err)
		}
	}
	return nil
}

// closer pairs a backend with its close function.
type closer struct {
	signals.Store
	close func() error
}

func (c *closer) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

type scanMarker interface {
	MarkScanned(ctx context.Context, companyID string, at time.Time) error
}

// MarkScanned forwards to the backend when it tracks scan times.
func (c *closer) MarkScanned(ctx context.Context, companyID string, at time.Time) error {
	if m, ok := c.Store.(scanMarker); ok {
		return m.MarkScanned(ctx, companyID, at)
	}
	return nil
}
