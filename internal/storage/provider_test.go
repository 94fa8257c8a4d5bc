package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/config"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

type counterIDs struct{ n int }

func (c *counterIDs) NewID() (string, error) {
	c.n++
	return fmt.Sprintf("id-%d", c.n), nil
}

func roster() []signals.Company {
	return []signals.Company{
		{ID: "acme", Name: "Acme", Website: "https://acme.com", Active: true},
		{ID: "beta", Name: "Beta", Active: false},
	}
}

func TestOpenMemorySeedsRoster(t *testing.T) {
	t.Parallel()

	st, err := Open(context.Background(), config.StorageConfig{Backend: config.BackendMemory}, &counterIDs{}, roster(), zap.NewNop())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	companies, err := st.ListCompanies(context.Background())
	require.NoError(t, err)
	require.Len(t, companies, 1)
	require.Equal(t, "acme", companies[0].ID)
}

func TestOpenSQLiteMigratesAndSeeds(t *testing.T) {
	t.Parallel()

	cfg := config.StorageConfig{
		Backend: config.BackendSQLite,
		SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "signals.db")},
	}
	st, err := Open(context.Background(), cfg, &counterIDs{}, roster(), nil)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	ctx := context.Background()
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	marker, ok := st.(interface {
		MarkScanned(context.Context, string, time.Time) error
	})
	require.True(t, ok)
	require.NoError(t, marker.MarkScanned(ctx, "acme", at))

	companies, err := st.ListCompanies(ctx)
	require.NoError(t, err)
	require.Len(t, companies, 1)
	require.NotNil(t, companies[0].LastScannedAt)
	require.True(t, at.Equal(*companies[0].LastScannedAt))

	key := signals.NewJobKey("Engineer", "Acme", "Remote")
	require.NoError(t, st.AppendDedupKey(ctx, key))
	keys, err := st.LoadDedupKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, []signals.DedupKey{key}, keys)
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), config.StorageConfig{Backend: config.BackendPostgres}, &counterIDs{}, nil, nil)
	require.ErrorContains(t, err, "postgres store init failed")
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), config.StorageConfig{Backend: "redis"}, &counterIDs{}, nil, nil)
	require.ErrorContains(t, err, "unknown storage backend")
}
