//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgresHistory(t *testing.T) *PostgresHistory {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	cfg, err := pgxpool.ParseConfig(dbURL)
	require.NoError(t, err)
	cfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	h := &PostgresHistory{pool: pool, timeout: 5 * time.Second}
	require.NoError(t, h.initSchema(ctx))
	t.Cleanup(func() { h.Close() })
	return h
}

func TestIntegration_PostgresHistoryRoundTrip(t *testing.T) {
	h := setupPostgresHistory(t)
	ctx := context.Background()
	user := "integration-" + uuid.NewString()[:8] + "@example.com"

	require.NoError(t, h.SaveChat(ctx, user, "first", "1"))
	require.NoError(t, h.SaveChat(ctx, user, "second", "2"))

	records, err := h.GetUserHistory(ctx, user, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "second", records[0].Question)
	assert.Equal(t, "2", records[0].Answer)

	all, err := h.GetUserHistory(ctx, user, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[1].Timestamp.After(all[0].Timestamp))
}

func TestIntegration_PostgresHistoryUserScope(t *testing.T) {
	h := setupPostgresHistory(t)
	ctx := context.Background()
	user := "integration-" + uuid.NewString()[:8] + "@example.com"

	records, err := h.GetUserHistory(ctx, user, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
