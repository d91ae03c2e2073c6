package database

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolStatsCollector_Describe(t *testing.T) {
	c := NewPoolStatsCollector(nil, "catalogsync")

	ch := make(chan *prometheus.Desc, 20)
	c.Describe(ch)
	close(ch)

	var names []string
	for d := range ch {
		names = append(names, d.String())
	}
	require.Len(t, names, 8)

	for _, want := range []string{
		"db_pool_acquired_connections",
		"db_pool_total_connections",
		"db_pool_acquire_duration_seconds_total",
		"db_pool_new_connections_total",
	} {
		found := false
		for _, n := range names {
			if strings.Contains(n, want) {
				found = true
				break
			}
		}
		assert.True(t, found, "missing descriptor %s", want)
	}
}

func TestPoolStatsCollector_NilSourceCollectsNothing(t *testing.T) {
	c := NewPoolStatsCollector(nil, "catalogsync")
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestPoolStatsCollector_CollectFromPool(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://u:p@127.0.0.1:1/db?sslmode=disable")
	require.NoError(t, err)
	cfg.MaxConns = 7

	// No connection is made until the pool is used.
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer pool.Close()

	c := NewPoolStatsCollector(pool, "catalogsync")
	assert.Equal(t, 8, testutil.CollectAndCount(c))
	assert.Equal(t, 8, testutil.CollectAndCount(c, "db_pool_max_connections", "db_pool_acquired_connections",
		"db_pool_idle_connections", "db_pool_total_connections", "db_pool_acquire_count_total",
		"db_pool_acquire_duration_seconds_total", "db_pool_empty_acquire_count_total", "db_pool_new_connections_total"))
}

func TestRegisterPoolMetrics_Duplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPoolMetrics(reg, nil, "catalogsync"))
	assert.Error(t, RegisterPoolMetrics(reg, nil, "catalogsync"))
}
