package container

import (
	"context"
	"testing"

	"abstats/internal"
	"abstats/internal/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{URL: "postgres://abstats@127.0.0.1:1/abstats?sslmode=disable", MaxOpenConns: 1},
		Server:   config.ServerConfig{Port: "8080", GinMode: "test"},
		Ops:      config.OpsConfig{Port: "9090", Enabled: true},
		Log:      config.LogConfig{Level: "ERROR", Format: "text"},
		Engine:   config.DefaultEngineConfig(),
	}
}

// lazyDB returns a handle that never connects unless a query runs
func lazyDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("postgres", testConfig().Database.URL)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestInitWithDatabaseWiresServices(t *testing.T) {
	c, err := New(testConfig(), internal.NopLogger())
	require.NoError(t, err)
	assert.Error(t, c.InitWithDatabase(context.Background(), nil))

	require.NoError(t, c.InitWithDatabase(context.Background(), lazyDB(t)))
	s := c.Services
	assert.NotNil(t, s.Registry)
	assert.NotNil(t, s.Events)
	assert.NotNil(t, s.Frequentist)
	assert.NotNil(t, s.Bayesian)
	assert.NotNil(t, s.Sequential)
	assert.NotNil(t, s.Bandit)
	assert.NotNil(t, s.Power)
	assert.NotNil(t, s.Reports)
	assert.Nil(t, c.Redis)
	assert.NotNil(t, c.APIServer().Handler())
}

func TestUnreachableCacheIsSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.RedisURL = "redis://127.0.0.1:1/0"
	c, err := New(cfg, internal.NopLogger())
	require.NoError(t, err)

	require.NoError(t, c.InitWithDatabase(context.Background(), lazyDB(t)))
	assert.Nil(t, c.Redis)
	assert.NotNil(t, c.Services.Registry)
}
