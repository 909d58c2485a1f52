package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/storebot/core/config"
)

func noLogger(*coreconfig.Config) error { return nil }

func lazyDB(t *testing.T) *sqlx.DB {
	t.Helper()
	// sqlx.Open does not dial; the handle is only closed.
	db, err := sqlx.Open("postgres", "host=127.0.0.1 dbname=shop sslmode=disable")
	require.NoError(t, err)
	return db
}

func TestRunSkipsDisabledDatabase(t *testing.T) {
	cfg := &coreconfig.Config{Sessions: coreconfig.SessionsConfig{Backend: coreconfig.BackendMemory}}
	res, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect: func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error) {
			t.Fatal("connect must not be called")
			return nil, nil
		},
	})
	require.NoError(t, err)
	assert.Nil(t, res.DB)
	assert.Nil(t, res.Redis)
	assert.NoError(t, res.Close())
}

func TestRunConnectsAndMigrates(t *testing.T) {
	cfg := &coreconfig.Config{Database: coreconfig.DatabaseConfig{Enabled: true, Host: "db", Name: "shop"}}
	var migrated bool
	res, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect: func(_ context.Context, dc coreconfig.DatabaseConfig) (*sqlx.DB, error) {
			assert.Equal(t, "shop", dc.Name)
			return lazyDB(t), nil
		},
		Migrate: func(context.Context, coreconfig.DatabaseConfig) error {
			migrated = true
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.NotNil(t, res.DB)
	assert.NoError(t, res.Close())
}

func TestRunFailsOnMigrationError(t *testing.T) {
	cfg := &coreconfig.Config{Database: coreconfig.DatabaseConfig{Enabled: true}}
	boom := errors.New("dirty database version 1")
	_, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect: func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error) {
			return lazyDB(t), nil
		},
		Migrate: func(context.Context, coreconfig.DatabaseConfig) error { return boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunConnectsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &coreconfig.Config{Sessions: coreconfig.SessionsConfig{Backend: coreconfig.BackendRedis, RedisAddr: mr.Addr()}}

	res, err := Run(context.Background(), Options{Config: cfg, LoggerInit: noLogger})
	require.NoError(t, err)
	require.NotNil(t, res.Redis)
	require.NoError(t, res.Redis.Set(context.Background(), "k", "v", 0).Err())
	assert.NoError(t, res.Close())
}

func TestRunFailsWhenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := &coreconfig.Config{Sessions: coreconfig.SessionsConfig{Backend: coreconfig.BackendRedis, RedisAddr: addr}}
	_, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		NewRedis: func(sc coreconfig.SessionsConfig) redis.UniversalClient {
			return redis.NewClient(&redis.Options{Addr: sc.RedisAddr, MaxRetries: -1})
		},
	})
	assert.Error(t, err)
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	assert.Error(t, err)

	_, err = Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return errors.New("bad log dir") },
	})
	assert.Error(t, err)
}
