package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/storebot/core/config"
)

func TestScanMigrationsOrdersUpFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000010_order_index.up.sql",
		"000002_order_deliveries.up.sql",
		"000001_create_orders.up.sql",
		"000001_create_orders.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.up.sql"), 0o755))

	set := scanMigrations(dir)
	assert.Equal(t, []string{
		"000001_create_orders.up.sql",
		"000002_order_deliveries.up.sql",
		"000010_order_index.up.sql",
	}, set.names())
	assert.Equal(t, []string{"000002_order_deliveries.up.sql", "000010_order_index.up.sql"}, set.between(1, 10).names())
	assert.Empty(t, set.between(10, 10))
	assert.Nil(t, scanMigrations(filepath.Join(dir, "absent")))
}

func TestRepoMigrationsAreVersioned(t *testing.T) {
	set := scanMigrations(filepath.Join("..", "..", "migrations"))
	require.NotEmpty(t, set)
	for _, f := range set {
		assert.NotZero(t, f.Version, f.Name)
	}
}

func TestDSNRendering(t *testing.T) {
	cfg := coreconfig.DatabaseConfig{
		Host:     "db",
		Port:     "5432",
		User:     "shop",
		Password: "p@ss wo'rd",
		Name:     "orders",
		SSLMode:  "disable",
	}

	assert.Equal(t, `user=shop password='p@ss wo\'rd' host=db port=5432 dbname=orders sslmode=disable`, KeywordDSN(cfg))
	cfg.Password = "p@ss word"
	assert.Equal(t, "postgres://shop:p%40ss%20word@db:5432/orders?sslmode=disable", URLDSN(cfg))

	cfg.SSLMode, cfg.Password = "", ""
	assert.Equal(t, "user=shop host=db port=5432 dbname=orders", KeywordDSN(cfg))
}

func TestResolveMigrationsDirDefaults(t *testing.T) {
	dir, err := resolveMigrationsDir("")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
	assert.Equal(t, "migrations", filepath.Base(dir))
}

func TestPingUntilReadyGivesUp(t *testing.T) {
	db, err := sqlx.Open(driverName, "host=127.0.0.1 port=1 user=x dbname=x sslmode=disable connect_timeout=1")
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	n, err := pingUntilReady(ctx, db, time.Second)
	assert.Error(t, err)
	assert.GreaterOrEqual(t, n, 1)
}
