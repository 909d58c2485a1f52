// Package database opens the Postgres pool used for the order log and
// applies schema migrations.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	coreconfig "github.com/m3rciful/storebot/core/config"
	"github.com/m3rciful/storebot/core/logger"
)

const (
	driverName     = "postgres"
	connectTimeout = 30 * time.Second
	retryEvery     = 2 * time.Second
)

// KeywordDSN renders cfg as a libpq keyword/value string. Values are quoted
// so passwords may contain spaces.
func KeywordDSN(cfg coreconfig.DatabaseConfig) string {
	pairs := []struct{ k, v string }{
		{"user", cfg.User},
		{"password", cfg.Password},
		{"host", cfg.Host},
		{"port", cfg.Port},
		{"dbname", cfg.Name},
		{"sslmode", cfg.SSLMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.v == "" {
			continue
		}
		parts = append(parts, p.k+"="+quoteDSN(p.v))
	}
	return strings.Join(parts, " ")
}

func quoteDSN(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
	return "'" + v + "'"
}

// URLDSN renders cfg as the postgres:// URL golang-migrate expects.
func URLDSN(cfg coreconfig.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, cfg.Port),
		Path:   "/" + cfg.Name,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

// Connect opens the pool and pings until the server answers, ctx is done or
// connectTimeout passes. Containers often start before their database.
func Connect(ctx context.Context, cfg coreconfig.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, KeywordDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	start := time.Now()
	attempts, err := pingUntilReady(ctx, db, connectTimeout)
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", cfg.Name),
		slog.Int("pool_open", cfg.MaxConnections),
		slog.Int("attempts", attempts),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		_ = db.Close()
		logger.LogEvent(ctx, logger.DB, slog.LevelError, "db.connect",
			append(attrs, slog.String("err", err.Error()))...)
		return nil, fmt.Errorf("db connect: %w", err)
	}
	logger.LogEvent(ctx, logger.DB, slog.LevelInfo, "db.connect", attrs...)
	return db, nil
}

func pingUntilReady(ctx context.Context, db *sqlx.DB, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(retryEvery)
	defer tick.Stop()
	for n := 1; ; n++ {
		err := db.PingContext(ctx)
		if err == nil {
			return n, nil
		}
		logger.LogEvent(ctx, logger.DB, slog.LevelDebug, "db.ping",
			slog.String("status", "retry"),
			slog.Int("attempts", n),
			slog.String("err", err.Error()),
		)
		select {
		case <-ctx.Done():
			return n, fmt.Errorf("database not ready: %w", err)
		case <-tick.C:
		}
	}
}
