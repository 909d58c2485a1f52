package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	coreconfig "github.com/m3rciful/storebot/core/config"
	coredatabase "github.com/m3rciful/storebot/core/database"
	"github.com/m3rciful/storebot/core/logger"
)

// Options control the bootstrap pipeline. Nil hooks fall back to the real implementations.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error)
	Migrate    func(context.Context, coreconfig.DatabaseConfig) error
	NewRedis   func(coreconfig.SessionsConfig) redis.UniversalClient
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
// DB is nil unless database.enabled; Redis is nil unless sessions.backend is redis.
type Result struct {
	DB    *sqlx.DB
	Redis redis.UniversalClient
}

// Close releases the connections held by r.
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}

// Run initializes the logger, then the optional Postgres audit database with
// its migrations, then the optional Redis session backend.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	res := &Result{}

	if cfg.Database.Enabled {
		connect := opts.Connect
		if connect == nil {
			connect = coredatabase.Connect
		}
		db, err := connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
		}

		migrate := opts.Migrate
		if migrate == nil {
			migrate = coredatabase.RunMigrations
		}
		if err := migrate(ctx, cfg.Database); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
		res.DB = db
	} else {
		logger.DB.Info("database disabled",
			slog.String("event", "db.skip"),
			slog.String("status", "skip"),
		)
	}

	if cfg.Sessions.Backend == coreconfig.BackendRedis {
		newRedis := opts.NewRedis
		if newRedis == nil {
			newRedis = NewRedisClient
		}
		client := newRedis(cfg.Sessions)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			_ = res.Close()
			logger.STORE.Error("redis ping failed",
				slog.String("event", "redis.connect"),
				slog.String("addr", cfg.Sessions.RedisAddr),
				slog.String("err", err.Error()),
			)
			return nil, fmt.Errorf("bootstrap: redis initialization failed: %w", err)
		}
		logger.STORE.Info("redis connected",
			slog.String("event", "redis.connect"),
			slog.String("addr", cfg.Sessions.RedisAddr),
			slog.Int("db", cfg.Sessions.RedisDB),
		)
		res.Redis = client
	}

	return res, nil
}

// NewRedisClient builds a go-redis client from the sessions section.
func NewRedisClient(cfg coreconfig.SessionsConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
