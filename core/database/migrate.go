package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	coreconfig "github.com/m3rciful/storebot/core/config"
	"github.com/m3rciful/storebot/core/logger"
)

const previewLimit = 6

// migrationFile is one "<version>_<name>.up.sql" file.
type migrationFile struct {
	Version uint64
	Name    string
}

type migrationSet []migrationFile

// scanMigrations lists the up files in dir ordered by version. A missing
// directory yields an empty set.
func scanMigrations(dir string) migrationSet {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var set migrationSet
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		v, _ := strconv.ParseUint(prefix, 10, 64)
		set = append(set, migrationFile{Version: v, Name: name})
	}
	sort.Slice(set, func(i, j int) bool {
		if set[i].Version != set[j].Version {
			return set[i].Version < set[j].Version
		}
		return set[i].Name < set[j].Name
	})
	return set
}

// between returns the files with from < version <= to.
func (s migrationSet) between(from, to uint64) migrationSet {
	var out migrationSet
	for _, f := range s {
		if f.Version > from && f.Version <= to {
			out = append(out, f)
		}
	}
	return out
}

func (s migrationSet) names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// RunMigrations applies every pending up migration from cfg.MigrationsDir.
func RunMigrations(ctx context.Context, cfg coreconfig.DatabaseConfig) error {
	dir, err := resolveMigrationsDir(cfg.MigrationsDir)
	if err != nil {
		return err
	}
	files := scanMigrations(dir)
	preview, truncated := logger.SummarizeStrings(files.names(), previewLimit)
	logger.LogEvent(ctx, logger.MIG, slog.LevelDebug, "db.migrate.resolve",
		slog.String("path", dir),
		slog.Int("files", len(files)),
		slog.String("files_preview", preview),
		slog.Bool("files_truncated", truncated),
	)

	m, err := migrate.New("file://"+filepath.ToSlash(dir), URLDSN(cfg))
	if err != nil {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("migrate init: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.LogEvent(ctx, logger.MIG, slog.LevelWarn, "db.migrate.close",
				slog.String("err", errors.Join(srcErr, dbErr).Error()),
			)
		}
	}()

	from := currentVersion(m)
	start := time.Now()
	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate",
			slog.String("status", "fail"),
			slog.Uint64("from_ver", from),
			slog.String("err", upErr.Error()),
			slog.Duration("duration", logger.Took(start)),
		)
		return fmt.Errorf("migrate up: %w", upErr)
	}

	to := currentVersion(m)
	applied := files.between(from, to)
	status := "ok"
	if len(applied) == 0 {
		status = "skip"
	}
	preview, truncated = logger.SummarizeStrings(applied.names(), previewLimit)
	logger.LogEvent(ctx, logger.MIG, slog.LevelInfo, "db.migrate",
		slog.String("status", status),
		slog.Uint64("from_ver", from),
		slog.Uint64("to_ver", to),
		slog.Int("files", len(applied)),
		slog.String("files_preview", preview),
		slog.Bool("files_truncated", truncated),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// currentVersion is 0 on a fresh database.
func currentVersion(m *migrate.Migrate) uint64 {
	v, _, err := m.Version()
	if err != nil {
		return 0
	}
	return uint64(v)
}

func resolveMigrationsDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "migrations"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve migrations dir: %w", err)
	}
	return abs, nil
}
