// Package logger is the process-wide structured logger. Lines are flat JSON
// or key=value records with a fixed leading key order, written asynchronously
// to stdout and an optional file.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/storebot/core/buildinfo"
	coreconfig "github.com/m3rciful/storebot/core/config"
)

const defaultDebugSample = "1/50"

var (
	initOnce sync.Once
	closeMu  sync.Mutex
	closed   bool

	out     *asyncWriter
	files   []io.Closer
	level   slog.LevelVar
	sampler = newRatioSampler(1, 50)
	trace   bool

	// L is the base logger; component loggers below derive from it.
	L *slog.Logger

	DB     *slog.Logger // database connections
	MIG    *slog.Logger // schema migrations
	TG     *slog.Logger // Telegram transport
	TWire  *slog.Logger // Telegram wiring
	HTTP   *slog.Logger // storefront API
	ORDERS *slog.Logger // order relay
	STORE  *slog.Logger // session store
)

func init() {
	L = slog.Default()
	deriveComponents()
}

// options is the resolved logging section of the config.
type options struct {
	format  logFormat
	order   []string
	level   slog.Level
	profile string
	sample  string
	file    string
}

func resolveOptions(cfg *coreconfig.Config) options {
	o := options{
		format:  formatJSON,
		order:   append([]string(nil), defaultKeyOrder...),
		level:   slog.LevelInfo,
		profile: "prod",
		sample:  defaultDebugSample,
	}
	if cfg == nil {
		return o
	}
	lc := cfg.Logging
	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		o.profile = p
	}
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		o.format = formatKV
	case "json":
	default:
		if o.profile == "debug" || o.profile == "dev" {
			o.format = formatKV
		}
	}
	if keys := splitKeys(lc.KeysOrder); len(keys) > 0 {
		o.order = keys
	}
	switch strings.ToLower(strings.TrimSpace(lc.Level)) {
	case "debug":
		o.level = slog.LevelDebug
	case "warn", "warning":
		o.level = slog.LevelWarn
	case "error":
		o.level = slog.LevelError
	}
	if s := strings.TrimSpace(lc.DebugSample); s != "" {
		o.sample = s
	}
	if dir, file := strings.TrimSpace(lc.Dir), strings.TrimSpace(lc.File); dir != "" && file != "" {
		o.file = filepath.Join(dir, file)
	}
	return o
}

func splitKeys(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "default" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// InitLogger installs the structured logger. Only the first call has effect.
func InitLogger(cfg *coreconfig.Config) error {
	var err error
	initOnce.Do(func() {
		o := resolveOptions(cfg)
		level.Set(o.level)
		num, den := parseRatioSpec(o.sample)
		sampler.Set(num, den)
		trace = truthy(os.Getenv("TRACE")) || truthy(os.Getenv("LOG_TRACE"))

		sinks := []io.Writer{os.Stdout}
		if o.file != "" {
			f, ferr := openLogFile(o.file)
			if ferr != nil {
				err = ferr
				return
			}
			sinks = append(sinks, f)
			files = append(files, f)
		}
		out = newAsyncWriter(sinks, 64*1024)

		L = slog.New(newStructuredHandler(handlerConfig{
			level:    &level,
			writer:   out,
			format:   o.format,
			keyOrder: o.order,
		}))
		slog.SetDefault(L)
		deriveComponents()
		logStartup(cfg, o)
	})
	return err
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logger: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open log file: %w", err)
	}
	return f, nil
}

func deriveComponents() {
	DB = L.With("component", "db")
	MIG = L.With("component", "db.migrate")
	TG = L.With("component", "tg")
	TWire = L.With("component", "tg.wire")
	HTTP = L.With("component", "http")
	ORDERS = L.With("component", "service.orders")
	STORE = L.With("component", "session.store")
}

func logStartup(cfg *coreconfig.Config, o options) {
	attrs := []slog.Attr{
		slog.String("go_version", runtime.Version()),
		slog.String("version", buildinfo.Version),
		slog.String("build_commit", buildinfo.Commit),
		slog.String("build_time", buildinfo.Date),
		slog.String("cfg_profile", o.profile),
	}
	if cfg != nil {
		attrs = append(attrs,
			slog.String("mode", cfg.Telegram.RunMode),
			slog.String("sessions", cfg.Sessions.Backend),
			slog.Int("admins", len(cfg.Admins)),
		)
	}
	Info(context.Background(), "app", "startup", attrs...)
}

// Shutdown flushes pending lines and closes the log file. Later calls are no-ops.
func Shutdown() error {
	closeMu.Lock()
	defer closeMu.Unlock()
	if closed {
		return nil
	}
	closed = true

	var errs []error
	if out != nil {
		errs = append(errs, out.Close())
	}
	for _, c := range files {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Background is the context for log calls made outside any request.
func Background() context.Context {
	return context.Background()
}

// LogEvent writes one record with event as its leading attribute. A nil logg
// falls back to the logger stored in ctx.
func LogEvent(ctx context.Context, logg *slog.Logger, lvl slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = FromContext(ctx)
	}
	if logg == nil {
		return
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, lvl, "", attrs...)
}

// Component returns L scoped to name.
func Component(name string) *slog.Logger {
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

func Event(ctx context.Context, component string, lvl slog.Level, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), lvl, event, attrs...)
}

func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelDebug, event, attrs...)
}

func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelInfo, event, attrs...)
}

func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelWarn, event, attrs...)
}

func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelError, event, attrs...)
}

// ShouldSampleDebug reports whether a high-volume debug record should be
// emitted. TRACE=1 lets every record through.
func ShouldSampleDebug() bool {
	return trace || sampler.Allow()
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
