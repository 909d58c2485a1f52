package router

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/storebot/core/logger"
	tghelpers "github.com/m3rciful/storebot/core/telegram/helpers"
	"github.com/m3rciful/storebot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// summarized runs next and writes one handler.handled line for it.
func summarized(name string, next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		start := time.Now()
		ctx := tghelpers.WithHandler(c, name)
		err := next(c)

		msgs, kb := middleware.GetCounters(c)
		attrs := []slog.Attr{
			slog.String("status", logger.Status(err)),
			slog.String("outcome", logger.Status(err)),
			slog.Int("messages", msgs),
			slog.Bool("kb", kb),
			slog.Duration("duration", logger.Took(start)),
		}
		level := slog.LevelInfo
		if err != nil {
			level = slog.LevelWarn
			attrs = append(attrs,
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
				slog.String("err_code", errorCode(err)),
			)
		}
		logger.LogEvent(ctx, logger.TG, level, "handler.handled", attrs...)
		return err
	}
}

// normalizeHandlerName turns "/Open Shop" into "open_shop".
func normalizeHandlerName(name string) string {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
	if name == "" {
		return "unknown"
	}
	return strings.ReplaceAll(name, " ", "_")
}

// errorCode prefers an explicit Code() on the error chain and falls back to
// the concrete type name.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := strings.TrimSpace(coded.Code()); code != "" {
			return upperSnake(code)
		}
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "UNKNOWN_ERROR"
	}
	return upperSnake(t.Name())
}

func upperSnake(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, " ", "_"))
}
