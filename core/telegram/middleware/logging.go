package middleware

import (
	"log/slog"
	"strings"

	"github.com/m3rciful/storebot/core/logger"
	tghelpers "github.com/m3rciful/storebot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// LoggerMiddleware stores the update's correlation context and logs a
// sampled update.received line.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		chatID, userID := tghelpers.Identity(c)

		rid := logger.BuildRID(upd.ID, chatID, userID)
		c.Set("rid", rid)

		ctx := logger.WithRID(logger.Background(), rid)
		ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
		ctx = logger.WithLogger(ctx, logger.TG)
		tghelpers.StoreContext(c, ctx)

		if logger.ShouldSampleDebug() {
			attrs := []slog.Attr{
				slog.String("status", "ok"),
				slog.String("rid", rid),
				slog.Int("update_id", upd.ID),
			}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.Int64("chat_id", chatID))
				attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
			}
			if user := c.Sender(); user != nil {
				attrs = append(attrs, slog.Int64("user_id", userID))
				if user.Username != "" {
					attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
				}
				if user.LanguageCode != "" {
					attrs = append(attrs, slog.String("lang", user.LanguageCode))
				}
			}
			if upd.Message != nil {
				attrs = append(attrs, messageAttrs(upd.Message, c.Text())...)
			}
			logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", attrs...)
		}

		return next(c)
	}
}

// messageAttrs describes the message text. Command payloads are login codes
// and are logged masked.
func messageAttrs(msg *tele.Message, text string) []slog.Attr {
	if text == "" {
		return nil
	}
	if !strings.HasPrefix(text, "/") {
		return []slog.Attr{slog.String("payload", logger.SanitizeLimit(text, 256))}
	}
	cmd, payload, _ := strings.Cut(text, " ")
	if msg.Payload != "" {
		payload = msg.Payload
	}
	attrs := []slog.Attr{slog.String("cmd", logger.SanitizeLimit(cmd, 64))}
	if payload = strings.TrimSpace(payload); payload != "" {
		attrs = append(attrs, slog.String("payload", logger.MaskSecret(payload)))
	}
	return attrs
}
