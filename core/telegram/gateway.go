package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/storebot/core/logger"
	"github.com/m3rciful/storebot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

// ErrGatewayNotReady is returned when sending before a bot client exists.
var ErrGatewayNotReady = errors.New("telegram: gateway not ready")

// ChatRecipient addresses a chat by numeric ID or @username.
type ChatRecipient string

// Recipient implements tele.Recipient.
func (r ChatRecipient) Recipient() string {
	return strings.TrimSpace(string(r))
}

// MessageSender is the subset of *tele.Bot used by Gateway.
type MessageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// SendError wraps a failed outbound message. Its text never contains the bot token.
type SendError struct {
	Recipient string
	Kind      string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("telegram: send to %s failed (%s): %s", e.Recipient, e.Kind, netutil.SanitizeError(e.Err))
}

func (e *SendError) Unwrap() error { return e.Err }

// Gateway sends HTML messages synchronously, one call per recipient.
type Gateway struct {
	api MessageSender
}

// NewGateway wraps a bot client (normally *tele.Bot).
func NewGateway(api MessageSender) *Gateway {
	return &Gateway{api: api}
}

// SendHTML delivers text with HTML parse mode to recipient.
func (g *Gateway) SendHTML(ctx context.Context, recipient, text string) error {
	if g == nil || g.api == nil {
		return ErrGatewayNotReady
	}
	to := ChatRecipient(recipient)
	if to.Recipient() == "" {
		return fmt.Errorf("telegram: empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	_, err := g.api.Send(to, text, &tele.SendOptions{ParseMode: tele.ModeHTML})
	if err != nil {
		sendErr := &SendError{Recipient: to.Recipient(), Kind: string(netutil.ClassifyError(err)), Err: err}
		logger.Debug(ctx, "tg.gateway", "send.fail",
			slog.String("recipient", to.Recipient()),
			slog.String("error_kind", sendErr.Kind),
			slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
		)
		return sendErr
	}
	logger.Debug(ctx, "tg.gateway", "send.success",
		slog.String("recipient", to.Recipient()),
		slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
	)
	return nil
}
