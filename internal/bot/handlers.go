// Package bot implements the Telegram commands of the shop bot.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	coreconfig "github.com/m3rciful/storebot/core/config"
	"github.com/m3rciful/storebot/core/logger"
	tg "github.com/m3rciful/storebot/core/telegram"
	"github.com/m3rciful/storebot/core/telegram/commands"
	"github.com/m3rciful/storebot/core/telegram/format"
	tghelpers "github.com/m3rciful/storebot/core/telegram/helpers"
	"github.com/m3rciful/storebot/core/telegram/keyboard"
	"github.com/m3rciful/storebot/internal/auth"
	"github.com/m3rciful/storebot/internal/session"

	tele "gopkg.in/telebot.v4"
)

const component = "bot"

const retryText = "⚠️ We could not confirm your login right now. Please start it again from the site."

// Authenticator resolves login codes carried by /start.
type Authenticator interface {
	OnGatewayStart(ctx context.Context, payload string, sender session.User) (auth.Outcome, error)
}

// Stats is the /stats snapshot.
type Stats struct {
	PendingSessions int
	Orders          uint64
	Delivered       uint64
	Failed          uint64
	SendErrors      uint64
}

// StatsFunc collects a Stats snapshot.
type StatsFunc func(ctx context.Context) (Stats, error)

// Options configure Handlers.
type Options struct {
	Auth  Authenticator
	Shop  coreconfig.ShopConfig
	Stats StatsFunc
}

// Handlers serves /start and /stats.
type Handlers struct {
	auth  Authenticator
	shop  coreconfig.ShopConfig
	stats StatsFunc
}

// New builds Handlers.
func New(opts Options) (*Handlers, error) {
	if opts.Auth == nil {
		return nil, fmt.Errorf("bot: nil authenticator")
	}
	return &Handlers{auth: opts.Auth, shop: opts.Shop, stats: opts.Stats}, nil
}

// Register adds the bot commands to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	if err := reg.RegisterCommand("/start", commands.Command{
		Handler:     h.Start,
		Description: "Open the shop",
	}); err != nil {
		return err
	}
	if h.stats == nil {
		return nil
	}
	return reg.RegisterCommand("/stats", commands.Command{
		Handler:     h.Stats,
		Description: "Shop statistics",
		AdminOnly:   true,
		Hidden:      true,
	})
}

// Start resolves a login code passed as deep-link payload, or greets the user.
func (h *Handlers) Start(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	user, known := senderUser(c)

	// Without a sender there is no one to log in; fall through to the greeting.
	var payload string
	if msg := c.Message(); msg != nil && known {
		payload = msg.Payload
	}

	outcome, err := h.auth.OnGatewayStart(ctx, payload, user)
	if err != nil {
		logger.Error(ctx, component, "start.resolve_failed",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		if sendErr := tghelpers.SendHTML(c, retryText); sendErr != nil {
			return sendErr
		}
		return err
	}

	logger.Debug(ctx, component, "start.outcome", slog.String("outcome", outcome.String()))
	if outcome == auth.OutcomeAuthenticated {
		return tghelpers.SendHTML(c, h.confirmationText(user.FirstName))
	}
	return tghelpers.SendHTML(c, h.greetingText(user.FirstName), keyboard.WebAppButton("🛍 Open shop", h.shop.URL))
}

// Stats reports pending logins and relay counters to admins.
func (h *Handlers) Stats(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	st, err := h.stats(ctx)
	if err != nil {
		return fmt.Errorf("bot: collect stats: %w", err)
	}
	var b strings.Builder
	b.WriteString(format.Bold("📊 "+format.Escape(h.shop.Name)+" stats") + "\n\n")
	fmt.Fprintf(&b, "%s %d\n", format.Bold("Pending logins:"), st.PendingSessions)
	fmt.Fprintf(&b, "%s %d\n", format.Bold("Orders relayed:"), st.Orders)
	fmt.Fprintf(&b, "%s %d\n", format.Bold("Notifications delivered:"), st.Delivered)
	fmt.Fprintf(&b, "%s %d\n", format.Bold("Notifications failed:"), st.Failed)
	fmt.Fprintf(&b, "%s %d", format.Bold("Reply send errors:"), st.SendErrors)
	return tghelpers.SendHTML(c, b.String())
}

func senderUser(c tele.Context) (session.User, bool) {
	s := c.Sender()
	if s == nil || s.ID == 0 {
		return session.User{}, false
	}
	return session.User{ID: s.ID, FirstName: s.FirstName, Username: s.Username}, true
}

func displayName(first string) string {
	if strings.TrimSpace(first) == "" {
		return "friend"
	}
	return first
}

func (h *Handlers) confirmationText(first string) string {
	shop := format.Escape(h.shop.Name)
	return format.Bold("🤝 Welcome back, "+format.Escape(displayName(first))+"!") + "\n\n" +
		"You have confirmed your login to " + format.Bold("\""+shop+"\"") + ".\n" +
		"Return to the site: your profile is ready for ordering. 🐟"
}

func (h *Handlers) greetingText(first string) string {
	shop := format.Escape(h.shop.Name)
	var b strings.Builder
	b.WriteString(format.Bold("Welcome to \"" + shop + "\", " + format.Escape(displayName(first)) + "! 🎣"))
	if about := strings.TrimSpace(h.shop.About); about != "" {
		b.WriteString("\n\n" + format.Escape(about))
	}
	if h.shop.URL != "" {
		b.WriteString("\n\n🛒 " + format.Bold("Our site:") + " " + format.Link(h.shop.URL, siteLabel(h.shop.URL)))
		b.WriteString("\n\n" + format.Italic("Tap the button below to open the shop right here!"))
	}
	return b.String()
}

func siteLabel(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
