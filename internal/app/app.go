// Package app wires the storefront services, the HTTP API and the Telegram bot together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/storebot/core/bootstrap"
	coreconfig "github.com/m3rciful/storebot/core/config"
	"github.com/m3rciful/storebot/core/logger"
	"github.com/m3rciful/storebot/core/telegram"
	"github.com/m3rciful/storebot/core/telegram/middleware"
	"github.com/m3rciful/storebot/core/telegram/router"
	tgsender "github.com/m3rciful/storebot/core/telegram/sender"
	"github.com/m3rciful/storebot/internal/auth"
	bothandlers "github.com/m3rciful/storebot/internal/bot"
	"github.com/m3rciful/storebot/internal/httpapi"
	"github.com/m3rciful/storebot/internal/orderlog"
	"github.com/m3rciful/storebot/internal/orders"
	"github.com/m3rciful/storebot/internal/session"

	tele "gopkg.in/telebot.v4"
)

const (
	adminRejectText = "⛔️ This command is for shop administrators."

	// replyRetries is how many times a bot reply is resent after a network error.
	replyRetries = 2
)

// App holds the wired components of one storebot process.
type App struct {
	cfg   *coreconfig.Config
	infra *bootstrap.Result

	bot        *tele.Bot
	sessions   session.Store
	memory     *session.MemoryStore
	auth       *auth.Service
	relay      *orders.Relay
	registry   *telegram.Registry
	dispatcher *tgsender.Dispatcher
	router     *gin.Engine
}

// New connects to Telegram and builds the application.
func New(cfg *coreconfig.Config, infra *bootstrap.Result) (*App, error) {
	bot, err := telegram.NewBot(cfg)
	if err != nil {
		return nil, err
	}
	return Build(cfg, infra, bot)
}

// Build wires the application around an existing bot client.
func Build(cfg *coreconfig.Config, infra *bootstrap.Result, bot *tele.Bot) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config provided")
	}
	if infra == nil {
		infra = &bootstrap.Result{}
	}
	a := &App{
		cfg:      cfg,
		infra:    infra,
		bot:      bot,
		registry: telegram.NewRegistry(),
	}

	switch {
	case infra.Redis != nil:
		a.sessions = session.NewRedisStore(infra.Redis, cfg.Sessions.RedisPrefix, cfg.Auth.SessionTTL)
	default:
		a.memory = session.NewMemoryStore(cfg.Auth.SessionTTL)
		a.sessions = a.memory
	}

	var err error
	a.auth, err = auth.NewService(auth.Options{
		Store:       a.sessions,
		BotUsername: telegram.Username(bot),
	})
	if err != nil {
		return nil, err
	}

	var api telegram.MessageSender
	if bot != nil {
		api = bot
	}
	relayOpts := orders.Options{
		Sender:    telegram.NewGateway(api),
		Admins:    cfg.Admins,
		Formatter: orders.Formatter{ShopName: cfg.Shop.Name, Currency: cfg.Shop.Currency},
	}
	if infra.DB != nil {
		relayOpts.Recorder = orderlog.NewRecorder(infra.DB)
	}
	if a.relay, err = orders.NewRelay(relayOpts); err != nil {
		return nil, err
	}

	handlers, err := bothandlers.New(bothandlers.Options{
		Auth:  a.auth,
		Shop:  cfg.Shop,
		Stats: a.stats,
	})
	if err != nil {
		return nil, err
	}
	if err := handlers.Register(a.registry); err != nil {
		return nil, err
	}

	if strings.EqualFold(cfg.Logging.Profile, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	a.router, err = httpapi.BuildRouter(httpapi.Options{
		Auth:           a.auth,
		Orders:         a.relay,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		StaticDir:      cfg.HTTP.StaticDir,
	})
	if err != nil {
		return nil, err
	}

	if len(cfg.Admins) == 0 {
		logger.ORDERS.Warn("no admin recipients configured",
			slog.String("event", "config.admins"),
			slog.String("status", "skip"),
		)
	}
	a.dispatcher = tgsender.NewDispatcher(tgsender.Options{MaxRetries: replyRetries})
	return a, nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.router
}

// HTTPServer returns the API server bound to the configured address.
func (a *App) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              a.cfg.HTTPAddr(),
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Registry exposes the bot commands.
func (a *App) Registry() *telegram.Registry {
	return a.registry
}

// TelegramRunOptions describes how the bot runtime should be started.
func (a *App) TelegramRunOptions() (telegram.RunOptions, error) {
	if a.bot == nil {
		return telegram.RunOptions{}, telegram.ErrGatewayNotReady
	}
	routes := router.CommandRoutes(a.registry, router.CommandRouteOptions{
		AdminIDs: middleware.ParseAdminIDs(a.cfg.Admins),
		OnAdminReject: func(c tele.Context) error {
			return c.Send(adminRejectText)
		},
	})
	return telegram.RunOptions{
		Config:      a.cfg,
		Registry:    a.registry,
		Bot:         a.bot,
		Dispatcher:  a.dispatcher,
		Middlewares: telegram.DefaultMiddlewares(),
		Routes:      routes,
		OnStart: func(ctx context.Context, rt telegram.Runtime) error {
			// getMe may have been skipped (offline client); retry the username now.
			if a.auth.BotUsername() == "" {
				a.auth.SetBotUsername(telegram.Username(rt.Bot))
			}
			if a.memory != nil {
				go a.memory.Run(ctx, a.cfg.Auth.SweepInterval)
			}
			logger.Info(ctx, "app", "services.ready",
				slog.String("bot", a.auth.BotUsername()),
				slog.String("sessions", a.cfg.Sessions.Backend),
				slog.Int("admins", len(a.relay.Admins())),
				slog.Bool("order_log", a.infra.DB != nil),
			)
			return nil
		},
	}, nil
}

// Close stops the outbound dispatcher and releases infrastructure connections.
func (a *App) Close() error {
	a.dispatcher.Close()
	return a.infra.Close()
}

func (a *App) stats(ctx context.Context) (bothandlers.Stats, error) {
	pending, err := a.sessions.Len(ctx)
	if err != nil {
		return bothandlers.Stats{}, fmt.Errorf("app: count sessions: %w", err)
	}
	rs := a.relay.Stats()
	return bothandlers.Stats{
		PendingSessions: pending,
		Orders:          rs.Orders,
		Delivered:       rs.Delivered,
		Failed:          rs.Failed,
		SendErrors:      a.dispatcher.ErrorCount(),
	}, nil
}
