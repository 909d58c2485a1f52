package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreconfig "github.com/m3rciful/storebot/core/config"
	"github.com/m3rciful/storebot/core/logger"
	tghelpers "github.com/m3rciful/storebot/core/telegram/helpers"
	"github.com/m3rciful/storebot/core/telegram/netutil"
	tgsender "github.com/m3rciful/storebot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Middleware is a named global bot middleware.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route binds a handler to a telebot endpoint (a "/command" string or one of
// the tele.On* constants).
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry
	// Bot is an already built client; when nil RunTelegram calls NewBot.
	Bot *tele.Bot

	DispatcherOptions tgsender.Options
	Dispatcher        *tgsender.Dispatcher

	Middlewares []Middleware
	Routes      []Route

	DisableWebhookCleanup   bool
	DisableHelperDispatcher bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime is handed to the lifecycle hooks.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
}

// RunTelegram wires the bot and receives updates until ctx is done or the
// poller stops on its own. Cancellation is a clean exit.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rt, release, err := prepare(opts)
	if err != nil {
		return err
	}
	defer release()

	announce(ctx, opts.Config, rt.Bot, !opts.DisableWebhookCleanup)
	wire(rt, opts)

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	runErr := serve(ctx, rt.Bot)

	if opts.OnStop != nil {
		if err := opts.OnStop(context.WithoutCancel(ctx), rt); err != nil {
			return err
		}
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func prepare(opts RunOptions) (Runtime, func(), error) {
	rt := Runtime{Bot: opts.Bot, Dispatcher: opts.Dispatcher, Registry: opts.Registry}
	if rt.Registry == nil {
		rt.Registry = NewRegistry()
	}
	if rt.Bot == nil {
		start := time.Now()
		bot, err := NewBot(opts.Config)
		if err != nil {
			return Runtime{}, nil, err
		}
		logger.TWire.Info("bot client built",
			slog.String("event", "bot.build"),
			slog.String("username", Username(bot)),
			slog.Duration("duration", logger.Took(start)),
		)
		rt.Bot = bot
	}
	if rt.Dispatcher == nil {
		rt.Dispatcher = tgsender.NewDispatcher(opts.DispatcherOptions)
	}
	if !opts.DisableHelperDispatcher {
		tghelpers.SetDispatcher(rt.Dispatcher)
	}
	release := func() {
		rt.Dispatcher.Close()
		if !opts.DisableHelperDispatcher {
			tghelpers.SetDispatcher(nil)
		}
	}
	return rt, release, nil
}

// announce logs the receive mode and, for long polling, drops any webhook
// left over from an earlier deployment so getUpdates is not refused.
func announce(ctx context.Context, cfg *coreconfig.Config, bot *tele.Bot, cleanup bool) {
	if hook, ok := bot.Poller.(*tele.Webhook); ok {
		attrs := []slog.Attr{
			slog.String("mode", coreconfig.RunModeWebhook),
			slog.String("listen", hook.Listen),
			slog.String("username", Username(bot)),
		}
		if hook.Endpoint != nil {
			attrs = append(attrs, slog.String("public_url", hook.Endpoint.PublicURL))
		}
		logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "mode", attrs...)
		return
	}

	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "mode",
		slog.String("mode", coreconfig.RunModeLongpoll),
		slog.Int("timeout_seconds", int(longPollTimeout(cfg.Telegram.LongPollTimeoutSeconds)/time.Second)),
		slog.String("username", Username(bot)),
	)
	if !cleanup {
		return
	}
	drop := cfg.Telegram.DropPendingUpdates
	err := bot.RemoveWebhook(drop)
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Bool("drop_pending", drop),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", netutil.SanitizeError(err)))
		logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "webhook.delete", attrs...)
		return
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "webhook.delete", attrs...)
}

func wire(rt Runtime, opts RunOptions) {
	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			rt.Bot.Use(mw.Use)
		}
	}
	routes := 0
	for _, r := range opts.Routes {
		if r.Endpoint == nil || r.Handler == nil {
			continue
		}
		rt.Bot.Handle(r.Endpoint, r.Handler)
		routes++
	}
	logger.TWire.Debug("handlers registered",
		slog.String("event", "routes"),
		slog.Int("middlewares", len(opts.Middlewares)),
		slog.Int("routes", routes),
	)
	InitBotCommands(rt.Bot, rt.Registry)
}

// serve runs the poller and blocks until it stops. On ctx cancellation the
// bot is stopped and ctx.Err() returned.
func serve(ctx context.Context, bot *tele.Bot) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		bot.Stop()
		<-done
		return ctx.Err()
	}
}
