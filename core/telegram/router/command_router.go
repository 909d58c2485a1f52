package router

import (
	"log/slog"

	"github.com/m3rciful/storebot/core/logger"
	tg "github.com/m3rciful/storebot/core/telegram"
	"github.com/m3rciful/storebot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	// AdminIDs gate AdminOnly commands; see middleware.ParseAdminIDs.
	AdminIDs      map[int64]struct{}
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes prepares command handlers wrapped with shared middleware.
// Global middlewares (DefaultMiddlewares) are expected on the bot itself.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	adminOpts := middleware.AdminOptions{
		AdminIDs: opts.AdminIDs,
		OnReject: opts.OnAdminReject,
	}

	routes := make([]tg.Route, 0, len(reg.Commands()))
	admin := 0
	for cmd, def := range reg.Commands() {
		h := middleware.RecoverMiddleware(def.Handler)
		h = summarized(normalizeHandlerName(cmd), h)
		if def.AdminOnly {
			h = middleware.AdminOnlyMiddleware(adminOpts)(h)
			admin++
		}
		routes = append(routes, tg.Route{
			Endpoint: cmd,
			Handler:  h,
		})
		for _, alias := range def.Aliases {
			routes = append(routes, tg.Route{Endpoint: "/" + normalizeHandlerName(alias), Handler: h})
		}
	}

	logger.TWire.Info("tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", len(reg.Commands())),
		slog.Int("admin_commands", admin),
		slog.Int("admins", len(opts.AdminIDs)),
	)

	return routes
}
