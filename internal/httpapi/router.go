// Package httpapi exposes the storefront REST API over gin.
package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/m3rciful/storebot/core/logger"
)

const requestIDHeader = "X-Request-ID"

// Options configure BuildRouter.
type Options struct {
	Auth   AuthService
	Orders OrderRelay
	// AllowedOrigins lists CORS origins; "*" echoes any origin.
	AllowedOrigins []string
	// StaticDir is served for unmatched GET requests when set.
	StaticDir string
}

// BuildRouter wires middleware and routes into a gin engine.
func BuildRouter(opts Options) (*gin.Engine, error) {
	h, err := NewHandlers(opts.Auth, opts.Orders)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(requestID(), accessLog(), recovery(), cors(opts.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	api := r.Group("/api")
	api.GET("/auth/init", h.AuthInit)
	api.GET("/auth/poll", h.AuthPoll)
	api.POST("/order", h.CreateOrder)

	if dir := strings.TrimSpace(opts.StaticDir); dir != "" {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return nil, fmt.Errorf("httpapi: static dir %q is not a directory", dir)
		}
		files := http.FileServer(http.Dir(dir))
		r.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			files.ServeHTTP(c.Writer, c.Request)
		})
	}
	return r, nil
}

// requestID tags the request context with a correlation id, reusing a sane client-provided one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" || len(rid) > 64 {
			rid = uuid.NewString()
		}
		c.Header(requestIDHeader, rid)
		c.Request = c.Request.WithContext(logger.WithRID(c.Request.Context(), rid))
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		case c.FullPath() == "/healthz":
			level = slog.LevelDebug
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		outcome := "ok"
		if status >= http.StatusBadRequest {
			outcome = "fail"
		}
		logger.LogEvent(c.Request.Context(), logger.HTTP, level, "http.request",
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("http_status", status),
			slog.String("status", outcome),
			slog.Int("bytes", c.Writer.Size()),
			slog.String("remote", c.ClientIP()),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		logger.LogEvent(c.Request.Context(), logger.HTTP, slog.LevelError, "http.panic",
			slog.String("route", c.FullPath()),
			slog.Any("err", rec),
			slog.String("stack", string(debug.Stack())),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": serverErrorText})
	})
}

// cors echoes allowed origins and answers preflight requests with 204.
func cors(origins []string) gin.HandlerFunc {
	allowAny := false
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			allowAny = true
		default:
			allowed[o] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			_, ok := allowed[origin]
			if ok || allowAny {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
