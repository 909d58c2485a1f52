package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/storebot/core/logger"
	"github.com/m3rciful/storebot/internal/auth"
	"github.com/m3rciful/storebot/internal/orders"
)

const (
	serverErrorText = "server error"
	maxOrderBytes   = 1 << 20
)

// AuthService is the login handshake as seen by the API.
type AuthService interface {
	Initiate(ctx context.Context) (auth.Challenge, error)
	Poll(ctx context.Context, code string) (auth.PollResult, error)
}

// OrderRelay accepts checked-out orders.
type OrderRelay interface {
	Submit(ctx context.Context, o orders.Order) (orders.DeliveryReport, error)
}

// Handlers serve the /api routes.
type Handlers struct {
	auth   AuthService
	orders OrderRelay
}

// NewHandlers creates the API handlers.
func NewHandlers(authSvc AuthService, relay OrderRelay) (*Handlers, error) {
	if authSvc == nil || relay == nil {
		return nil, fmt.Errorf("httpapi: auth service and order relay are required")
	}
	return &Handlers{auth: authSvc, orders: relay}, nil
}

// AuthInit issues a login code and the bot deep link.
func (h *Handlers) AuthInit(c *gin.Context) {
	ch, err := h.auth.Initiate(c.Request.Context())
	switch {
	case errors.Is(err, auth.ErrGatewayNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bot is not ready"})
		return
	case err != nil:
		h.fail(c, "auth.init_failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": serverErrorText})
		return
	}
	c.JSON(http.StatusOK, ch)
}

// AuthPoll reports whether the login code was confirmed in the chat.
func (h *Handlers) AuthPoll(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "code is required"})
		return
	}

	res, err := h.auth.Poll(c.Request.Context(), code)
	if err != nil {
		h.fail(c, "auth.poll_failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": serverErrorText})
		return
	}

	switch res.Status {
	case auth.PollResolved:
		c.JSON(http.StatusOK, gin.H{"success": true, "user": res.User})
	case auth.PollPending:
		c.JSON(http.StatusOK, gin.H{"success": false, "status": "pending"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "expired"})
	}
}

// CreateOrder validates the order and notifies the shop admins.
func (h *Handlers) CreateOrder(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxOrderBytes)

	var req orders.Order
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid order payload"})
		return
	}

	if _, err := h.orders.Submit(c.Request.Context(), req); err != nil {
		if errors.Is(err, orders.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		h.fail(c, "order.failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": serverErrorText})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) fail(c *gin.Context, event string, err error) {
	logger.LogEvent(c.Request.Context(), logger.HTTP, slog.LevelError, event,
		slog.String("status", "fail"),
		slog.String("route", c.FullPath()),
		slog.String("err", err.Error()),
	)
}
