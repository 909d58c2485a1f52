// Package auth implements the "login via chat" deep-link handshake.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/m3rciful/storebot/core/logger"
	"github.com/m3rciful/storebot/internal/session"
)

const component = "service.auth"

// maxCreateAttempts bounds retries on the (practically impossible) code collision.
const maxCreateAttempts = 3

// ErrGatewayNotReady is returned by Initiate while the bot username is unknown.
var ErrGatewayNotReady = errors.New("auth: messaging gateway not ready")

// Challenge is handed to the storefront client to start a login.
type Challenge struct {
	Code    string `json:"code"`
	BotLink string `json:"botLink"`
}

// Outcome tells the bot which reply a /start event deserves.
type Outcome int

const (
	// OutcomeGreeting is the default path: no payload or no matching session.
	OutcomeGreeting Outcome = iota
	// OutcomeAuthenticated means the payload resolved a login session.
	OutcomeAuthenticated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	default:
		return "greeting"
	}
}

// PollStatus is the client-visible state of a login code.
type PollStatus string

const (
	// PollPending means the deep link has not been opened yet.
	PollPending PollStatus = "pending"
	// PollResolved means the login completed; the session is gone after this answer.
	PollResolved PollStatus = "resolved"
	// PollExpired means the code is unknown, expired or already consumed.
	PollExpired PollStatus = "expired"
)

// PollResult is the answer to one poll.
type PollResult struct {
	Status PollStatus
	User   *session.User
}

// Options configure a Service.
type Options struct {
	Store session.Store
	// BotUsername is the Telegram username used in deep links, without "@".
	BotUsername string
	// NewCode defaults to RandomCode.
	NewCode CodeGenerator
}

// Service issues login codes, resolves them from bot /start events and answers polls.
type Service struct {
	store       session.Store
	newCode     CodeGenerator
	botUsername atomic.Pointer[string]
}

// NewService builds a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("auth: nil session store")
	}
	s := &Service{
		store:   opts.Store,
		newCode: opts.NewCode,
	}
	if s.newCode == nil {
		s.newCode = RandomCode
	}
	s.SetBotUsername(opts.BotUsername)
	return s, nil
}

// SetBotUsername updates the username embedded in deep links.
func (s *Service) SetBotUsername(name string) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	s.botUsername.Store(&name)
}

// BotUsername returns the username embedded in deep links.
func (s *Service) BotUsername() string {
	if p := s.botUsername.Load(); p != nil {
		return *p
	}
	return ""
}

// Initiate stores a fresh pending session and returns its deep link.
func (s *Service) Initiate(ctx context.Context) (Challenge, error) {
	bot := s.BotUsername()
	if bot == "" {
		return Challenge{}, ErrGatewayNotReady
	}

	var (
		code string
		err  error
	)
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		code, err = s.newCode()
		if err != nil {
			return Challenge{}, err
		}
		err = s.store.Create(ctx, code)
		if !errors.Is(err, session.ErrCodeExists) {
			break
		}
		logger.Warn(ctx, component, "auth.code_collision",
			slog.Int("attempts", attempt),
		)
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("auth: store session: %w", err)
	}

	logger.Debug(ctx, component, "auth.initiated",
		slog.String("status", "ok"),
		slog.String("code", code),
	)
	return Challenge{Code: code, BotLink: DeepLink(bot, code)}, nil
}

// OnGatewayStart handles a /start event. Only a payload naming a stored
// session, sent by an identified user, changes state; everything else yields
// OutcomeGreeting untouched.
func (s *Service) OnGatewayStart(ctx context.Context, payload string, sender session.User) (Outcome, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" || !plausibleCode(payload) || sender.ID == 0 {
		return OutcomeGreeting, nil
	}

	resolved, err := s.store.Resolve(ctx, payload, sender)
	if err != nil {
		return OutcomeGreeting, fmt.Errorf("auth: resolve session: %w", err)
	}
	if !resolved {
		logger.Debug(ctx, component, "auth.start_unmatched",
			slog.String("status", "skip"),
			slog.String("code", payload),
		)
		return OutcomeGreeting, nil
	}

	logger.Info(ctx, component, "auth.resolved",
		slog.String("status", "ok"),
		slog.String("code", payload),
		slog.Int64("user_id", sender.ID),
	)
	return OutcomeAuthenticated, nil
}

// Poll reports the state of code. A resolved session is consumed by the
// first poll that observes it; later polls see PollExpired.
func (s *Service) Poll(ctx context.Context, code string) (PollResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return PollResult{Status: PollExpired}, nil
	}

	sess, ok, err := s.store.Get(ctx, code)
	if err != nil {
		return PollResult{}, fmt.Errorf("auth: load session: %w", err)
	}
	if !ok {
		return PollResult{Status: PollExpired}, nil
	}
	if !sess.Resolved() {
		return PollResult{Status: PollPending}, nil
	}

	sess, ok, err = s.store.Consume(ctx, code)
	if err != nil {
		return PollResult{}, fmt.Errorf("auth: consume session: %w", err)
	}
	// A concurrent poll consumed it first.
	if !ok || !sess.Resolved() {
		return PollResult{Status: PollExpired}, nil
	}

	logger.Info(ctx, component, "auth.completed",
		slog.String("status", "ok"),
		slog.String("code", code),
		slog.Int64("user_id", sess.User.ID),
	)
	return PollResult{Status: PollResolved, User: sess.User}, nil
}

// DeepLink builds the t.me link that opens the bot with code as start payload.
func DeepLink(botUsername, code string) string {
	u := url.URL{
		Scheme:   "https",
		Host:     "t.me",
		Path:     "/" + botUsername,
		RawQuery: "start=" + url.QueryEscape(code),
	}
	return u.String()
}
