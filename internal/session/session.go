// Package session stores chat login sessions keyed by opaque one-time codes.
//
// A session moves Pending -> Resolved -> Gone. Resolved happens when the bot
// sees /start with the code; Gone happens on the first successful poll.
package session

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a login session.
type Status string

const (
	// StatusPending means the code was issued but nobody opened the deep link yet.
	StatusPending Status = "pending"
	// StatusResolved means a Telegram user presented the code.
	StatusResolved Status = "resolved"
)

// ErrCodeExists is returned by Create when the code is already stored.
var ErrCodeExists = errors.New("session: code already exists")

// User is the Telegram identity attached to a resolved session.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Session is a snapshot of one login attempt.
type Session struct {
	Code      string    `json:"code"`
	Status    Status    `json:"status"`
	User      *User     `json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is zero when the store runs without a TTL.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Resolved reports whether the session carries a user identity.
func (s Session) Resolved() bool {
	return s.Status == StatusResolved && s.User != nil
}

// Store is the keyed session storage shared by the HTTP API and the bot.
// Every method is atomic with respect to the others for the same code.
type Store interface {
	// Create stores a new pending session. It fails with ErrCodeExists if the code is taken.
	Create(ctx context.Context, code string) error
	// Get returns the session for code, reporting false when absent or expired.
	Get(ctx context.Context, code string) (Session, bool, error)
	// Resolve attaches user to an existing session and marks it resolved.
	// It returns false without side effects when the code is unknown.
	// Resolving twice overwrites the identity.
	Resolve(ctx context.Context, code string, user User) (bool, error)
	// Consume atomically reads and removes the session.
	Consume(ctx context.Context, code string) (Session, bool, error)
	// Len reports the number of live sessions.
	Len(ctx context.Context) (int, error)
}
