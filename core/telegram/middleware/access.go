package middleware

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	// AdminIDs are Telegram user IDs allowed to run admin-only commands.
	AdminIDs map[int64]struct{}
	OnReject tele.HandlerFunc
}

// ParseAdminIDs extracts numeric user IDs from the admin recipient list.
// Channel usernames ("@orders") and negative group IDs cannot issue commands and are skipped.
func ParseAdminIDs(recipients []string) map[int64]struct{} {
	ids := make(map[int64]struct{}, len(recipients))
	for _, r := range recipients {
		id, err := strconv.ParseInt(strings.TrimSpace(r), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids
}

// IsAdmin reports whether the sender of c is listed in opts.
func (opts AdminOptions) IsAdmin(c tele.Context) bool {
	user := c.Sender()
	if user == nil {
		return false
	}
	_, ok := opts.AdminIDs[user.ID]
	return ok
}

// AdminOnlyMiddleware ensures that only admins can invoke downstream handlers.
// With no admin IDs configured every sender is rejected.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if !opts.IsAdmin(c) {
				if opts.OnReject != nil {
					return opts.OnReject(c)
				}
				return nil
			}
			return next(c)
		}
	}
}
