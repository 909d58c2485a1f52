package middleware

import (
	"sync/atomic"

	tele "gopkg.in/telebot.v4"
)

const replyStatsKey = "reply_stats"

// replyStats counts what a handler sent back. Replies made through the async
// dispatcher may land after the handler returned.
type replyStats struct {
	messages atomic.Int32
	keyboard atomic.Bool
}

// countingContext records every successful outbound call on the wrapped context.
type countingContext struct {
	tele.Context
	stats *replyStats
}

func (c countingContext) track(err error, opts []interface{}) error {
	if err != nil {
		return err
	}
	c.stats.messages.Add(1)
	if withMarkup(opts) {
		c.stats.keyboard.Store(true)
	}
	return nil
}

func (c countingContext) Send(what interface{}, opts ...interface{}) error {
	return c.track(c.Context.Send(what, opts...), opts)
}

func (c countingContext) Reply(what interface{}, opts ...interface{}) error {
	return c.track(c.Context.Reply(what, opts...), opts)
}

func (c countingContext) Edit(what interface{}, opts ...interface{}) error {
	return c.track(c.Context.Edit(what, opts...), opts)
}

func (c countingContext) EditOrSend(what interface{}, opts ...interface{}) error {
	return c.track(c.Context.EditOrSend(what, opts...), opts)
}

func (c countingContext) EditOrReply(what interface{}, opts ...interface{}) error {
	return c.track(c.Context.EditOrReply(what, opts...), opts)
}

func withMarkup(opts []interface{}) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		}
	}
	return false
}

// MessageMetricsMiddleware counts the replies each update produces.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		stats := &replyStats{}
		c.Set(replyStatsKey, stats)
		return next(countingContext{Context: c, stats: stats})
	}
}

// GetCounters returns the number of replies sent so far and whether any of
// them carried a keyboard.
func GetCounters(c tele.Context) (int, bool) {
	stats, ok := c.Get(replyStatsKey).(*replyStats)
	if !ok {
		return 0, false
	}
	return int(stats.messages.Load()), stats.keyboard.Load()
}
