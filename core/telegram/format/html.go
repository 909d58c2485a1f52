// Package format renders text fragments for Telegram HTML parse mode.
package format

import (
	"fmt"
	"html"
	"strings"
)

// Escape escapes &, < and > (and quotes) so s renders literally.
func Escape(s string) string {
	return html.EscapeString(s)
}

// Bold wraps already-escaped text in <b>.
func Bold(s string) string {
	return "<b>" + s + "</b>"
}

// Italic wraps already-escaped text in <i>.
func Italic(s string) string {
	return "<i>" + s + "</i>"
}

// Link renders an anchor; label is escaped, href is attribute-escaped.
func Link(href, label string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), html.EscapeString(label))
}

// UserLink renders a tg://user link that opens a chat with the given user ID.
func UserLink(userID int64, label string) string {
	return Link(fmt.Sprintf("tg://user?id=%d", userID), label)
}

// Field renders a "<emoji> <b>Label:</b> value" line; value is escaped.
func Field(emoji, label, value string) string {
	var b strings.Builder
	if emoji != "" {
		b.WriteString(emoji)
		b.WriteByte(' ')
	}
	b.WriteString(Bold(Escape(label) + ":"))
	b.WriteByte(' ')
	b.WriteString(Escape(value))
	return b.String()
}
