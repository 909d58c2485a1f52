// Package keyboard builds reply markups for bot messages.
package keyboard

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// WebAppButton returns a one-button inline keyboard that opens url as a
// Telegram Mini App. Telegram accepts only https Mini Apps, so any other
// scheme gets a plain link button instead. An empty url yields nil, which
// telebot treats as "no markup".
func WebAppButton(text, url string) *tele.ReplyMarkup {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	markup := &tele.ReplyMarkup{}
	var btn tele.Btn
	if strings.HasPrefix(strings.ToLower(url), "https://") {
		btn = markup.WebApp(text, &tele.WebApp{URL: url})
	} else {
		btn = markup.URL(text, url)
	}
	markup.Inline(markup.Row(btn))
	return markup
}

// Remove hides a previously shown reply keyboard.
func Remove() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}
