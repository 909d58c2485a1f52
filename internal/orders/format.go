package orders

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/storebot/core/telegram/format"
)

// Formatter renders order notifications in Telegram HTML parse mode.
type Formatter struct {
	ShopName string
	Currency string
}

// Format renders o. All customer-supplied text is escaped.
func (f Formatter) Format(o Order) string {
	var b strings.Builder

	b.WriteString(format.Bold(fmt.Sprintf("🎣 New order \"%s\"!", format.Escape(f.ShopName))))
	b.WriteString("\n\n")
	if c := o.Contact; c != nil {
		b.WriteString(format.Field("👤", "Client", c.Name) + "\n")
		if c.TelegramID > 0 {
			b.WriteString("🔗 " + format.Bold("Profile:") + " " + format.UserLink(int64(c.TelegramID), "Open chat") + "\n")
		}
		b.WriteString(format.Field("📞", "Phone", c.Phone) + "\n")
		if addr := strings.TrimSpace(c.Address); addr != "" {
			b.WriteString(format.Field("📍", "Address", addr) + "\n")
		}
	}

	b.WriteString("\n🛒 " + format.Bold("Items:") + "\n")
	for i, li := range o.Cart {
		fmt.Fprintf(&b, "%d. %s (x%d) — %s\n", i+1, format.Escape(li.Name), li.Quantity, f.money(li.Total()))
	}
	b.WriteString("\n💰 " + format.Bold("TOTAL: "+f.money(o.Total())))
	return b.String()
}

func (f Formatter) money(d decimal.Decimal) string {
	if f.Currency == "" {
		return d.String()
	}
	return d.String() + " " + format.Escape(f.Currency)
}
