// Package orders validates storefront orders and relays them to shop administrators.
package orders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("orders: invalid order")

// ValidationError names the first offending field of an order.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// LineItem is one cart position.
type LineItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// Total returns Price × Quantity.
func (li LineItem) Total() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// TelegramID is a Telegram user ID that decodes from a JSON number or string.
type TelegramID int64

// UnmarshalJSON accepts 123, "123", "" and null.
func (id *TelegramID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*id = 0
			return nil
		}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram_id: not an integer: %q", raw)
	}
	*id = TelegramID(v)
	return nil
}

// Contact describes the customer.
type Contact struct {
	Name       string     `json:"name"`
	Phone      string     `json:"phone"`
	Address    string     `json:"address,omitempty"`
	TelegramID TelegramID `json:"telegram_id,omitempty"`
}

// Order is a storefront checkout request.
type Order struct {
	Cart    []LineItem `json:"cart"`
	Contact *Contact   `json:"contacts"`
}

// Total returns the sum of line totals.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.Cart {
		total = total.Add(li.Total())
	}
	return total
}

// Validate reports the first problem found, or nil.
func (o Order) Validate() error {
	if len(o.Cart) == 0 {
		return invalid("cart", "must not be empty")
	}
	if o.Contact == nil {
		return invalid("contacts", "required")
	}
	if strings.TrimSpace(o.Contact.Name) == "" {
		return invalid("contacts.name", "required")
	}
	if strings.TrimSpace(o.Contact.Phone) == "" {
		return invalid("contacts.phone", "required")
	}
	if o.Contact.TelegramID < 0 {
		return invalid("contacts.telegram_id", "must be positive")
	}
	for i, li := range o.Cart {
		field := fmt.Sprintf("cart[%d]", i)
		if strings.TrimSpace(li.Name) == "" {
			return invalid(field+".name", "required")
		}
		if li.Price.IsNegative() {
			return invalid(field+".price", "must be >= 0")
		}
		if li.Quantity <= 0 {
			return invalid(field+".quantity", "must be > 0")
		}
	}
	return nil
}
