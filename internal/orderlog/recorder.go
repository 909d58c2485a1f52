// Package orderlog persists an audit trail of relayed orders in Postgres.
package orderlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/storebot/internal/orders"
)

const insertOrder = `
INSERT INTO orders (id, created_at, customer, phone, address, telegram_id, items, total, delivered, failed)
VALUES (:id, :created_at, :customer, :phone, :address, :telegram_id, :items, :total, :delivered, :failed)`

// dbOrder is the row shape of the orders table.
type dbOrder struct {
	ID         string        `db:"id"`
	CreatedAt  time.Time     `db:"created_at"`
	Customer   string        `db:"customer"`
	Phone      string        `db:"phone"`
	Address    string        `db:"address"`
	TelegramID sql.NullInt64 `db:"telegram_id"`
	Items      []byte        `db:"items"`
	Total      string        `db:"total"`
	Delivered  int           `db:"delivered"`
	Failed     int           `db:"failed"`
}

type dbItem struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
	Total    string `json:"total"`
}

// Recorder writes orders.Record rows through sqlx.
type Recorder struct {
	db *sqlx.DB
}

// NewRecorder wraps an open database handle.
func NewRecorder(db *sqlx.DB) *Recorder {
	return &Recorder{db: db}
}

// Record implements orders.Recorder.
func (r *Recorder) Record(ctx context.Context, rec orders.Record) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("orderlog: nil database")
	}
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	if _, err := r.db.NamedExecContext(ctx, insertOrder, row); err != nil {
		return fmt.Errorf("orderlog: insert %s: %w", rec.ID, err)
	}
	return nil
}

func toRow(rec orders.Record) (dbOrder, error) {
	items := make([]dbItem, 0, len(rec.Order.Cart))
	for _, li := range rec.Order.Cart {
		items = append(items, dbItem{
			Name:     li.Name,
			Price:    li.Price.String(),
			Quantity: li.Quantity,
			Total:    li.Total().String(),
		})
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return dbOrder{}, fmt.Errorf("orderlog: encode items: %w", err)
	}

	row := dbOrder{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt.UTC(),
		Items:     raw,
		Total:     rec.Total.StringFixed(2),
		Delivered: rec.Delivered,
		Failed:    rec.Failed,
	}
	if c := rec.Order.Contact; c != nil {
		row.Customer = c.Name
		row.Phone = c.Phone
		row.Address = c.Address
		if c.TelegramID > 0 {
			row.TelegramID = sql.NullInt64{Int64: int64(c.TelegramID), Valid: true}
		}
	}
	return row, nil
}
