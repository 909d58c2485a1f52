package orderlog

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/storebot/internal/orders"
)

func TestToRow(t *testing.T) {
	created := time.Date(2025, 5, 1, 10, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	o := orders.Order{
		Cart: []orders.LineItem{
			{Name: "Salmon", Price: decimal.NewFromInt(500), Quantity: 2},
			{Name: "Shrimp", Price: decimal.RequireFromString("300.5"), Quantity: 1},
		},
		Contact: &orders.Contact{Name: "Ivan", Phone: "+7", Address: "Vyborg", TelegramID: 99},
	}

	row, err := toRow(orders.Record{
		ID:        "7f1c",
		CreatedAt: created,
		Order:     o,
		Total:     o.Total(),
		Delivered: 2,
		Failed:    1,
	})
	require.NoError(t, err)

	assert.Equal(t, "7f1c", row.ID)
	assert.Equal(t, time.UTC, row.CreatedAt.Location())
	assert.True(t, created.Equal(row.CreatedAt))
	assert.Equal(t, "Ivan", row.Customer)
	assert.Equal(t, "Vyborg", row.Address)
	assert.True(t, row.TelegramID.Valid)
	assert.Equal(t, int64(99), row.TelegramID.Int64)
	assert.Equal(t, "1300.50", row.Total)
	assert.Equal(t, 2, row.Delivered)
	assert.Equal(t, 1, row.Failed)

	var items []dbItem
	require.NoError(t, json.Unmarshal(row.Items, &items))
	require.Len(t, items, 2)
	assert.Equal(t, dbItem{Name: "Salmon", Price: "500", Quantity: 2, Total: "1000"}, items[0])
	assert.Equal(t, "300.5", items[1].Total)
}

func TestToRowWithoutTelegramID(t *testing.T) {
	row, err := toRow(orders.Record{
		ID:    "x",
		Order: orders.Order{Contact: &orders.Contact{Name: "A", Phone: "1"}},
	})
	require.NoError(t, err)
	assert.False(t, row.TelegramID.Valid)
	assert.JSONEq(t, `[]`, string(row.Items))
}

func TestRecordWithoutDatabase(t *testing.T) {
	var r *Recorder
	assert.Error(t, r.Record(context.Background(), orders.Record{}))
	assert.Error(t, NewRecorder(nil).Record(context.Background(), orders.Record{}))
}

func newMockRecorder(t *testing.T) (*Recorder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRecorder(sqlx.NewDb(db, "postgres")), mock
}

var insertPattern = regexp.QuoteMeta(`INSERT INTO orders (id, created_at, customer, phone, address, telegram_id, items, total, delivered, failed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)

func TestRecordBindsEveryColumn(t *testing.T) {
	r, mock := newMockRecorder(t)
	created := time.Date(2025, 5, 1, 7, 0, 0, 0, time.UTC)
	o := orders.Order{
		Cart:    []orders.LineItem{{Name: "Salmon", Price: decimal.NewFromInt(500), Quantity: 2}},
		Contact: &orders.Contact{Name: "Ivan", Phone: "+7", Address: "Vyborg", TelegramID: 99},
	}

	mock.ExpectExec(insertPattern).
		WithArgs(
			"7f1c",
			created,
			"Ivan",
			"+7",
			"Vyborg",
			int64(99),
			[]byte(`[{"name":"Salmon","price":"500","quantity":2,"total":"1000"}]`),
			"1000.00",
			int64(1),
			int64(0),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.Record(context.Background(), orders.Record{
		ID:        "7f1c",
		CreatedAt: created,
		Order:     o,
		Total:     o.Total(),
		Delivered: 1,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordWrapsInsertError(t *testing.T) {
	r, mock := newMockRecorder(t)
	mock.ExpectExec(insertPattern).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "A", "1", "", nil, sqlmock.AnyArg(), "0.00", int64(0), int64(0)).
		WillReturnError(errors.New("relation \"orders\" does not exist"))

	err := r.Record(context.Background(), orders.Record{
		ID:    "x",
		Order: orders.Order{Contact: &orders.Contact{Name: "A", Phone: "1"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orderlog: insert x")
	assert.NoError(t, mock.ExpectationsWereMet())
}
