package orders

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/storebot/core/logger"
)

const (
	component = "service.orders"

	defaultTimeout = 30 * time.Second
)

// Sender delivers an HTML message to a single recipient (chat ID or @channel).
type Sender interface {
	SendHTML(ctx context.Context, recipient, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recipient, text string) error

// SendHTML calls f.
func (f SenderFunc) SendHTML(ctx context.Context, recipient, text string) error {
	return f(ctx, recipient, text)
}

// Record is what a Recorder persists about a relayed order.
type Record struct {
	ID        string
	CreatedAt time.Time
	Order     Order
	Total     decimal.Decimal
	Delivered int
	Failed    int
}

// Recorder keeps an audit trail of relayed orders.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Delivery is the outcome of one recipient send.
type Delivery struct {
	Recipient string
	Err       error
}

// DeliveryReport lists per-recipient outcomes of one Submit.
type DeliveryReport struct {
	OrderID    string
	Total      decimal.Decimal
	Deliveries []Delivery
}

// Delivered counts successful sends.
func (r DeliveryReport) Delivered() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts failed sends.
func (r DeliveryReport) Failed() int {
	return len(r.Deliveries) - r.Delivered()
}

// Stats are process-lifetime relay counters.
type Stats struct {
	Orders    uint64
	Delivered uint64
	Failed    uint64
}

// Options configure a Relay.
type Options struct {
	Sender    Sender
	Admins    []string
	Formatter Formatter
	// Recorder is optional.
	Recorder Recorder
	// NewID defaults to a random UUID.
	NewID func() string
	Now   func() time.Time
	// Timeout bounds the fan-out and, separately, the audit write.
	// Defaults to defaultTimeout.
	Timeout time.Duration
}

// Relay validates orders and fans the notification out to every admin.
type Relay struct {
	sender    Sender
	admins    []string
	formatter Formatter
	recorder  Recorder
	newID     func() string
	now       func() time.Time
	timeout   time.Duration

	orders    atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewRelay builds a Relay. Admins are trimmed and empty entries dropped.
func NewRelay(opts Options) (*Relay, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("orders: nil sender")
	}
	r := &Relay{
		sender:    opts.Sender,
		formatter: opts.Formatter,
		recorder:  opts.Recorder,
		newID:     opts.NewID,
		now:       opts.Now,
		timeout:   opts.Timeout,
	}
	for _, a := range opts.Admins {
		if a = strings.TrimSpace(a); a != "" {
			r.admins = append(r.admins, a)
		}
	}
	if r.newID == nil {
		r.newID = func() string { return uuid.NewString() }
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	return r, nil
}

// Admins returns the configured recipients.
func (r *Relay) Admins() []string {
	return append([]string(nil), r.admins...)
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Orders:    r.orders.Load(),
		Delivered: r.delivered.Load(),
		Failed:    r.failed.Load(),
	}
}

// Submit validates o and sends the notification to every admin independently.
// Per-recipient failures are reported in the DeliveryReport and never returned
// as an error. A returned error is either a validation error (no sends were
// attempted) or an unexpected failure before or around the fan-out loop.
//
// Once validated, the order no longer follows ctx cancellation: a client that
// disconnects after checkout still gets every admin notified and recorded.
func (r *Relay) Submit(ctx context.Context, o Order) (report DeliveryReport, err error) {
	if err := o.Validate(); err != nil {
		logger.Info(ctx, component, "order.rejected",
			slog.String("status", "fail"),
			slog.String("reason", err.Error()),
		)
		return DeliveryReport{}, err
	}
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(ctx, component, "order.panic",
				slog.Any("err", rec),
				slog.String("stack", string(debug.Stack())),
			)
			report, err = DeliveryReport{}, fmt.Errorf("orders: relay panic: %v", rec)
		}
	}()

	start := time.Now()
	report = DeliveryReport{
		OrderID:    r.newID(),
		Total:      o.Total(),
		Deliveries: make([]Delivery, 0, len(r.admins)),
	}
	text := r.formatter.Format(o)

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	for _, admin := range r.admins {
		d := Delivery{Recipient: admin, Err: r.deliver(sendCtx, admin, text)}
		if d.Err != nil {
			logger.Warn(ctx, component, "order.delivery_failed",
				slog.String("status", "fail"),
				slog.String("order_id", report.OrderID),
				slog.String("recipient", admin),
				slog.String("err", d.Err.Error()),
			)
		}
		report.Deliveries = append(report.Deliveries, d)
	}

	r.orders.Add(1)
	r.delivered.Add(uint64(report.Delivered()))
	r.failed.Add(uint64(report.Failed()))

	level := slog.LevelInfo
	if len(r.admins) > 0 && report.Delivered() == 0 {
		level = slog.LevelWarn
	}
	logger.Event(ctx, component, level, "order.relayed",
		slog.String("status", "ok"),
		slog.String("order_id", report.OrderID),
		slog.Int("items", len(o.Cart)),
		slog.String("total", report.Total.String()),
		slog.Int("delivered", report.Delivered()),
		slog.Int("failed", report.Failed()),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)

	r.record(ctx, o, report)
	return report, nil
}

// deliver converts a panicking sender into an error so one recipient cannot
// abort the loop.
func (r *Relay) deliver(ctx context.Context, recipient, text string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("orders: sender panic: %v", rec)
		}
	}()
	return r.sender.SendHTML(ctx, recipient, text)
}

func (r *Relay) record(ctx context.Context, o Order, report DeliveryReport) {
	if r.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.recorder.Record(ctx, Record{
		ID:        report.OrderID,
		CreatedAt: r.now(),
		Order:     o,
		Total:     report.Total,
		Delivered: report.Delivered(),
		Failed:    report.Failed(),
	})
	if err != nil {
		logger.Warn(ctx, component, "order.record_failed",
			slog.String("status", "fail"),
			slog.String("order_id", report.OrderID),
			slog.String("err", err.Error()),
		)
	}
}
