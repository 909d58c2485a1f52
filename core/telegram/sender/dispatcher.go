// Package sender runs outbound bot replies on a small worker pool so update
// handlers return without waiting on the Bot API.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/storebot/core/logger"
	"github.com/m3rciful/storebot/core/telegram/netutil"
)

var (
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	ErrQueueFull   = errors.New("telegram sender: queue full")
)

// Options controls the dispatcher. Zero values take defaults.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds one job including its retries.
	MaxDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

func (j job) attrs() []slog.Attr {
	attrs := []slog.Attr{slog.String("action", j.action)}
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.endpoint))
	}
	return attrs
}

// Dispatcher executes queued Bot API calls with retry on connection errors.
type Dispatcher struct {
	opts    Options
	backoff netutil.Backoff
	jobs    chan job
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		opts:    opts,
		backoff: netutil.Backoff{Step: opts.RetryBackoff},
		jobs:    make(chan job, opts.QueueSize),
	}
	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go func() {
			defer d.wg.Done()
			for j := range d.jobs {
				d.process(j)
			}
		}()
	}
	return d
}

// Enqueue schedules run without blocking. run may be called more than once
// when the first attempt fails to connect.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns how many jobs failed for good.
func (d *Dispatcher) ErrorCount() uint64 { return d.failed.Load() }

// SentCount returns how many jobs succeeded.
func (d *Dispatcher) SentCount() uint64 { return d.sent.Load() }

// Queued returns the number of jobs waiting for a worker.
func (d *Dispatcher) Queued() int { return len(d.jobs) }

// Options returns the effective settings after defaults.
func (d *Dispatcher) Options() Options { return d.opts }

// Close stops accepting jobs and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) process(j job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempt, err := d.attempt(ctx, j)
	attrs := append(j.attrs(),
		slog.String("status", logger.Status(err)),
		slog.Int("attempts", attempt),
		slog.Duration("duration", logger.Took(start)),
	)
	if err == nil {
		d.sent.Add(1)
		level := slog.LevelDebug
		if attempt > 1 {
			level = slog.LevelInfo
		}
		logger.LogEvent(j.ctx, logger.TG, level, "send", attrs...)
		return
	}

	d.failed.Add(1)
	attrs = append(attrs,
		slog.String("err", netutil.SanitizeError(err)),
		slog.String("err_code", string(netutil.ClassifyError(err))),
	)
	logger.LogEvent(j.ctx, logger.TG, slog.LevelError, "send", attrs...)
}

func (d *Dispatcher) attempt(ctx context.Context, j job) (int, error) {
	limit := d.opts.MaxRetries + 1
	for n := 1; ; n++ {
		err := j.run()
		if err == nil || n == limit || !netutil.Retryable(err) {
			return n, err
		}
		delay := d.backoff.Delay(n)
		logger.LogEvent(j.ctx, logger.TG, slog.LevelDebug, "send.retry",
			append(j.attrs(),
				slog.String("status", "retry"),
				slog.Int("attempts", n),
				slog.Int64("backoff_ms", delay.Milliseconds()),
			)...,
		)
		if werr := netutil.Wait(ctx, delay); werr != nil {
			return n, err
		}
	}
}
