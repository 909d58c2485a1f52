package telegram

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/storebot/core/logger"
	"github.com/m3rciful/storebot/core/telegram/netutil"
)

var errNoRewind = errors.New("telegram: request body cannot be replayed")

// ClientOptions tune the Bot API HTTP client. Zero fields take defaults.
type ClientOptions struct {
	Timeout        time.Duration
	DialTimeout    time.Duration
	HeaderTimeout  time.Duration
	Retries        int
	RetryStep      time.Duration
	MaxIdlePerHost int
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.HeaderTimeout <= 0 {
		o.HeaderTimeout = 5 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryStep <= 0 {
		o.RetryStep = 2 * time.Second
	}
	if o.MaxIdlePerHost <= 0 {
		o.MaxIdlePerHost = 10
	}
	return o
}

// BuildHTTPClient returns the client used for Bot API calls. Requests that
// fail to connect are retried; anything that reached the server is not.
func BuildHTTPClient(opts ClientOptions) *http.Client {
	opts = opts.withDefaults()
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   opts.MaxIdlePerHost,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   opts.DialTimeout,
		ResponseHeaderTimeout: opts.HeaderTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &retryTransport{
			next:    base,
			retries: opts.Retries,
			backoff: netutil.Backoff{Step: opts.RetryStep, Max: 4 * opts.RetryStep},
		},
	}
}

type retryTransport struct {
	next    http.RoundTripper
	retries int
	backoff netutil.Backoff
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	for attempt := 1; ; attempt++ {
		try := req
		if attempt > 1 {
			try = req.Clone(ctx)
			if req.Body != nil {
				if req.GetBody == nil {
					return nil, errNoRewind
				}
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				try.Body = body
			}
		}

		resp, err := t.next.RoundTrip(try)
		if err == nil || attempt > t.retries || !netutil.Retryable(err) {
			return resp, err
		}

		delay := t.backoff.Delay(attempt)
		logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "api.retry",
			slog.String("status", "retry"),
			slog.String("method", apiMethod(req)),
			slog.String("err_code", string(netutil.ClassifyError(err))),
			slog.Int("attempts", attempt),
			slog.Int64("backoff_ms", delay.Milliseconds()),
		)
		if werr := netutil.Wait(ctx, delay); werr != nil {
			return nil, werr
		}
	}
}

// apiMethod returns the Bot API method from a ".../bot<token>/<method>" URL.
func apiMethod(req *http.Request) string {
	p := req.URL.Path
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
