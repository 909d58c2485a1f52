package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/storebot/core/config"
	coretelegram "github.com/m3rciful/storebot/core/telegram"
)

type fakeApp struct {
	srv    *http.Server
	optErr error
	closed bool
}

func (f *fakeApp) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{}, f.optErr
}
func (f *fakeApp) HTTPServer() *http.Server { return f.srv }
func (f *fakeApp) Close() error             { f.closed = true; return nil }

func baseOptions(app *fakeApp) Options {
	return Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(string) (*coreconfig.Config, error) {
			return &coreconfig.Config{HTTP: coreconfig.HTTPConfig{ShutdownTimeout: 1}}, nil
		},
		Bootstrap: func(context.Context, *coreconfig.Config) (Application, error) {
			return app, nil
		},
		ShutdownLogger: func() error { return nil },
		// SIGUSR2 never arrives in tests, so only explicit cancellation stops the run.
		Signals: []os.Signal{syscall.SIGUSR2},
	}
}

func TestRunStopsBotWhenHTTPFails(t *testing.T) {
	app := &fakeApp{srv: &http.Server{}}
	opts := baseOptions(app)
	listenErr := errors.New("address already in use")
	opts.ServeHTTP = func(context.Context, *http.Server, time.Duration) error { return listenErr }

	var started bool
	opts.RunTelegram = func(ctx context.Context, ro coretelegram.RunOptions) error {
		started = true
		require.NoError(t, ro.OnStart(ctx, coretelegram.Runtime{}))
		<-ctx.Done()
		return ro.OnStop(ctx, coretelegram.Runtime{})
	}

	err := Run(opts)
	assert.ErrorIs(t, err, listenErr)
	assert.True(t, started)
	assert.True(t, app.closed)
}

func TestRunStopsHTTPWhenBotExits(t *testing.T) {
	app := &fakeApp{srv: &http.Server{}}
	opts := baseOptions(app)

	var timeout time.Duration
	opts.ServeHTTP = func(ctx context.Context, _ *http.Server, d time.Duration) error {
		timeout = d
		<-ctx.Done()
		return nil
	}
	botErr := errors.New("telegram: unauthorized")
	opts.RunTelegram = func(context.Context, coretelegram.RunOptions) error { return botErr }

	assert.ErrorIs(t, Run(opts), botErr)
	assert.Equal(t, time.Second, timeout)
}

func TestRunWithoutHTTPServer(t *testing.T) {
	opts := baseOptions(&fakeApp{})
	opts.RunTelegram = func(context.Context, coretelegram.RunOptions) error { return nil }
	assert.NoError(t, Run(opts))
}

func TestRunFailsEarly(t *testing.T) {
	opts := baseOptions(&fakeApp{})
	opts.Bootstrap = nil
	assert.Error(t, Run(opts))

	opts = baseOptions(&fakeApp{})
	opts.DefaultConfigPath = ""
	t.Setenv("STOREBOT_TEST_CONFIG", "")
	opts.ConfigEnvVar = "STOREBOT_TEST_CONFIG"
	assert.Error(t, Run(opts))

	opts = baseOptions(&fakeApp{})
	opts.LoadConfig = func(string) (*coreconfig.Config, error) { return nil, errors.New("bad yaml") }
	assert.Error(t, Run(opts))

	app := &fakeApp{optErr: errors.New("no bot")}
	opts = baseOptions(app)
	assert.Error(t, Run(opts))
	assert.True(t, app.closed)
}

func TestServeHTTPShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := &http.Server{Addr: addr, Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeHTTP(ctx, srv, time.Second) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeHTTPReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = ServeHTTP(context.Background(), &http.Server{Addr: ln.Addr().String()}, time.Second)
	assert.Error(t, err)
}
