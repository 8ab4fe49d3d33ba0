package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/extipc-go/client"
	"github.com/machinefabric/extipc-go/config"
	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/methods"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Socket.Path = filepath.Join(t.TempDir(), "extipc.sock")
	cfg.Host.Disabled = true
	cfg.Extensions.Dir = t.TempDir()
	cfg.Apps = []methods.App{{ID: "true", Name: "True", Exec: []string{"true"}}}
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config) (*daemon, context.CancelFunc, <-chan error) {
	t.Helper()
	d, err := newDaemon(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		done <- d.run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	require.Eventually(t, func() bool {
		_, err := client.Oneshot(context.Background(), cfg.Socket.Path, methods.KindPing, envelope.Empty{})
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return d, cancel, done
}

// TEST600: The daemon serves the method set until its context ends
func Test600_daemon_serves(t *testing.T) {
	cfg := testConfig(t)
	d, cancel, done := startDaemon(t, cfg)
	ctx := context.Background()
	path := cfg.Socket.Path

	pong, err := client.Oneshot(ctx, path, methods.KindPing, envelope.Empty{})
	require.NoError(t, err)
	assert.Equal(t, int64(os.Getpid()), pong.PID)
	assert.Equal(t, version, pong.Version)

	apps, err := client.Oneshot(ctx, path, methods.KindListApps, methods.ListAppsRequest{})
	require.NoError(t, err)
	require.Len(t, apps.Apps, 1)
	assert.Equal(t, "True", apps.Apps[0].Name)

	_, err = client.Oneshot(ctx, path, methods.KindDeeplink, methods.DeeplinkRequest{URL: "extipc://toggle"})
	require.NoError(t, err)
	assert.True(t, d.window.IsOpen())
	_, err = client.Oneshot(ctx, path, methods.KindDeeplink, methods.DeeplinkRequest{URL: "extipc://open?fallbackText=notes"})
	require.NoError(t, err)
	assert.Equal(t, "notes", d.window.Query())

	_, err = client.Oneshot(ctx, path, methods.KindDeeplink, methods.DeeplinkRequest{URL: "extipc://extensions/a/b/c"})
	assert.ErrorContains(t, err, "extension runtime is disabled")

	_, err = client.Oneshot(ctx, path, methods.KindDMenu, methods.DMenuRequest{RawContent: "a"})
	assert.ErrorContains(t, err, "unknown method", "dmenu needs a menu command")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "socket removed")
}

// TEST601: A live instance blocks serve unless it is being replaced
func Test601_replace_running(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	absent := filepath.Join(t.TempDir(), "absent.sock")
	require.NoError(t, replaceRunning(context.Background(), absent, false, logger))

	cfg := testConfig(t)
	startDaemon(t, cfg)
	err := replaceRunning(context.Background(), cfg.Socket.Path, false, logger)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

// TEST602: The metrics endpoint exposes gateway and process collectors
func Test602_metrics_handler(t *testing.T) {
	cfg := testConfig(t)
	d, err := newDaemon(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	d.metricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "extipc_gateway_connections")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// TEST603: Menu command and extension host are wired from the config
func Test603_optional_components(t *testing.T) {
	cfg := testConfig(t)
	cfg.Menu.Command = []string{"sh", "-c", "head -n1"}
	d, _, _ := startDaemon(t, cfg)
	assert.Nil(t, d.bridge)

	out, err := client.Oneshot(context.Background(), cfg.Socket.Path, methods.KindDMenu, methods.DMenuRequest{RawContent: "first\nsecond\n"})
	require.NoError(t, err)
	assert.Equal(t, "first", out.Output)

	enabled := testConfig(t)
	enabled.Host.Disabled = false
	enabled.Host.Entrypoint = "/nonexistent/host.js"
	d2, err := newDaemon(enabled, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NotNil(t, d2.bridge)
}

// TEST604: Without an entrypoint the daemon serves with extensions off
func Test604_no_entrypoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Host.Disabled = false
	require.NoError(t, config.Validate(cfg))

	var logs bytes.Buffer
	d, err := newDaemon(cfg, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	assert.Nil(t, d.bridge)
	assert.Contains(t, logs.String(), "extensions will not work")
}
