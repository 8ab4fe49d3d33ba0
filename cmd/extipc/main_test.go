package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/extipc-go/gateway"
	"github.com/machinefabric/extipc-go/methods"
	"github.com/machinefabric/extipc-go/route"
)

type server struct {
	path string

	mu      sync.Mutex
	queries []string
}

func (s *server) lastQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return ""
	}
	return s.queries[len(s.queries)-1]
}

func startServer(t *testing.T) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &server{path: filepath.Join(t.TempDir(), "extipc.sock")}

	apps, err := methods.NewStaticApps([]methods.App{
		{ID: "foot", Name: "Foot", Exec: []string{"true"}},
		{ID: "secret", Name: "Secret", Exec: []string{"true"}, Hidden: true},
	})
	require.NoError(t, err)

	links := methods.NewLinkRouter(nil, t.TempDir(), logger)
	links.Verb("toggle", func(ctx context.Context, path string, q url.Values) error {
		s.mu.Lock()
		s.queries = append(s.queries, q.Get("fallbackText"))
		s.mu.Unlock()
		return nil
	})

	table := route.New()
	srv := gateway.New(table, gateway.WithLogger(logger))
	methods.Register(table, methods.Deps{
		Version: "test",
		Apps:    apps,
		Links:   links,
		Menu:    &methods.CommandMenu{Command: []string{"sh", "-c", "head -n1"}},
		Pusher:  srv,
	})
	require.NoError(t, srv.Listen(s.path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("gateway did not stop")
		}
	})
	return s
}

func invoke(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// TEST650: ping reports the server's version and pid
func Test650_ping(t *testing.T) {
	s := startServer(t)
	code, out, errOut := invoke(t, "", "--socket", s.path, "ping")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Pinged successfully (version test")
}

// TEST651: A missing server is one line and exit status 1
func Test651_no_server(t *testing.T) {
	code, _, errOut := invoke(t, "", "--socket", filepath.Join(t.TempDir(), "absent.sock"), "ping")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no running instance, start the server first")
}

// TEST652: apps prints a table without hidden entries unless asked
func Test652_apps(t *testing.T) {
	s := startServer(t)
	code, out, errOut := invoke(t, "", "--socket", s.path, "apps")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "foot")
	assert.NotContains(t, out, "secret")

	code, out, _ = invoke(t, "", "--socket", s.path, "apps", "--all")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "secret")
}

// TEST653: toggle and bare links go through the deeplink method
func Test653_toggle_and_links(t *testing.T) {
	s := startServer(t)

	code, _, errOut := invoke(t, "", "--socket", s.path, "toggle", "-q", "hello world")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "hello world", s.lastQuery())

	t.Setenv("EXTIPC_SOCKET_PATH", s.path)
	code, _, errOut = invoke(t, "", "raycast://toggle?fallbackText=bare")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "bare", s.lastQuery())

	code, _, errOut = invoke(t, "", "deeplink", "https://example.com")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unsupported url scheme https")
}

// TEST654: dmenu forwards stdin and prints the choice
func Test654_dmenu(t *testing.T) {
	s := startServer(t)
	code, out, errOut := invoke(t, "first\nsecond\n", "--socket", s.path, "dmenu", "-p", "pick")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "first\n", out)

	code, out, _ = invoke(t, "", "--socket", s.path, "dmenu")
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
}

// TEST655: Application errors are printed and fail the command
func Test655_application_error(t *testing.T) {
	s := startServer(t)
	code, _, errOut := invoke(t, "", "--socket", s.path, "launch", "nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "No app with id nope")

	code, _, errOut = invoke(t, "", "--socket", s.path, "--timeout", "soon", "ping")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid --timeout")
}
