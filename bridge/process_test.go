package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "EXTIPC_BRIDGE_HELPER_HOST"

// TestMain doubles as the extension host when re-executed by the process
// tests
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelperHost())
	}
	os.Exit(m.Run())
}

func runHelperHost() int {
	fmt.Fprintln(os.Stderr, "helper host ready version="+os.Getenv(EnvVersion))
	rt := NewRuntime(os.Stdin, os.Stdout, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	rt.Handle(OpPing, func(ctx context.Context, args cbor.RawMessage) (any, error) {
		return PingResult{Sessions: os.Getpid()}, nil
	})
	rt.Handle("exit", func(ctx context.Context, args cbor.RawMessage) (any, error) {
		os.Exit(3)
		return nil, nil
	})
	rt.Handle("block", func(ctx context.Context, args cbor.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err := rt.Run(context.Background()); err != nil {
		return 1
	}
	return 0
}

func helperConfig(t *testing.T) Config {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return Config{
		Runtime: RuntimeConfig{Override: exe},
		Env:     []string{helperEnv + "=1"},
		PidFile: filepath.Join(t.TempDir(), "host.pid"),
		Version: "1.2.3",
	}
}

// TEST130: Start spawns the host, a crash cancels calls, and a restart recovers
func Test130_process_lifecycle(t *testing.T) {
	logs := &syncBuffer{}
	cfg := helperConfig(t)
	b := New(cfg, WithLogger(slog.New(slog.NewTextHandler(logs, nil))))
	ctx := context.Background()
	defer b.Stop(ctx)

	require.NoError(t, b.Start(ctx))
	require.True(t, b.Running())
	pid := b.Pid()
	require.NotZero(t, pid)

	ping, err := b.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, pid, ping.Sessions, "host answers from the spawned process")

	recorded, err := (&PidFile{Path: cfg.PidFile}).Read()
	require.NoError(t, err)
	assert.Equal(t, pid, recorded)

	block := mustCall(t, "block")
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := b.Call(ctx, block)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return b.tracker.Len() == 3 }, 2*time.Second, 5*time.Millisecond)
	// give the blocked requests time to reach the host before it exits
	time.Sleep(50 * time.Millisecond)

	done := b.Done()
	_, err = b.Call(ctx, mustCall(t, "exit"))
	assert.True(t, IsTransport(err))
	waitClosed(t, done)

	for i := 0; i < 3; i++ {
		assert.True(t, IsTransport(<-errs))
	}
	assert.False(t, b.Running())

	_, err = b.Ping(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.Eventually(t, func() bool {
		s := logs.String()
		return strings.Contains(s, "helper host ready version=1.2.3") && strings.Contains(s, "extension host exited")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Start(ctx))
	_, err = b.Ping(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, pid, b.Pid())

	require.NoError(t, b.Stop(ctx))
	assert.False(t, b.Running())
	_, err = os.Stat(cfg.PidFile)
	assert.True(t, os.IsNotExist(err), "pid file removed on exit")
}

// TEST131: An explicit override that is not executable fails without fallback
func Test131_start_without_runtime(t *testing.T) {
	b := New(Config{Runtime: RuntimeConfig{
		Override:   filepath.Join(t.TempDir(), "missing-node"),
		Candidates: []string{"sh"},
	}})
	err := b.Start(context.Background())
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrorTypeRuntimeNotFound, be.Type)
	assert.False(t, b.Running())
}

// TEST132: Starting kills a stale instance recorded in the pid file
func Test132_kill_stale_instance(t *testing.T) {
	stale := exec.Command("sleep", "30")
	require.NoError(t, stale.Start())
	exited := make(chan error, 1)
	go func() { exited <- stale.Wait() }()

	pf := PidFile{Path: filepath.Join(t.TempDir(), "stale.pid")}
	require.NoError(t, pf.Write(stale.Process.Pid))

	killed, err := pf.KillStale()
	require.NoError(t, err)
	assert.True(t, killed)

	select {
	case err := <-exited:
		assert.Error(t, err, "stale process was killed")
	case <-time.After(2 * time.Second):
		stale.Process.Kill()
		t.Fatal("stale process still alive")
	}
	_, err = os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(err))

	killed, err = pf.KillStale()
	require.NoError(t, err)
	assert.False(t, killed, "nothing recorded any more")
}
