package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/machinefabric/extipc-go/client"
	"github.com/machinefabric/extipc-go/config"
	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/logging"
	"github.com/machinefabric/extipc-go/methods"
)

var (
	serveConfig    string
	serveReplace   bool
	serveOpen      bool
	serveNoRuntime bool
)

// ErrAlreadyRunning is returned by serve when another instance answers on
// the socket and --replace was not given
var ErrAlreadyRunning = errors.New("a server is already running, pass --replace to replace the existing instance")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway and the extension host",
	Long: `Run the launcher daemon.

The gateway listens on a unix socket for local clients (the CLI, browser
integrations) and the extension host is started as a child process speaking
length-prefixed CBOR over its standard streams.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(serveConfig, func(c *config.Config) {
			if serveNoRuntime {
				c.Host.Disabled = true
			}
		})
		if err != nil {
			return err
		}

		logger, closeLog, err := logging.New(cfg.Logger)
		if err != nil {
			return err
		}
		defer closeLog()
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
		defer stop()

		if err := replaceRunning(ctx, cfg.Socket.Path, serveReplace, logger); err != nil {
			return err
		}

		d, err := newDaemon(cfg, logger)
		if err != nil {
			return err
		}
		if serveOpen {
			_ = d.window.Open("")
		}
		return d.run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveConfig, "config", config.DefaultPath(), "path to the config file")
	serveCmd.Flags().BoolVar(&serveReplace, "replace", false, "replace the currently running instance if there is one")
	serveCmd.Flags().BoolVar(&serveOpen, "open", false, "open the launcher window once the server is started")
	serveCmd.Flags().BoolVar(&serveNoRuntime, "no-extension-runtime", false, "do not start the extension host, extensions will not run")
}

// replaceRunning pings the socket. A live instance is an error unless
// replace is set, in which case it is killed by the pid it reports.
func replaceRunning(ctx context.Context, path string, replace bool, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	pong, err := client.Oneshot(ctx, path, methods.KindPing, envelope.Empty{})
	if errors.Is(err, client.ErrNotRunning) {
		return nil
	}
	if err != nil {
		logger.Warn("existing socket did not answer ping, taking it over", "path", path, "error", err)
		return nil
	}
	if !replace {
		return ErrAlreadyRunning
	}

	logger.Info("killing existing server", "pid", pong.PID, "version", pong.Version)
	if err := unix.Kill(int(pong.PID), unix.SIGKILL); err != nil {
		return fmt.Errorf("kill existing server (pid %d): %w", pong.PID, err)
	}
	return nil
}
