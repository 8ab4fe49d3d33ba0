// Command extipc sends one request to a running extipcd and prints the
// answer.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/machinefabric/extipc-go/client"
	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/methods"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	socketPath string
	timeout    string
)

// errNoServer replaces transport failures so the user gets one actionable line
var errNoServer = errors.New("no running instance, start the server first")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "extipc",
		Short:         "Talk to the launcher daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "", "gateway socket (default $EXTIPC_SOCKET_PATH or the runtime dir)")
	root.PersistentFlags().StringVar(&timeout, "timeout", "30s", "request timeout, 0 waits forever")
	root.AddCommand(
		pingCmd(),
		launchCmd(),
		appsCmd(),
		deeplinkCmd(),
		windowCmd("toggle", "Toggle the launcher window"),
		windowCmd("open", "Open the launcher window"),
		closeCmd(),
		dmenuCmd(),
		versionCmd(),
	)
	return root
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one invocation and returns the exit status
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// A bare link is shorthand for "deeplink <link>"
	if len(args) == 1 && hasLinkScheme(args[0]) {
		args = []string{"deeplink", args[0]}
	}

	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "extipc:", err)
		return 1
	}
	return 0
}

func hasLinkScheme(arg string) bool {
	for _, scheme := range methods.LinkSchemes {
		if strings.HasPrefix(arg, scheme+":/") {
			return true
		}
	}
	return false
}

func resolveSocket() string {
	if socketPath != "" {
		return socketPath
	}
	if env := os.Getenv("EXTIPC_SOCKET_PATH"); env != "" {
		return env
	}
	return client.DefaultSocketPath()
}

func clientOptions() ([]client.Option, error) {
	d, err := parseTimeout(timeout)
	if err != nil {
		return nil, err
	}
	return []client.Option{client.WithTimeout(d)}, nil
}

// oneshot sends a single request, mapping transport failures to errNoServer
func oneshot[Req, Res any](ctx context.Context, kind envelope.Kind[Req, Res], req Req) (Res, error) {
	var zero Res
	opts, err := clientOptions()
	if err != nil {
		return zero, err
	}
	res, err := client.Oneshot(ctx, resolveSocket(), kind, req, opts...)
	if errors.Is(err, client.ErrNotRunning) || errors.Is(err, client.ErrClosed) {
		return zero, errNoServer
	}
	return res, err
}
