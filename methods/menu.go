package methods

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/machinefabric/extipc-go/pending"
)

// CommandMenu presents a dmenu through an external chooser such as
// "fuzzel --dmenu" or "rofi -dmenu". The content goes to its stdin and the
// first line it prints is the selection. Exiting without output counts as a
// dismissal.
type CommandMenu struct {
	Command []string
	Logger  *slog.Logger
}

func (m *CommandMenu) Present(ctx context.Context, req DMenuRequest) *pending.Future[string] {
	f := pending.New[string]()
	if len(m.Command) == 0 {
		f.Reject(errors.New("no menu command configured"))
		return f
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancel := context.WithCancel(ctx)
	f.OnCancel(cancel)

	cmd := exec.CommandContext(runCtx, m.Command[0], m.Command[1:]...)
	cmd.Stdin = strings.NewReader(req.RawContent)
	cmd.Env = append(os.Environ(), menuEnv(req)...)
	var out bytes.Buffer
	cmd.Stdout = &out

	go func() {
		defer cancel()
		err := cmd.Run()
		if f.Cancelled() {
			logger.Debug("menu cancelled", "command", m.Command[0])
			return
		}
		line, _, _ := strings.Cut(out.String(), "\n")
		line = strings.TrimRight(line, "\r")

		var exitErr *exec.ExitError
		switch {
		case err != nil && !errors.As(err, &exitErr):
			f.Reject(fmt.Errorf("menu command: %w", err))
		case line == "":
			f.Reject(ErrDismissed)
		default:
			f.Resolve(line)
		}
	}()
	return f
}

func menuEnv(req DMenuRequest) []string {
	var env []string
	set := func(k, v string) {
		if v != "" {
			env = append(env, k+"="+v)
		}
	}
	set("EXTIPC_MENU_TITLE", req.NavigationTitle)
	set("EXTIPC_MENU_PLACEHOLDER", req.Placeholder)
	set("EXTIPC_MENU_SECTION", req.SectionTitle)
	set("EXTIPC_MENU_QUERY", req.Query)
	return env
}
