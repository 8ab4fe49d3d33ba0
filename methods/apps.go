package methods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
)

// StaticApps is an AppDB over a fixed list, normally the apps section of
// the configuration
type StaticApps struct {
	apps     []App
	byID     map[string]int
	prefix   []string
	terminal []string
	logger   *slog.Logger
}

// AppsOption configures StaticApps
type AppsOption func(*StaticApps)

// WithLaunchPrefix runs every app through prefix, e.g. ["uwsm", "app", "--"]
func WithLaunchPrefix(prefix ...string) AppsOption {
	return func(s *StaticApps) { s.prefix = prefix }
}

// WithTerminal wraps terminal apps, e.g. ["foot", "-e"]
func WithTerminal(cmd ...string) AppsOption {
	return func(s *StaticApps) { s.terminal = cmd }
}

// WithAppsLogger sets the logger
func WithAppsLogger(l *slog.Logger) AppsOption {
	return func(s *StaticApps) { s.logger = l }
}

// NewStaticApps indexes apps. Ids must be unique and every app needs a
// command.
func NewStaticApps(apps []App, opts ...AppsOption) (*StaticApps, error) {
	s := &StaticApps{
		apps:   append([]App(nil), apps...),
		byID:   make(map[string]int, len(apps)),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i, app := range s.apps {
		if app.ID == "" {
			return nil, fmt.Errorf("app #%d has no id", i)
		}
		if len(app.Exec) == 0 {
			return nil, fmt.Errorf("app %s has no exec command", app.ID)
		}
		if _, dup := s.byID[app.ID]; dup {
			return nil, fmt.Errorf("duplicate app id %s", app.ID)
		}
		s.byID[app.ID] = i
	}
	return s, nil
}

func (s *StaticApps) FindByID(id string) (App, bool) {
	i, ok := s.byID[id]
	if !ok {
		return App{}, false
	}
	return s.apps[i], true
}

func (s *StaticApps) List() []App {
	return append([]App(nil), s.apps...)
}

// Command builds the argv used to launch app with args
func (s *StaticApps) Command(app App, args []string) []string {
	argv := append([]string{}, s.prefix...)
	if app.Terminal && len(s.terminal) > 0 {
		argv = append(argv, s.terminal...)
	}
	argv = append(argv, app.Exec...)
	return append(argv, args...)
}

// Launch starts app in its own session so it outlives the server. The
// process is reaped in the background.
func (s *StaticApps) Launch(ctx context.Context, app App, args []string) error {
	argv := s.Command(app, args)
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	pid := cmd.Process.Pid
	go func() {
		err := cmd.Wait()
		s.logger.Debug("app exited", "app", app.ID, "pid", pid, "error", err)
	}()
	return nil
}
