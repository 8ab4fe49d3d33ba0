package methods

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/machinefabric/extipc-go/bridge"
)

// LinkSchemes are the URL schemes accepted as deeplinks
var LinkSchemes = []string{"extipc", "raycast", "com.raycast"}

// ExtensionHost loads extension commands and can be restarted
type ExtensionHost interface {
	Load(ctx context.Context, cmd bridge.LoadCommand) (bridge.LoadResult, error)
	Start(ctx context.Context) error
}

// VerbFunc handles a deeplink command. path is what follows the command,
// always starting with "/" or empty.
type VerbFunc func(ctx context.Context, path string, query url.Values) error

// LinkRouter is the default LinkHandler
type LinkRouter struct {
	host          ExtensionHost
	extensionsDir string
	logger        *slog.Logger

	mu    sync.Mutex
	dev   map[string]struct{}
	verbs map[string]VerbFunc
}

// NewLinkRouter creates a router loading extension commands from
// extensionsDir through host. A nil host disables extension links.
func NewLinkRouter(host ExtensionHost, extensionsDir string, logger *slog.Logger) *LinkRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkRouter{
		host:          host,
		extensionsDir: extensionsDir,
		logger:        logger.With("component", "links"),
		dev:           make(map[string]struct{}),
		verbs:         make(map[string]VerbFunc),
	}
}

// Verb adds a command. Built-in commands cannot be overridden.
func (r *LinkRouter) Verb(name string, fn VerbFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verbs[name] = fn
}

// DevSessions returns the extensions in development mode, sorted
func (r *LinkRouter) DevSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.dev))
	for id := range r.dev {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HandleLink dispatches u on its command. The command is the host
// (extipc://ping) or the first path segment (com.raycast:/ping).
func (r *LinkRouter) HandleLink(ctx context.Context, u *url.URL) error {
	if !slices.Contains(LinkSchemes, u.Scheme) {
		return fmt.Errorf("Unsupported url scheme %s", u.Scheme)
	}
	command, path := splitCommand(u)
	query := u.Query()
	r.logger.Debug("deeplink", "command", command, "path", path)

	switch command {
	case "ping":
		return nil
	case "extensions":
		return r.launch(ctx, path, query)
	case "api":
		if err := r.api(path, query); !errors.Is(err, errInvalidLink) {
			return err
		}
	case "internal":
		if path == "/restart-extension-runtime" {
			if r.host == nil {
				return errors.New("extension runtime is disabled")
			}
			r.logger.Info("restarting extension runtime")
			return r.host.Start(ctx)
		}
	default:
		r.mu.Lock()
		fn, ok := r.verbs[command]
		r.mu.Unlock()
		if ok {
			return fn(ctx, path, query)
		}
	}
	return fmt.Errorf("invalid deeplink %s", u.String())
}

var errInvalidLink = errors.New("invalid deeplink")

func splitCommand(u *url.URL) (string, string) {
	command, path := u.Host, u.Path
	if u.Opaque != "" && path == "" {
		path = u.Opaque
	}
	if command == "" && path != "" {
		parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
		if len(parts) == 0 {
			return "", ""
		}
		command = parts[0]
		path = "/" + strings.Join(parts[1:], "/")
	}
	if path == "/" {
		path = ""
	}
	return command, path
}

// launch loads extensions/<author>/<ext>/<cmd> through the extension host
func (r *LinkRouter) launch(ctx context.Context, path string, query url.Values) error {
	components := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(components) < 3 || slices.Contains(components[:3], "") {
		return errors.New("expected extensions/<author>/<extension>/<command>")
	}
	if r.host == nil {
		return errors.New("extension runtime is disabled")
	}
	author, ext, cmd := components[0], components[1], components[2]

	entrypoint := filepath.Join(r.extensionsDir, author, ext, cmd+".js")
	if _, err := os.Stat(entrypoint); err != nil {
		return fmt.Errorf("No such extension command %s/%s/%s", author, ext, cmd)
	}

	load := bridge.LoadCommand{
		ExtensionID: ext,
		Entrypoint:  entrypoint,
		Mode:        bridge.ModeView,
		Arguments:   parseArguments(query.Get("arguments"), r.logger),
	}
	r.mu.Lock()
	if _, ok := r.dev[ext]; ok {
		load.Mode = bridge.ModeDevelop
	}
	r.mu.Unlock()

	res, err := r.host.Load(ctx, load)
	if err != nil {
		return fmt.Errorf("load %s/%s/%s: %w", author, ext, cmd, err)
	}
	r.logger.Info("loaded extension command", "extension", ext, "command", cmd, "session", res.SessionID, "mode", load.Mode)
	return nil
}

// parseArguments reads the JSON object passed as ?arguments=. Anything else
// is logged and ignored.
func parseArguments(text string, logger *slog.Logger) map[string]string {
	if text == "" {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		logger.Warn("ignoring invalid arguments", "error", err)
		return nil
	}
	args := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			args[k] = s
		} else {
			args[k] = fmt.Sprint(v)
		}
	}
	return args
}

func (r *LinkRouter) api(path string, query url.Values) error {
	if !strings.HasPrefix(path, "/extensions/develop/") {
		return errInvalidLink
	}
	id := query.Get("id")
	if id == "" {
		return errors.New("missing extension id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch strings.TrimPrefix(path, "/extensions/develop/") {
	case "start":
		r.dev[id] = struct{}{}
		r.logger.Info("extension development session started", "extension", id)
	case "refresh":
		r.logger.Info("extension development refresh", "extension", id)
	case "stop":
		delete(r.dev, id)
		r.logger.Info("extension development session stopped", "extension", id)
	default:
		return errInvalidLink
	}
	return nil
}
