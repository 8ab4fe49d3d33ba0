package methods

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/pending"
	"github.com/machinefabric/extipc-go/route"
)

// Register installs the launcher's methods on t. The dmenu route exists only
// when a MenuPresenter is configured.
func Register(t *route.Table, deps Deps) {
	if deps.Browsers == nil {
		deps.Browsers = NewBrowserRegistry(nil)
	}
	if deps.Pusher != nil {
		deps.Browsers.Bind(deps.Pusher)
	}
	h := &handlers{deps: deps}

	t.Use(route.RequireCapability(CapBrowser, NotBrowserReason, KindBrowserTabsChanged.Key()))

	route.Handle(t, KindPing, h.ping)
	route.Handle(t, KindLaunchApp, h.launchApp)
	route.Handle(t, KindListApps, h.listApps)
	route.Handle(t, KindDeeplink, h.deeplink)
	route.Handle(t, KindBrowserInit, h.browserInit)
	route.Handle(t, KindBrowserTabsChanged, h.tabsChanged)
	if deps.Menu != nil {
		route.HandleAsync(t, KindDMenu, h.dmenu)
	}
}

type handlers struct {
	deps Deps
}

func (h *handlers) ping(c *route.Context, _ envelope.Empty) (PingResponse, error) {
	return PingResponse{Version: h.deps.Version, PID: int64(os.Getpid())}, nil
}

func (h *handlers) launchApp(c *route.Context, req LaunchAppRequest) (LaunchAppResponse, error) {
	if h.deps.Apps == nil {
		return LaunchAppResponse{}, fmt.Errorf("No app with id %s", req.AppID)
	}
	app, ok := h.deps.Apps.FindByID(req.AppID)
	if !ok {
		return LaunchAppResponse{}, fmt.Errorf("No app with id %s", req.AppID)
	}

	if !req.NewInstance && h.deps.Windows != nil {
		if wins := h.deps.Windows.FindAppWindows(app); len(wins) > 0 {
			win := wins[0]
			if err := h.deps.Windows.Focus(c.Context(), win); err != nil {
				c.Logger.Warn("focus window failed, launching instead", "app", app.ID, "error", err)
			} else {
				return LaunchAppResponse{FocusedWindowTitle: win.Title}, nil
			}
		}
	}

	if err := h.deps.Apps.Launch(c.Context(), app, req.Args); err != nil {
		c.Logger.Error("launch failed", "app", app.ID, "error", err)
		return LaunchAppResponse{}, fmt.Errorf("Failed to launch app with id %s", req.AppID)
	}
	c.Logger.Info("launched app", "app", app.ID)
	return LaunchAppResponse{}, nil
}

func (h *handlers) listApps(c *route.Context, req ListAppsRequest) (ListAppsResponse, error) {
	res := ListAppsResponse{Apps: []AppInfo{}}
	if h.deps.Apps == nil {
		return res, nil
	}
	for _, app := range h.deps.Apps.List() {
		if app.Action && !req.WithActions {
			continue
		}
		program := ""
		if len(app.Exec) > 0 {
			program = app.Exec[0]
		}
		keywords := app.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		res.Apps = append(res.Apps, AppInfo{
			ID:            app.ID,
			Name:          app.Name,
			Hidden:        app.Hidden,
			Path:          app.Path,
			Description:   app.Description,
			Program:       program,
			IsTerminalApp: app.Terminal,
			Keywords:      keywords,
			IsAction:      app.Action,
		})
	}
	return res, nil
}

func (h *handlers) dmenu(c *route.Context, req DMenuRequest) *pending.Future[DMenuResponse] {
	chosen := h.deps.Menu.Present(c.Context(), req)
	return pending.Map(chosen, func(line string) (DMenuResponse, error) {
		return DMenuResponse{Output: line}, nil
	})
}

func (h *handlers) deeplink(c *route.Context, req DeeplinkRequest) (envelope.Empty, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return envelope.Empty{}, fmt.Errorf("invalid deeplink %s: %w", req.URL, err)
	}
	if h.deps.Links == nil {
		return envelope.Empty{}, errors.New("deeplinks are not handled by this instance")
	}
	if err := h.deps.Links.HandleLink(c.Context(), u); err != nil {
		return envelope.Empty{}, err
	}
	return envelope.Empty{}, nil
}

func (h *handlers) browserInit(c *route.Context, req BrowserInitRequest) (envelope.Empty, error) {
	c.Caller.Grant(CapBrowser)
	h.deps.Browsers.Register(Browser{
		ID:        req.ID,
		Name:      req.Name,
		Engine:    req.Engine,
		SessionID: c.Caller.ID(),
	})
	return envelope.Empty{}, nil
}

func (h *handlers) tabsChanged(c *route.Context, tabs []BrowserTab) (envelope.Empty, error) {
	if err := h.deps.Browsers.SetTabs(c.Caller.ID(), tabs); err != nil {
		return envelope.Empty{}, err
	}
	c.Logger.Debug("browser tabs changed", "tabs", len(tabs))
	return envelope.Empty{}, nil
}
