package methods

import (
	"context"
	"errors"
	"net/url"

	"github.com/machinefabric/extipc-go/pending"
)

// ErrDismissed rejects a dmenu future when the user closes the menu without
// choosing
var ErrDismissed = errors.New("menu dismissed")

// App is one launchable desktop application
type App struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Exec        []string `yaml:"exec"`
	Path        string   `yaml:"path"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	Terminal    bool     `yaml:"terminal"`
	Hidden      bool     `yaml:"hidden"`
	Action      bool     `yaml:"action"`
	// WindowClass matches the app's windows for focus-instead-of-launch
	WindowClass string `yaml:"window_class"`
}

// AppDB finds and launches applications
type AppDB interface {
	FindByID(id string) (App, bool)
	List() []App
	Launch(ctx context.Context, app App, args []string) error
}

// Window is a top-level window reported by the window manager
type Window struct {
	ID    string
	Title string
	Class string
}

// WindowManager finds and focuses application windows
type WindowManager interface {
	FindAppWindows(app App) []Window
	Focus(ctx context.Context, w Window) error
}

// MenuPresenter shows a dmenu to the user. The returned future resolves
// with the chosen line or rejects with ErrDismissed. Cancelling the future
// must take the menu down.
type MenuPresenter interface {
	Present(ctx context.Context, req DMenuRequest) *pending.Future[string]
}

// LinkHandler acts on a deeplink URL
type LinkHandler interface {
	HandleLink(ctx context.Context, u *url.URL) error
}

// Pusher sends an unsolicited notification to one connected session
type Pusher interface {
	Push(sessionID, method string, data any) error
}

// Deps is everything the handlers reach into
type Deps struct {
	Version  string
	Apps     AppDB
	Windows  WindowManager
	Menu     MenuPresenter
	Links    LinkHandler
	Browsers *BrowserRegistry
	Pusher   Pusher
}
