// Package methods holds the launcher's concrete RPC vocabulary: the kinds a
// client may call on the gateway and the handlers that serve them.
package methods

import (
	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/route"
)

// CapBrowser is granted by browser/init and gates the browser tab feed
const CapBrowser route.Capability = "browser"

// NotBrowserReason is the rejection sent to sessions that skipped browser/init
const NotBrowserReason = "connection is not a browser integration"

type PingResponse struct {
	Version string `json:"version"`
	PID     int64  `json:"pid"`
}

type LaunchAppRequest struct {
	AppID       string   `json:"appId"`
	Args        []string `json:"args,omitempty"`
	NewInstance bool     `json:"newInstance,omitempty"`
}

type LaunchAppResponse struct {
	// FocusedWindowTitle is set when an existing window was focused instead
	// of starting a new instance
	FocusedWindowTitle string `json:"focusedWindowTitle,omitempty"`
}

type ListAppsRequest struct {
	WithActions bool `json:"withActions,omitempty"`
}

type AppInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Hidden        bool     `json:"hidden"`
	Path          string   `json:"path"`
	Description   string   `json:"description"`
	Program       string   `json:"program"`
	IsTerminalApp bool     `json:"isTerminalApp"`
	Keywords      []string `json:"keywords"`
	IsAction      bool     `json:"isAction"`
}

type ListAppsResponse struct {
	Apps []AppInfo `json:"apps"`
}

// DMenuRequest asks the launcher to let the user pick one line of RawContent
type DMenuRequest struct {
	RawContent      string `json:"rawContent"`
	NavigationTitle string `json:"navigationTitle,omitempty"`
	Placeholder     string `json:"placeholder,omitempty"`
	SectionTitle    string `json:"sectionTitle,omitempty"`
	NoSection       bool   `json:"noSection,omitempty"`
	NoQuickLook     bool   `json:"noQuickLook,omitempty"`
	NoIcon          bool   `json:"noIcon,omitempty"`
	NoMetadata      bool   `json:"noMetadata,omitempty"`
	Query           string `json:"query,omitempty"`
	Width           *int   `json:"width,omitempty"`
	Height          *int   `json:"height,omitempty"`
	NoFooter        bool   `json:"noFooter,omitempty"`
}

type DMenuResponse struct {
	Output string `json:"output"`
}

type DeeplinkRequest struct {
	URL string `json:"url"`
}

type BrowserInitRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Engine string `json:"engine"`
}

type BrowserTab struct {
	ID       int    `json:"id"`
	WindowID int    `json:"windowId"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Active   bool   `json:"active"`
	Muted    bool   `json:"muted"`
	Audible  bool   `json:"audible"`
}

// TabRequest is pushed to a browser integration to act on one of its tabs
type TabRequest struct {
	TabID int `json:"tabId"`
}

var (
	KindPing = envelope.NewKind[envelope.Empty, PingResponse]("ping")

	KindLaunchApp = envelope.NewKind[LaunchAppRequest, LaunchAppResponse]("launch-app").WithSchema(`{
		"type": "object",
		"required": ["appId"],
		"properties": {
			"appId": {"type": "string", "minLength": 1},
			"args": {"type": "array", "items": {"type": "string"}},
			"newInstance": {"type": "boolean"}
		}
	}`)

	KindListApps = envelope.NewKind[ListAppsRequest, ListAppsResponse]("list-apps")

	KindDMenu = envelope.NewKind[DMenuRequest, DMenuResponse]("dmenu").WithSchema(`{
		"type": "object",
		"required": ["rawContent"],
		"properties": {
			"rawContent": {"type": "string"},
			"width": {"type": "integer", "minimum": 0},
			"height": {"type": "integer", "minimum": 0}
		}
	}`)

	KindDeeplink = envelope.NewKind[DeeplinkRequest, envelope.Empty]("deeplink").WithSchema(`{
		"type": "object",
		"required": ["url"],
		"properties": {"url": {"type": "string", "minLength": 1}}
	}`)

	KindBrowserInit = envelope.NewKind[BrowserInitRequest, envelope.Empty]("browser/init").WithSchema(`{
		"type": "object",
		"required": ["id", "name", "engine"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"name": {"type": "string"},
			"engine": {"type": "string"}
		}
	}`)

	KindBrowserTabsChanged = envelope.NewKind[[]BrowserTab, envelope.Empty]("browser/tabs-changed").WithSchema(`{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["id", "url"],
			"properties": {
				"id": {"type": "integer"},
				"windowId": {"type": "integer"},
				"url": {"type": "string"}
			}
		}
	}`)

	KindFocusTab = envelope.NewKind[TabRequest, envelope.Empty]("browser/focus-tab")
	KindCloseTab = envelope.NewKind[TabRequest, envelope.Empty]("browser/close-tab")
)
