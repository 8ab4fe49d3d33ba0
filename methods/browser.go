package methods

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrNoSuchBrowser = errors.New("No such browser")
	ErrNoSuchTab     = errors.New("No such tab")
)

// Browser is a connected browser integration and its last reported tabs
type Browser struct {
	ID        string
	Name      string
	Engine    string
	SessionID string
	Tabs      []BrowserTab
}

// Tab is a browser tab together with the browser that owns it
type Tab struct {
	BrowserTab
	BrowserID string
}

// UniqueID identifies a tab across browsers
func (t Tab) UniqueID() string {
	return fmt.Sprintf("%s-%d", t.BrowserID, t.ID)
}

// BrowserRegistry tracks browser integrations by the session they arrived
// on. Tab actions are pushed back to exactly that session.
type BrowserRegistry struct {
	logger *slog.Logger

	mu       sync.Mutex
	pusher   Pusher
	browsers []*Browser
	onChange []func()
}

func NewBrowserRegistry(logger *slog.Logger) *BrowserRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserRegistry{logger: logger.With("component", "browsers")}
}

// Bind sets where tab actions are pushed
func (r *BrowserRegistry) Bind(p Pusher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pusher = p
}

// OnChange registers fn to run whenever the set of tabs changes
func (r *BrowserRegistry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// Register adds a browser, replacing one with the same id
func (r *BrowserRegistry) Register(b Browser) {
	r.mu.Lock()
	if i := r.index(b.ID); i >= 0 {
		r.browsers[i] = &b
	} else {
		r.browsers = append(r.browsers, &b)
	}
	r.mu.Unlock()
	r.logger.Info("browser registered", "browser", b.ID, "name", b.Name, "engine", b.Engine, "session", b.SessionID)
	r.changed()
}

// Unregister removes a browser by id
func (r *BrowserRegistry) Unregister(id string) bool {
	r.mu.Lock()
	i := r.index(id)
	if i >= 0 {
		r.browsers = append(r.browsers[:i], r.browsers[i+1:]...)
	}
	r.mu.Unlock()
	if i < 0 {
		return false
	}
	r.logger.Info("browser unregistered", "browser", id)
	r.changed()
	return true
}

// Disconnected drops every browser registered from sessionID
func (r *BrowserRegistry) Disconnected(sessionID string) int {
	r.mu.Lock()
	kept := r.browsers[:0]
	removed := 0
	for _, b := range r.browsers {
		if b.SessionID == sessionID {
			removed++
			continue
		}
		kept = append(kept, b)
	}
	for i := len(kept); i < len(r.browsers); i++ {
		r.browsers[i] = nil
	}
	r.browsers = kept
	r.mu.Unlock()
	if removed > 0 {
		r.logger.Info("browser session closed", "session", sessionID, "browsers", removed)
		r.changed()
	}
	return removed
}

// SetTabs replaces the tab list of the browser registered from sessionID
func (r *BrowserRegistry) SetTabs(sessionID string, tabs []BrowserTab) error {
	r.mu.Lock()
	var found *Browser
	for _, b := range r.browsers {
		if b.SessionID == sessionID {
			found = b
			break
		}
	}
	if found != nil {
		found.Tabs = append([]BrowserTab(nil), tabs...)
	}
	r.mu.Unlock()
	if found == nil {
		return ErrNoSuchBrowser
	}
	r.changed()
	return nil
}

// Browsers returns a snapshot of the registered browsers in registration order
func (r *BrowserRegistry) Browsers() []Browser {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Browser, 0, len(r.browsers))
	for _, b := range r.browsers {
		cp := *b
		cp.Tabs = append([]BrowserTab(nil), b.Tabs...)
		out = append(out, cp)
	}
	return out
}

// Tabs returns every tab of every browser
func (r *BrowserRegistry) Tabs() []Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Tab
	for _, b := range r.browsers {
		for _, t := range b.Tabs {
			out = append(out, Tab{BrowserTab: t, BrowserID: b.ID})
		}
	}
	return out
}

// ActiveTab returns the active tab of the first browser that has one
func (r *BrowserRegistry) ActiveTab() (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.browsers {
		for _, t := range b.Tabs {
			if t.Active {
				return Tab{BrowserTab: t, BrowserID: b.ID}, true
			}
		}
	}
	return Tab{}, false
}

// FocusTab asks the owning browser to focus a tab
func (r *BrowserRegistry) FocusTab(browserID string, tabID int) error {
	r.mu.Lock()
	b, _ := r.find(browserID)
	pusher := r.pusher
	var session string
	if b != nil {
		session = b.SessionID
	}
	r.mu.Unlock()
	if b == nil {
		return ErrNoSuchBrowser
	}
	return r.push(pusher, session, KindFocusTab.Key(), tabID)
}

// CloseTab removes a tab right away, without waiting for the browser's next
// tab report, and asks the owning browser to close it
func (r *BrowserRegistry) CloseTab(browserID string, tabID int) error {
	r.mu.Lock()
	b, _ := r.find(browserID)
	if b == nil {
		r.mu.Unlock()
		return ErrNoSuchBrowser
	}
	idx := -1
	for i, t := range b.Tabs {
		if t.ID == tabID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return ErrNoSuchTab
	}
	b.Tabs = append(b.Tabs[:idx], b.Tabs[idx+1:]...)
	session := b.SessionID
	pusher := r.pusher
	r.mu.Unlock()

	r.changed()
	return r.push(pusher, session, KindCloseTab.Key(), tabID)
}

func (r *BrowserRegistry) push(p Pusher, sessionID, method string, tabID int) error {
	if p == nil {
		return errors.New("browser registry is not bound to a gateway")
	}
	if err := p.Push(sessionID, method, TabRequest{TabID: tabID}); err != nil {
		r.logger.Warn("tab action not delivered", "method", method, "session", sessionID, "error", err)
		return err
	}
	return nil
}

func (r *BrowserRegistry) find(id string) (*Browser, int) {
	i := r.index(id)
	if i < 0 {
		return nil, -1
	}
	return r.browsers[i], i
}

func (r *BrowserRegistry) index(id string) int {
	for i, b := range r.browsers {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func (r *BrowserRegistry) changed() {
	r.mu.Lock()
	hooks := append([]func(){}, r.onChange...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
