package browser

import (
	"context"
	"fmt"
	"sync"
)

// InstallResult reports what an idempotent installer did.
type InstallResult int

const (
	// InstallApplied means the extension was installed by this call.
	InstallApplied InstallResult = iota
	// InstallAlreadyDone means an earlier call installed it.
	InstallAlreadyDone
	// InstallNoTarget means there was nothing to install onto.
	InstallNoTarget
)

func (r InstallResult) String() string {
	switch r {
	case InstallApplied:
		return "applied"
	case InstallAlreadyDone:
		return "already_done"
	case InstallNoTarget:
		return "no_target"
	default:
		return fmt.Sprintf("InstallResult(%d)", int(r))
	}
}

// ExtensionHost is implemented by controllers that can carry installed
// extensions such as the click wrapper or the dialog handler.
type ExtensionHost interface {
	// InstallOnce runs build the first time key is installed and returns the
	// stored value on every later call. installed is true only for the call
	// that ran build. A build error leaves key uninstalled.
	InstallOnce(key string, build func() (any, error)) (ext any, installed bool, err error)
	Extension(key string) (any, bool)
}

// Controller owns one browser session and is what the agent acts through.
type Controller struct {
	mu      sync.Mutex
	browser Browser
	bctx    Context
	page    Page

	// extMu is held while an extension builds, so builders may call back
	// into the controller.
	extMu      sync.Mutex
	extensions map[string]any
}

// NewController creates a controller. Any of the arguments may be nil; the
// page is then resolved from the context or browser on demand.
func NewController(b Browser, bc Context, page Page) *Controller {
	return &Controller{
		browser:    b,
		bctx:       bc,
		page:       page,
		extensions: make(map[string]any),
	}
}

// Page returns the current page, or nil.
func (c *Controller) Page() Page {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// SetPage makes page the current page.
func (c *Controller) SetPage(page Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page = page
}

// BrowserContext returns the session's browser context, or nil.
func (c *Controller) BrowserContext() Context {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bctx
}

// Browser returns the session's browser, or nil.
func (c *Controller) Browser() Browser {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.browser
}

// ActivePage resolves the page to act on.
func (c *Controller) ActivePage() Page {
	return ResolvePage(c)
}

// ClickOnCoordinates clicks at CSS pixel (x, y). A nil page means the active
// page.
func (c *Controller) ClickOnCoordinates(ctx context.Context, page Page, x, y float64) error {
	if page == nil {
		page = c.ActivePage()
	}
	if page == nil {
		return ErrNoPage
	}
	if err := page.MouseClick(ctx, x, y); err != nil {
		return fmt.Errorf("click at (%.1f, %.1f): %w", x, y, err)
	}
	return nil
}

// InstallOnce implements ExtensionHost. A nil controller reports
// ErrNilController.
func (c *Controller) InstallOnce(key string, build func() (any, error)) (any, bool, error) {
	if c == nil {
		return nil, false, ErrNilController
	}
	c.extMu.Lock()
	defer c.extMu.Unlock()
	if ext, ok := c.extensions[key]; ok {
		return ext, false, nil
	}
	ext, err := build()
	if err != nil {
		return nil, false, err
	}
	c.extensions[key] = ext
	return ext, true, nil
}

// Extension returns the value installed under key.
func (c *Controller) Extension(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.extMu.Lock()
	defer c.extMu.Unlock()
	ext, ok := c.extensions[key]
	return ext, ok
}

var (
	_ PageProvider    = (*Controller)(nil)
	_ ContextProvider = (*Controller)(nil)
	_ BrowserProvider = (*Controller)(nil)
	_ ExtensionHost   = (*Controller)(nil)
)
