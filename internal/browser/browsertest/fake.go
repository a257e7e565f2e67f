// Package browsertest provides in-memory fakes of the browser contracts for
// tests.
package browsertest

import (
	"context"
	"os"
	"sync"

	"github.com/haasonsaas/visiontask/internal/browser"
)

// PNG is a minimal payload returned by fake screenshots.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Click is one recorded mouse click.
type Click struct {
	X, Y float64
}

// Page is a scriptable fake page.
type Page struct {
	mu sync.Mutex

	// EvaluateFunc answers Evaluate. Nil returns (nil, nil).
	EvaluateFunc func(script string, arg any) (any, error)
	// ScreenshotErr fails every Screenshot call.
	ScreenshotErr error
	// ClickErr fails every MouseClick call.
	ClickErr error

	CurrentURL  string
	Clicks      []Click
	Scripts     []string
	Screenshots []browser.ScreenshotOptions

	dialogHandlers []func(browser.Dialog)
}

// NewPage returns a fake page at url.
func NewPage(url string) *Page {
	return &Page{CurrentURL: url}
}

func (p *Page) Evaluate(_ context.Context, script string, arg any) (any, error) {
	p.mu.Lock()
	p.Scripts = append(p.Scripts, script)
	fn := p.EvaluateFunc
	p.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(script, arg)
}

func (p *Page) Screenshot(_ context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	p.Screenshots = append(p.Screenshots, opts)
	err := p.ScreenshotErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if opts.Path != "" {
		if err := os.WriteFile(opts.Path, PNG, 0o644); err != nil {
			return nil, err
		}
	}
	return PNG, nil
}

func (p *Page) MouseClick(_ context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ClickErr != nil {
		return p.ClickErr
	}
	p.Clicks = append(p.Clicks, Click{X: x, Y: y})
	return nil
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentURL = url
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL
}

func (p *Page) OnDialog(fn func(browser.Dialog)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialogHandlers = append(p.dialogHandlers, fn)
}

// DialogHandlers returns the number of registered dialog listeners.
func (p *Page) DialogHandlers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dialogHandlers)
}

// Fire delivers d to every registered dialog listener, synchronously.
func (p *Page) Fire(d browser.Dialog) {
	p.mu.Lock()
	handlers := append([]func(browser.Dialog){}, p.dialogHandlers...)
	p.mu.Unlock()
	for _, fn := range handlers {
		fn(d)
	}
}

// RecordedClicks returns a copy of the clicks so far.
func (p *Page) RecordedClicks() []Click {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Click(nil), p.Clicks...)
}

// RecordedScripts returns a copy of the evaluated scripts so far.
func (p *Page) RecordedScripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Scripts...)
}

// Plain hides p's OnDialog method.
func Plain(p *Page) browser.Page {
	return struct{ browser.Page }{p}
}

// Dialog is a fake dialog that records how it was answered.
type Dialog struct {
	Kind    string
	Text    string
	Default string

	mu       sync.Mutex
	accepted bool
	response *string
}

func (d *Dialog) Type() string         { return d.Kind }
func (d *Dialog) Message() string      { return d.Text }
func (d *Dialog) DefaultValue() string { return d.Default }

func (d *Dialog) Accept(_ context.Context, response *string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accepted = true
	d.response = response
	return nil
}

// Answer reports whether the dialog was accepted and with what response.
func (d *Dialog) Answer() (accepted bool, response *string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accepted, d.response
}

// Context is a fake browser context.
type Context struct {
	PageList []browser.Page
}

func (c *Context) Pages() []browser.Page { return c.PageList }

// Browser is a fake browser.
type Browser struct {
	ContextList []browser.Context
}

func (b *Browser) Contexts() []browser.Context { return b.ContextList }

var (
	_ browser.Page         = (*Page)(nil)
	_ browser.DialogSource = (*Page)(nil)
	_ browser.Dialog       = (*Dialog)(nil)
	_ browser.Context      = (*Context)(nil)
	_ browser.Browser      = (*Browser)(nil)
)
