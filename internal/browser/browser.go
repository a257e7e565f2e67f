// Package browser defines the small page/context/browser surface the task
// needs, a Controller that owns one browser session, and playwright and CDP
// backends that implement it.
package browser

import (
	"context"
	"errors"
)

// ErrNoPage is returned when an operation needs a page and none is open.
var ErrNoPage = errors.New("browser: no page available")

// ErrNilController is returned by installs on a nil *Controller.
var ErrNilController = errors.New("browser: nil controller")

// ScreenshotOptions controls a page capture. When Path is set the image is
// also written there.
type ScreenshotOptions struct {
	Path     string
	FullPage bool
}

// Page is a single browser tab.
//
// Scripts passed to Evaluate are JavaScript function expressions such as
// "(arg) => document.title"; arg is JSON-serialized and may be nil.
type Page interface {
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	MouseClick(ctx context.Context, x, y float64) error
	Navigate(ctx context.Context, url string) error
	URL() string
}

// Dialog is a pending alert, confirm, prompt or beforeunload dialog.
type Dialog interface {
	Type() string
	Message() string
	DefaultValue() string
	// Accept closes the dialog. A non-nil response is entered as prompt text.
	Accept(ctx context.Context, response *string) error
}

// DialogSource is implemented by pages that report dialogs.
type DialogSource interface {
	OnDialog(fn func(Dialog))
}

// Context is a browser context (an isolated profile) holding pages.
type Context interface {
	Pages() []Page
}

// Browser is a running browser with one or more contexts.
type Browser interface {
	Contexts() []Context
}

// PageProvider is implemented by controllers that hold a current page.
type PageProvider interface {
	Page() Page
}

// ContextProvider is implemented by controllers that hold a browser context.
type ContextProvider interface {
	BrowserContext() Context
}

// BrowserProvider is implemented by controllers that hold a browser.
type BrowserProvider interface {
	Browser() Browser
}

// ResolvePage finds the page to act on. It tries, in order, the controller's
// own page, the first page of its context, and the first page found scanning
// its browser's contexts. It returns nil when none of these yield a page.
func ResolvePage(ctrl any) Page {
	if ctrl == nil {
		return nil
	}
	if p, ok := ctrl.(PageProvider); ok {
		if page := p.Page(); page != nil {
			return page
		}
	}
	if p, ok := ctrl.(ContextProvider); ok {
		if bc := p.BrowserContext(); bc != nil {
			if pages := bc.Pages(); len(pages) > 0 && pages[0] != nil {
				return pages[0]
			}
		}
	}
	if p, ok := ctrl.(BrowserProvider); ok {
		if b := p.Browser(); b != nil {
			for _, bc := range b.Contexts() {
				if bc == nil {
					continue
				}
				for _, page := range bc.Pages() {
					if page != nil {
						return page
					}
				}
			}
		}
	}
	return nil
}
