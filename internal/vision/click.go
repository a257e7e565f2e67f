// Package vision turns clicks expressed in screenshot pixels into clicks in
// CSS pixels.
//
// Vision models see device pixels of the captured viewport. On HiDPI screens,
// under pinch zoom, or on a scrolled page those differ from the CSS
// coordinates the browser's mouse API expects. Install wraps a controller's
// click capability so every coordinate click is corrected first.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/visiontask/internal/browser"
)

// ErrNoCoordinates is returned when a coordinate click is asked to click
// without both coordinates.
var ErrNoCoordinates = errors.New("vision: click needs both x and y")

// ClickArgs describes one click. X and Y are nil when not given. Page nil
// means the controller's active page.
type ClickArgs struct {
	X    *float64
	Y    *float64
	Page browser.Page
}

// At returns args for a click at (x, y).
func At(x, y float64) ClickArgs {
	return ClickArgs{X: &x, Y: &y}
}

// Point returns the coordinates when both are set.
func (a ClickArgs) Point() (Point, bool) {
	if a.X == nil || a.Y == nil {
		return Point{}, false
	}
	return Point{X: *a.X, Y: *a.Y}, true
}

// ClickFunc performs a click.
type ClickFunc func(ctx context.Context, args ClickArgs) error

// CoordinateClicker clicks at CSS coordinates on a page.
type CoordinateClicker interface {
	ClickOnCoordinates(ctx context.Context, page browser.Page, x, y float64) error
}

// PageCoordinateClicker is the page-relative variant some controllers expose.
type PageCoordinateClicker interface {
	ClickOnPageCoordinates(ctx context.Context, page browser.Page, x, y float64) error
}

// ArgsClicker clicks from a full argument set.
type ArgsClicker interface {
	Click(ctx context.Context, args ClickArgs) error
}

// Click method names, in probe order.
const (
	MethodClickOnCoordinates     = "ClickOnCoordinates"
	MethodClickOnPageCoordinates = "ClickOnPageCoordinates"
	MethodClick                  = "Click"
)

// ResolveClickFunc finds ctrl's click capability, probing CoordinateClicker,
// then PageCoordinateClicker, then ArgsClicker. It reports the method found.
func ResolveClickFunc(ctrl any) (ClickFunc, string, bool) {
	switch c := ctrl.(type) {
	case CoordinateClicker:
		return coordinateFunc(c.ClickOnCoordinates), MethodClickOnCoordinates, true
	case PageCoordinateClicker:
		return coordinateFunc(c.ClickOnPageCoordinates), MethodClickOnPageCoordinates, true
	case ArgsClicker:
		return c.Click, MethodClick, true
	}
	return nil, "", false
}

func coordinateFunc(fn func(context.Context, browser.Page, float64, float64) error) ClickFunc {
	return func(ctx context.Context, args ClickArgs) error {
		p, ok := args.Point()
		if !ok {
			return ErrNoCoordinates
		}
		return fn(ctx, args.Page, p.X, p.Y)
	}
}

const extensionKey = "vision.clicker"

// Clicker wraps a controller's original click and corrects coordinates
// before delegating to it.
type Clicker struct {
	original ClickFunc
	method   string
	ctrl     any
	logger   *slog.Logger
}

// Option configures Install.
type Option func(*Clicker)

// WithLogger sets the logger for correction lines.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Clicker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Install wraps ctrl's click capability.
//
// It returns InstallNoTarget when ctrl is nil or cannot click. When ctrl is a
// browser.ExtensionHost the wrapper is installed at most once, and later calls
// return the first wrapper with InstallAlreadyDone.
func Install(ctrl any, opts ...Option) (*Clicker, browser.InstallResult) {
	if ctrl == nil {
		return nil, browser.InstallNoTarget
	}
	original, method, ok := ResolveClickFunc(ctrl)
	if !ok {
		return nil, browser.InstallNoTarget
	}

	build := func() (any, error) {
		c := &Clicker{original: original, method: method, ctrl: ctrl, logger: slog.Default()}
		for _, opt := range opts {
			opt(c)
		}
		return c, nil
	}

	host, ok := ctrl.(browser.ExtensionHost)
	if !ok {
		c, _ := build()
		return c.(*Clicker), browser.InstallApplied
	}

	ext, installed, err := host.InstallOnce(extensionKey, build)
	if err != nil {
		return nil, browser.InstallNoTarget
	}
	c, ok := ext.(*Clicker)
	if !ok {
		return nil, browser.InstallNoTarget
	}
	if !installed {
		return c, browser.InstallAlreadyDone
	}
	c.logger.Debug("click wrapper installed", "method", method)
	return c, browser.InstallApplied
}

// Installed returns the wrapper previously installed on ctrl.
func Installed(ctrl any) (*Clicker, bool) {
	host, ok := ctrl.(browser.ExtensionHost)
	if !ok {
		return nil, false
	}
	ext, ok := host.Extension(extensionKey)
	if !ok {
		return nil, false
	}
	c, ok := ext.(*Clicker)
	return c, ok
}

// Method reports which click capability is wrapped.
func (c *Clicker) Method() string {
	return c.method
}

// Click corrects the coordinates in args, when there are any and a page is
// available, then calls the original click.
func (c *Clicker) Click(ctx context.Context, args ClickArgs) error {
	raw, ok := args.Point()
	if !ok {
		return c.original(ctx, args)
	}
	page := args.Page
	if page == nil {
		page = browser.ResolvePage(c.ctrl)
	}
	if page == nil {
		return c.original(ctx, args)
	}

	css := c.Correct(ctx, page, raw)
	args.X, args.Y = &css.X, &css.Y
	if err := c.original(ctx, args); err != nil {
		return fmt.Errorf("%s: %w", c.method, err)
	}
	return nil
}

// Correct maps raw onto CSS coordinates using page's current viewport
// metrics. If the metrics cannot be read raw is returned unchanged.
func (c *Clicker) Correct(ctx context.Context, page browser.Page, raw Point) Point {
	res, err := page.Evaluate(ctx, metricsScript, nil)
	if err != nil {
		c.logger.Warn("viewport metrics unavailable, clicking raw coordinates",
			"x", raw.X, "y", raw.Y, "error", err)
		return raw
	}
	css := parseMetrics(res).Correct(raw)
	c.logger.Debug("click corrected",
		"raw_x", raw.X, "raw_y", raw.Y,
		"css_x", css.X, "css_y", css.Y)
	return css
}

var _ ArgsClicker = (*Clicker)(nil)
