package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// LaunchConfig configures a local browser launch.
type LaunchConfig struct {
	Headless          bool          // Run without a visible window
	ViewportWidth     int           // Viewport width (default: 1280)
	ViewportHeight    int           // Viewport height (default: 800)
	DeviceScaleFactor float64       // Device pixel ratio (default: 1)
	Timeout           time.Duration // Default timeout for operations
	SkipInstall       bool          // Do not download browsers on first run
}

func (c *LaunchConfig) applyDefaults() {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 800
	}
	if c.DeviceScaleFactor <= 0 {
		c.DeviceScaleFactor = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// PlaywrightSession is a Chromium instance driven by playwright.
type PlaywrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext

	Controller *Controller
}

// LaunchPlaywright starts playwright, launches Chromium and opens one page.
func LaunchPlaywright(cfg LaunchConfig) (*PlaywrightSession, error) {
	cfg.applyDefaults()

	if !cfg.SkipInstall {
		if err := playwright.Install(&playwright.RunOptions{Verbose: false}); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Timeout:  playwright.Float(float64(cfg.Timeout.Milliseconds())),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  cfg.ViewportWidth,
			Height: cfg.ViewportHeight,
		},
		DeviceScaleFactor: playwright.Float(cfg.DeviceScaleFactor),
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	bctx.SetDefaultTimeout(float64(cfg.Timeout.Milliseconds()))

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	s := &PlaywrightSession{pw: pw, browser: browser, bctx: bctx}
	s.Controller = NewController(&pwBrowser{browser: browser}, &pwContext{bctx: bctx}, &pwPage{page: page})
	return s, nil
}

// Close shuts down the browser and playwright.
func (s *PlaywrightSession) Close() error {
	var errs []error
	if s.bctx != nil {
		if err := s.bctx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}
	return errors.Join(errs...)
}

type pwBrowser struct {
	browser playwright.Browser
}

func (b *pwBrowser) Contexts() []Context {
	contexts := b.browser.Contexts()
	out := make([]Context, 0, len(contexts))
	for _, bc := range contexts {
		out = append(out, &pwContext{bctx: bc})
	}
	return out
}

type pwContext struct {
	bctx playwright.BrowserContext
}

func (c *pwContext) Pages() []Page {
	pages := c.bctx.Pages()
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, &pwPage{page: p})
	}
	return out
}

// pwPage adapts a playwright page. Playwright calls are not cancellable, so
// ctx is only checked before each call.
type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if arg == nil {
		return p.page.Evaluate(script)
	}
	return p.page.Evaluate(script, arg)
}

func (p *pwPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shot := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
		Type:     playwright.ScreenshotTypePng,
	}
	if opts.Path != "" {
		shot.Path = playwright.String(opts.Path)
	}
	return p.page.Screenshot(shot)
}

func (p *pwPage) MouseClick(ctx context.Context, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Mouse().Click(x, y)
}

func (p *pwPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	return err
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) OnDialog(fn func(Dialog)) {
	p.page.OnDialog(func(d playwright.Dialog) {
		fn(&pwDialog{dialog: d})
	})
}

type pwDialog struct {
	dialog playwright.Dialog
}

func (d *pwDialog) Type() string         { return d.dialog.Type() }
func (d *pwDialog) Message() string      { return d.dialog.Message() }
func (d *pwDialog) DefaultValue() string { return d.dialog.DefaultValue() }

func (d *pwDialog) Accept(_ context.Context, response *string) error {
	if response == nil {
		return d.dialog.Accept()
	}
	return d.dialog.Accept(*response)
}

var (
	_ Page         = (*pwPage)(nil)
	_ DialogSource = (*pwPage)(nil)
	_ Dialog       = (*pwDialog)(nil)
	_ Context      = (*pwContext)(nil)
	_ Browser      = (*pwBrowser)(nil)
)
