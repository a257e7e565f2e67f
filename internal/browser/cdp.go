package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// CDPConfig configures a Chrome DevTools Protocol session. With DebugURL set
// the session attaches to an already running Chrome, e.g.
// "http://localhost:9222"; otherwise a local Chrome is launched.
type CDPConfig struct {
	DebugURL string
	LaunchConfig
}

// CDPSession is a single Chrome tab driven over the DevTools protocol.
type CDPSession struct {
	cancel     context.CancelFunc
	Controller *Controller
}

// LaunchCDP connects to or launches Chrome and opens one tab sized to the
// configured viewport.
func LaunchCDP(ctx context.Context, cfg CDPConfig) (*CDPSession, error) {
	cfg.applyDefaults()

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.DebugURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.DebugURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		taskCancel()
		allocCancel()
	}

	// The first Run allocates the browser and ties it to the context it is
	// given, so it must not be a short-lived one.
	if err := chromedp.Run(taskCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	startCtx, startCancel := context.WithTimeout(taskCtx, cfg.Timeout)
	defer startCancel()
	err := chromedp.Run(startCtx, chromedp.EmulateViewport(
		int64(cfg.ViewportWidth),
		int64(cfg.ViewportHeight),
		chromedp.EmulateScale(cfg.DeviceScaleFactor),
	))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	p := &cdpPage{ctx: taskCtx}
	bc := &cdpContext{pages: []Page{p}}
	return &CDPSession{
		cancel:     cancel,
		Controller: NewController(&cdpBrowser{contexts: []Context{bc}}, bc, p),
	}, nil
}

// Close closes the tab and, for launched sessions, the browser.
func (s *CDPSession) Close() error {
	s.cancel()
	return nil
}

type cdpBrowser struct {
	contexts []Context
}

func (b *cdpBrowser) Contexts() []Context { return b.contexts }

type cdpContext struct {
	pages []Page
}

func (c *cdpContext) Pages() []Page { return c.pages }

type cdpPage struct {
	ctx context.Context

	mu      sync.Mutex
	lastURL string
}

// run executes actions on the tab, aborting when either the tab or ctx ends.
func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *cdpPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	argJSON := ""
	if arg != nil {
		b, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encode script argument: %w", err)
		}
		argJSON = string(b)
	}
	expr := fmt.Sprintf("(%s)(%s)", script, argJSON)

	var res any
	err := p.run(ctx, chromedp.Evaluate(expr, &res, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *cdpPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	if opts.FullPage {
		// quality 100 captures PNG
		action = chromedp.FullScreenshot(&buf, 100)
	} else {
		action = chromedp.CaptureScreenshot(&buf)
	}
	if err := p.run(ctx, action); err != nil {
		return nil, err
	}
	if opts.Path != "" {
		if err := os.WriteFile(opts.Path, buf, 0o644); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (p *cdpPage) MouseClick(ctx context.Context, x, y float64) error {
	return p.run(ctx, chromedp.MouseClickXY(x, y))
}

func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return err
	}
	p.mu.Lock()
	p.lastURL = url
	p.mu.Unlock()
	return nil
}

func (p *cdpPage) URL() string {
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()
	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err == nil {
		return loc
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastURL
}

// OnDialog listens for javascript dialogs on the tab. Handlers run on their
// own goroutine because the CDP event loop must not block on the reply.
func (p *cdpPage) OnDialog(fn func(Dialog)) {
	chromedp.ListenTarget(p.ctx, func(ev any) {
		e, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return
		}
		go fn(&cdpDialog{page: p, event: e})
	})
}

type cdpDialog struct {
	page  *cdpPage
	event *page.EventJavascriptDialogOpening
}

func (d *cdpDialog) Type() string         { return string(d.event.Type) }
func (d *cdpDialog) Message() string      { return d.event.Message }
func (d *cdpDialog) DefaultValue() string { return d.event.DefaultPrompt }

func (d *cdpDialog) Accept(ctx context.Context, response *string) error {
	action := page.HandleJavaScriptDialog(true)
	if response != nil {
		action = action.WithPromptText(*response)
	}
	return d.page.run(ctx, action)
}

var (
	_ Page         = (*cdpPage)(nil)
	_ DialogSource = (*cdpPage)(nil)
	_ Dialog       = (*cdpDialog)(nil)
)
