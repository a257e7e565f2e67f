package browser_test

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/visiontask/internal/browser"
	"github.com/haasonsaas/visiontask/internal/browser/browsertest"
)

// pageOnly exposes nothing but a page.
type pageOnly struct{ page browser.Page }

func (p pageOnly) Page() browser.Page { return p.page }

func TestResolvePage(t *testing.T) {
	direct := browsertest.NewPage("http://direct")
	fromContext := browsertest.NewPage("http://context")
	fromBrowser := browsertest.NewPage("http://browser")

	tests := []struct {
		name string
		ctrl any
		want browser.Page
	}{
		{"nil controller", nil, nil},
		{"typed nil controller", (*browser.Controller)(nil), nil},
		{"no capabilities", struct{}{}, nil},
		{"direct page", browser.NewController(nil, nil, direct), direct},
		{"page only", pageOnly{page: direct}, direct},
		{
			"direct page wins over context",
			browser.NewController(nil, &browsertest.Context{PageList: []browser.Page{fromContext}}, direct),
			direct,
		},
		{
			"first page of context",
			browser.NewController(nil, &browsertest.Context{PageList: []browser.Page{fromContext, fromBrowser}}, nil),
			fromContext,
		},
		{
			"empty context falls through to browser",
			browser.NewController(
				&browsertest.Browser{ContextList: []browser.Context{
					&browsertest.Context{},
					&browsertest.Context{PageList: []browser.Page{fromBrowser}},
				}},
				&browsertest.Context{},
				nil,
			),
			fromBrowser,
		},
		{
			"nothing open",
			browser.NewController(&browsertest.Browser{}, &browsertest.Context{}, nil),
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := browser.ResolvePage(tt.ctrl); got != tt.want {
				t.Errorf("ResolvePage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestController_ClickOnCoordinates(t *testing.T) {
	page := browsertest.NewPage("http://localhost")
	ctrl := browser.NewController(nil, nil, page)

	if err := ctrl.ClickOnCoordinates(context.Background(), nil, 10, 20); err != nil {
		t.Fatalf("ClickOnCoordinates() error = %v", err)
	}
	other := browsertest.NewPage("http://other")
	if err := ctrl.ClickOnCoordinates(context.Background(), other, 1, 2); err != nil {
		t.Fatalf("ClickOnCoordinates() error = %v", err)
	}

	if got := page.RecordedClicks(); len(got) != 1 || got[0] != (browsertest.Click{X: 10, Y: 20}) {
		t.Errorf("default page clicks = %v", got)
	}
	if got := other.RecordedClicks(); len(got) != 1 || got[0] != (browsertest.Click{X: 1, Y: 2}) {
		t.Errorf("explicit page clicks = %v", got)
	}

	empty := browser.NewController(nil, nil, nil)
	if err := empty.ClickOnCoordinates(context.Background(), nil, 1, 1); !errors.Is(err, browser.ErrNoPage) {
		t.Errorf("ClickOnCoordinates() without page = %v, want ErrNoPage", err)
	}

	page.ClickErr = errors.New("detached")
	if err := ctrl.ClickOnCoordinates(context.Background(), nil, 1, 1); !errors.Is(err, page.ClickErr) {
		t.Errorf("ClickOnCoordinates() error = %v, want wrapped click error", err)
	}
}

func TestController_InstallOnce(t *testing.T) {
	ctrl := browser.NewController(nil, nil, browsertest.NewPage(""))

	builds := 0
	build := func() (any, error) {
		builds++
		// builders may call back into the controller
		_ = ctrl.ActivePage()
		return builds, nil
	}

	first, installed, err := ctrl.InstallOnce("ext", build)
	if err != nil || !installed || first != 1 {
		t.Fatalf("first InstallOnce() = %v, %v, %v", first, installed, err)
	}
	second, installed, err := ctrl.InstallOnce("ext", build)
	if err != nil || installed || second != 1 {
		t.Fatalf("second InstallOnce() = %v, %v, %v", second, installed, err)
	}
	if builds != 1 {
		t.Errorf("builds = %d, want 1", builds)
	}

	boom := errors.New("boom")
	if _, _, err := ctrl.InstallOnce("broken", func() (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Errorf("InstallOnce() error = %v", err)
	}
	if _, ok := ctrl.Extension("broken"); ok {
		t.Error("failed build should leave the key uninstalled")
	}
}

func TestController_NilReceiver(t *testing.T) {
	var ctrl *browser.Controller

	if ctrl.Page() != nil || ctrl.BrowserContext() != nil || ctrl.Browser() != nil {
		t.Error("nil controller should expose no page, context or browser")
	}
	builds := 0
	_, installed, err := ctrl.InstallOnce("ext", func() (any, error) {
		builds++
		return builds, nil
	})
	if !errors.Is(err, browser.ErrNilController) || installed || builds != 0 {
		t.Errorf("InstallOnce() = %v, %v with %d builds", installed, err, builds)
	}
	if _, ok := ctrl.Extension("ext"); ok {
		t.Error("nil controller should hold no extensions")
	}
	if err := ctrl.ClickOnCoordinates(context.Background(), nil, 1, 1); !errors.Is(err, browser.ErrNoPage) {
		t.Errorf("ClickOnCoordinates() error = %v", err)
	}
}

func TestInstallResultString(t *testing.T) {
	tests := map[browser.InstallResult]string{
		browser.InstallApplied:     "applied",
		browser.InstallAlreadyDone: "already_done",
		browser.InstallNoTarget:    "no_target",
		browser.InstallResult(9):   "InstallResult(9)",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
