// Package dialog answers JavaScript dialogs so they never block the page.
//
// Prompts are answered from a small rule table keyed on substrings of the
// prompt message; every other dialog is accepted. Each handled dialog is
// kept in a bounded Log and echoed into an overlay on the page so it shows
// up in later screenshots.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/visiontask/internal/browser"
)

// TypePrompt is the dialog type that takes a text response.
const TypePrompt = "prompt"

// OverlayElementID is the id of the page element dialog lines are written to.
const OverlayElementID = "dialog-log-overlay"

const overlayScript = `(line) => {
  let el = document.getElementById("` + OverlayElementID + `");
  if (!el) {
    el = document.createElement("div");
    el.id = "` + OverlayElementID + `";
    el.style.cssText = "position:fixed;right:8px;bottom:8px;z-index:2147483647;" +
      "max-width:40vw;max-height:30vh;overflow:auto;padding:6px 8px;" +
      "background:rgba(0,0,0,0.75);color:#fff;font:12px/1.4 monospace;" +
      "white-space:pre-wrap;pointer-events:none";
    (document.body || document.documentElement).appendChild(el);
  }
  const row = document.createElement("div");
  row.textContent = line;
  el.appendChild(row);
  return el.childElementCount;
}`

// Rule answers prompts whose message contains Marker.
type Rule struct {
	Marker string `yaml:"marker" json:"marker"`
	Answer string `yaml:"answer" json:"answer"`
}

// DefaultRules answer the name and email prompts of the sample form.
func DefaultRules() []Rule {
	return []Rule{
		{Marker: "氏名", Answer: "Taro Yamada"},
		{Marker: "メール", Answer: "taro@example.com"},
	}
}

// Response returns the text to enter for a prompt: the first rule whose
// marker occurs in message, else defaultValue.
func Response(rules []Rule, message, defaultValue string) string {
	for _, r := range rules {
		if r.Marker != "" && strings.Contains(message, r.Marker) {
			return r.Answer
		}
	}
	return defaultValue
}

// FormatLine renders a record as one overlay line.
func FormatLine(r Record) string {
	return fmt.Sprintf("[%s] %s", r.Type, r.Message)
}

// Observer is told about every handled dialog.
type Observer interface {
	ObserveDialog(kind string)
}

// Handler answers dialogs raised on one page.
type Handler struct {
	page     browser.Page
	rules    []Rule
	log      *Log
	logger   *slog.Logger
	observer Observer
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithRules replaces the default prompt rules.
func WithRules(rules []Rule) Option {
	return func(h *Handler) {
		h.rules = rules
	}
}

// WithLogCapacity bounds the dialog log.
func WithLogCapacity(n int) Option {
	return func(h *Handler) {
		h.log = NewLog(n)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithObserver reports handled dialogs to o.
func WithObserver(o Observer) Option {
	return func(h *Handler) {
		h.observer = o
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler creates a handler bound to page. It does not subscribe to the
// page's dialogs; see Install.
func NewHandler(page browser.Page, opts ...Option) *Handler {
	h := &Handler{
		page:    page,
		rules:   DefaultRules(),
		log:     NewLog(DefaultLogCapacity),
		logger:  slog.Default(),
		timeout: 10 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Log returns the handler's dialog log.
func (h *Handler) Log() *Log {
	return h.log
}

// Handle answers d, records it and updates the overlay. Failures are logged.
func (h *Handler) Handle(d browser.Dialog) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	kind, message := d.Type(), d.Message()

	var response *string
	if kind == TypePrompt {
		answer := Response(h.rules, message, d.DefaultValue())
		response = &answer
	}
	if err := d.Accept(ctx, response); err != nil {
		h.logger.Warn("dialog accept failed", "type", kind, "error", err)
	} else if response != nil {
		h.logger.Info("dialog answered", "type", kind, "message", message, "response", *response)
	} else {
		h.logger.Info("dialog accepted", "type", kind, "message", message)
	}

	rec := Record{Type: kind, Message: message, Timestamp: h.now()}
	h.log.Append(rec)
	if h.observer != nil {
		h.observer.ObserveDialog(kind)
	}

	if h.page == nil {
		return
	}
	if _, err := h.page.Evaluate(ctx, overlayScript, FormatLine(rec)); err != nil {
		h.logger.Warn("dialog overlay update failed", "error", err)
	}
}

const extensionKey = "dialog.handler"

var errNoDialogPage = errors.New("dialog: no page with dialog events")

// Install subscribes a Handler to the dialogs of ctrl's active page.
//
// It returns InstallNoTarget when ctrl is nil, has no page, or its page does
// not report dialogs. When ctrl is a browser.ExtensionHost the handler is
// installed at most once and later calls return it with InstallAlreadyDone.
func Install(ctrl any, opts ...Option) (*Handler, browser.InstallResult) {
	if ctrl == nil {
		return nil, browser.InstallNoTarget
	}

	build := func() (any, error) {
		page := browser.ResolvePage(ctrl)
		if page == nil {
			return nil, errNoDialogPage
		}
		src, ok := page.(browser.DialogSource)
		if !ok {
			return nil, errNoDialogPage
		}
		h := NewHandler(page, opts...)
		src.OnDialog(h.Handle)
		h.logger.Debug("dialog handler installed", "url", page.URL())
		return h, nil
	}

	host, ok := ctrl.(browser.ExtensionHost)
	if !ok {
		ext, err := build()
		if err != nil {
			return nil, browser.InstallNoTarget
		}
		return ext.(*Handler), browser.InstallApplied
	}

	ext, installed, err := host.InstallOnce(extensionKey, build)
	if err != nil {
		return nil, browser.InstallNoTarget
	}
	h, ok := ext.(*Handler)
	if !ok {
		return nil, browser.InstallNoTarget
	}
	if !installed {
		return h, browser.InstallAlreadyDone
	}
	return h, browser.InstallApplied
}
