// Package agent runs a vision-driven browser task: screenshot the page, ask
// the model what to do, perform the actions, repeat.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/visiontask/internal/browser"
	"github.com/haasonsaas/visiontask/internal/llm"
	"github.com/haasonsaas/visiontask/internal/vision"
)

var (
	// ErrTooManyFailures ends a run after MaxFailures consecutive failed steps.
	ErrTooManyFailures = errors.New("agent: too many consecutive failures")
	// ErrMaxSteps ends a run that used every step without finishing.
	ErrMaxSteps = errors.New("agent: step limit reached before the task was done")
	// ErrEmptyResponse is a step failure for a client that returned neither a
	// response nor an error.
	ErrEmptyResponse = errors.New("agent: llm returned no response")
)

// Config controls the step loop.
type Config struct {
	Model             string
	MaxSteps          int
	MaxActionsPerStep int
	MaxFailures       int
	StepTimeout       time.Duration
	LLMTimeout        time.Duration
	VisionDetail      llm.ImageDetail
	DirectlyOpenURL   bool
}

// DefaultConfig returns the settings the sample task runs with.
func DefaultConfig() Config {
	return Config{
		Model:             "gpt-5",
		MaxSteps:          10,
		MaxActionsPerStep: 3,
		MaxFailures:       2,
		StepTimeout:       120 * time.Second,
		LLMTimeout:        120 * time.Second,
		VisionDetail:      llm.ImageDetailLow,
		DirectlyOpenURL:   true,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxSteps <= 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.MaxActionsPerStep <= 0 {
		c.MaxActionsPerStep = def.MaxActionsPerStep
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = def.MaxFailures
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = def.StepTimeout
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = def.LLMTimeout
	}
	if c.VisionDetail == "" {
		c.VisionDetail = def.VisionDetail
	}
}

// HistoryItem is one executed (or failed) action.
type HistoryItem struct {
	Step   int    `json:"step"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

func (h HistoryItem) String() string {
	if h.Error != "" {
		return fmt.Sprintf("step %d: %s -> error: %s", h.Step, h.Action, h.Error)
	}
	return fmt.Sprintf("step %d: %s -> ok", h.Step, h.Action)
}

// Result summarizes a run.
type Result struct {
	Done      bool          `json:"done"`
	Success   bool          `json:"success"`
	FinalText string        `json:"final_text,omitempty"`
	Steps     int           `json:"steps"`
	History   []HistoryItem `json:"history,omitempty"`
}

// StepObserver is told how each step ended: "ok", "done" or "failed".
type StepObserver interface {
	ObserveStep(outcome string)
}

// Clicker performs a click in screenshot coordinates.
type Clicker interface {
	Click(ctx context.Context, args vision.ClickArgs) error
}

// Agent drives one task on one controller.
type Agent struct {
	task     string
	cfg      Config
	client   llm.ChatClient
	ctrl     any
	clicker  Clicker
	logger   *slog.Logger
	observer StepObserver
	tracer   trace.Tracer
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClicker overrides how clicks are performed.
func WithClicker(c Clicker) Option {
	return func(a *Agent) {
		a.clicker = c
	}
}

// WithStepObserver reports step outcomes to o.
func WithStepObserver(o StepObserver) Option {
	return func(a *Agent) {
		a.observer = o
	}
}

// New creates an agent. Clicks go through the wrapper installed on ctrl by
// vision.Install when there is one, else through ctrl's own click.
func New(task string, cfg Config, client llm.ChatClient, ctrl any, opts ...Option) (*Agent, error) {
	if client == nil {
		return nil, errors.New("agent: nil chat client")
	}
	if ctrl == nil {
		return nil, errors.New("agent: nil controller")
	}
	cfg.applyDefaults()

	a := &Agent{
		task:   task,
		cfg:    cfg,
		client: client,
		ctrl:   ctrl,
		logger: slog.Default(),
		tracer: otel.Tracer("visiontask/agent"),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.clicker == nil {
		if c, ok := vision.Installed(ctrl); ok {
			a.clicker = c
		} else if fn, _, ok := vision.ResolveClickFunc(ctrl); ok {
			a.clicker = clickFunc(fn)
		} else {
			return nil, errors.New("agent: controller cannot click")
		}
	}
	return a, nil
}

type clickFunc vision.ClickFunc

func (f clickFunc) Click(ctx context.Context, args vision.ClickArgs) error {
	return f(ctx, args)
}

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>）」]+`)

// FirstURL returns the first http(s) URL in text.
func FirstURL(text string) string {
	return strings.TrimRight(urlPattern.FindString(text), ".,;:)")
}

// Run executes the task until the model reports done, the step limit is
// reached, or MaxFailures consecutive steps fail. The returned Result is
// never nil.
func (a *Agent) Run(ctx context.Context) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.Int("agent.max_steps", a.cfg.MaxSteps),
		attribute.String("agent.model", a.cfg.Model),
	))
	defer span.End()

	res := &Result{}
	err := a.run(ctx, res)
	span.SetAttributes(
		attribute.Int("agent.steps", res.Steps),
		attribute.Bool("agent.success", res.Success),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (a *Agent) run(ctx context.Context, res *Result) error {
	if a.cfg.DirectlyOpenURL {
		if u := FirstURL(a.task); u != "" {
			page := browser.ResolvePage(a.ctrl)
			if page == nil {
				return browser.ErrNoPage
			}
			a.logger.Info("opening task url", "url", u)
			if err := page.Navigate(ctx, u); err != nil {
				return fmt.Errorf("open %s: %w", u, err)
			}
		}
	}

	failures := 0
	for step := 1; step <= a.cfg.MaxSteps; step++ {
		res.Steps = step
		err := a.step(ctx, step, res)
		if err == nil && res.Done {
			a.observe("done")
			a.logger.Info("task finished", "step", step, "success", res.Success)
			return nil
		}
		if err == nil {
			failures = 0
			a.observe("ok")
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		failures++
		a.observe("failed")
		a.logger.Warn("step failed", "step", step, "failures", failures, "error", err)
		if failures >= a.cfg.MaxFailures {
			return fmt.Errorf("%w (%d): %w", ErrTooManyFailures, failures, err)
		}
	}
	return ErrMaxSteps
}

func (a *Agent) observe(outcome string) {
	if a.observer != nil {
		a.observer.ObserveStep(outcome)
	}
}

func (a *Agent) step(ctx context.Context, step int, res *Result) error {
	ctx, span := a.tracer.Start(ctx, "agent.step", trace.WithAttributes(attribute.Int("agent.step", step)))
	defer span.End()

	page := browser.ResolvePage(a.ctrl)
	if page == nil {
		return browser.ErrNoPage
	}

	shot, err := page.Screenshot(ctx, browser.ScreenshotOptions{})
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}

	req, err := a.buildRequest(step, page.URL(), shot, res.History)
	if err != nil {
		return err
	}

	llmCtx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	resp, err := a.client.Invoke(llmCtx, req)
	cancel()
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if resp == nil {
		return ErrEmptyResponse
	}

	decision, err := ParseDecision(resp.Text)
	if err != nil {
		res.History = append(res.History, HistoryItem{Step: step, Action: "reply", Error: err.Error()})
		return err
	}
	a.logger.Info("step decided",
		"step", step,
		"evaluation", decision.Evaluation,
		"next_goal", decision.NextGoal,
		"actions", len(decision.Actions),
	)

	actions := decision.Actions
	if len(actions) > a.cfg.MaxActionsPerStep {
		actions = actions[:a.cfg.MaxActionsPerStep]
	}

	stepCtx, cancel := context.WithTimeout(ctx, a.cfg.StepTimeout)
	defer cancel()
	for _, action := range actions {
		err := a.execute(stepCtx, page, action, res)
		item := HistoryItem{Step: step, Action: action.String()}
		if err != nil {
			item.Error = err.Error()
			res.History = append(res.History, item)
			return fmt.Errorf("%s: %w", action.Type, err)
		}
		res.History = append(res.History, item)
		if res.Done {
			break
		}
	}
	return nil
}

const scrollScript = `(dy) => { window.scrollBy(0, dy); return window.scrollY; }`

func (a *Agent) execute(ctx context.Context, page browser.Page, action Action, res *Result) error {
	a.logger.Debug("action", "action", action.String())
	switch action.Type {
	case ActionClick:
		return a.clicker.Click(ctx, vision.ClickArgs{X: action.X, Y: action.Y, Page: page})
	case ActionNavigate:
		return page.Navigate(ctx, action.URL)
	case ActionScroll:
		_, err := page.Evaluate(ctx, scrollScript, *action.DY)
		return err
	case ActionWait:
		ms := 0
		if action.MS != nil {
			ms = *action.MS
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case ActionDone:
		res.Done = true
		res.FinalText = action.Text
		res.Success = action.Success == nil || *action.Success
		return nil
	default:
		return fmt.Errorf("unknown action %q", action.Type)
	}
}
