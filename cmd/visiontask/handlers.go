package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/visiontask/internal/agent"
	"github.com/haasonsaas/visiontask/internal/browser"
	"github.com/haasonsaas/visiontask/internal/config"
	"github.com/haasonsaas/visiontask/internal/dialog"
	"github.com/haasonsaas/visiontask/internal/llm"
	"github.com/haasonsaas/visiontask/internal/observability"
	"github.com/haasonsaas/visiontask/internal/screenshot"
	"github.com/haasonsaas/visiontask/internal/usage"
	"github.com/haasonsaas/visiontask/internal/vision"
)

// =============================================================================
// Run Command Handler
// =============================================================================

// runTask loads configuration, wires the browser, LLM and helpers together
// and runs the agent once. The result and usage blocks go to out.
func runTask(ctx context.Context, opts runOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(resolveConfigPath(opts.configPath, os.Getenv))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyRunFlags(cfg, opts)

	task, err := taskText(cfg.Task)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(logConfig(cfg.Logging)).With("run_id", uuid.NewString())
	slog.SetDefault(logger)

	tracer, shutdownTracing := observability.NewTracer(traceConfig(cfg.Observability.Tracing))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	ctx, span := tracer.Start(ctx, "visiontask.run",
		attribute.String("task.url", cfg.Task.URL),
		attribute.String("llm.provider", cfg.LLM.Provider),
		attribute.String("browser.backend", cfg.Browser.Backend),
	)
	defer span.End()
	if id := observability.GetTraceID(ctx); id != "" {
		logger = logger.With("trace_id", id)
	}

	metrics := observability.NewMetrics()

	logger.Info("starting visiontask",
		"version", version,
		"model", cfg.Agent.Model,
		"provider", cfg.LLM.Provider,
		"backend", cfg.Browser.Backend,
		"url", cfg.Task.URL,
	)

	client := llm.NewTrackingClient(
		llm.Expand(newInvoker(cfg), cfg.LLM.Concurrency),
		llm.WithLogger(logger),
		llm.WithUsageObserver(metrics),
		llm.WithHistory(cfg.LLM.History),
	)

	ctrl, closeBrowser, err := launchBrowser(ctx, cfg.Browser)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	defer func() {
		if err := closeBrowser(); err != nil {
			logger.Warn("browser close failed", "error", err)
		}
	}()

	_, clickResult := vision.Install(ctrl, vision.WithLogger(logger))
	logger.Info("vision click installed", "result", clickResult.String())

	handler, dialogResult := dialog.Install(ctrl, dialogOptions(cfg.Dialog, logger, metrics)...)
	logger.Info("dialog handler installed", "result", dialogResult.String())

	a, err := agent.New(task, agentConfig(cfg.Agent), client, ctrl,
		agent.WithLogger(logger),
		agent.WithStepObserver(metrics),
	)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}

	res, runErr := a.Run(ctx)
	printResult(out, res)
	if handler != nil {
		printDialogs(out, handler.Log().Entries())
	}

	if screenshot.ShouldAutoSave(os.Getenv) {
		saver := screenshot.NewSaver(logger)
		saver.Save(ctx, ctrl, screenshotDir(opts.screenshotDir, cfg.Screenshots.Dir, os.Getenv))
	}

	if err := printUsage(out, client, usage.Cost{Input: cfg.LLM.Pricing.Input, Output: cfg.LLM.Pricing.Output}); err != nil {
		logger.Warn("failed to print usage", "error", err)
	}
	logger.Info(client.String())

	if path := cfg.Observability.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			logger.Warn("failed to write metrics textfile", "path", path, "error", err)
		}
	}

	if runErr != nil {
		tracer.RecordError(span, runErr)
		return fmt.Errorf("agent run failed: %w", runErr)
	}
	return nil
}

// resolveConfigPath prefers the flag, then VISIONTASK_CONFIG. An empty
// result means defaults only.
func resolveConfigPath(path string, getenv func(string) string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	return strings.TrimSpace(getenv(config.EnvConfigPath))
}

func applyRunFlags(cfg *config.Config, opts runOptions) {
	if opts.url != "" {
		cfg.Task.URL = opts.url
	}
	if opts.taskFile != "" {
		cfg.Task.File = opts.taskFile
		cfg.Task.Text = ""
	}
	if opts.headless != nil {
		headless := *opts.headless
		cfg.Browser.Headless = &headless
	}
	if opts.backend != "" {
		cfg.Browser.Backend = opts.backend
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
}

// screenshotDir picks the flag, then AUTO_SAVE_SCREENSHOTS_DIR, then the
// configured directory. An empty result lets the saver use its default.
func screenshotDir(flagDir, configDir string, getenv func(string) string) string {
	if flagDir != "" {
		return flagDir
	}
	if strings.TrimSpace(getenv(screenshot.EnvDir)) != "" {
		return ""
	}
	return configDir
}

func logConfig(cfg config.LoggingConfig) observability.LogConfig {
	return observability.LogConfig{
		Level:     cfg.Level,
		Format:    cfg.Format,
		AddSource: cfg.AddSource,
	}
}

func traceConfig(cfg config.TracingConfig) observability.TraceConfig {
	return observability.TraceConfig{
		Enabled:        cfg.Enabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Endpoint,
		SamplingRate:   cfg.SamplingRate,
		Attributes:     cfg.Attributes,
		EnableInsecure: cfg.Insecure,
	}
}

func agentConfig(cfg config.AgentConfig) agent.Config {
	directly := true
	if cfg.DirectlyOpenURL != nil {
		directly = *cfg.DirectlyOpenURL
	}
	return agent.Config{
		Model:             cfg.Model,
		MaxSteps:          cfg.MaxSteps,
		MaxActionsPerStep: cfg.MaxActionsPerStep,
		MaxFailures:       cfg.MaxFailures,
		StepTimeout:       cfg.StepTimeout,
		LLMTimeout:        cfg.LLMTimeout,
		VisionDetail:      llm.ImageDetail(cfg.VisionDetail),
		DirectlyOpenURL:   directly,
	}
}

// newInvoker builds the provider backend named by cfg.LLM.Provider.
func newInvoker(cfg *config.Config) llm.Invoker {
	switch cfg.LLM.Provider {
	case "anthropic":
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.Agent.Model,
			MaxTokens:    cfg.LLM.MaxTokens,
			MaxRetries:   cfg.LLM.MaxRetries,
			RetryDelay:   cfg.LLM.RetryDelay,
		})
	default:
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.Agent.Model,
			MaxRetries:   cfg.LLM.MaxRetries,
			RetryDelay:   cfg.LLM.RetryDelay,
		})
	}
}

func dialogOptions(cfg config.DialogConfig, logger *slog.Logger, observer dialog.Observer) []dialog.Option {
	opts := []dialog.Option{
		dialog.WithLogger(logger),
		dialog.WithObserver(observer),
		dialog.WithLogCapacity(cfg.LogCapacity),
	}
	if len(cfg.Rules) > 0 {
		rules := make([]dialog.Rule, len(cfg.Rules))
		for i, r := range cfg.Rules {
			rules[i] = dialog.Rule{Marker: r.Marker, Answer: r.Answer}
		}
		opts = append(opts, dialog.WithRules(rules))
	}
	return opts
}

// launchBrowser starts the configured backend and returns its controller
// with a close function.
func launchBrowser(ctx context.Context, cfg config.BrowserConfig) (*browser.Controller, func() error, error) {
	launch := browser.LaunchConfig{
		ViewportWidth:     cfg.ViewportWidth,
		ViewportHeight:    cfg.ViewportHeight,
		DeviceScaleFactor: cfg.DeviceScaleFactor,
		Timeout:           cfg.Timeout,
		SkipInstall:       cfg.SkipInstall,
	}
	if cfg.Headless != nil {
		launch.Headless = *cfg.Headless
	}

	switch cfg.Backend {
	case "cdp":
		session, err := browser.LaunchCDP(ctx, browser.CDPConfig{DebugURL: cfg.CDPURL, LaunchConfig: launch})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to launch chrome: %w", err)
		}
		return session.Controller, session.Close, nil
	case "playwright", "":
		session, err := browser.LaunchPlaywright(launch)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to launch chromium: %w", err)
		}
		return session.Controller, session.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown browser backend %q", cfg.Backend)
	}
}

// printResult writes the result block.
func printResult(w io.Writer, res *agent.Result) {
	if res == nil {
		res = &agent.Result{}
	}
	fmt.Fprintln(w, "\n===== AGENT RESULT =====")
	fmt.Fprintf(w, "done   : %t\n", res.Done)
	fmt.Fprintf(w, "success: %t\n", res.Success)
	fmt.Fprintf(w, "steps  : %d\n", res.Steps)
	if res.FinalText != "" {
		fmt.Fprintf(w, "result : %s\n", res.FinalText)
	}
	for _, item := range res.History {
		fmt.Fprintf(w, "  %s\n", item)
	}
}

func printDialogs(w io.Writer, records []dialog.Record) {
	if len(records) == 0 {
		return
	}
	fmt.Fprintln(w, "\n===== DIALOGS =====")
	for _, r := range records {
		fmt.Fprintln(w, dialog.FormatLine(r))
	}
}

// usageReport is the view of tracked usage printed after a run.
type usageReport interface {
	Totals() usage.Totals
	Models() []string
	ModelTotals(model string) (usage.Totals, bool)
	RecentCalls(limit int) []usage.Call
}

// recentCallLines bounds the per-call lines printed after the totals.
const recentCallLines = 10

// printUsage writes the totals block, the estimated cost when pricing is
// set, one line per model and the most recent calls.
func printUsage(w io.Writer, report usageReport, cost usage.Cost) error {
	totals := report.Totals()
	if _, err := io.WriteString(w, usage.FormatTotals(totals)); err != nil {
		return err
	}
	if !cost.IsZero() {
		amount := usage.FormatUSD(cost.Estimate(totals))
		if amount == "" {
			amount = "$0.00"
		}
		if _, err := fmt.Fprintf(w, "estimated_cost: %s\n", amount); err != nil {
			return err
		}
	}
	for _, model := range report.Models() {
		t, ok := report.ModelTotals(model)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(w, "model %s: %s calls=%d\n", model, usage.FormatSummary(t), t.Calls); err != nil {
			return err
		}
	}
	for _, c := range report.RecentCalls(recentCallLines) {
		if _, err := fmt.Fprintf(w, "call [%s] %s %s\n", c.Entry, c.Model, c.Usage); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Schema and Version Handlers
// =============================================================================

func runSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("failed to build schema: %w", err)
	}
	if len(schema) == 0 {
		return errors.New("empty schema")
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func runVersion(out io.Writer) error {
	_, err := fmt.Fprintf(out, "visiontask %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
	return err
}
