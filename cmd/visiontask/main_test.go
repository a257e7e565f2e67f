package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/visiontask/internal/agent"
	"github.com/haasonsaas/visiontask/internal/config"
	"github.com/haasonsaas/visiontask/internal/dialog"
	"github.com/haasonsaas/visiontask/internal/llm"
	"github.com/haasonsaas/visiontask/internal/usage"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"run", "schema", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestRunCmdFlags(t *testing.T) {
	cmd := buildRunCmd()
	for _, name := range []string{"config", "url", "task-file", "headless", "screenshot-dir", "backend", "debug"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("run command missing --%s", name)
		}
	}
}

func TestSchemaCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"schema"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("schema error = %v", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(out.Bytes(), &schema); err != nil {
		t.Fatalf("schema output is not JSON: %v", err)
	}
	if schema["title"] != "visiontask configuration" {
		t.Errorf("title = %v", schema["title"])
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "visiontask "+version) {
		t.Errorf("version output = %q", out.String())
	}
}

func TestResolveConfigPath(t *testing.T) {
	env := func(v string) func(string) string {
		return func(key string) string {
			if key == config.EnvConfigPath {
				return v
			}
			return ""
		}
	}

	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"flag wins", "a.yaml", "b.yaml", "a.yaml"},
		{"env fallback", "", "b.yaml", "b.yaml"},
		{"nothing", " ", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveConfigPath(tt.flag, env(tt.env)); got != tt.want {
				t.Errorf("resolveConfigPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyRunFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Task.Text = "inline"
	headless := true

	applyRunFlags(cfg, runOptions{
		url:      "http://localhost:9000/form.html",
		taskFile: "task.txt",
		headless: &headless,
		backend:  "cdp",
		debug:    true,
	})

	if cfg.Task.URL != "http://localhost:9000/form.html" {
		t.Errorf("URL = %q", cfg.Task.URL)
	}
	if cfg.Task.File != "task.txt" || cfg.Task.Text != "" {
		t.Errorf("task = %+v, want file to replace inline text", cfg.Task)
	}
	if cfg.Browser.Headless == nil || !*cfg.Browser.Headless {
		t.Error("headless flag not applied")
	}
	if cfg.Browser.Backend != "cdp" || cfg.Logging.Level != "debug" {
		t.Errorf("backend = %q, level = %q", cfg.Browser.Backend, cfg.Logging.Level)
	}

	untouched := config.Default()
	applyRunFlags(untouched, runOptions{})
	if *untouched.Browser.Headless {
		t.Error("empty flags should leave headless unchanged")
	}
}

func TestTaskText(t *testing.T) {
	dir := t.TempDir()
	taskFile := filepath.Join(dir, "task.txt")
	if err := os.WriteFile(taskFile, []byte("  open the page  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	emptyFile := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(emptyFile, []byte(" \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		cfg     config.TaskConfig
		want    string
		wantErr bool
	}{
		{"inline text", config.TaskConfig{Text: "do it", File: taskFile}, "do it", false},
		{"file", config.TaskConfig{File: taskFile}, "open the page", false},
		{"empty file", config.TaskConfig{File: emptyFile}, "", true},
		{"missing file", config.TaskConfig{File: filepath.Join(dir, "nope.txt")}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := taskText(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("taskText() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("taskText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultTaskCarriesURL(t *testing.T) {
	url := "http://localhost:8000/index2.html"
	text, err := taskText(config.TaskConfig{URL: url})
	if err != nil {
		t.Fatal(err)
	}
	if agent.FirstURL(text) != url {
		t.Errorf("FirstURL(default task) = %q, want %q", agent.FirstURL(text), url)
	}
	for _, want := range []string{"氏名", "メール", "Taro Yamada", "taro@example.com"} {
		if !strings.Contains(text, want) {
			t.Errorf("default task missing %q", want)
		}
	}
}

func TestScreenshotDir(t *testing.T) {
	withEnv := func(key string) string {
		if key == "AUTO_SAVE_SCREENSHOTS_DIR" {
			return "/env/shots"
		}
		return ""
	}
	noEnv := func(string) string { return "" }

	tests := []struct {
		name   string
		flag   string
		config string
		getenv func(string) string
		want   string
	}{
		{"flag wins", "out", "cfg", withEnv, "out"},
		{"env beats config", "", "cfg", withEnv, ""},
		{"config", "", "cfg", noEnv, "cfg"},
		{"nothing", "", "", noEnv, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := screenshotDir(tt.flag, tt.config, tt.getenv); got != tt.want {
				t.Errorf("screenshotDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAgentConfig(t *testing.T) {
	cfg := config.Default()
	off := false
	cfg.Agent.DirectlyOpenURL = &off
	cfg.Agent.VisionDetail = "high"

	got := agentConfig(cfg.Agent)
	want := agent.Config{
		Model:             "gpt-5",
		MaxSteps:          10,
		MaxActionsPerStep: 3,
		MaxFailures:       2,
		StepTimeout:       120 * time.Second,
		LLMTimeout:        120 * time.Second,
		VisionDetail:      llm.ImageDetailHigh,
		DirectlyOpenURL:   false,
	}
	if got != want {
		t.Errorf("agentConfig() = %+v, want %+v", got, want)
	}
}

func TestNewInvoker(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"openai", "openai"},
		{"anthropic", "anthropic"},
	}
	for _, tt := range tests {
		cfg := config.Default()
		cfg.LLM.Provider = tt.provider
		inv := newInvoker(cfg)
		named, ok := inv.(interface{ Name() string })
		if !ok {
			t.Fatalf("%s invoker has no Name()", tt.provider)
		}
		if named.Name() != tt.want {
			t.Errorf("newInvoker(%s).Name() = %q", tt.provider, named.Name())
		}
	}
}

func TestDialogOptionsUseConfiguredRules(t *testing.T) {
	cfg := config.DialogConfig{
		LogCapacity: 5,
		Rules:       []config.PromptRule{{Marker: "会社", Answer: "Example Inc."}},
	}
	h := dialog.NewHandler(nil, dialogOptions(cfg, nil, nopDialogObserver{})...)
	if h == nil {
		t.Fatal("NewHandler() returned nil")
	}
	if got := dialog.Response([]dialog.Rule{{Marker: "会社", Answer: "Example Inc."}}, "会社名", ""); got != "Example Inc." {
		t.Errorf("Response() = %q", got)
	}
	if n := len(dialogOptions(config.DialogConfig{LogCapacity: 5}, nil, nopDialogObserver{})); n != 3 {
		t.Errorf("options without rules = %d, want 3", n)
	}
	if n := len(dialogOptions(cfg, nil, nopDialogObserver{})); n != 4 {
		t.Errorf("options with rules = %d, want 4", n)
	}
}

type nopDialogObserver struct{}

func (nopDialogObserver) ObserveDialog(string) {}

func TestPrintResult(t *testing.T) {
	var out bytes.Buffer
	printResult(&out, &agent.Result{
		Done:      true,
		Success:   true,
		Steps:     3,
		FinalText: "氏名: Taro Yamada / メール: taro@example.com",
		History:   []agent.HistoryItem{{Step: 1, Action: "click(25, 50)"}},
	})

	for _, want := range []string{"===== AGENT RESULT =====", "done   : true", "steps  : 3", "result : 氏名: Taro Yamada", "step 1: click(25, 50) -> ok"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("result block missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	printResult(&out, nil)
	if !strings.Contains(out.String(), "done   : false") {
		t.Errorf("nil result block = %q", out.String())
	}
}

func TestPrintUsage(t *testing.T) {
	tracker := usage.NewTracker(0)
	tracker.Record(usage.Call{Entry: "invoke", Model: "gpt-5", Usage: usage.Record{InputTokens: 600_000, OutputTokens: 300_000, TotalTokens: 900_000}})
	tracker.Record(usage.Call{Entry: "ainvoke", Model: "gpt-5-mini", Usage: usage.Record{InputTokens: 400_000, OutputTokens: 200_000, TotalTokens: 600_000}})

	tests := []struct {
		name     string
		cost     usage.Cost
		wantCost string
	}{
		{"no pricing", usage.Cost{}, ""},
		{"priced", usage.Cost{Input: 1.25, Output: 10}, "estimated_cost: $6.25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := printUsage(&out, tracker, tt.cost); err != nil {
				t.Fatal(err)
			}
			for _, want := range []string{
				"===== TOTAL TOKEN USAGE =====",
				"total_tokens : 1500000",
				"model gpt-5: 900k (in: 600k, out: 300k) calls=1",
				"model gpt-5-mini: 600k (in: 400k, out: 200k) calls=1",
				"call [invoke] gpt-5 input=600000 output=300000 total=900000",
				"call [ainvoke] gpt-5-mini input=400000 output=200000 total=600000",
			} {
				if !strings.Contains(out.String(), want) {
					t.Errorf("usage output missing %q:\n%s", want, out.String())
				}
			}
			hasCost := strings.Contains(out.String(), "estimated_cost")
			if tt.wantCost == "" && hasCost {
				t.Errorf("unexpected cost line: %q", out.String())
			}
			if tt.wantCost != "" && !strings.Contains(out.String(), tt.wantCost) {
				t.Errorf("missing %q in %q", tt.wantCost, out.String())
			}
		})
	}
}

func TestPrintUsageWithoutCalls(t *testing.T) {
	var out bytes.Buffer
	if err := printUsage(&out, usage.NewTracker(0), usage.Cost{}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "model ") || strings.Contains(out.String(), "call [") {
		t.Errorf("empty tracker printed breakdown lines: %q", out.String())
	}
}

var _ usageReport = (*llm.TrackingClient)(nil)

func TestPrintDialogs(t *testing.T) {
	var out bytes.Buffer
	printDialogs(&out, nil)
	if out.Len() != 0 {
		t.Errorf("empty log printed %q", out.String())
	}

	printDialogs(&out, []dialog.Record{{Type: "prompt", Message: "氏名を入力"}})
	if !strings.Contains(out.String(), "[prompt] 氏名を入力") {
		t.Errorf("dialogs block = %q", out.String())
	}
}
