// Package screenshot saves full-page captures of the agent's page when
// AUTO_SAVE_SCREENSHOTS is enabled.
package screenshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/visiontask/internal/browser"
)

// Environment variables read by the saver.
const (
	EnvAutoSave = "AUTO_SAVE_SCREENSHOTS"
	EnvDir      = "AUTO_SAVE_SCREENSHOTS_DIR"
)

// DefaultDir is used when neither an explicit directory nor EnvDir is set.
const DefaultDir = "screenshots"

// FilePrefix starts every screenshot file name.
const FilePrefix = "agent_screenshot_"

// ShouldAutoSave reports whether EnvAutoSave is one of 1, true, yes or on,
// ignoring case and surrounding space. getenv nil means os.Getenv.
func ShouldAutoSave(getenv func(string) string) bool {
	if getenv == nil {
		getenv = os.Getenv
	}
	switch strings.ToLower(strings.TrimSpace(getenv(EnvAutoSave))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Saver writes timestamped screenshots.
type Saver struct {
	Logger *slog.Logger
	Getenv func(string) string
	Now    func() time.Time
}

// NewSaver returns a saver reading the process environment.
func NewSaver(logger *slog.Logger) *Saver {
	return &Saver{Logger: logger}
}

func (s *Saver) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Saver) getenv(key string) string {
	if s.Getenv != nil {
		return s.Getenv(key)
	}
	return os.Getenv(key)
}

func (s *Saver) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Dir resolves the target directory: dir, else EnvDir, else DefaultDir.
func (s *Saver) Dir(dir string) string {
	if dir != "" {
		return dir
	}
	if env := strings.TrimSpace(s.getenv(EnvDir)); env != "" {
		return env
	}
	return DefaultDir
}

// FileName returns the screenshot file name for t.
func FileName(t time.Time) string {
	return fmt.Sprintf("%s%s.png", FilePrefix, t.Format("20060102_150405"))
}

// Save captures a full-page PNG of ctrl's page into the resolved directory
// and returns its path. Failures are logged and reported as ok=false.
func (s *Saver) Save(ctx context.Context, ctrl any, dir string) (path string, ok bool) {
	log := s.logger()
	dir = s.Dir(dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error("screenshot save failed", "dir", dir, "error", err)
		return "", false
	}

	page := browser.ResolvePage(ctrl)
	if page == nil {
		log.Error("screenshot save failed", "error", "page not found")
		return "", false
	}

	path = filepath.Join(dir, FileName(s.now()))
	if _, err := page.Screenshot(ctx, browser.ScreenshotOptions{Path: path, FullPage: true}); err != nil {
		log.Error("screenshot save failed", "path", path, "error", err)
		return "", false
	}

	log.Info("screenshot saved", "path", path)
	return path, true
}
