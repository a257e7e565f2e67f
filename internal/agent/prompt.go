package agent

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/visiontask/internal/llm"
)

const systemPrompt = `You operate a web browser by looking at screenshots.
Each turn you receive the task, the actions taken so far and a screenshot of
the current viewport. Decide on at most %d actions and reply with one JSON
object matching the response schema.

Rules:
- Locate targets visually. The page may draw its controls on a canvas, so do
  not assume DOM elements exist.
- Coordinates are pixels of the screenshot image, origin at the top left.
- If a click missed, adjust the coordinates slightly and try again.
- Dialogs (alert/prompt) are answered automatically; their text appears in a
  dark box at the bottom right of the page.
- When the task is complete, or cannot be completed, emit a single "done"
  action whose text is the answer for the user.`

// historyWindow bounds how many past actions are repeated to the model.
const historyWindow = 20

func (a *Agent) buildRequest(step int, url string, screenshot []byte, history []HistoryItem) (*llm.Request, error) {
	schema, err := DecisionSchema()
	if err != nil {
		return nil, fmt.Errorf("decision schema: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\n", strings.TrimSpace(a.task))
	fmt.Fprintf(&b, "Step %d of %d. Current URL: %s\n", step, a.cfg.MaxSteps, url)
	if len(history) > 0 {
		b.WriteString("\nActions so far:\n")
		start := 0
		if len(history) > historyWindow {
			start = len(history) - historyWindow
		}
		for _, h := range history[start:] {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}

	return &llm.Request{
		Model:       a.cfg.Model,
		System:      fmt.Sprintf(systemPrompt, a.cfg.MaxActionsPerStep),
		ImageDetail: a.cfg.VisionDetail,
		Schema:      &llm.ResponseSchema{Name: "browser_step", Schema: schema},
		Messages: []llm.Message{{
			Role:   llm.RoleUser,
			Text:   b.String(),
			Images: []llm.Image{{MediaType: "image/png", Data: screenshot}},
		}},
	}, nil
}
