// Package usage provides token usage records, extraction from LLM responses,
// running totals, cost estimation, and formatting.
package usage

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is the token usage reported by a single LLM call.
type Record struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// FromCounts builds a record from optional counters. Nil counts as zero and a
// missing or zero total is derived from input+output.
func FromCounts(input, output, total *int64) Record {
	r := Record{
		InputTokens:  deref(input),
		OutputTokens: deref(output),
		TotalTokens:  deref(total),
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.InputTokens + r.OutputTokens
	}
	return r
}

func deref(v *int64) int64 {
	if v == nil || *v < 0 {
		return 0
	}
	return *v
}

// String renders the record the way it is logged per call.
func (r Record) String() string {
	return fmt.Sprintf("input=%d output=%d total=%d", r.InputTokens, r.OutputTokens, r.TotalTokens)
}

// Totals are running sums of every record seen so far.
type Totals struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
	Calls        int64 `json:"calls"`
}

// Add adds a record to the totals.
func (t *Totals) Add(r Record) {
	t.InputTokens += r.InputTokens
	t.OutputTokens += r.OutputTokens
	t.TotalTokens += r.TotalTokens
	t.Calls++
}

// Cost represents pricing for a model (per million tokens).
type Cost struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// IsZero reports whether no pricing is configured.
func (c Cost) IsZero() bool {
	return c.Input == 0 && c.Output == 0
}

// Estimate calculates the estimated cost for the given totals.
func (c Cost) Estimate(t Totals) float64 {
	total := float64(t.InputTokens)*c.Input + float64(t.OutputTokens)*c.Output
	return total / 1_000_000
}

// Call is a single tracked LLM invocation.
type Call struct {
	Entry     string    `json:"entry"`
	Model     string    `json:"model,omitempty"`
	Usage     Record    `json:"usage"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker accumulates totals and keeps a bounded history of calls.
type Tracker struct {
	mu       sync.RWMutex
	calls    []Call
	totals   Totals
	byModel  map[string]*Totals
	maxCount int
}

// NewTracker creates a tracker that keeps at most maxCount calls of history.
// Totals are never pruned.
func NewTracker(maxCount int) *Tracker {
	if maxCount <= 0 {
		maxCount = 1000
	}
	return &Tracker{
		calls:    make([]Call, 0),
		byModel:  make(map[string]*Totals),
		maxCount: maxCount,
	}
}

// Record adds a call to the tracker.
func (t *Tracker) Record(c Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}

	t.calls = append(t.calls, c)
	if len(t.calls) > t.maxCount {
		t.calls = t.calls[len(t.calls)-t.maxCount:]
	}

	t.totals.Add(c.Usage)
	if c.Model != "" {
		if t.byModel[c.Model] == nil {
			t.byModel[c.Model] = &Totals{}
		}
		t.byModel[c.Model].Add(c.Usage)
	}
}

// Totals returns a snapshot of the running totals.
func (t *Tracker) Totals() Totals {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totals
}

// ModelTotals returns totals for a single model.
func (t *Tracker) ModelTotals(model string) (Totals, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if totals := t.byModel[model]; totals != nil {
		return *totals, true
	}
	return Totals{}, false
}

// Models returns the models seen so far, sorted.
func (t *Tracker) Models() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	models := make([]string, 0, len(t.byModel))
	for m := range t.byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// RecentCalls returns the most recent calls, oldest first.
func (t *Tracker) RecentCalls(limit int) []Call {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.calls) {
		limit = len(t.calls)
	}
	start := len(t.calls) - limit
	result := make([]Call, limit)
	copy(result, t.calls[start:])
	return result
}

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUSD formats a dollar amount for display.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}

// FormatTotals renders the totals block printed at the end of a run.
func FormatTotals(t Totals) string {
	var b strings.Builder
	b.WriteString("\n===== TOTAL TOKEN USAGE =====\n")
	fmt.Fprintf(&b, "input_tokens : %d\n", t.InputTokens)
	fmt.Fprintf(&b, "output_tokens: %d\n", t.OutputTokens)
	fmt.Fprintf(&b, "total_tokens : %d\n", t.TotalTokens)
	b.WriteString("================================\n")
	return b.String()
}

// FormatSummary renders a one-line summary such as "1.5k (in: 1.0k, out: 500)".
func FormatSummary(t Totals) string {
	parts := []string{}
	if t.InputTokens > 0 {
		parts = append(parts, fmt.Sprintf("in: %s", FormatTokenCount(t.InputTokens)))
	}
	if t.OutputTokens > 0 {
		parts = append(parts, fmt.Sprintf("out: %s", FormatTokenCount(t.OutputTokens)))
	}
	if len(parts) == 0 {
		return "0 tokens"
	}
	return fmt.Sprintf("%s (%s)", FormatTokenCount(t.TotalTokens), strings.Join(parts, ", "))
}
