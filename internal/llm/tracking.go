package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/visiontask/internal/usage"
)

// Entry point names, as they appear in logs, spans and metrics.
const (
	EntryInvoke    = "invoke"
	EntryGenerate  = "generate"
	EntryAInvoke   = "ainvoke"
	EntryAGenerate = "agenerate"
)

// UsageObserver receives every extraction outcome. ok is false when the
// response carried no usage.
type UsageObserver interface {
	ObserveUsage(entry, model string, r usage.Record, ok bool)
}

// TrackingClient decorates a ChatClient and accumulates token usage from
// every successful call. Totals only grow; a new client starts from zero.
type TrackingClient struct {
	next     ChatClient
	tracker  *usage.Tracker
	logger   *slog.Logger
	observer UsageObserver
	tracer   trace.Tracer
}

// TrackingOption configures a TrackingClient.
type TrackingOption func(*TrackingClient)

// WithLogger sets the logger for call and usage lines.
func WithLogger(logger *slog.Logger) TrackingOption {
	return func(c *TrackingClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUsageObserver forwards extraction outcomes to o.
func WithUsageObserver(o UsageObserver) TrackingOption {
	return func(c *TrackingClient) {
		c.observer = o
	}
}

// WithHistory bounds the number of calls kept for RecentCalls.
func WithHistory(maxCalls int) TrackingOption {
	return func(c *TrackingClient) {
		c.tracker = usage.NewTracker(maxCalls)
	}
}

// NewTrackingClient wraps next.
func NewTrackingClient(next ChatClient, opts ...TrackingOption) *TrackingClient {
	c := &TrackingClient{
		next:    next,
		tracker: usage.NewTracker(0),
		logger:  slog.Default(),
		tracer:  otel.Tracer("visiontask/llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke forwards a single synchronous call.
func (c *TrackingClient) Invoke(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := c.start(ctx, EntryInvoke, req)
	defer span.End()

	resp, err := c.next.Invoke(ctx, req)
	if err != nil {
		failSpan(span, err)
		return resp, err
	}
	c.handleUsage(span, EntryInvoke, modelOf(req, resp), resp)
	return resp, nil
}

// Generate forwards a synchronous batch call.
func (c *TrackingClient) Generate(ctx context.Context, reqs []*Request) (*BatchResponse, error) {
	ctx, span := c.start(ctx, EntryGenerate, firstRequest(reqs))
	defer span.End()

	resp, err := c.next.Generate(ctx, reqs)
	if err != nil {
		failSpan(span, err)
		return resp, err
	}
	c.handleUsage(span, EntryGenerate, modelOf(firstRequest(reqs), nil), resp)
	return resp, nil
}

// InvokeAsync forwards a single asynchronous call. Usage is recorded before
// the result is delivered.
func (c *TrackingClient) InvokeAsync(ctx context.Context, req *Request) <-chan Result {
	ctx, span := c.start(ctx, EntryAInvoke, req)
	in := c.next.InvokeAsync(ctx, req)
	out := make(chan Result, 1)

	go func() {
		defer close(out)
		defer span.End()

		res, ok := <-in
		if !ok {
			res = Result{Err: ErrNoResult}
		}
		if res.Err != nil {
			failSpan(span, res.Err)
		} else {
			c.handleUsage(span, EntryAInvoke, modelOf(req, res.Response), res.Response)
		}
		out <- res
	}()
	return out
}

// GenerateAsync forwards an asynchronous batch call.
func (c *TrackingClient) GenerateAsync(ctx context.Context, reqs []*Request) <-chan BatchResult {
	ctx, span := c.start(ctx, EntryAGenerate, firstRequest(reqs))
	in := c.next.GenerateAsync(ctx, reqs)
	out := make(chan BatchResult, 1)

	go func() {
		defer close(out)
		defer span.End()

		res, ok := <-in
		if !ok {
			res = BatchResult{Err: ErrNoResult}
		}
		if res.Err != nil {
			failSpan(span, res.Err)
		} else {
			c.handleUsage(span, EntryAGenerate, modelOf(firstRequest(reqs), nil), res.Response)
		}
		out <- res
	}()
	return out
}

// Totals returns a snapshot of the running totals.
func (c *TrackingClient) Totals() usage.Totals {
	return c.tracker.Totals()
}

// Models returns the models that reported usage, sorted.
func (c *TrackingClient) Models() []string {
	return c.tracker.Models()
}

// ModelTotals returns the totals for one model.
func (c *TrackingClient) ModelTotals(model string) (usage.Totals, bool) {
	return c.tracker.ModelTotals(model)
}

// RecentCalls returns up to limit tracked calls, oldest first.
func (c *TrackingClient) RecentCalls(limit int) []usage.Call {
	return c.tracker.RecentCalls(limit)
}

// PrintTotals writes the totals block to w.
func (c *TrackingClient) PrintTotals(w io.Writer) error {
	_, err := io.WriteString(w, usage.FormatTotals(c.Totals()))
	return err
}

func (c *TrackingClient) start(ctx context.Context, entry string, req *Request) (context.Context, trace.Span) {
	model := modelOf(req, nil)
	c.logger.Info("llm call", "entry", entry, "model", model)
	return c.tracer.Start(ctx, "llm."+entry, trace.WithAttributes(
		attribute.String("llm.entry", entry),
		attribute.String("llm.model", model),
	))
}

func (c *TrackingClient) handleUsage(span trace.Span, entry, model string, resp any) {
	r, ok := usage.Extract(resp)
	if c.observer != nil {
		c.observer.ObserveUsage(entry, model, r, ok)
	}
	if !ok {
		c.logger.Info("llm usage", "entry", entry, "usage", "none")
		return
	}

	c.tracker.Record(usage.Call{Entry: entry, Model: model, Usage: r})
	c.logger.Info("llm usage",
		"entry", entry,
		"input_tokens", r.InputTokens,
		"output_tokens", r.OutputTokens,
		"total_tokens", r.TotalTokens,
	)
	span.SetAttributes(
		attribute.Int64("llm.usage.input_tokens", r.InputTokens),
		attribute.Int64("llm.usage.output_tokens", r.OutputTokens),
		attribute.Int64("llm.usage.total_tokens", r.TotalTokens),
	)
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func firstRequest(reqs []*Request) *Request {
	if len(reqs) == 0 {
		return nil
	}
	return reqs[0]
}

func modelOf(req *Request, resp *Response) string {
	if resp != nil && resp.Model != "" {
		return resp.Model
	}
	if req != nil {
		return req.Model
	}
	return ""
}

var _ ChatClient = (*TrackingClient)(nil)

// String summarizes the totals, e.g. for a final log line.
func (c *TrackingClient) String() string {
	return fmt.Sprintf("llm usage %s", usage.FormatSummary(c.Totals()))
}
