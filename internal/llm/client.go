// Package llm defines the chat client contract used by the agent, the OpenAI
// and Anthropic backends behind it, and a usage-tracking decorator.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/visiontask/internal/usage"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImageDetail selects how much resolution a vision model spends on an image.
type ImageDetail string

const (
	ImageDetailLow  ImageDetail = "low"
	ImageDetailHigh ImageDetail = "high"
	ImageDetailAuto ImageDetail = "auto"
)

// Image is an inline image attachment.
type Image struct {
	MediaType string
	Data      []byte
}

// Message is one turn of the conversation.
type Message struct {
	Role   Role
	Text   string
	Images []Image
}

// ResponseSchema asks the backend for JSON output matching Schema.
type ResponseSchema struct {
	Name   string
	Schema json.RawMessage
}

// Request is a single chat completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	ImageDetail ImageDetail
	Schema      *ResponseSchema
}

// Response is a single chat completion. Backends fill whichever usage shape
// their SDK reports.
type Response struct {
	Model        string
	Text         string
	FinishReason string

	Metadata *usage.Metadata
	SDK      *usage.SDKUsage
}

// UsageMetadata implements usage.UsageMetadataProvider.
func (r *Response) UsageMetadata() (usage.Metadata, bool) {
	if r == nil || r.Metadata == nil {
		return usage.Metadata{}, false
	}
	return *r.Metadata, true
}

// SDKUsage implements usage.SDKUsageProvider.
func (r *Response) SDKUsage() (usage.SDKUsage, bool) {
	if r == nil || r.SDK == nil {
		return usage.SDKUsage{}, false
	}
	return *r.SDK, true
}

// BatchResponse holds one response per request, in request order.
type BatchResponse struct {
	Responses []*Response
}

// ResponseMetadata implements usage.ResponseMetadataProvider. The summed
// usage of every response is exposed under "token_usage".
func (b *BatchResponse) ResponseMetadata() map[string]any {
	if b == nil {
		return nil
	}
	var totals usage.Totals
	found := false
	for _, resp := range b.Responses {
		if r, ok := usage.Extract(resp); ok {
			totals.Add(r)
			found = true
		}
	}
	if !found {
		return map[string]any{}
	}
	return map[string]any{
		"token_usage": map[string]any{
			"input_tokens":  totals.InputTokens,
			"output_tokens": totals.OutputTokens,
			"total_tokens":  totals.TotalTokens,
		},
	}
}

// Result is delivered by InvokeAsync.
type Result struct {
	Response *Response
	Err      error
}

// BatchResult is delivered by GenerateAsync.
type BatchResult struct {
	Response *BatchResponse
	Err      error
}

// ChatClient is the four-entry-point contract the agent talks to.
//
// Async variants return a channel that receives exactly one value and is
// then closed.
type ChatClient interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
	Generate(ctx context.Context, reqs []*Request) (*BatchResponse, error)
	InvokeAsync(ctx context.Context, req *Request) <-chan Result
	GenerateAsync(ctx context.Context, reqs []*Request) <-chan BatchResult
}

// Invoker is the single-call primitive each backend implements.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// Expand derives the batch and async entry points from a single-call backend.
// Batch requests run concurrently, at most concurrency at a time.
func Expand(inv Invoker, concurrency int) ChatClient {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &expanded{inv: inv, concurrency: concurrency}
}

type expanded struct {
	inv         Invoker
	concurrency int
}

func (e *expanded) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return e.inv.Invoke(ctx, req)
}

func (e *expanded) Generate(ctx context.Context, reqs []*Request) (*BatchResponse, error) {
	responses := make([]*Response, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := e.inv.Invoke(gctx, req)
			if err != nil {
				return fmt.Errorf("batch request %d: %w", i, err)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &BatchResponse{Responses: responses}, nil
}

func (e *expanded) InvokeAsync(ctx context.Context, req *Request) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		resp, err := e.inv.Invoke(ctx, req)
		out <- Result{Response: resp, Err: err}
	}()
	return out
}

func (e *expanded) GenerateAsync(ctx context.Context, reqs []*Request) <-chan BatchResult {
	out := make(chan BatchResult, 1)
	go func() {
		defer close(out)
		resp, err := e.Generate(ctx, reqs)
		out <- BatchResult{Response: resp, Err: err}
	}()
	return out
}
