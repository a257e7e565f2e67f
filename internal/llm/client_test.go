package llm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/visiontask/internal/usage"
)

type slowInvoker struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowInvoker) Invoke(ctx context.Context, req *Request) (*Response, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-time.After(10 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Response{Text: req.Model}, nil
}

func TestExpand_GenerateKeepsOrderAndLimit(t *testing.T) {
	inv := &slowInvoker{}
	client := Expand(inv, 2)

	reqs := []*Request{{Model: "a"}, {Model: "b"}, {Model: "c"}, {Model: "d"}, {Model: "e"}}
	batch, err := client.Generate(context.Background(), reqs)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(batch.Responses) != len(reqs) {
		t.Fatalf("got %d responses, want %d", len(batch.Responses), len(reqs))
	}
	for i, resp := range batch.Responses {
		if resp.Text != reqs[i].Model {
			t.Errorf("response %d = %q, want %q", i, resp.Text, reqs[i].Model)
		}
	}
	if peak := inv.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestExpand_AsyncDeliversOnceAndCloses(t *testing.T) {
	client := Expand(&slowInvoker{}, 1)

	ch := client.InvokeAsync(context.Background(), &Request{Model: "x"})
	res, ok := <-ch
	if !ok || res.Err != nil || res.Response.Text != "x" {
		t.Fatalf("InvokeAsync() = %+v, %v", res, ok)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after one result")
	}
}

func TestBatchResponse_ResponseMetadata(t *testing.T) {
	batch := &BatchResponse{Responses: []*Response{
		{Metadata: &usage.Metadata{InputTokens: int64p(10), OutputTokens: int64p(5)}},
		{SDK: &usage.SDKUsage{PromptTokens: int64p(3), CompletionTokens: int64p(2), TotalTokens: int64p(5)}},
		{Text: "no usage"},
	}}

	got, ok := usage.Extract(batch)
	if !ok {
		t.Fatal("expected usage from batch metadata")
	}
	if got != (usage.Record{InputTokens: 13, OutputTokens: 7, TotalTokens: 20}) {
		t.Errorf("Extract(batch) = %+v", got)
	}

	empty := &BatchResponse{Responses: []*Response{{Text: "none"}}}
	if _, ok := usage.Extract(empty); ok {
		t.Error("batch without usage should not report usage")
	}
}

func TestResponse_UsageShapes(t *testing.T) {
	var nilResp *Response
	if _, ok := nilResp.UsageMetadata(); ok {
		t.Error("nil response should report no metadata")
	}
	if _, ok := nilResp.SDKUsage(); ok {
		t.Error("nil response should report no sdk usage")
	}

	both := &Response{
		Metadata: &usage.Metadata{InputTokens: int64p(1)},
		SDK:      &usage.SDKUsage{PromptTokens: int64p(2)},
	}
	if got, _ := usage.Extract(both); got.InputTokens != 1 {
		t.Errorf("metadata shape should win, got %+v", got)
	}
}
