package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/visiontask/internal/usage"
)

func int64p(v int64) *int64 { return &v }

// scriptedInvoker returns canned responses in order.
type scriptedInvoker struct {
	mu        sync.Mutex
	responses []*Response
	err       error
	calls     int
	requests  []*Request
}

func (s *scriptedInvoker) Invoke(_ context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	resp := s.responses[s.calls%len(s.responses)]
	s.calls++
	return resp, nil
}

func metadataResponse(in, out, total *int64) *Response {
	return &Response{Text: "ok", Metadata: &usage.Metadata{InputTokens: in, OutputTokens: out, TotalTokens: total}}
}

type recordingObserver struct {
	mu      sync.Mutex
	entries []string
	misses  int
}

func (o *recordingObserver) ObserveUsage(entry, _ string, _ usage.Record, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, entry)
	if !ok {
		o.misses++
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTrackingClient_Invoke(t *testing.T) {
	inv := &scriptedInvoker{responses: []*Response{metadataResponse(int64p(100), int64p(50), int64p(150))}}
	client := NewTrackingClient(Expand(inv, 1), WithLogger(quietLogger()))

	req := &Request{Model: "gpt-5", Messages: []Message{{Role: RoleUser, Text: "hi"}}}
	resp, err := client.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp != inv.responses[0] {
		t.Error("Invoke() should return the underlying response unchanged")
	}
	if inv.requests[0] != req {
		t.Error("Invoke() should forward the request unchanged")
	}

	totals := client.Totals()
	if totals.InputTokens != 100 || totals.OutputTokens != 50 || totals.TotalTokens != 150 {
		t.Errorf("Totals() = %+v", totals)
	}
}

func TestTrackingClient_AllEntryPoints(t *testing.T) {
	inv := &scriptedInvoker{responses: []*Response{metadataResponse(int64p(10), int64p(5), nil)}}
	observer := &recordingObserver{}
	client := NewTrackingClient(Expand(inv, 2), WithLogger(quietLogger()), WithUsageObserver(observer))
	ctx := context.Background()
	req := &Request{Model: "gpt-5"}

	if _, err := client.Invoke(ctx, req); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if _, err := client.Generate(ctx, []*Request{req, req}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res := <-client.InvokeAsync(ctx, req); res.Err != nil {
		t.Fatalf("InvokeAsync() error = %v", res.Err)
	}
	if res := <-client.GenerateAsync(ctx, []*Request{req, req, req}); res.Err != nil {
		t.Fatalf("GenerateAsync() error = %v", res.Err)
	}

	// 1 + 2 + 1 + 3 underlying calls, 15 tokens each
	totals := client.Totals()
	if totals.InputTokens != 70 || totals.OutputTokens != 35 || totals.TotalTokens != 105 {
		t.Errorf("Totals() = %+v", totals)
	}
	if totals.Calls != 4 {
		t.Errorf("Calls = %d, want 4 tracked entry calls", totals.Calls)
	}

	want := []string{EntryInvoke, EntryGenerate, EntryAInvoke, EntryAGenerate}
	if strings.Join(observer.entries, ",") != strings.Join(want, ",") {
		t.Errorf("observed entries = %v, want %v", observer.entries, want)
	}
}

func TestTrackingClient_TotalDefaultsToSum(t *testing.T) {
	inv := &scriptedInvoker{responses: []*Response{metadataResponse(int64p(100), int64p(50), nil)}}
	client := NewTrackingClient(Expand(inv, 1), WithLogger(quietLogger()))

	before := client.Totals().TotalTokens
	if _, err := client.Invoke(context.Background(), &Request{}); err != nil {
		t.Fatal(err)
	}
	if got := client.Totals().TotalTokens - before; got != 150 {
		t.Errorf("total grew by %d, want 150", got)
	}
}

func TestTrackingClient_SequentialSum(t *testing.T) {
	inv := &scriptedInvoker{responses: []*Response{
		metadataResponse(int64p(100), int64p(50), int64p(150)),
		metadataResponse(int64p(200), int64p(75), int64p(275)),
		metadataResponse(int64p(150), int64p(100), int64p(250)),
	}}
	client := NewTrackingClient(Expand(inv, 1), WithLogger(quietLogger()))

	for i := 0; i < 3; i++ {
		if _, err := client.Invoke(context.Background(), &Request{}); err != nil {
			t.Fatal(err)
		}
	}

	totals := client.Totals()
	if totals.InputTokens != 450 || totals.OutputTokens != 225 || totals.TotalTokens != 675 {
		t.Errorf("Totals() = %+v", totals)
	}
}

func TestTrackingClient_ConcurrentAsync(t *testing.T) {
	const calls = 200
	inv := &scriptedInvoker{responses: []*Response{metadataResponse(int64p(3), int64p(2), int64p(5))}}
	client := NewTrackingClient(Expand(inv, 8), WithLogger(quietLogger()))

	chans := make([]<-chan Result, 0, calls)
	for i := 0; i < calls; i++ {
		chans = append(chans, client.InvokeAsync(context.Background(), &Request{Model: "gpt-5"}))
	}
	for i, ch := range chans {
		if res := <-ch; res.Err != nil {
			t.Fatalf("call %d error = %v", i, res.Err)
		}
	}

	want := usage.Totals{InputTokens: 600, OutputTokens: 400, TotalTokens: 1000, Calls: calls}
	if got := client.Totals(); got != want {
		t.Errorf("Totals() = %+v, want %+v", got, want)
	}
}

func TestTrackingClient_NoUsageLeavesTotals(t *testing.T) {
	inv := &scriptedInvoker{responses: []*Response{{Text: "no usage here"}}}
	observer := &recordingObserver{}
	client := NewTrackingClient(Expand(inv, 1), WithLogger(quietLogger()), WithUsageObserver(observer))

	if _, err := client.Invoke(context.Background(), &Request{}); err != nil {
		t.Fatal(err)
	}
	if totals := client.Totals(); totals != (usage.Totals{}) {
		t.Errorf("Totals() = %+v, want zero", totals)
	}
	if observer.misses != 1 {
		t.Errorf("misses = %d, want 1", observer.misses)
	}
}

func TestTrackingClient_ErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	inv := &scriptedInvoker{err: boom}
	client := NewTrackingClient(Expand(inv, 1), WithLogger(quietLogger()))

	if _, err := client.Invoke(context.Background(), &Request{}); !errors.Is(err, boom) {
		t.Errorf("Invoke() error = %v, want %v", err, boom)
	}
	if res := <-client.InvokeAsync(context.Background(), &Request{}); !errors.Is(res.Err, boom) {
		t.Errorf("InvokeAsync() error = %v, want %v", res.Err, boom)
	}
	if _, err := client.Generate(context.Background(), []*Request{{}}); !errors.Is(err, boom) {
		t.Errorf("Generate() error = %v, want %v", err, boom)
	}
	if totals := client.Totals(); totals != (usage.Totals{}) {
		t.Errorf("Totals() = %+v, want zero after errors", totals)
	}
}

func TestTrackingClient_LogsCalls(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	inv := &scriptedInvoker{responses: []*Response{metadataResponse(int64p(1), int64p(2), nil)}}
	client := NewTrackingClient(Expand(inv, 1), WithLogger(logger))

	if _, err := client.Invoke(context.Background(), &Request{Model: "gpt-5"}); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"llm call", "entry=invoke", "llm usage", "total_tokens=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestTrackingClient_PrintTotals(t *testing.T) {
	inv := &scriptedInvoker{responses: []*Response{metadataResponse(int64p(1000), int64p(500), int64p(1500))}}
	client := NewTrackingClient(Expand(inv, 1), WithLogger(quietLogger()), WithHistory(5))
	if _, err := client.Invoke(context.Background(), &Request{Model: "gpt-5"}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := client.PrintTotals(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "total_tokens : 1500") {
		t.Errorf("PrintTotals() = %q", buf.String())
	}
	if calls := client.RecentCalls(0); len(calls) != 1 || calls[0].Entry != EntryInvoke {
		t.Errorf("RecentCalls() = %+v", calls)
	}
}
