package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/visiontask/internal/usage"
)

const chatCompletionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"model": "gpt-4o",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"done\":true}"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_Invoke(t *testing.T) {
	var body map[string]any
	srv := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletionBody)
	})

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	resp, err := client.Invoke(context.Background(), &Request{
		Model:       "gpt-4o",
		System:      "You drive a browser.",
		ImageDetail: ImageDetailLow,
		Schema:      &ResponseSchema{Name: "decision", Schema: json.RawMessage(`{"type":"object"}`)},
		Messages: []Message{{
			Role:   RoleUser,
			Text:   "What next?",
			Images: []Image{{MediaType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}},
		}},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Text != `{"done":true}` || resp.FinishReason != "stop" {
		t.Errorf("Invoke() = %+v", resp)
	}

	got, ok := usage.Extract(resp)
	if !ok || got != (usage.Record{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}) {
		t.Errorf("Extract() = %+v, %v", got, ok)
	}

	raw, _ := json.Marshal(body)
	for _, want := range []string{`"detail":"low"`, `data:image/png;base64,`, `"json_schema"`, `"role":"system"`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("request body missing %s: %s", want, raw)
		}
	}
}

func TestOpenAIClient_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
			return
		}
		_, _ = io.WriteString(w, chatCompletionBody)
	})

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL + "/v1",
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	if _, err := client.Invoke(context.Background(), &Request{Model: "gpt-4o"}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestOpenAIClient_AuthErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	})

	client := NewOpenAIClient(OpenAIConfig{APIKey: "bad", BaseURL: srv.URL + "/v1", RetryDelay: time.Millisecond})
	_, err := client.Invoke(context.Background(), &Request{Model: "gpt-4o"})

	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Invoke() error = %v, want *ProviderError", err)
	}
	if perr.Reason != ReasonAuth || perr.Status != http.StatusUnauthorized {
		t.Errorf("ProviderError = %+v", perr)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestOpenAIClient_NoAPIKey(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{})
	if _, err := client.Invoke(context.Background(), &Request{}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Invoke() error = %v, want ErrNoAPIKey", err)
	}
}

func TestOpenAIDetail(t *testing.T) {
	tests := []struct {
		in   ImageDetail
		want string
	}{
		{ImageDetailLow, "low"},
		{ImageDetailHigh, "high"},
		{ImageDetailAuto, "auto"},
		{"", "auto"},
	}
	for _, tt := range tests {
		if got := string(openAIDetail(tt.in)); got != tt.want {
			t.Errorf("openAIDetail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
