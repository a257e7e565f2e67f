package usage

import (
	"encoding/json"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

// Metadata is the input/output/total usage shape. Nil fields are absent.
type Metadata struct {
	InputTokens  *int64
	OutputTokens *int64
	TotalTokens  *int64
}

// SDKUsage is the prompt/completion/total usage shape used by chat SDKs.
type SDKUsage struct {
	PromptTokens     *int64
	CompletionTokens *int64
	TotalTokens      *int64
}

// empty reports whether no count is present.
func (m Metadata) empty() bool {
	return m.InputTokens == nil && m.OutputTokens == nil && m.TotalTokens == nil
}

// empty reports whether no count is present.
func (u SDKUsage) empty() bool {
	return u.PromptTokens == nil && u.CompletionTokens == nil && u.TotalTokens == nil
}

// UsageMetadataProvider exposes usage in the input/output shape.
type UsageMetadataProvider interface {
	UsageMetadata() (Metadata, bool)
}

// SDKUsageProvider exposes usage in the prompt/completion shape.
type SDKUsageProvider interface {
	SDKUsage() (SDKUsage, bool)
}

// ResponseMetadataProvider exposes a free-form metadata mapping that may hold
// a "token_usage" or "usage" entry.
type ResponseMetadataProvider interface {
	ResponseMetadata() map[string]any
}

// Extract finds the usage record carried by an LLM response. The shapes are
// probed in a fixed order and the first match wins:
//
//  1. UsageMetadataProvider
//  2. SDKUsageProvider, or a go-openai Usage / ChatCompletionResponse
//  3. ResponseMetadataProvider with a "token_usage" or "usage" mapping
//  4. a plain map with a "usage" or "token_usage" mapping
//
// A shape reporting no counts at all is skipped. It returns false when the
// response carries no usage.
func Extract(resp any) (Record, bool) {
	if resp == nil {
		return Record{}, false
	}

	if p, ok := resp.(UsageMetadataProvider); ok {
		if md, ok := p.UsageMetadata(); ok && !md.empty() {
			return FromCounts(md.InputTokens, md.OutputTokens, md.TotalTokens), true
		}
	}

	if u, ok := sdkUsage(resp); ok && !u.empty() {
		return FromCounts(u.PromptTokens, u.CompletionTokens, u.TotalTokens), true
	}

	if p, ok := resp.(ResponseMetadataProvider); ok {
		md := p.ResponseMetadata()
		if r, ok := fromMapEntry(md, "token_usage", "usage"); ok {
			return r, true
		}
	}

	if m, ok := resp.(map[string]any); ok {
		if r, ok := fromMapEntry(m, "usage", "token_usage"); ok {
			return r, true
		}
	}

	return Record{}, false
}

func sdkUsage(resp any) (SDKUsage, bool) {
	switch v := resp.(type) {
	case SDKUsageProvider:
		return v.SDKUsage()
	case openai.Usage:
		return fromOpenAI(v)
	case *openai.Usage:
		if v == nil {
			return SDKUsage{}, false
		}
		return fromOpenAI(*v)
	case openai.ChatCompletionResponse:
		return fromOpenAI(v.Usage)
	case *openai.ChatCompletionResponse:
		if v == nil {
			return SDKUsage{}, false
		}
		return fromOpenAI(v.Usage)
	}
	return SDKUsage{}, false
}

// fromOpenAI treats an all-zero usage block as absent; the SDK always carries
// the struct even when the server sent nothing.
func fromOpenAI(u openai.Usage) (SDKUsage, bool) {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return SDKUsage{}, false
	}
	prompt := int64(u.PromptTokens)
	completion := int64(u.CompletionTokens)
	total := int64(u.TotalTokens)
	return SDKUsage{PromptTokens: &prompt, CompletionTokens: &completion, TotalTokens: &total}, true
}

// fromMapEntry returns the record held under the first key whose value is a
// non-empty mapping.
func fromMapEntry(m map[string]any, keys ...string) (Record, bool) {
	for _, key := range keys {
		sub, ok := asMap(m[key])
		if !ok || len(sub) == 0 {
			continue
		}
		input := firstNumber(sub, "input_tokens", "prompt_tokens")
		output := firstNumber(sub, "output_tokens", "completion_tokens")
		total := firstNumber(sub, "total_tokens")
		return FromCounts(input, output, total), true
	}
	return Record{}, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]int:
		out := make(map[string]any, len(m))
		for k, n := range m {
			out[k] = n
		}
		return out, true
	case map[string]int64:
		out := make(map[string]any, len(m))
		for k, n := range m {
			out[k] = n
		}
		return out, true
	}
	return nil, false
}

func firstNumber(m map[string]any, keys ...string) *int64 {
	for _, key := range keys {
		if n, ok := toInt64(m[key]); ok {
			return &n
		}
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case *int64:
		if n != nil {
			return *n, true
		}
	}
	return 0, false
}
