package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/visiontask/internal/usage"
)

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	MaxRetries   int
	RetryDelay   time.Duration
	HTTPClient   *http.Client
}

// AnthropicClient implements Invoker over the Anthropic Messages API.
// Responses report usage in the input/output metadata shape.
type AnthropicClient struct {
	client       anthropic.Client
	configured   bool
	defaultModel string
	maxTokens    int
	retry        retrier
}

// NewAnthropicClient creates an Anthropic backend. An empty API key yields a
// client whose calls fail with ErrNoAPIKey.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	c := &AnthropicClient{
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
		retry:        newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}
	if c.defaultModel == "" {
		c.defaultModel = "claude-sonnet-4-20250514"
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 4096
	}
	if cfg.APIKey == "" {
		return c
	}

	// Retries are handled here so the SDK's own retry loop is disabled.
	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(cfg.HTTPClient))
	}
	c.client = anthropic.NewClient(options...)
	c.configured = true
	return c
}

// Name returns the backend identifier.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Invoke sends one Messages API request.
func (c *AnthropicClient) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if !c.configured {
		return nil, ErrNoAPIKey
	}
	if req == nil {
		return nil, errors.New("llm: nil request")
	}

	params := c.buildParams(req)

	var msg *anthropic.Message
	err := c.retry.Retry(ctx, IsRetryable, func() error {
		var callErr error
		msg, callErr = c.client.Messages.New(ctx, params)
		if callErr != nil {
			return c.wrapError(string(params.Model), callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return convertAnthropicMessage(msg), nil
}

func (c *AnthropicClient) buildParams(req *Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	system := req.System
	if req.Schema != nil && len(req.Schema.Schema) > 0 {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object matching this JSON schema and nothing else:\n" + string(req.Schema.Schema))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	for _, msg := range req.Messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, img := range msg.Images {
			mediaType := img.MediaType
			if mediaType == "" {
				mediaType = "image/png"
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(img.Data)))
		}
		if msg.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Text))
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		}
	}
	return params
}

func convertAnthropicMessage(msg *anthropic.Message) *Response {
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	input := msg.Usage.InputTokens
	output := msg.Usage.OutputTokens
	return &Response{
		Model:        string(msg.Model),
		Text:         text.String(),
		FinishReason: string(msg.StopReason),
		Metadata: &usage.Metadata{
			InputTokens:  &input,
			OutputTokens: &output,
		},
	}
}

func (c *AnthropicClient) wrapError(model string, err error) error {
	perr := NewProviderError(c.Name(), model, err)

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		perr.Message = fmt.Sprintf("anthropic api error: %s", http.StatusText(apiErr.StatusCode))
		return perr.WithStatus(apiErr.StatusCode)
	}
	return perr
}
