package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/visiontask/internal/usage"
)

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
	HTTPClient   *http.Client
}

// OpenAIClient implements Invoker over go-openai chat completions.
//
// Images are sent as data URLs in multi-part user content, using the
// request's ImageDetail. When Request.Schema is set the response format is a
// JSON schema.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	retry        retrier
}

// NewOpenAIClient creates an OpenAI backend. An empty API key yields a
// client whose calls fail with ErrNoAPIKey.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		defaultModel: cfg.DefaultModel,
		retry:        newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}
	if c.defaultModel == "" {
		c.defaultModel = "gpt-5"
	}
	if cfg.APIKey == "" {
		return c
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	c.client = openai.NewClientWithConfig(clientCfg)
	return c
}

// Name returns the backend identifier.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Invoke sends one chat completion request.
func (c *OpenAIClient) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if c.client == nil {
		return nil, ErrNoAPIKey
	}
	if req == nil {
		return nil, errors.New("llm: nil request")
	}

	chatReq := c.buildRequest(req)

	var resp openai.ChatCompletionResponse
	err := c.retry.Retry(ctx, IsRetryable, func() error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return c.wrapError(chatReq.Model, callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError(c.Name(), chatReq.Model, errors.New("response has no choices"))
	}

	return convertOpenAIResponse(resp), nil
}

func (c *OpenAIClient) buildRequest(req *Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, convertOpenAIMessage(msg, req.ImageDetail))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}
	if req.Schema != nil && len(req.Schema.Schema) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: req.Schema.Schema,
			},
		}
	}
	return chatReq
}

func convertOpenAIMessage(msg Message, detail ImageDetail) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if msg.Role == RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}
	if len(msg.Images) == 0 || role != openai.ChatMessageRoleUser {
		return openai.ChatCompletionMessage{Role: role, Content: msg.Text}
	}

	parts := make([]openai.ChatMessagePart, 0, len(msg.Images)+1)
	if msg.Text != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: msg.Text,
		})
	}
	for _, img := range msg.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(img),
				Detail: openAIDetail(detail),
			},
		})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

func openAIDetail(detail ImageDetail) openai.ImageURLDetail {
	switch detail {
	case ImageDetailLow:
		return openai.ImageURLDetailLow
	case ImageDetailHigh:
		return openai.ImageURLDetailHigh
	default:
		return openai.ImageURLDetailAuto
	}
}

func dataURL(img Image) string {
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(img.Data))
}

func convertOpenAIResponse(resp openai.ChatCompletionResponse) *Response {
	choice := resp.Choices[0]
	out := &Response{
		Model:        resp.Model,
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	if r, ok := usage.Extract(resp); ok {
		prompt, completion, total := r.InputTokens, r.OutputTokens, r.TotalTokens
		out.SDK = &usage.SDKUsage{
			PromptTokens:     &prompt,
			CompletionTokens: &completion,
			TotalTokens:      &total,
		}
	}
	return out
}

func (c *OpenAIClient) wrapError(model string, err error) error {
	perr := NewProviderError(c.Name(), model, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr.Message = apiErr.Message
		return perr.WithStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return perr.WithStatus(reqErr.HTTPStatusCode)
	}
	return perr
}
