package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"brokercrm-backend/internal/llm"
	"brokercrm-backend/internal/shared/metrics"
	"brokercrm-backend/internal/shared/resilience"
	"brokercrm-backend/internal/shared/telemetry"
)

const defaultTimeout = 120 * time.Second

// Config configures the gateway client.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
	Timeout           time.Duration
}

// Client implements llm.Classifier and llm.Chatter against an
// OpenAI-compatible chat completions gateway.
type Client struct {
	api     *openai.Client
	model   string
	limiter *rate.Limiter
	exec    *resilience.Executor
}

// NewClient validates cfg and builds the client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("LLM_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("LLM_MODEL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{Timeout: timeout}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), max(1, rpm/10)),
		exec:    resilience.NewExecutor(resilience.SingleAttempt()),
	}, nil
}

// ClassifyDocuments sends all attachments in one multimodal user message.
func (c *Client) ClassifyDocuments(ctx context.Context, input llm.ClassifyInput) (string, error) {
	if len(input.Attachments) == 0 {
		return "", errors.New("no attachments to classify")
	}
	parts := make([]openai.ChatMessagePart, 0, 1+2*len(input.Attachments))
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: llm.ClassificationInstruction(),
	})
	for _, a := range input.Attachments {
		parts = append(parts,
			openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: llm.DocumentHeader(a)},
			openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + a.MimeType + ";base64," + a.Base64,
					Detail: openai.ImageURLDetailHigh,
				},
			},
		)
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	return c.complete(ctx, "classify", req)
}

// Chat sends the system prompt followed by the conversation history.
func (c *Client) Chat(ctx context.Context, systemPrompt string, history []llm.Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return c.complete(ctx, "chat", openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0.4,
	})
}

func (c *Client) complete(ctx context.Context, operation string, req openai.ChatCompletionRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm pacing: %w", err)
	}

	start := time.Now()
	var content string
	err := c.exec.Do(ctx, "llm."+operation, func(ctx context.Context) error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return mapError(err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("%w: response has no choices", llm.ErrUpstream)
		}
		content = strings.TrimSpace(resp.Choices[0].Message.Content)
		if content == "" {
			return fmt.Errorf("%w: empty content", llm.ErrUpstream)
		}
		telemetry.Info("llm.usage", map[string]any{
			"operation":         operation,
			"model":             c.model,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"duration_ms":       time.Since(start).Milliseconds(),
		})
		return nil
	}, classify)
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			err = fmt.Errorf("%w: %v", llm.ErrUpstream, err)
		}
		metrics.IncLLMCall(operation, outcome(err))
		return "", err
	}
	metrics.IncLLMCall(operation, "ok")
	return content, nil
}

func mapError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", llm.ErrRateLimited, err)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %v", llm.ErrPaymentRequired, err)
	default:
		return fmt.Errorf("%w: %v", llm.ErrUpstream, err)
	}
}

// Quota errors say nothing about gateway health, so they do not trip the breaker.
func classify(err error) resilience.Outcome {
	if errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrPaymentRequired) {
		return resilience.Outcome{RecordFailure: false}
	}
	return resilience.Outcome{RecordFailure: true}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, llm.ErrPaymentRequired):
		return "payment_required"
	default:
		return "error"
	}
}

var (
	_ llm.Classifier = (*Client)(nil)
	_ llm.Chatter    = (*Client)(nil)
)
