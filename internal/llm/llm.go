package llm

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited maps the gateway's 429.
	ErrRateLimited = errors.New("ai gateway rate limited")
	// ErrPaymentRequired maps the gateway's 402 (credits exhausted).
	ErrPaymentRequired = errors.New("ai gateway credits exhausted")
	// ErrNotConfigured is returned by the placeholder client.
	ErrNotConfigured = errors.New("ai gateway not configured")
	// ErrUpstream wraps every other gateway failure.
	ErrUpstream = errors.New("ai gateway error")
)

// Attachment is one base64-encoded file sent to the model.
type Attachment struct {
	DocumentID  string
	FileName    string
	MimeType    string
	Base64      string
	TextExcerpt string
}

// ClassifyInput is one batch classification request.
type ClassifyInput struct {
	Attachments []Attachment
}

// Classifier sends a whole batch in one multimodal call and returns the raw model text.
type Classifier interface {
	ClassifyDocuments(ctx context.Context, input ClassifyInput) (string, error)
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chatter produces an assistant reply for a conversation.
type Chatter interface {
	Chat(ctx context.Context, systemPrompt string, history []Message) (string, error)
}

// PlaceholderClient is used when no gateway is configured.
type PlaceholderClient struct{}

func (PlaceholderClient) ClassifyDocuments(context.Context, ClassifyInput) (string, error) {
	return "", ErrNotConfigured
}

func (PlaceholderClient) Chat(context.Context, string, []Message) (string, error) {
	return "", ErrNotConfigured
}

var (
	_ Classifier = PlaceholderClient{}
	_ Chatter    = PlaceholderClient{}
)
