package llm

import (
	_ "embed"
	"fmt"
	"strings"
)

var (
	//go:embed prompts/classify.txt
	classifyInstruction string
	//go:embed prompts/chat_broker.txt
	chatBrokerPrompt string
	//go:embed prompts/chat_client.txt
	chatClientPrompt string
	//go:embed prompts/chat_visitor.txt
	chatVisitorPrompt string
)

// Chat audiences.
const (
	UserTypeBroker  = "broker"
	UserTypeClient  = "client"
	UserTypeVisitor = "visitor"
)

// ClassificationInstruction is the fixed taxonomy instruction sent with every batch.
func ClassificationInstruction() string {
	return classifyInstruction
}

// DocumentHeader introduces one attachment inside the classification prompt.
func DocumentHeader(a Attachment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "DOCUMENT %s (%s, %s)", a.DocumentID, a.FileName, a.MimeType)
	if excerpt := strings.TrimSpace(a.TextExcerpt); excerpt != "" {
		b.WriteString("\nText excerpt:\n")
		b.WriteString(excerpt)
	}
	return b.String()
}

// SystemPrompt returns the chat system prompt for a user type and whether it was recognized.
func SystemPrompt(userType string) (string, bool) {
	switch userType {
	case UserTypeBroker:
		return chatBrokerPrompt, true
	case UserTypeClient:
		return chatClientPrompt, true
	case UserTypeVisitor:
		return chatVisitorPrompt, true
	default:
		return chatVisitorPrompt, false
	}
}
