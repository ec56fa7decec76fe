package usage

import "time"

// Metric names tracked per tenant and month.
const (
	MetricAIDocumentClassifications = "ai_document_classifications"
	MetricAIChatMessages            = "ai_chat_messages"
	MetricDataExports               = "data_exports"
)

// Counter is one tenant's consumption of a metric in a period (YYYY-MM).
type Counter struct {
	TenantID  string    `json:"tenantId"`
	Metric    string    `json:"metric"`
	Period    string    `json:"period"`
	Used      int       `json:"used"`
	UpdatedAt time.Time `json:"updatedAt"`
}
