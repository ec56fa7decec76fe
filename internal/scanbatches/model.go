package scanbatches

import (
	"encoding/json"
	"time"
)

// Batch statuses.
const (
	BatchPending    = "pending"
	BatchProcessing = "processing"
	BatchClassified = "classified"
	BatchValidated  = "validated"
	BatchError      = "error"
)

// Document statuses.
const (
	DocPending    = "pending"
	DocAnalyzing  = "analyzing"
	DocClassified = "classified"
	DocError      = "error"
)

// Document classifications.
const (
	ClassIdentityDoc = "identity_doc"
	ClassOldPolicy   = "old_policy"
	ClassNewContract = "new_contract"
	ClassTermination = "termination"
	ClassArticle45   = "article_45"
	ClassOther       = "other"
	ClassUnknown     = "unknown"
)

// Classifications lists every accepted classification value.
var Classifications = []string{
	ClassIdentityDoc, ClassOldPolicy, ClassNewContract, ClassTermination,
	ClassArticle45, ClassOther, ClassUnknown,
}

// ValidClassification reports whether c is one of Classifications.
func ValidClassification(c string) bool {
	for _, v := range Classifications {
		if v == c {
			return true
		}
	}
	return false
}

// Batch is a group of uploaded documents classified together.
type Batch struct {
	ID                   string          `json:"id"`
	TenantID             string          `json:"tenantId"`
	ClientID             string          `json:"clientId,omitempty"`
	CreatedBy            string          `json:"createdBy,omitempty"`
	Status               string          `json:"status"`
	TotalDocuments       int             `json:"totalDocuments"`
	DocumentsClassified  int             `json:"documentsClassified"`
	ConsolidationSummary json.RawMessage `json:"consolidationSummary,omitempty"`
	ErrorMessage         string          `json:"errorMessage,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
	Documents            []Document      `json:"documents,omitempty"`
}

// Document is one uploaded file of a batch.
type Document struct {
	ID                       string          `json:"id"`
	BatchID                  string          `json:"batchId"`
	TenantID                 string          `json:"tenantId"`
	Position                 int             `json:"position"`
	FileKey                  string          `json:"fileKey"`
	FileName                 string          `json:"fileName"`
	MimeType                 string          `json:"mimeType"`
	SizeBytes                int64           `json:"sizeBytes"`
	Status                   string          `json:"status"`
	Classification           string          `json:"documentClassification,omitempty"`
	ClassificationConfidence *float64        `json:"classificationConfidence,omitempty"`
	ClassificationCorrected  bool            `json:"classificationCorrected"`
	ExtractedSummary         string          `json:"extractedSummary,omitempty"`
	ExtractedData            json.RawMessage `json:"extractedData,omitempty"`
	ErrorMessage             string          `json:"errorMessage,omitempty"`
	CreatedAt                time.Time       `json:"createdAt"`
	UpdatedAt                time.Time       `json:"updatedAt"`
}

// DocumentResult is a model classification matched to one document.
type DocumentResult struct {
	DocumentID     string
	Classification string
	Confidence     float64
	Summary        string
	ExtractedData  json.RawMessage
}

// DocumentFailure marks one document as errored.
type DocumentFailure struct {
	DocumentID string
	Message    string
}

// Outcome is everything written back after a model call, in one transaction.
type Outcome struct {
	BatchStatus   string
	Results       []DocumentResult
	Failures      []DocumentFailure
	Consolidation json.RawMessage
	ErrorMessage  string
}
