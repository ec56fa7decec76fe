package scanbatches

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/classification.json
var classificationSchemaJSON []byte

var classificationSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("classification.json", bytes.NewReader(classificationSchemaJSON)); err != nil {
		panic(fmt.Sprintf("add classification schema: %v", err))
	}
	schema, err := compiler.Compile("classification.json")
	if err != nil {
		panic(fmt.Sprintf("compile classification schema: %v", err))
	}
	return schema
}

type modelResponse struct {
	Documents     []modelDocument `json:"documents"`
	Consolidation json.RawMessage `json:"consolidation"`
}

type modelDocument struct {
	DocumentID     string          `json:"document_id"`
	Classification string          `json:"classification"`
	Confidence     float64         `json:"confidence"`
	Summary        *string         `json:"summary"`
	ExtractedData  json.RawMessage `json:"extracted_data"`
}

// parseModelResponse strips an optional Markdown fence and validates the
// payload against the classification schema.
func parseModelResponse(raw string) (modelResponse, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return modelResponse{}, fmt.Errorf("%w: empty body", ErrInvalidModelResponse)
	}
	var generic any
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		return modelResponse{}, fmt.Errorf("%w: %v", ErrInvalidModelResponse, err)
	}
	if err := classificationSchema.Validate(generic); err != nil {
		return modelResponse{}, fmt.Errorf("%w: %v", ErrInvalidModelResponse, err)
	}
	var resp modelResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return modelResponse{}, fmt.Errorf("%w: %v", ErrInvalidModelResponse, err)
	}
	if isJSONNull(resp.Consolidation) {
		resp.Consolidation = nil
	}
	return resp, nil
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// matchResults pairs model entries with the documents that were sent, by
// echoed document id. Duplicate ids keep the first entry.
func matchResults(sent []string, resp modelResponse) (results []DocumentResult, failures []DocumentFailure, unknown []string) {
	byID := make(map[string]modelDocument, len(resp.Documents))
	for _, d := range resp.Documents {
		if _, seen := byID[d.DocumentID]; !seen {
			byID[d.DocumentID] = d
		}
	}
	sentSet := make(map[string]struct{}, len(sent))
	for _, id := range sent {
		sentSet[id] = struct{}{}
		d, ok := byID[id]
		if !ok {
			failures = append(failures, DocumentFailure{DocumentID: id, Message: "missing from model response"})
			continue
		}
		r := DocumentResult{
			DocumentID:     id,
			Classification: d.Classification,
			Confidence:     d.Confidence,
		}
		if d.Summary != nil {
			r.Summary = strings.TrimSpace(*d.Summary)
		}
		if !isJSONNull(d.ExtractedData) {
			r.ExtractedData = d.ExtractedData
		}
		results = append(results, r)
	}
	for _, d := range resp.Documents {
		if _, ok := sentSet[d.DocumentID]; !ok {
			unknown = append(unknown, d.DocumentID)
		}
	}
	return results, failures, unknown
}
