package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stoatlab/stoat/pkg/adapter"
	"github.com/stoatlab/stoat/pkg/utils/logging"
	"google.golang.org/genai"
)

// explanationSampleRows bounds how many result rows the explanation
// prompt carries.
const explanationSampleRows = 3

// explain produces a short natural-language summary of the result with
// the light model. Explanation is best-effort; any failure falls back to
// a templated message so the pipeline never fails at this stage.
func (uc *UseCase) explain(ctx context.Context, question, sql string, out *adapter.QueryOutput) string {
	fallback := fallbackExplanation(len(out.Rows))

	sample := out.Rows
	if len(sample) > explanationSampleRows {
		sample = sample[:explanationSampleRows]
	}
	sampleJSON, err := json.Marshal(sample)
	if err != nil {
		return fallback
	}

	ask := fmt.Sprintf(
		"Question: %s\nSQL: %s\nRow count: %d\nSample rows: %s\n\nSummarize the result for the user in 1-3 plain sentences. No markdown, no SQL.",
		question, sql, len(out.Rows), sampleJSON,
	)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: 256,
	}

	resp, err := uc.gemini.GenerateLight(ctx, []*genai.Content{genai.NewContentFromText(ask, genai.RoleUser)}, config)
	if err != nil {
		logging.From(ctx).Warn("explanation generation failed", "error", err)
		return fallback
	}

	text := strings.TrimSpace(firstText(resp))
	if text == "" {
		return fallback
	}
	return text
}

func fallbackExplanation(rowCount int) string {
	switch rowCount {
	case 0:
		return "No data found matching your query."
	case 1:
		return "Found 1 matching result."
	default:
		return fmt.Sprintf("Found %d matching results.", rowCount)
	}
}
