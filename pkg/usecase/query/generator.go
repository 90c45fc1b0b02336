package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/prompt"
	"github.com/stoatlab/stoat/pkg/utils/logging"
	"google.golang.org/genai"
)

var (
	fenceOpen  = regexp.MustCompile("(?i)^```(?:sql)?\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
)

// generate produces one SQL statement at temperature zero. One retry
// covers a transient transport failure; an empty completion is final.
func (uc *UseCase) generate(ctx context.Context, p prompt.Prompt) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, ""),
		Temperature:       genai.Ptr(float32(0)),
	}

	resp, err := uc.gemini.GenerateContent(ctx, p.Contents, config)
	if err != nil {
		logging.From(ctx).Warn("generation transport error, retrying once", "error", err)
		resp, err = uc.gemini.GenerateContent(ctx, p.Contents, config)
		if err != nil {
			return "", goerr.Wrap(model.ErrGenerationFailed, "transport error: "+err.Error())
		}
	}

	text := firstText(resp)
	if strings.TrimSpace(text) == "" {
		return "", goerr.Wrap(model.ErrGenerationFailed, "empty completion")
	}
	return cleanSQL(text), nil
}

// regenerate asks for a corrected statement after the database rejected
// the first one. The failed SQL and the database error are appended to
// the original conversation.
func (uc *UseCase) regenerate(ctx context.Context, p prompt.Prompt, failedSQL, dbError string) (string, error) {
	feedback := fmt.Sprintf(
		"The previous SQL failed to execute.\nSQL: %s\nDatabase error: %s\nGenerate a corrected SQL query following the same rules. Respond with ONLY the SQL.",
		failedSQL, dbError,
	)

	contents := make([]*genai.Content, 0, len(p.Contents)+1)
	contents = append(contents, p.Contents...)
	contents = append(contents, genai.NewContentFromText(feedback, genai.RoleUser))

	return uc.generate(ctx, prompt.Prompt{System: p.System, Contents: contents})
}

// cleanSQL strips markdown fences, surrounding whitespace, and trailing
// semicolons from a model completion.
func cleanSQL(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = fenceOpen.ReplaceAllString(cleaned, "")
	cleaned = fenceClose.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimRight(cleaned, ";")
	return strings.TrimSpace(cleaned)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
