package intent

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/adapter"
	"google.golang.org/genai"
)

const classifySystemPrompt = `You are a strict classifier. Given a user question, decide if it is related to ANY of the following business database domains:

- employees, departments, salaries, designations, managers
- attendance, check-in/out, hours worked
- leaves (sick, casual, annual, maternity)
- suppliers, raw materials, inventory, stock levels
- products, production orders, manufacturing
- sales orders, revenue, customers

Reply with EXACTLY one word: "yes" or "no".
Do NOT explain. Do NOT add punctuation.`

// LLM is the second-layer classifier: a tiny yes/no call on the light
// model, only reached when the keyword scan was inconclusive.
type LLM struct {
	gemini adapter.Gemini
}

func NewLLM(gemini adapter.Gemini) *LLM {
	return &LLM{gemini: gemini}
}

func (l *LLM) Classify(ctx context.Context, question string) (Decision, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(classifySystemPrompt, ""),
		Temperature:       genai.Ptr(float32(0)),
		MaxOutputTokens:   8,
	}

	resp, err := l.gemini.GenerateLight(ctx, []*genai.Content{
		genai.NewContentFromText(question, genai.RoleUser),
	}, config)
	if err != nil {
		return DecisionUnknown, goerr.Wrap(err, "intent classification call failed")
	}

	answer := firstText(resp)
	switch {
	case strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "yes"):
		return DecisionAccept, nil
	case strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "no"):
		return DecisionReject, nil
	default:
		return DecisionUnknown, nil
	}
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			return part.Text
		}
	}
	return ""
}
