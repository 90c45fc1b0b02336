// Package prompt assembles the SQL generation prompt. Build is a pure
// function: the same inputs always produce the same prompt, and nothing
// here performs I/O.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/stoatlab/stoat/pkg/model"
	"google.golang.org/genai"
)

// DefaultByteBudget bounds the combined size of schema snippets, session
// history, and profile hints in the prompt. Roughly four bytes per token
// for English text.
const DefaultByteBudget = 24 * 1024

// maxSessionTurns bounds how many prior turns are replayed for
// follow-up resolution.
const maxSessionTurns = 6

// Input carries everything the assembler merges into one prompt.
type Input struct {
	Question string
	Schema   []*model.SchemaHit
	Turns    []*model.Turn
	Hints    *model.Hints

	// ByteBudget overrides DefaultByteBudget when positive.
	ByteBudget int
}

// Prompt is the assembled generation request.
type Prompt struct {
	System   string
	Contents []*genai.Content
}

// Build merges retrieved schema, session context, and profile hints into
// the generation prompt. When the combined context exceeds the budget,
// hints are dropped first, then the oldest session turns; schema
// snippets are only truncated as a last resort.
func Build(in Input) Prompt {
	budget := in.ByteBudget
	if budget <= 0 {
		budget = DefaultByteBudget
	}

	schemaText := formatSchema(in.Schema)
	hintsText := formatHints(in.Hints)
	turns := in.Turns
	if len(turns) > maxSessionTurns {
		turns = turns[len(turns)-maxSessionTurns:]
	}

	// Enforce priority: schema > session turns > hints.
	remaining := budget - len(schemaText)
	if remaining < 0 {
		schemaText = truncate(schemaText, budget)
		remaining = 0
	}
	for turnsSize(turns) > remaining && len(turns) > 0 {
		turns = turns[1:]
	}
	remaining -= turnsSize(turns)
	if len(hintsText) > remaining {
		hintsText = ""
	}

	var sys strings.Builder
	sys.WriteString("You are an expert SQL generator for a garment manufacturing ERP system.\n\n")
	sys.WriteString(sqlRules)
	sys.WriteString("\n\n=== AVAILABLE SCHEMA (retrieved by similarity; ONLY these tables/columns exist) ===\n")
	sys.WriteString(schemaText)
	sys.WriteString("\n=== END SCHEMA ===\n")
	if hintsText != "" {
		sys.WriteString("\n")
		sys.WriteString(hintsText)
		sys.WriteString("\n")
	}
	sys.WriteString("\nTASK:\nGiven the user's natural-language question, generate a SINGLE valid SQL SELECT query. Your response must contain ONLY the SQL: no markdown fences, no explanations, no comments, no trailing semicolon.")

	contents := make([]*genai.Content, 0, len(turns)+1)
	for _, turn := range turns {
		role := genai.RoleUser
		if turn.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, genai.Role(role)))
	}
	contents = append(contents, genai.NewContentFromText(in.Question, genai.RoleUser))

	return Prompt{
		System:   sys.String(),
		Contents: contents,
	}
}

func formatSchema(hits []*model.SchemaHit) string {
	if len(hits) == 0 {
		return "(No schema context available.)"
	}

	parts := make([]string, 0, len(hits))
	for _, hit := range hits {
		parts = append(parts, hit.Doc.Content)
	}
	return strings.Join(parts, "\n\n")
}

func formatHints(h *model.Hints) string {
	if h == nil {
		return ""
	}

	lines := []string{"=== USER PREFERENCES (use as soft guidance) ==="}
	if len(h.FrequentFilters) > 0 {
		keys := make([]string, 0, len(h.FrequentFilters))
		for k := range h.FrequentFilters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, h.FrequentFilters[k]))
		}
		lines = append(lines, "  Frequently used filters: "+strings.Join(pairs, ", "))
	}
	if h.PrimaryDomain != "" {
		lines = append(lines, "  Primary domain of interest: "+h.PrimaryDomain)
	}
	if h.OutputPreference != "" {
		lines = append(lines, "  Preferred output style: "+h.OutputPreference)
	}
	if h.QueryStyle != "" {
		lines = append(lines, "  Query style: "+h.QueryStyle)
	}
	lines = append(lines, "=== END USER PREFERENCES ===")
	return strings.Join(lines, "\n")
}

func turnsSize(turns []*model.Turn) int {
	n := 0
	for _, t := range turns {
		n += len(t.Text)
	}
	return n
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
