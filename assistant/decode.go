package assistant

import (
	"encoding/json"
	"strings"

	"github.com/lxw15337674/memox-sub000/core"
)

// Answer is a synthesized reply to a search query.
type Answer struct {
	Text      string   `json:"answer"`
	KeyPoints []string `json:"keyPoints,omitempty"`
	// Structured is false when the model ignored the JSON format and Text
	// holds its raw reply.
	Structured bool `json:"-"`
}

// Insights summarizes a set of memos.
type Insights struct {
	Summary     string   `json:"summary"`
	Themes      []string `json:"themes"`
	Suggestions []string `json:"suggestions"`
	Structured  bool     `json:"-"`
}

// DecodeAnswer parses a model reply. A JSON object with a non-empty
// "answer" is used as is; anything else becomes the answer text verbatim.
func DecodeAnswer(raw string) (Answer, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Answer{}, core.NewError(core.CodeInvalidResponse, "model returned an empty reply", nil)
	}

	var parsed struct {
		Answer    *string  `json:"answer"`
		KeyPoints []string `json:"keyPoints"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &parsed); err == nil &&
		parsed.Answer != nil && strings.TrimSpace(*parsed.Answer) != "" {
		return Answer{Text: *parsed.Answer, KeyPoints: nonEmpty(parsed.KeyPoints), Structured: true}, nil
	}
	return Answer{Text: text}, nil
}

// DecodeInsights parses an insights reply the same way, with the raw reply
// becoming the summary.
func DecodeInsights(raw string) (Insights, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Insights{}, core.NewError(core.CodeInvalidResponse, "model returned an empty reply", nil)
	}

	var parsed struct {
		Summary     *string  `json:"summary"`
		Themes      []string `json:"themes"`
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &parsed); err == nil &&
		parsed.Summary != nil && strings.TrimSpace(*parsed.Summary) != "" {
		return Insights{
			Summary:     *parsed.Summary,
			Themes:      orEmpty(nonEmpty(parsed.Themes)),
			Suggestions: orEmpty(nonEmpty(parsed.Suggestions)),
			Structured:  true,
		}, nil
	}
	return Insights{Summary: text, Themes: []string{}, Suggestions: []string{}}, nil
}

// stripFences removes a surrounding Markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func nonEmpty(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func orEmpty(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
