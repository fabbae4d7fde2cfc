// Package assistant asks a language model to answer questions from, and
// summarize, the user's memos.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lxw15337674/memox-sub000/core"
	"github.com/lxw15337674/memox-sub000/llm"
	"github.com/lxw15337674/memox-sub000/search"
	"github.com/lxw15337674/memox-sub000/server/store"
)

const (
	DefaultMaxSources     = 10
	DefaultMaxSourceRunes = 800
)

const answerSystemPrompt = `You are a personal knowledge assistant. Answer the user's question using only the numbered notes provided.
If the notes do not contain the answer, say so plainly.
Reply with a JSON object: {"answer": string, "keyPoints": [string]}.
Write the answer in the same language as the question.`

const insightsSystemPrompt = `You review a person's recent notes and describe what they have been thinking about.
Reply with a JSON object: {"summary": string, "themes": [string], "suggestions": [string]}.
Write in the language most of the notes are written in.`

type SynthesizerOptions struct {
	MaxSources     int
	MaxSourceRunes int
	// MaxTokens caps the reply length; 0 leaves the provider default.
	MaxTokens int
	// Temperature is sent only when set.
	Temperature *float64
	Logger      *slog.Logger
}

type Synthesizer struct {
	chat       llm.Client
	model      string
	maxSources int
	maxRunes   int
	chatOpts   llm.ChatOptions
	logger     *slog.Logger
}

func NewSynthesizer(chat llm.Client, model string, opts SynthesizerOptions) *Synthesizer {
	s := &Synthesizer{
		chat:       chat,
		model:      model,
		maxSources: opts.MaxSources,
		maxRunes:   opts.MaxSourceRunes,
		chatOpts: llm.ChatOptions{
			JSON:        true,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		},
		logger: opts.Logger,
	}
	if s.maxSources <= 0 {
		s.maxSources = DefaultMaxSources
	}
	if s.maxRunes <= 0 {
		s.maxRunes = DefaultMaxSourceRunes
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "assistant")
	return s
}

// Answer replies to query using the highest-ranked sources.
func (s *Synthesizer) Answer(ctx context.Context, query string, sources []search.Result) (Answer, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nNotes:\n", strings.TrimSpace(query))
	for i, r := range sources[:min(len(sources), s.maxSources)] {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, r.DisplayDate, truncate(r.Content, s.maxRunes))
	}

	raw, err := s.complete(ctx, answerSystemPrompt, b.String())
	if err != nil {
		return Answer{}, err
	}
	ans, err := DecodeAnswer(raw)
	if err != nil {
		return Answer{}, err
	}
	if !ans.Structured {
		s.logger.Warn("model reply was not structured, using raw text", "chars", len(raw))
	}
	return ans, nil
}

// Insights summarizes memos, most recent first.
func (s *Synthesizer) Insights(ctx context.Context, memos []store.Memo) (Insights, error) {
	var b strings.Builder
	b.WriteString("Notes:\n")
	for i, m := range memos[:min(len(memos), s.maxSources)] {
		date := "unknown date"
		if m.CreatedAt != nil {
			date = m.CreatedAt.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, date, truncate(m.Content, s.maxRunes))
	}

	raw, err := s.complete(ctx, insightsSystemPrompt, b.String())
	if err != nil {
		return Insights{}, err
	}
	return DecodeInsights(raw)
}

func (s *Synthesizer) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := s.chat.Chat(ctx, s.model, system, user, s.chatOpts)
	if err != nil {
		return "", classify(err)
	}
	if resp == nil {
		return "", core.NewError(core.CodeInvalidResponse, "chat response was empty", nil)
	}
	s.logger.Debug("chat completed", "model", s.model, "finish_reason", resp.FinishReason,
		"total_tokens", resp.Usage.TotalTokens)
	return resp.Content, nil
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func classify(err error) error {
	var apiErr *llm.APIError
	switch {
	case errors.As(err, &apiErr):
		return core.NewUpstreamError(apiErr.StatusCode, apiErr.Code, "chat request failed", err)
	case errors.Is(err, llm.ErrMalformedResponse):
		return core.NewError(core.CodeInvalidResponse, "chat response was malformed", err)
	default:
		return core.NewError(core.CodeUnknown, "chat request failed", err)
	}
}
