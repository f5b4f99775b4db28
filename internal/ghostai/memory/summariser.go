package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/ghostai/internal/ghostai/llm"
)

// CompressionInstruction is the fixed system prompt for summarisation.
const CompressionInstruction = "You write a very short digest of a group chat. " +
	"Briefly describe what was discussed, who argued with whom, and which important facts and decisions came up. " +
	"Write 3-6 short sentences, without unnecessary detail."

// Summariser compresses a run of turns into a short digest.
type Summariser interface {
	Summarise(ctx context.Context, turns []Turn) (string, error)
}

// LLMSummariser implements Summariser on top of a completion Provider using a
// dedicated summarisation model, independent of any conversation's reply
// model.
type LLMSummariser struct {
	provider  llm.Provider
	model     string
	maxTokens int
	observer  Observer
}

// NewLLMSummariser creates a summariser that calls provider with model.
func NewLLMSummariser(provider llm.Provider, model string, observer Observer) *LLMSummariser {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &LLMSummariser{
		provider:  provider,
		model:     model,
		maxTokens: 400,
		observer:  observer,
	}
}

// Summarise sends the transcript of turns as the only user message after the
// compression instruction. Backend failures, including payloads without
// generated content, are returned unchanged so callers can inspect them with
// errors.Is(err, llm.ErrNoContent).
func (s *LLMSummariser) Summarise(ctx context.Context, turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}

	start := time.Now()
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: CompressionInstruction},
			{Role: llm.RoleUser, Content: FormatTranscript(turns)},
		},
		MaxTokens: s.maxTokens,
	})
	s.observer.CompletionObserved("summary", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("summariser: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// FormatTranscript renders turns as "role: content" lines, newest last.
func FormatTranscript(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", t.Role, t.Content)
	}
	return b.String()
}

// Compile-time interface satisfaction check.
var _ Summariser = (*LLMSummariser)(nil)
