// Package llm defines the completion-backend contract used by ghostai and an
// OpenAI-compatible HTTP implementation (OpenRouter by default).
//
// The backend is stateless: every call carries the full ordered message list
// and a model identifier, and yields either generated text or an error.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged entry of a completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a single completion call.
type CompletionRequest struct {
	Model     string
	Messages  []Message
	MaxTokens int
}

// CompletionResponse is the generated text plus accounting data.
type CompletionResponse struct {
	Content      string
	Model        string
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage reports token consumption as returned by the backend.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is implemented by every completion backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ErrNoContent is returned when the backend answered but the payload carries
// no generated text (no "choices", an error object, or an empty message).
var ErrNoContent = errors.New("llm: response has no generated content")

// ErrRateLimit is returned when the backend reports HTTP 429.
var ErrRateLimit = errors.New("llm: upstream rate limit exceeded")

// PayloadError keeps the raw response body of a failed call so callers can
// surface it verbatim in diagnostics.
type PayloadError struct {
	StatusCode int
	Payload    string
	Err        error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%v (status %d): %s", e.Err, e.StatusCode, e.Payload)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// RawPayload returns the backend payload attached to err, or err's message
// when no payload is available.
func RawPayload(err error) string {
	var pe *PayloadError
	if errors.As(err, &pe) && pe.Payload != "" {
		return pe.Payload
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsTransient reports whether err is worth retrying: rate limits, 5xx
// responses, and transport failures. A well-formed answer that simply lacks
// content is not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimit) {
		return true
	}
	var pe *PayloadError
	if errors.As(err, &pe) {
		return pe.StatusCode >= 500
	}
	return !errors.Is(err, ErrNoContent)
}
