package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/bdobrica/ghostai/internal/ghostai/llm"
)

// MaxQuoteRunes caps the reply-quote snippet prepended to a new input.
const MaxQuoteRunes = 200

// digestPrefix introduces each summary record in the assembled context.
const digestPrefix = "past-conversation digest: "

// StyleResolver maps settings keys to prompts and model identifiers. Unknown
// or empty keys resolve to the catalogue defaults.
type StyleResolver interface {
	StylePrompt(styleKey string) string
	ModelID(modelKey string) string
	ValidateStyle(styleKey string) error
	ValidateModel(modelKey string) error
}

// ContextAssembler builds the ordered message list for one completion call:
//
//  1. the style prompt (system),
//  2. the newest SummaryLimit summaries, oldest first (system),
//  3. the hot tier in chronological order; user turns carry a relative-age
//     label, assistant turns are passed through untouched,
//  4. the new input (user), with the reply quote prepended when present.
//
// Store failures degrade the context rather than failing the reply.
type ContextAssembler struct {
	Buffer    *Buffer
	Summaries SummaryLog
	Styles    StyleResolver
	Limits    Limits
	Logger    *slog.Logger
	Now       func() time.Time
}

// AssembleRequest is the input to Assemble.
type AssembleRequest struct {
	ConversationID string
	Text           string
	ReplyQuote     string
	Settings       Settings
}

// Assembled is the context for one completion call.
type Assembled struct {
	Model        string
	Messages     []llm.Message
	SummaryCount int
	TurnCount    int
}

// Assemble produces the message list and resolved model for req.
func (a *ContextAssembler) Assemble(ctx context.Context, req AssembleRequest) *Assembled {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	limits := a.Limits.withDefaults()

	out := &Assembled{Model: a.Styles.ModelID(req.Settings.ModelKey)}
	out.Messages = append(out.Messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: a.Styles.StylePrompt(req.Settings.StyleKey),
	})

	summaries, err := a.Summaries.LoadRecentSummaries(ctx, req.ConversationID, limits.SummaryLimit)
	if err != nil {
		logger.Warn("memory: loading summaries failed, replying without them",
			"conversation_id", req.ConversationID,
			"err", err,
		)
	}
	for _, s := range summaries {
		out.Messages = append(out.Messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: digestPrefix + s.Text,
		})
	}
	out.SummaryCount = len(summaries)

	turns, err := a.Buffer.Read(ctx, req.ConversationID)
	if err != nil {
		logger.Warn("memory: hot tier rehydration failed, replying with in-memory view",
			"conversation_id", req.ConversationID,
			"err", err,
		)
	}
	at := now()
	for _, t := range turns {
		content := t.Content
		if t.Role == llm.RoleUser {
			content = fmt.Sprintf("[%s] %s", RelativeAge(at, t.Timestamp), t.Content)
		}
		out.Messages = append(out.Messages, llm.Message{Role: t.Role, Content: content})
	}
	out.TurnCount = len(turns)

	out.Messages = append(out.Messages, llm.Message{
		Role:    llm.RoleUser,
		Content: QuoteInput(req.Text, req.ReplyQuote),
	})
	return out
}

// QuoteInput prefixes text with an explicit back-reference to the quoted
// message, truncated to MaxQuoteRunes characters. An empty quote returns text
// unchanged.
func QuoteInput(text, quote string) string {
	if quote == "" {
		return text
	}
	return fmt.Sprintf("[in reply to: %q]\n%s", truncateRunes(quote, MaxQuoteRunes), text)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
