package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/ghostai/common/redact"
	"github.com/bdobrica/ghostai/common/retry"
	"github.com/bdobrica/ghostai/internal/ghostai/llm"
)

// maxErrorPayloadRunes caps the backend payload echoed in an error reply.
const maxErrorPayloadRunes = 1500

// EngineConfig wires an Engine.
type EngineConfig struct {
	Limits     Limits
	Store      Store
	Provider   llm.Provider // reply completions
	Summariser Summariser   // compaction and drain
	Styles     StyleResolver

	// Retry applies to reply completions only. Zero value uses
	// retry.DefaultConfig with llm.IsTransient as the classifier.
	Retry retry.Config

	DrainTimeout     time.Duration
	DrainConcurrency int

	// Secrets are redacted from backend payloads echoed to users and logs.
	Secrets []string

	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Engine is the conversation-memory core. It owns the hot tier and
// coordinates the cold tier, compaction, context assembly and shutdown drain.
// It is safe for concurrent use.
type Engine struct {
	limits    Limits
	store     Store
	provider  llm.Provider
	styles    StyleResolver
	retry     retry.Config
	secrets   []string
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
	buffer    *Buffer
	compactor *Compactor
	assembler *ContextAssembler
	drainer   *Drainer
}

// InboundTurn is a turn event coming from the messaging gateway.
type InboundTurn struct {
	ConversationID string
	Role           llm.Role
	Text           string
	// Speaker, when set, is prefixed to user content as "Speaker: text" so
	// group conversations keep track of who said what.
	Speaker    string
	Timestamp  time.Time // client timestamp; zero means "now"
	ReplyQuote string
}

// ReplyRequest asks for a reply to Text in a conversation.
type ReplyRequest struct {
	ConversationID string
	Text           string
	ReplyQuote     string
}

// ReplyResult always carries text for the user: the generated reply, or a
// diagnostic when the backend failed (Err is then non-nil).
type ReplyResult struct {
	Text  string
	Model string
	Err   error
}

// Status describes one conversation's memory.
type Status struct {
	ConversationID string
	HotTurns       int
	DurableTurns   int
	Summaries      int
	Settings       Settings
}

// NewEngine validates cfg and builds the engine's components.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("memory: engine requires a store")
	}
	if cfg.Provider == nil {
		return nil, errors.New("memory: engine requires a completion provider")
	}
	if cfg.Summariser == nil {
		return nil, errors.New("memory: engine requires a summariser")
	}
	if cfg.Styles == nil {
		return nil, errors.New("memory: engine requires a style resolver")
	}
	limits := cfg.Limits.withDefaults()
	if limits.TailAfterSummary >= limits.MaxMemory {
		return nil, fmt.Errorf("memory: tail after summary (%d) must be below max memory (%d)",
			limits.TailAfterSummary, limits.MaxMemory)
	}
	if cfg.Observer == nil {
		cfg.Observer = NoopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = llm.IsTransient
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = cfg.Logger
	}

	buffer := NewBuffer(limits, cfg.Store, cfg.Observer, cfg.Logger)
	compactor := NewCompactor(buffer, cfg.Store, cfg.Summariser, limits, cfg.Observer, cfg.Logger)
	compactor.now = cfg.Now
	drainer := NewDrainer(buffer, compactor, cfg.Store, cfg.Summariser,
		cfg.DrainTimeout, cfg.DrainConcurrency, cfg.Observer, cfg.Logger)
	drainer.now = cfg.Now

	return &Engine{
		limits:    limits,
		store:     cfg.Store,
		provider:  cfg.Provider,
		styles:    cfg.Styles,
		retry:     cfg.Retry,
		secrets:   cfg.Secrets,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
		now:       cfg.Now,
		buffer:    buffer,
		compactor: compactor,
		assembler: &ContextAssembler{
			Buffer:    buffer,
			Summaries: cfg.Store,
			Styles:    cfg.Styles,
			Limits:    limits,
			Logger:    cfg.Logger,
			Now:       cfg.Now,
		},
		drainer: drainer,
	}, nil
}

// RecordTurn appends an inbound turn to the hot tier and the turn store, then
// runs the compaction trigger. The hot tier always accepts the turn; a store
// failure is returned (and the tiers diverge until the next write) but does
// not prevent the compaction check. Compaction failures are logged only.
func (e *Engine) RecordTurn(ctx context.Context, in InboundTurn) error {
	if in.Role != llm.RoleUser && in.Role != llm.RoleAssistant {
		return fmt.Errorf("memory: unsupported turn role %q", in.Role)
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	content := in.Text
	if in.Role == llm.RoleUser {
		content = QuoteInput(content, in.ReplyQuote)
		if in.Speaker != "" {
			content = in.Speaker + ": " + content
		}
	}
	turn := NewTurn(in.Role, content, ts)

	// Rehydrate before the first append after a restart; otherwise the new
	// turn would make the hot tier non-empty and hide the stored history.
	if _, err := e.buffer.Read(ctx, in.ConversationID); err != nil {
		e.logger.Warn("memory: hot tier rehydration failed",
			"conversation_id", in.ConversationID,
			"err", err,
		)
	}
	e.buffer.Append(in.ConversationID, turn)

	var storeErr error
	if err := e.store.AppendTurn(ctx, in.ConversationID, turn); err != nil {
		storeErr = fmt.Errorf("memory: persist turn: %w", err)
		e.logger.Error("memory: turn store write failed; hot and durable tiers diverge",
			"conversation_id", in.ConversationID,
			"err", err,
		)
	}

	if _, err := e.compactor.MaybeCompact(ctx, in.ConversationID); err != nil {
		e.logger.Warn("memory: compaction deferred to next overflow",
			"conversation_id", in.ConversationID,
			"err", err,
		)
	}
	return storeErr
}

// Reply assembles the context for req and asks the completion backend for a
// reply. It never fails: backend errors become a diagnostic reply embedding
// the raw (redacted) payload. Reply does not record any turn.
func (e *Engine) Reply(ctx context.Context, req ReplyRequest) ReplyResult {
	settings, err := e.store.GetSettings(ctx, req.ConversationID)
	if err != nil {
		e.logger.Warn("memory: settings unavailable, using defaults",
			"conversation_id", req.ConversationID,
			"err", err,
		)
		settings = Settings{ConversationID: req.ConversationID}
	}

	assembled := e.assembler.Assemble(ctx, AssembleRequest{
		ConversationID: req.ConversationID,
		Text:           req.Text,
		ReplyQuote:     req.ReplyQuote,
		Settings:       settings,
	})

	resp, err := retry.Value(ctx, e.retry, func() (*llm.CompletionResponse, error) {
		start := time.Now()
		resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
			Model:    assembled.Model,
			Messages: assembled.Messages,
		})
		if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
			err = fmt.Errorf("%w: empty reply", llm.ErrNoContent)
		}
		e.observer.CompletionObserved("reply", time.Since(start), err)
		return resp, err
	})
	if err != nil {
		payload := redact.Payload(llm.RawPayload(err), maxErrorPayloadRunes, e.secrets...)
		e.observer.ReplyFinished(ResultFailed)
		e.logger.Warn("memory: reply completion failed",
			"conversation_id", req.ConversationID,
			"model", assembled.Model,
			"payload", payload,
		)
		return ReplyResult{
			Text:  "API error: " + payload,
			Model: assembled.Model,
			Err:   err,
		}
	}

	e.observer.ReplyFinished(ResultOK)
	e.logger.Debug("memory: reply generated",
		"conversation_id", req.ConversationID,
		"model", assembled.Model,
		"summaries", assembled.SummaryCount,
		"turns", assembled.TurnCount,
		"reply_len", len(resp.Content),
	)
	return ReplyResult{Text: resp.Content, Model: assembled.Model}
}

// Converse is the gateway's full cycle for one addressed message: reply from
// the current context, then record the user turn and, if the reply
// succeeded, the assistant turn. Diagnostic replies are not recorded so they
// never leak into later context.
func (e *Engine) Converse(ctx context.Context, in InboundTurn) ReplyResult {
	in.Role = llm.RoleUser
	if in.Timestamp.IsZero() {
		in.Timestamp = e.now()
	}
	result := e.Reply(ctx, ReplyRequest{
		ConversationID: in.ConversationID,
		Text:           in.Text,
		ReplyQuote:     in.ReplyQuote,
	})

	// A turn the user already sent must reach the store even when the
	// caller's context is cancelled by shutdown.
	recordCtx := context.WithoutCancel(ctx)
	if err := e.RecordTurn(recordCtx, in); err != nil {
		e.logger.Warn("memory: user turn not persisted", "conversation_id", in.ConversationID, "err", err)
	}
	if result.Err != nil {
		return result
	}

	replyAt := e.now()
	if !replyAt.After(in.Timestamp) {
		replyAt = in.Timestamp.Add(time.Millisecond)
	}
	if err := e.RecordTurn(recordCtx, InboundTurn{
		ConversationID: in.ConversationID,
		Role:           llm.RoleAssistant,
		Text:           result.Text,
		Timestamp:      replyAt,
	}); err != nil {
		e.logger.Warn("memory: assistant turn not persisted", "conversation_id", in.ConversationID, "err", err)
	}
	return result
}

// Clear forgets a conversation: hot tier, durable turns and summaries.
// Settings are kept. The hot tier is cleared first so a concurrent reply
// cannot resurrect it from a half-cleared store; it is cleared again at the
// end for turns appended meanwhile.
func (e *Engine) Clear(ctx context.Context, conversationID string) error {
	var err error
	e.compactor.withLock(conversationID, func() {
		e.buffer.Clear(conversationID)
		if cerr := e.store.ClearTurns(ctx, conversationID); cerr != nil {
			err = fmt.Errorf("memory: clear turns: %w", cerr)
			return
		}
		if cerr := e.store.ClearSummaries(ctx, conversationID); cerr != nil {
			err = fmt.Errorf("memory: clear summaries: %w", cerr)
			return
		}
		e.buffer.Clear(conversationID)
	})
	if err == nil {
		e.logger.Info("conversation cleared", "conversation_id", conversationID)
	}
	return err
}

// SetModel stores the conversation's reply model after validating the key.
func (e *Engine) SetModel(ctx context.Context, conversationID, modelKey string) error {
	if err := e.styles.ValidateModel(modelKey); err != nil {
		return err
	}
	if err := e.store.SetModelKey(ctx, conversationID, modelKey); err != nil {
		return fmt.Errorf("memory: set model: %w", err)
	}
	return nil
}

// SetStyle stores the conversation's style after validating the key.
func (e *Engine) SetStyle(ctx context.Context, conversationID, styleKey string) error {
	if err := e.styles.ValidateStyle(styleKey); err != nil {
		return err
	}
	if err := e.store.SetStyleKey(ctx, conversationID, styleKey); err != nil {
		return fmt.Errorf("memory: set style: %w", err)
	}
	return nil
}

// Settings returns the conversation's stored settings.
func (e *Engine) Settings(ctx context.Context, conversationID string) (Settings, error) {
	return e.store.GetSettings(ctx, conversationID)
}

// Status reports the conversation's memory usage.
func (e *Engine) Status(ctx context.Context, conversationID string) (Status, error) {
	st := Status{
		ConversationID: conversationID,
		HotTurns:       e.buffer.Len(conversationID),
	}
	var err error
	if st.DurableTurns, err = e.store.CountTurns(ctx, conversationID); err != nil {
		return st, fmt.Errorf("memory: count turns: %w", err)
	}
	if st.Summaries, err = e.store.CountSummaries(ctx, conversationID); err != nil {
		return st, fmt.Errorf("memory: count summaries: %w", err)
	}
	if st.Settings, err = e.store.GetSettings(ctx, conversationID); err != nil {
		return st, fmt.Errorf("memory: settings: %w", err)
	}
	return st, nil
}

// HotConversations returns how many conversations currently hold turns in
// memory.
func (e *Engine) HotConversations() int {
	return len(e.buffer.Conversations())
}

// Compact forces a compaction of the conversation (subject to the tail rule).
func (e *Engine) Compact(ctx context.Context, conversationID string) (*SummaryRecord, error) {
	return e.compactor.Compact(ctx, conversationID)
}

// Drain flushes every hot tier into summaries. See Drainer.
func (e *Engine) Drain(ctx context.Context) DrainReport {
	return e.drainer.Drain(ctx)
}

// Buffer exposes the hot tier for inspection.
func (e *Engine) Buffer() *Buffer {
	return e.buffer
}
