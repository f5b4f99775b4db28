// Package memory implements per-conversation context for the ghostai chat
// assistant. A bounded short-term buffer keeps recent turns in process memory,
// a durable turn log and summary log survive restarts, a compactor promotes
// old turns into summaries, and the context assembler builds the exact message
// list sent to the completion backend on every reply.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/ghostai/internal/ghostai/llm"
)

// Turn is one immutable message of a conversation. ID is unique per turn and
// lets the hot tier merge rehydrated turns and remove summarised ones without
// relying on timestamps being distinct.
type Turn struct {
	ID        string
	Role      llm.Role // llm.RoleUser or llm.RoleAssistant
	Content   string
	Timestamp time.Time
}

// NewTurn returns a Turn with a fresh ID.
func NewTurn(role llm.Role, content string, ts time.Time) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}
}

// SummaryRecord is one compressed digest of older turns. Sequence is
// monotonic per conversation and totally orders a conversation's summaries.
type SummaryRecord struct {
	ConversationID string
	Sequence       int64
	Text           string
	CreatedAt      time.Time
}

// Settings is a conversation's reply configuration. Empty keys mean "use the
// catalogue default".
type Settings struct {
	ConversationID string
	ModelKey       string
	StyleKey       string
	UpdatedAt      time.Time
}

// Limits bounds the hot and cold tiers.
type Limits struct {
	// MaxMemory is the hot-tier length above which compaction is triggered.
	MaxMemory int
	// TailAfterSummary is the number of newest turns kept across compaction.
	TailAfterSummary int
	// SummaryLimit is the number of newest summaries loaded per reply.
	SummaryLimit int
	// TurnRetention caps the durable turn log per conversation.
	TurnRetention int
}

// DefaultLimits returns the documented defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxMemory:        100,
		TailAfterSummary: 10,
		SummaryLimit:     5,
		TurnRetention:    100,
	}
}

// withDefaults fills zero or negative fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxMemory <= 0 {
		l.MaxMemory = d.MaxMemory
	}
	if l.TailAfterSummary <= 0 {
		l.TailAfterSummary = d.TailAfterSummary
	}
	if l.SummaryLimit <= 0 {
		l.SummaryLimit = d.SummaryLimit
	}
	if l.TurnRetention <= 0 {
		l.TurnRetention = d.TurnRetention
	}
	return l
}

// Ceiling is the hard bound on the hot tier after any append.
func (l Limits) Ceiling() int {
	return l.MaxMemory + l.TailAfterSummary
}

// TurnStore is the durable, capped, per-conversation turn log.
type TurnStore interface {
	// AppendTurn writes turn and, in the same operation, deletes all but the
	// newest retention-many turns of the conversation.
	AppendTurn(ctx context.Context, conversationID string, turn Turn) error
	// LoadRecentTurns returns the newest limit turns in chronological order.
	LoadRecentTurns(ctx context.Context, conversationID string, limit int) ([]Turn, error)
	CountTurns(ctx context.Context, conversationID string) (int, error)
	ClearTurns(ctx context.Context, conversationID string) error
}

// SummaryLog is the append-only log of summary records.
type SummaryLog interface {
	// AppendSummary stores text under the next sequence number.
	AppendSummary(ctx context.Context, conversationID, text string, createdAt time.Time) (SummaryRecord, error)
	// LoadRecentSummaries returns the newest limit records, oldest first.
	LoadRecentSummaries(ctx context.Context, conversationID string, limit int) ([]SummaryRecord, error)
	CountSummaries(ctx context.Context, conversationID string) (int, error)
	ClearSummaries(ctx context.Context, conversationID string) error
}

// SettingsStore persists Settings with one explicit upsert per field.
type SettingsStore interface {
	// GetSettings returns the stored settings, or a Settings with empty keys
	// when none were ever written.
	GetSettings(ctx context.Context, conversationID string) (Settings, error)
	SetModelKey(ctx context.Context, conversationID, modelKey string) error
	SetStyleKey(ctx context.Context, conversationID, styleKey string) error
}

// Store is the full persistent store a deployment provides.
type Store interface {
	TurnStore
	SummaryLog
	SettingsStore
	Close() error
}
