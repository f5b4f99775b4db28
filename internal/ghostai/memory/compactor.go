package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrEmptySummary is returned when the summariser succeeded but produced only
// whitespace; it is handled like a backend failure.
var ErrEmptySummary = errors.New("memory: summariser returned empty text")

// Compactor converts the oldest turns of an overflowing hot tier into one
// summary record. At most one compaction (or drain) runs per conversation at
// a time; other conversations proceed in parallel.
type Compactor struct {
	buffer     *Buffer
	summaries  SummaryLog
	summariser Summariser
	limits     Limits
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time

	locks keyedMutex
}

// NewCompactor wires a compactor. Nil observer and logger fall back to
// NoopObserver and slog.Default.
func NewCompactor(buffer *Buffer, summaries SummaryLog, summariser Summariser, limits Limits, observer Observer, logger *slog.Logger) *Compactor {
	if observer == nil {
		observer = NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		buffer:     buffer,
		summaries:  summaries,
		summariser: summariser,
		limits:     limits.withDefaults(),
		observer:   observer,
		logger:     logger,
		now:        time.Now,
	}
}

// MaybeCompact is the post-append trigger: when the conversation's hot tier
// is longer than MaxMemory it compacts. If a compaction for the conversation
// is already in flight, MaybeCompact returns immediately; the running one
// works on the same head and the next overflow re-triggers if needed.
// Returns the new record, or nil when nothing was compacted.
func (c *Compactor) MaybeCompact(ctx context.Context, conversationID string) (*SummaryRecord, error) {
	turns, err := c.buffer.Read(ctx, conversationID)
	if err != nil {
		c.logger.Warn("compactor: hot tier read failed, using in-memory view",
			"conversation_id", conversationID,
			"err", err,
		)
	}
	if len(turns) <= c.limits.MaxMemory {
		return nil, nil
	}

	if !c.locks.TryLock(conversationID) {
		c.logger.Debug("compactor: compaction already in flight",
			"conversation_id", conversationID,
		)
		return nil, nil
	}
	defer c.locks.Unlock(conversationID)

	return c.compactLocked(ctx, conversationID, true)
}

// Compact compacts unconditionally (subject only to the tail rule), waiting
// for any in-flight compaction of the same conversation first.
func (c *Compactor) Compact(ctx context.Context, conversationID string) (*SummaryRecord, error) {
	c.locks.Lock(conversationID)
	defer c.locks.Unlock(conversationID)
	return c.compactLocked(ctx, conversationID, false)
}

// compactLocked runs one compaction. Must be called with the conversation's
// lock held. The hot tier is re-read under the lock so a compaction that just
// finished is observed.
func (c *Compactor) compactLocked(ctx context.Context, conversationID string, requireOverflow bool) (*SummaryRecord, error) {
	turns := c.buffer.Peek(conversationID)
	if requireOverflow && len(turns) <= c.limits.MaxMemory {
		return nil, nil
	}
	if len(turns) <= c.limits.TailAfterSummary {
		return nil, nil
	}

	head := turns[:len(turns)-c.limits.TailAfterSummary]
	start := time.Now()

	summary, err := c.summariser.Summarise(ctx, head)
	if err == nil && summary == "" {
		err = ErrEmptySummary
	}
	if err != nil {
		c.observer.CompactionFinished(ResultFailed)
		c.logger.Warn("compactor: summarisation failed, hot tier left unchanged",
			"conversation_id", conversationID,
			"head", len(head),
			"err", err,
		)
		return nil, fmt.Errorf("compactor: summarise %s: %w", conversationID, err)
	}

	rec, err := c.summaries.AppendSummary(ctx, conversationID, summary, c.now())
	if err != nil {
		c.observer.CompactionFinished(ResultFailed)
		c.logger.Error("compactor: summary write failed, hot tier left unchanged",
			"conversation_id", conversationID,
			"err", err,
		)
		return nil, fmt.Errorf("compactor: store summary %s: %w", conversationID, err)
	}

	removed := c.buffer.Remove(conversationID, turnIDs(head))
	c.observer.CompactionFinished(ResultOK)
	c.logger.Info("conversation compacted",
		"conversation_id", conversationID,
		"sequence", rec.Sequence,
		"summarised", removed,
		"remaining", c.buffer.Len(conversationID),
		"elapsed", time.Since(start).String(),
	)
	return &rec, nil
}

// withLock runs fn while holding the conversation's compaction lock.
func (c *Compactor) withLock(conversationID string, fn func()) {
	c.locks.Lock(conversationID)
	defer c.locks.Unlock(conversationID)
	fn()
}

// keyedMutex is a set of mutexes indexed by conversation ID. Entries are
// never removed; there is one small mutex per conversation seen.
type keyedMutex struct {
	m sync.Map // string -> *sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	v, _ := k.m.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (k *keyedMutex) Lock(key string)         { k.get(key).Lock() }
func (k *keyedMutex) Unlock(key string)       { k.get(key).Unlock() }
func (k *keyedMutex) TryLock(key string) bool { return k.get(key).TryLock() }
