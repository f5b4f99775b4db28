package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// TurnLoader is the subset of TurnStore the Buffer rehydrates from.
type TurnLoader interface {
	LoadRecentTurns(ctx context.Context, conversationID string, limit int) ([]Turn, error)
}

// Buffer is the short-term (hot) tier: an ordered window of recent turns per
// conversation, held in memory. It is safe for concurrent use; each
// conversation has its own lock so unrelated conversations never contend.
//
// Invariant: after Append returns, a conversation holds at most
// Limits.Ceiling() turns.
type Buffer struct {
	limits   Limits
	loader   TurnLoader
	observer Observer
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string]*bufferEntry

	loads singleflight.Group
}

type bufferEntry struct {
	mu    sync.Mutex
	turns []Turn // sorted by Timestamp, insertion order on ties
}

// NewBuffer creates an empty Buffer. loader may be nil, in which case an empty
// conversation simply stays empty on Read. Nil observer and logger fall back
// to NoopObserver and slog.Default.
func NewBuffer(limits Limits, loader TurnLoader, observer Observer, logger *slog.Logger) *Buffer {
	if observer == nil {
		observer = NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		limits:   limits.withDefaults(),
		loader:   loader,
		observer: observer,
		logger:   logger,
		entries:  make(map[string]*bufferEntry),
	}
}

// entry returns the conversation's entry, creating it on first use.
func (b *Buffer) entry(conversationID string) *bufferEntry {
	b.mu.RLock()
	e := b.entries[conversationID]
	b.mu.RUnlock()
	if e != nil {
		return e
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if e = b.entries[conversationID]; e == nil {
		e = &bufferEntry{}
		b.entries[conversationID] = e
	}
	return e
}

// Append inserts turn in timestamp order. When the result exceeds the hard
// ceiling, the oldest turns are dropped until MaxMemory remain; dropped turns
// are not persisted again. Returns the number of dropped turns.
func (b *Buffer) Append(conversationID string, turn Turn) int {
	e := b.entry(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.turns = insertTurn(e.turns, turn)
	return b.enforceCeiling(conversationID, e)
}

// enforceCeiling trims e to the newest MaxMemory turns when it is above the
// ceiling. Must be called with e.mu held.
func (b *Buffer) enforceCeiling(conversationID string, e *bufferEntry) int {
	if len(e.turns) <= b.limits.Ceiling() {
		return 0
	}
	dropped := len(e.turns) - b.limits.MaxMemory
	kept := make([]Turn, b.limits.MaxMemory)
	copy(kept, e.turns[dropped:])
	e.turns = kept

	b.observer.BufferTrimmed(dropped)
	b.logger.Warn("memory: hot tier above ceiling, dropped oldest turns",
		"conversation_id", conversationID,
		"dropped", dropped,
		"ceiling", b.limits.Ceiling(),
	)
	return dropped
}

// Read returns a copy of the conversation's turns. When the in-memory
// sequence is empty it is first rehydrated from the turn store (newest
// MaxMemory turns). Concurrent rehydrations of one conversation share a
// single store call. On a store error the current (empty) view is returned
// together with the error.
func (b *Buffer) Read(ctx context.Context, conversationID string) ([]Turn, error) {
	if turns := b.Peek(conversationID); len(turns) > 0 || b.loader == nil {
		return turns, nil
	}

	v, err, _ := b.loads.Do(conversationID, func() (any, error) {
		return b.loader.LoadRecentTurns(ctx, conversationID, b.limits.MaxMemory)
	})
	if err != nil {
		return b.Peek(conversationID), fmt.Errorf("memory: rehydrate %s: %w", conversationID, err)
	}
	loaded, _ := v.([]Turn)

	e := b.entry(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(loaded) > 0 {
		e.turns = mergeTurns(loaded, e.turns)
		b.enforceCeiling(conversationID, e)
		b.logger.Debug("memory: rehydrated hot tier",
			"conversation_id", conversationID,
			"turns", len(e.turns),
		)
	}
	return cloneTurns(e.turns), nil
}

// Peek returns a copy of the in-memory turns without touching the store.
func (b *Buffer) Peek(conversationID string) []Turn {
	b.mu.RLock()
	e := b.entries[conversationID]
	b.mu.RUnlock()
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneTurns(e.turns)
}

// Len returns the in-memory length without rehydrating.
func (b *Buffer) Len(conversationID string) int {
	b.mu.RLock()
	e := b.entries[conversationID]
	b.mu.RUnlock()
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.turns)
}

// Remove deletes the turns whose IDs are in ids and returns how many were
// removed. Turns appended after ids was computed are left in place.
func (b *Buffer) Remove(conversationID string, ids map[string]struct{}) int {
	if len(ids) == 0 {
		return 0
	}
	b.mu.RLock()
	e := b.entries[conversationID]
	b.mu.RUnlock()
	if e == nil {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	kept := make([]Turn, 0, len(e.turns))
	for _, t := range e.turns {
		if _, drop := ids[t.ID]; !drop {
			kept = append(kept, t)
		}
	}
	removed := len(e.turns) - len(kept)
	e.turns = kept
	return removed
}

// Clear empties the in-memory sequence. The turn store is not touched.
func (b *Buffer) Clear(conversationID string) {
	b.mu.RLock()
	e := b.entries[conversationID]
	b.mu.RUnlock()
	if e == nil {
		return
	}
	e.mu.Lock()
	e.turns = nil
	e.mu.Unlock()
}

// Conversations returns the IDs of conversations with a non-empty hot tier,
// sorted for deterministic iteration.
func (b *Buffer) Conversations() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.entries))
	for id, e := range b.entries {
		e.mu.Lock()
		n := len(e.turns)
		e.mu.Unlock()
		if n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// insertTurn places t after every turn whose timestamp is not later than its
// own, so equal timestamps keep insertion order.
func insertTurn(turns []Turn, t Turn) []Turn {
	idx := sort.Search(len(turns), func(i int) bool {
		return turns[i].Timestamp.After(t.Timestamp)
	})
	turns = append(turns, Turn{})
	copy(turns[idx+1:], turns[idx:])
	turns[idx] = t
	return turns
}

// mergeTurns combines rehydrated turns with turns appended while the load was
// in flight, dropping duplicates by ID.
func mergeTurns(loaded, current []Turn) []Turn {
	seen := make(map[string]struct{}, len(loaded)+len(current))
	merged := make([]Turn, 0, len(loaded)+len(current))
	for _, src := range [][]Turn{loaded, current} {
		for _, t := range src {
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			merged = append(merged, t)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

func cloneTurns(turns []Turn) []Turn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// turnIDs returns the set of IDs in turns.
func turnIDs(turns []Turn) map[string]struct{} {
	ids := make(map[string]struct{}, len(turns))
	for _, t := range turns {
		ids[t.ID] = struct{}{}
	}
	return ids
}
