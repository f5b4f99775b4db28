package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/ghostai/internal/ghostai/llm"
)

func smallLimits() Limits {
	return Limits{MaxMemory: 5, TailAfterSummary: 2, SummaryLimit: 3, TurnRetention: 20}
}

func TestBuffer_AppendNeverExceedsCeiling(t *testing.T) {
	obs := newCountingObserver()
	b := NewBuffer(smallLimits(), nil, obs, discardLogger())

	for i, turn := range makeTurns(40) {
		dropped := b.Append("c1", turn)
		n := b.Len("c1")
		assert.LessOrEqual(t, n, smallLimits().Ceiling(), "after append %d", i)
		if dropped > 0 {
			assert.Equal(t, smallLimits().MaxMemory, n)
		}
	}
	assert.Positive(t, obs.trimmed)

	got := b.Peek("c1")
	require.NotEmpty(t, got)
	assert.Equal(t, "message 39", got[len(got)-1].Content, "newest turn must survive the trim")
}

func TestBuffer_KeepsTimestampOrder(t *testing.T) {
	b := NewBuffer(DefaultLimits(), nil, nil, discardLogger())

	late := NewTurn(llm.RoleUser, "late", base.Add(3*time.Second))
	early := NewTurn(llm.RoleUser, "early", base.Add(1*time.Second))
	tieA := NewTurn(llm.RoleUser, "tie-a", base.Add(2*time.Second))
	tieB := NewTurn(llm.RoleAssistant, "tie-b", base.Add(2*time.Second))

	b.Append("c1", late)
	b.Append("c1", early)
	b.Append("c1", tieA)
	b.Append("c1", tieB)

	var contents []string
	for _, turn := range b.Peek("c1") {
		contents = append(contents, turn.Content)
	}
	assert.Equal(t, []string{"early", "tie-a", "tie-b", "late"}, contents)
}

func TestBuffer_ReadRehydratesOnce(t *testing.T) {
	store := newMemStore(100)
	ctx := context.Background()
	for _, turn := range makeTurns(8) {
		require.NoError(t, store.AppendTurn(ctx, "c1", turn))
	}

	b := NewBuffer(smallLimits(), store, nil, discardLogger())

	first, err := b.Read(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, first, smallLimits().MaxMemory)
	assert.Equal(t, "message 3", first[0].Content)
	assert.Equal(t, "message 7", first[4].Content)

	second, err := b.Read(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.loadCalls)
}

func TestBuffer_ConcurrentReadsShareOneLoad(t *testing.T) {
	store := newMemStore(100)
	ctx := context.Background()
	for _, turn := range makeTurns(4) {
		require.NoError(t, store.AppendTurn(ctx, "c1", turn))
	}
	b := NewBuffer(DefaultLimits(), store, nil, discardLogger())

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turns, err := b.Read(ctx, "c1")
			assert.NoError(t, err)
			assert.Len(t, turns, 4)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, b.Len("c1"), "rehydrated turns must not be duplicated")
}

func TestBuffer_ReadStoreFailureReturnsEmptyView(t *testing.T) {
	store := newMemStore(100)
	store.failLoad = errBackend
	b := NewBuffer(DefaultLimits(), store, nil, discardLogger())

	turns, err := b.Read(context.Background(), "c1")
	require.ErrorIs(t, err, errBackend)
	assert.Empty(t, turns)
}

func TestBuffer_RemoveOnlyListedIDs(t *testing.T) {
	b := NewBuffer(DefaultLimits(), nil, nil, discardLogger())
	turns := makeTurns(5)
	for _, turn := range turns {
		b.Append("c1", turn)
	}

	removed := b.Remove("c1", turnIDs(turns[:3]))
	assert.Equal(t, 3, removed)

	left := b.Peek("c1")
	require.Len(t, left, 2)
	assert.Equal(t, turns[3].ID, left[0].ID)
	assert.Equal(t, turns[4].ID, left[1].ID)
}

func TestBuffer_ConversationsListsNonEmptyOnly(t *testing.T) {
	b := NewBuffer(DefaultLimits(), nil, nil, discardLogger())
	turn := makeTurns(1)[0]
	b.Append("b", turn)
	b.Append("a", turn)
	b.Append("gone", turn)
	b.Clear("gone")

	assert.Equal(t, []string{"a", "b"}, b.Conversations())
	assert.Zero(t, b.Len("gone"))
}
