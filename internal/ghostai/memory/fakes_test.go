package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bdobrica/ghostai/internal/ghostai/llm"
)

var errBackend = errors.New("backend unavailable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-process Store with failure injection.
type memStore struct {
	mu        sync.Mutex
	retention int
	turns     map[string][]Turn
	summaries map[string][]SummaryRecord
	settings  map[string]Settings

	loadCalls      int
	failLoad       error
	failAppendTurn error
	failSummary    error
}

func newMemStore(retention int) *memStore {
	return &memStore{
		retention: retention,
		turns:     make(map[string][]Turn),
		summaries: make(map[string][]SummaryRecord),
		settings:  make(map[string]Settings),
	}
}

func (s *memStore) AppendTurn(_ context.Context, id string, t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppendTurn != nil {
		return s.failAppendTurn
	}
	turns := append(s.turns[id], t)
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Timestamp.Before(turns[j].Timestamp) })
	if s.retention > 0 && len(turns) > s.retention {
		turns = turns[len(turns)-s.retention:]
	}
	s.turns[id] = turns
	return nil
}

func (s *memStore) LoadRecentTurns(_ context.Context, id string, limit int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
	if s.failLoad != nil {
		return nil, s.failLoad
	}
	turns := s.turns[id]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]Turn(nil), turns...), nil
}

func (s *memStore) CountTurns(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns[id]), nil
}

func (s *memStore) ClearTurns(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, id)
	return nil
}

func (s *memStore) AppendSummary(_ context.Context, id, text string, createdAt time.Time) (SummaryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSummary != nil {
		return SummaryRecord{}, s.failSummary
	}
	rec := SummaryRecord{
		ConversationID: id,
		Sequence:       int64(len(s.summaries[id]) + 1),
		Text:           text,
		CreatedAt:      createdAt,
	}
	s.summaries[id] = append(s.summaries[id], rec)
	return rec, nil
}

func (s *memStore) LoadRecentSummaries(_ context.Context, id string, limit int) ([]SummaryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.summaries[id]
	if len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return append([]SummaryRecord(nil), recs...), nil
}

func (s *memStore) CountSummaries(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.summaries[id]), nil
}

func (s *memStore) ClearSummaries(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.summaries, id)
	return nil
}

func (s *memStore) GetSettings(_ context.Context, id string) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[id]
	if !ok {
		return Settings{ConversationID: id}, nil
	}
	return st, nil
}

func (s *memStore) SetModelKey(_ context.Context, id, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.settings[id]
	st.ConversationID, st.ModelKey = id, key
	s.settings[id] = st
	return nil
}

func (s *memStore) SetStyleKey(_ context.Context, id, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.settings[id]
	st.ConversationID, st.StyleKey = id, key
	s.settings[id] = st
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) summaryTexts(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.summaries[id] {
		out = append(out, r.Text)
	}
	return out
}

// stubSummariser returns a numbered digest, or err when set.
type stubSummariser struct {
	mu     sync.Mutex
	calls  int
	sizes  []int
	err    error
	failOn map[int]bool // 1-based call numbers that fail
	block  chan struct{}
}

func (s *stubSummariser) Summarise(ctx context.Context, turns []Turn) (string, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.sizes = append(s.sizes, len(turns))
	err := s.err
	if s.failOn[n] {
		err = errBackend
	}
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("digest %d of %d turns", n, len(turns)), nil
}

func (s *stubSummariser) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// summariserFunc adapts a function to Summariser.
type summariserFunc func(ctx context.Context, turns []Turn) (string, error)

func (f summariserFunc) Summarise(ctx context.Context, turns []Turn) (string, error) {
	return f(ctx, turns)
}

// fakeProvider records requests and replays queued results.
type fakeProvider struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
	errs     []error
	content  string
}

func (p *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{Content: p.content, Model: req.Model}, nil
}

func (p *fakeProvider) lastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

// fakeStyles resolves "" to defaults and rejects unknown keys.
type fakeStyles struct{}

func (fakeStyles) StylePrompt(key string) string {
	switch key {
	case "pirate":
		return "Talk like a pirate."
	default:
		return "Be helpful."
	}
}

func (fakeStyles) ModelID(key string) string {
	switch key {
	case "big":
		return "vendor/big-model"
	default:
		return "vendor/default-model"
	}
}

func (fakeStyles) ValidateStyle(key string) error {
	if key == "pirate" || key == "default" {
		return nil
	}
	return fmt.Errorf("unknown style %q", key)
}

func (fakeStyles) ValidateModel(key string) error {
	if key == "big" || key == "default" {
		return nil
	}
	return fmt.Errorf("unknown model %q", key)
}

// countingObserver tallies observer events.
type countingObserver struct {
	mu          sync.Mutex
	compactions map[string]int
	drains      map[string]int
	replies     map[string]int
	trimmed     int
	completions map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		compactions: make(map[string]int),
		drains:      make(map[string]int),
		replies:     make(map[string]int),
		completions: make(map[string]int),
	}
}

func (o *countingObserver) CompactionFinished(r string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.compactions[r]++
}

func (o *countingObserver) DrainFinished(r string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drains[r]++
}

func (o *countingObserver) ReplyFinished(r string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies[r]++
}

func (o *countingObserver) BufferTrimmed(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trimmed += n
}

func (o *countingObserver) CompletionObserved(purpose string, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completions[purpose]++
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// makeTurns returns n alternating user/assistant turns one second apart.
func makeTurns(n int) []Turn {
	turns := make([]Turn, n)
	for i := range turns {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		turns[i] = NewTurn(role, fmt.Sprintf("message %d", i), base.Add(time.Duration(i)*time.Second))
	}
	return turns
}
