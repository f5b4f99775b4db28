package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bdobrica/ghostai/internal/ghostai/llm"
)

// SQLiteStore implements Store on the schema created by the store package's
// migrations. Retention is enforced inside the append transaction, so the
// turn log never exceeds the cap between calls.
type SQLiteStore struct {
	db        *sql.DB
	retention int
	logger    *slog.Logger
}

// NewSQLiteStore returns a store over db. A retention of zero or less uses
// the default turn retention. If logger is nil, the default slog logger is
// used.
func NewSQLiteStore(db *sql.DB, retention int, logger *slog.Logger) *SQLiteStore {
	if retention <= 0 {
		retention = DefaultLimits().TurnRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, retention: retention, logger: logger}
}

// AppendTurn inserts turn and trims the conversation to the newest
// retention-many turns.
func (s *SQLiteStore) AppendTurn(ctx context.Context, conversationID string, turn Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (conversation_id, turn_id, role, content, ts_unix_nano)
		VALUES (?, ?, ?, ?, ?)`,
		conversationID, turn.ID, string(turn.Role), turn.Content, turn.Timestamp.UnixNano(),
	); err != nil {
		return fmt.Errorf("sqlite store: insert turn: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM turns
		WHERE conversation_id = ?
		  AND seq NOT IN (
			SELECT seq FROM turns
			WHERE conversation_id = ?
			ORDER BY ts_unix_nano DESC, seq DESC
			LIMIT ?
		  )`,
		conversationID, conversationID, s.retention,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: enforce retention: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("sqlite store: retention trimmed turns",
			"conversation_id", conversationID,
			"deleted", n,
		)
	}
	return nil
}

// LoadRecentTurns returns the newest limit turns, oldest first.
func (s *SQLiteStore) LoadRecentTurns(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_id, role, content, ts_unix_nano FROM (
			SELECT seq, turn_id, role, content, ts_unix_nano FROM turns
			WHERE conversation_id = ?
			ORDER BY ts_unix_nano DESC, seq DESC
			LIMIT ?
		)
		ORDER BY ts_unix_nano ASC, seq ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t    Turn
			role string
			ts   int64
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &ts); err != nil {
			return nil, fmt.Errorf("sqlite store: scan turn: %w", err)
		}
		t.Role = llm.Role(role)
		t.Timestamp = time.Unix(0, ts)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate turns: %w", err)
	}
	return turns, nil
}

// CountTurns returns the number of stored turns for the conversation.
func (s *SQLiteStore) CountTurns(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM turns WHERE conversation_id = ?", conversationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: count turns: %w", err)
	}
	return n, nil
}

// ClearTurns deletes every stored turn of the conversation.
func (s *SQLiteStore) ClearTurns(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM turns WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("sqlite store: clear turns: %w", err)
	}
	return nil
}

// AppendSummary allocates the next sequence and stores text in one
// statement.
func (s *SQLiteStore) AppendSummary(ctx context.Context, conversationID, text string, createdAt time.Time) (SummaryRecord, error) {
	rec := SummaryRecord{
		ConversationID: conversationID,
		Text:           text,
		CreatedAt:      createdAt.UTC(),
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO summaries (conversation_id, sequence, text, created_at)
		SELECT ?, COALESCE(MAX(sequence), 0) + 1, ?, ?
		FROM summaries WHERE conversation_id = ?
		RETURNING sequence`,
		conversationID, text, rec.CreatedAt, conversationID,
	).Scan(&rec.Sequence)
	if err != nil {
		return SummaryRecord{}, fmt.Errorf("sqlite store: insert summary: %w", err)
	}

	s.logger.Debug("sqlite store: stored summary",
		"conversation_id", conversationID,
		"sequence", rec.Sequence,
		"summary_len", len(text),
	)
	return rec, nil
}

// LoadRecentSummaries returns the newest limit summaries, oldest first.
func (s *SQLiteStore) LoadRecentSummaries(ctx context.Context, conversationID string, limit int) ([]SummaryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, text, created_at FROM summaries
		WHERE conversation_id = ?
		ORDER BY sequence DESC
		LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query summaries: %w", err)
	}
	defer rows.Close()

	var out []SummaryRecord
	for rows.Next() {
		rec := SummaryRecord{ConversationID: conversationID}
		if err := rows.Scan(&rec.Sequence, &rec.Text, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite store: scan summary: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate summaries: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// CountSummaries returns the number of summaries of the conversation.
func (s *SQLiteStore) CountSummaries(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM summaries WHERE conversation_id = ?", conversationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: count summaries: %w", err)
	}
	return n, nil
}

// ClearSummaries deletes the conversation's summary log.
func (s *SQLiteStore) ClearSummaries(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM summaries WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("sqlite store: clear summaries: %w", err)
	}
	return nil
}

// GetSettings returns the stored settings or empty keys when none exist.
func (s *SQLiteStore) GetSettings(ctx context.Context, conversationID string) (Settings, error) {
	st := Settings{ConversationID: conversationID}
	err := s.db.QueryRowContext(ctx,
		"SELECT model_key, style_key, updated_at FROM settings WHERE conversation_id = ?",
		conversationID,
	).Scan(&st.ModelKey, &st.StyleKey, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("sqlite store: get settings: %w", err)
	}
	return st, nil
}

// SetModelKey upserts only the model key.
func (s *SQLiteStore) SetModelKey(ctx context.Context, conversationID, modelKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (conversation_id, model_key, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			model_key = excluded.model_key,
			updated_at = excluded.updated_at`,
		conversationID, modelKey, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: set model: %w", err)
	}
	return nil
}

// SetStyleKey upserts only the style key.
func (s *SQLiteStore) SetStyleKey(ctx context.Context, conversationID, styleKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (conversation_id, style_key, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			style_key = excluded.style_key,
			updated_at = excluded.updated_at`,
		conversationID, styleKey, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: set style: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
