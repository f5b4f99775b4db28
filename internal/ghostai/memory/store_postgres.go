package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bdobrica/ghostai/internal/ghostai/llm"
)

// PostgresStore implements Store on PostgreSQL for deployments that run
// several gateway replicas against one database.
type PostgresStore struct {
	pool      *pgxpool.Pool
	retention int
	logger    *slog.Logger
}

// NewPostgresStore connects to databaseURL and creates the schema if needed.
func NewPostgresStore(ctx context.Context, databaseURL string, retention int, logger *slog.Logger) (*PostgresStore, error) {
	if retention <= 0 {
		retention = DefaultLimits().TurnRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, retention: retention, logger: logger}, nil
}

// Pool exposes the connection pool so other state (the Matrix sync token)
// can live in the same database.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			seq BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			turn_id TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
			content TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conversation_ts ON turns (conversation_id, ts, seq);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			conversation_id TEXT NOT NULL,
			sequence BIGINT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (conversation_id, sequence)
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			conversation_id TEXT PRIMARY KEY,
			model_key TEXT NOT NULL DEFAULT '',
			style_key TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres store: init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// AppendTurn inserts turn and trims the conversation to the retention cap
// in one transaction.
func (s *PostgresStore) AppendTurn(ctx context.Context, conversationID string, turn Turn) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO turns (conversation_id, turn_id, role, content, ts) VALUES ($1, $2, $3, $4, $5)`,
			conversationID, turn.ID, string(turn.Role), turn.Content, turn.Timestamp,
		); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM turns
			WHERE conversation_id = $1
			  AND seq NOT IN (
				SELECT seq FROM turns WHERE conversation_id = $1
				ORDER BY ts DESC, seq DESC LIMIT $2
			  )`,
			conversationID, s.retention,
		); err != nil {
			return fmt.Errorf("enforce retention: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres store: %w", err)
	}
	return nil
}

// LoadRecentTurns returns the newest limit turns, oldest first.
func (s *PostgresStore) LoadRecentTurns(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT turn_id, role, content, ts FROM turns
		 WHERE conversation_id = $1 ORDER BY ts DESC, seq DESC LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query turns: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, limit)
	for rows.Next() {
		var (
			t    Turn
			role string
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres store: scan turn: %w", err)
		}
		t.Role = llm.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate turns: %w", err)
	}
	slices.Reverse(turns)
	return turns, nil
}

// CountTurns returns the number of stored turns for the conversation.
func (s *PostgresStore) CountTurns(ctx context.Context, conversationID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM turns WHERE conversation_id = $1`, conversationID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count turns: %w", err)
	}
	return n, nil
}

// ClearTurns deletes every stored turn of the conversation.
func (s *PostgresStore) ClearTurns(ctx context.Context, conversationID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM turns WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("postgres store: clear turns: %w", err)
	}
	return nil
}

// AppendSummary allocates the next sequence under a per-conversation
// advisory lock so replicas never collide on the primary key.
func (s *PostgresStore) AppendSummary(ctx context.Context, conversationID, text string, createdAt time.Time) (SummaryRecord, error) {
	rec := SummaryRecord{ConversationID: conversationID, Text: text, CreatedAt: createdAt.UTC()}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, conversationID); err != nil {
			return fmt.Errorf("lock conversation: %w", err)
		}
		return tx.QueryRow(ctx, `
			INSERT INTO summaries (conversation_id, sequence, text, created_at)
			SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3
			FROM summaries WHERE conversation_id = $1
			RETURNING sequence`,
			conversationID, text, rec.CreatedAt,
		).Scan(&rec.Sequence)
	})
	if err != nil {
		return SummaryRecord{}, fmt.Errorf("postgres store: insert summary: %w", err)
	}
	return rec, nil
}

// LoadRecentSummaries returns the newest limit summaries, oldest first.
func (s *PostgresStore) LoadRecentSummaries(ctx context.Context, conversationID string, limit int) ([]SummaryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT sequence, text, created_at FROM summaries
		 WHERE conversation_id = $1 ORDER BY sequence DESC LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query summaries: %w", err)
	}
	defer rows.Close()

	out := make([]SummaryRecord, 0, limit)
	for rows.Next() {
		rec := SummaryRecord{ConversationID: conversationID}
		if err := rows.Scan(&rec.Sequence, &rec.Text, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan summary: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate summaries: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// CountSummaries returns the number of summaries of the conversation.
func (s *PostgresStore) CountSummaries(ctx context.Context, conversationID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM summaries WHERE conversation_id = $1`, conversationID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count summaries: %w", err)
	}
	return n, nil
}

// ClearSummaries deletes the conversation's summary log.
func (s *PostgresStore) ClearSummaries(ctx context.Context, conversationID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM summaries WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("postgres store: clear summaries: %w", err)
	}
	return nil
}

// GetSettings returns the stored settings or empty keys when none exist.
func (s *PostgresStore) GetSettings(ctx context.Context, conversationID string) (Settings, error) {
	st := Settings{ConversationID: conversationID}
	err := s.pool.QueryRow(ctx,
		`SELECT model_key, style_key, updated_at FROM settings WHERE conversation_id = $1`,
		conversationID,
	).Scan(&st.ModelKey, &st.StyleKey, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("postgres store: get settings: %w", err)
	}
	return st, nil
}

// SetModelKey upserts only the model key.
func (s *PostgresStore) SetModelKey(ctx context.Context, conversationID, modelKey string) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO settings (conversation_id, model_key, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (conversation_id) DO UPDATE SET model_key = EXCLUDED.model_key, updated_at = now()`,
		conversationID, modelKey,
	); err != nil {
		return fmt.Errorf("postgres store: set model: %w", err)
	}
	return nil
}

// SetStyleKey upserts only the style key.
func (s *PostgresStore) SetStyleKey(ctx context.Context, conversationID, styleKey string) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO settings (conversation_id, style_key, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (conversation_id) DO UPDATE SET style_key = EXCLUDED.style_key, updated_at = now()`,
		conversationID, styleKey,
	); err != nil {
		return fmt.Errorf("postgres store: set style: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
