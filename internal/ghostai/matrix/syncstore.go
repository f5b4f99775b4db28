package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// Sync state keys in the matrix_sync_state table.
const (
	keyFilterID  = "filter_id"
	keyNextBatch = "next_batch"
)

var _ mautrix.SyncStore = (*SyncStore)(nil)

// syncState reads and writes one (user_id, key) value. A missing row reads
// as "".
type syncState interface {
	get(ctx context.Context, userID, key string) (string, error)
	put(ctx context.Context, userID, key, value string) error
}

// SyncStore persists the bot's /sync position next to the conversation
// memory, in SQLite or PostgreSQL, so a restart resumes after the last
// handled batch instead of answering old messages again.
type SyncStore struct {
	state syncState
}

// NewSQLiteSyncStore uses the matrix_sync_state table created by the store
// migrations.
func NewSQLiteSyncStore(db *sql.DB) *SyncStore {
	return &SyncStore{state: sqliteSyncState{db: db}}
}

// NewPostgresSyncStore creates the matrix_sync_state table if needed.
func NewPostgresSyncStore(ctx context.Context, pool *pgxpool.Pool) (*SyncStore, error) {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS matrix_sync_state (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (user_id, key)
	)`)
	if err != nil {
		return nil, fmt.Errorf("matrix: create sync state table: %w", err)
	}
	return &SyncStore{state: postgresSyncState{pool: pool}}, nil
}

func (s *SyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.state.put(ctx, userID.String(), keyFilterID, filterID)
}

func (s *SyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.get(ctx, userID.String(), keyFilterID)
}

func (s *SyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.state.put(ctx, userID.String(), keyNextBatch, nextBatchToken)
}

func (s *SyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.get(ctx, userID.String(), keyNextBatch)
}

type sqliteSyncState struct {
	db *sql.DB
}

func (s sqliteSyncState) get(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM matrix_sync_state WHERE user_id = ? AND key = ?`, userID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("matrix: load %s: %w", key, err)
	}
	return value, nil
}

func (s sqliteSyncState) put(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value
	`, userID, key, value)
	if err != nil {
		return fmt.Errorf("matrix: save %s: %w", key, err)
	}
	return nil
}

type postgresSyncState struct {
	pool *pgxpool.Pool
}

func (s postgresSyncState) get(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM matrix_sync_state WHERE user_id = $1 AND key = $2`, userID, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("matrix: load %s: %w", key, err)
	}
	return value, nil
}

func (s postgresSyncState) put(ctx context.Context, userID, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO matrix_sync_state (user_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value
	`, userID, key, value)
	if err != nil {
		return fmt.Errorf("matrix: save %s: %w", key, err)
	}
	return nil
}
