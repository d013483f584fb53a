package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nadobot/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL. It keeps one
// row per sub-account holding the last session config as JSONB.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new SessionStore backed by the given connection pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// SaveLast upserts the session config for subaccount.
func (s *SessionStore) SaveLast(ctx context.Context, subaccount string, cfg domain.SessionConfig) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: marshal session config %s: %w", subaccount, err)
	}

	const query = `
		INSERT INTO session_configs (subaccount, config_json, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (subaccount) DO UPDATE SET
			config_json = EXCLUDED.config_json,
			updated_at  = NOW()`

	if _, err := s.pool.Exec(ctx, query, subaccount, configJSON); err != nil {
		return fmt.Errorf("postgres: save session config %s: %w", subaccount, err)
	}
	return nil
}

// LoadLast returns the stored config for subaccount, or domain.ErrNotFound.
func (s *SessionStore) LoadLast(ctx context.Context, subaccount string) (domain.SessionConfig, error) {
	var configJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT config_json FROM session_configs WHERE subaccount = $1`, subaccount,
	).Scan(&configJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SessionConfig{}, domain.ErrNotFound
		}
		return domain.SessionConfig{}, fmt.Errorf("postgres: load session config %s: %w", subaccount, err)
	}
	return decodeSession(configJSON)
}

func decodeSession(raw []byte) (domain.SessionConfig, error) {
	var cfg domain.SessionConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.SessionConfig{}, fmt.Errorf("postgres: unmarshal session config: %w", err)
	}
	return cfg, nil
}

// Compile-time interface check.
var _ domain.SessionStore = (*SessionStore)(nil)
