package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrChannelNotFound is returned when no row exists for a handle.
var ErrChannelNotFound = errors.New("channel not found")

// ChannelRepository handles channel config database operations.
type ChannelRepository struct {
	db *DB
}

// NewChannelRepository creates a new channel repository.
func NewChannelRepository(db *DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// Upsert inserts or replaces the config for a channel handle.
func (r *ChannelRepository) Upsert(ctx context.Context, cfg *ChannelConfig) error {
	stateJSON, err := json.Marshal(cfg.LastKnownState)
	if err != nil {
		return fmt.Errorf("marshal last known state: %w", err)
	}

	types := make([]string, len(cfg.ContentTypes))
	for i, ct := range cfg.ContentTypes {
		types[i] = string(ct)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO channels (channel_handle, webhook_url, content_types, monitor_interval_ms, last_known_states)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel_handle) DO UPDATE
		SET webhook_url = EXCLUDED.webhook_url,
		    content_types = EXCLUDED.content_types,
		    monitor_interval_ms = EXCLUDED.monitor_interval_ms,
		    last_known_states = EXCLUDED.last_known_states,
		    updated_at = NOW()
	`, cfg.ChannelHandle, cfg.WebhookURL, types, cfg.PollInterval.Milliseconds(), stateJSON)
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}

	return nil
}

// UpdateState persists only the last-known-state snapshot for a handle.
func (r *ChannelRepository) UpdateState(ctx context.Context, handle string, state LastKnownState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal last known state: %w", err)
	}

	result, err := r.db.pool.Exec(ctx, `
		UPDATE channels SET last_known_states = $2, updated_at = NOW() WHERE channel_handle = $1
	`, handle, stateJSON)
	if err != nil {
		return fmt.Errorf("update channel state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrChannelNotFound
	}

	return nil
}

// Get retrieves the config for a channel handle.
func (r *ChannelRepository) Get(ctx context.Context, handle string) (*ChannelConfig, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT channel_handle, webhook_url, content_types, monitor_interval_ms, last_known_states, created_at, updated_at
		FROM channels
		WHERE channel_handle = $1
	`, handle)

	cfg, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("query channel: %w", err)
	}

	return cfg, nil
}

// List retrieves all persisted channel configs ordered by creation time.
func (r *ChannelRepository) List(ctx context.Context) ([]*ChannelConfig, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT channel_handle, webhook_url, content_types, monitor_interval_ms, last_known_states, created_at, updated_at
		FROM channels
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var configs []*ChannelConfig
	for rows.Next() {
		cfg, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	return configs, nil
}

// Delete removes the config for a channel handle.
func (r *ChannelRepository) Delete(ctx context.Context, handle string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM channels WHERE channel_handle = $1`, handle)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrChannelNotFound
	}

	return nil
}

// Count returns the number of persisted channel configs.
func (r *ChannelRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channels`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count channels: %w", err)
	}
	return count, nil
}

func scanChannel(row pgx.Row) (*ChannelConfig, error) {
	var (
		cfg        ChannelConfig
		types      []string
		intervalMs int64
		stateJSON  []byte
	)

	if err := row.Scan(
		&cfg.ChannelHandle,
		&cfg.WebhookURL,
		&types,
		&intervalMs,
		&stateJSON,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}

	cfg.ContentTypes = make([]ContentType, len(types))
	for i, t := range types {
		cfg.ContentTypes[i] = ContentType(t)
	}
	cfg.PollInterval = time.Duration(intervalMs) * time.Millisecond

	if len(stateJSON) > 0 {
		if err := json.Unmarshal(stateJSON, &cfg.LastKnownState); err != nil {
			return nil, fmt.Errorf("unmarshal last known state: %w", err)
		}
	}

	return &cfg, nil
}
