package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
)

// SettingsRepository implements store.SettingsRepository over Postgres.
type SettingsRepository struct {
	pool Pool
}

// NewSettingsRepository constructs a repository from an existing pool.
func NewSettingsRepository(pool Pool) (*SettingsRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SettingsRepository{pool: pool}, nil
}

// Get loads one setting or returns store.ErrNotFound.
func (r *SettingsRepository) Get(ctx context.Context, key string) (collector.Setting, error) {
	s := collector.Setting{Key: key}
	err := r.pool.QueryRow(ctx,
		`SELECT value, updated_at FROM settings WHERE key = $1`, key).
		Scan(&s.Value, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return collector.Setting{}, store.ErrNotFound
	}
	if err != nil {
		return collector.Setting{}, fmt.Errorf("load setting: %w", err)
	}
	return s, nil
}

// Set inserts or replaces a setting, stamping its updated_at.
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save setting: %w", err)
	}
	return nil
}

// Delete removes a setting; deleting a missing key is not an error.
func (r *SettingsRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return nil
}

// All returns every setting ordered by key.
func (r *SettingsRepository) All(ctx context.Context) ([]collector.Setting, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()
	var out []collector.Setting
	for rows.Next() {
		var s collector.Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
