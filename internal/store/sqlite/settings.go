package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
)

// SettingsRepository implements store.SettingsRepository over SQLite.
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository wraps db.
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get loads one setting or returns store.ErrNotFound.
func (r *SettingsRepository) Get(ctx context.Context, key string) (collector.Setting, error) {
	var (
		s         collector.Setting
		updatedAt string
	)
	s.Key = key
	err := r.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM settings WHERE key = ?`, key).
		Scan(&s.Value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return collector.Setting{}, store.ErrNotFound
	}
	if err != nil {
		return collector.Setting{}, fmt.Errorf("loading setting: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return collector.Setting{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return s, nil
}

// Set inserts or replaces a setting, stamping its updated_at.
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	now := formatTime(time.Now())
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	if err != nil {
		return fmt.Errorf("saving setting: %w", err)
	}
	return nil
}

// Delete removes a setting; deleting a missing key is not an error.
func (r *SettingsRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting setting: %w", err)
	}
	return nil
}

// All returns every setting ordered by key.
func (r *SettingsRepository) All(ctx context.Context) ([]collector.Setting, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()
	var out []collector.Setting
	for rows.Next() {
		var (
			s         collector.Setting
			updatedAt string
		)
		if err := rows.Scan(&s.Key, &s.Value, &updatedAt); err != nil {
			return nil, err
		}
		if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
