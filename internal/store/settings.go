package store

import (
	"context"
	"errors"
	"strconv"
)

// TypedSettings wraps a SettingsRepository with parse-with-default accessors.
// Parse failures and missing keys both yield the caller's default.
type TypedSettings struct {
	repo SettingsRepository
}

// NewTypedSettings wraps repo.
func NewTypedSettings(repo SettingsRepository) *TypedSettings {
	return &TypedSettings{repo: repo}
}

// GetString returns the value for key, or def when absent.
func (s *TypedSettings) GetString(ctx context.Context, key, def string) (string, error) {
	v, err := s.repo.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	return v.Value, nil
}

// GetBool parses the value for key as a boolean.
func (s *TypedSettings) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v, err := s.repo.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	b, perr := strconv.ParseBool(v.Value)
	if perr != nil {
		return def, nil
	}
	return b, nil
}

// GetInt parses the value for key as an integer.
func (s *TypedSettings) GetInt(ctx context.Context, key string, def int) (int, error) {
	v, err := s.repo.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	n, perr := strconv.Atoi(v.Value)
	if perr != nil {
		return def, nil
	}
	return n, nil
}

// GetFloat parses the value for key as a float64.
func (s *TypedSettings) GetFloat(ctx context.Context, key string, def float64) (float64, error) {
	v, err := s.repo.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	f, perr := strconv.ParseFloat(v.Value, 64)
	if perr != nil {
		return def, nil
	}
	return f, nil
}
