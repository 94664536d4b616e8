package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
)

// SettingsRepository is a mutex-guarded map-backed store.SettingsRepository.
type SettingsRepository struct {
	mu     sync.RWMutex
	values map[string]collector.Setting
}

// NewSettingsRepository returns an empty in-memory settings repository.
func NewSettingsRepository() *SettingsRepository {
	return &SettingsRepository{values: make(map[string]collector.Setting)}
}

// Get loads one setting or returns store.ErrNotFound.
func (r *SettingsRepository) Get(_ context.Context, key string) (collector.Setting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.values[key]
	if !ok {
		return collector.Setting{}, store.ErrNotFound
	}
	return s, nil
}

// Set inserts or replaces a setting, stamping its updated_at.
func (r *SettingsRepository) Set(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = collector.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

// Delete removes a setting.
func (r *SettingsRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}

// All returns every setting ordered by key.
func (r *SettingsRepository) All(_ context.Context) ([]collector.Setting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]collector.Setting, 0, len(r.values))
	for _, s := range r.values {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
