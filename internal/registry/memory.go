package registry

import (
	"context"
	"sync"
	"time"

	"github.com/codegrove/codesearch/internal/errs"
	"github.com/codegrove/codesearch/internal/models"
)

// Memory is a Registry backed by a map, used in tests.
type Memory struct {
	mu    sync.RWMutex
	repos map[string]models.Repository
}

// NewMemory returns a Memory registry seeded with repos.
func NewMemory(repos ...models.Repository) *Memory {
	m := &Memory{repos: make(map[string]models.Repository, len(repos))}
	for _, r := range repos {
		m.repos[r.ID] = r
	}
	return m
}

func (m *Memory) ListEnabled(ctx context.Context) ([]models.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Repository
	for _, r := range m.repos {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) Get(ctx context.Context, id string) (models.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repos[id]
	if !ok {
		return models.Repository{}, errs.NewNotFound("repository " + id)
	}
	return r, nil
}

func (m *Memory) UpdateCrawlState(ctx context.Context, id string, state models.CrawlState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return errs.NewNotFound("repository " + id)
	}
	r.State = state
	m.repos[id] = r
	return nil
}

func (m *Memory) UpdateLastCrawled(ctx context.Context, id string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return errs.NewNotFound("repository " + id)
	}
	r.State.LastCrawlCompletedAt = &completedAt
	m.repos[id] = r
	return nil
}

// Put inserts or replaces a repository.
func (m *Memory) Put(r models.Repository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[r.ID] = r
}
