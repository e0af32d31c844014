package store

import (
	"context"
	"sort"
	"sync"

	"github.com/climatecredit/credit-engine/internal/model"
)

// Memory is an in-process Repository. Values are cloned on the way in and
// out so callers never share state with the store.
type Memory struct {
	mu    sync.RWMutex
	items map[string]*model.Assessment
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]*model.Assessment)}
}

func (m *Memory) Migrate(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) Get(_ context.Context, id string) (*model.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.items[id]
	if !ok {
		return nil, notFound(id)
	}
	return a.Clone(), nil
}

func (m *Memory) Put(_ context.Context, a *model.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[a.ID] = a.Clone()
	return nil
}

func (m *Memory) Update(_ context.Context, id string, fn UpdateFunc) (*model.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[id]
	if !ok {
		return nil, notFound(id)
	}
	a := cur.Clone()
	if err := fn(a); err != nil {
		return nil, err
	}
	m.items[id] = a.Clone()
	return a, nil
}

func (m *Memory) ListByOwner(_ context.Context, mfiID string) ([]*model.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(mfiID, Filter{}), nil
}

func (m *Memory) Filter(_ context.Context, mfiID string, f Filter) (*Page, error) {
	f = f.Normalize()

	m.mu.RLock()
	all := m.collect(mfiID, f)
	m.mu.RUnlock()

	page := &Page{Items: []*model.Assessment{}, Total: len(all), Page: f.Page, Limit: f.Limit}
	start := f.Offset()
	if start >= len(all) {
		return page, nil
	}
	end := min(start+f.Limit, len(all))
	page.Items = all[start:end]
	return page, nil
}

// collect must be called with mu held.
func (m *Memory) collect(mfiID string, f Filter) []*model.Assessment {
	out := make([]*model.Assessment, 0)
	for _, a := range m.items {
		if a.MFIID == mfiID && f.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(items []*model.Assessment) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
}
