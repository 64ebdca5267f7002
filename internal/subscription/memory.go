package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
)

// MemoryStore keeps subscriptions in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
		now:  time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, s *Subscription) error {
	if err := prepare(s, m.now().UTC()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.ID] = clone(s)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, domain.ErrNotFound)
	}
	return clone(s), nil
}

func (m *MemoryStore) Cancel(_ context.Context, id string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, domain.ErrNotFound)
	}
	if s.Status != StatusCancelled {
		now := m.now().UTC()
		s.Status = StatusCancelled
		s.CancelledAt = &now
		s.UpdatedAt = now
	}
	return clone(s), nil
}

func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Subscription, error) {
	opts = normalizeList(opts)
	m.mu.RLock()
	all := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		if opts.Status == "" || s.Status == opts.Status {
			all = append(all, clone(s))
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if opts.Offset >= len(all) {
		return []*Subscription{}, nil
	}
	all = all[opts.Offset:]
	if len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func clone(s *Subscription) *Subscription {
	c := *s
	c.Criteria.Conditions = append([]string(nil), s.Criteria.Conditions...)
	c.Criteria.Statuses = append([]string(nil), s.Criteria.Statuses...)
	if s.Criteria.Location != nil {
		loc := *s.Criteria.Location
		c.Criteria.Location = &loc
	}
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}
