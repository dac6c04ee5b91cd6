package store

import (
	"context"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory keeps records in process. Each item lives until its ExpiresAt.
type Memory struct {
	c   *cache.Cache
	ttl time.Duration
	now func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		c:   cache.New(ttl, 10*time.Minute),
		ttl: ttl,
		now: time.Now,
	}
}

func (m *Memory) Get(_ context.Context, id string) (*Record, error) {
	v, ok := m.c.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	r := v.(*Record)
	if r.Expired(m.now()) {
		m.c.Delete(id)
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) Set(_ context.Context, r *Record) error {
	cp := *r
	d := cache.DefaultExpiration
	if !cp.ExpiresAt.IsZero() {
		d = cp.ExpiresAt.Sub(m.now())
		if d <= 0 {
			m.c.Delete(cp.ID)
			return nil
		}
	}
	m.c.Set(cp.ID, &cp, d)
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) (bool, error) {
	_, ok := m.c.Get(id)
	m.c.Delete(id)
	return ok, nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	items := m.c.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	return Stats{Driver: "memory", Count: m.c.ItemCount()}, nil
}

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
