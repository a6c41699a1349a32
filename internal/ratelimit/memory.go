package ratelimit

import (
	"context"
	"sync"
	"time"
)

type hit struct {
	at        time.Time
	expiresAt time.Time
}

// MemoryStore keeps hits in process. It is only shared by the limiters of a
// single instance.
type MemoryStore struct {
	mu   sync.Mutex
	hits map[string][]hit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hits: make(map[string][]hit)}
}

func (m *MemoryStore) Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.hits[key][:0]
	for _, h := range m.hits[key] {
		if h.expiresAt.After(now) {
			live = append(live, h)
		}
	}

	since := now.Add(-window)
	var count int
	var oldest time.Time
	for _, h := range live {
		if !h.at.After(since) {
			continue
		}
		if count == 0 || h.at.Before(oldest) {
			oldest = h.at
		}
		count++
	}

	if count >= max {
		m.store(key, live)
		return false, oldest, nil
	}
	m.store(key, append(live, hit{at: now, expiresAt: now.Add(window)}))
	return true, time.Time{}, nil
}

func (m *MemoryStore) store(key string, hits []hit) {
	if len(hits) == 0 {
		delete(m.hits, key)
		return
	}
	m.hits[key] = hits
}

// Sweep drops every expired hit. Take already prunes the key it reads, so
// this only matters for keys that are never read again.
func (m *MemoryStore) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, hits := range m.hits {
		live := hits[:0]
		for _, h := range hits {
			if h.expiresAt.After(now) {
				live = append(live, h)
			}
		}
		if len(live) == 0 {
			delete(m.hits, key)
			continue
		}
		m.hits[key] = live
	}
}
