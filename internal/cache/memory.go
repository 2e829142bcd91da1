package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

type memoryZMember struct {
	member string
	score  float64
	order  int64 // insertion order, for stable sort on equal score
}

// MemoryBackend is a mutex-guarded, single-process CacheBackend. Every
// exported method holds the lock for its whole body, so each call is
// atomic the same way a real shared-cache call would be.
type MemoryBackend struct {
	mu      sync.Mutex
	data    map[string]memoryEntry
	zsets   map[string][]memoryZMember
	counter int64
}

// NewMemoryBackend returns an empty in-memory CacheBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:  make(map[string]memoryEntry),
		zsets: make(map[string][]memoryZMember),
	}
}

func (m *MemoryBackend) expired(e memoryEntry) bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || m.expired(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memoryEntry{value: value, expires: expiryFor(ttl)}
	return nil
}

func (m *MemoryBackend) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.data[key]; ok && !m.expired(e) {
		return false, nil
	}
	m.data[key] = memoryEntry{value: value, expires: expiryFor(ttl)}
	return true, nil
}

func (m *MemoryBackend) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.zsets, key)
	return nil
}

func (m *MemoryBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.data[key]; ok {
		e.expires = expiryFor(ttl)
		m.data[key] = e
	}
	return nil
}

func (m *MemoryBackend) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.zsets[key]
	for i, mem := range set {
		if mem.member == member {
			set[i].score = score
			m.zsets[key] = set
			return nil
		}
	}
	m.counter++
	m.zsets[key] = append(set, memoryZMember{member: member, score: score, order: m.counter})
	return nil
}

func (m *MemoryBackend) ZRangeByScore(_ context.Context, key string, min, max float64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := append([]memoryZMember(nil), m.zsets[key]...)
	sort.Slice(set, func(i, j int) bool {
		if set[i].score != set[j].score {
			return set[i].score < set[j].score
		}
		return set[i].order < set[j].order
	})
	var out []string
	for _, mem := range set {
		if mem.score >= min && mem.score <= max {
			out = append(out, mem.member)
		}
	}
	return out, nil
}

func (m *MemoryBackend) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.zsets[key]
	kept := set[:0]
	for _, mem := range set {
		if mem.score >= min && mem.score <= max {
			continue
		}
		kept = append(kept, mem)
	}
	m.zsets[key] = kept
	return nil
}

func (m *MemoryBackend) ZRem(_ context.Context, key string, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.zsets[key]
	kept := set[:0]
	for _, mem := range set {
		if mem.member == member {
			continue
		}
		kept = append(kept, mem)
	}
	m.zsets[key] = kept
	return nil
}

func (m *MemoryBackend) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

func (m *MemoryBackend) ZPopMin(_ context.Context, key string) (string, float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.zsets[key]
	if len(set) == 0 {
		return "", 0, false, nil
	}
	best := 0
	for i, mem := range set {
		if mem.score < set[best].score || (mem.score == set[best].score && mem.order < set[best].order) {
			best = i
		}
	}
	popped := set[best]
	m.zsets[key] = append(set[:best], set[best+1:]...)
	return popped.member, popped.score, true, nil
}

func expiryFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
