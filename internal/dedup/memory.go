package dedup

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"taxrelay.app/relay/common/logger"
	"taxrelay.app/relay/internal/metrics"
)

type memoryEntry struct {
	key    string
	seenAt time.Time
}

// MemoryStore is a process-local key set bounded by both age and count.
// Entries are kept in observation order, which is also expiry order, so pruning
// and capacity eviction both pop from the front.
type MemoryStore struct {
	mu        sync.Mutex
	retention time.Duration
	capacity  int
	order     *list.List
	index     map[string]*list.Element
	evicted   uint64
	now       func() time.Time
}

func NewMemoryStore(retention time.Duration, capacity int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		retention: retention,
		capacity:  capacity,
		order:     list.New(),
		index:     make(map[string]*list.Element),
		now:       time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Observe(ctx context.Context, key string) (bool, error) {
	now := s.now()

	s.mu.Lock()
	s.pruneLocked(now)

	if _, seen := s.index[key]; seen {
		s.mu.Unlock()
		return false, nil
	}

	evictedLive := false
	if s.order.Len() >= s.capacity {
		s.removeLocked(s.order.Front())
		s.evicted++
		evictedLive = true
	}

	s.index[key] = s.order.PushBack(memoryEntry{key: key, seenAt: now})
	s.mu.Unlock()

	if evictedLive {
		metrics.DedupEvictions.Inc()
		slog.DebugContext(logger.WithLogFields(ctx, logger.LogFields{Component: "relay.dedup.memory"}),
			"dedup capacity reached, evicted oldest key", "capacity", s.capacity)
	}
	return true, nil
}

// Len returns the number of keys currently retained.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	return s.order.Len()
}

// Evicted returns how many live keys were dropped because of the capacity bound.
func (s *MemoryStore) Evicted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.retention)
	for e := s.order.Front(); e != nil; e = s.order.Front() {
		if e.Value.(memoryEntry).seenAt.After(cutoff) {
			return
		}
		s.removeLocked(e)
	}
}

func (s *MemoryStore) removeLocked(e *list.Element) {
	entry := s.order.Remove(e).(memoryEntry)
	delete(s.index, entry.key)
}
