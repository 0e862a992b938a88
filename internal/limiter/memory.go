package limiter

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-credit/internal/clock"
)

const shardCount = 64

type shard struct {
	mu     sync.Mutex
	events map[uuid.UUID][]time.Time
}

// Memory is an in-process sliding-window limiter. State is best-effort per
// instance and lost on restart. Keys are spread over mutex-guarded shards so
// different users rarely contend.
type Memory struct {
	limit  int
	window time.Duration
	clock  clock.Clock
	shards [shardCount]shard
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-process limiter.
func NewMemory(limit int, window time.Duration, clk clock.Clock) *Memory {
	m := &Memory{limit: limit, window: window, clock: clk}
	for i := range m.shards {
		m.shards[i].events = make(map[uuid.UUID][]time.Time)
	}
	return m
}

func (m *Memory) shardFor(userID uuid.UUID) *shard {
	h := fnv.New32a()
	_, _ = h.Write(userID.Bytes())
	return &m.shards[h.Sum32()%shardCount]
}

// Allow prunes entries older than the window, then counts and appends.
func (m *Memory) Allow(_ context.Context, userID uuid.UUID) (bool, time.Duration, error) {
	s := m.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.clock.Now()
	kept := prune(s.events[userID], now, m.window)
	if len(kept) >= m.limit {
		s.events[userID] = kept
		return false, kept[0].Add(m.window).Sub(now), nil
	}
	s.events[userID] = append(kept, now)
	return true, 0, nil
}

// prune drops timestamps that fell out of the window ending at now.
func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= window {
		i++
	}
	if i == 0 {
		return ts
	}
	out := make([]time.Time, len(ts)-i, cap(ts))
	copy(out, ts[i:])
	return out
}

// Sweep removes users with no entries inside the window. It bounds memory for
// users that stopped generating.
func (m *Memory) Sweep() int {
	now := m.clock.Now()
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for id, ts := range s.events {
			if len(prune(ts, now, m.window)) == 0 {
				delete(s.events, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
