package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/kanavdutta/fastlimit/core"
)

// DefaultShards is the number of shards used by NewMemoryStore
const DefaultShards = 32

// MemoryStore provides thread-safe in-memory storage for bucket states.
// Keys are spread over independently locked shards, so checks against
// unrelated namespaces rarely contend.
type MemoryStore struct {
	shards []*shard
	closed atomic.Bool
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

type shard struct {
	mu      sync.Mutex
	buckets map[string]*core.BucketState
	timers  map[string]*expiry
	gen     uint64
	owner   *MemoryStore
}

// expiry is a pending deferred removal. gen identifies the schedule so a
// superseded timer that already fired cannot remove a newer bucket.
type expiry struct {
	timer *time.Timer
	gen   uint64
}

// NewMemoryStore creates a new in-memory store with DefaultShards shards
func NewMemoryStore() *MemoryStore {
	return NewShardedMemoryStore(DefaultShards)
}

// NewShardedMemoryStore creates a new in-memory store with n shards.
// Non-positive values fall back to DefaultShards.
func NewShardedMemoryStore(n int) *MemoryStore {
	if n <= 0 {
		n = DefaultShards
	}

	s := &MemoryStore{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{
			buckets: make(map[string]*core.BucketState),
			timers:  make(map[string]*expiry),
			owner:   s,
		}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Get retrieves a copy of the bucket state for a given key
func (s *MemoryStore) Get(key string) *core.BucketState {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	state, ok := sh.buckets[key]
	if !ok {
		return nil
	}
	cp := *state
	return &cp
}

// Set stores the bucket state for a given key
func (s *MemoryStore) Set(key string, state *core.BucketState) {
	if state == nil {
		s.Delete(key)
		return
	}

	cp := *state
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.buckets[key] = &cp
	sh.mu.Unlock()
}

// Delete removes the bucket state for a given key and cancels its pending expiry
func (s *MemoryStore) Delete(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.buckets, key)
	sh.cancelLocked(key)
	sh.mu.Unlock()
}

// ScheduleExpiry arranges for key to be removed once after the given duration
func (s *MemoryStore) ScheduleExpiry(key string, after time.Duration) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.scheduleLocked(key, after)
	sh.mu.Unlock()
}

// Update evaluates and mutates the bucket for key under the shard lock
func (s *MemoryStore) Update(key string, ttl time.Duration, fn UpdateFunc) core.CheckResult {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	next, result := fn(sh.buckets[key])

	switch result.Action {
	case core.ActionPut:
		sh.buckets[key] = next
		if result.Fresh {
			sh.scheduleLocked(key, ttl)
		}
	case core.ActionDelete:
		delete(sh.buckets, key)
		sh.cancelLocked(key)
	}

	return result
}

// Count returns the total number of buckets in the store
func (s *MemoryStore) Count() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.buckets)
		sh.mu.Unlock()
	}
	return total
}

// Pending returns the number of scheduled expiries
func (s *MemoryStore) Pending() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.timers)
		sh.mu.Unlock()
	}
	return total
}

// Clear removes all bucket states and pending expiries
func (s *MemoryStore) Clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.stopAllLocked()
		sh.buckets = make(map[string]*core.BucketState)
		sh.mu.Unlock()
	}
}

// Close stops all pending expiry timers. Buckets stay readable and still
// expire lazily on access; no new timers are scheduled after Close.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.stopAllLocked()
		sh.mu.Unlock()
	}
	return nil
}

// MUST be called with sh.mu locked.
func (sh *shard) scheduleLocked(key string, after time.Duration) {
	sh.cancelLocked(key)
	if sh.owner.closed.Load() {
		return
	}

	sh.gen++
	gen := sh.gen
	sh.timers[key] = &expiry{
		timer: time.AfterFunc(after, func() { sh.expire(key, gen) }),
		gen:   gen,
	}
}

// MUST be called with sh.mu locked.
func (sh *shard) cancelLocked(key string) {
	if e, ok := sh.timers[key]; ok {
		e.timer.Stop()
		delete(sh.timers, key)
	}
}

// MUST be called with sh.mu locked.
func (sh *shard) stopAllLocked() {
	for _, e := range sh.timers {
		e.timer.Stop()
	}
	sh.timers = make(map[string]*expiry)
}

func (sh *shard) expire(key string, gen uint64) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.timers[key]
	if !ok || e.gen != gen {
		return
	}
	delete(sh.timers, key)
	delete(sh.buckets, key)
}
