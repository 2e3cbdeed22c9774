package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kanavdutta/fastlimit/core"
)

func TestNewShardedMemoryStore(t *testing.T) {
	tests := []struct {
		name       string
		shards     int
		wantShards int
	}{
		{"explicit shard count", 8, 8},
		{"single shard", 1, 1},
		{"zero falls back to default", 0, DefaultShards},
		{"negative falls back to default", -4, DefaultShards},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewShardedMemoryStore(tt.shards)
			defer s.Close()

			if len(s.shards) != tt.wantShards {
				t.Errorf("shards = %d, want %d", len(s.shards), tt.wantShards)
			}
			if s.Count() != 0 {
				t.Errorf("new store Count() = %d, want 0", s.Count())
			}
		})
	}
}

func TestMemoryStore_BasicOperations(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if got := s.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %+v, want nil", got)
	}

	now := time.Now()
	s.Set("user1", &core.BucketState{Remaining: 3, WindowStart: now})

	got := s.Get("user1")
	if got == nil {
		t.Fatal("Get(user1) returned nil after Set")
	}
	if got.Remaining != 3 || !got.WindowStart.Equal(now) {
		t.Errorf("Get(user1) = %+v, want remaining 3 at %v", got, now)
	}

	// Returned state is a copy
	got.Remaining = 0
	if s.Get("user1").Remaining != 3 {
		t.Error("mutating a returned state should not change the store")
	}

	// Overwrite
	s.Set("user1", &core.BucketState{Remaining: 1, WindowStart: now})
	if s.Get("user1").Remaining != 1 {
		t.Error("Set should overwrite an existing bucket")
	}

	s.Delete("user1")
	if s.Get("user1") != nil {
		t.Error("bucket should be deleted")
	}

	// Deleting an absent key is a no-op
	s.Delete("user1")
	s.Delete("never-existed")
}

func TestMemoryStore_ScheduleExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Set("user1", &core.BucketState{Remaining: 1, WindowStart: time.Now()})
	s.ScheduleExpiry("user1", 20*time.Millisecond)

	if s.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", s.Pending())
	}

	time.Sleep(100 * time.Millisecond)

	if s.Get("user1") != nil {
		t.Error("bucket should be removed by its scheduled expiry")
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after expiry fired", s.Pending())
	}
}

func TestMemoryStore_ScheduleExpiryOnAbsentKey(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.ScheduleExpiry("ghost", time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	if s.Count() != 0 {
		t.Errorf("Count() = %d, want 0", s.Count())
	}
}

func TestMemoryStore_RescheduleSupersedes(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Set("user1", &core.BucketState{Remaining: 1, WindowStart: time.Now()})
	s.ScheduleExpiry("user1", 30*time.Millisecond)
	s.ScheduleExpiry("user1", time.Hour)

	if s.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1 (old schedule canceled)", s.Pending())
	}

	time.Sleep(100 * time.Millisecond)

	if s.Get("user1") == nil {
		t.Error("superseded expiry should not remove the bucket")
	}
}

func TestMemoryStore_DeleteCancelsExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Set("user1", &core.BucketState{Remaining: 1, WindowStart: time.Now()})
	s.ScheduleExpiry("user1", time.Hour)
	s.Delete("user1")

	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after Delete", s.Pending())
	}
}

func TestMemoryStore_Update(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	window := core.NewWindow(core.Policy{Threshold: 2, TTL: time.Hour})
	now := time.Now()
	check := func(consume bool) UpdateFunc {
		return func(cur *core.BucketState) (*core.BucketState, core.CheckResult) {
			return window.Check(cur, now, consume)
		}
	}

	result := s.Update("user1", time.Hour, check(true))
	if !result.Allowed || !result.Fresh {
		t.Fatalf("first consume = %+v, want allowed fresh", result)
	}
	if s.Pending() != 1 {
		t.Errorf("fresh window should schedule expiry, Pending() = %d", s.Pending())
	}
	if got := s.Get("user1"); got == nil || got.Remaining != 1 {
		t.Errorf("after first consume bucket = %+v, want remaining 1", got)
	}

	// Peek with capacity drops the bucket and its expiry
	result = s.Update("user1", time.Hour, check(false))
	if !result.Allowed {
		t.Error("peek should report capacity")
	}
	if s.Get("user1") != nil {
		t.Error("peek with capacity should delete the bucket")
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after peek delete", s.Pending())
	}
}

func TestMemoryStore_ConcurrentUpdateSameKey(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	const threshold = 100
	window := core.NewWindow(core.Policy{Threshold: threshold, TTL: time.Hour})
	now := time.Now()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)

	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := s.Update("hot", time.Hour, func(cur *core.BucketState) (*core.BucketState, core.CheckResult) {
				return window.Check(cur, now, true)
			})
			if result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != threshold {
		t.Errorf("allowed = %d, want exactly %d", allowed, threshold)
	}
}

func TestMemoryStore_CountAndClear(t *testing.T) {
	s := NewShardedMemoryStore(4)
	defer s.Close()

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("user%d", i)
		s.Set(key, &core.BucketState{Remaining: 1, WindowStart: time.Now()})
		s.ScheduleExpiry(key, time.Hour)
	}

	if s.Count() != 100 {
		t.Errorf("Count() = %d, want 100", s.Count())
	}

	s.Clear()

	if s.Count() != 0 {
		t.Errorf("Count() after Clear = %d, want 0", s.Count())
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() after Clear = %d, want 0", s.Pending())
	}
}

func TestMemoryStore_CloseStopsScheduling(t *testing.T) {
	s := NewMemoryStore()

	s.Set("user1", &core.BucketState{Remaining: 1, WindowStart: time.Now()})
	s.ScheduleExpiry("user1", time.Hour)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() after Close = %d, want 0", s.Pending())
	}

	s.ScheduleExpiry("user1", time.Millisecond)
	if s.Pending() != 0 {
		t.Error("no expiry should be scheduled after Close")
	}
	if s.Get("user1") == nil {
		t.Error("Close should keep existing buckets readable")
	}
}

func BenchmarkMemoryStore_UpdateDistinctKeys(b *testing.B) {
	s := NewMemoryStore()
	defer s.Close()

	window := core.NewWindow(core.Policy{Threshold: 100, TTL: time.Minute})
	keys := make([]string, 1024)
	for i := range keys {
		keys[i] = fmt.Sprintf("flow-%d", i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			now := time.Now()
			s.Update(keys[i%len(keys)], time.Minute, func(cur *core.BucketState) (*core.BucketState, core.CheckResult) {
				return window.Check(cur, now, true)
			})
			i++
		}
	})
}
