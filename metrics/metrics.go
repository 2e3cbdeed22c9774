package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kanavdutta/fastlimit/pkg/fastlimit"
)

// topN is the number of namespaces listed in a snapshot
const topN = 10

// DefaultMaxNamespaces caps how many namespaces keep per-namespace stats.
// Past the cap the least recently checked namespace is dropped.
const DefaultMaxNamespaces = 10000

// Metrics tracks admission statistics. It implements fastlimit.Recorder.
type Metrics struct {
	totalChecks   atomic.Int64
	allowedChecks atomic.Int64
	deniedChecks  atomic.Int64
	consumeChecks atomic.Int64
	peekChecks    atomic.Int64
	bypassed      atomic.Int64

	// Per-namespace stats, least recently checked evicted first
	mu                sync.RWMutex
	namespaceStats    *lru.Cache[string, *NamespaceStats]
	maxNamespaces     int
	evictedNamespaces atomic.Int64
	startTime         time.Time
	now               func() time.Time

	bucketCounter func() int
}

var _ fastlimit.Recorder = (*Metrics)(nil)

// NamespaceStats tracks statistics for a specific namespace
type NamespaceStats struct {
	Namespace     string    `json:"namespace"`
	TotalChecks   int64     `json:"total_checks"`
	AllowedChecks int64     `json:"allowed_checks"`
	DeniedChecks  int64     `json:"denied_checks"`
	LastCheckAt   time.Time `json:"last_check_at"`
	FirstCheckAt  time.Time `json:"first_check_at"`
}

// Option configures Metrics.
type Option func(*Metrics)

// WithBucketCounter reports the number of live buckets in snapshots,
// typically Limiter.Count.
func WithBucketCounter(fn func() int) Option {
	return func(m *Metrics) {
		m.bucketCounter = fn
	}
}

// WithMaxNamespaces sets how many namespaces keep per-namespace stats.
// Values below 1 are ignored.
func WithMaxNamespaces(n int) Option {
	return func(m *Metrics) {
		if n > 0 {
			m.maxNamespaces = n
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Metrics) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMetrics creates a new metrics tracker
func NewMetrics(opts ...Option) *Metrics {
	m := &Metrics{
		maxNamespaces: DefaultMaxNamespaces,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	// Only fails for a non-positive size, which the option rules out
	m.namespaceStats, _ = lru.NewWithEvict(m.maxNamespaces, func(string, *NamespaceStats) {
		m.evictedNamespaces.Add(1)
	})
	m.startTime = m.now()
	return m
}

// RecordCheck records one admission check against namespace
func (m *Metrics) RecordCheck(namespace, op string, allowed bool) {
	m.totalChecks.Add(1)

	if allowed {
		m.allowedChecks.Add(1)
	} else {
		m.deniedChecks.Add(1)
	}

	switch op {
	case fastlimit.OpConsume:
		m.consumeChecks.Add(1)
	case fastlimit.OpPeek:
		m.peekChecks.Add(1)
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, exists := m.namespaceStats.Get(namespace)
	if !exists {
		stats = &NamespaceStats{
			Namespace:    namespace,
			FirstCheckAt: now,
		}
		m.namespaceStats.Add(namespace, stats)
	}

	stats.TotalChecks++
	if allowed {
		stats.AllowedChecks++
	} else {
		stats.DeniedChecks++
	}
	stats.LastCheckAt = now
}

// RecordBypass records a check that skipped the limiter for lack of a namespace
func (m *Metrics) RecordBypass(op string) {
	m.bypassed.Add(1)
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	values := m.namespaceStats.Values()
	top := make([]*NamespaceStats, 0, len(values))
	for _, stats := range values {
		cp := *stats
		top = append(top, &cp)
	}
	unique := int64(len(values))
	m.mu.RUnlock()

	sort.Slice(top, func(i, j int) bool {
		if top[i].TotalChecks != top[j].TotalChecks {
			return top[i].TotalChecks > top[j].TotalChecks
		}
		return top[i].Namespace < top[j].Namespace
	})
	if len(top) > topN {
		top = top[:topN]
	}

	active := int64(-1)
	if m.bucketCounter != nil {
		active = int64(m.bucketCounter())
	}

	return &Snapshot{
		TotalChecks:       m.totalChecks.Load(),
		AllowedChecks:     m.allowedChecks.Load(),
		DeniedChecks:      m.deniedChecks.Load(),
		ConsumeChecks:     m.consumeChecks.Load(),
		PeekChecks:        m.peekChecks.Load(),
		Bypassed:          m.bypassed.Load(),
		UniqueNamespaces:  unique,
		EvictedNamespaces: m.evictedNamespaces.Load(),
		ActiveBuckets:     active,
		TopNamespaces:     top,
		UptimeSeconds:     int64(m.now().Sub(m.startTime).Seconds()),
		StartTime:         m.startTime,
	}
}

// Snapshot represents a point-in-time view of metrics.
// UniqueNamespaces counts the namespaces currently tracked, at most the
// configured cap. ActiveBuckets is -1 when no bucket counter was configured.
type Snapshot struct {
	TotalChecks       int64             `json:"total_checks"`
	AllowedChecks     int64             `json:"allowed_checks"`
	DeniedChecks      int64             `json:"denied_checks"`
	ConsumeChecks     int64             `json:"consume_checks"`
	PeekChecks        int64             `json:"peek_checks"`
	Bypassed          int64             `json:"bypassed"`
	UniqueNamespaces  int64             `json:"unique_namespaces"`
	EvictedNamespaces int64             `json:"evicted_namespaces"`
	ActiveBuckets     int64             `json:"active_buckets"`
	TopNamespaces     []*NamespaceStats `json:"top_namespaces"`
	UptimeSeconds     int64             `json:"uptime_seconds"`
	StartTime         time.Time         `json:"start_time"`
}
