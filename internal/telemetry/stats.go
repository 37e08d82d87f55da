package telemetry

import "sync"

// Stats is the gateway's own request accounting, independent of Prometheus.
// Prometheus counters are monotonic by contract, so the operator-resettable
// numbers served by the metrics endpoint live here instead.
type Stats struct {
	mu         sync.Mutex
	total      int64
	successful int64
	failed     int64
	cacheHits  int64
	cacheMiss  int64
	fallbacks  int64
}

// NewStats creates zeroed gateway stats.
func NewStats() *Stats {
	return &Stats{}
}

// RecordSuccess counts one dispatch that returned a response.
func (s *Stats) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.successful++
}

// RecordFailure counts one dispatch that returned an error.
func (s *Stats) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.failed++
}

// RecordCacheHit counts a dispatch served from cache.
func (s *Stats) RecordCacheHit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheHits++
}

// RecordCacheMiss counts a cache lookup that missed.
func (s *Stats) RecordCacheMiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheMiss++
}

// RecordFallback counts a dispatch that moved past its primary provider.
func (s *Stats) RecordFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbacks++
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`
	CacheHits          int64 `json:"cache_hits"`
	CacheMisses        int64 `json:"cache_misses"`
	FallbackCount      int64 `json:"fallback_count"`
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		TotalRequests:      s.total,
		SuccessfulRequests: s.successful,
		FailedRequests:     s.failed,
		CacheHits:          s.cacheHits,
		CacheMisses:        s.cacheMiss,
		FallbackCount:      s.fallbacks,
	}
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = 0
	s.successful = 0
	s.failed = 0
	s.cacheHits = 0
	s.cacheMiss = 0
	s.fallbacks = 0
}
