package engine

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxLatencyMs = 60000
	maxStatus    = 600
)

type latencyEntry struct {
	requests atomic.Int64
	failures atomic.Int64
	sumNs    atomic.Int64
	minLat   atomic.Int64 // in nanoseconds
	maxLat   atomic.Int64
	overflow atomic.Int64
	buckets  [maxLatencyMs + 1]atomic.Int64
	status   [maxStatus]atomic.Int64
}

func newLatencyEntry() *latencyEntry {
	e := &latencyEntry{}
	e.minLat.Store(math.MaxInt64)

	return e
}

func (e *latencyEntry) add(s Sample) {
	e.requests.Add(1)

	if s.Failed() {
		e.failures.Add(1)
	}

	if s.StatusCode > 0 && s.StatusCode < maxStatus {
		e.status[s.StatusCode].Add(1)
	}

	latNs := s.Latency.Nanoseconds()
	e.sumNs.Add(latNs)

	for {
		cur := e.minLat.Load()
		if latNs >= cur || e.minLat.CompareAndSwap(cur, latNs) {
			break
		}
	}

	for {
		cur := e.maxLat.Load()
		if latNs <= cur || e.maxLat.CompareAndSwap(cur, latNs) {
			break
		}
	}

	ms := max(s.Latency.Milliseconds(), 0)
	if ms > maxLatencyMs {
		e.overflow.Add(1)
	} else {
		e.buckets[ms].Add(1)
	}
}

func (e *latencyEntry) snapshot(name string) EntryStats {
	es := EntryStats{
		Name:         name,
		Requests:     e.requests.Load(),
		Failures:     e.failures.Load(),
		Max:          time.Duration(e.maxLat.Load()),
		StatusCounts: make(map[int]int64),
	}

	if minLat := e.minLat.Load(); minLat != math.MaxInt64 {
		es.Min = time.Duration(minLat)
	}

	if es.Requests > 0 {
		es.Avg = time.Duration(e.sumNs.Load() / es.Requests)
	}

	for code := range maxStatus {
		if v := e.status[code].Load(); v > 0 {
			es.StatusCounts[code] = v
		}
	}

	es.P50, es.P90, es.P95, es.P99 = e.percentiles()

	return es
}

func (e *latencyEntry) loadBuckets() ([]int64, int64) {
	buckets := make([]int64, maxLatencyMs+1)

	var count int64

	for i := range buckets {
		buckets[i] = e.buckets[i].Load()
		count += buckets[i]
	}

	return buckets, count + e.overflow.Load()
}

func (e *latencyEntry) percentiles() (p50, p90, p95, p99 time.Duration) {
	buckets, count := e.loadBuckets()
	if count == 0 {
		return 0, 0, 0, 0
	}

	getPercentile := func(p float64) time.Duration {
		target := int64(math.Ceil(float64(count) * p))

		var current int64

		for i, v := range buckets {
			current += v
			if current >= target {
				return time.Duration(i) * time.Millisecond
			}
		}

		return time.Duration(maxLatencyMs) * time.Millisecond
	}

	return getPercentile(0.50), getPercentile(0.90), getPercentile(0.95), getPercentile(0.99)
}

// DefaultStatsCollector keeps one latency entry per request name plus an
// aggregated entry. Entries are created on first use.
type DefaultStatsCollector struct {
	mu         sync.RWMutex
	entries    map[string]*latencyEntry
	aggregated *latencyEntry

	errMu  sync.Mutex
	errors map[string]int64

	sinks     []SampleSink
	startTime time.Time
	targetRPS float64
	users     atomic.Int64
}

// NewDefaultStatsCollector creates a collector forwarding samples to sinks.
func NewDefaultStatsCollector(sinks ...SampleSink) *DefaultStatsCollector {
	return &DefaultStatsCollector{
		entries:    make(map[string]*latencyEntry),
		aggregated: newLatencyEntry(),
		errors:     make(map[string]int64),
		sinks:      sinks,
		startTime:  time.Now(),
	}
}

func (s *DefaultStatsCollector) entry(name string) *latencyEntry {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()

	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok = s.entries[name]; !ok {
		e = newLatencyEntry()
		s.entries[name] = e
	}

	return e
}

func (s *DefaultStatsCollector) AddSample(sample Sample) {
	s.entry(sample.Name).add(sample)
	s.aggregated.add(sample)

	if sample.Failed() {
		s.recordError(sample.Name, failureMessage(sample))
	}

	for _, sink := range s.sinks {
		sink.Observe(sample)
	}
}

func (s *DefaultStatsCollector) AddTaskError(name string, err error) {
	if err == nil {
		return
	}

	s.recordError(name, err.Error())
}

func (s *DefaultStatsCollector) recordError(name, msg string) {
	s.errMu.Lock()
	s.errors[name+": "+msg]++
	s.errMu.Unlock()
}

func (s *DefaultStatsCollector) SetTargetRPS(rps float64) {
	s.mu.Lock()
	s.targetRPS = rps
	s.mu.Unlock()
}

func (s *DefaultStatsCollector) SetUsers(n int64) {
	s.users.Store(n)

	for _, sink := range s.sinks {
		sink.SetUsers(n)
	}
}

func (s *DefaultStatsCollector) Snapshot() Stats {
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}

	entries := make(map[string]*latencyEntry, len(s.entries))
	for name, e := range s.entries {
		entries[name] = e
	}

	stats := Stats{
		Elapsed:   time.Since(s.startTime),
		TargetRPS: s.targetRPS,
		Users:     s.users.Load(),
		Errors:    make(map[string]int64),
	}
	s.mu.RUnlock()

	sort.Strings(names)

	for _, name := range names {
		stats.Entries = append(stats.Entries, entries[name].snapshot(name))
	}

	stats.Total = s.aggregated.snapshot(AggregatedName)

	s.errMu.Lock()
	for k, v := range s.errors {
		stats.Errors[k] = v
	}
	s.errMu.Unlock()

	return stats
}

// Buckets returns a copy of the aggregated 1ms latency buckets.
func (s *DefaultStatsCollector) Buckets() []int64 {
	buckets, _ := s.aggregated.loadBuckets()

	return buckets
}

func (s *DefaultStatsCollector) Overflow() int64 {
	return s.aggregated.overflow.Load()
}

func failureMessage(s Sample) string {
	if s.Err != nil {
		return s.Err.Error()
	}

	return "HTTP " + statusText(s.StatusCode)
}

func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("%d %s", code, text)
	}

	return fmt.Sprintf("%d", code)
}
