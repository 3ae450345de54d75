package engine

import (
	"time"
)

// AggregatedName is the name of the entry summing up all requests.
const AggregatedName = "Aggregated"

// Sample is the outcome of one request.
type Sample struct {
	Name       string
	Latency    time.Duration
	StatusCode int
	Size       int
	Err        error
}

// Failed reports whether the sample counts as a failed request.
func (s Sample) Failed() bool {
	return s.Err != nil || s.StatusCode >= 400 || s.StatusCode == 0
}

// EntryStats is a read-only snapshot of one request name.
type EntryStats struct {
	Name                    string
	Requests, Failures      int64
	Avg, P50, P90, P95, P99 time.Duration
	Min, Max                time.Duration
	StatusCounts            map[int]int64
}

// FailureRatePct returns failed requests in percent of all requests.
func (e EntryStats) FailureRatePct() float64 {
	if e.Requests == 0 {
		return 0
	}

	return float64(e.Failures) / float64(e.Requests) * 100
}

// Stats is a read-only snapshot of the whole run.
type Stats struct {
	Entries   []EntryStats
	Total     EntryStats
	Errors    map[string]int64
	Elapsed   time.Duration
	Users     int64
	TargetRPS float64
}

// RPS is the average request rate since the collector started.
func (s Stats) RPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}

	return float64(s.Total.Requests) / s.Elapsed.Seconds()
}

// Entry returns the snapshot for name.
func (s Stats) Entry(name string) (EntryStats, bool) {
	for _, e := range s.Entries {
		if e.Name == name {
			return e, true
		}
	}

	return EntryStats{}, false
}

// SampleSink receives every sample next to the collector, e.g. an exporter.
type SampleSink interface {
	Observe(s Sample)
	SetUsers(n int64)
}

// StatsCollector handles concurrent updates to counters and latency tracking.
type StatsCollector interface {
	AddSample(s Sample)
	AddTaskError(name string, err error)
	Snapshot() Stats
	Buckets() []int64
	Overflow() int64
	SetTargetRPS(rps float64)
	SetUsers(n int64)
}
