package engine

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHumanHelpers(t *testing.T) {
	assert.Equal(t, "999ms", humanMs(999))
	assert.Equal(t, "1.50s", humanMs(1500))
	assert.Equal(t, "42", humanCount(42))
	assert.Equal(t, "1.5K", humanCount(1500))
	assert.Equal(t, "2.0M", humanCount(2000000))
	assert.Equal(t, "5s", humanETA(5*time.Second))
	assert.Equal(t, "01m05s", humanETA(65*time.Second))
	assert.Equal(t, "01h00m00s", humanETA(time.Hour))
	assert.Equal(t, "0s", humanETA(-time.Second))
	assert.Equal(t, 0.0, Clamp01(-1))
	assert.Equal(t, 1.0, Clamp01(3))
}

func TestSeverity(t *testing.T) {
	cfg := DefaultConfig()

	ok := Stats{Total: EntryStats{Requests: 100, P95: 100 * time.Millisecond}}
	assert.Equal(t, "ok", Severity(ok, cfg))

	slow := Stats{Total: EntryStats{Requests: 100, P95: 400 * time.Millisecond}}
	assert.Equal(t, "warn", Severity(slow, cfg))

	slower := Stats{Total: EntryStats{Requests: 100, P95: 700 * time.Millisecond}}
	assert.Equal(t, "crit", Severity(slower, cfg))

	failing := Stats{Total: EntryStats{Requests: 100, Failures: 2, P95: time.Millisecond}}
	assert.Equal(t, "crit", Severity(failing, cfg))
}

func TestPrintReport(t *testing.T) {
	InitColorStyles(false)

	c := NewDefaultStatsCollector()
	c.AddSample(Sample{Name: "GET /healthz", Latency: 3 * time.Millisecond, StatusCode: 200})
	c.AddSample(Sample{Name: "GET /users", Latency: 9 * time.Millisecond, StatusCode: 401})

	buf := &bytes.Buffer{}
	PrintReport(buf, c.Snapshot())

	out := buf.String()
	assert.Contains(t, out, "GET /healthz")
	assert.Contains(t, out, "GET /users")
	assert.Contains(t, out, AggregatedName)
	assert.Contains(t, out, "200: 1")
	assert.Contains(t, out, "401: 1")
	assert.Contains(t, out, "GET /users: HTTP 401 Unauthorized")
}

func TestPrintLatencyHistogram(t *testing.T) {
	InitColorStyles(false)
	t.Setenv("NO_UNICODE", "1")

	c := NewDefaultStatsCollector()
	for i := range 50 {
		c.AddSample(Sample{Name: "x", Latency: time.Duration(10+i%20) * time.Millisecond, StatusCode: 200})
	}

	buf := &bytes.Buffer{}
	PrintLatencyHistogram(buf, c.Snapshot(), c.Buckets(), 80)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Latency histogram"))
	assert.Contains(t, out, "#")
	assert.Contains(t, out, "5=p50")

	buf.Reset()
	PrintLatencyHistogram(buf, Stats{}, make([]int64, 10), 80)
	assert.Equal(t, "[hist] no data\n", buf.String())
}

func TestProgressLine(t *testing.T) {
	s := Stats{
		Elapsed: 10 * time.Second,
		Users:   4,
		Total:   EntryStats{Requests: 20, Failures: 1},
	}

	line := ProgressLine(s)
	assert.Contains(t, line, "users=4")
	assert.Contains(t, line, "reqs=20")
	assert.Contains(t, line, "fails=1 (5.00%)")
	assert.Contains(t, line, "rps=2.00")
}
