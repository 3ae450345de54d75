package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
)

// MetricsPoller periodically fetches the Prometheus text exposition of the
// target and condenses the configured metric families into one line.
type MetricsPoller struct {
	client   *http.Client
	url      string
	interval time.Duration
	families []string
	line     atomic.Value

	mu       sync.Mutex
	lastSeen map[string]float64
}

// NewMetricsPoller creates a poller for metricsURL.
func NewMetricsPoller(client *http.Client, metricsURL string, families []string, interval time.Duration) *MetricsPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	p := &MetricsPoller{
		client:   client,
		url:      metricsURL,
		interval: interval,
		families: append([]string(nil), families...),
		lastSeen: make(map[string]float64),
	}

	p.line.Store("[metrics: collecting…]")

	return p
}

// NewMetricsPollerFromConfig returns nil when polling is disabled.
func NewMetricsPollerFromConfig(cfg *Config, client *HTTPClient) *MetricsPoller {
	if !cfg.PollTargetMetrics {
		return nil
	}

	return NewMetricsPoller(client.HTTPClient(), client.URL(cfg.TargetMetricsPath), cfg.PollFamilies, cfg.PollInterval)
}

func (p *MetricsPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches once and updates the status line.
func (p *MetricsPoller) Poll(ctx context.Context) {
	line := p.fetchAndFormat(ctx)
	if line == "" {
		line = "[metrics: n/a]"
	}

	p.line.Store(line)
}

func (p *MetricsPoller) GetLine() string {
	if s, ok := p.line.Load().(string); ok {
		return s
	}

	return ""
}

func (p *MetricsPoller) fetchAndFormat(ctx context.Context) string {
	if p.url == "" || len(p.families) == 0 {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return ""
	}

	req.Header.Set("Accept", "text/plain; version=0.0.4")

	resp, err := p.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	series := p.scan(resp.Body)

	return p.format(series)
}

type seriesValue struct {
	family string
	labels string
	value  float64
}

func (p *MetricsPoller) scan(r io.Reader) []seriesValue {
	wanted := make(map[string]struct{}, len(p.families))
	for _, f := range p.families {
		wanted[f] = struct{}{}
	}

	var out []seriesValue

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		head, rawVal, ok := splitSample(line)
		if !ok {
			continue
		}

		name := head
		labels := ""

		if i := strings.IndexByte(head, '{'); i >= 0 {
			name = head[:i]
			if j := strings.LastIndexByte(head, '}'); j > i {
				labels = formatLabels(parseLabels(head[i : j+1]))
			}
		}

		if _, ok := wanted[name]; !ok {
			continue
		}

		val, err := strconv.ParseFloat(rawVal, 64)
		if err != nil {
			continue
		}

		out = append(out, seriesValue{family: name, labels: labels, value: val})
	}

	return out
}

// splitSample separates the series (which may contain spaces inside quoted
// label values) from its value. A trailing timestamp is ignored.
func splitSample(line string) (head, value string, ok bool) {
	end := len(line)
	if j := strings.LastIndexByte(line, '}'); j >= 0 {
		end = j + 1
	} else if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		end = i
	}

	fields := strings.Fields(line[end:])
	if len(fields) == 0 {
		return "", "", false
	}

	return line[:end], fields[0], true
}

func (p *MetricsPoller) format(series []seriesValue) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	totals := make(map[string]float64)
	deltas := make(map[string]float64)
	perFamily := make(map[string][]seriesValue)

	for _, sv := range series {
		key := sv.family + sv.labels
		totals[sv.family] += sv.value

		if prev, ok := p.lastSeen[key]; ok && sv.value >= prev {
			deltas[sv.family] += sv.value - prev
		}

		p.lastSeen[key] = sv.value
		perFamily[sv.family] = append(perFamily[sv.family], sv)
	}

	var sb strings.Builder

	for i, family := range p.families {
		if i > 0 {
			sb.WriteByte(' ')
		}

		fmt.Fprintf(&sb, "[%s: ", family)

		top := perFamily[family]
		sort.Slice(top, func(i, j int) bool { return top[i].value > top[j].value })

		if len(top) == 0 {
			sb.WriteString("-")
		}

		for k, sv := range top[:min(len(top), 3)] {
			if k > 0 {
				sb.WriteByte(',')
			}

			label := sv.labels
			if label == "" {
				label = "_"
			}

			fmt.Fprintf(&sb, "%s=%.0f", label, sv.value)
		}

		fmt.Fprintf(&sb, " | total=%.0f Δ=%.0f]", totals[family], deltas[family])
	}

	return sb.String()
}

func formatLabels(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+m[k])
	}

	return "{" + strings.Join(parts, ",") + "}"
}

func parseLabels(s string) map[string]string {
	m := make(map[string]string)
	s = strings.Trim(s, "{}")
	if s == "" {
		return m
	}

	var key, val strings.Builder
	var inVal, escaped bool

	add := func() {
		if key.Len() > 0 {
			m[key.String()] = val.String()
		}
		key.Reset()
		val.Reset()
		inVal, escaped = false, false
	}

	for _, r := range s {
		switch {
		case escaped:
			val.WriteRune(r)
			escaped = false
		case r == '\\' && inVal:
			escaped = true
		case r == '"':
			inVal = !inVal
		case inVal:
			val.WriteRune(r)
		case r == ',':
			add()
		case r == '=' || unicode.IsSpace(r):
		default:
			key.WriteRune(r)
		}
	}

	add()

	return m
}
