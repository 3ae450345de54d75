package engine

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"golang.org/x/sys/unix"
)

func IsTTY() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func TermSize() (w, h int) {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws == nil || ws.Col == 0 || ws.Row == 0 {
		return 80, 24
	}
	return int(ws.Col), int(ws.Row)
}

func displayWidth(s string) int { return runewidth.StringWidth(s) }

func truncateToCells(s string, n int) string { return runewidth.Truncate(s, n, "") }

func padToCellsRight(s string, w int) string { return runewidth.FillRight(s, w) }

func padToCellsLeft(s string, w int) string { return runewidth.FillLeft(s, w) }

type colorStyle struct {
	open    string
	enabled bool
}

func (cs colorStyle) S(s string) string {
	if !cs.enabled {
		return s
	}
	return cs.open + s + "\x1b[0m"
}

var (
	StyleBold, StyleFaint                                   colorStyle
	StyleRed, StyleGreen, StyleYellow, StyleBlue, StyleCyan colorStyle
)

func InitColorStyles(enabled bool) {
	style := func(open string) colorStyle {
		return colorStyle{open: open, enabled: enabled}
	}
	StyleBold = style("\x1b[1m")
	StyleFaint = style("\x1b[2m")
	StyleRed = style("\x1b[31m")
	StyleGreen = style("\x1b[32m")
	StyleYellow = style("\x1b[33m")
	StyleBlue = style("\x1b[34m")
	StyleCyan = style("\x1b[36m")
}

func humanMs(ms int) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.2fs", float64(ms)/1000)
}

func humanDur(d time.Duration) string {
	return humanMs(int(d.Milliseconds()))
}

func humanETA(d time.Duration) string {
	d = max(d, 0).Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%02dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%02dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func humanCount(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func Clamp01(x float64) float64 {
	return math.Min(math.Max(x, 0), 1)
}

func SupportsUnicode() bool {
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	for _, env := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		if strings.Contains(strings.ToUpper(os.Getenv(env)), "UTF-8") {
			return true
		}
	}
	return false
}

// Severity grades a snapshot against the warn/crit thresholds: "ok", "warn"
// or "crit".
func Severity(s Stats, cfg *Config) string {
	errRate := s.Total.FailureRatePct()

	switch {
	case s.Total.P95 >= time.Duration(cfg.CritP95)*time.Millisecond && cfg.CritP95 > 0, errRate >= cfg.CritErr && s.Total.Failures > 0:
		return "crit"
	case s.Total.P95 >= time.Duration(cfg.WarnP95)*time.Millisecond && cfg.WarnP95 > 0, errRate >= cfg.WarnErr && s.Total.Failures > 0:
		return "warn"
	default:
		return "ok"
	}
}

func severityStyle(sev string) colorStyle {
	switch sev {
	case "crit":
		return StyleRed
	case "warn":
		return StyleYellow
	default:
		return StyleGreen
	}
}

// ProgressLine renders the one-line periodic status.
func ProgressLine(s Stats) string {
	return fmt.Sprintf("[%v] users=%d reqs=%d fails=%d (%.2f%%) rps=%.2f avg=%s p50=%s p95=%s",
		s.Elapsed.Round(time.Second), s.Users, s.Total.Requests, s.Total.Failures,
		s.Total.FailureRatePct(), s.RPS(), humanDur(s.Total.Avg), humanDur(s.Total.P50), humanDur(s.Total.P95))
}

// renderProgressBar draws the status header and a bottom progress bar
// using ANSI cursor save/restore so regular log output keeps scrolling.
func renderProgressBar(w io.Writer, s Stats, cfg *Config, metricsLine string) {
	termW, termH := TermSize()
	if termW < 40 {
		termW = 80
	}

	sev := Severity(s, cfg)
	style := severityStyle(sev)

	header := " " + StyleCyan.S(fmt.Sprintf(
		"[users: %d/%d] [rps: %7.1f] [reqs: %s] [fails: %s] [avg: %s] [p50: %s] [p95: %s]",
		s.Users, cfg.Users, s.RPS(), humanCount(s.Total.Requests), humanCount(s.Total.Failures),
		humanDur(s.Total.Avg), humanDur(s.Total.P50), humanDur(s.Total.P95)))
	header = padToCellsRight(truncateToCells(header, termW), termW)

	second := padToCellsRight(truncateToCells(" "+StyleFaint.S(metricsLine), termW), termW)

	_, _ = fmt.Fprintf(w, "\x1b[s\x1b[2;1H\x1b[2K%s\x1b[3;1H\x1b[2K%s\x1b[u", header, second)

	left := fmt.Sprintf("[RUN] %s", humanETA(s.Elapsed))
	ratio := 0.0

	if cfg.RunFor > 0 {
		left = fmt.Sprintf("[TIME] eta %s", humanETA(cfg.RunFor-s.Elapsed))
		ratio = Clamp01(s.Elapsed.Seconds() / cfg.RunFor.Seconds())
	} else if cfg.Users > 0 {
		ratio = Clamp01(float64(s.Users) / float64(cfg.Users))
	}

	barWidth := max(termW-displayWidth(left)-10, 10)
	fill := min(max(int(math.Round(ratio*float64(barWidth))), 0), barWidth)

	fillChar, emptyChar := "#", "-"
	if SupportsUnicode() {
		fillChar, emptyChar = "█", "·"
	}

	bar := style.S(strings.Repeat(fillChar, fill)) + StyleFaint.S(strings.Repeat(emptyChar, barWidth-fill))
	bottom := " " + style.S(left) + " " + bar + " " + StyleCyan.S(fmt.Sprintf("%5.1f%%", ratio*100))
	bottom = padToCellsRight(truncateToCells(bottom, termW), termW)

	_, _ = fmt.Fprintf(w, "\x1b[s\x1b[%d;1H\x1b[2K%s\x1b[u", termH, bottom)
}

// PrintReport writes the final per-request table, failures and status codes.
func PrintReport(w io.Writer, s Stats) {
	nameW := len(AggregatedName)
	for _, e := range s.Entries {
		nameW = max(nameW, displayWidth(e.Name))
	}

	header := fmt.Sprintf("%s %8s %8s %8s %8s %8s %8s %8s %8s",
		padToCellsRight("Name", nameW), "reqs", "fails", "avg", "min", "max", "p50", "p95", "p99")

	_, _ = fmt.Fprintln(w, StyleBold.S(header))
	_, _ = fmt.Fprintln(w, strings.Repeat("-", displayWidth(header)))

	row := func(e EntryStats) {
		fails := fmt.Sprintf("%d", e.Failures)
		if e.Failures > 0 {
			fails = StyleRed.S(padToCellsLeft(fails, 8))
		} else {
			fails = padToCellsLeft(fails, 8)
		}

		_, _ = fmt.Fprintf(w, "%s %8d %s %8s %8s %8s %8s %8s %8s\n",
			padToCellsRight(e.Name, nameW), e.Requests, fails,
			humanDur(e.Avg), humanDur(e.Min), humanDur(e.Max), humanDur(e.P50), humanDur(e.P95), humanDur(e.P99))
	}

	for _, e := range s.Entries {
		row(e)
	}

	_, _ = fmt.Fprintln(w, strings.Repeat("-", displayWidth(header)))
	row(s.Total)

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "elapsed=%s users=%d throughput=%.2f req/s\n", s.Elapsed.Round(time.Millisecond), s.Users, s.RPS())

	if len(s.Total.StatusCounts) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "http_status_counts:")

		codes := make([]int, 0, len(s.Total.StatusCounts))
		for code := range s.Total.StatusCounts {
			codes = append(codes, code)
		}

		sort.Ints(codes)

		for _, code := range codes {
			_, _ = fmt.Fprintf(w, "  %d: %d\n", code, s.Total.StatusCounts[code])
		}
	}

	if len(s.Errors) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, StyleRed.S("errors:"))

		keys := make([]string, 0, len(s.Errors))
		for k := range s.Errors {
			keys = append(keys, k)
		}

		sort.Slice(keys, func(i, j int) bool {
			if s.Errors[keys[i]] != s.Errors[keys[j]] {
				return s.Errors[keys[i]] > s.Errors[keys[j]]
			}

			return keys[i] < keys[j]
		})

		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "  %6d  %s\n", s.Errors[k], k)
		}
	}
}

// PrintLatencyHistogram draws the aggregated latency distribution with
// p50/p95/p99 markers. width is the number of columns available.
func PrintLatencyHistogram(w io.Writer, s Stats, buckets []int64, width int) {
	const height = 8

	start, end := -1, -1

	for i, v := range buckets {
		if v > 0 {
			if start == -1 {
				start = i
			}

			end = i
		}
	}

	if start == -1 {
		_, _ = fmt.Fprintln(w, "[hist] no data")

		return
	}

	span := end - start + 1
	cols := min(max(width-8, 10), span)
	binSpan := (span + cols - 1) / cols
	cols = (span + binSpan - 1) / binSpan

	counts := make([]int64, cols)

	var maxC int64

	for i := range cols {
		for j := range binSpan {
			if ms := start + i*binSpan + j; ms <= end {
				counts[i] += buckets[ms]
			}
		}

		maxC = max(maxC, counts[i])
	}

	fillChar := "#"
	if SupportsUnicode() {
		fillChar = "█"
	}

	_, _ = fmt.Fprintf(w, "Latency histogram  %s..%s  bin=%dms\n", humanMs(start), humanMs(end), binSpan)

	for level := height; level >= 1; level-- {
		var line strings.Builder

		for _, c := range counts {
			if int(math.Round(float64(c)/float64(maxC)*height)) >= level {
				line.WriteString(fillChar)
			} else {
				line.WriteByte(' ')
			}
		}

		_, _ = fmt.Fprintf(w, "%6s |%s\n", humanCount(int64(math.Round(float64(maxC)*float64(level)/height))), StyleBlue.S(line.String()))
	}

	_, _ = fmt.Fprintf(w, "%6s +%s\n", "", strings.Repeat("-", cols))

	markers := []rune(strings.Repeat(" ", cols))
	place := func(d time.Duration, mark rune) {
		bin := min(max((int(d.Milliseconds())-start)/binSpan, 0), cols-1)
		markers[bin] = mark
	}

	place(s.Total.P50, '5')
	place(s.Total.P95, '9')
	place(s.Total.P99, '!')

	_, _ = fmt.Fprintf(w, "%6s  %s  (5=p50 9=p95 !=p99)\n", "", string(markers))
}
