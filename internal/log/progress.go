// Package log renders scan progress on a terminal.
package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/events"
)

const barWidth = 20

// ProgressIndicator draws a single-line progress bar with an ETA
type ProgressIndicator struct {
	mu        sync.Mutex
	out       io.Writer
	name      string
	total     int
	current   int
	found     int
	startTime time.Time
	now       func() time.Time
	done      bool
}

// NewProgressIndicator writes to out; name prefixes every line
func NewProgressIndicator(out io.Writer, name string) *ProgressIndicator {
	return &ProgressIndicator{out: out, name: name, startTime: time.Now(), now: time.Now}
}

// Update redraws the bar at current of total with found opportunities so far
func (pi *ProgressIndicator) Update(current, total, found int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.done {
		return
	}
	pi.current, pi.total, pi.found = current, total, found
	fmt.Fprint(pi.out, pi.render())
}

// Finish ends the line with a completion message
func (pi *ProgressIndicator) Finish(message string) {
	pi.end("✅", message)
}

// Fail ends the line with a failure reason
func (pi *ProgressIndicator) Fail(reason string) {
	pi.end("❌", "failed: "+reason)
}

func (pi *ProgressIndicator) end(mark, message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.done {
		return
	}
	pi.done = true
	elapsed := pi.now().Sub(pi.startTime).Round(time.Millisecond)
	fmt.Fprintf(pi.out, "\r\033[K%s %s: %s (%v)\n", mark, pi.name, message, elapsed)
}

func (pi *ProgressIndicator) render() string {
	var b strings.Builder
	b.WriteString("\r\033[K")
	b.WriteString(pi.name)

	if pi.total > 0 {
		filled := barWidth * pi.current / pi.total
		b.WriteString(" [")
		b.WriteString(strings.Repeat("█", filled))
		b.WriteString(strings.Repeat("░", barWidth-filled))
		fmt.Fprintf(&b, "] %d/%d (%.1f%%)", pi.current, pi.total, float64(pi.current)/float64(pi.total)*100)
	}
	fmt.Fprintf(&b, " found %d", pi.found)

	if pi.total > 0 && pi.current > 0 && pi.current < pi.total {
		elapsed := pi.now().Sub(pi.startTime)
		remaining := time.Duration(float64(elapsed) / float64(pi.current) * float64(pi.total-pi.current))
		fmt.Fprintf(&b, " ETA %v", remaining.Round(time.Second))
	}
	return b.String()
}

// Handler adapts the indicator to the scan event bus
func (pi *ProgressIndicator) Handler() events.Handler {
	return func(e events.Event) {
		switch data := e.Data.(type) {
		case events.Progress:
			pi.Update(data.Current, data.Total, data.OpportunitiesFound)
		case events.Complete:
			pi.Finish(fmt.Sprintf("%d opportunities in %.2fs", data.TotalOpportunities, data.ScanDurationS))
		case events.Failure:
			pi.Fail(data.Message)
		}
	}
}

// LogHandler reports scan events as structured log lines, for non-terminal output
func LogHandler() events.Handler {
	return func(e events.Event) {
		switch data := e.Data.(type) {
		case events.Progress:
			log.Info().Str("run_id", e.RunID).Int("current", data.Current).Int("total", data.Total).
				Float64("percent", data.Percent).Int("found", data.OpportunitiesFound).Msg("Scan progress")
		case events.Complete:
			log.Info().Str("run_id", e.RunID).Int("opportunities", data.TotalOpportunities).
				Float64("duration_s", data.ScanDurationS).Msg("Scan complete")
		case events.Failure:
			log.Warn().Str("run_id", e.RunID).Str("reason", data.Message).Msg("Scan failed")
		}
	}
}
