package log

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/nsescan/internal/events"
	"github.com/sawpanic/nsescan/internal/models"
)

func newTestIndicator(out *bytes.Buffer) *ProgressIndicator {
	pi := NewProgressIndicator(out, "swing")
	start := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	pi.startTime = start
	pi.now = func() time.Time { return start.Add(10 * time.Second) }
	return pi
}

func TestProgressRender(t *testing.T) {
	var out bytes.Buffer
	pi := newTestIndicator(&out)

	pi.Update(20, 40, 3)
	line := out.String()
	assert.Contains(t, line, "swing [")
	assert.Contains(t, line, "20/40 (50.0%)")
	assert.Contains(t, line, "found 3")
	assert.Contains(t, line, "ETA 10s")
	assert.Contains(t, line, "██████████░░░░░░░░░░")
}

func TestProgressFinishIsFinal(t *testing.T) {
	var out bytes.Buffer
	pi := newTestIndicator(&out)

	pi.Finish("2 opportunities")
	pi.Update(40, 40, 2)
	pi.Fail("late")

	assert.Contains(t, out.String(), "swing: 2 opportunities (10s)")
	assert.NotContains(t, out.String(), "late")
	assert.NotContains(t, out.String(), "40/40")
}

func TestProgressHandler(t *testing.T) {
	var out bytes.Buffer
	pi := newTestIndicator(&out)
	h := pi.Handler()

	h(events.Event{Type: events.MarketUpdate, Data: models.MarketHealth{}})
	assert.Empty(t, out.String())

	h(events.Event{Type: events.ScanProgress, Data: events.Progress{Current: 40, Total: 40, OpportunitiesFound: 2}})
	assert.Contains(t, out.String(), "40/40 (100.0%)")
	assert.NotContains(t, out.String(), "ETA")

	h(events.Event{Type: events.ScanError, Data: events.Failure{Message: "cancelled"}})
	assert.Contains(t, out.String(), "failed: cancelled")
}
