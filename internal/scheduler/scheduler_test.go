package scheduler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/nsescan/internal/config"
	"github.com/sawpanic/nsescan/internal/scan"
)

type fakeStarter struct {
	calls []string
	err   error
}

func (f *fakeStarter) ScanStart(mode string, full bool, symbols []string) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%v/%d", mode, full, len(symbols)))
	if f.err != nil {
		return "", f.err
	}
	return "run-1", nil
}

type clock bool

func (c clock) IsOpen(time.Time) bool { return bool(c) }

func schedule(jobs ...config.Job) config.ScheduleConfig {
	return config.ScheduleConfig{Enabled: true, Timezone: "Asia/Kolkata", Jobs: jobs}
}

var swingJob = config.Job{Name: "swing-close", Spec: "20 15 * * 1-5", Mode: "swing", Full: true}

func TestTickStartsScanWhenOpen(t *testing.T) {
	st := &fakeStarter{}
	s, err := New(schedule(swingJob), st, clock(true))
	require.NoError(t, err)

	res := s.Tick(swingJob)
	assert.Equal(t, OutcomeStarted, res.Outcome)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, []string{"swing/true/0"}, st.calls)
}

func TestTickSkipsWhenMarketClosed(t *testing.T) {
	st := &fakeStarter{}
	s, err := New(schedule(swingJob), st, clock(false))
	require.NoError(t, err)

	res := s.Tick(swingJob)
	assert.Equal(t, OutcomeMarketClosed, res.Outcome)
	assert.Empty(t, st.calls)
}

func TestTickIgnoresMarketHoursWhenConfigured(t *testing.T) {
	st := &fakeStarter{}
	cfg := schedule(swingJob)
	cfg.IgnoreMarketHours = true
	s, err := New(cfg, st, clock(false))
	require.NoError(t, err)

	assert.Equal(t, OutcomeStarted, s.Tick(swingJob).Outcome)
}

func TestTickSkipsWhenBusy(t *testing.T) {
	st := &fakeStarter{err: scan.ErrBusy}
	s, err := New(schedule(swingJob), st, clock(true))
	require.NoError(t, err)

	assert.Equal(t, OutcomeBusy, s.Tick(swingJob).Outcome)

	st.err = errors.New("boom")
	res := s.Tick(swingJob)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "boom", res.Error)
}

func TestStatus(t *testing.T) {
	intraday := config.Job{Name: "intraday", Spec: "*/15 9-15 * * 1-5", Mode: "intraday"}
	s, err := New(schedule(swingJob, intraday), &fakeStarter{}, clock(true))
	require.NoError(t, err)

	s.Start()
	defer s.Stop()
	s.Tick(intraday)

	st := s.Status()
	assert.True(t, st.Running)
	require.Len(t, st.Jobs, 2)
	assert.Equal(t, "intraday", st.Jobs[0].Name)
	require.NotNil(t, st.Jobs[0].Last)
	assert.Equal(t, OutcomeStarted, st.Jobs[0].Last.Outcome)
	assert.False(t, st.Jobs[0].Next.IsZero())
	assert.Nil(t, st.Jobs[1].Last)
}

func TestNewRejectsBadJobs(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ScheduleConfig
	}{
		{"bad spec", schedule(config.Job{Name: "a", Spec: "every minute", Mode: "swing"})},
		{"six fields", schedule(config.Job{Name: "a", Spec: "0 */5 * * * *", Mode: "swing"})},
		{"bad mode", schedule(config.Job{Name: "a", Spec: "* * * * *", Mode: "weekly"})},
		{"no name", schedule(config.Job{Spec: "* * * * *", Mode: "swing"})},
		{"duplicate", schedule(swingJob, swingJob)},
		{"bad timezone", config.ScheduleConfig{Timezone: "Mars/Olympus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &fakeStarter{}, clock(true))
			assert.Error(t, err)
		})
	}
}

func TestFallbackSession(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	c := &Calendar{loc: ist, fallback: true}

	monday := func(h, m int) time.Time { return time.Date(2024, 1, 8, h, m, 0, 0, ist) }
	assert.False(t, c.IsOpen(monday(9, 14)))
	assert.True(t, c.IsOpen(monday(9, 15)))
	assert.True(t, c.IsOpen(monday(15, 29)))
	assert.False(t, c.IsOpen(monday(15, 30)))
	assert.False(t, c.IsOpen(time.Date(2024, 1, 6, 11, 0, 0, 0, ist)))

	// 04:00 UTC is 09:30 IST
	assert.True(t, c.IsOpen(time.Date(2024, 1, 8, 4, 0, 0, 0, time.UTC)))
}

func TestNSECalendarClosedOnWeekend(t *testing.T) {
	c := NSECalendar("Asia/Kolkata")
	require.NotNil(t, c)
	sunday := time.Date(2024, 1, 7, 11, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))
	assert.False(t, c.IsOpen(sunday))
}
