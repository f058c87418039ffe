package scheduler

import (
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"
	"github.com/scmhub/calendar"
)

// NSEMIC is the ISO 10383 code of the National Stock Exchange of India
const NSEMIC = "xnse"

// Session bounds used when no exchange calendar is available
const (
	sessionOpen  = 9*60 + 15
	sessionClose = 15*60 + 30
)

// MarketClock reports whether the exchange is trading at t
type MarketClock interface {
	IsOpen(t time.Time) bool
}

// Calendar is the NSE trading calendar
type Calendar struct {
	cal      *calendar.Calendar
	loc      *time.Location
	fallback bool
}

// NSECalendar loads the exchange calendar. When it is unavailable a plain
// Monday to Friday 09:15-15:30 session in tz is used.
func NSECalendar(tz string) *Calendar {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn().Err(err).Str("timezone", tz).Msg("Unknown timezone, using IST offset")
		loc = time.FixedZone("IST", 5*3600+1800)
	}

	if cal := calendar.GetCalendar(NSEMIC); cal != nil {
		return &Calendar{cal: cal, loc: cal.Loc}
	}
	log.Warn().Str("mic", NSEMIC).Msg("Exchange calendar unavailable, using weekday session fallback")
	return &Calendar{loc: loc, fallback: true}
}

// IsOpen reports whether t falls inside a trading session
func (c *Calendar) IsOpen(t time.Time) bool {
	if c.loc != nil {
		t = t.In(c.loc)
	}
	if !c.fallback {
		return c.cal.IsOpen(t)
	}

	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= sessionOpen && minute < sessionClose
}
