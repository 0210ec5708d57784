package reminder

import (
	"errors"
	"fmt"
	"time"
)

// OperatingOffset is the fixed UTC offset appointments are booked in
// (Argentina, UTC-3). Argentina observes no daylight saving, so the offset is
// a constant and never derived from the tz database.
const OperatingOffset = -3 * time.Hour

// DefaultWindowMinutes is the acceptance band for a tick: the 30 minute cron
// cadence plus 5 minutes of slack for clock skew.
const DefaultWindowMinutes = 35

// OperatingZone is the location all appointment dates and times are read in.
var OperatingZone = time.FixedZone("ART", int(OperatingOffset/time.Second))

var ErrInvalidHorizon = errors.New("horizon must be a non-negative number of hours")

// Target is now+horizon expressed as a calendar date and time of day in the
// operating zone.
type Target struct {
	Date   string // YYYY-MM-DD
	Hour   int
	Minute int
}

func (t Target) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Window returns the [start, start+band) acceptance window in minutes since
// midnight.
func (t Target) Window(band int) Window {
	start := t.Minutes()
	return Window{Start: start, End: start + band}
}

func (t Target) String() string {
	return fmt.Sprintf("%s %02d:%02d", t.Date, t.Hour, t.Minute)
}

// TargetFor computes the calendar slot that lies hours after now.
func TargetFor(now time.Time, hours int) (Target, error) {
	if hours < 0 {
		return Target{}, ErrInvalidHorizon
	}
	at := now.Add(time.Duration(hours) * time.Hour).In(OperatingZone)
	return Target{
		Date:   at.Format(time.DateOnly),
		Hour:   at.Hour(),
		Minute: at.Minute(),
	}, nil
}

// Window is a half-open range of minutes since midnight.
type Window struct {
	Start int
	End   int
}

func (w Window) Contains(minutes int) bool {
	return minutes >= w.Start && minutes < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("[%s,%s)", clock(w.Start), clock(w.End))
}

func clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
