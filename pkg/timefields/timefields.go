// Package timefields computes the day and minute columns stored alongside
// every instance so that day-range queries do not need timezone math.
package timefields

import (
	"time"

	"github.com/ncruces/julianday"
)

// MinutesPerDay is the end minute used for instances ending at midnight.
const MinutesPerDay = 24 * 60

// Fields are the timezone dependent columns of an instance.
type Fields struct {
	StartDay    int
	EndDay      int
	StartMinute int
	EndMinute   int
}

// Compute converts begin and end into local Julian days and minutes of the
// day in loc. An instance ending exactly at midnight after its start day is
// reported as ending at minute 1440 of the previous day.
func Compute(begin, end time.Time, loc *time.Location) Fields {
	if loc == nil {
		loc = time.UTC
	}
	b := begin.In(loc)
	e := end.In(loc)

	f := Fields{
		StartDay:    JulianDay(b),
		StartMinute: b.Hour()*60 + b.Minute(),
		EndDay:      JulianDay(e),
		EndMinute:   e.Hour()*60 + e.Minute(),
	}

	if f.EndMinute == 0 && f.EndDay > f.StartDay {
		f.EndMinute = MinutesPerDay
		f.EndDay--
	}
	return f
}

// JulianDay returns the Julian day number of the calendar date of t in t's
// own location.
func JulianDay(t time.Time) int {
	noon := time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.UTC)
	day, _ := julianday.Date(noon)
	return int(day)
}

// DayStart returns local midnight of the given Julian day in loc.
func DayStart(julianDay int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	noon := julianday.Time(int64(julianDay), 0)
	return time.Date(noon.Year(), noon.Month(), noon.Day(), 0, 0, 0, 0, loc)
}
