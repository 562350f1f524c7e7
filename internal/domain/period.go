package domain

import (
	"encoding/json"
	"time"
)

// DateLayout is the wire format of a calendar date.
const DateLayout = "2006-01-02"

// Period is an inclusive window of calendar dates. Start and End are civil
// dates stored as midnight UTC so that day arithmetic never crosses a DST shift.
type Period struct {
	Start time.Time
	End   time.Time
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// civil drops the clock part of t without changing its calendar date.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ComputePeriod maps a period type and a reference date to the window that
// contains it. Weeks run Monday through Sunday. Custom is read as Daily so
// that rows written before custom periods were rejected stay usable.
func ComputePeriod(pt PeriodType, ref time.Time) (Period, error) {
	day := civil(ref)
	switch pt {
	case PeriodDaily, PeriodCustom:
		return Period{Start: day, End: day}, nil
	case PeriodWeekly:
		start := day.AddDate(0, 0, -(isoWeekday(day) - 1))
		return Period{Start: start, End: start.AddDate(0, 0, 6)}, nil
	case PeriodMonthly:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Period{Start: start, End: start.AddDate(0, 1, -1)}, nil
	default:
		return Period{}, Validation("period_type", "unknown period type "+string(pt))
	}
}

// ComputePreviousPeriod returns the window immediately before the one
// starting at currentStart, with the same cadence. It is anchored on the
// current period's start, not on today, so it never overlaps the current window.
func ComputePreviousPeriod(pt PeriodType, currentStart time.Time) (Period, error) {
	start := civil(currentStart)
	switch pt {
	case PeriodDaily, PeriodCustom:
		prev := start.AddDate(0, 0, -1)
		return Period{Start: prev, End: prev}, nil
	case PeriodWeekly:
		prev := start.AddDate(0, 0, -7)
		return Period{Start: prev, End: prev.AddDate(0, 0, 6)}, nil
	case PeriodMonthly:
		first := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Period{Start: first.AddDate(0, -1, 0), End: first.AddDate(0, 0, -1)}, nil
	default:
		return Period{}, Validation("period_type", "unknown period type "+string(pt))
	}
}

// isoWeekday returns 1 for Monday through 7 for Sunday.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// Contains reports whether the date of t falls inside the window.
func (p Period) Contains(t time.Time) bool {
	d := civil(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Overlaps reports whether two windows share at least one date.
func (p Period) Overlaps(o Period) bool {
	return !p.End.Before(o.Start) && !o.End.Before(p.Start)
}

// Days returns the number of dates in the window.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

// Key identifies the window in cache keys and logs.
func (p Period) Key() string {
	return p.Start.Format(DateLayout) + "_" + p.End.Format(DateLayout)
}

func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}{p.Start.Format(DateLayout), p.End.Format(DateLayout)})
}
