package analytics

import "time"

// Window is an inclusive creation-time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// MonthWindows returns the calendar month containing now and the month before
// it, both evaluated in loc. Each window ends on its last millisecond.
func MonthWindows(now time.Time, loc *time.Location) (thisMonth, lastMonth Window) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	thisStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	nextStart := thisStart.AddDate(0, 1, 0)
	lastStart := thisStart.AddDate(0, -1, 0)

	thisMonth = Window{Start: thisStart, End: nextStart.Add(-time.Millisecond)}
	lastMonth = Window{Start: lastStart, End: thisStart.Add(-time.Millisecond)}
	return thisMonth, lastMonth
}
