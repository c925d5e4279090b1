package recurrence

import (
	"errors"
	"time"

	"github.com/manateeit/mit-psa-sub005/internal/models"
)

// ErrCapExceeded reports that an expansion produced more occurrences than the
// caller allows. Callers translate it into a range-too-large rejection.
var ErrCapExceeded = errors.New("recurrence: occurrence cap exceeded")

// hardIterationCap bounds candidate stepping regardless of caller limits so a
// degenerate pattern can never spin unbounded.
const hardIterationCap = 200000

// HolidaySet answers whether a calendar date is a non-working day.
type HolidaySet interface {
	Contains(date time.Time) bool
}

// DateSet is a HolidaySet backed by a set of date strings.
type DateSet map[string]struct{}

// NewDateSet builds a DateSet from concrete dates. Only the calendar date of
// each value is kept.
func NewDateSet(dates []time.Time) DateSet {
	s := make(DateSet, len(dates))
	for _, d := range dates {
		s[d.Format(models.DateLayout)] = struct{}{}
	}
	return s
}

// Contains implements HolidaySet.
func (s DateSet) Contains(date time.Time) bool {
	_, ok := s[date.Format(models.DateLayout)]
	return ok
}

// Series describes a recurrence master for expansion: the start and end of
// its anchor occurrence plus the pattern.
type Series struct {
	ID      string
	Start   time.Time
	End     time.Time
	Pattern models.RecurrencePattern
}

// Window is the query range, interpreted at calendar-date granularity in the
// tenant's zone.
type Window struct {
	Start time.Time
	End   time.Time
}

// Occurrence is one projected instance of a series. AnchorDate is midnight in
// the tenant zone; Start and End carry the anchor occurrence's wall-clock
// time and duration shifted onto that date.
type Occurrence struct {
	SeriesID   string
	AnchorDate time.Time
	Start      time.Time
	End        time.Time
}

// Expand produces the ordered occurrences of a series inside a window.
// Candidates are generated by interval stepping from the anchor (index 0 is
// the anchor itself); the occurrence count bounds candidate indices before
// exception and workday filtering, so a cancelled occurrence still consumes
// its slot and expansion stays idempotent across windows. Monthly and yearly
// steps clamp a short month to its last day. maxOccurrences > 0 limits the
// emitted instances; exceeding it returns ErrCapExceeded.
func Expand(series Series, window Window, loc *time.Location, holidays HolidaySet, maxOccurrences int) ([]Occurrence, error) {
	if loc == nil {
		loc = time.UTC
	}
	p := series.Pattern
	interval := p.Interval
	if interval < 1 {
		interval = 1
	}

	start := series.Start.In(loc)
	anchor := midnight(start, loc)
	hour, minute, sec := start.Clock()
	duration := series.End.Sub(series.Start)

	windowStart := midnight(window.Start.In(loc), loc)
	windowEnd := midnight(window.End.In(loc), loc)

	var patternEnd time.Time
	if p.EndDate != nil {
		patternEnd = dateOf(*p.EndDate, loc)
	}

	var out []Occurrence
	for k := 0; k <= hardIterationCap; k++ {
		if k == hardIterationCap {
			return nil, ErrCapExceeded
		}
		if p.Count != nil && k >= *p.Count {
			break
		}
		d := candidate(anchor, k, p.Frequency, interval, loc)
		if p.EndDate != nil && d.After(patternEnd) {
			break
		}
		if d.After(windowEnd) {
			break
		}
		if d.Before(windowStart) {
			continue
		}
		if p.HasException(d) {
			continue
		}
		if p.WorkdaysOnly && p.Frequency == models.FrequencyDaily && !isWorkday(d, holidays) {
			continue
		}
		occStart := time.Date(d.Year(), d.Month(), d.Day(), hour, minute, sec, 0, loc)
		out = append(out, Occurrence{
			SeriesID:   series.ID,
			AnchorDate: d,
			Start:      occStart,
			End:        occStart.Add(duration),
		})
		if maxOccurrences > 0 && len(out) > maxOccurrences {
			return nil, ErrCapExceeded
		}
	}
	return out, nil
}

// OccursOn reports whether the series produces an instance on the given
// calendar date, honoring exceptions and the workday filter.
func OccursOn(series Series, date time.Time, loc *time.Location, holidays HolidaySet) bool {
	if loc == nil {
		loc = time.UTC
	}
	p := series.Pattern
	interval := p.Interval
	if interval < 1 {
		interval = 1
	}
	anchor := midnight(series.Start.In(loc), loc)
	target := dateOf(date, loc)

	var patternEnd time.Time
	if p.EndDate != nil {
		patternEnd = dateOf(*p.EndDate, loc)
	}

	for k := 0; k < hardIterationCap; k++ {
		if p.Count != nil && k >= *p.Count {
			return false
		}
		d := candidate(anchor, k, p.Frequency, interval, loc)
		if p.EndDate != nil && d.After(patternEnd) {
			return false
		}
		if d.After(target) {
			return false
		}
		if !d.Equal(target) {
			continue
		}
		if p.HasException(d) {
			return false
		}
		if p.WorkdaysOnly && p.Frequency == models.FrequencyDaily && !isWorkday(d, holidays) {
			return false
		}
		return true
	}
	return false
}

// LastBefore returns the final candidate occurrence date strictly before the
// boundary date, together with the number of candidate indices preceding the
// boundary. ok is false when the series has no candidate before it.
// Truncation operates on candidate indices, so exception and workday filters
// do not apply here.
func LastBefore(series Series, boundary time.Time, loc *time.Location) (last time.Time, countBefore int, ok bool) {
	if loc == nil {
		loc = time.UTC
	}
	p := series.Pattern
	interval := p.Interval
	if interval < 1 {
		interval = 1
	}
	anchor := midnight(series.Start.In(loc), loc)
	bound := dateOf(boundary, loc)

	var patternEnd time.Time
	if p.EndDate != nil {
		patternEnd = dateOf(*p.EndDate, loc)
	}

	for k := 0; k < hardIterationCap; k++ {
		if p.Count != nil && k >= *p.Count {
			break
		}
		d := candidate(anchor, k, p.Frequency, interval, loc)
		if p.EndDate != nil && d.After(patternEnd) {
			break
		}
		if !d.Before(bound) {
			break
		}
		last = d
		countBefore = k + 1
	}
	return last, countBefore, countBefore > 0
}

// candidate computes the k-th occurrence date of a series counted from its
// anchor. Month and year steps keep the anchor's day-of-month, clamped to the
// last day of a shorter target month (a 31st anchor lands on Apr 30, a
// Feb 29 anchor lands on Feb 28 off leap years).
func candidate(anchor time.Time, k int, freq models.Frequency, interval int, loc *time.Location) time.Time {
	switch freq {
	case models.FrequencyWeekly:
		return anchor.AddDate(0, 0, 7*k*interval)
	case models.FrequencyMonthly:
		months := int(anchor.Month()) - 1 + k*interval
		year := anchor.Year() + months/12
		month := time.Month(months%12 + 1)
		day := clampDay(anchor.Day(), year, month, loc)
		return time.Date(year, month, day, 0, 0, 0, 0, loc)
	case models.FrequencyYearly:
		year := anchor.Year() + k*interval
		day := clampDay(anchor.Day(), year, anchor.Month(), loc)
		return time.Date(year, anchor.Month(), day, 0, 0, 0, 0, loc)
	default: // daily
		return anchor.AddDate(0, 0, k*interval)
	}
}

func clampDay(day, year int, month time.Month, loc *time.Location) int {
	// Day 0 of the next month is the last day of this one.
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > lastDay {
		return lastDay
	}
	return day
}

func isWorkday(d time.Time, holidays HolidaySet) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if holidays != nil && holidays.Contains(d) {
		return false
	}
	return true
}

// midnight truncates an instant to the start of its calendar day in loc.
func midnight(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// dateOf reinterprets a date-valued time (e.g. a DATE column scanned at UTC
// midnight) as the same calendar date in loc, without instant conversion.
func dateOf(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
