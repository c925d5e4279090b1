package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manateeit/mit-psa-sub005/internal/models"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func weeklySeries(count int) Series {
	return Series{
		ID:    "series-1",
		Start: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Pattern: models.RecurrencePattern{
			Frequency: models.FrequencyWeekly,
			Interval:  1,
			Count:     &count,
		},
	}
}

func anchorDates(occurrences []Occurrence) []string {
	dates := make([]string, 0, len(occurrences))
	for _, occ := range occurrences {
		dates = append(dates, occ.AnchorDate.Format(models.DateLayout))
	}
	return dates
}

func TestExpandWeeklyCount(t *testing.T) {
	window := Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
	}

	occurrences, err := Expand(weeklySeries(5), window, time.UTC, NewDateSet(nil), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22", "2024-01-29"}, anchorDates(occurrences))

	first := occurrences[0]
	assert.Equal(t, "series-1", first.SeriesID)
	assert.Equal(t, 9, first.Start.Hour())
	assert.Equal(t, time.Hour, first.End.Sub(first.Start))
}

func TestExpandWindowClipsSeries(t *testing.T) {
	window := Window{
		Start: time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC),
	}

	occurrences, err := Expand(weeklySeries(5), window, time.UTC, NewDateSet(nil), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-15", "2024-01-22"}, anchorDates(occurrences))
}

func TestExpandExceptionConsumesCountSlot(t *testing.T) {
	series := weeklySeries(5)
	series.Pattern.Exceptions = []string{"2024-01-15"}
	window := Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	occurrences, err := Expand(series, window, time.UTC, NewDateSet(nil), 0)
	require.NoError(t, err)
	// The cancelled date keeps its slot: the series still ends on Jan 29.
	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-22", "2024-01-29"}, anchorDates(occurrences))
}

func TestExpandDailyEndDate(t *testing.T) {
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	series := Series{
		ID:    "daily",
		Start: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC),
		Pattern: models.RecurrencePattern{
			Frequency: models.FrequencyDaily,
			Interval:  1,
			EndDate:   &end,
		},
	}
	window := Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}

	occurrences, err := Expand(series, window, time.UTC, NewDateSet(nil), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03"}, anchorDates(occurrences))
}

func TestExpandMonthlyClampsShortMonths(t *testing.T) {
	series := Series{
		ID:    "monthly",
		Start: time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 13, 0, 0, 0, time.UTC),
		Pattern: models.RecurrencePattern{
			Frequency: models.FrequencyMonthly,
			Interval:  1,
		},
	}
	window := Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
	}

	occurrences, err := Expand(series, window, time.UTC, NewDateSet(nil), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"}, anchorDates(occurrences))
}

func TestExpandYearlyLeapDay(t *testing.T) {
	series := Series{
		ID:    "yearly",
		Start: time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 29, 11, 0, 0, 0, time.UTC),
		Pattern: models.RecurrencePattern{
			Frequency: models.FrequencyYearly,
			Interval:  1,
		},
	}
	window := Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	}

	occurrences, err := Expand(series, window, time.UTC, NewDateSet(nil), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-29", "2025-02-28", "2026-02-28"}, anchorDates(occurrences))
}

func TestExpandWorkdaysOnlySkipsWeekendsAndHolidays(t *testing.T) {
	series := Series{
		ID:    "standup",
		Start: time.Date(2024, 1, 5, 9, 15, 0, 0, time.UTC), // Friday
		End:   time.Date(2024, 1, 5, 9, 30, 0, 0, time.UTC),
		Pattern: models.RecurrencePattern{
			Frequency:    models.FrequencyDaily,
			Interval:     1,
			WorkdaysOnly: true,
		},
	}
	window := Window{
		Start: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	holidays := NewDateSet([]time.Time{time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)}) // Monday

	occurrences, err := Expand(series, window, time.UTC, holidays, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-05", "2024-01-09", "2024-01-10"}, anchorDates(occurrences))
}

func TestExpandKeepsWallClockAcrossDST(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	series := Series{
		ID:    "dst",
		Start: time.Date(2024, 3, 9, 9, 0, 0, 0, loc), // day before spring forward
		End:   time.Date(2024, 3, 9, 10, 0, 0, 0, loc),
		Pattern: models.RecurrencePattern{
			Frequency: models.FrequencyDaily,
			Interval:  1,
		},
	}
	window := Window{
		Start: time.Date(2024, 3, 9, 0, 0, 0, 0, loc),
		End:   time.Date(2024, 3, 11, 0, 0, 0, 0, loc),
	}

	occurrences, err := Expand(series, window, loc, NewDateSet(nil), 0)
	require.NoError(t, err)
	require.Len(t, occurrences, 3)
	for _, occ := range occurrences {
		assert.Equal(t, 9, occ.Start.In(loc).Hour())
		assert.Equal(t, time.Hour, occ.End.Sub(occ.Start))
	}
}

func TestExpandIntervalStepping(t *testing.T) {
	series := weeklySeries(4)
	series.Pattern.Interval = 2
	window := Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}

	occurrences, err := Expand(series, window, time.UTC, NewDateSet(nil), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-15", "2024-01-29", "2024-02-12"}, anchorDates(occurrences))
}

func TestExpandOccurrenceCapExceeded(t *testing.T) {
	series := Series{
		ID:    "unbounded",
		Start: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Pattern: models.RecurrencePattern{
			Frequency: models.FrequencyDaily,
			Interval:  1,
		},
	}
	window := Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}

	_, err := Expand(series, window, time.UTC, NewDateSet(nil), 10)
	assert.ErrorIs(t, err, ErrCapExceeded)
}

func TestOccursOn(t *testing.T) {
	series := weeklySeries(5)
	series.Pattern.Exceptions = []string{"2024-01-08"}

	assert.True(t, OccursOn(series, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), time.UTC, NewDateSet(nil)))
	assert.False(t, OccursOn(series, time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), time.UTC, NewDateSet(nil)), "off-cadence date")
	assert.False(t, OccursOn(series, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), time.UTC, NewDateSet(nil)), "cancelled date")
	assert.False(t, OccursOn(series, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), time.UTC, NewDateSet(nil)), "past the count")
}

func TestLastBefore(t *testing.T) {
	series := weeklySeries(5)

	last, countBefore, ok := LastBefore(series, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), time.UTC)
	require.True(t, ok)
	assert.Equal(t, "2024-01-08", last.Format(models.DateLayout))
	assert.Equal(t, 2, countBefore)

	_, _, ok = LastBefore(series, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.False(t, ok, "no occurrence precedes the first one")
}
