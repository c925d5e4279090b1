package models

import (
	"time"

	"github.com/lib/pq"
)

// Frequency is the recurrence unit of a pattern.
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyYearly  Frequency = "YEARLY"
)

// Valid reports whether the frequency is supported.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// DateLayout is the canonical wire and storage format for series-relative
// dates (anchor dates, exception dates, holiday dates).
const DateLayout = "2006-01-02"

// RecurrencePattern is owned one-to-one by a master entry. Exactly one of
// EndDate or Count may be set; neither means the series is unbounded and only
// the query window and the expansion cap limit it. Exceptions holds cancelled
// or overridden anchor dates as DateLayout strings. WorkdaysOnly is only
// meaningful for daily frequency.
type RecurrencePattern struct {
	EntryID      string         `db:"entry_id" json:"-"`
	TenantID     string         `db:"tenant_id" json:"-"`
	Frequency    Frequency      `db:"frequency" json:"frequency"`
	Interval     int            `db:"interval" json:"interval"`
	EndDate      *time.Time     `db:"end_date" json:"end_date,omitempty"`
	Count        *int           `db:"occurrence_count" json:"occurrence_count,omitempty"`
	Exceptions   pq.StringArray `db:"exceptions" json:"exceptions,omitempty"`
	WorkdaysOnly bool           `db:"workdays_only" json:"workdays_only,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"-"`
	UpdatedAt    time.Time      `db:"updated_at" json:"-"`
}

// HasException reports whether the given date is excluded from the series.
func (p *RecurrencePattern) HasException(date time.Time) bool {
	key := date.Format(DateLayout)
	for _, exc := range p.Exceptions {
		if exc == key {
			return true
		}
	}
	return false
}
