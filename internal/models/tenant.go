package models

import "time"

// TenantSettings holds per-tenant scheduling configuration supplied by the
// surrounding product. TimeZone is an IANA zone name; all recurrence date
// arithmetic runs in it.
type TenantSettings struct {
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	TimeZone  string    `db:"time_zone" json:"time_zone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Holiday is one non-working date in a tenant's calendar.
type Holiday struct {
	ID       string    `db:"id" json:"id"`
	TenantID string    `db:"tenant_id" json:"-"`
	Date     time.Time `db:"holiday_date" json:"date"`
	Name     string    `db:"name" json:"name"`
}
