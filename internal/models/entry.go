package models

import (
	"time"

	"github.com/lib/pq"
)

// EntryStatus enumerates lifecycle states of a schedule entry.
type EntryStatus string

const (
	EntryStatusScheduled EntryStatus = "SCHEDULED"
	EntryStatusTentative EntryStatus = "TENTATIVE"
	EntryStatusCompleted EntryStatus = "COMPLETED"
	EntryStatusCancelled EntryStatus = "CANCELLED"
)

// EditScope is the blast radius of an update or delete on a recurring entry.
type EditScope string

const (
	ScopeSingle EditScope = "single"
	ScopeFuture EditScope = "future"
	ScopeAll    EditScope = "all"
)

// Valid reports whether the scope is one of the supported values.
func (s EditScope) Valid() bool {
	switch s {
	case ScopeSingle, ScopeFuture, ScopeAll:
		return true
	}
	return false
}

// ScheduleEntry is one row of the schedule_entries table. A row is either a
// standalone occurrence, a recurrence master (a recurrence_patterns row
// exists for it), or a detached exception (OriginalEntryID set). A row never
// carries both a pattern and OriginalEntryID.
type ScheduleEntry struct {
	ID              string         `db:"id" json:"id,omitempty"`
	TenantID        string         `db:"tenant_id" json:"-"`
	OriginalEntryID *string        `db:"original_entry_id" json:"original_entry_id,omitempty"`
	AnchorDate      *time.Time     `db:"anchor_date" json:"anchor_date,omitempty"`
	SplitFromID     *string        `db:"split_from_id" json:"-"`
	Title           string         `db:"title" json:"title"`
	Notes           string         `db:"notes" json:"notes,omitempty"`
	Status          EntryStatus    `db:"status" json:"status"`
	WorkItemRef     *string        `db:"work_item_ref" json:"work_item_ref,omitempty"`
	ScheduledStart  time.Time      `db:"scheduled_start" json:"scheduled_start"`
	ScheduledEnd    time.Time      `db:"scheduled_end" json:"scheduled_end"`
	AssignedUserIDs pq.StringArray `db:"assigned_user_ids" json:"assigned_user_ids"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at,omitempty"`

	// Pattern is attached by the service layer for masters; never scanned
	// directly from the entries table.
	Pattern *RecurrencePattern `db:"-" json:"recurrence_pattern,omitempty"`

	// IsVirtual marks a non-persisted occurrence projected from a master.
	// Virtual entries carry OriginalEntryID (the series) and AnchorDate but
	// no row ID.
	IsVirtual bool `db:"-" json:"is_virtual,omitempty"`

	// Conflicts holds advisory annotations attached by range queries.
	Conflicts []ConflictAnnotation `db:"-" json:"conflicts,omitempty"`
}

// IsException reports whether the entry is a detached exception row.
func (e *ScheduleEntry) IsException() bool {
	return e.OriginalEntryID != nil && !e.IsVirtual
}

// EntryRef addresses either a persisted row or a virtual occurrence of a
// series. Occurrence, when set, is the anchor date of the targeted instance
// and EntryID names the master.
type EntryRef struct {
	EntryID    string
	Occurrence *time.Time
}
