package models

import "time"

// ConflictTypeAssigneeOverlap is the only conflict dimension the detector
// produces: two entries sharing an assignee over intersecting times.
const ConflictTypeAssigneeOverlap = "ASSIGNEE_OVERLAP"

// ScheduleConflict is a persisted advisory record of two overlapping
// persisted entries. Conflicts never block mutations; callers surface them
// and may acknowledge with resolution notes.
type ScheduleConflict struct {
	ID              string    `db:"id" json:"id"`
	TenantID        string    `db:"tenant_id" json:"-"`
	EntryID1        string    `db:"entry_id_1" json:"entry_id_1"`
	EntryID2        string    `db:"entry_id_2" json:"entry_id_2"`
	ConflictType    string    `db:"conflict_type" json:"conflict_type"`
	Resolved        bool      `db:"resolved" json:"resolved"`
	ResolutionNotes *string   `db:"resolution_notes" json:"resolution_notes,omitempty"`
	DetectedAt      time.Time `db:"detected_at" json:"detected_at"`
}

// ConflictAnnotation is the query-time form of a conflict, attached to each
// entry of an overlapping pair. The counterpart is identified by row ID for
// persisted entries or by series and anchor date for virtual occurrences.
type ConflictAnnotation struct {
	WithEntryID    string   `json:"with_entry_id,omitempty"`
	WithSeriesID   string   `json:"with_series_id,omitempty"`
	WithAnchorDate string   `json:"with_anchor_date,omitempty"`
	ConflictType   string   `json:"conflict_type"`
	SharedUserIDs  []string `json:"shared_user_ids"`
}

// ConflictFilter narrows conflict listings.
type ConflictFilter struct {
	Resolved *bool
	Page     int
	PageSize int
}
