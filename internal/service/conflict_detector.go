package service

import (
	"sort"

	"go.uber.org/zap"

	"github.com/manateeit/mit-psa-sub005/internal/models"
)

// ConflictDetector finds assignee overlaps in an expanded window of
// schedule entries. Detection is advisory: it annotates, it never blocks.
type ConflictDetector struct {
	logger *zap.Logger
}

// NewConflictDetector creates a conflict detector.
func NewConflictDetector(logger *zap.Logger) *ConflictDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictDetector{logger: logger}
}

// Annotate attaches a ConflictAnnotation to both members of every pair of
// entries that intersect in time and share at least one assignee. Intervals
// are half-open: entries that merely touch do not conflict. Cancelled
// entries are ignored.
func (d *ConflictDetector) Annotate(entries []models.ScheduleEntry) {
	order := detectionOrder(entries)

	for i := 0; i < len(order); i++ {
		a := &entries[order[i]]
		for j := i + 1; j < len(order); j++ {
			b := &entries[order[j]]
			if !b.ScheduledStart.Before(a.ScheduledEnd) {
				break
			}
			shared := sharedAssignees(a.AssignedUserIDs, b.AssignedUserIDs)
			if len(shared) == 0 {
				continue
			}
			a.Conflicts = append(a.Conflicts, annotationFor(b, shared))
			b.Conflicts = append(b.Conflicts, annotationFor(a, shared))
		}
	}
}

// Pairs reduces the same detection to persisted conflict rows. Virtual
// occurrences have no row identity, so only pairs of persisted entries are
// produced; pair IDs are normalized so (a, b) and (b, a) collapse to one row.
func (d *ConflictDetector) Pairs(tenantID string, entries []models.ScheduleEntry) []models.ScheduleConflict {
	order := detectionOrder(entries)

	var conflicts []models.ScheduleConflict
	seen := make(map[string]struct{})
	for i := 0; i < len(order); i++ {
		a := &entries[order[i]]
		for j := i + 1; j < len(order); j++ {
			b := &entries[order[j]]
			if !b.ScheduledStart.Before(a.ScheduledEnd) {
				break
			}
			if a.ID == "" || b.ID == "" {
				continue
			}
			if len(sharedAssignees(a.AssignedUserIDs, b.AssignedUserIDs)) == 0 {
				continue
			}
			id1, id2 := a.ID, b.ID
			if id2 < id1 {
				id1, id2 = id2, id1
			}
			key := id1 + "|" + id2
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			conflicts = append(conflicts, models.ScheduleConflict{
				TenantID:     tenantID,
				EntryID1:     id1,
				EntryID2:     id2,
				ConflictType: models.ConflictTypeAssigneeOverlap,
			})
		}
	}
	return conflicts
}

// detectionOrder returns indices of detectable entries sorted by start time,
// so the inner scan can stop at the first non-overlapping candidate.
func detectionOrder(entries []models.ScheduleEntry) []int {
	order := make([]int, 0, len(entries))
	for i := range entries {
		if entries[i].Status == models.EntryStatusCancelled {
			continue
		}
		if len(entries[i].AssignedUserIDs) == 0 {
			continue
		}
		order = append(order, i)
	}
	sort.Slice(order, func(i, j int) bool {
		return entries[order[i]].ScheduledStart.Before(entries[order[j]].ScheduledStart)
	})
	return order
}

func sharedAssignees(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	var shared []string
	for _, id := range b {
		if _, ok := set[id]; ok {
			shared = append(shared, id)
			delete(set, id)
		}
	}
	sort.Strings(shared)
	return shared
}

func annotationFor(counterpart *models.ScheduleEntry, shared []string) models.ConflictAnnotation {
	ann := models.ConflictAnnotation{
		ConflictType:  models.ConflictTypeAssigneeOverlap,
		SharedUserIDs: shared,
	}
	if counterpart.IsVirtual {
		if counterpart.OriginalEntryID != nil {
			ann.WithSeriesID = *counterpart.OriginalEntryID
		}
		if counterpart.AnchorDate != nil {
			ann.WithAnchorDate = counterpart.AnchorDate.Format(models.DateLayout)
		}
		return ann
	}
	ann.WithEntryID = counterpart.ID
	return ann
}
