package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/manateeit/mit-psa-sub005/internal/models"
	"github.com/manateeit/mit-psa-sub005/internal/recurrence"
	"github.com/manateeit/mit-psa-sub005/pkg/config"
	appErrors "github.com/manateeit/mit-psa-sub005/pkg/errors"
	"github.com/manateeit/mit-psa-sub005/pkg/export"
)

type entryRepo interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleEntry, error)
	ListNonRecurringInRange(ctx context.Context, tenantID string, start, end time.Time) ([]models.ScheduleEntry, error)
	ListMastersStartingBefore(ctx context.Context, tenantID string, end time.Time) ([]models.ScheduleEntry, error)
	Create(ctx context.Context, entry *models.ScheduleEntry) error
	CreateWithTx(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error
}

type patternRepo interface {
	GetByEntryID(ctx context.Context, tenantID, entryID string) (*models.RecurrencePattern, error)
	ListByEntryIDs(ctx context.Context, tenantID string, entryIDs []string) ([]models.RecurrencePattern, error)
	CreateWithTx(ctx context.Context, exec sqlx.ExtContext, pattern *models.RecurrencePattern) error
}

type tenantRepo interface {
	GetSettings(ctx context.Context, tenantID string) (*models.TenantSettings, error)
}

type holidayRepo interface {
	ListInRange(ctx context.Context, tenantID string, start, end time.Time) ([]models.Holiday, error)
}

type conflictRepo interface {
	List(ctx context.Context, tenantID string, filter models.ConflictFilter) ([]models.ScheduleConflict, int, error)
	Resolve(ctx context.Context, tenantID, id, notes string) error
}

type rangeCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidateTenant(ctx context.Context, tenantID string) error
}

// PatternRequest describes a recurrence rule on the wire. EndDate and Count
// are mutually exclusive; neither means the series is unbounded.
type PatternRequest struct {
	Frequency    string   `json:"frequency" validate:"required,oneof=DAILY WEEKLY MONTHLY YEARLY"`
	Interval     int      `json:"interval" validate:"omitempty,min=1"`
	EndDate      string   `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Count        *int     `json:"occurrence_count" validate:"omitempty,min=1"`
	Exceptions   []string `json:"exceptions" validate:"omitempty,dive,datetime=2006-01-02"`
	WorkdaysOnly bool     `json:"workdays_only"`
}

// CreateEntryRequest is the payload for creating a standalone entry or a
// recurring series.
type CreateEntryRequest struct {
	Title           string          `json:"title" validate:"required,max=200"`
	Notes           string          `json:"notes" validate:"max=2000"`
	Status          string          `json:"status" validate:"omitempty,oneof=SCHEDULED TENTATIVE COMPLETED CANCELLED"`
	WorkItemRef     *string         `json:"work_item_ref"`
	ScheduledStart  time.Time       `json:"scheduled_start" validate:"required"`
	ScheduledEnd    time.Time       `json:"scheduled_end" validate:"required"`
	AssignedUserIDs []string        `json:"assigned_user_ids" validate:"min=1,dive,required"`
	Pattern         *PatternRequest `json:"recurrence_pattern"`
}

// UpdateEntryRequest carries partial changes; absent fields stay untouched.
type UpdateEntryRequest struct {
	Title           *string             `json:"title" validate:"omitempty,max=200"`
	Notes           *string             `json:"notes" validate:"omitempty,max=2000"`
	Status          *models.EntryStatus `json:"status" validate:"omitempty,oneof=SCHEDULED TENTATIVE COMPLETED CANCELLED"`
	WorkItemRef     *string             `json:"work_item_ref"`
	ClearWorkItem   bool                `json:"clear_work_item"`
	ScheduledStart  *time.Time          `json:"scheduled_start"`
	ScheduledEnd    *time.Time          `json:"scheduled_end"`
	AssignedUserIDs []string            `json:"assigned_user_ids" validate:"omitempty,dive,required"`
	Pattern         *PatternRequest     `json:"recurrence_pattern"`
}

// EntryService is the scheduling façade: it expands windows, routes scoped
// mutations through the resolver, and keeps the range cache honest.
type EntryService struct {
	tx        txProvider
	entries   entryRepo
	patterns  patternRepo
	tenants   tenantRepo
	holidays  holidayRepo
	conflicts conflictRepo
	cache     rangeCache
	detector  *ConflictDetector
	resolver  *ScopeResolver
	validate  *validator.Validate
	cfg       config.ScheduleConfig
	logger    *zap.Logger
}

// NewEntryService wires the façade.
func NewEntryService(
	tx txProvider,
	entries entryRepo,
	patterns patternRepo,
	tenants tenantRepo,
	holidays holidayRepo,
	conflicts conflictRepo,
	cache rangeCache,
	detector *ConflictDetector,
	resolver *ScopeResolver,
	validate *validator.Validate,
	cfg config.ScheduleConfig,
	logger *zap.Logger,
) *EntryService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntryService{
		tx:        tx,
		entries:   entries,
		patterns:  patterns,
		tenants:   tenants,
		holidays:  holidays,
		conflicts: conflicts,
		cache:     cache,
		detector:  detector,
		resolver:  resolver,
		validate:  validate,
		cfg:       cfg,
		logger:    logger,
	}
}

// GetEntries returns every occurrence intersecting the inclusive date range,
// standalone rows and expanded series instances alike, annotated with
// advisory conflicts. Dates are interpreted in the tenant's time zone.
func (s *EntryService) GetEntries(ctx context.Context, tenantID, startDate, endDate string) ([]models.ScheduleEntry, error) {
	rangeStart, err := time.Parse(models.DateLayout, startDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start must be a YYYY-MM-DD date")
	}
	rangeEnd, err := time.Parse(models.DateLayout, endDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end must be a YYYY-MM-DD date")
	}
	if rangeEnd.Before(rangeStart) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end must not precede start")
	}
	if s.cfg.MaxWindowDays > 0 {
		days := int(rangeEnd.Sub(rangeStart).Hours()/24) + 1
		if days > s.cfg.MaxWindowDays {
			return nil, appErrors.ErrRangeTooLarge
		}
	}

	key := rangeCacheKey(tenantID, rangeStart, rangeEnd)
	if s.cache != nil {
		var cached []models.ScheduleEntry
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("schedule cache read failed", zap.Error(err))
		}
	}

	loc, err := s.tenantLocation(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	windowStart := time.Date(rangeStart.Year(), rangeStart.Month(), rangeStart.Day(), 0, 0, 0, 0, loc)
	windowEnd := time.Date(rangeEnd.Year(), rangeEnd.Month(), rangeEnd.Day(), 0, 0, 0, 0, loc).Add(24 * time.Hour)

	holidayRows, err := s.holidays.ListInRange(ctx, tenantID, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}
	holidaySet := recurrence.NewDateSet(holidayDates(holidayRows))

	entries, err := s.entries.ListNonRecurringInRange(ctx, tenantID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	masters, err := s.entries.ListMastersStartingBefore(ctx, tenantID, windowEnd)
	if err != nil {
		return nil, err
	}
	patternsByEntry, err := s.patternsFor(ctx, tenantID, masters)
	if err != nil {
		return nil, err
	}

	window := recurrence.Window{Start: windowStart, End: time.Date(rangeEnd.Year(), rangeEnd.Month(), rangeEnd.Day(), 0, 0, 0, 0, loc)}
	expanded := 0
	for i := range masters {
		master := &masters[i]
		pattern, ok := patternsByEntry[master.ID]
		if !ok {
			continue
		}
		occurrences, err := recurrence.Expand(seriesOf(master, &pattern), window, loc, holidaySet, s.cfg.MaxOccurrences)
		if err != nil {
			if errors.Is(err, recurrence.ErrCapExceeded) {
				return nil, appErrors.ErrRangeTooLarge
			}
			return nil, err
		}
		expanded += len(occurrences)
		if s.cfg.MaxOccurrences > 0 && expanded > s.cfg.MaxOccurrences {
			return nil, appErrors.ErrRangeTooLarge
		}
		for _, occ := range occurrences {
			entries = append(entries, virtualEntry(master, &pattern, occ))
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ScheduledStart.Equal(entries[j].ScheduledStart) {
			return entries[i].ScheduledStart.Before(entries[j].ScheduledStart)
		}
		return entrySortKey(&entries[i]) < entrySortKey(&entries[j])
	})

	s.detector.Annotate(entries)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, entries, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("schedule cache write failed", zap.Error(err))
		}
	}
	return entries, nil
}

// GetEntry loads a single persisted entry, with its pattern attached when
// the entry is a series master.
func (s *EntryService) GetEntry(ctx context.Context, tenantID, id string) (*models.ScheduleEntry, error) {
	entry, err := s.entries.FindByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, err
	}
	pattern, err := s.patterns.GetByEntryID(ctx, tenantID, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	entry.Pattern = pattern
	return entry, nil
}

// CreateEntry persists a standalone entry, or a master plus its pattern in
// one transaction when a recurrence rule is supplied.
func (s *EntryService) CreateEntry(ctx context.Context, tenantID string, req CreateEntryRequest) (*models.ScheduleEntry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message)
	}
	if !req.ScheduledStart.Before(req.ScheduledEnd) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "scheduled_end must be after scheduled_start")
	}

	status := models.EntryStatus(req.Status)
	if req.Status == "" {
		status = models.EntryStatusScheduled
	}
	entry := &models.ScheduleEntry{
		TenantID:        tenantID,
		Title:           req.Title,
		Notes:           req.Notes,
		Status:          status,
		WorkItemRef:     req.WorkItemRef,
		ScheduledStart:  req.ScheduledStart,
		ScheduledEnd:    req.ScheduledEnd,
		AssignedUserIDs: req.AssignedUserIDs,
	}

	if req.Pattern == nil {
		if err := s.entries.Create(ctx, entry); err != nil {
			return nil, err
		}
		s.invalidate(ctx, tenantID)
		return entry, nil
	}

	pattern, err := s.buildPattern(tenantID, req.Pattern, req.ScheduledStart)
	if err != nil {
		return nil, err
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransactionFailed.Code, appErrors.ErrTransactionFailed.Status, appErrors.ErrTransactionFailed.Message)
	}
	if err := s.entries.CreateWithTx(ctx, tx, entry); err != nil {
		_ = tx.Rollback()
		return nil, appErrors.Wrap(err, appErrors.ErrTransactionFailed.Code, appErrors.ErrTransactionFailed.Status, appErrors.ErrTransactionFailed.Message)
	}
	pattern.EntryID = entry.ID
	if err := s.patterns.CreateWithTx(ctx, tx, pattern); err != nil {
		_ = tx.Rollback()
		return nil, appErrors.Wrap(err, appErrors.ErrTransactionFailed.Code, appErrors.ErrTransactionFailed.Status, appErrors.ErrTransactionFailed.Message)
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransactionFailed.Code, appErrors.ErrTransactionFailed.Status, appErrors.ErrTransactionFailed.Message)
	}

	entry.Pattern = pattern
	s.invalidate(ctx, tenantID)
	return entry, nil
}

// UpdateEntry applies a scoped update. Occurrence, when given, is the anchor
// date of the targeted instance in YYYY-MM-DD form.
func (s *EntryService) UpdateEntry(ctx context.Context, tenantID, id string, scope models.EditScope, occurrence string, req UpdateEntryRequest) (*models.ScheduleEntry, error) {
	if !scope.Valid() {
		return nil, appErrors.ErrInvalidScope
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message)
	}
	if req.ScheduledStart != nil && req.ScheduledEnd != nil && !req.ScheduledStart.Before(*req.ScheduledEnd) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "scheduled_end must be after scheduled_start")
	}
	// An explicit empty list slips past omitempty but would strand the entry
	// without assignees.
	if req.AssignedUserIDs != nil && len(req.AssignedUserIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assigned_user_ids must not be empty")
	}

	mut := EntryMutation{
		Title:           req.Title,
		Notes:           req.Notes,
		Status:          req.Status,
		WorkItemRef:     req.WorkItemRef,
		ClearWorkItem:   req.ClearWorkItem,
		ScheduledStart:  req.ScheduledStart,
		ScheduledEnd:    req.ScheduledEnd,
		AssignedUserIDs: req.AssignedUserIDs,
	}
	if req.Pattern != nil {
		if scope == models.ScopeSingle {
			return nil, appErrors.ErrInvalidScope
		}
		anchorStart := time.Time{}
		if req.ScheduledStart != nil {
			anchorStart = *req.ScheduledStart
		}
		pattern, err := s.buildPattern(tenantID, req.Pattern, anchorStart)
		if err != nil {
			return nil, err
		}
		mut.Pattern = pattern
	}

	loc, ref, holidaySet, err := s.resolveRef(ctx, tenantID, id, occurrence)
	if err != nil {
		return nil, err
	}

	var updated *models.ScheduleEntry
	switch scope {
	case models.ScopeSingle:
		updated, err = s.resolver.UpdateSingle(ctx, tenantID, ref, mut, loc, holidaySet)
	case models.ScopeFuture:
		updated, err = s.resolver.UpdateFuture(ctx, tenantID, ref, mut, loc, holidaySet)
	case models.ScopeAll:
		updated, err = s.resolver.UpdateAll(ctx, tenantID, id, mut)
	}
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, tenantID)
	return updated, nil
}

// DeleteEntry applies a scoped delete, mirroring UpdateEntry's addressing.
func (s *EntryService) DeleteEntry(ctx context.Context, tenantID, id string, scope models.EditScope, occurrence string) error {
	if !scope.Valid() {
		return appErrors.ErrInvalidScope
	}
	loc, ref, holidaySet, err := s.resolveRef(ctx, tenantID, id, occurrence)
	if err != nil {
		return err
	}
	switch scope {
	case models.ScopeSingle:
		err = s.resolver.DeleteSingle(ctx, tenantID, ref, loc, holidaySet)
	case models.ScopeFuture:
		err = s.resolver.DeleteFuture(ctx, tenantID, ref, loc, holidaySet)
	case models.ScopeAll:
		err = s.resolver.DeleteAll(ctx, tenantID, id)
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)
	return nil
}

// ListConflicts pages through the tenant's persisted conflicts.
func (s *EntryService) ListConflicts(ctx context.Context, tenantID string, filter models.ConflictFilter) ([]models.ScheduleConflict, models.Pagination, error) {
	conflicts, total, err := s.conflicts.List(ctx, tenantID, filter)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	return conflicts, models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ResolveConflict acknowledges a conflict with notes. The underlying entries
// are never touched.
func (s *EntryService) ResolveConflict(ctx context.Context, tenantID, conflictID, notes string) error {
	if err := s.conflicts.Resolve(ctx, tenantID, conflictID, notes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return err
	}
	return nil
}

// ExportEntries renders a window of the schedule as CSV or PDF.
func (s *EntryService) ExportEntries(ctx context.Context, tenantID, startDate, endDate, format string) ([]byte, string, error) {
	entries, err := s.GetEntries(ctx, tenantID, startDate, endDate)
	if err != nil {
		return nil, "", err
	}
	name := fmt.Sprintf("schedule_%s_%s", startDate, endDate)
	switch format {
	case "csv", "":
		payload, err := export.ScheduleCSV(entries)
		if err != nil {
			return nil, "", err
		}
		return payload, name + ".csv", nil
	case "pdf":
		rangeStart, _ := time.Parse(models.DateLayout, startDate)
		rangeEnd, _ := time.Parse(models.DateLayout, endDate)
		payload, err := export.SchedulePDF(entries, rangeStart, rangeEnd)
		if err != nil {
			return nil, "", err
		}
		return payload, name + ".pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func (s *EntryService) buildPattern(tenantID string, req *PatternRequest, seriesStart time.Time) (*models.RecurrencePattern, error) {
	freq := models.Frequency(req.Frequency)
	if !freq.Valid() {
		return nil, appErrors.ErrInvalidPattern
	}
	if req.EndDate != "" && req.Count != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidPattern, "end_date and occurrence_count are mutually exclusive")
	}
	if req.WorkdaysOnly && freq != models.FrequencyDaily {
		return nil, appErrors.Clone(appErrors.ErrInvalidPattern, "workdays_only requires daily frequency")
	}
	interval := req.Interval
	if interval < 1 {
		interval = 1
	}
	pattern := &models.RecurrencePattern{
		TenantID:     tenantID,
		Frequency:    freq,
		Interval:     interval,
		Count:        req.Count,
		Exceptions:   req.Exceptions,
		WorkdaysOnly: req.WorkdaysOnly,
	}
	if req.EndDate != "" {
		end, err := time.Parse(models.DateLayout, req.EndDate)
		if err != nil {
			return nil, appErrors.ErrInvalidPattern
		}
		if !seriesStart.IsZero() {
			anchor := time.Date(seriesStart.Year(), seriesStart.Month(), seriesStart.Day(), 0, 0, 0, 0, time.UTC)
			if end.Before(anchor) {
				return nil, appErrors.Clone(appErrors.ErrInvalidPattern, "end_date precedes the first occurrence")
			}
		}
		pattern.EndDate = &end
	}
	return pattern, nil
}

// resolveRef resolves the tenant's time zone, parses the optional occurrence
// date, and loads the holidays needed to test the occurrence against a
// workdays-only rule.
func (s *EntryService) resolveRef(ctx context.Context, tenantID, id, occurrence string) (*time.Location, models.EntryRef, recurrence.HolidaySet, error) {
	loc, err := s.tenantLocation(ctx, tenantID)
	if err != nil {
		return nil, models.EntryRef{}, nil, err
	}
	ref := models.EntryRef{EntryID: id}
	holidaySet := recurrence.NewDateSet(nil)
	if occurrence != "" {
		parsed, err := time.ParseInLocation(models.DateLayout, occurrence, loc)
		if err != nil {
			return nil, models.EntryRef{}, nil, appErrors.Clone(appErrors.ErrValidation, "occurrence must be a YYYY-MM-DD date")
		}
		ref.Occurrence = &parsed
		day := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		rows, err := s.holidays.ListInRange(ctx, tenantID, day, day)
		if err != nil {
			return nil, models.EntryRef{}, nil, err
		}
		holidaySet = recurrence.NewDateSet(holidayDates(rows))
	}
	return loc, ref, holidaySet, nil
}

func (s *EntryService) tenantLocation(ctx context.Context, tenantID string) (*time.Location, error) {
	zone := s.cfg.DefaultTimeZone
	settings, err := s.tenants.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if settings != nil && settings.TimeZone != "" {
		zone = settings.TimeZone
	}
	if zone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		s.logger.Warn("unknown tenant time zone, falling back to UTC", zap.String("zone", zone))
		return time.UTC, nil
	}
	return loc, nil
}

func (s *EntryService) patternsFor(ctx context.Context, tenantID string, masters []models.ScheduleEntry) (map[string]models.RecurrencePattern, error) {
	if len(masters) == 0 {
		return map[string]models.RecurrencePattern{}, nil
	}
	ids := make([]string, 0, len(masters))
	for i := range masters {
		ids = append(ids, masters[i].ID)
	}
	patterns, err := s.patterns.ListByEntryIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	byEntry := make(map[string]models.RecurrencePattern, len(patterns))
	for _, p := range patterns {
		byEntry[p.EntryID] = p
	}
	return byEntry, nil
}

func (s *EntryService) invalidate(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTenant(ctx, tenantID); err != nil {
		s.logger.Warn("schedule cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func virtualEntry(master *models.ScheduleEntry, pattern *models.RecurrencePattern, occ recurrence.Occurrence) models.ScheduleEntry {
	anchor := occ.AnchorDate
	seriesID := master.ID
	return models.ScheduleEntry{
		TenantID:        master.TenantID,
		OriginalEntryID: &seriesID,
		AnchorDate:      &anchor,
		Title:           master.Title,
		Notes:           master.Notes,
		Status:          master.Status,
		WorkItemRef:     master.WorkItemRef,
		ScheduledStart:  occ.Start,
		ScheduledEnd:    occ.End,
		AssignedUserIDs: master.AssignedUserIDs,
		IsVirtual:       true,
	}
}

func entrySortKey(e *models.ScheduleEntry) string {
	if e.ID != "" {
		return e.ID
	}
	key := ""
	if e.OriginalEntryID != nil {
		key = *e.OriginalEntryID
	}
	if e.AnchorDate != nil {
		key += "@" + e.AnchorDate.Format(models.DateLayout)
	}
	return key
}

func holidayDates(rows []models.Holiday) []time.Time {
	dates := make([]time.Time, 0, len(rows))
	for _, h := range rows {
		dates = append(dates, h.Date)
	}
	return dates
}

// rangeCacheKey must stay under the schedule:<tenant>:range: prefix the
// cache repository invalidates per tenant.
func rangeCacheKey(tenantID string, start, end time.Time) string {
	return fmt.Sprintf("schedule:%s:range:%s:%s", tenantID, start.Format(models.DateLayout), end.Format(models.DateLayout))
}
