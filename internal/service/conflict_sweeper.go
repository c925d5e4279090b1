package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/manateeit/mit-psa-sub005/internal/models"
	"github.com/manateeit/mit-psa-sub005/pkg/config"
	"github.com/manateeit/mit-psa-sub005/pkg/jobs"
)

const sweepJobType = "conflict-sweep"

type sweeperEntryRepo interface {
	ListNonRecurringInRange(ctx context.Context, tenantID string, start, end time.Time) ([]models.ScheduleEntry, error)
}

type sweeperTenantRepo interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
}

type sweeperConflictRepo interface {
	ReplaceUnresolved(ctx context.Context, tenantID string, conflicts []models.ScheduleConflict) error
}

// ConflictSweeper periodically re-detects conflicts over a horizon of
// upcoming entries and rebuilds each tenant's unresolved conflict set. The
// cron trigger fans out one job per tenant onto a worker queue so slow
// tenants never delay the rest.
type ConflictSweeper struct {
	entries   sweeperEntryRepo
	tenants   sweeperTenantRepo
	conflicts sweeperConflictRepo
	detector  *ConflictDetector
	metrics   *MetricsService
	cfg       config.SweeperConfig
	logger    *zap.Logger

	cron  *cron.Cron
	queue *jobs.Queue
}

// NewConflictSweeper wires the sweeper; call Start to begin sweeping.
func NewConflictSweeper(entries sweeperEntryRepo, tenants sweeperTenantRepo, conflicts sweeperConflictRepo, detector *ConflictDetector, metrics *MetricsService, cfg config.SweeperConfig, logger *zap.Logger) *ConflictSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictSweeper{
		entries:   entries,
		tenants:   tenants,
		conflicts: conflicts,
		detector:  detector,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start launches the worker queue and schedules the cron trigger.
func (s *ConflictSweeper) Start(ctx context.Context) error {
	s.queue = jobs.NewQueue(sweepJobType, s.handle, jobs.QueueConfig{
		Workers:    s.cfg.Workers,
		MaxRetries: s.cfg.MaxRetries,
		Logger:     s.logger,
	})
	s.queue.Start(ctx)

	spec := s.cfg.CronSpec
	if spec == "" {
		spec = "@hourly"
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(spec, func() { s.enqueueAll(ctx) }); err != nil {
		s.queue.Stop()
		return fmt.Errorf("schedule conflict sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("conflict sweeper started", zap.String("cron", spec), zap.Int("horizon_days", s.cfg.HorizonDays))
	return nil
}

// Stop halts the cron trigger and drains the worker queue.
func (s *ConflictSweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.queue != nil {
		s.queue.Stop()
	}
}

func (s *ConflictSweeper) enqueueAll(ctx context.Context) {
	tenantIDs, err := s.tenants.ListTenantIDs(ctx)
	if err != nil {
		s.logger.Error("sweep fan-out failed", zap.Error(err))
		s.metrics.IncSweepFailure()
		return
	}
	for _, tenantID := range tenantIDs {
		job := jobs.Job{ID: uuid.NewString(), Type: sweepJobType, Payload: tenantID}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Warn("sweep enqueue failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}
}

func (s *ConflictSweeper) handle(ctx context.Context, job jobs.Job) error {
	tenantID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("sweep job %s: payload is not a tenant id", job.ID)
	}
	return s.SweepTenant(ctx, tenantID)
}

// SweepTenant re-detects conflicts among the tenant's persisted entries over
// the configured horizon and replaces its unresolved conflict rows. Virtual
// occurrences carry no row identity and are annotated at query time instead.
func (s *ConflictSweeper) SweepTenant(ctx context.Context, tenantID string) error {
	began := time.Now()
	horizon := s.cfg.HorizonDays
	if horizon <= 0 {
		horizon = 90
	}
	start := time.Now().UTC().Truncate(24 * time.Hour)
	end := start.AddDate(0, 0, horizon)

	entries, err := s.entries.ListNonRecurringInRange(ctx, tenantID, start, end)
	if err != nil {
		s.metrics.IncSweepFailure()
		return fmt.Errorf("sweep tenant %s: %w", tenantID, err)
	}
	pairs := s.detector.Pairs(tenantID, entries)
	if err := s.conflicts.ReplaceUnresolved(ctx, tenantID, pairs); err != nil {
		s.metrics.IncSweepFailure()
		return fmt.Errorf("sweep tenant %s: %w", tenantID, err)
	}

	s.metrics.ObserveSweep(tenantID, len(pairs), time.Since(began))
	s.logger.Debug("conflict sweep finished",
		zap.String("tenant_id", tenantID),
		zap.Int("conflicts", len(pairs)),
		zap.Duration("took", time.Since(began)))
	return nil
}
