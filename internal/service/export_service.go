package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/manateeit/mit-psa-sub005/pkg/config"
	appErrors "github.com/manateeit/mit-psa-sub005/pkg/errors"
	"github.com/manateeit/mit-psa-sub005/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string    `json:"-"`
	Token        string    `json:"token"`
	URL          string    `json:"url"`
	Format       string    `json:"format"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExportService renders schedule windows to files on disk and hands out
// expiring signed download links. Files past their TTL are reaped by a
// background loop.
type ExportService struct {
	entries   *EntryService
	storage   fileStorage
	signer    *storage.SignedURLSigner
	apiPrefix string
	resultTTL time.Duration
	logger    *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

// NewExportService constructs an ExportService.
func NewExportService(entries *EntryService, files fileStorage, signer *storage.SignedURLSigner, apiPrefix string, cfg config.ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.ResultTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ExportService{
		entries:   entries,
		storage:   files,
		signer:    signer,
		apiPrefix: apiPrefix,
		resultTTL: ttl,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Generate renders the tenant's schedule window, stores the file, and returns
// a signed download link.
func (s *ExportService) Generate(ctx context.Context, tenantID, startDate, endDate, format string) (*ExportResult, error) {
	payload, name, err := s.entries.ExportEntries(ctx, tenantID, startDate, endDate, format)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = "csv"
	}

	timestamp := time.Now().UTC().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s_%s", sanitizeFilename(tenantID), timestamp, name)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	token, expiresAt, err := s.signer.Generate(jobID, relPath)
	if err != nil {
		return nil, err
	}

	prefix := strings.TrimRight(s.apiPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/schedule/exports/%s", prefix, token),
		Format:       format,
		ExpiresAt:    expiresAt,
	}, nil
}

// Open validates a download token and returns a handle to the stored file.
func (s *ExportService) Open(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download link")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.ErrNotFound
	}
	return file, nil
}

// StartCleanup reaps expired export files on the given interval until Stop.
func (s *ExportService) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	s.started = true
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				removed, err := s.storage.CleanupOlderThan(s.resultTTL)
				if err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
					continue
				}
				if len(removed) > 0 {
					s.logger.Info("expired exports removed", zap.Int("count", len(removed)))
				}
			}
		}
	}()
}

// Stop halts the cleanup loop.
func (s *ExportService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.started {
			<-s.done
		}
	})
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
