package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/manateeit/mit-psa-sub005/api/swagger"
	"github.com/manateeit/mit-psa-sub005/internal/handler"
	"github.com/manateeit/mit-psa-sub005/internal/middleware"
	"github.com/manateeit/mit-psa-sub005/internal/repository"
	"github.com/manateeit/mit-psa-sub005/internal/service"
	"github.com/manateeit/mit-psa-sub005/pkg/cache"
	"github.com/manateeit/mit-psa-sub005/pkg/config"
	"github.com/manateeit/mit-psa-sub005/pkg/database"
	"github.com/manateeit/mit-psa-sub005/pkg/logger"
	corsmiddleware "github.com/manateeit/mit-psa-sub005/pkg/middleware/cors"
	reqidmiddleware "github.com/manateeit/mit-psa-sub005/pkg/middleware/requestid"
	"github.com/manateeit/mit-psa-sub005/pkg/storage"
)

// @title PSA Schedule API
// @version 1.0.0
// @description Tenant work scheduling with recurrence expansion, scoped edits and advisory conflict detection
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, running without range cache", "error", err)
		redisClient = nil
	}

	entryRepo := repository.NewEntryRepository(db)
	patternRepo := repository.NewPatternRepository(db)
	conflictRepo := repository.NewConflictRepository(db)
	holidayRepo := repository.NewHolidayRepository(db)
	tenantRepo := repository.NewTenantRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	detector := service.NewConflictDetector(logr)
	resolver := service.NewScopeResolver(db, entryRepo, patternRepo, conflictRepo, logr)
	entrySvc := service.NewEntryService(db, entryRepo, patternRepo, tenantRepo, holidayRepo, conflictRepo, cacheRepo, detector, resolver, validate, cfg.Schedule, logr)

	files, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Auth.TokenSecret, cfg.Export.ResultTTL)
	exportSvc := service.NewExportService(entrySvc, files, signer, cfg.APIPrefix, cfg.Export, logr)
	exportSvc.StartCleanup(time.Hour)
	defer exportSvc.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Sweeper.Enabled {
		sweeper := service.NewConflictSweeper(entryRepo, tenantRepo, conflictRepo, detector, metricsSvc, cfg.Sweeper, logr)
		if err := sweeper.Start(ctx); err != nil {
			logr.Sugar().Fatalw("failed to start conflict sweeper", "error", err)
		}
		defer sweeper.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	entryHandler := handler.NewEntryHandler(entrySvc)
	conflictHandler := handler.NewConflictHandler(entrySvc)
	exportHandler := handler.NewExportHandler(exportSvc)

	api := r.Group(cfg.APIPrefix)
	// Signed tokens authenticate downloads on their own.
	api.GET("/schedule/exports/:token", exportHandler.Download)

	secured := api.Group("", middleware.TenantAuth(cfg.Auth.TokenSecret))
	{
		secured.GET("/schedule/entries", entryHandler.List)
		secured.POST("/schedule/entries", entryHandler.Create)
		secured.GET("/schedule/entries/:id", entryHandler.Get)
		secured.PUT("/schedule/entries/:id", entryHandler.Update)
		secured.DELETE("/schedule/entries/:id", entryHandler.Delete)
		secured.GET("/schedule/export", entryHandler.Export)
		secured.POST("/schedule/exports", exportHandler.Create)
		secured.GET("/schedule/conflicts", conflictHandler.List)
		secured.POST("/schedule/conflicts/:id/resolve", conflictHandler.Resolve)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
