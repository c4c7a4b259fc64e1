package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/chartkeep/api/internal/config"
	"github.com/chartkeep/api/internal/fieldcrypt"
	v1 "github.com/chartkeep/api/internal/handler/v1"
	"github.com/chartkeep/api/internal/ratelimit"
	"github.com/chartkeep/api/internal/repository"
	"github.com/chartkeep/api/internal/service"
	"github.com/chartkeep/api/pkg/auth"
	"github.com/chartkeep/api/pkg/database"
	"github.com/chartkeep/api/pkg/logger"
	"github.com/chartkeep/api/pkg/metrics"
	"github.com/chartkeep/api/pkg/tracer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db, log); err != nil {
		return err
	}

	key, err := cfg.Encryption.Key()
	if err != nil {
		return err
	}
	codec, err := fieldcrypt.New(key)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("chartkeep")

	recordRepo := repository.NewRecordRepository(db, codec)
	versionRepo := repository.NewVersionRepository(db, codec)
	auditRepo := repository.NewAuditRepository(db)
	hitRepo := repository.NewHitRepository(db)

	auditSvc := service.NewAuditService(auditRepo, log)
	defer auditSvc.Shutdown()

	limiter := ratelimit.New(hitRepo, cfg.Autosave.Window, cfg.Autosave.Threshold, collector, log)

	recordSvc := service.NewRecordService(
		recordRepo, versionRepo, limiter, auditSvc,
		cfg.Purge.GracePeriod, collector, log,
	)

	purgeSvc := service.NewPurgeService(
		recordRepo, versionRepo, auditSvc, limiter,
		cfg.Purge.Interval, cfg.Purge.BatchSize, collector, log,
	)
	purgeSvc.Start()
	defer purgeSvc.Shutdown()

	jwtManager := auth.NewJWTManager(cfg.JWT)
	router := v1.NewRouter(v1.NewRecordHandler(recordSvc), jwtManager, cfg.CORS, collector, db)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.App.Environment),
			zap.String("version", cfg.App.Version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
