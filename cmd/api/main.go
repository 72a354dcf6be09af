package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/presensia/presensia-api/internal/handler"
	"github.com/presensia/presensia-api/internal/middleware"
	"github.com/presensia/presensia-api/internal/realtime"
	"github.com/presensia/presensia-api/internal/repository"
	"github.com/presensia/presensia-api/internal/service"
	"github.com/presensia/presensia-api/pkg/cache"
	"github.com/presensia/presensia-api/pkg/config"
	"github.com/presensia/presensia-api/pkg/database"
	"github.com/presensia/presensia-api/pkg/jobs"
	"github.com/presensia/presensia-api/pkg/logger"
	corsmiddleware "github.com/presensia/presensia-api/pkg/middleware/cors"
	reqidmiddleware "github.com/presensia/presensia-api/pkg/middleware/requestid"
	"github.com/presensia/presensia-api/pkg/qr"
	"github.com/presensia/presensia-api/pkg/storage"
)

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, settings cache disabled", "error", err)
		redisClient = nil
	}

	images, err := storage.NewLocalStorage(cfg.Attendance.QRImageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init image storage", "error", err)
	}

	validate := validator.New()

	tokenRepo := repository.NewTokenRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	settingRepo := repository.NewSettingRepository(db, redisClient, cfg.Attendance.SettingsCacheTTL, logr)
	notificationRepo := repository.NewNotificationRepository(db)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(directoryRepo, validate, logr, cfg.JWT)
	tokenSvc := service.NewTokenService(tokenRepo, directoryRepo, settingRepo, images,
		qr.NewRenderer(cfg.Attendance.QRImageSize), validate, logr, cfg.Attendance)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, tokenSvc, directoryRepo,
		settingRepo, validate, logr, cfg.Attendance)

	registry := realtime.NewRegistry(directoryRepo.ClassTeacherIDs, logr)
	gateway := realtime.NewGateway(registry, authSvc, attendanceSvc, notificationRepo,
		metricsSvc, cfg.Realtime, logr)

	cleanupQueue := jobs.NewQueue("token_cleanup", func(ctx context.Context, job jobs.Job) error {
		result, err := tokenSvc.Cleanup(ctx)
		if err != nil {
			return err
		}
		logr.Info("token cleanup finished",
			zap.Int64("deactivated", result.Deactivated),
			zap.Int("images_removed", result.ImagesRemoved),
			zap.Int("rows_purged", result.RowsPurged))
		return nil
	}, jobs.QueueConfig{Workers: 1, BufferSize: 4, MaxRetries: 2, RetryDelay: time.Minute, Logger: logr})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanupQueue.Start(rootCtx)
	defer cleanupQueue.Stop()
	go runCleanupTicker(rootCtx, cleanupQueue, cfg.Attendance.CleanupInterval)

	router := buildRouter(cfg, logr, authSvc, tokenSvc, attendanceSvc, metricsSvc, gateway, images)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func buildRouter(
	cfg *config.Config,
	logr *zap.Logger,
	authSvc *service.AuthService,
	tokenSvc *service.TokenService,
	attendanceSvc *service.AttendanceService,
	metricsSvc *service.MetricsService,
	gateway *realtime.Gateway,
	images *storage.LocalStorage,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	authHandler := handler.NewAuthHandler(authSvc)
	tokenHandler := handler.NewTokenHandler(tokenSvc, metricsSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc, metricsSvc)
	wsHandler := handler.NewWSHandler(gateway)
	imageHandler := handler.NewImageHandler(images)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))
	r.GET("/ws", wsHandler.Serve)

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/auth/login", authHandler.Login)

		// Scanning is open; token possession is the credential.
		api.POST("/qr-codes/validate", tokenHandler.Validate)
		api.GET("/qr-codes/images/:name", imageHandler.Serve)
		api.POST("/attendance/scan", attendanceHandler.Scan)
		api.POST("/attendance/:id/time-out", attendanceHandler.TimeOut)

		protected := api.Group("")
		protected.Use(middleware.JWT(authSvc))
		{
			protected.POST("/qr-codes", tokenHandler.Issue)
			protected.GET("/qr-codes", tokenHandler.ListActive)
			protected.GET("/qr-codes/stats", tokenHandler.Stats)
			protected.DELETE("/qr-codes/:id", tokenHandler.Deactivate)
			protected.POST("/qr-codes/cleanup", tokenHandler.Cleanup)

			protected.PATCH("/attendance/:id/status", attendanceHandler.UpdateStatus)
			protected.GET("/attendance/student/:id", attendanceHandler.StudentHistory)
			protected.GET("/attendance/class/:id", attendanceHandler.ClassAttendance)
		}
	}

	return r
}

// runCleanupTicker enqueues a cleanup job on a fixed interval. Cleanup is
// idempotent, so an overlapping or retried run is harmless.
func runCleanupTicker(ctx context.Context, queue *jobs.Queue, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = queue.Enqueue(jobs.Job{Type: "token_cleanup", Enqueued: time.Now()})
		}
	}
}
