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

	_ "github.com/parnia-edu/parnia-api/api/swagger"
	"github.com/parnia-edu/parnia-api/internal/authz"
	"github.com/parnia-edu/parnia-api/internal/handler"
	"github.com/parnia-edu/parnia-api/internal/middleware"
	"github.com/parnia-edu/parnia-api/internal/repository"
	"github.com/parnia-edu/parnia-api/internal/service"
	"github.com/parnia-edu/parnia-api/pkg/cache"
	"github.com/parnia-edu/parnia-api/pkg/config"
	"github.com/parnia-edu/parnia-api/pkg/database"
	"github.com/parnia-edu/parnia-api/pkg/export"
	"github.com/parnia-edu/parnia-api/pkg/jobs"
	"github.com/parnia-edu/parnia-api/pkg/logger"
	corsmiddleware "github.com/parnia-edu/parnia-api/pkg/middleware/cors"
	reqidmiddleware "github.com/parnia-edu/parnia-api/pkg/middleware/requestid"
	"github.com/parnia-edu/parnia-api/pkg/storage"
)

// @title Parnia API
// @version 1.0.0
// @description Course catalog, enrollment and grading backend
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, course cache disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	termRepo := repository.NewTermRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	courseLogRepo := repository.NewCourseLogRepository(db)
	complainRepo := repository.NewComplainRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, metricsSvc, logr)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "parnia-api",
	})
	userSvc := service.NewUserService(userRepo, validate, logr)

	var courseSvc *service.CourseService
	if cfg.Cache.Enabled {
		courseSvc = service.NewCourseService(courseRepo, cacheRepo, cfg.Cache.CacheTTL, validate, logr)
	} else {
		courseSvc = service.NewCourseService(courseRepo, nil, cfg.Cache.CacheTTL, validate, logr)
	}
	termSvc := service.NewTermService(termRepo, validate, logr)
	sectionSvc := service.NewSectionService(sectionRepo, courseRepo, termRepo, userRepo, validate, logr)
	courseLogSvc := service.NewCourseLogService(courseLogRepo, sectionRepo, userRepo, cfg.Enrollment.MaxTermCredits, metricsSvc, validate, logr)
	complainSvc := service.NewComplainService(complainRepo, sectionRepo, validate, logr)

	var reportSvc *service.ReportService
	var reportQueue *jobs.Queue
	if cfg.Reports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to prepare report storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		reportRepo := repository.NewReportRepository(db)
		exportSvc := service.NewExportService(courseLogRepo, store, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Reports.SignedURLTTL,
		}, logr, export.NewCSVExporter(), export.NewPDFExporter())

		worker := service.NewReportWorker(reportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
		reportQueue = jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
		})
		reportSvc = service.NewReportService(reportRepo, sectionRepo, reportQueue, exportSvc, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: cfg.Reports.CleanupInterval,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})

		reportQueue.Start(ctx)
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	termHandler := handler.NewTermHandler(termSvc)
	sectionHandler := handler.NewSectionHandler(sectionSvc)
	courseLogHandler := handler.NewCourseLogHandler(courseLogSvc)
	complainHandler := handler.NewComplainHandler(complainSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	users := protected.Group("/users", middleware.Require("privileged", authz.Privileged, metricsSvc))
	{
		users.GET("", userHandler.List)
		users.POST("", userHandler.Create)
		users.GET("/:public_id", userHandler.Get)
		users.PUT("/:public_id", userHandler.Update)
		users.DELETE("/:public_id", userHandler.Delete)
	}

	courses := protected.Group("/courses", middleware.Require("privileged", authz.Privileged, metricsSvc))
	{
		courses.GET("", courseHandler.List)
		courses.POST("", courseHandler.Create)
		courses.GET("/:public_id", courseHandler.Get)
		courses.PUT("/:public_id", courseHandler.Update)
		courses.DELETE("/:public_id", courseHandler.Delete)
	}

	terms := protected.Group("/terms", middleware.Require("privileged", authz.Privileged, metricsSvc))
	{
		terms.GET("", termHandler.List)
		terms.POST("", termHandler.Create)
		terms.GET("/:public_id", termHandler.Get)
		terms.PUT("/:public_id", termHandler.Update)
		terms.DELETE("/:public_id", termHandler.Delete)
	}

	sections := protected.Group("/sections", middleware.Require("privileged", authz.Privileged, metricsSvc))
	{
		sections.GET("", sectionHandler.List)
		sections.POST("", sectionHandler.Create)
		sections.GET("/:public_id", sectionHandler.Get)
		sections.PUT("/:public_id", sectionHandler.Update)
		sections.DELETE("/:public_id", sectionHandler.Delete)
	}

	courseLogs := protected.Group("/courselogs")
	{
		studentWritable := middleware.Require("student_writable", authz.StudentWritable, metricsSvc)
		grading := middleware.Require("grading", authz.Grading, metricsSvc)

		courseLogs.GET("", studentWritable, courseLogHandler.List)
		courseLogs.POST("", studentWritable, courseLogHandler.Enroll)
		courseLogs.GET("/:public_id", studentWritable, courseLogHandler.Get)
		courseLogs.PATCH("/grades", grading, courseLogHandler.UpdateGrades)
		courseLogs.POST("/approve", grading, courseLogHandler.Approve)
		courseLogs.DELETE("/:public_id", middleware.Require("privileged", authz.Privileged, metricsSvc), courseLogHandler.Delete)
	}

	complains := protected.Group("/complains")
	{
		studentWritable := middleware.Require("student_writable", authz.StudentWritable, metricsSvc)
		instructorOnly := middleware.Require("instructor_read", authz.InstructorRead, metricsSvc)

		complains.GET("", studentWritable, complainHandler.ListOwn)
		complains.POST("", studentWritable, complainHandler.Create)
		complains.GET("/section/:public_id", instructorOnly, complainHandler.ListForSection)
		complains.POST("/section/:public_id/seen", instructorOnly, complainHandler.MarkSeen)
		complains.GET("/:public_id", studentWritable, complainHandler.Get)
		complains.DELETE("/:public_id", studentWritable, complainHandler.Delete)
	}

	if reportSvc != nil {
		reportHandler := handler.NewReportHandler(reportSvc)
		reports := protected.Group("/reports", middleware.Require("student_writable", authz.StudentWritable, metricsSvc))
		{
			reports.GET("", reportHandler.ListOwn)
			reports.POST("", reportHandler.Create)
			reports.GET("/:id", reportHandler.Status)
		}
		protected.GET("/export/:token", reportHandler.Download)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
	if reportQueue != nil {
		reportQueue.Stop()
	}
	logr.Sugar().Infow("server stopped")
}
