// Package main provides the entry point for the practice engine worker service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"prepapp/internal/config"
	"prepapp/internal/database"
	"prepapp/internal/observability"
	"prepapp/internal/services"
	contextutils "prepapp/internal/utils"
	"prepapp/internal/version"
	"prepapp/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// fatalIfErr logs the error with context and panics with a consistent message
func fatalIfErr(ctx context.Context, logger *observability.Logger, msg string, err error, fields map[string]interface{}) {
	logger.Error(ctx, msg, err, fields)
	panic(msg + ": " + err.Error())
}

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Setup observability (tracing/metrics/logging)
	tp, mp, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "prep-worker")
	if err != nil {
		panic("Failed to initialize observability: " + err.Error())
	}
	defer func() {
		if tp != nil {
			if shutdowner, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
				if err := shutdowner.Shutdown(context.TODO()); err != nil {
					logger.Warn(ctx, "Error shutting down tracer provider", map[string]interface{}{"error": err.Error(), "provider": "tracer"})
				}
			}
		}
		if mp != nil {
			if err := mp.Shutdown(context.TODO()); err != nil {
				logger.Warn(ctx, "Error shutting down meter provider", map[string]interface{}{"error": err.Error(), "provider": "meter"})
			}
		}
	}()

	logger.Info(ctx, "Starting practice engine worker service", map[string]interface{}{
		"port":     cfg.Server.WorkerPort,
		"logLevel": cfg.Server.LogLevel,
		"debug":    cfg.Server.Debug,
	})

	// Initialize database manager with logger
	dbManager := database.NewManager(logger)

	db, err := dbManager.InitDBWithConfig(cfg.Database)
	if err != nil {
		fatalIfErr(ctx, logger, "Failed to initialize database", err, nil)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn(ctx, "Warning: failed to close database", map[string]interface{}{"error": err.Error()})
		}
	}()

	// Initialize services
	masteryService := services.NewMasteryService(db, logger)

	var reader services.MasteryReader = masteryService
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn(ctx, "Redis unreachable, running without mastery cache", map[string]interface{}{
				"addr":  cfg.Redis.Addr,
				"error": err.Error(),
			})
		} else {
			ttl := cfg.Redis.TTL
			if ttl <= 0 {
				ttl = config.DefaultMasteryCacheTTL
			}
			reader = services.NewCachedMasteryReader(masteryService, redisClient, ttl, logger)
			logger.Info(ctx, "Mastery snapshot cache enabled", map[string]interface{}{
				"addr": cfg.Redis.Addr,
				"ttl":  ttl.String(),
			})
		}
	}

	gradeService := services.NewGradeService(reader, cfg, logger)
	selector := services.NewQuestionSelector(reader, cfg, logger)
	sessionService := services.NewSessionService(reader, masteryService, selector, gradeService, cfg, logger)

	// Initialize worker with the observability logger
	workerInstance := worker.NewWorker(reader, sessionService, cfg.Worker.Instance, cfg, logger)
	go workerInstance.Start(ctx)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// HTTP request logging through the observability logger
	router.Use(func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		fields := map[string]interface{}{
			"http.method":      c.Request.Method,
			"http.path":        c.Request.URL.Path,
			"http.status_code": statusCode,
			"http.latency_ms":  latency.Milliseconds(),
			"http.client_ip":   c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields["http.error"] = c.Errors.String()
		}

		if statusCode >= 500 {
			logger.Error(c.Request.Context(), "HTTP request failed", nil, fields)
		} else if statusCode >= 400 {
			logger.Warn(c.Request.Context(), "HTTP request warning", fields)
		} else {
			logger.Info(c.Request.Context(), "HTTP request", fields)
		}
	})

	// OpenTelemetry middleware for HTTP tracing with automatic error attributes
	router.Use(observability.GinMiddlewareWithErrorHandling("prep-worker"))

	v1 := router.Group("/v1")
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		v1.GET("/version", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"service":   "worker",
				"version":   version.Version,
				"commit":    version.Commit,
				"buildTime": version.BuildTime,
			})
		})

		workerGroup := v1.Group("/worker")
		{
			workerGroup.GET("/status", func(c *gin.Context) {
				c.JSON(http.StatusOK, workerInstance.GetStatus())
			})
			workerGroup.GET("/history", func(c *gin.Context) {
				c.JSON(http.StatusOK, workerInstance.GetHistory())
			})
			workerGroup.GET("/logs", func(c *gin.Context) {
				c.JSON(http.StatusOK, workerInstance.GetActivityLogs())
			})
			workerGroup.POST("/pause", func(c *gin.Context) {
				workerInstance.Pause(c.Request.Context())
				c.JSON(http.StatusOK, gin.H{"status": "paused"})
			})
			workerGroup.POST("/resume", func(c *gin.Context) {
				workerInstance.Resume(c.Request.Context())
				c.JSON(http.StatusOK, gin.H{"status": "resumed"})
			})
			workerGroup.POST("/trigger", func(c *gin.Context) {
				workerInstance.TriggerManualRun()
				c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
			})
		}

		// On-demand generation for a single student
		v1.POST("/students/:id/sessions", func(c *gin.Context) {
			studentID, convErr := strconv.Atoi(c.Param("id"))
			if convErr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
				return
			}
			if genErr := sessionService.GenerateForStudent(c.Request.Context(), studentID); genErr != nil {
				if contextutils.IsError(genErr, contextutils.ErrStudentNotFound) {
					c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
					return
				}
				_ = c.Error(genErr)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "session generation failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "generated"})
		})
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.WorkerPort,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info(ctx, "Worker server starting", map[string]interface{}{"port": cfg.Server.WorkerPort})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatalIfErr(ctx, logger, "Failed to start worker server", err, map[string]interface{}{"port": cfg.Server.WorkerPort})
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "Worker server shutting down", map[string]interface{}{"service": "worker"})

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, config.WorkerShutdownTimeout)
	defer shutdownCancel()

	// Shutdown the worker first
	if err := workerInstance.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Warning: failed to shutdown worker", map[string]interface{}{"error": err.Error(), "service": "worker"})
	}

	// Then shutdown the server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fatalIfErr(ctx, logger, "Worker server forced to shutdown", err, map[string]interface{}{"service": "worker"})
	}

	logger.Info(ctx, "Worker server exited", map[string]interface{}{"service": "worker"})
}
