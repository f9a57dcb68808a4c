package main

import (
	"github.com/fleetgate/fleetgate/internal/config"
	"github.com/fleetgate/fleetgate/internal/handlers"
	"github.com/fleetgate/fleetgate/internal/models"
	"github.com/fleetgate/fleetgate/internal/services"
	"github.com/fleetgate/fleetgate/internal/utils"
	"github.com/fleetgate/fleetgate/pkg/logger"
	"github.com/robfig/cron/v3"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg *config.Config

	rateLimiter *services.RateLimitService
	reportQueue services.ReportQueue
	worker      *services.Worker
	logCleanup  *cron.Cron

	deviceService *services.DeviceService

	authHandler      *handlers.AuthHandler
	tokenHandler     *handlers.TokenHandler
	deviceHandler    *handlers.DeviceHandler
	commandHandler   *handlers.CommandHandler
	agentHandler     *handlers.AgentHandler
	reportHandler    *handlers.ReportHandler
	systemLogHandler *handlers.SystemLogHandler
	healthHandler    *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	db := models.GetDB()

	// Initialize system logger and its retention scheduler
	services.InitSystemLogger(db)
	logCleanup := services.StartLogCleanupScheduler(db, cfg.Policy.LogRetentionDays)

	// Core services
	rateLimiter := services.NewRateLimitService(&cfg.RateLimit, &cfg.Redis)
	enrollTokenService := services.NewEnrollTokenService(db, &cfg.Policy)
	deviceService := services.NewDeviceService(db, &cfg.Policy, enrollTokenService)
	commandService := services.NewCommandService(db, &cfg.Policy)

	// Report queue (uses Redis if enabled, otherwise sync mode)
	reportQueue := services.InitReportQueue(cfg)
	reportService := services.NewReportService(db, &cfg.Policy, commandService, reportQueue)
	if syncQueue, ok := reportQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(reportService.ProcessReportTask)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.NewWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(reportService.ProcessReportTask)
			worker.Start()
		}
	}

	authService := services.NewAuthService(db, &cfg.JWT, &cfg.Policy)

	return &appServices{
		cfg:              cfg,
		rateLimiter:      rateLimiter,
		reportQueue:      reportQueue,
		worker:           worker,
		logCleanup:       logCleanup,
		deviceService:    deviceService,
		authHandler:      handlers.NewAuthHandler(authService),
		tokenHandler:     handlers.NewTokenHandler(enrollTokenService),
		deviceHandler:    handlers.NewDeviceHandler(deviceService),
		commandHandler:   handlers.NewCommandHandler(commandService),
		agentHandler:     handlers.NewAgentHandler(deviceService, commandService, reportService),
		reportHandler:    handlers.NewReportHandler(reportService),
		systemLogHandler: handlers.NewSystemLogHandler(services.NewSystemLogService(db)),
		healthHandler:    handlers.NewHealthHandler(),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	if s.logCleanup != nil {
		s.logCleanup.Stop()
	}
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.reportQueue != nil {
		s.reportQueue.Close()
	}
	logger.Info().Msg("All services stopped")
}
