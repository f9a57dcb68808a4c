package main

import (
	"github.com/fleetgate/fleetgate/internal/middleware"
	"github.com/fleetgate/fleetgate/pkg/logger"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.CORS.Origins))

	// Coarse per-IP limiter over the whole API
	apiLimiter := middleware.NewRateLimiter(50, 100)
	r.Use(apiLimiter.Middleware())

	// Health check
	r.GET("/health", svc.healthHandler.CheckHealth)

	// API routes
	api := r.Group("/api")
	{
		api.GET("/health", svc.healthHandler.CheckHealth)

		// Auth routes (public, scope rate limited)
		auth := api.Group("/auth")
		{
			auth.POST("/register",
				middleware.ScopeLimit(svc.rateLimiter, "auth:register", middleware.ByClientIP),
				svc.authHandler.Register)
			auth.POST("/login",
				middleware.ScopeLimit(svc.rateLimiter, "auth:login", middleware.ByClientIP),
				svc.authHandler.Login)
			auth.POST("/refresh",
				middleware.ScopeLimit(svc.rateLimiter, "auth:login", middleware.ByClientIP),
				svc.authHandler.Refresh)
		}

		// Agent enrollment (public, bearer = enrollment token)
		api.POST("/agent/enroll",
			middleware.ScopeLimit(svc.rateLimiter, "agent:enroll", middleware.ByClientIP),
			svc.agentHandler.Enroll)

		// Agent routes (device token auth)
		agent := api.Group("/agent")
		agent.Use(middleware.DeviceAuthRequired(svc.deviceService))
		agent.Use(middleware.ScopeLimit(svc.rateLimiter, "agent:api", middleware.ByDevice))
		{
			agent.GET("/commands/next", svc.agentHandler.NextCommand)
			agent.POST("/commands/:id/status", svc.agentHandler.UpdateCommandStatus)
			agent.POST("/reports", svc.agentHandler.UploadReport)
			agent.POST("/heartbeat", svc.agentHandler.Heartbeat)
			agent.GET("/settings", svc.agentHandler.GetSettings)
		}

		// Operator routes (JWT auth)
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		protected.Use(middleware.AuditLog())
		{
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)

			// Enrollment tokens
			protected.POST("/tokens/enroll", svc.tokenHandler.Issue)
			protected.POST("/tokens/enroll/status", svc.tokenHandler.Status)

			// Devices
			protected.GET("/devices", svc.deviceHandler.List)
			protected.GET("/devices/:id", svc.deviceHandler.Get)
			protected.POST("/devices/:id/revoke", svc.deviceHandler.Revoke)
			protected.PUT("/devices/:id/settings", svc.deviceHandler.UpdateSettings)
			protected.DELETE("/devices/:id", svc.deviceHandler.Delete)

			// Commands
			protected.POST("/devices/:id/commands", svc.commandHandler.Create)
			protected.GET("/devices/:id/commands", svc.commandHandler.List)
			protected.GET("/commands/:id", svc.commandHandler.Get)

			// Reports
			protected.GET("/reports/:id", svc.reportHandler.Get)

			// System logs
			protected.GET("/system-logs", svc.systemLogHandler.List)
		}
	}
}
