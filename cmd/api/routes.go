package main

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"pbxlink/internal/auth"
	"pbxlink/internal/calls"
	"pbxlink/internal/channels"
	"pbxlink/internal/config"
	"pbxlink/internal/httpapi"
	"pbxlink/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	cfg         config.Config
	auth        *auth.Manager
	registry    *channels.Registry
	callRepo    calls.Repository
	channelRepo channels.Repository
	redis       *redis.Client
	db          *sql.DB
	log         *slog.Logger
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := httpapi.Handlers{
		Registry:    deps.registry,
		Calls:       deps.callRepo,
		Channels:    deps.channelRepo,
		Redis:       deps.redis,
		MaxInflight: deps.cfg.PBX.MaxInflightPerSystem,
		Log:         deps.log,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Agent boundary: every event-relay agent authenticates with a
	// short-lived token signed by the shared secret.
	agent := r.Group("/agent")
	agent.Use(auth.RequireAgentToken(deps.auth))
	{
		agent.POST("/events", h.IngestEvents)
	}

	// Read API for the CRM frontend. Same token scheme; the frontend
	// proxy signs with the shared secret server-side.
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAgentToken(deps.auth))
	{
		v1.GET("/calls", h.ListCalls)
		v1.GET("/calls/:uniqueid", h.GetCall)
		v1.GET("/channels", h.ListChannels)
	}
}
