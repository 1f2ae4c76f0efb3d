// Package api exposes the HTTP surface of the content service: job
// submission and lifecycle, the SSE progress stream, the voiceover and
// video sub-run endpoints, billing webhooks and health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/contentforge/contentforge/pkg/config"
	"github.com/contentforge/contentforge/pkg/database"
	"github.com/contentforge/contentforge/pkg/events"
	"github.com/contentforge/contentforge/pkg/providers"
	"github.com/contentforge/contentforge/pkg/runner"
	"github.com/contentforge/contentforge/pkg/services"
	"github.com/contentforge/contentforge/pkg/storage"
)

// Deps wires the server's collaborators. Constructed once at startup by the
// composition root.
type Deps struct {
	Config    *config.Config
	DB        *sqlx.DB
	Jobs      *services.JobService
	Plans     *services.PlanService
	Orgs      *services.OrgService
	Billing   *services.BillingService
	Audit     *services.AuditService
	Events    events.Store
	Runner    *runner.Runner
	Registry  *runner.Registry
	Gateway   providers.BillingGateway
	Moderator providers.Moderator
	Storage   storage.BlobStorage
	Auth      AuthProvider
}

// Server is the HTTP API server.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestIDMiddleware(), loggingMiddleware())

	r.GET("/healthz", s.Health)
	r.POST("/v1/billing/webhook/:provider", s.BillingWebhook)

	v1 := r.Group("/v1/content", authMiddleware(s.deps.Auth))
	{
		v1.POST("/generate", s.GenerateContent)
		v1.GET("/jobs", s.ListJobs)
		v1.GET("/jobs/:id", s.GetJob)
		v1.GET("/jobs/:id/stream", s.StreamJob)
		v1.POST("/jobs/:id/cancel", s.CancelJob)
		v1.POST("/voiceover", s.CreateVoiceover)
		v1.POST("/video/render", s.CreateVideoRender)
	}
	return r
}

// Health reports liveness plus database health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.deps.DB.DB)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
	})
}
