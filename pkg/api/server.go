// Package api exposes the HTTP surface: the SSE generation stream, run and
// artifact queries, and sandbox deployment operations.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eb-adutwum/interius/pkg/agent"
	"github.com/eb-adutwum/interius/pkg/database"
	"github.com/eb-adutwum/interius/pkg/models"
	"github.com/eb-adutwum/interius/pkg/orchestrator"
	"github.com/eb-adutwum/interius/pkg/sandbox"
)

// PipelineRunner starts a generation run and streams its events.
type PipelineRunner interface {
	Run(ctx context.Context, projectID, runID uuid.UUID, prompt string, opts orchestrator.Options) <-chan orchestrator.Event
}

// IntentRouter decides whether a chat message triggers the pipeline.
type IntentRouter interface {
	Run(ctx context.Context, input string) (*agent.InterfaceDecision, error)
}

// RunStore is the persistence surface the handlers consume.
type RunStore interface {
	CreateRun(ctx context.Context, projectID uuid.UUID, prompt string) (*models.RunRecord, error)
	GetRun(ctx context.Context, runID uuid.UUID, withArtifacts bool) (*models.RunRecord, error)
	ListArtifacts(ctx context.Context, runID uuid.UUID) ([]models.ArtifactRecord, error)
	ListRunsForProject(ctx context.Context, projectID uuid.UUID, limit int) ([]models.RunRecord, error)
	LatestBundle(ctx context.Context, projectID uuid.UUID) (models.GeneratedCode, error)
}

// SandboxManager is the sandbox surface the deploy/status handlers consume.
type SandboxManager interface {
	Launch(ctx context.Context, projectID string, code models.GeneratedCode) (*sandbox.RuntimeMetadata, error)
	BaseURL(meta *sandbox.RuntimeMetadata) string
	Live(ctx context.Context, projectID string) bool
	Logs(ctx context.Context, projectID string) string
	Teardown(ctx context.Context, projectID string)
	Metadata(projectID string) *sandbox.RuntimeMetadata
}

// Server wires the pipeline, persistence, and sandbox into gin handlers.
type Server struct {
	db        *database.Client
	runs      RunStore
	pipeline  PipelineRunner
	router    IntentRouter
	sandboxes SandboxManager
	logger    *slog.Logger

	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(db *database.Client, runs RunStore, pipeline PipelineRunner, router IntentRouter, sandboxes SandboxManager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		db:        db,
		runs:      runs,
		pipeline:  pipeline,
		router:    router,
		sandboxes: sandboxes,
		logger:    logger.With("component", "api"),
	}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(s.logger))
	engine.Use(securityHeaders())

	engine.GET("/health", s.Health)

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/interface", s.RouteInterfacePrompt)

		v1.POST("/projects/:project_id/generate", s.Generate)
		v1.GET("/projects/:project_id/runs", s.ListRuns)
		v1.GET("/runs/:run_id", s.GetRun)
		v1.GET("/runs/:run_id/artifacts", s.ListArtifacts)

		v1.POST("/sandbox/deploy/:project_id", s.DeploySandbox)
		v1.GET("/sandbox/status/:project_id", s.SandboxStatus)
		v1.DELETE("/sandbox/:project_id", s.TeardownSandbox)
	}

	return engine
}

// Start runs the HTTP server until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Health reports service and database health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
	})
}
