package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eb-adutwum/interius/pkg/agent"
	"github.com/eb-adutwum/interius/pkg/models"
	"github.com/eb-adutwum/interius/pkg/orchestrator"
)

// GenerateRequest is the body of the SSE generation endpoint.
type GenerateRequest struct {
	Prompt               string                     `json:"prompt" binding:"required"`
	RuntimeMode          string                     `json:"runtime_mode"`
	StartStage           string                     `json:"start_stage"`
	ArchitectureOverride *models.SystemArchitecture `json:"architecture_override"`
}

// InterfaceRequest is the body of the intent-only routing endpoint.
type InterfaceRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// RouteInterfacePrompt runs the intent router without starting the pipeline.
// Router failures fail open into a pipeline decision so generation keeps
// working when the interface model is down.
func (s *Server) RouteInterfacePrompt(c *gin.Context) {
	var req InterfaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := s.router.Run(c.Request.Context(), req.Prompt)
	if err != nil {
		s.logger.Warn("interface routing failed, returning pipeline fallback", "error", err)
		decision = &agent.InterfaceDecision{
			Intent:                agent.IntentPipelineRequest,
			ShouldTriggerPipeline: true,
			AssistantReply:        "Starting generation pipeline.",
			PipelinePrompt:        req.Prompt,
		}
	}
	c.JSON(http.StatusOK, decision)
}

// Generate starts the generation pipeline for a project and streams progress
// via SSE. The prompt is first routed through the intent agent; conversational
// messages get a chat reply instead of a pipeline run.
func (s *Server) Generate(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
		return
	}

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()

	// Intent routing fails open: the pipeline still runs when the interface
	// model is unavailable.
	routedPrompt := req.Prompt
	decision, err := s.router.Run(ctx, req.Prompt)
	if err != nil {
		s.logger.Warn("interface routing failed, proceeding to pipeline", "error", err)
		c.SSEvent("message", gin.H{
			"status":           "intent_routed",
			"intent":           "fallback_pipeline",
			"trigger_pipeline": true,
			"message":          "Starting generation pipeline.",
		})
		c.Writer.Flush()
	} else if !decision.ShouldTriggerPipeline {
		c.SSEvent("message", gin.H{
			"status":           "chat_reply",
			"intent":           decision.Intent,
			"trigger_pipeline": false,
			"message":          decision.AssistantReply,
		})
		c.SSEvent("message", gin.H{
			"status":           "completed",
			"mode":             "chat_only",
			"trigger_pipeline": false,
		})
		c.Writer.Flush()
		return
	} else {
		if decision.PipelinePrompt != "" {
			routedPrompt = decision.PipelinePrompt
		}
		c.SSEvent("message", gin.H{
			"status":           "intent_routed",
			"intent":           decision.Intent,
			"trigger_pipeline": true,
			"message":          decision.AssistantReply,
		})
		c.Writer.Flush()
	}

	run, err := s.runs.CreateRun(ctx, projectID, routedPrompt)
	if err != nil {
		s.logger.Error("failed to create run", "project_id", projectID, "error", err)
		c.SSEvent("message", gin.H{
			"status":  "error",
			"message": "Failed to create generation run.",
		})
		c.Writer.Flush()
		return
	}

	events := s.pipeline.Run(ctx, projectID, run.ID, routedPrompt, orchestrator.Options{
		RuntimeMode:          req.RuntimeMode,
		StartStage:           req.StartStage,
		ArchitectureOverride: req.ArchitectureOverride,
	})

	// Reads pace the pipeline: each event is written as it is produced, and a
	// client disconnect cancels ctx, which makes the orchestrator close the
	// channel after aborting the run.
	for event := range events {
		c.SSEvent("message", event)
		c.Writer.Flush()
	}
}

// GetRun returns a run with its artifact records.
func (s *Server) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("run_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_id"})
		return
	}

	run, err := s.runs.GetRun(c.Request.Context(), runID, true)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListArtifacts returns a run's artifact records in creation order.
func (s *Server) ListArtifacts(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("run_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_id"})
		return
	}

	artifacts, err := s.runs.ListArtifacts(c.Request.Context(), runID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}

// ListRuns returns a project's runs, newest first.
func (s *Server) ListRuns(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
		return
	}

	runs, err := s.runs.ListRunsForProject(c.Request.Context(), projectID, 0)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
