package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eb-adutwum/interius/pkg/services"
)

// SandboxStatusResponse mirrors the sandbox operation result shape.
type SandboxStatusResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	SwaggerURL string `json:"swagger_url,omitempty"`
}

// DeploySandbox materializes the project's latest generated bundle into a
// fresh sandbox container and waits for it to come up.
func (s *Server) DeploySandbox(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
		return
	}

	code, err := s.runs.LatestBundle(c.Request.Context(), projectID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "No generated code found for this project. Run the generation pipeline first.",
			})
			return
		}
		abortWithServiceError(c, err)
		return
	}

	meta, err := s.sandboxes.Launch(c.Request.Context(), projectID.String(), code)
	if err != nil {
		// A launched-but-not-ready sandbox still reports as deployed; the
		// status endpoint tracks readiness.
		if meta == nil {
			s.logger.Error("sandbox launch failed", "project_id", projectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": fmt.Sprintf("Failed to start sandbox: %v", err),
			})
			return
		}
		s.logger.Warn("sandbox started but not ready yet", "project_id", projectID, "error", err)
	}

	c.JSON(http.StatusOK, SandboxStatusResponse{
		Status:     "deployed",
		Message:    fmt.Sprintf("API deployed to sandbox. %d files written.", len(code.Files)),
		SwaggerURL: s.sandboxes.BaseURL(meta) + "/docs",
	})
}

// SandboxStatus reports whether the project's sandbox is serving an API.
func (s *Server) SandboxStatus(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
		return
	}

	meta := s.sandboxes.Metadata(projectID.String())
	if meta == nil {
		c.JSON(http.StatusOK, SandboxStatusResponse{
			Status:  "stopped",
			Message: "Sandbox is not currently running.",
		})
		return
	}

	if !s.sandboxes.Live(c.Request.Context(), projectID.String()) {
		c.JSON(http.StatusOK, SandboxStatusResponse{
			Status:  "stopped",
			Message: "Sandbox is not currently running.",
		})
		return
	}

	c.JSON(http.StatusOK, SandboxStatusResponse{
		Status:     "running",
		Message:    "Sandbox API is live.",
		SwaggerURL: s.sandboxes.BaseURL(meta) + "/docs",
	})
}

// TeardownSandbox stops the project's sandbox container. Generated files and
// metadata stay on disk for redeploys.
func (s *Server) TeardownSandbox(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
		return
	}

	s.sandboxes.Teardown(c.Request.Context(), projectID.String())
	c.JSON(http.StatusOK, SandboxStatusResponse{
		Status:  "stopped",
		Message: "Sandbox stopped.",
	})
}
