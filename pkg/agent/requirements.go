// Package agent implements the pipeline's LLM-backed stages: requirements
// extraction, architecture design, code generation, review, runtime repair,
// and the chat intent router. Every agent takes its LLM client by interface
// so tests can substitute a fake.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eb-adutwum/interius/pkg/llm"
	"github.com/eb-adutwum/interius/pkg/models"
	"github.com/eb-adutwum/interius/pkg/agent/prompt"
)

// RequirementsAgent distills a user prompt into a structured ProjectCharter.
type RequirementsAgent struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewRequirementsAgent(client llm.Client, logger *slog.Logger) *RequirementsAgent {
	return &RequirementsAgent{llm: client, logger: componentLogger(logger, "requirements-agent")}
}

// Run extracts the charter and rejects empty extractions: a charter without
// at least one entity and one endpoint cannot drive the pipeline.
func (a *RequirementsAgent) Run(ctx context.Context, input string) (*models.ProjectCharter, error) {
	var charter models.ProjectCharter
	if err := a.llm.GenerateStructured(ctx, prompt.Requirements, input, charterSchema, &charter); err != nil {
		return nil, fmt.Errorf("requirements agent: %w", err)
	}
	if len(charter.Entities) == 0 {
		return nil, fmt.Errorf("requirements agent failed to extract any entities")
	}
	if len(charter.Endpoints) == 0 {
		return nil, fmt.Errorf("requirements agent failed to extract any endpoints")
	}
	a.logger.Info("charter extracted",
		"project", charter.ProjectName,
		"entities", len(charter.Entities),
		"endpoints", len(charter.Endpoints))
	return &charter, nil
}

func componentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}
