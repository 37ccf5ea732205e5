package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/eb-adutwum/interius/pkg/agent/prompt"
	"github.com/eb-adutwum/interius/pkg/llm"
	"github.com/eb-adutwum/interius/pkg/mermaid"
	"github.com/eb-adutwum/interius/pkg/models"
)

// ArchitectureAgent turns a ProjectCharter into a SystemArchitecture. The
// mermaid diagram is normalized before the artifact leaves the agent, so
// downstream consumers always see a renderable flowchart.
type ArchitectureAgent struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewArchitectureAgent(client llm.Client, logger *slog.Logger) *ArchitectureAgent {
	return &ArchitectureAgent{llm: client, logger: componentLogger(logger, "architecture-agent")}
}

func (a *ArchitectureAgent) Run(ctx context.Context, charter *models.ProjectCharter) (*models.SystemArchitecture, error) {
	charterJSON, err := json.MarshalIndent(charter, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal charter: %w", err)
	}

	var architecture models.SystemArchitecture
	userPrompt := fmt.Sprintf("Project Charter:\n%s", charterJSON)
	if err := a.llm.GenerateStructured(ctx, prompt.Architecture, userPrompt, architectureSchema, &architecture); err != nil {
		return nil, fmt.Errorf("architecture agent: %w", err)
	}

	architecture.MermaidDiagram = mermaid.Normalize(architecture.MermaidDiagram)
	a.logger.Info("architecture designed", "components", len(architecture.Components))
	return &architecture, nil
}
