package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// PromptCharBudget caps the prompt text persisted on a run record.
const PromptCharBudget = 2000

// RunRecord is one generation run scoped to a project. The persisted prompt
// is truncated to PromptCharBudget characters.
type RunRecord struct {
	ID        uuid.UUID        `json:"id"`
	ProjectID uuid.UUID        `json:"project_id"`
	Status    string           `json:"status"`
	Prompt    string           `json:"prompt"`
	CreatedAt time.Time        `json:"created_at"`
	Artifacts []ArtifactRecord `json:"artifacts,omitempty"`
}

// ArtifactRecord is one immutable stage artifact persisted under a run.
// Content is the stage artifact's JSON form; large code bundles are offloaded
// to the bundle store and referenced by handle instead of stored inline.
type ArtifactRecord struct {
	ID        int64           `json:"id"`
	RunID     uuid.UUID       `json:"run_id"`
	Stage     string          `json:"stage"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// TruncatePrompt applies the run-record prompt budget.
func TruncatePrompt(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= PromptCharBudget {
		return prompt
	}
	return string(runes[:PromptCharBudget])
}
