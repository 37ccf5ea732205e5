package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/eb-adutwum/interius/pkg/models"
)

// RunStore persists run status and per-stage artifacts. pkg/services
// provides the Postgres-backed implementation.
type RunStore interface {
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, status string) error
	CreateArtifactRecord(ctx context.Context, runID uuid.UUID, stage string, content any) error
	// StoreBundle offloads a code bundle to the bundle store and returns its
	// handle; artifact records reference the handle instead of inlining the
	// files.
	StoreBundle(ctx context.Context, runID uuid.UUID, stage string, files []models.CodeFile, dependencies []string) (string, error)
}

// bundleSummary replaces an inline code bundle in a persisted artifact.
type bundleSummary struct {
	BundleRef    string   `json:"bundle_ref"`
	FilesCount   int      `json:"files_count"`
	Paths        []string `json:"paths"`
	Dependencies []string `json:"dependencies"`
}

// Completion is the aggregate payload of the terminal completed event: the
// reviewer's verdict, the released bundle, and the repair outcome.
type Completion struct {
	Approved          bool                      `json:"approved"`
	Issues            []models.Issue            `json:"issues"`
	Suggestions       []string                  `json:"suggestions"`
	SecurityScore     int                       `json:"security_score"`
	AffectedFiles     []string                  `json:"affected_files"`
	PatchRequests     []models.FilePatchRequest `json:"patch_requests"`
	FinalCode         []models.CodeFile         `json:"final_code"`
	Dependencies      []string                  `json:"dependencies"`
	RuntimeMode       string                    `json:"runtime_mode,omitempty"`
	Repair            *models.RepairReport      `json:"repair,omitempty"`
	ArtifactsReleased bool                      `json:"artifacts_released,omitempty"`
}

func (c *Completion) addSuggestion(suggestion string) {
	for _, existing := range c.Suggestions {
		if existing == suggestion {
			return
		}
	}
	c.Suggestions = append(c.Suggestions, suggestion)
}

// compactReviewArtifact is the persisted form of a review-shaped artifact:
// the inline final code is offloaded and summarized.
type compactReviewArtifact struct {
	Completion
	BundleRef           string   `json:"bundle_ref,omitempty"`
	FinalCodeFilesCount int      `json:"final_code_files_count,omitempty"`
	Paths               []string `json:"paths,omitempty"`
}

// compactRepairArtifact mirrors compactReviewArtifact for repair reports.
type compactRepairArtifact struct {
	models.RepairReport
	BundleRef           string   `json:"bundle_ref,omitempty"`
	FinalCodeFilesCount int      `json:"final_code_files_count,omitempty"`
	Paths               []string `json:"paths,omitempty"`
	Dependencies        []string `json:"dependencies,omitempty"`
}

func (p *Pipeline) saveArtifact(ctx context.Context, runID uuid.UUID, stage string, content any) error {
	if err := p.store.CreateArtifactRecord(ctx, runID, stage, content); err != nil {
		return fmt.Errorf("failed to persist %s artifact: %w", stage, err)
	}
	return nil
}

// saveCodeArtifact persists a generated bundle as a handle plus summary.
func (p *Pipeline) saveCodeArtifact(ctx context.Context, runID uuid.UUID, stage string, code models.GeneratedCode) error {
	ref, err := p.store.StoreBundle(ctx, runID, stage, code.Files, code.Dependencies)
	if err != nil {
		return fmt.Errorf("failed to store %s bundle: %w", stage, err)
	}
	return p.saveArtifact(ctx, runID, stage, bundleSummary{
		BundleRef:    ref,
		FilesCount:   len(code.Files),
		Paths:        code.Paths(),
		Dependencies: code.Dependencies,
	})
}

// saveReviewArtifact persists a review-shaped artifact, offloading its final
// code when present.
func (p *Pipeline) saveReviewArtifact(ctx context.Context, runID uuid.UUID, stage string, completion Completion) error {
	compact := compactReviewArtifact{Completion: completion}
	if len(completion.FinalCode) > 0 {
		ref, err := p.store.StoreBundle(ctx, runID, stage, completion.FinalCode, completion.Dependencies)
		if err != nil {
			return fmt.Errorf("failed to store %s bundle: %w", stage, err)
		}
		compact.BundleRef = ref
		compact.FinalCodeFilesCount = len(completion.FinalCode)
		compact.Paths = pathsOf(completion.FinalCode)
		compact.FinalCode = []models.CodeFile{}
	}
	return p.saveArtifact(ctx, runID, stage, compact)
}

func (p *Pipeline) saveRepairArtifact(ctx context.Context, runID uuid.UUID, stage string, report models.RepairReport, dependencies []string) error {
	compact := compactRepairArtifact{RepairReport: report, Dependencies: dependencies}
	if len(report.FinalCode) > 0 {
		ref, err := p.store.StoreBundle(ctx, runID, stage, report.FinalCode, dependencies)
		if err != nil {
			return fmt.Errorf("failed to store %s bundle: %w", stage, err)
		}
		compact.BundleRef = ref
		compact.FinalCodeFilesCount = len(report.FinalCode)
		compact.Paths = pathsOf(report.FinalCode)
		compact.FinalCode = []models.CodeFile{}
	}
	return p.saveArtifact(ctx, runID, stage, compact)
}

// updateStatusSafely records the run status; persistence failures are logged
// and never interrupt the pipeline.
func (p *Pipeline) updateStatusSafely(ctx context.Context, runID uuid.UUID, status string) {
	if err := p.store.UpdateRunStatus(ctx, runID, status); err != nil {
		p.logger.Warn("failed to update run status", "run_id", runID, "status", status, "error", err)
	}
}

func pathsOf(files []models.CodeFile) []string {
	paths := make([]string, 0, len(files))
	for _, file := range files {
		paths = append(paths, file.Path)
	}
	return paths
}
