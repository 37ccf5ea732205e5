// Package services implements run and artifact persistence over PostgreSQL
// plus the content-addressed bundle store referenced by stage artifacts.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eb-adutwum/interius/pkg/database"
	"github.com/eb-adutwum/interius/pkg/models"
)

// queryTimeout bounds individual statements issued by the service.
const queryTimeout = 10 * time.Second

var validRunStatuses = map[string]bool{
	models.RunStatusPending:   true,
	models.RunStatusRunning:   true,
	models.RunStatusCompleted: true,
	models.RunStatusFailed:    true,
}

// RunService manages generation run lifecycle and per-stage artifact records.
// It satisfies the orchestrator's persistence contract.
type RunService struct {
	db      *sql.DB
	bundles *BundleStore
	logger  *slog.Logger
}

// NewRunService creates a new RunService.
func NewRunService(client *database.Client, bundles *BundleStore, logger *slog.Logger) *RunService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunService{db: client.DB(), bundles: bundles, logger: logger}
}

// Bundles exposes the bundle store for handle resolution.
func (s *RunService) Bundles() *BundleStore {
	return s.bundles
}

// CreateRun records a new pending run for a project. The persisted prompt is
// truncated to the run-record prompt budget.
func (s *RunService) CreateRun(httpCtx context.Context, projectID uuid.UUID, prompt string) (*models.RunRecord, error) {
	if projectID == uuid.Nil {
		return nil, NewValidationError("project_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	run := &models.RunRecord{
		ID:        uuid.New(),
		ProjectID: projectID,
		Status:    models.RunStatusPending,
		Prompt:    models.TruncatePrompt(prompt),
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO generation_runs (id, project_id, status, prompt)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		run.ID, run.ProjectID, run.Status, run.Prompt,
	).Scan(&run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// UpdateRunStatus transitions a run to the given status.
func (s *RunService) UpdateRunStatus(httpCtx context.Context, runID uuid.UUID, status string) error {
	if !validRunStatuses[status] {
		return NewValidationError("status", fmt.Sprintf("invalid: %q", status))
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		`UPDATE generation_runs SET status = $2 WHERE id = $1`, runID, status)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return nil
}

// CreateArtifactRecord appends an immutable stage artifact under a run.
func (s *RunService) CreateArtifactRecord(httpCtx context.Context, runID uuid.UUID, stage string, content any) error {
	if stage == "" {
		return NewValidationError("stage", "required")
	}

	encoded, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode %s artifact: %w", stage, err)
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifact_records (run_id, stage, content) VALUES ($1, $2, $3)`,
		runID, stage, encoded)
	if err != nil {
		return fmt.Errorf("failed to create %s artifact: %w", stage, err)
	}
	return nil
}

// StoreBundle offloads a code bundle to the content-addressed store and
// returns its handle.
func (s *RunService) StoreBundle(_ context.Context, runID uuid.UUID, stage string, files []models.CodeFile, dependencies []string) (string, error) {
	ref, err := s.bundles.Store(files, dependencies)
	if err != nil {
		return "", fmt.Errorf("failed to store %s bundle: %w", stage, err)
	}
	s.logger.Debug("stored code bundle",
		"run_id", runID, "stage", stage, "bundle_ref", ref, "files", len(files))
	return ref, nil
}

// LoadBundle resolves a bundle handle back to files and dependencies.
func (s *RunService) LoadBundle(_ context.Context, ref string) (models.GeneratedCode, error) {
	return s.bundles.Load(ref)
}

// GetRun fetches a run, optionally with its artifact records in creation order.
func (s *RunService) GetRun(httpCtx context.Context, runID uuid.UUID, withArtifacts bool) (*models.RunRecord, error) {
	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	run := &models.RunRecord{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, status, prompt, created_at FROM generation_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.ProjectID, &run.Status, &run.Prompt, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if withArtifacts {
		artifacts, err := s.ListArtifacts(httpCtx, runID)
		if err != nil {
			return nil, err
		}
		run.Artifacts = artifacts
	}

	return run, nil
}

// ListArtifacts returns a run's artifact records in creation order.
func (s *RunService) ListArtifacts(httpCtx context.Context, runID uuid.UUID) ([]models.ArtifactRecord, error) {
	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, content, created_at
		 FROM artifact_records WHERE run_id = $1 ORDER BY id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []models.ArtifactRecord{}
	for rows.Next() {
		var record models.ArtifactRecord
		if err := rows.Scan(&record.ID, &record.RunID, &record.Stage, &record.Content, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read artifacts: %w", err)
	}
	return artifacts, nil
}

// ListRunsForProject returns a project's runs, newest first.
func (s *RunService) ListRunsForProject(httpCtx context.Context, projectID uuid.UUID, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, status, prompt, created_at
		 FROM generation_runs WHERE project_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunRecord{}
	for rows.Next() {
		var run models.RunRecord
		if err := rows.Scan(&run.ID, &run.ProjectID, &run.Status, &run.Prompt, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// LatestBundle resolves the most recent released code bundle for a project:
// the newest artifact carrying a bundle handle across the project's runs.
// Stage artifacts are written in pipeline order, so the newest handle is the
// repair output when a repair ran, else the latest review or implementer
// output.
func (s *RunService) LatestBundle(httpCtx context.Context, projectID uuid.UUID) (models.GeneratedCode, error) {
	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT a.content
		 FROM artifact_records a
		 JOIN generation_runs r ON r.id = a.run_id
		 WHERE r.project_id = $1 AND a.content ? 'bundle_ref'
		 ORDER BY a.id DESC
		 LIMIT 10`,
		projectID)
	if err != nil {
		return models.GeneratedCode{}, fmt.Errorf("failed to query latest bundle: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var content json.RawMessage
		if err := rows.Scan(&content); err != nil {
			return models.GeneratedCode{}, fmt.Errorf("failed to scan artifact: %w", err)
		}
		var payload struct {
			BundleRef string `json:"bundle_ref"`
		}
		if err := json.Unmarshal(content, &payload); err != nil || payload.BundleRef == "" {
			continue
		}
		code, err := s.bundles.Load(payload.BundleRef)
		if err != nil {
			s.logger.Warn("failed to load referenced bundle, trying older artifact",
				"project_id", projectID, "bundle_ref", payload.BundleRef, "error", err)
			continue
		}
		return code, nil
	}
	if err := rows.Err(); err != nil {
		return models.GeneratedCode{}, fmt.Errorf("failed to read artifacts: %w", err)
	}

	return models.GeneratedCode{}, fmt.Errorf("%w: no code bundle for project %s", ErrNotFound, projectID)
}
