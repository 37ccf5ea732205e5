package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates JSONB GIN indexes for PostgreSQL. These enable
// efficient containment queries over persisted stage artifacts (e.g. finding
// runs whose review artifact carries a given bundle_ref).
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_artifact_records_content_gin
		ON artifact_records USING gin(content jsonb_path_ops)`)
	if err != nil {
		return fmt.Errorf("failed to create artifact content GIN index: %w", err)
	}
	return nil
}
