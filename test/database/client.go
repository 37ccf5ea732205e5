// Package database provides test helpers for creating database clients.
package database

import (
	"testing"

	"github.com/eb-adutwum/interius/pkg/database"
	"github.com/eb-adutwum/interius/test/util"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// The schema and connection are automatically cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()

	// Shared test database setup applies migrations and GIN indexes
	db := util.SetupTestDatabase(t)

	// Note: cleanup (schema drop and connection close) is handled by SetupTestDatabase
	return database.NewClientFromDB(db)
}
