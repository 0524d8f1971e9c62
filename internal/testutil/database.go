// Package testutil contains helpers shared by package tests which need
// a real, migrated database to run against.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/hbomb79/Marquee/internal/database"
	"github.com/stretchr/testify/require"
)

// NewTestDB connects to a fresh SQLite database inside a temporary directory,
// with all migrations (including the seeded lists) applied. The connection
// is closed automatically when the test completes.
func NewTestDB(t *testing.T) database.Manager {
	t.Helper()

	db := database.New()
	config := database.DatabaseConfig{
		Dialect: database.SqliteDialect,
		Path:    filepath.Join(t.TempDir(), "marquee.db"),
	}
	require.NoError(t, db.Connect(config), "failed to connect to test database")

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("WARNING: failed to close test database: %s", err)
		}
	})

	return db
}
