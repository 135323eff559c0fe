// Package testing provides testing utilities and helpers for the qrem project.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/fbmaciej/qrem/internal/database"
)

// NewTestDB creates a temporary SQLite database for testing. Returns the
// database and a cleanup function that closes the connection and removes the
// file; the cleanup function is safe to call more than once.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	closed := false
	cleanup := func() {
		if !closed {
			closed = true
			_ = db.Close()
		}
		_ = os.Remove(tmpPath)
		_ = os.Remove(tmpPath + "-wal")
		_ = os.Remove(tmpPath + "-shm")
	}
	return db, cleanup
}
