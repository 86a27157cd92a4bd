// Package testutil provides shared test helpers for setting up vaults and state databases.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/double-tu/blinko-to-obsidian/internal/state"
	"github.com/double-tu/blinko-to-obsidian/internal/storage"
)

// TestState creates a temporary state database that is automatically closed.
func TestState(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage.FS.
func TestVault(t *testing.T) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}
