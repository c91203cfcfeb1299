package metastore

import (
	"path/filepath"
	"testing"
)

// createTestStore opens a sqlite-backed store on a fresh database file.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(Config{DSN: path})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// openTestStoreAt opens a store on an existing database file with options,
// simulating a second process sharing the same table.
func openTestStoreAt(t *testing.T, path string, cfg Config) *Store {
	t.Helper()
	cfg.DSN = path
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
