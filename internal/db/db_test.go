package db

import (
	"context"
	"testing"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		t.Fatalf("Migrate failed: %v", err)
	}
	return db
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestOpenFileDatabase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir() + "/nested/inbox.db"

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if db.Path() != cfg.Path {
		t.Fatalf("Path() = %q, want %q", db.Path(), cfg.Path)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
