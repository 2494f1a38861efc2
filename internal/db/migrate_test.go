// Package db tests for database migration management.
package db

import (
	"strings"
	"testing"
	"testing/fstest"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := OpenPath(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestInitialize verifies schema_migrations table creation.
func TestInitialize(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db.DB)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	_, err := db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		1, 123456, "test_migration", strings.Repeat("a", 64))
	if err != nil {
		t.Errorf("Failed to insert test row: %v", err)
	}
}

// TestCurrentVersion verifies version tracking.
func TestCurrentVersion(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db.DB)

	if _, err := m.CurrentVersion(); err == nil {
		t.Error("CurrentVersion() should fail before Initialize()")
	}

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 2 {
		t.Errorf("CurrentVersion() = %d, want 2", version)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 || applied[0].Description != "sync_state" || len(applied[0].Checksum) != 64 {
		t.Errorf("unexpected applied migrations: %+v", applied)
	}
}

// TestUp_ordersAndSkips verifies version ordering and malformed file skipping.
func TestUp_ordersAndSkips(t *testing.T) {
	db := openMemory(t)
	source := fstest.MapFS{
		"V10__second.up.sql":  {Data: []byte("ALTER TABLE things ADD COLUMN extra TEXT;")},
		"V2__first.up.sql":    {Data: []byte("CREATE TABLE things (id INTEGER PRIMARY KEY);")},
		"README.md":           {Data: []byte("not a migration")},
		"Vx__bad.up.sql":      {Data: []byte("garbage")},
		"nounderscore.up.sql": {Data: []byte("garbage")},
	}

	m := NewMigratorFS(db.DB, source)
	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if _, err := db.Exec("INSERT INTO things (id, extra) VALUES (1, 'x')"); err != nil {
		t.Errorf("migrations not applied in version order: %v", err)
	}

	// Idempotent
	if err := m.Up(); err != nil {
		t.Fatalf("second Up() failed: %v", err)
	}
}

// TestDown verifies rollback of the latest migration.
func TestDown(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db.DB)

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}

	version, _ := m.CurrentVersion()
	if version != 1 {
		t.Errorf("CurrentVersion() after Down = %d, want 1", version)
	}

	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='content_cache'").Scan(&name)
	if err == nil {
		t.Error("content_cache should be dropped after Down")
	}
}

// TestDown_empty verifies rollback with nothing applied fails.
func TestDown_empty(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db.DB)
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.Down(); err == nil {
		t.Error("Down() should fail with no applied migrations")
	}
}
