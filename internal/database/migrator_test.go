package database

import (
	"os"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(sql), 0644); err != nil {
		t.Fatalf("failed to write migration: %v", err)
	}
}

func TestBaselineSchemaExists(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.Conn().QueryRow("SELECT COUNT(*) FROM corrections").Scan(&count)
	if err != nil {
		t.Fatalf("corrections table missing from baseline schema: %v", err)
	}
}

func TestMigratorAppliesInOrder(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()

	writeMigration(t, dir, "002_add_index.sql", "CREATE INDEX idx_test_b ON test_table (name);")
	writeMigration(t, dir, "001_create_table.sql", "CREATE TABLE test_table (id TEXT PRIMARY KEY, name TEXT);")
	writeMigration(t, dir, "notes.txt", "not a migration")

	if err := NewMigrator(db).Run(dir); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var count int
	if err := db.Conn().QueryRow("SELECT COUNT(*) FROM test_table").Scan(&count); err != nil {
		t.Fatalf("migrated table missing: %v", err)
	}

	var versions int
	if err := db.Conn().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions); err != nil {
		t.Fatalf("tracking table missing: %v", err)
	}
	if versions != 2 {
		t.Errorf("recorded migrations = %d, want 2", versions)
	}
}

func TestMigratorRerunIsIdempotent(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()

	writeMigration(t, dir, "001_create_table.sql", "CREATE TABLE test_table (id TEXT PRIMARY KEY);")

	m := NewMigrator(db)
	if err := m.Run(dir); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	// A rerun must skip already-applied versions instead of re-executing them.
	if err := m.Run(dir); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
}

func TestRunMigrationsMissingDirIsFine(t *testing.T) {
	db := testDB(t)
	if err := db.RunMigrations(filepath.Join(t.TempDir(), "does-not-exist")); err != nil {
		t.Errorf("missing migrations directory should not error: %v", err)
	}
}
