package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"010_reports.sql":     "SELECT 10;",
		"002_connections.sql": "SELECT 2;",
		"001_profiles.sql":    "SELECT 1;",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	for i, want := range []int{1, 2, 10} {
		if migrations[i].Version != want {
			t.Errorf("migration[%d]: expected version %d, got %d", i, want, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_profiles.sql" || migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected first migration %+v", migrations[0])
	}
}

func TestLoadMigrations_SkipsUnversionedFiles(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_core.sql":    "SELECT 1;",
		"readme.sql":      "-- no prefix",
		"notes.txt":       "not sql",
		"abc_invalid.sql": "-- non-numeric prefix",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	_, err := NewMigrator(nil, "/nonexistent/migrations").LoadMigrations()
	if err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestShippedMigrations(t *testing.T) {
	migrations, err := NewMigrator(nil, filepath.Join("..", "..", "..", "migrations")).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected shipped migrations")
	}
	core := migrations[0].SQL
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS connection_requests",
		"UNIQUE (from_id, to_id)",
		"USING GIN (shared_with)",
	} {
		if !strings.Contains(core, want) {
			t.Errorf("expected core migration to contain %q", want)
		}
	}
}
