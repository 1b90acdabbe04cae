package db

import (
	"testing"
	"time"
)

func TestPendingMigrations(t *testing.T) {
	at := time.Now()
	statuses := []MigrationStatus{
		{Version: 1, Name: "001_core.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_preferences.sql"},
		{Version: 3, Name: "003_indexes.sql"},
	}
	if got := PendingMigrations(statuses); got != 2 {
		t.Errorf("expected 2 pending, got %d", got)
	}
	if got := PendingMigrations(nil); got != 0 {
		t.Errorf("expected 0 pending for nil, got %d", got)
	}
}
