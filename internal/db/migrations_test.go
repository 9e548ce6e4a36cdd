package db

import (
	"path/filepath"
	"testing"
)

func TestOpenWithMigrations_CreatesTables(t *testing.T) {
	gdb, err := OpenWithMigrations(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenWithMigrations failed: %v", err)
	}
	defer func() { _ = Close(gdb) }()

	for _, name := range []string{"run_entries", "task_arguments"} {
		if !gdb.Migrator().HasTable(name) {
			t.Fatalf("missing table %s", name)
		}
	}
}

func TestOpenWithMigrations_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	gdb, err := OpenWithMigrations(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	_ = Close(gdb)

	gdb, err = OpenWithMigrations(path)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer func() { _ = Close(gdb) }()

	var n int64
	if err := gdb.Raw(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='run_entries'`).Scan(&n).Error; err != nil {
		t.Fatalf("count table failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected run_entries table after second open, got count %d", n)
	}
}

func TestMigrateUp_AbandonsOpenRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	gdb, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	rows := []RunEntry{
		{RunID: "r1", TaskID: "build", RunState: RunStateRunning, StartedAt: 1},
		{RunID: "r2", TaskID: "build", RunState: RunStateExited, StartedAt: 2},
	}
	if err := gdb.Create(&rows).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := MigrateUp(gdb); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	defer func() { _ = Close(gdb) }()

	var got RunEntry
	if err := gdb.First(&got, "run_id = ?", "r1").Error; err != nil {
		t.Fatalf("load r1: %v", err)
	}
	if got.RunState != RunStateAbandoned {
		t.Fatalf("expected abandoned, got %s", got.RunState)
	}
	if err := gdb.First(&got, "run_id = ?", "r2").Error; err != nil {
		t.Fatalf("load r2: %v", err)
	}
	if got.RunState != RunStateExited {
		t.Fatalf("finished run must be untouched, got %s", got.RunState)
	}
}
