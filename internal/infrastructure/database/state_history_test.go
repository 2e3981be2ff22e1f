package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// openStateHistoryDB creates a temporary database with the state_history schema.
func openStateHistoryDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "states.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	_, err = db.ExecContext(context.Background(), `
		CREATE TABLE state_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			state TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'bridge',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		)
	`)
	if err != nil {
		t.Fatalf("failed to create state_history: %v", err)
	}

	return db
}

func TestRecordStateChange(t *testing.T) {
	db := openStateHistoryDB(t)
	repo := NewStateHistoryRepository(db.DB)
	ctx := context.Background()

	state := map[string]any{"on": true}
	if err := repo.RecordStateChange(ctx, "relay-pump", state, StateHistorySourceMQTT); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "relay-pump", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("GetHistory() returned %d entries, want 1", len(entries))
	}

	entry := entries[0]
	if entry.DeviceID != "relay-pump" {
		t.Errorf("DeviceID = %q, want %q", entry.DeviceID, "relay-pump")
	}
	if entry.Source != StateHistorySourceMQTT {
		t.Errorf("Source = %q, want %q", entry.Source, StateHistorySourceMQTT)
	}
	if on, ok := entry.State["on"].(bool); !ok || !on {
		t.Errorf("State[on] = %v, want true", entry.State["on"])
	}
}

func TestRecordStateChangeDefaults(t *testing.T) {
	db := openStateHistoryDB(t)
	repo := NewStateHistoryRepository(db.DB)
	ctx := context.Background()

	// Nil state and empty source fall back to defaults.
	if err := repo.RecordStateChange(ctx, "input-door", nil, ""); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "input-door", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("GetHistory() returned %d entries, want 1", len(entries))
	}
	if entries[0].Source != StateHistorySourceBridge {
		t.Errorf("Source = %q, want %q", entries[0].Source, StateHistorySourceBridge)
	}
	if entries[0].State == nil {
		t.Error("State should decode to an empty map, not nil")
	}
}

func TestRecordStateChangeEmptyDeviceID(t *testing.T) {
	db := openStateHistoryDB(t)
	repo := NewStateHistoryRepository(db.DB)

	err := repo.RecordStateChange(context.Background(), "", nil, "")
	if err == nil {
		t.Error("RecordStateChange() expected error for empty device id")
	}
}

func TestGetHistoryOrder(t *testing.T) {
	db := openStateHistoryDB(t)
	repo := NewStateHistoryRepository(db.DB)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		state := map[string]any{"seq": float64(i)}
		if err := repo.RecordStateChange(ctx, "relay-pump", state, StateHistorySourceBridge); err != nil {
			t.Fatalf("RecordStateChange() error = %v", err)
		}
	}

	entries, err := repo.GetHistory(ctx, "relay-pump", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("GetHistory() returned %d entries, want 3", len(entries))
	}

	// Newest first.
	if seq := entries[0].State["seq"].(float64); seq != 2 {
		t.Errorf("entries[0].State[seq] = %v, want 2", seq)
	}
}

func TestPruneHistory(t *testing.T) {
	db := openStateHistoryDB(t)
	repo := NewStateHistoryRepository(db.DB)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
	_, err := db.ExecContext(ctx,
		"INSERT INTO state_history (device_id, state, source, created_at) VALUES (?, ?, ?, ?)",
		"relay-pump", `{"on":false}`, StateHistorySourceBridge, old,
	)
	if err != nil {
		t.Fatalf("inserting old entry: %v", err)
	}
	if err := repo.RecordStateChange(ctx, "relay-pump", map[string]any{"on": true}, StateHistorySourceBridge); err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	deleted, err := repo.PruneHistory(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("PruneHistory() deleted %d rows, want 1", deleted)
	}
}
