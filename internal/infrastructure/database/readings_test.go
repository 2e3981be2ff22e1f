package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// openReadingsDB creates a temporary database with the readings schema.
func openReadingsDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "readings.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	_, err = db.ExecContext(context.Background(), `
		CREATE TABLE sensor_readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			temperature REAL NOT NULL,
			humidity REAL NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		)
	`)
	if err != nil {
		t.Fatalf("failed to create sensor_readings: %v", err)
	}

	return db
}

func TestRecordReading(t *testing.T) {
	db := openReadingsDB(t)
	repo := NewReadingRepository(db.DB)
	ctx := context.Background()

	if err := repo.RecordReading(ctx, "dht22-loft", 26.2, 40.8); err != nil {
		t.Fatalf("RecordReading() error = %v", err)
	}

	readings, err := repo.GetReadings(ctx, "dht22-loft", 10)
	if err != nil {
		t.Fatalf("GetReadings() error = %v", err)
	}

	if len(readings) != 1 {
		t.Fatalf("GetReadings() returned %d readings, want 1", len(readings))
	}

	r := readings[0]
	if r.DeviceID != "dht22-loft" {
		t.Errorf("DeviceID = %q, want %q", r.DeviceID, "dht22-loft")
	}
	if r.Temperature != 26.2 {
		t.Errorf("Temperature = %v, want 26.2", r.Temperature)
	}
	if r.Humidity != 40.8 {
		t.Errorf("Humidity = %v, want 40.8", r.Humidity)
	}
	if r.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
}

func TestRecordReadingEmptyDeviceID(t *testing.T) {
	db := openReadingsDB(t)
	repo := NewReadingRepository(db.DB)

	err := repo.RecordReading(context.Background(), "", 20, 50)
	if err == nil {
		t.Error("RecordReading() expected error for empty device id")
	}
}

func TestGetReadingsOrderAndLimit(t *testing.T) {
	db := openReadingsDB(t)
	repo := NewReadingRepository(db.DB)
	ctx := context.Background()

	// Same created_at second for all rows; id order breaks the tie.
	for i := 0; i < 5; i++ {
		if err := repo.RecordReading(ctx, "dht22-loft", float64(20+i), 50); err != nil {
			t.Fatalf("RecordReading() error = %v", err)
		}
	}

	readings, err := repo.GetReadings(ctx, "dht22-loft", 3)
	if err != nil {
		t.Fatalf("GetReadings() error = %v", err)
	}

	if len(readings) != 3 {
		t.Fatalf("GetReadings() returned %d readings, want 3", len(readings))
	}

	// Newest first: the last insert (temperature 24) leads.
	if readings[0].Temperature != 24 {
		t.Errorf("readings[0].Temperature = %v, want 24", readings[0].Temperature)
	}
	if readings[2].Temperature != 22 {
		t.Errorf("readings[2].Temperature = %v, want 22", readings[2].Temperature)
	}
}

func TestGetReadingsUnknownDevice(t *testing.T) {
	db := openReadingsDB(t)
	repo := NewReadingRepository(db.DB)

	readings, err := repo.GetReadings(context.Background(), "nonexistent", 10)
	if err != nil {
		t.Fatalf("GetReadings() error = %v", err)
	}
	if len(readings) != 0 {
		t.Errorf("GetReadings() returned %d readings, want 0", len(readings))
	}
}

func TestGetReadingsEmptyDeviceID(t *testing.T) {
	db := openReadingsDB(t)
	repo := NewReadingRepository(db.DB)

	_, err := repo.GetReadings(context.Background(), "", 10)
	if err == nil {
		t.Error("GetReadings() expected error for empty device id")
	}
}

func TestPruneReadings(t *testing.T) {
	db := openReadingsDB(t)
	repo := NewReadingRepository(db.DB)
	ctx := context.Background()

	// One old row, one fresh row.
	old := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
	_, err := db.ExecContext(ctx,
		"INSERT INTO sensor_readings (device_id, temperature, humidity, created_at) VALUES (?, ?, ?, ?)",
		"dht22-loft", 19.5, 60.0, old,
	)
	if err != nil {
		t.Fatalf("inserting old reading: %v", err)
	}
	if err := repo.RecordReading(ctx, "dht22-loft", 21.0, 55.0); err != nil {
		t.Fatalf("RecordReading() error = %v", err)
	}

	deleted, err := repo.PruneReadings(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneReadings() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("PruneReadings() deleted %d rows, want 1", deleted)
	}

	readings, err := repo.GetReadings(ctx, "dht22-loft", 10)
	if err != nil {
		t.Fatalf("GetReadings() error = %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("GetReadings() returned %d readings after prune, want 1", len(readings))
	}
	if readings[0].Temperature != 21.0 {
		t.Errorf("surviving reading Temperature = %v, want 21.0", readings[0].Temperature)
	}
}

func TestPruneReadingsInvalidDuration(t *testing.T) {
	db := openReadingsDB(t)
	repo := NewReadingRepository(db.DB)

	if _, err := repo.PruneReadings(context.Background(), 0); err == nil {
		t.Error("PruneReadings() expected error for non-positive duration")
	}
}
