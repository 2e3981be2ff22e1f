package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultReadingLimit = 50
	maxReadingLimit     = 200
)

// SensorReading is one decoded climate sample persisted for a device.
type SensorReading struct {
	ID          int64
	DeviceID    string
	Temperature float64
	Humidity    float64
	CreatedAt   time.Time
}

// ReadingRepository stores sensor readings in the sensor_readings table.
//
// Readings are append-only; PruneReadings keeps the table bounded on
// long-running installations.
type ReadingRepository struct {
	db *sql.DB
}

// NewReadingRepository creates a reading repository on an open connection.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *ReadingRepository: Repository instance ready for use
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// RecordReading inserts a new sensor reading for a device.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//   - temperature: Temperature in degrees Celsius
//   - humidity: Relative humidity in percent
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *ReadingRepository) RecordReading(ctx context.Context, deviceID string, temperature, humidity float64) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sensor_readings (device_id, temperature, humidity) VALUES (?, ?, ?)",
		deviceID,
		temperature,
		humidity,
	)
	if err != nil {
		return fmt.Errorf("inserting sensor reading: %w", err)
	}

	return nil
}

// GetReadings returns recent readings for a device, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []SensorReading: Readings ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *ReadingRepository) GetReadings(ctx context.Context, deviceID string, limit int) ([]SensorReading, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultReadingLimit
	}
	if limit > maxReadingLimit {
		limit = maxReadingLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, temperature, humidity, created_at
		 FROM sensor_readings
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sensor readings: %w", err)
	}
	defer rows.Close()

	readings := make([]SensorReading, 0, limit)
	for rows.Next() {
		var reading SensorReading
		var createdAt string

		if err := rows.Scan(&reading.ID, &reading.DeviceID, &reading.Temperature, &reading.Humidity, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning sensor reading: %w", err)
		}

		timestamp, err := parseStoredTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		reading.CreatedAt = timestamp

		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensor readings: %w", err)
	}

	return readings, nil
}

// PruneReadings deletes readings older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (entries older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *ReadingRepository) PruneReadings(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM sensor_readings WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting sensor readings: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseStoredTimestamp parses a timestamp stored in SQLite.
func parseStoredTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
