package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// StateHistorySourceBridge marks entries recorded by the bridge itself
// (input edges). Command-driven changes carry the MQTT source.
const (
	StateHistorySourceBridge = "bridge"
	StateHistorySourceMQTT   = "mqtt"
)

// StateHistoryEntry is one persisted device state snapshot.
type StateHistoryEntry struct {
	ID        int64
	DeviceID  string
	State     map[string]any
	Source    string
	CreatedAt time.Time
}

// StateHistoryRepository stores device state snapshots as JSON in the
// state_history table.
type StateHistoryRepository struct {
	db *sql.DB
}

// NewStateHistoryRepository creates a state history repository on an open
// connection.
func NewStateHistoryRepository(db *sql.DB) *StateHistoryRepository {
	return &StateHistoryRepository{db: db}
}

// RecordStateChange inserts a new state history entry for a device.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//   - state: State snapshot to persist
//   - source: Origin of the change (bridge, mqtt)
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *StateHistoryRepository) RecordStateChange(ctx context.Context, deviceID string, state map[string]any, source string) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if source == "" {
		source = StateHistorySourceBridge
	}
	if state == nil {
		state = map[string]any{}
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (device_id, state, source) VALUES (?, ?, ?)",
		deviceID,
		string(stateJSON),
		source,
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}

	return nil
}

// GetHistory returns recent state history entries for a device, ordered
// newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []StateHistoryEntry: History entries ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *StateHistoryRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error) {
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
		`SELECT id, device_id, state, source, created_at
		 FROM state_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		var entry StateHistoryEntry
		var stateJSON string
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.DeviceID, &stateJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}

		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}

		timestamp, err := parseStoredTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes history entries older than the given duration.
//
// Returns the number of rows deleted.
func (r *StateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}
