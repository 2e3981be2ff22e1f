package gpio

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-pi/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-pi/internal/pigpio"
)

// Wire types for the bus contract between a Gray Logic core and this
// bridge. Timestamps are UTC RFC3339; addresses are BCM GPIO numbers
// rendered as strings.

// Protocol is the protocol segment used in bridge topics.
const Protocol = "gpio"

// CommandMessage arrives on graylogic/command/gpio/{device_id} and asks
// the bridge to act on one device.
type CommandMessage struct {
	// ID correlates this command with its acknowledgement.
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`

	// Command is one of "on", "off", "toggle", "read".
	Command string `json:"command"`

	// Parameters carries command-specific values; the basic output
	// commands take none.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source is the origin of the command: "api", "automation",
	// "voice", "scene".
	Source string `json:"source"`
	UserID string `json:"user_id,omitempty"`
}

// AckStatus is the outcome reported in an AckMessage.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted" // applied to the pin
	AckFailed   AckStatus = "failed"
	AckTimeout  AckStatus = "timeout" // daemon did not answer in time
)

// AckMessage answers a command on graylogic/ack/gpio/{device_id}.
type AckMessage struct {
	// CommandID echoes the ID of the command being acknowledged.
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`

	// Error is set when Status is failed or timeout.
	Error *AckError `json:"error,omitempty"`
}

// AckError details why a command was rejected.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in AckError.Code.
const (
	ErrCodeDaemonUnreachable = "DAEMON_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage reports a device state change on
// graylogic/state/gpio/{device_id}. Published retained at QoS 1 so late
// subscribers always see the current state.
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	// State holds the device state; outputs and inputs use {"on": bool}.
	State    map[string]any `json:"state"`
	Protocol string         `json:"protocol"`
	Address  string         `json:"address"`
}

// TelemetryMessage carries one decoded sensor reading on
// graylogic/telemetry/gpio/{device_id}. QoS 0, not retained: a missed
// reading is superseded by the next one.
type TelemetryMessage struct {
	DeviceID        string    `json:"device_id"`
	Timestamp       time.Time `json:"timestamp"`
	TemperatureC    float64   `json:"temperature_c"`
	HumidityPercent float64   `json:"humidity_percent"`
	Protocol        string    `json:"protocol"`
	Address         string    `json:"address"`
}

// HealthStatus is the bridge's operational state.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline" // set by the broker LWT
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage is the periodic report on graylogic/health/gpio,
// retained at QoS 1.
type HealthMessage struct {
	// Bridge identifies the reporter ("gpio").
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Connection describes the pigpio daemon session.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics carries the daemon session counters.
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`

	// Reason explains a degraded, stopping, or offline status.
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the daemon session in a health report.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status       string     `json:"status"`
	Address      string     `json:"address,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics mirrors the daemon session counters.
type BridgeStatistics struct {
	CommandsSent   uint64 `json:"commands_sent"`
	EventsReceived uint64 `json:"events_received"`
	Errors         uint64 `json:"errors"`
	Reconnects     uint64 `json:"reconnects"`
}

// MarshalJSON renders the timestamp as RFC3339 to pin the wire format
// independent of Go's default time encoding.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON accepts RFC3339 timestamps and tolerates their absence.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage builds a successful acknowledgement for cmd.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError builds a failure acknowledgement. ErrCodeTimeout maps to
// the timeout status, everything else to failed.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed, address)
	if code == ErrCodeTimeout {
		ack.Status = AckTimeout
	}
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage builds a state report for a device.
func NewStateMessage(deviceID, address string, state map[string]any) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewTelemetryMessage builds a telemetry report for a sensor reading.
func NewTelemetryMessage(deviceID, address string, temperature, humidity float64) TelemetryMessage {
	return TelemetryMessage{
		DeviceID:        deviceID,
		Timestamp:       time.Now().UTC(),
		TemperatureC:    temperature,
		HumidityPercent: humidity,
		Protocol:        Protocol,
		Address:         address,
	}
}

// NewHealthMessage assembles a health report from the daemon session
// counters.
func NewHealthMessage(version string, status HealthStatus, stats pigpio.Stats, deviceCount int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         Protocol,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: deviceCount,
		Statistics: &BridgeStatistics{
			CommandsSent:   stats.CommandsSent,
			EventsReceived: stats.EventsRx,
			Errors:         stats.ErrorsTotal,
			Reconnects:     stats.ReconnectsTotal,
		},
	}

	msg.Connection = &ConnectionStatus{Status: "disconnected"}
	if stats.Connected {
		lastActivity := stats.LastActivity
		msg.Connection = &ConnectionStatus{
			Status:       "connected",
			LastActivity: &lastActivity,
		}
	}
	return msg
}

// NewLWTMessage builds the will payload the broker publishes on the
// health topic if the bridge dies without disconnecting.
func NewLWTMessage() HealthMessage {
	return HealthMessage{
		Bridge:    Protocol,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

var topics mqtt.Topics

// CommandTopic returns graylogic/command/gpio/{deviceID}.
func CommandTopic(deviceID string) string {
	return topics.BridgeCommand(Protocol, deviceID)
}

// AckTopic returns graylogic/ack/gpio/{deviceID}.
func AckTopic(deviceID string) string {
	return topics.BridgeAck(Protocol, deviceID)
}

// StateTopic returns graylogic/state/gpio/{deviceID}.
func StateTopic(deviceID string) string {
	return topics.BridgeState(Protocol, deviceID)
}

// TelemetryTopic returns graylogic/telemetry/gpio/{deviceID}.
func TelemetryTopic(deviceID string) string {
	return topics.BridgeTelemetry(Protocol, deviceID)
}

// HealthTopic returns graylogic/health/gpio.
func HealthTopic() string {
	return topics.BridgeHealth(Protocol)
}

// CommandSubscribeTopic returns the wildcard pattern matching every
// command addressed to this bridge: graylogic/command/gpio/+.
func CommandSubscribeTopic() string {
	return topics.AllBridgeCommands(Protocol)
}
