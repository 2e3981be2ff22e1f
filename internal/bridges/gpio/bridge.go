package gpio

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-pi/internal/devices"
	mqttclient "github.com/nerrad567/gray-logic-pi/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-pi/internal/pigpio"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// sensorReadPoll is how often the poll loop checks for a fresh decode
	// after triggering a sensor.
	sensorReadPoll = 25 * time.Millisecond

	// sensorReadWait bounds the wait for a decoded frame after a trigger.
	// A full DHT22 frame arrives within ~5ms; the notification pipeline
	// adds a little latency on a loaded system.
	sensorReadWait = 1 * time.Second
)

// State change sources recorded in state history.
const (
	sourceBridge = "bridge"
	sourceMQTT   = "mqtt"
)

// Bridge orchestrates bidirectional translation between GPIO and MQTT.
// It handles:
//   - Receiving commands from Core via MQTT and driving outputs
//   - Receiving input edge notifications and publishing state updates
//   - Polling DHT22 sensors and publishing telemetry
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	deviceMap *DeviceMap
	mqtt      MQTTClient
	daemon    DaemonConn
	health    *HealthReporter

	// Optional persistence (nil disables the concern)
	readings  ReadingStore
	states    StateStore
	telemetry TelemetryWriter

	// Built devices, keyed by device ID
	outputs map[string]*outputEntry
	inputs  map[string]*inputEntry
	sensors map[string]*sensorEntry

	// State cache for change detection
	stateCache   map[string]bool
	stateCacheMu sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// outputEntry pairs a built output with its declaration.
type outputEntry struct {
	out *devices.Output
	cfg OutputConfig
}

// inputEntry pairs a built input with its declaration. The debounce
// fields are only touched on the notification dispatch goroutine, which
// delivers edges for one session serially.
type inputEntry struct {
	in  *devices.Input
	cfg InputConfig

	lastEdgeTick uint32
	edgeSeen     bool
}

// sensorEntry pairs a built sensor with its declaration and the decode
// counters observed at the last poll, used to emit delta metrics.
type sensorEntry struct {
	sensor *devices.Sensor
	cfg    SensorConfig

	lastBadReads uint64
	lastTimeouts uint64
}

// DaemonConn is the pigpio session as the bridge sees it: the typed
// command surface plus connection status. Satisfied by *pigpio.Client.
type DaemonConn interface {
	pigpio.Conn

	// IsConnected returns true if the daemon session is up.
	IsConnected() bool

	// Stats returns session counters for health reporting.
	Stats() pigpio.Stats
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqttclient.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Logger is the minimal structured logging interface the bridge needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ReadingStore persists decoded sensor readings.
// Satisfied by *database.ReadingRepository. Optional.
type ReadingStore interface {
	RecordReading(ctx context.Context, deviceID string, temperature, humidity float64) error
}

// StateStore persists device state changes for audit.
// Satisfied by *database.StateHistoryRepository. Optional.
type StateStore interface {
	RecordStateChange(ctx context.Context, deviceID string, state map[string]any, source string) error
}

// TelemetryWriter writes readings and metrics to a time-series store.
// Satisfied by *influxdb.Client. Optional.
type TelemetryWriter interface {
	WriteSensorReading(deviceID string, temperature, humidity float64)
	WriteDeviceMetric(deviceID, measurement string, value float64)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// DeviceMap is the loaded device declarations.
	DeviceMap *DeviceMap

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Daemon is the pigpio daemon session.
	Daemon DaemonConn

	// Logger is optional structured logger.
	Logger Logger

	// Version is the bridge software version for health messages.
	Version string

	// HealthInterval is how often to publish health status.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// Readings is optional persistence for sensor readings.
	Readings ReadingStore

	// States is optional persistence for state changes.
	States StateStore

	// Telemetry is optional time-series output for readings and metrics.
	Telemetry TelemetryWriter
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.DeviceMap == nil {
		return nil, fmt.Errorf("device map is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Daemon == nil {
		return nil, fmt.Errorf("daemon connection is required")
	}

	// Create bridge-level context for command cancellation on shutdown
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		deviceMap:  opts.DeviceMap,
		mqtt:       opts.MQTTClient,
		daemon:     opts.Daemon,
		readings:   opts.Readings,  // May be nil (optional)
		states:     opts.States,    // May be nil (optional)
		telemetry:  opts.Telemetry, // May be nil (optional)
		outputs:    make(map[string]*outputEntry),
		inputs:     make(map[string]*inputEntry),
		sensors:    make(map[string]*sensorEntry),
		stateCache: make(map[string]bool),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Daemon:    opts.Daemon,
	})
	b.health.SetDeviceCount(opts.DeviceMap.DeviceCount())
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
// This builds the configured devices, subscribes to command topics,
// publishes initial states, and starts health reporting and sensor
// polling.
func (b *Bridge) Start(ctx context.Context) error {
	// Publish starting status
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if err := b.buildDevices(); err != nil {
		return err
	}

	// Subscribe to command topics
	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	// Publish initial states so retained topics reflect reality
	b.publishInitialStates()

	// Start a poll loop per sensor
	for _, entry := range b.sensors {
		b.wg.Add(1)
		go b.runSensor(entry)
	}

	// Start health reporting
	b.health.Start(ctx)

	b.logInfo("bridge started",
		"outputs", len(b.outputs),
		"inputs", len(b.inputs),
		"sensors", len(b.sensors))

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight operations
		b.ctxCancel()

		// Wait for sensor loops
		b.wg.Wait()

		// Remove edge subscriptions
		for id, entry := range b.inputs {
			if err := entry.in.CancelChange(); err != nil {
				b.logDebug("cancel input callback failed", "device_id", id, "error", err.Error())
			}
		}
		for id, entry := range b.sensors {
			if err := entry.sensor.Close(); err != nil {
				b.logDebug("sensor close failed", "device_id", id, "error", err.Error())
			}
		}

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// buildDevices constructs the device handles declared in the device map.
func (b *Bridge) buildDevices() error {
	for _, cfg := range b.deviceMap.Outputs {
		out, err := devices.NewOutput(b.daemon, cfg.GPIO, cfg.ActiveLow)
		if err != nil {
			return fmt.Errorf("output %s: %w", cfg.DeviceID, err)
		}
		if cfg.InitialOn {
			if err := out.On(); err != nil {
				return fmt.Errorf("output %s: %w", cfg.DeviceID, err)
			}
		}
		b.outputs[cfg.DeviceID] = &outputEntry{out: out, cfg: cfg}
	}

	for _, cfg := range b.deviceMap.Inputs {
		in, err := devices.NewInput(b.daemon, cfg.GPIO, cfg.PullMode(), cfg.ActiveLow)
		if err != nil {
			return fmt.Errorf("input %s: %w", cfg.DeviceID, err)
		}
		entry := &inputEntry{in: in, cfg: cfg}
		b.inputs[cfg.DeviceID] = entry

		deviceID := cfg.DeviceID
		address := gpioAddress(cfg.GPIO)
		if err := in.OnChange(func(active bool, tick uint32) {
			b.handleInputChange(deviceID, address, entry, active, tick)
		}); err != nil {
			return fmt.Errorf("input %s: %w", cfg.DeviceID, err)
		}
	}

	for _, cfg := range b.deviceMap.Sensors {
		sensor, err := devices.NewSensor(b.daemon, cfg.GPIO)
		if err != nil {
			return fmt.Errorf("sensor %s: %w", cfg.DeviceID, err)
		}
		b.sensors[cfg.DeviceID] = &sensorEntry{sensor: sensor, cfg: cfg}
	}

	return nil
}

// publishInitialStates publishes the state of every output and input so
// subscribers see current values on the retained topics immediately.
func (b *Bridge) publishInitialStates() {
	for id, entry := range b.outputs {
		b.publishState(id, gpioAddress(entry.cfg.GPIO), entry.out.IsOn(), sourceBridge)
	}

	for id, entry := range b.inputs {
		active, err := entry.in.Read()
		if err != nil {
			b.logError("initial input read failed", fmt.Errorf("device=%s: %w", id, err))
			continue
		}
		b.publishState(id, gpioAddress(entry.cfg.GPIO), active, sourceBridge)
	}
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	// Parse topic to determine message type
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		return fmt.Errorf("invalid topic format: %s", topic)
	}

	messageType := parts[1] // command, etc.

	switch messageType {
	case "command":
		b.handleCommand(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", messageType))
	}

	return nil
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	if err := b.executeCommand(cmd); err != nil {
		// Error ack already sent by executeCommand
		b.logError("command execution failed", err)
	}
}

// executeCommand dispatches a command to the addressed device.
func (b *Bridge) executeCommand(cmd CommandMessage) error {
	if entry, ok := b.outputs[cmd.DeviceID]; ok {
		return b.executeOutputCommand(cmd, entry)
	}
	if entry, ok := b.inputs[cmd.DeviceID]; ok {
		return b.executeInputCommand(cmd, entry)
	}
	if entry, ok := b.sensors[cmd.DeviceID]; ok {
		return b.executeSensorCommand(cmd, entry)
	}

	b.publishAckError(cmd, "", ErrCodeNotConfigured,
		fmt.Sprintf("device %s not configured", cmd.DeviceID))
	return fmt.Errorf("device %s not configured", cmd.DeviceID)
}

// executeOutputCommand applies on/off/toggle to an output.
func (b *Bridge) executeOutputCommand(cmd CommandMessage, entry *outputEntry) error {
	address := gpioAddress(entry.cfg.GPIO)

	var target bool
	switch cmd.Command {
	case "on":
		target = true
	case "off":
		target = false
	case "toggle":
		target = !entry.out.IsOn()
	default:
		b.publishAckError(cmd, address, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command))
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}

	// Publish accepted ack before applying
	b.publishAck(cmd, address, AckAccepted)

	if err := entry.out.Set(target); err != nil {
		b.publishAckError(cmd, address, ErrCodeDaemonUnreachable,
			fmt.Sprintf("write failed: %v", err))
		return err
	}

	b.publishState(cmd.DeviceID, address, target, sourceMQTT)
	return nil
}

// executeInputCommand handles commands addressed to an input.
// Only "read" is valid: it republishes the current state.
func (b *Bridge) executeInputCommand(cmd CommandMessage, entry *inputEntry) error {
	address := gpioAddress(entry.cfg.GPIO)

	if cmd.Command != "read" {
		b.publishAckError(cmd, address, ErrCodeInvalidCommand,
			fmt.Sprintf("input only supports read, got: %s", cmd.Command))
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}

	b.publishAck(cmd, address, AckAccepted)

	active, err := entry.in.Read()
	if err != nil {
		b.publishAckError(cmd, address, ErrCodeDaemonUnreachable,
			fmt.Sprintf("read failed: %v", err))
		return err
	}

	b.forcePublishState(cmd.DeviceID, address, active, sourceMQTT)
	return nil
}

// executeSensorCommand handles commands addressed to a sensor.
// Only "read" is valid: it triggers an out-of-cycle conversion. The
// decoded reading is published by the sensor's poll loop mechanics.
func (b *Bridge) executeSensorCommand(cmd CommandMessage, entry *sensorEntry) error {
	address := gpioAddress(entry.cfg.GPIO)

	if cmd.Command != "read" {
		b.publishAckError(cmd, address, ErrCodeInvalidCommand,
			fmt.Sprintf("sensor only supports read, got: %s", cmd.Command))
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}

	b.publishAck(cmd, address, AckAccepted)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.pollSensor(cmd.DeviceID, entry)
	}()
	return nil
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, address string, status AckStatus) {
	ack := NewAckMessage(cmd, status, address)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	topic := AckTopic(cmd.DeviceID)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string) {
	ack := NewAckError(cmd, address, code, message)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}

	topic := AckTopic(cmd.DeviceID)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("failed to publish ack error", err)
	}

	b.logError("command failed",
		fmt.Errorf("code=%s message=%s", code, message))
}

// handleInputChange publishes a state update for an input edge, dropping
// contact-bounce edges inside the configured debounce window.
// Runs on the notification goroutine, so it must not block.
func (b *Bridge) handleInputChange(deviceID, address string, entry *inputEntry, active bool, tick uint32) {
	if window := entry.cfg.DebounceTicks(); window > 0 {
		if entry.edgeSeen && pigpio.TickDelta(entry.lastEdgeTick, tick) < window {
			return
		}
		entry.lastEdgeTick = tick
		entry.edgeSeen = true
	}

	b.publishState(deviceID, address, active, sourceBridge)
}

// publishState publishes a retained state message if the value changed.
func (b *Bridge) publishState(deviceID, address string, on bool, source string) {
	if b.stateUnchanged(deviceID, on) {
		return
	}
	b.forcePublishState(deviceID, address, on, source)
}

// forcePublishState publishes a retained state message unconditionally
// and updates the change-detection cache.
func (b *Bridge) forcePublishState(deviceID, address string, on bool, source string) {
	b.stateCacheMu.Lock()
	b.stateCache[deviceID] = on
	b.stateCacheMu.Unlock()

	state := map[string]any{"on": on}
	msg := NewStateMessage(deviceID, address, state)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	topic := StateTopic(deviceID)
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}

	if b.states != nil {
		if err := b.states.RecordStateChange(b.ctx, deviceID, state, source); err != nil {
			b.logDebug("state history write skipped",
				"device_id", deviceID,
				"reason", err.Error())
		}
	}
}

// stateUnchanged checks if the new value matches the cached state.
// Returns true if unchanged (should skip publish).
func (b *Bridge) stateUnchanged(deviceID string, on bool) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	cached, seen := b.stateCache[deviceID]
	if seen && cached == on {
		return true
	}

	b.stateCache[deviceID] = on
	return false
}

// runSensor polls one sensor on its configured interval.
func (b *Bridge) runSensor(entry *sensorEntry) {
	defer b.wg.Done()

	deviceID := entry.cfg.DeviceID

	ticker := time.NewTicker(entry.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.pollSensor(deviceID, entry)
		}
	}
}

// pollSensor triggers a conversion, waits for the decoded frame, and
// publishes the reading. Decode failures are reported as metrics, not
// errors: the DHT22 drops frames routinely and the next poll retries.
func (b *Bridge) pollSensor(deviceID string, entry *sensorEntry) {
	address := gpioAddress(entry.cfg.GPIO)
	prev := entry.sensor.LastRead()

	if err := entry.sensor.Trigger(); err != nil {
		b.logError("sensor trigger failed", fmt.Errorf("device=%s: %w", deviceID, err))
		return
	}

	deadline := time.Now().Add(sensorReadWait)
	for entry.sensor.LastRead().Equal(prev) {
		if time.Now().After(deadline) {
			b.logDebug("sensor read timed out", "device_id", deviceID)
			b.reportDecodeMetrics(deviceID, entry)
			return
		}
		select {
		case <-b.done:
			return
		case <-time.After(sensorReadPoll):
		}
	}

	temperature := entry.sensor.Temperature()
	humidity := entry.sensor.Humidity()

	b.publishTelemetry(deviceID, address, temperature, humidity)

	if b.readings != nil {
		if err := b.readings.RecordReading(b.ctx, deviceID, temperature, humidity); err != nil {
			b.logDebug("reading write skipped",
				"device_id", deviceID,
				"reason", err.Error())
		}
	}
	if b.telemetry != nil {
		b.telemetry.WriteSensorReading(deviceID, temperature, humidity)
	}

	b.reportDecodeMetrics(deviceID, entry)
}

// publishTelemetry publishes a decoded sensor reading.
func (b *Bridge) publishTelemetry(deviceID, address string, temperature, humidity float64) {
	msg := NewTelemetryMessage(deviceID, address, temperature, humidity)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal telemetry", err)
		return
	}

	topic := TelemetryTopic(deviceID)
	if err := b.mqtt.Publish(topic, payload, 0, false); err != nil {
		b.logError("failed to publish telemetry", err)
	}
}

// reportDecodeMetrics emits decode quality deltas since the last poll.
func (b *Bridge) reportDecodeMetrics(deviceID string, entry *sensorEntry) {
	if b.telemetry == nil {
		return
	}

	badReads := entry.sensor.BadReads()
	if delta := badReads - entry.lastBadReads; delta > 0 {
		b.telemetry.WriteDeviceMetric(deviceID, "bad_reads", float64(delta))
	}
	entry.lastBadReads = badReads

	timeouts := entry.sensor.Timeouts()
	if delta := timeouts - entry.lastTimeouts; delta > 0 {
		b.telemetry.WriteDeviceMetric(deviceID, "timeouts", float64(delta))
	}
	entry.lastTimeouts = timeouts
}

// gpioAddress formats a GPIO number as a topic/message address.
func gpioAddress(gpio uint) string {
	return strconv.FormatUint(uint64(gpio), 10)
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
