package gpio

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-pi/internal/pigpio"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher publishes health messages, typically the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DaemonStatus exposes the pigpio session state for health reports.
type DaemonStatus interface {
	IsConnected() bool
	Stats() pigpio.Stats
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	// Version is the bridge software version reported in each message.
	Version string

	// Interval between health publishes. Zero means 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Daemon    DaemonStatus
}

// HealthReporter publishes the bridge's health to the retained health
// topic: once on Start, then on every interval tick, and a final
// "stopping" status from Stop. A report is degraded when either the
// broker or the daemon session is down.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	daemon    DaemonStatus

	deviceCount   int
	deviceCountMu sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter builds a reporter; call Start to begin publishing.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	h := &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  cfg.Interval,
		publisher: cfg.Publisher,
		daemon:    cfg.Daemon,
		done:      make(chan struct{}),
	}
	if h.interval == 0 {
		h.interval = defaultHealthInterval
	}
	return h
}

// Start launches the reporting loop. It stops when ctx is cancelled or
// Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.loop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status,
// best-effort. Safe to call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // nothing to do with a publish failure during shutdown
		h.publish(HealthStopping, "")
	})
}

// SetDeviceCount updates the device count included in reports.
func (h *HealthReporter) SetDeviceCount(count int) {
	h.deviceCountMu.Lock()
	h.deviceCount = count
	h.deviceCountMu.Unlock()
}

// SetLogger directs publish failures somewhere visible.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting announces the bridge is initialising, before the
// loop takes over.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow assesses and publishes the current status immediately,
// outside the regular interval.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.assess()
	return h.publish(status, reason)
}

// GetLWTPayload returns the will payload to register at MQTT connect
// time, so the broker reports the bridge offline if it dies.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage())
}

// GetLWTTopic returns the topic the will payload belongs on.
func (h *HealthReporter) GetLWTTopic() string {
	return HealthTopic()
}

func (h *HealthReporter) loop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.reportError("initial health publish failed", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.reportError("health publish failed", err)
			}
		}
	}
}

// assess derives the current status from the two upstream connections.
func (h *HealthReporter) assess() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.daemon == nil || !h.daemon.IsConnected() {
		return HealthDegraded, "pigpio daemon disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	h.deviceCountMu.RLock()
	count := h.deviceCount
	h.deviceCountMu.RUnlock()

	var stats pigpio.Stats
	if h.daemon != nil {
		stats = h.daemon.Stats()
	}

	msg := NewHealthMessage(h.version, status, stats, count, h.startTime)
	if reason != "" {
		msg.Reason = reason
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) reportError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
