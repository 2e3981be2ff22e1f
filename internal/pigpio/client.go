package pigpio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts for daemon communication.
const (
	// defaultPort is the daemon's standard listen port.
	defaultPort = 8888

	// defaultConnectTimeout is the maximum time to wait for a dial.
	defaultConnectTimeout = 10 * time.Second

	// defaultIOTimeout bounds each command exchange. The daemon answers
	// commands immediately, so a stalled exchange means a dead peer.
	defaultIOTimeout = 30 * time.Second
)

// Config holds daemon connection configuration.
type Config struct {
	// Host is the daemon's hostname or IP. Default: "localhost".
	Host string

	// Port is the daemon's TCP port. Default: 8888.
	Port int

	// ConnectTimeout is the maximum time to wait for a connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// IOTimeout bounds each command write/read exchange. Zero disables
	// the deadline. Default: 30 seconds.
	IOTimeout time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.IOTimeout == 0 {
		cfg.IOTimeout = defaultIOTimeout
	}
}

// Stats holds operational statistics.
type Stats struct {
	CommandsSent    uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful command-socket reconnections
	EventsRx        uint64 // Notification records received
	LastActivity    time.Time
	Connected       bool
	Listening       bool // True if the notification socket is open
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// EdgeHandler is invoked for each notification event on a subscribed
// GPIO. Level is LevelLow or LevelHigh for edges, LevelWatchdog when the
// GPIO's watchdog window expired without an edge. Tick is the daemon's
// microsecond clock at the event (wraps at 2^32; see TickDelta).
type EdgeHandler func(gpio uint, level Level, tick uint32)

// Conn is the daemon operation surface, extracted for testability.
// Device helpers depend on this interface rather than *Client.
type Conn interface {
	SetMode(gpio uint, mode uint32) error
	GetMode(gpio uint) (uint32, error)
	Read(gpio uint) (Level, error)
	Write(gpio uint, level Level) error
	SetPullUpDown(gpio uint, pud uint32) error
	SetWatchdog(gpio uint, timeout time.Duration) error
	Trigger(gpio uint, pulse time.Duration, level Level) error
	Callback(gpio uint, handler EdgeHandler) error
	CancelCallback(gpio uint) error
}

// Ensure Client implements Conn.
var _ Conn = (*Client)(nil)

// Client is a connected pigpio daemon client.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Commands from concurrent goroutines are serialised on one socket.
//   - Edge handlers run on the notification receive goroutine, one event
//     at a time, in stream order.
type Client struct {
	cfg Config
	cmd *session

	// Notification listener, opened lazily on first Callback.
	notifyMu sync.Mutex
	notify   *listener

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	commandsSent atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // Unix timestamp

	closed atomic.Bool
}

// Connect establishes the command connection to the daemon.
//
// The notification socket is not opened here; it is dialled lazily when
// the first Callback is registered.
//
// Parameters:
//   - cfg: Connection configuration (zero values take defaults)
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If the dial fails
func Connect(cfg Config) (*Client, error) {
	cfg.applyDefaults()

	c := &Client{
		cfg: cfg,
		cmd: newSession(cfg.Host, cfg.Port, cfg.ConnectTimeout, cfg.IOTimeout),
	}

	if err := c.cmd.dial(); err != nil {
		return nil, err
	}
	c.lastActivity.Store(time.Now().Unix())

	return c, nil
}

// exec runs one simple command and maps negative results to StatusError.
func (c *Client) exec(op string, cmd, p1, p2 uint32) (int32, error) {
	res, err := c.cmd.command(op, cmd, p1, p2)
	return c.finish(op, res, err)
}

// finish updates stats and converts daemon status codes into errors.
func (c *Client) finish(op string, res int32, err error) (int32, error) {
	if err != nil {
		c.errorsTotal.Add(1)
		return 0, err
	}
	c.commandsSent.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	if serr := statusErr(op, res); serr != nil {
		c.errorsTotal.Add(1)
		return 0, serr
	}
	return res, nil
}

// checkGPIO validates a bank-1 GPIO number before any bytes hit the wire.
func checkGPIO(op string, gpio uint) error {
	if !validGPIO(gpio) {
		return fmt.Errorf("%s: gpio %d: %w", op, gpio, ErrInvalidGPIO)
	}
	return nil
}

// SetMode sets the mode of a GPIO (ModeInput, ModeOutput, ModeAlt0-5).
func (c *Client) SetMode(gpio uint, mode uint32) error {
	if err := checkGPIO("SetMode", gpio); err != nil {
		return err
	}
	_, err := c.exec("SetMode", cmdModeSet, uint32(gpio), mode)
	return err
}

// GetMode returns the current mode of a GPIO.
func (c *Client) GetMode(gpio uint) (uint32, error) {
	if err := checkGPIO("GetMode", gpio); err != nil {
		return 0, err
	}
	res, err := c.exec("GetMode", cmdModeGet, uint32(gpio), 0)
	if err != nil {
		return 0, err
	}
	return uint32(res), nil
}

// Read returns the current level of a GPIO.
func (c *Client) Read(gpio uint) (Level, error) {
	if err := checkGPIO("Read", gpio); err != nil {
		return 0, err
	}
	res, err := c.exec("Read", cmdRead, uint32(gpio), 0)
	if err != nil {
		return 0, err
	}
	if res == 0 {
		return LevelLow, nil
	}
	return LevelHigh, nil
}

// Write sets the level of a GPIO configured as an output.
func (c *Client) Write(gpio uint, level Level) error {
	if err := checkGPIO("Write", gpio); err != nil {
		return err
	}
	_, err := c.exec("Write", cmdWrite, uint32(gpio), uint32(level))
	return err
}

// SetPullUpDown sets the internal pull resistor of a GPIO
// (PullOff, PullDown, PullUp).
func (c *Client) SetPullUpDown(gpio uint, pud uint32) error {
	if err := checkGPIO("SetPullUpDown", gpio); err != nil {
		return err
	}
	_, err := c.exec("SetPullUpDown", cmdPUD, uint32(gpio), pud)
	return err
}

// SetWatchdog arms a watchdog on a GPIO: if no edge occurs within the
// timeout, the daemon emits a watchdog notification and re-arms. A zero
// timeout cancels the watchdog. Resolution is milliseconds.
func (c *Client) SetWatchdog(gpio uint, timeout time.Duration) error {
	if err := checkGPIO("SetWatchdog", gpio); err != nil {
		return err
	}
	_, err := c.exec("SetWatchdog", cmdWDOG, uint32(gpio), uint32(timeout.Milliseconds())) //nolint:gosec // daemon caps at 60000ms
	return err
}

// ReadBank1 returns the levels of GPIO 0-31 as a bitmask.
func (c *Client) ReadBank1() (uint32, error) {
	res, err := c.cmd.command("ReadBank1", cmdBR1, 0, 0)
	if err != nil {
		c.errorsTotal.Add(1)
		return 0, err
	}
	// Bank reads return the raw bitmask, which may have the sign bit set;
	// there is no error path.
	c.commandsSent.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return uint32(res), nil
}

// ReadBank2 returns the levels of GPIO 32-53 as a bitmask.
func (c *Client) ReadBank2() (uint32, error) {
	res, err := c.cmd.command("ReadBank2", cmdBR2, 0, 0)
	if err != nil {
		c.errorsTotal.Add(1)
		return 0, err
	}
	c.commandsSent.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return uint32(res), nil
}

// Tick returns the daemon's current microsecond clock. The value wraps
// at 2^32 (about 72 minutes); compare ticks with TickDelta.
func (c *Client) Tick() (uint32, error) {
	res, err := c.cmd.command("Tick", cmdTick, 0, 0)
	if err != nil {
		c.errorsTotal.Add(1)
		return 0, err
	}
	// The tick is a free-running counter; like bank reads it has no
	// error path and may legitimately have the sign bit set.
	c.commandsSent.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return uint32(res), nil
}

// HardwareRevision returns the Pi's hardware revision number, or 0 if
// the daemon could not determine it.
func (c *Client) HardwareRevision() (uint32, error) {
	res, err := c.cmd.command("HardwareRevision", cmdHWVer, 0, 0)
	if err != nil {
		c.errorsTotal.Add(1)
		return 0, err
	}
	c.commandsSent.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return uint32(res), nil
}

// Trigger emits a single pulse on a GPIO: the pin is driven to level for
// the pulse duration, then restored. Pulse resolution is microseconds,
// maximum 100µs per the daemon.
func (c *Client) Trigger(gpio uint, pulse time.Duration, level Level) error {
	if err := checkGPIO("Trigger", gpio); err != nil {
		return err
	}
	res, err := c.cmd.extendedWords("Trigger", cmdTrigger,
		uint32(gpio), uint32(pulse.Microseconds()), []uint32{uint32(level)}) //nolint:gosec // daemon caps at 100µs
	_, err = c.finish("Trigger", res, err)
	return err
}

// SPIOpen opens an SPI channel and returns a handle for subsequent
// SPI operations.
//
// Parameters:
//   - channel: SPI channel (0 or 1 on the main bus)
//   - baud: Clock speed in bits per second
//   - flags: SPI mode and wiring flags (0 for mode 0 defaults)
func (c *Client) SPIOpen(channel, baud uint, flags uint32) (uint32, error) {
	res, err := c.cmd.extendedWords("SPIOpen", cmdSPIOpen,
		uint32(channel), uint32(baud), []uint32{flags}) //nolint:gosec // channel and baud are small
	res, err = c.finish("SPIOpen", res, err)
	if err != nil {
		return 0, err
	}
	return uint32(res), nil
}

// SPIClose closes an SPI handle.
func (c *Client) SPIClose(handle uint32) error {
	_, err := c.exec("SPIClose", cmdSPIClose, handle, 0)
	return err
}

// SPIRead reads count bytes from an SPI device, clocking out zeros.
func (c *Client) SPIRead(handle uint32, count uint) ([]byte, error) {
	res, payload, err := c.cmd.commandPayload("SPIRead", cmdSPIRead, handle, uint32(count)) //nolint:gosec // count bounded by daemon buffer
	if _, err = c.finish("SPIRead", res, err); err != nil {
		return nil, err
	}
	return payload, nil
}

// SPIWrite writes data to an SPI device, discarding the bytes read back.
func (c *Client) SPIWrite(handle uint32, data []byte) error {
	res, err := c.cmd.extended("SPIWrite", cmdSPIWrite, handle, 0, data)
	_, err = c.finish("SPIWrite", res, err)
	return err
}

// SPIXfer performs a full-duplex SPI transfer: data is clocked out and
// the same number of bytes clocked in are returned.
func (c *Client) SPIXfer(handle uint32, data []byte) ([]byte, error) {
	res, payload, err := c.cmd.extendedPayload("SPIXfer", cmdSPIXfer, handle, 0, data)
	if _, err = c.finish("SPIXfer", res, err); err != nil {
		return nil, err
	}
	return payload, nil
}

// SerialOpen opens a serial device on the Pi (e.g. "/dev/ttyAMA0") and
// returns a handle for subsequent serial operations.
func (c *Client) SerialOpen(device string, baud uint, flags uint32) (uint32, error) {
	res, err := c.cmd.extended("SerialOpen", cmdSerialOpen,
		uint32(baud), flags, []byte(device)) //nolint:gosec // baud is small
	res, err = c.finish("SerialOpen", res, err)
	if err != nil {
		return 0, err
	}
	return uint32(res), nil
}

// SerialClose closes a serial handle.
func (c *Client) SerialClose(handle uint32) error {
	_, err := c.exec("SerialClose", cmdSerialClose, handle, 0)
	return err
}

// SerialRead reads up to count bytes from a serial device. Returns the
// bytes actually available, which may be fewer than requested, or an
// empty slice when none are pending.
func (c *Client) SerialRead(handle uint32, count uint) ([]byte, error) {
	res, payload, err := c.cmd.commandPayload("SerialRead", cmdSerialRead, handle, uint32(count)) //nolint:gosec // count bounded by daemon buffer
	if _, err = c.finish("SerialRead", res, err); err != nil {
		return nil, err
	}
	return payload, nil
}

// SerialWrite writes data to a serial device.
func (c *Client) SerialWrite(handle uint32, data []byte) error {
	res, err := c.cmd.extended("SerialWrite", cmdSerialWrite, handle, 0, data)
	_, err = c.finish("SerialWrite", res, err)
	return err
}

// SerialDataAvailable returns the number of bytes waiting to be read
// from a serial device.
func (c *Client) SerialDataAvailable(handle uint32) (int, error) {
	res, err := c.exec("SerialDataAvailable", cmdSerialDataAvail, handle, 0)
	if err != nil {
		return 0, err
	}
	return int(res), nil
}

// Callback registers an edge handler for a GPIO. The first registration
// opens the notification socket; subsequent ones only update the daemon's
// subscription bitmask. At most one handler per GPIO; registering again
// replaces the previous handler.
//
// The handler runs on the notification receive goroutine: it must not
// block, or it delays delivery for every subscribed GPIO.
func (c *Client) Callback(gpio uint, handler EdgeHandler) error {
	if err := checkGPIO("Callback", gpio); err != nil {
		return err
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if c.notify == nil {
		l, err := openListener(c)
		if err != nil {
			c.errorsTotal.Add(1)
			return fmt.Errorf("Callback: %w", err)
		}
		c.notify = l
	}

	if err := c.notify.subscribe(gpio, handler); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("Callback: %w", err)
	}
	return nil
}

// CancelCallback removes the edge handler for a GPIO and shrinks the
// daemon's subscription bitmask. Cancelling a GPIO with no handler is a
// no-op. The notification socket stays open for future registrations.
func (c *Client) CancelCallback(gpio uint) error {
	if err := checkGPIO("CancelCallback", gpio); err != nil {
		return err
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if c.notify == nil {
		return nil
	}
	if err := c.notify.unsubscribe(gpio); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("CancelCallback: %w", err)
	}
	return nil
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if the command socket is open.
func (c *Client) IsConnected() bool {
	return c.cmd.connected()
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	s := Stats{
		CommandsSent:    c.commandsSent.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.cmd.reconnects.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.cmd.connected(),
	}

	c.notifyMu.Lock()
	if c.notify != nil {
		s.Listening = !c.notify.isClosed()
		s.EventsRx = c.notify.eventsRx.Load()
	}
	c.notifyMu.Unlock()

	return s
}

// Close shuts down the notification listener (if open) and the command
// socket. Safe to call multiple times.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.notifyMu.Lock()
	if c.notify != nil {
		c.notify.close()
		c.notify = nil
	}
	c.notifyMu.Unlock()

	err := c.cmd.close()
	c.logInfo("daemon connection closed")
	return err
}

// logInfo logs an info message if a logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
