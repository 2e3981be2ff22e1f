package pigpio

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// listener owns the second TCP connection to the daemon and dispatches
// notification records to per-GPIO handlers.
//
// The daemon binds a notification handle to the socket the NOIB command
// arrives on, then streams 12-byte records for every GPIO in the
// subscription bitmask. A single receive goroutine reads the stream and
// invokes handlers inline, which preserves per-GPIO event order.
//
// The stream does not restart itself: if the socket dies, registered
// callbacks go silent until the owning client is rebuilt. Liveness can
// be observed through the keep-alive records the daemon emits roughly
// every 60 seconds.
type listener struct {
	client *Client
	conn   net.Conn
	handle uint32

	// mu guards handlers, mask and lastLevel. The receive goroutine takes
	// it only to snapshot; handlers are invoked outside the lock.
	mu        sync.Mutex
	handlers  [bank1GPIOs]EdgeHandler
	mask      uint32
	lastLevel uint32

	done *closeOnce
	wg   sync.WaitGroup

	eventsRx  atomic.Uint64
	lastAlive atomic.Int64 // Unix timestamp of last keep-alive record
}

// openListener dials the notification socket, requests a handle with
// NOIB, seeds the level snapshot from bank 1, and starts the receive
// goroutine. No GPIOs are subscribed yet.
func openListener(c *Client) (*listener, error) {
	conn, err := net.DialTimeout("tcp", c.cmd.addr(), c.cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial notify %s: %w", ErrConnectionFailed, c.cmd.addr(), err)
	}

	// NOIB must travel on this socket: the daemon binds the returned
	// handle to the connection it was received on.
	handle, err := requestHandle(conn, c.cfg.IOTimeout)
	if err != nil {
		conn.Close()
		return nil, err
	}

	// Seed the level snapshot so the first record dispatches only real
	// changes, not the difference from an all-zero baseline.
	level, err := c.ReadBank1()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed level snapshot: %w", err)
	}

	l := &listener{
		client:    c,
		conn:      conn,
		handle:    handle,
		lastLevel: level,
		done:      newCloseOnce(),
	}

	l.wg.Add(1)
	go l.receiveLoop()

	c.logInfo("notification stream opened", "handle", handle)
	return l, nil
}

// requestHandle performs the NOIB exchange on the notification socket.
func requestHandle(conn net.Conn, ioTimeout time.Duration) (uint32, error) {
	if ioTimeout > 0 {
		conn.SetDeadline(time.Now().Add(ioTimeout)) //nolint:errcheck // deadline on a live TCP conn cannot fail usefully
	}

	if _, err := conn.Write(encodeCommand(cmdNOIB, 0, 0)); err != nil {
		return 0, fmt.Errorf("%w: notify handshake write: %w", ErrConnectionFailed, err)
	}

	resp := make([]byte, commandFrameSize)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return 0, fmt.Errorf("%w: notify handshake read: %w", ErrConnectionFailed, err)
	}

	res, err := decodeResult(resp)
	if err != nil {
		return 0, err
	}
	if err := statusErr("Notify", res); err != nil {
		return 0, err
	}

	// Clear the handshake deadline; the stream may legitimately stay
	// silent for long stretches.
	conn.SetDeadline(time.Time{}) //nolint:errcheck // see above

	return uint32(res), nil
}

// subscribe registers a handler for one GPIO and grows the daemon's
// subscription bitmask if needed. Registering an already-subscribed GPIO
// replaces its handler without touching the daemon.
func (l *listener) subscribe(gpio uint, handler EdgeHandler) error {
	if l.isClosed() {
		return ErrListenerClosed
	}

	bit := uint32(1) << gpio

	l.mu.Lock()
	prev := l.handlers[gpio]
	l.handlers[gpio] = handler
	maskChanged := l.mask&bit == 0
	l.mask |= bit
	mask := l.mask
	l.mu.Unlock()

	if !maskChanged {
		return nil
	}

	if err := l.pushMask(mask); err != nil {
		// The daemon never saw the new bit; undo the local registration
		// so state matches the daemon's.
		l.mu.Lock()
		l.handlers[gpio] = prev
		l.mask &^= bit
		l.mu.Unlock()
		return err
	}
	return nil
}

// unsubscribe removes a GPIO's handler and shrinks the subscription
// bitmask. The handler is removed even if the daemon update fails, so a
// dead daemon cannot pin stale callbacks.
func (l *listener) unsubscribe(gpio uint) error {
	if l.isClosed() {
		return ErrListenerClosed
	}

	bit := uint32(1) << gpio

	l.mu.Lock()
	hadBit := l.mask&bit != 0
	l.handlers[gpio] = nil
	l.mask &^= bit
	mask := l.mask
	l.mu.Unlock()

	if !hadBit {
		return nil
	}
	return l.pushMask(mask)
}

// pushMask tells the daemon which GPIOs to report on this handle.
// The command travels on the command socket, not the notify socket.
func (l *listener) pushMask(mask uint32) error {
	res, err := l.client.cmd.command("Notify", cmdNB, l.handle, mask)
	if err != nil {
		return err
	}
	return statusErr("Notify", res)
}

// receiveLoop reads notification records until the socket dies or the
// listener is closed. There is no deadline: a quiet stream is normal.
func (l *listener) receiveLoop() {
	defer l.wg.Done()

	buf := make([]byte, notifyRecordSize)
	for {
		if _, err := io.ReadFull(l.conn, buf); err != nil {
			if !l.isClosed() {
				l.client.errorsTotal.Add(1)
				l.client.logError("notification stream ended", err)
			}
			return
		}

		rec, err := parseNotifyRecord(buf)
		if err != nil {
			l.client.errorsTotal.Add(1)
			l.client.logError("notification record malformed", err)
			return
		}

		l.handleRecord(rec)
	}
}

// handleRecord classifies one record and dispatches to handlers.
//
// Watchdog records name their GPIO in the low flag bits and carry no
// level change. Keep-alive records only prove the daemon is up. Plain
// records are diffed against the previous level snapshot; each changed,
// subscribed GPIO gets exactly one handler call with its new level.
func (l *listener) handleRecord(rec notifyRecord) {
	l.eventsRx.Add(1)

	if rec.Flags != 0 {
		if rec.Flags&flagWatchdog != 0 {
			gpio := uint(rec.Flags & flagGPIOMask)

			l.mu.Lock()
			handler := l.handlers[gpio]
			l.mu.Unlock()

			if handler != nil {
				handler(gpio, LevelWatchdog, rec.Tick)
			}
		}
		if rec.Flags&flagAlive != 0 {
			l.lastAlive.Store(time.Now().Unix())
		}
		return
	}

	l.mu.Lock()
	changed := (rec.Level ^ l.lastLevel) & l.mask
	l.lastLevel = rec.Level
	handlers := l.handlers
	l.mu.Unlock()

	for gpio := uint(0); changed != 0; gpio++ {
		bit := uint32(1) << gpio
		if changed&bit == 0 {
			continue
		}
		changed &^= bit

		if handlers[gpio] == nil {
			continue
		}
		level := LevelLow
		if rec.Level&bit != 0 {
			level = LevelHigh
		}
		handlers[gpio](gpio, level, rec.Tick)
	}
}

// isClosed returns true if the listener has been closed.
func (l *listener) isClosed() bool {
	select {
	case <-l.done.Done():
		return true
	default:
		return false
	}
}

// close releases the daemon handle, closes the socket and joins the
// receive goroutine. Safe to call multiple times.
func (l *listener) close() {
	l.done.Close()

	// Best effort: the daemon reclaims the handle when the socket drops
	// anyway, but releasing it explicitly keeps the handle table tidy.
	if res, err := l.client.cmd.command("NotifyClose", cmdNC, l.handle, 0); err == nil {
		if serr := statusErr("NotifyClose", res); serr != nil {
			l.client.logError("notify handle release", serr)
		}
	}

	l.conn.Close()
	l.wg.Wait()
}
