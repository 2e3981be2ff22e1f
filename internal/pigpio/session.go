package pigpio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// session owns exactly one TCP stream to one daemon endpoint and
// guarantees strict command/response pairing: concurrent callers are
// serialised so their writes and reads never interleave.
//
// If the socket is found disconnected at call time the session
// transparently reopens it using the stored endpoint before sending.
// Failure to reopen is reported, not retried.
type session struct {
	host           string
	port           int
	connectTimeout time.Duration
	ioTimeout      time.Duration // zero means block indefinitely

	// reqMu serialises whole write-request/read-response exchanges.
	reqMu sync.Mutex

	// connMu guards the conn pointer only, so close() can interrupt an
	// exchange blocked on I/O (closing the socket is the protocol's only
	// cancellation primitive).
	connMu sync.RWMutex
	conn   net.Conn
	closed bool

	reconnects atomic.Uint64
}

func newSession(host string, port int, connectTimeout, ioTimeout time.Duration) *session {
	return &session{
		host:           host,
		port:           port,
		connectTimeout: connectTimeout,
		ioTimeout:      ioTimeout,
	}
}

// addr returns the daemon endpoint in host:port form.
func (s *session) addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// dial opens the TCP connection and stores it.
func (s *session) dial() error {
	conn, err := net.DialTimeout("tcp", s.addr(), s.connectTimeout)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, s.addr(), err)
	}
	s.connMu.Lock()
	s.conn = conn
	s.closed = false
	s.connMu.Unlock()
	return nil
}

// ensureConn redials if the socket was previously torn down. Caller
// holds reqMu. Returns the live connection.
func (s *session) ensureConn() (net.Conn, error) {
	s.connMu.RLock()
	conn, closed := s.conn, s.closed
	s.connMu.RUnlock()

	if closed {
		return nil, ErrNotConnected
	}
	if conn != nil {
		return conn, nil
	}
	if err := s.dial(); err != nil {
		return nil, err
	}
	s.reconnects.Add(1)

	s.connMu.RLock()
	conn = s.conn
	s.connMu.RUnlock()
	return conn, nil
}

// fail tears down the connection after an I/O error so the next call
// reconnects. A command whose response was lost has unknown effect on
// the daemon, so it is surfaced as an error and never retried here.
func (s *session) fail(op string, err error) error {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	wasClosed := s.closed
	s.connMu.Unlock()

	if wasClosed {
		return fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	if errors.Is(err, ErrProtocolDesync) || errors.Is(err, ErrConnectionFailed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrConnectionFailed, err)
}

// setDeadline applies the optional I/O timeout. Callers needing bounded
// waits configure it at the socket layer; the protocol itself carries
// no timeout.
func (s *session) setDeadline(conn net.Conn) {
	if s.ioTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.ioTimeout)) //nolint:errcheck // deadline on a live TCP conn cannot fail usefully
	}
}

// exchange writes one encoded frame and reads the 16-byte response.
// When wantPayload is true and the result is positive, it additionally
// reads that many payload bytes before releasing the request lock, so
// no other command can interleave with the secondary read.
func (s *session) exchange(op string, frame []byte, wantPayload bool) (int32, []byte, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	conn, err := s.ensureConn()
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", op, err)
	}

	s.setDeadline(conn)

	if _, err := conn.Write(frame); err != nil {
		return 0, nil, s.fail(op, err)
	}

	resp := make([]byte, commandFrameSize)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return 0, nil, s.fail(op, err)
	}

	res, err := decodeResult(resp)
	if err != nil {
		return 0, nil, s.fail(op, err)
	}

	if !wantPayload || res <= 0 {
		return res, nil, nil
	}

	payload := make([]byte, res)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return 0, nil, s.fail(op, err)
	}
	return res, payload, nil
}

// command sends a simple command and returns the daemon's result.
func (s *session) command(op string, cmd, p1, p2 uint32) (int32, error) {
	res, _, err := s.exchange(op, encodeCommand(cmd, p1, p2), false)
	return res, err
}

// extended sends an extended command whose payload is raw bytes.
func (s *session) extended(op string, cmd, p1, p2 uint32, payload []byte) (int32, error) {
	res, _, err := s.exchange(op, encodeExtended(cmd, p1, p2, payload), false)
	return res, err
}

// extendedWords sends an extended command whose payload is packed
// little-endian uint32 words.
func (s *session) extendedWords(op string, cmd, p1, p2 uint32, words []uint32) (int32, error) {
	return s.extended(op, cmd, p1, p2, packWords(words))
}

// commandPayload sends a simple command whose positive result announces
// a trailing data payload (SPI/serial reads) and returns both.
func (s *session) commandPayload(op string, cmd, p1, p2 uint32) (int32, []byte, error) {
	return s.exchange(op, encodeCommand(cmd, p1, p2), true)
}

// extendedPayload sends an extended command whose positive result
// announces a trailing data payload (SPI transfer) and returns both.
func (s *session) extendedPayload(op string, cmd, p1, p2 uint32, payload []byte) (int32, []byte, error) {
	return s.exchange(op, encodeExtended(cmd, p1, p2, payload), true)
}

// connected reports whether the session currently holds an open socket.
func (s *session) connected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn != nil
}

// close tears down the socket permanently. Any in-flight exchange fails
// with ErrNotConnected; subsequent calls do not redial.
func (s *session) close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
