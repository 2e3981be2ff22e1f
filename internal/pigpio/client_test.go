package pigpio

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// recordedCommand is one command frame as seen by the mock daemon.
type recordedCommand struct {
	Cmd uint32
	P1  uint32
	P2  uint32
	Ext []byte
}

// mockDaemon simulates a pigpio daemon for testing. It accepts any
// number of connections (command and notify sockets, reconnects) and
// answers each command frame via the configured handler.
type mockDaemon struct {
	t        *testing.T
	listener net.Listener

	mu         sync.Mutex
	conns      []net.Conn
	notifyConn net.Conn
	received   []recordedCommand

	// handler computes the result and optional trailing payload for a
	// command. Nil answers everything with 0.
	handler func(cmd recordedCommand) (int32, []byte)

	done chan struct{}
	wg   sync.WaitGroup
}

func newMockDaemon(t *testing.T) *mockDaemon {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	d := &mockDaemon{
		t:        t,
		listener: listener,
		done:     make(chan struct{}),
	}

	d.wg.Add(1)
	go d.acceptLoop()
	return d
}

func (d *mockDaemon) acceptLoop() {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}

		d.mu.Lock()
		d.conns = append(d.conns, conn)
		d.mu.Unlock()

		d.wg.Add(1)
		go d.serve(conn)
	}
}

func (d *mockDaemon) serve(conn net.Conn) {
	defer d.wg.Done()

	header := make([]byte, commandFrameSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		rec := recordedCommand{
			Cmd: binary.LittleEndian.Uint32(header[0:4]),
			P1:  binary.LittleEndian.Uint32(header[4:8]),
			P2:  binary.LittleEndian.Uint32(header[8:12]),
		}
		if extLen := binary.LittleEndian.Uint32(header[12:16]); extLen > 0 {
			rec.Ext = make([]byte, extLen)
			if _, err := io.ReadFull(conn, rec.Ext); err != nil {
				return
			}
		}

		d.mu.Lock()
		d.received = append(d.received, rec)
		handler := d.handler
		if rec.Cmd == cmdNOIB {
			d.notifyConn = conn
		}
		d.mu.Unlock()

		res, payload := int32(0), []byte(nil)
		if handler != nil {
			res, payload = handler(rec)
		}

		resp := make([]byte, commandFrameSize)
		copy(resp, header[:12])
		binary.LittleEndian.PutUint32(resp[12:16], uint32(res))
		if _, err := conn.Write(resp); err != nil {
			return
		}
		if len(payload) > 0 {
			if _, err := conn.Write(payload); err != nil {
				return
			}
		}
	}
}

// setHandler installs the command handler.
func (d *mockDaemon) setHandler(h func(cmd recordedCommand) (int32, []byte)) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// config returns a client configuration pointing at the mock.
func (d *mockDaemon) config() Config {
	host, portStr, _ := net.SplitHostPort(d.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return Config{
		Host:           host,
		Port:           port,
		ConnectTimeout: 2 * time.Second,
		IOTimeout:      2 * time.Second,
	}
}

// commands returns a copy of all received command frames.
func (d *mockDaemon) commands() []recordedCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]recordedCommand, len(d.received))
	copy(out, d.received)
	return out
}

// dropConnections closes every open connection, simulating a daemon
// restart. The listener stays up so the client can reconnect.
func (d *mockDaemon) dropConnections() {
	d.mu.Lock()
	for _, conn := range d.conns {
		conn.Close()
	}
	d.conns = nil
	d.notifyConn = nil
	d.mu.Unlock()
}

// pushNotify writes raw notification records to the notify socket.
func (d *mockDaemon) pushNotify(records []byte) {
	d.mu.Lock()
	conn := d.notifyConn
	d.mu.Unlock()

	if conn == nil {
		d.t.Fatal("No notify connection to push records on")
	}
	if _, err := conn.Write(records); err != nil {
		d.t.Fatalf("Push notify records: %v", err)
	}
}

func (d *mockDaemon) close() {
	close(d.done)
	d.listener.Close()
	d.mu.Lock()
	for _, conn := range d.conns {
		conn.Close()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// waitCommands polls until the daemon has seen at least n command frames.
func (d *mockDaemon) waitCommands(n int) []recordedCommand {
	d.t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cmds := d.commands()
		if len(cmds) >= n {
			return cmds
		}
		time.Sleep(5 * time.Millisecond)
	}
	d.t.Fatalf("Timed out waiting for %d commands, got %d", n, len(d.commands()))
	return nil
}

func TestConnectAndSetMode(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}

	if err := client.SetMode(17, ModeOutput); err != nil {
		t.Fatalf("SetMode() error: %v", err)
	}

	cmds := daemon.commands()
	if len(cmds) != 1 {
		t.Fatalf("daemon received %d commands, want 1", len(cmds))
	}
	got := cmds[0]
	if got.Cmd != cmdModeSet || got.P1 != 17 || got.P2 != ModeOutput {
		t.Errorf("received frame = %+v, want cmd=%d p1=17 p2=%d", got, cmdModeSet, ModeOutput)
	}

	stats := client.Stats()
	if stats.CommandsSent != 1 {
		t.Errorf("CommandsSent = %d, want 1", stats.CommandsSent)
	}
	if stats.ErrorsTotal != 0 {
		t.Errorf("ErrorsTotal = %d, want 0", stats.ErrorsTotal)
	}
}

func TestReadReturnsLevel(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	daemon.setHandler(func(cmd recordedCommand) (int32, []byte) {
		if cmd.Cmd == cmdRead && cmd.P1 == 22 {
			return 1, nil
		}
		return 0, nil
	})

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	level, err := client.Read(22)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if level != LevelHigh {
		t.Errorf("Read() = %d, want LevelHigh", level)
	}
}

func TestStatusErrorOnNegativeResult(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	daemon.setHandler(func(cmd recordedCommand) (int32, []byte) {
		return -3, nil // PI_BAD_MODE
	})

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	err = client.SetMode(4, 99)
	if err == nil {
		t.Fatal("SetMode() expected error, got nil")
	}

	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("error %v is not a *StatusError", err)
	}
	if serr.Code != -3 {
		t.Errorf("StatusError.Code = %d, want -3", serr.Code)
	}
	if serr.Op != "SetMode" {
		t.Errorf("StatusError.Op = %q, want SetMode", serr.Op)
	}

	if stats := client.Stats(); stats.ErrorsTotal != 1 {
		t.Errorf("ErrorsTotal = %d, want 1", stats.ErrorsTotal)
	}
}

func TestInvalidGPIORejectedBeforeWire(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	ops := []struct {
		name string
		call func() error
	}{
		{"SetMode", func() error { return client.SetMode(32, ModeOutput) }},
		{"Read", func() error { _, err := client.Read(99); return err }},
		{"Write", func() error { return client.Write(40, LevelHigh) }},
		{"SetWatchdog", func() error { return client.SetWatchdog(32, time.Second) }},
		{"Callback", func() error { return client.Callback(32, func(uint, Level, uint32) {}) }},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			if err := op.call(); !errors.Is(err, ErrInvalidGPIO) {
				t.Errorf("%s error = %v, want ErrInvalidGPIO", op.name, err)
			}
		})
	}

	if cmds := daemon.commands(); len(cmds) != 0 {
		t.Errorf("daemon received %d commands, want 0", len(cmds))
	}
}

func TestTransparentReconnect(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	if _, err := client.Tick(); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}

	daemon.dropConnections()

	// The command in flight when the socket died fails; its effect on
	// the daemon is unknown, so no silent retry.
	if _, err := client.Tick(); err == nil {
		t.Fatal("Tick() after connection drop expected error, got nil")
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after failed exchange")
	}

	// The next command redials transparently.
	if _, err := client.Tick(); err != nil {
		t.Fatalf("Tick() after reconnect error: %v", err)
	}

	if stats := client.Stats(); stats.ReconnectsTotal != 1 {
		t.Errorf("ReconnectsTotal = %d, want 1", stats.ReconnectsTotal)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	// Safe to call twice.
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}

	if _, err := client.Tick(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Tick() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestTriggerSendsExtendedFrame(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	if err := client.Trigger(4, 10*time.Microsecond, LevelHigh); err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}

	cmds := daemon.commands()
	if len(cmds) != 1 {
		t.Fatalf("daemon received %d commands, want 1", len(cmds))
	}
	got := cmds[0]
	if got.Cmd != cmdTrigger || got.P1 != 4 || got.P2 != 10 {
		t.Errorf("received frame = %+v, want cmd=%d p1=4 p2=10", got, cmdTrigger)
	}
	if len(got.Ext) != 4 || binary.LittleEndian.Uint32(got.Ext) != uint32(LevelHigh) {
		t.Errorf("extension = % x, want level word 1", got.Ext)
	}
}

func TestSPIReadPayload(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	daemon.setHandler(func(cmd recordedCommand) (int32, []byte) {
		switch cmd.Cmd {
		case cmdSPIOpen:
			return 3, nil // handle
		case cmdSPIRead:
			return int32(len(want)), want
		}
		return 0, nil
	})

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	handle, err := client.SPIOpen(0, 1000000, 0)
	if err != nil {
		t.Fatalf("SPIOpen() error: %v", err)
	}
	if handle != 3 {
		t.Errorf("SPIOpen() handle = %d, want 3", handle)
	}

	data, err := client.SPIRead(handle, uint(len(want)))
	if err != nil {
		t.Fatalf("SPIRead() error: %v", err)
	}
	if string(data) != string(want) {
		t.Errorf("SPIRead() = % x, want % x", data, want)
	}

	if err := client.SPIClose(handle); err != nil {
		t.Fatalf("SPIClose() error: %v", err)
	}
}

func TestSerialOpenCarriesDevicePath(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	daemon.setHandler(func(cmd recordedCommand) (int32, []byte) {
		if cmd.Cmd == cmdSerialOpen {
			return 7, nil // handle
		}
		return 0, nil
	})

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	handle, err := client.SerialOpen("/dev/ttyAMA0", 9600, 0)
	if err != nil {
		t.Fatalf("SerialOpen() error: %v", err)
	}
	if handle != 7 {
		t.Errorf("SerialOpen() handle = %d, want 7", handle)
	}

	cmds := daemon.commands()
	got := cmds[0]
	if got.Cmd != cmdSerialOpen || got.P1 != 9600 {
		t.Errorf("received frame = %+v, want cmd=%d p1=9600", got, cmdSerialOpen)
	}
	if string(got.Ext) != "/dev/ttyAMA0" {
		t.Errorf("extension = %q, want /dev/ttyAMA0", got.Ext)
	}
}

func TestReadBank1KeepsSignBit(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	daemon.setHandler(func(cmd recordedCommand) (int32, []byte) {
		if cmd.Cmd == cmdBR1 {
			return int32(-2147483648), nil // GPIO 31 high
		}
		return 0, nil
	})

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	levels, err := client.ReadBank1()
	if err != nil {
		t.Fatalf("ReadBank1() error: %v", err)
	}
	if levels != 1<<31 {
		t.Errorf("ReadBank1() = %#x, want %#x", levels, uint32(1)<<31)
	}
}

func TestConcurrentCommands(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	daemon.setHandler(func(cmd recordedCommand) (int32, []byte) {
		if cmd.Cmd == cmdRead {
			return int32(cmd.P1 & 1), nil
		}
		return 0, nil
	})

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	// Responses must pair with their own requests even when many
	// goroutines share the socket.
	var wg sync.WaitGroup
	errCh := make(chan error, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(gpio uint) {
			defer wg.Done()
			for n := 0; n < 8; n++ {
				level, err := client.Read(gpio)
				if err != nil {
					errCh <- err
					return
				}
				if uint(level) != gpio&1 {
					errCh <- errors.New("response paired with wrong request")
					return
				}
			}
		}(uint(i))
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent Read: %v", err)
	}
}
