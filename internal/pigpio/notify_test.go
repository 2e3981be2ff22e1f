package pigpio

import (
	"encoding/binary"
	"testing"
	"time"
)

// capturedEvent is one handler invocation recorded by tests.
type capturedEvent struct {
	gpio  uint
	level Level
	tick  uint32
}

// newBareListener builds a listener with no socket for exercising record
// dispatch directly.
func newBareListener() *listener {
	return &listener{
		client: &Client{},
		done:   newCloseOnce(),
	}
}

func makeRecord(seq, flags uint16, tick, level uint32) []byte {
	buf := make([]byte, notifyRecordSize)
	binary.LittleEndian.PutUint16(buf[0:2], seq)
	binary.LittleEndian.PutUint16(buf[2:4], flags)
	binary.LittleEndian.PutUint32(buf[4:8], tick)
	binary.LittleEndian.PutUint32(buf[8:12], level)
	return buf
}

func mustParse(t *testing.T, data []byte) notifyRecord {
	t.Helper()
	rec, err := parseNotifyRecord(data)
	if err != nil {
		t.Fatalf("parseNotifyRecord() error: %v", err)
	}
	return rec
}

func TestHandleRecordDispatchesSubscribedEdges(t *testing.T) {
	l := newBareListener()

	var events []capturedEvent
	l.handlers[4] = func(gpio uint, level Level, tick uint32) {
		events = append(events, capturedEvent{gpio, level, tick})
	}
	l.mask = 1 << 4

	// GPIO 4 rises, then GPIO 7 (unsubscribed) rises, then GPIO 4 falls.
	l.handleRecord(mustParse(t, makeRecord(0, 0, 1000, 1<<4)))
	l.handleRecord(mustParse(t, makeRecord(1, 0, 1500, 1<<4|1<<7)))
	l.handleRecord(mustParse(t, makeRecord(2, 0, 2000, 1<<7)))

	want := []capturedEvent{
		{4, LevelHigh, 1000},
		{4, LevelLow, 2000},
	}
	if len(events) != len(want) {
		t.Fatalf("dispatched %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev != want[i] {
			t.Errorf("event[%d] = %+v, want %+v", i, ev, want[i])
		}
	}
}

func TestHandleRecordMultipleGPIOsOneRecord(t *testing.T) {
	l := newBareListener()

	var events []capturedEvent
	handler := func(gpio uint, level Level, tick uint32) {
		events = append(events, capturedEvent{gpio, level, tick})
	}
	l.handlers[2] = handler
	l.handlers[5] = handler
	l.mask = 1<<2 | 1<<5

	// Both change in the same record: both fire, ascending GPIO order.
	l.handleRecord(mustParse(t, makeRecord(0, 0, 500, 1<<2|1<<5)))

	want := []capturedEvent{
		{2, LevelHigh, 500},
		{5, LevelHigh, 500},
	}
	if len(events) != len(want) {
		t.Fatalf("dispatched %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev != want[i] {
			t.Errorf("event[%d] = %+v, want %+v", i, ev, want[i])
		}
	}
}

func TestHandleRecordWatchdog(t *testing.T) {
	l := newBareListener()

	var events []capturedEvent
	l.handlers[11] = func(gpio uint, level Level, tick uint32) {
		events = append(events, capturedEvent{gpio, level, tick})
	}
	l.mask = 1 << 11

	l.handleRecord(mustParse(t, makeRecord(0, flagWatchdog|11, 9000, 0)))

	if len(events) != 1 {
		t.Fatalf("dispatched %d events, want 1", len(events))
	}
	if got, want := events[0], (capturedEvent{11, LevelWatchdog, 9000}); got != want {
		t.Errorf("event = %+v, want %+v", got, want)
	}
}

func TestHandleRecordWatchdogUnsubscribedGPIO(t *testing.T) {
	l := newBareListener()

	called := false
	l.handlers[4] = func(uint, Level, uint32) { called = true }
	l.mask = 1 << 4

	// Watchdog for a different GPIO does not reach gpio 4's handler.
	l.handleRecord(mustParse(t, makeRecord(0, flagWatchdog|9, 100, 0)))

	if called {
		t.Error("handler invoked for another GPIO's watchdog")
	}
}

func TestHandleRecordAlive(t *testing.T) {
	l := newBareListener()

	called := false
	l.handlers[4] = func(uint, Level, uint32) { called = true }
	l.mask = 1 << 4

	l.handleRecord(mustParse(t, makeRecord(0, flagAlive, 100, 1<<4)))

	if called {
		t.Error("handler invoked for keep-alive record")
	}
	if l.lastAlive.Load() == 0 {
		t.Error("keep-alive did not update liveness timestamp")
	}
}

func TestHandleRecordNoChangeNoDispatch(t *testing.T) {
	l := newBareListener()
	l.lastLevel = 1 << 4

	called := false
	l.handlers[4] = func(uint, Level, uint32) { called = true }
	l.mask = 1 << 4

	// Level matches the snapshot: nothing changed, nothing fires.
	l.handleRecord(mustParse(t, makeRecord(0, 0, 100, 1<<4)))

	if called {
		t.Error("handler invoked with no level change")
	}
}

func TestCallbackEndToEnd(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	const handle = 2

	daemon.setHandler(func(cmd recordedCommand) (int32, []byte) {
		switch cmd.Cmd {
		case cmdNOIB:
			return handle, nil
		case cmdBR1:
			return 0, nil // all pins low at subscribe time
		}
		return 0, nil
	})

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	events := make(chan capturedEvent, 8)
	err = client.Callback(4, func(gpio uint, level Level, tick uint32) {
		events <- capturedEvent{gpio, level, tick}
	})
	if err != nil {
		t.Fatalf("Callback() error: %v", err)
	}

	// Handshake: NOIB on the notify socket, BR1 seed, then NB with the
	// handle and the subscription bit.
	cmds := daemon.waitCommands(3)
	var nb *recordedCommand
	for i := range cmds {
		if cmds[i].Cmd == cmdNB {
			nb = &cmds[i]
		}
	}
	if nb == nil {
		t.Fatal("daemon never received NB")
	}
	if nb.P1 != handle || nb.P2 != 1<<4 {
		t.Errorf("NB p1=%d p2=%#x, want handle=%d mask=%#x", nb.P1, nb.P2, handle, uint32(1)<<4)
	}

	// Rising then falling edge on GPIO 4.
	daemon.pushNotify(makeRecord(0, 0, 1000, 1<<4))
	daemon.pushNotify(makeRecord(1, 0, 1600, 0))

	for _, want := range []capturedEvent{
		{4, LevelHigh, 1000},
		{4, LevelLow, 1600},
	} {
		select {
		case got := <-events:
			if got != want {
				t.Errorf("event = %+v, want %+v", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %+v", want)
		}
	}

	// Cancelling shrinks the mask to zero on the same handle.
	if err := client.CancelCallback(4); err != nil {
		t.Fatalf("CancelCallback() error: %v", err)
	}
	cmds = daemon.waitCommands(4)
	last := cmds[len(cmds)-1]
	if last.Cmd != cmdNB || last.P1 != handle || last.P2 != 0 {
		t.Errorf("final NB = %+v, want handle=%d mask=0", last, handle)
	}

	if stats := client.Stats(); !stats.Listening {
		t.Error("Listening = false while notify socket open")
	}
}

func TestCallbackReplacesHandlerWithoutNewNB(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	daemon.setHandler(func(cmd recordedCommand) (int32, []byte) {
		return 0, nil
	})

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	if err := client.Callback(4, func(uint, Level, uint32) {}); err != nil {
		t.Fatalf("Callback() error: %v", err)
	}
	before := len(daemon.waitCommands(3))

	// Same GPIO again: mask unchanged, daemon not touched.
	if err := client.Callback(4, func(uint, Level, uint32) {}); err != nil {
		t.Fatalf("second Callback() error: %v", err)
	}

	if after := len(daemon.commands()); after != before {
		t.Errorf("daemon saw %d extra commands for a handler replacement", after-before)
	}
}

func TestCancelCallbackWithoutListener(t *testing.T) {
	daemon := newMockDaemon(t)
	defer daemon.close()

	client, err := Connect(daemon.config())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	// No listener open, nothing registered: a no-op, not an error.
	if err := client.CancelCallback(4); err != nil {
		t.Errorf("CancelCallback() error: %v", err)
	}
}
