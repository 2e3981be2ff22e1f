package devices

import (
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-pi/internal/pigpio"
)

// pinWrite is one recorded Write call.
type pinWrite struct {
	gpio  uint
	level pigpio.Level
}

// fakeConn implements pigpio.Conn in memory for device helper tests.
type fakeConn struct {
	mu        sync.Mutex
	modes     map[uint]uint32
	pulls     map[uint]uint32
	levels    map[uint]pigpio.Level
	watchdogs map[uint]time.Duration
	handlers  map[uint]pigpio.EdgeHandler
	writes    []pinWrite

	writeErr error // returned by Write when set
}

var _ pigpio.Conn = (*fakeConn)(nil)

func newFakeConn() *fakeConn {
	return &fakeConn{
		modes:     make(map[uint]uint32),
		pulls:     make(map[uint]uint32),
		levels:    make(map[uint]pigpio.Level),
		watchdogs: make(map[uint]time.Duration),
		handlers:  make(map[uint]pigpio.EdgeHandler),
	}
}

func (f *fakeConn) SetMode(gpio uint, mode uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes[gpio] = mode
	return nil
}

func (f *fakeConn) GetMode(gpio uint) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modes[gpio], nil
}

func (f *fakeConn) Read(gpio uint) (pigpio.Level, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[gpio], nil
}

func (f *fakeConn) Write(gpio uint, level pigpio.Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.levels[gpio] = level
	f.modes[gpio] = pigpio.ModeOutput
	f.writes = append(f.writes, pinWrite{gpio, level})
	return nil
}

func (f *fakeConn) SetPullUpDown(gpio uint, pud uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls[gpio] = pud
	return nil
}

func (f *fakeConn) SetWatchdog(gpio uint, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchdogs[gpio] = timeout
	return nil
}

func (f *fakeConn) Trigger(gpio uint, pulse time.Duration, level pigpio.Level) error {
	return nil
}

func (f *fakeConn) Callback(gpio uint, handler pigpio.EdgeHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[gpio] = handler
	return nil
}

func (f *fakeConn) CancelCallback(gpio uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, gpio)
	return nil
}

// fire delivers an edge event to the registered handler, as the
// notification stream would.
func (f *fakeConn) fire(gpio uint, level pigpio.Level, tick uint32) {
	f.mu.Lock()
	handler := f.handlers[gpio]
	f.mu.Unlock()

	if handler != nil {
		handler(gpio, level, tick)
	}
}

// lastWrite returns the most recent Write call.
func (f *fakeConn) lastWrite() pinWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return pinWrite{}
	}
	return f.writes[len(f.writes)-1]
}

func (f *fakeConn) mode(gpio uint) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modes[gpio]
}

func (f *fakeConn) watchdog(gpio uint) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchdogs[gpio]
}

func (f *fakeConn) hasHandler(gpio uint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[gpio] != nil
}
