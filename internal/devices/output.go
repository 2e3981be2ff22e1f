package devices

import (
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-pi/internal/pigpio"
)

// Output drives a single GPIO configured as a digital output.
//
// ActiveLow inverts the wire level: On drives the pin low. Relay boards
// and most LED modules are wired this way.
type Output struct {
	conn      pigpio.Conn
	gpio      uint
	activeLow bool

	mu sync.Mutex
	on bool
}

// NewOutput configures the GPIO as an output and returns a handle for
// it. The pin is driven to the off level immediately so the hardware
// starts in a known state.
func NewOutput(conn pigpio.Conn, gpio uint, activeLow bool) (*Output, error) {
	o := &Output{
		conn:      conn,
		gpio:      gpio,
		activeLow: activeLow,
	}

	if err := conn.SetMode(gpio, pigpio.ModeOutput); err != nil {
		return nil, fmt.Errorf("output gpio %d: %w", gpio, err)
	}
	if err := o.Set(false); err != nil {
		return nil, fmt.Errorf("output gpio %d: %w", gpio, err)
	}
	return o, nil
}

// GPIO returns the pin this output drives.
func (o *Output) GPIO() uint {
	return o.gpio
}

// Set drives the output on or off, honouring active-low wiring.
func (o *Output) Set(on bool) error {
	level := pigpio.LevelLow
	if on != o.activeLow {
		level = pigpio.LevelHigh
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.conn.Write(o.gpio, level); err != nil {
		return err
	}
	o.on = on
	return nil
}

// On switches the output on.
func (o *Output) On() error {
	return o.Set(true)
}

// Off switches the output off.
func (o *Output) Off() error {
	return o.Set(false)
}

// Toggle inverts the output and returns the new logical state.
func (o *Output) Toggle() (bool, error) {
	o.mu.Lock()
	next := !o.on
	o.mu.Unlock()

	if err := o.Set(next); err != nil {
		return false, err
	}
	return next, nil
}

// IsOn returns the last commanded logical state. It reflects what this
// process wrote, not a fresh read of the pin.
func (o *Output) IsOn() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.on
}

// Input reads a single GPIO configured as a digital input.
type Input struct {
	conn      pigpio.Conn
	gpio      uint
	activeLow bool
}

// NewInput configures the GPIO as an input with the given pull resistor
// (pigpio.PullOff, PullDown or PullUp).
func NewInput(conn pigpio.Conn, gpio uint, pull uint32, activeLow bool) (*Input, error) {
	in := &Input{
		conn:      conn,
		gpio:      gpio,
		activeLow: activeLow,
	}

	if err := conn.SetMode(gpio, pigpio.ModeInput); err != nil {
		return nil, fmt.Errorf("input gpio %d: %w", gpio, err)
	}
	if err := conn.SetPullUpDown(gpio, pull); err != nil {
		return nil, fmt.Errorf("input gpio %d: %w", gpio, err)
	}
	return in, nil
}

// GPIO returns the pin this input reads.
func (in *Input) GPIO() uint {
	return in.gpio
}

// Read returns the logical state of the input, honouring active-low
// wiring.
func (in *Input) Read() (bool, error) {
	level, err := in.conn.Read(in.gpio)
	if err != nil {
		return false, err
	}
	return (level == pigpio.LevelHigh) != in.activeLow, nil
}

// OnChange registers a handler invoked with the new logical state on
// every edge. Watchdog events on the pin are ignored. The handler runs
// on the notification goroutine and must not block.
func (in *Input) OnChange(handler func(active bool, tick uint32)) error {
	return in.conn.Callback(in.gpio, func(_ uint, level pigpio.Level, tick uint32) {
		if level == pigpio.LevelWatchdog {
			return
		}
		handler((level == pigpio.LevelHigh) != in.activeLow, tick)
	})
}

// CancelChange removes the edge handler.
func (in *Input) CancelChange() error {
	return in.conn.CancelCallback(in.gpio)
}
