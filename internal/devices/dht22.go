package devices

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-pi/internal/pigpio"
)

// DHT22 single-wire protocol timing, in daemon ticks (microseconds).
const (
	// dhtOneBitMin separates a 0 bit (~26µs high) from a 1 bit (~70µs).
	dhtOneBitMin = 50

	// dhtCorruptMin marks a pulse too long to be either bit value.
	dhtCorruptMin = 200

	// dhtStaleGap is the largest rising-edge gap inside one frame. The
	// sensor clocks a whole frame within ~5ms of the trigger; anything
	// longer means the frame was missed or cut short.
	dhtStaleGap = 250000

	// dhtFrameBits is one full frame: humidity, temperature, checksum.
	dhtFrameBits = 40

	// dhtTriggerHold is how long the line is held low to request a frame.
	dhtTriggerHold = 18 * time.Millisecond

	// dhtWatchdog bounds the wait for the sensor's response so a missing
	// frame produces a watchdog event instead of silence.
	dhtWatchdog = 200 * time.Millisecond
)

// csCorrupt poisons the checksum accumulator when a pulse width is
// implausible. 256 is unreachable for an 8-bit sum, so the final
// comparison fails without aborting the frame early.
const csCorrupt = 256

// Sensor decodes a DHT22 humidity/temperature sensor on one GPIO.
//
// The sensor answers a trigger pulse with a 40-bit frame clocked as
// pulse widths: each bit is a low phase followed by a high phase whose
// duration encodes 0 or 1. The daemon reports the edges; the decoder
// classifies each falling edge by the time since the previous rising
// edge and assembles humidity, temperature and checksum bytes.
//
// Trigger is asynchronous: the frame arrives via the notification
// stream roughly 5ms later. Poll LastRead to detect a fresh value.
type Sensor struct {
	conn pigpio.Conn
	gpio uint

	mu sync.Mutex

	// Frame assembly. bit starts at -2 to skip the sensor's two header
	// pulses before the first data bit.
	bit      int
	hHi      uint32
	hLo      uint32
	tHi      uint32
	tLo      uint32
	checksum uint32
	highTick uint32

	// Last good decode.
	temperature float64
	humidity    float64
	lastRead    time.Time

	badReads uint64 // checksum mismatches
	timeouts uint64 // watchdog fired before a full frame
}

// NewSensor registers the decoder on the GPIO's edge stream. The pin is
// left as an input; call Trigger to request a reading.
func NewSensor(conn pigpio.Conn, gpio uint) (*Sensor, error) {
	s := &Sensor{
		conn: conn,
		gpio: gpio,
		bit:  -2,
	}

	if err := conn.SetMode(gpio, pigpio.ModeInput); err != nil {
		return nil, fmt.Errorf("dht22 gpio %d: %w", gpio, err)
	}
	if err := conn.Callback(gpio, s.onEdge); err != nil {
		return nil, fmt.Errorf("dht22 gpio %d: %w", gpio, err)
	}
	return s, nil
}

// GPIO returns the sensor's data pin.
func (s *Sensor) GPIO() uint {
	return s.gpio
}

// Trigger requests a new reading: the line is held low for ~18ms, then
// released back to input so the sensor can answer, with a watchdog
// armed to bound the wait. The decoded values appear asynchronously;
// poll LastRead for freshness. Leave at least 2 seconds between
// triggers, per the sensor's datasheet.
func (s *Sensor) Trigger() error {
	if err := s.conn.Write(s.gpio, pigpio.LevelLow); err != nil {
		return fmt.Errorf("dht22 trigger gpio %d: %w", s.gpio, err)
	}
	time.Sleep(dhtTriggerHold)
	if err := s.conn.SetMode(s.gpio, pigpio.ModeInput); err != nil {
		return fmt.Errorf("dht22 trigger gpio %d: %w", s.gpio, err)
	}
	if err := s.conn.SetWatchdog(s.gpio, dhtWatchdog); err != nil {
		return fmt.Errorf("dht22 trigger gpio %d: %w", s.gpio, err)
	}
	return nil
}

// onEdge consumes one notification event for the sensor's GPIO.
func (s *Sensor) onEdge(_ uint, level pigpio.Level, tick uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch level {
	case pigpio.LevelLow:
		s.fallingEdge(tick)
	case pigpio.LevelHigh:
		s.risingEdge(tick)
	case pigpio.LevelWatchdog:
		s.watchdog()
	}
}

// fallingEdge ends a high phase: its width classifies the bit.
func (s *Sensor) fallingEdge(tick uint32) {
	diff := pigpio.TickDelta(s.highTick, tick)

	var val uint32
	if diff >= dhtOneBitMin {
		val = 1
	}
	if diff >= dhtCorruptMin {
		// Implausible pulse: keep assembling so the frame stays in sync,
		// but make the checksum comparison fail.
		s.checksum = csCorrupt
	}

	switch {
	case s.bit >= dhtFrameBits:
		s.bit = dhtFrameBits // complete; ignore trailing edges
		return
	case s.bit >= 32:
		s.checksum = (s.checksum << 1) + val
		if s.bit == dhtFrameBits-1 {
			s.finishFrame()
		}
	case s.bit >= 24:
		s.tLo = (s.tLo << 1) + val
	case s.bit >= 16:
		s.tHi = (s.tHi << 1) + val
	case s.bit >= 8:
		s.hLo = (s.hLo << 1) + val
	case s.bit >= 0:
		s.hHi = (s.hHi << 1) + val
	default:
		// Header pulses before the first data bit.
	}

	s.bit++
}

// risingEdge starts a high phase. A gap larger than a frame's worth of
// ticks means the previous frame was abandoned.
func (s *Sensor) risingEdge(tick uint32) {
	if pigpio.TickDelta(s.highTick, tick) > dhtStaleGap {
		s.resetFrame()
	}
	s.highTick = tick
}

// watchdog fires when the sensor never completed a frame in time.
func (s *Sensor) watchdog() {
	if s.bit > -2 && s.bit < dhtFrameBits {
		s.timeouts++
	}
	s.resetFrame()
	// Disarm: one watchdog event per trigger is enough.
	s.conn.SetWatchdog(s.gpio, 0) //nolint:errcheck // best effort, next trigger re-arms
}

// finishFrame validates the checksum and publishes the reading. The
// accumulators are left clamped at the complete state; the stale-gap
// check resets them when the next frame starts.
func (s *Sensor) finishFrame() {
	sum := (s.hHi + s.hLo + s.tHi + s.tLo) & 0xFF
	if sum != s.checksum {
		s.badReads++
		return
	}

	s.humidity = float64(s.hHi<<8|s.hLo) / 10.0
	temp := float64((s.tHi&0x7F)<<8|s.tLo) / 10.0
	if s.tHi&0x80 != 0 {
		temp = -temp
	}
	s.temperature = temp
	s.lastRead = time.Now()

	s.conn.SetWatchdog(s.gpio, 0) //nolint:errcheck // best effort, next trigger re-arms
}

// resetFrame clears the accumulators back to the header state.
func (s *Sensor) resetFrame() {
	s.bit = -2
	s.hHi, s.hLo, s.tHi, s.tLo = 0, 0, 0, 0
	s.checksum = 0
}

// Temperature returns the last good reading in degrees Celsius, or 0
// before the first successful decode (check LastRead).
func (s *Sensor) Temperature() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temperature
}

// Humidity returns the last good relative humidity in percent.
func (s *Sensor) Humidity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.humidity
}

// LastRead returns when the last good frame was decoded; zero if none.
func (s *Sensor) LastRead() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRead
}

// BadReads returns the number of frames rejected by the checksum.
func (s *Sensor) BadReads() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.badReads
}

// Timeouts returns the number of triggers that never produced a full
// frame before the watchdog fired.
func (s *Sensor) Timeouts() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeouts
}

// Close removes the edge subscription and disarms the watchdog.
func (s *Sensor) Close() error {
	s.conn.SetWatchdog(s.gpio, 0) //nolint:errcheck // best effort during teardown
	return s.conn.CancelCallback(s.gpio)
}
