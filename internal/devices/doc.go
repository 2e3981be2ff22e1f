// Package devices provides small helpers for hardware attached to GPIO
// pins driven through a pigpio daemon connection.
//
// Helpers are built on the pigpio.Conn capability interface rather than
// the concrete client, so they can be exercised against fakes in tests.
// Output and Input wrap single-pin digital I/O; Sensor decodes the DHT22
// humidity/temperature pulse train from edge notifications.
//
// # Key Responsibilities
//
//   - Digital outputs with optional active-low wiring (relays, LEDs)
//   - Digital inputs with pull configuration and edge subscriptions
//   - DHT22 single-wire frame decoding with checksum validation
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Sensor state is
// mutated only by edge events for its own GPIO, delivered one at a time
// by the notification stream.
package devices
