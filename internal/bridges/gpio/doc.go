// Package gpio implements the Gray Logic GPIO bridge.
//
// The bridge translates between the pigpio daemon and the Gray Logic MQTT
// bus:
//   - Commands from the bus (on/off/toggle) drive digital outputs
//   - Input edge notifications become retained state publishes
//   - DHT22 sensors are polled on an interval and decoded readings are
//     published as telemetry, persisted to SQLite and written to InfluxDB
//   - Health status is published periodically with daemon statistics
//
// # Topics
//
// The bridge uses the flat topic scheme with protocol segment "gpio":
//
//	graylogic/command/gpio/{device_id}    commands in
//	graylogic/ack/gpio/{device_id}        command acknowledgements out
//	graylogic/state/gpio/{device_id}      retained device state out
//	graylogic/telemetry/gpio/{device_id}  sensor readings out
//	graylogic/health/gpio                 retained bridge health out
//
// # Device map
//
// Devices are declared in a YAML device map (see LoadDeviceMap) listing
// outputs, inputs and DHT22 sensors with their BCM GPIO numbers.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package gpio
