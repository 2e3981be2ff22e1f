package gpio

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-pi/internal/pigpio"
)

// maxUserGPIO is the highest GPIO usable by bridge devices. Notifications
// only cover bank 1 (GPIO 0-31), so higher pins cannot report edges.
const maxUserGPIO = 31

// minSensorPollSeconds is the minimum DHT22 poll interval. The sensor
// needs about two seconds between conversions to produce fresh data.
const minSensorPollSeconds = 2

// DeviceMap is the device declaration file for the bridge.
// Loaded from YAML (config key devices.file in the service config).
type DeviceMap struct {
	Outputs []OutputConfig `yaml:"outputs"`
	Inputs  []InputConfig  `yaml:"inputs"`
	Sensors []SensorConfig `yaml:"sensors"`
}

// OutputConfig declares a digital output (relay, LED, contactor).
type OutputConfig struct {
	// DeviceID is the Gray Logic device identifier.
	DeviceID string `yaml:"device_id"`

	// GPIO is the BCM pin number (0-31).
	GPIO uint `yaml:"gpio"`

	// ActiveLow inverts the electrical level: logical "on" drives the
	// pin low. Common for relay boards with active-low inputs.
	ActiveLow bool `yaml:"active_low"`

	// InitialOn sets the output on at startup. Default off.
	InitialOn bool `yaml:"initial_on"`
}

// InputConfig declares a digital input (switch, contact, PIR).
type InputConfig struct {
	// DeviceID is the Gray Logic device identifier.
	DeviceID string `yaml:"device_id"`

	// GPIO is the BCM pin number (0-31).
	GPIO uint `yaml:"gpio"`

	// Pull selects the internal resistor: "off", "up" or "down".
	// Default: "off".
	Pull string `yaml:"pull"`

	// ActiveLow inverts the logical reading: a low pin reads active.
	// Common for switches wired to ground with a pull-up.
	ActiveLow bool `yaml:"active_low"`

	// DebounceMillis suppresses edges arriving within this many
	// milliseconds of the last accepted edge. 0 disables debouncing.
	DebounceMillis int `yaml:"debounce_ms"`
}

// DebounceTicks returns the debounce window in daemon tick units
// (microseconds).
func (i InputConfig) DebounceTicks() uint32 {
	return uint32(i.DebounceMillis) * 1000
}

// SensorConfig declares a DHT22 climate sensor.
type SensorConfig struct {
	// DeviceID is the Gray Logic device identifier.
	DeviceID string `yaml:"device_id"`

	// GPIO is the BCM pin number (0-31) the sensor data line is on.
	GPIO uint `yaml:"gpio"`

	// PollIntervalSeconds is how often to trigger a conversion.
	// Minimum 2 seconds; default 60.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// PollInterval returns the sensor poll interval as a Duration.
func (s SensorConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// PullMode converts the configured pull string to a pigpio constant.
func (i InputConfig) PullMode() uint32 {
	switch i.Pull {
	case "up":
		return pigpio.PullUp
	case "down":
		return pigpio.PullDown
	default:
		return pigpio.PullOff
	}
}

// LoadDeviceMap reads a device map from a YAML file.
//
// Parameters:
//   - path: Path to the YAML device map file
//
// Returns:
//   - *DeviceMap: Loaded and validated device map
//   - error: If the file cannot be read, parsed, or validation fails
func LoadDeviceMap(path string) (*DeviceMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device map: %w", err)
	}

	dm := &DeviceMap{}
	if err := yaml.Unmarshal(data, dm); err != nil {
		return nil, fmt.Errorf("parsing device map: %w", err)
	}

	applyDeviceMapDefaults(dm)

	if err := dm.Validate(); err != nil {
		return nil, fmt.Errorf("validating device map: %w", err)
	}

	return dm, nil
}

// applyDeviceMapDefaults fills in optional fields.
func applyDeviceMapDefaults(dm *DeviceMap) {
	for i := range dm.Inputs {
		if dm.Inputs[i].Pull == "" {
			dm.Inputs[i].Pull = "off"
		}
	}
	for i := range dm.Sensors {
		if dm.Sensors[i].PollIntervalSeconds == 0 {
			dm.Sensors[i].PollIntervalSeconds = 60
		}
	}
}

// DeviceCount returns the total number of declared devices.
func (dm *DeviceMap) DeviceCount() int {
	return len(dm.Outputs) + len(dm.Inputs) + len(dm.Sensors)
}

// Validate checks the device map for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (dm *DeviceMap) Validate() error {
	var errs []string

	deviceIDs := make(map[string]bool)
	gpios := make(map[uint]string)

	claim := func(section string, idx int, id string, gpio uint) {
		if id == "" {
			errs = append(errs, fmt.Sprintf("%s[%d].device_id is required", section, idx))
			return
		}
		if deviceIDs[id] {
			errs = append(errs, fmt.Sprintf("%s[%d].device_id %q is duplicate", section, idx, id))
		}
		deviceIDs[id] = true

		if gpio > maxUserGPIO {
			errs = append(errs, fmt.Sprintf("%s[%d].gpio %d exceeds %d", section, idx, gpio, maxUserGPIO))
			return
		}
		if owner, taken := gpios[gpio]; taken {
			errs = append(errs, fmt.Sprintf("%s[%d].gpio %d already used by %q", section, idx, gpio, owner))
		}
		gpios[gpio] = id
	}

	for i, out := range dm.Outputs {
		claim("outputs", i, out.DeviceID, out.GPIO)
	}

	for i, in := range dm.Inputs {
		claim("inputs", i, in.DeviceID, in.GPIO)
		if in.Pull != "off" && in.Pull != "up" && in.Pull != "down" {
			errs = append(errs, fmt.Sprintf("inputs[%d].pull %q is invalid (use off, up, or down)", i, in.Pull))
		}
		if in.DebounceMillis < 0 {
			errs = append(errs, fmt.Sprintf("inputs[%d].debounce_ms must not be negative", i))
		}
	}

	for i, s := range dm.Sensors {
		claim("sensors", i, s.DeviceID, s.GPIO)
		if s.PollIntervalSeconds < minSensorPollSeconds {
			errs = append(errs, fmt.Sprintf("sensors[%d].poll_interval_seconds must be at least %d", i, minSensorPollSeconds))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("device map errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
