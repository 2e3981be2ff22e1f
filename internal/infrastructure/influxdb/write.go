package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSensorReading records a decoded DHT22 sample in the "climate"
// measurement, tagged by device. Non-blocking; the point rides the next
// batch.
func (c *Client) WriteSensorReading(deviceID string, temperature, humidity float64) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint("climate",
		map[string]string{"device_id": deviceID},
		map[string]interface{}{
			"temperature_c":    temperature,
			"humidity_percent": humidity,
		},
		time.Now()))
}

// WriteDeviceMetric records one scalar per-device metric, such as a
// decode bad-read or watchdog-timeout delta, in "device_metrics".
func (c *Client) WriteDeviceMetric(deviceID, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint("device_metrics",
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{"value": value},
		time.Now()))
}
