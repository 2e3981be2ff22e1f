// Package influxdb writes Gray Logic Pi telemetry to InfluxDB v2.
//
// Two measurements cover the bridge's needs: "climate" holds decoded
// DHT22 samples (temperature_c, humidity_percent) and "device_metrics"
// holds scalar per-device values such as decode bad-read and timeout
// deltas. Writes are batched and non-blocking; batch failures arrive on
// the SetOnError callback rather than at the call site.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSensorReading("dht22-loft", 26.2, 40.8)
//
// The whole integration is optional: with enabled: false in config,
// Connect returns ErrDisabled and the bridge simply runs without a
// telemetry sink.
package influxdb
