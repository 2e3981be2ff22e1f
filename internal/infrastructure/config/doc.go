// Package config loads the graypi service configuration.
//
// Settings layer in a fixed order: compiled-in defaults, then the YAML
// file, then GRAYPI_* environment variables. The environment layer
// exists for secrets (broker password, InfluxDB token) and per-host
// values, so deployments can share one file and keep credentials out
// of it. Load validates the merged result and reports every problem in
// a single error.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	daemon, err := pigpio.Connect(pigpio.Config{Host: cfg.Daemon.Host, Port: cfg.Daemon.Port})
//
// The device map (outputs, inputs, sensors) lives in its own file,
// pointed at by devices.file, and is owned by the gpio bridge.
package config
