// Package logging wraps log/slog for Gray Logic Pi.
//
// Every entry carries service and version attributes, the level and
// format come from the logging section of the service config, and the
// same *Logger satisfies the small logging interfaces declared by the
// pigpio client and the GPIO bridge.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Typical use:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("bridge started", "devices", n)
//
// Don't log secrets: broker passwords and Influx tokens stay out of
// key/value pairs.
package logging
