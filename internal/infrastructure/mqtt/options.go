package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-pi/internal/infrastructure/config"
)

const (
	connectTimeout      = 10 * time.Second
	publishTimeout      = 5 * time.Second
	disconnectQuiesceMs = 1000
	keepAlive           = 60 * time.Second

	// maxQoS is the highest MQTT QoS level.
	maxQoS = 2
)

// clientOptions maps the mqtt config section onto paho options,
// including the LWT so the broker announces us offline if the process
// dies without a clean disconnect.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Fresh session each connect; the client replays its own
	// subscriptions, so broker-side session state buys nothing.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	opts.SetWill(Topics{}.SystemStatus(),
		statusPayload("offline", cfg.Broker.ClientID, "unexpected_disconnect"), 1, true)

	return opts
}

// statusPayload builds the retained system status JSON. Reason is
// omitted when empty (the online announcement).
func statusPayload(status, clientID, reason string) string {
	ts := time.Now().UTC().Format(time.RFC3339)
	if reason == "" {
		return fmt.Sprintf(`{"status":"%s","client_id":"%s","timestamp":"%s"}`,
			status, clientID, ts)
	}
	return fmt.Sprintf(`{"status":"%s","client_id":"%s","reason":"%s","timestamp":"%s"}`,
		status, clientID, reason, ts)
}
