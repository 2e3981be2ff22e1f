// Package mqtt connects Gray Logic Pi to the site message bus.
//
// The bus is the only interface between this bridge and a Gray Logic
// core: commands arrive on graylogic/command/gpio/+, and the bridge
// answers with acks, retained states, telemetry, and health under the
// matching topic categories (see Topics).
//
// The client keeps itself alive: paho reconnects with exponential
// backoff, tracked subscriptions are replayed on every reconnect, and
// the broker-side LWT flips the retained system status to offline if
// the process dies without a clean disconnect.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Subscribe(mqtt.Topics{}.AllBridgeCommands("gpio"), 1, handle)
//	client.PublishRetained(mqtt.Topics{}.BridgeState("gpio", "relay-pump"), payload)
//
// TLS (with credentials checked against the broker ACL) is expected in
// production; anonymous plaintext is for local development only.
package mqtt
