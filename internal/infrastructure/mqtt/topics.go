package mqtt

import "fmt"

// Topic prefixes for the Gray Logic bus. Bridge topics follow the flat
// scheme graylogic/{category}/{protocol}/{address}; this service
// publishes under the "gpio" protocol segment.
const (
	TopicPrefixBridge = "graylogic"
	TopicPrefixSystem = "graylogic/system"
)

// Topics builds the bus topics this service uses, one method per
// category, so topic naming stays in one place:
//
//	state      graylogic/state/gpio/relay-pump      (retained)
//	command    graylogic/command/gpio/relay-pump
//	ack        graylogic/ack/gpio/relay-pump
//	telemetry  graylogic/telemetry/gpio/dht22-loft
//	health     graylogic/health/gpio                (retained)
//	status     graylogic/system/status              (retained, LWT)
type Topics struct{}

// BridgeState is the retained per-device state topic.
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeCommand is the per-device command topic.
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeAck is the per-device command acknowledgement topic.
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeTelemetry is the per-device sensor reading topic.
func (Topics) BridgeTelemetry(protocol, address string) string {
	return fmt.Sprintf("%s/telemetry/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeHealth is the retained per-bridge health topic.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// SystemStatus is the retained service status topic, also used as the
// LWT target.
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllBridgeCommands matches every command addressed to one protocol's
// devices.
func (Topics) AllBridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}

// AllBridgeStates matches every state update for one protocol.
func (Topics) AllBridgeStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefixBridge, protocol)
}
