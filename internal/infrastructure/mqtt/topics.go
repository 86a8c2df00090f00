package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic this service publishes or consumes.
//
// Hierarchy:
//
//	esp32osc/status                        service online/offline (retained, LWT)
//	esp32osc/health                        periodic health report (retained)
//	esp32osc/state/{device}                device snapshot (retained)
//	esp32osc/event/{device}/input          one message per input sample
//	esp32osc/event/{device}/lifecycle      added/removed/connected/disconnected
//	esp32osc/command/{device}              inbound commands
//	esp32osc/ack/{device}                  command acknowledgements
const TopicPrefix = "esp32osc"

// Topics provides builders for the service's MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("box-01")
//	// Returns: "esp32osc/state/box-01"
type Topics struct{}

// Status returns the retained service status topic used for the LWT.
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// Health returns the health report topic.
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// DeviceState returns the retained snapshot topic for a device.
func (Topics) DeviceState(device string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, device)
}

// DeviceInput returns the input event topic for a device.
func (Topics) DeviceInput(device string) string {
	return fmt.Sprintf("%s/event/%s/input", TopicPrefix, device)
}

// DeviceLifecycle returns the lifecycle event topic for a device.
func (Topics) DeviceLifecycle(device string) string {
	return fmt.Sprintf("%s/event/%s/lifecycle", TopicPrefix, device)
}

// DeviceCommand returns the command topic for a device.
func (Topics) DeviceCommand(device string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, device)
}

// DeviceAck returns the acknowledgement topic for a device.
func (Topics) DeviceAck(device string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, device)
}

// AllDeviceCommands matches commands for every device.
//
// Pattern: esp32osc/command/+
func (Topics) AllDeviceCommands() string {
	return TopicPrefix + "/command/+"
}

// AllDeviceStates matches every device snapshot.
//
// Pattern: esp32osc/state/+
func (Topics) AllDeviceStates() string {
	return TopicPrefix + "/state/+"
}

// AllDeviceEvents matches input and lifecycle events for every device.
//
// Pattern: esp32osc/event/+/+
func (Topics) AllDeviceEvents() string {
	return TopicPrefix + "/event/+/+"
}

// AllTopics matches everything under the prefix.
//
// Pattern: esp32osc/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// DeviceFromTopic extracts the device name from a state, command or ack topic,
// or from an event topic. ok is false if the topic is not device scoped.
func DeviceFromTopic(topic string) (device string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != TopicPrefix {
		return "", false
	}
	switch parts[1] {
	case "state", "command", "ack":
		if len(parts) != 3 {
			return "", false
		}
	case "event":
		if len(parts) != 4 {
			return "", false
		}
	default:
		return "", false
	}
	if parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
