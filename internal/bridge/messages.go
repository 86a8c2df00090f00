package bridge

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/esp32-osc-core/internal/esp32"
)

// CommandReload restarts the manager, reloading the remote device list
// when one is configured. It is not a device command, so the device part
// of the topic is only used to address the acknowledgement.
const CommandReload = "reload"

// CommandMessage is received on esp32osc/command/{device}.
type CommandMessage struct {
	// ID correlates the acknowledgement. Generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Command is one of connect, disconnect, motor_speed, haptic,
	// stop_motors, reboot, sleep or reload.
	Command string `json:"command"`

	// Motor applies to motor_speed and haptic.
	Motor int `json:"motor,omitempty"`

	// Speed is 0..1 for motor_speed.
	Speed float64 `json:"speed,omitempty"`

	// Event is the haptic pattern index.
	Event int `json:"event,omitempty"`

	// Source indicates where the command originated ("api", "mqtt", "cli").
	Source string `json:"source,omitempty"`
}

// parseCommand decodes and normalises a command payload.
func parseCommand(payload []byte) (CommandMessage, error) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	cmd.Command = strings.ToLower(strings.TrimSpace(cmd.Command))
	if cmd.Command == "" {
		return cmd, fmt.Errorf("%w: command is required", ErrInvalidCommand)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	return cmd, nil
}

// DeviceCommand converts the message into an esp32.Command and checks its
// parameters.
func (c CommandMessage) DeviceCommand() (esp32.Command, error) {
	kind, err := esp32.ParseCommandKind(c.Command)
	if err != nil {
		return esp32.Command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	cmd := esp32.Command{Kind: kind}

	switch kind {
	case esp32.CmdMotorSpeed:
		if c.Motor < 0 {
			return cmd, fmt.Errorf("%w: motor must be >= 0", ErrInvalidParameters)
		}
		if math.IsNaN(c.Speed) || c.Speed < 0 || c.Speed > 1 {
			return cmd, fmt.Errorf("%w: speed must be within 0..1", ErrInvalidParameters)
		}
		cmd.Motor, cmd.Speed = c.Motor, c.Speed
	case esp32.CmdHapticEvent:
		if c.Motor < 0 || c.Event < 0 {
			return cmd, fmt.Errorf("%w: motor and event must be >= 0", ErrInvalidParameters)
		}
		cmd.Motor, cmd.Event = c.Motor, c.Event
	}
	return cmd, nil
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command ran on the session.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	ErrCodeSendFailed        = "SEND_FAILED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// AckMessage is published on esp32osc/ack/{device}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage is the retained snapshot on esp32osc/state/{device}.
type StateMessage struct {
	esp32.DeviceSnapshot
	Timestamp time.Time `json:"timestamp"`
}

// InputMessage is published for each accepted input sample.
type InputMessage struct {
	Device    string    `json:"device"`
	Timestamp time.Time `json:"timestamp"`
	Button    bool      `json:"button"`
	Encoder   float64   `json:"encoder"`
}

// LifecycleEvent names a session lifecycle transition.
type LifecycleEvent string

const (
	LifecycleAdded        LifecycleEvent = "added"
	LifecycleRemoved      LifecycleEvent = "removed"
	LifecycleConnected    LifecycleEvent = "connected"
	LifecycleDisconnected LifecycleEvent = "disconnected"
)

// LifecycleMessage is published on esp32osc/event/{device}/lifecycle.
type LifecycleMessage struct {
	Device    string         `json:"device"`
	Timestamp time.Time      `json:"timestamp"`
	Event     LifecycleEvent `json:"event"`
	Address   string         `json:"address,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published on esp32osc/health.
type HealthMessage struct {
	Status          HealthStatus `json:"status"`
	Timestamp       time.Time    `json:"timestamp"`
	Version         string       `json:"version,omitempty"`
	UptimeSeconds   int64        `json:"uptime_seconds"`
	Devices         int          `json:"devices"`
	Connected       int          `json:"connected"`
	ReceiverAddress string       `json:"receiver_address,omitempty"`
	ReceiverPort    int          `json:"receiver_port,omitempty"`
	Reason          string       `json:"reason,omitempty"`
}

// newAck builds an accepted acknowledgement.
func newAck(device string, cmd CommandMessage) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Device:    device,
		Command:   cmd.Command,
		Status:    AckAccepted,
	}
}

// newAckError builds a failed acknowledgement.
func newAckError(device string, cmd CommandMessage, code, message string) AckMessage {
	ack := newAck(device, cmd)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}
