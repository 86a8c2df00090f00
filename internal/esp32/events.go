package esp32

import "fmt"

// ConnectionState is the state of one device session.
type ConnectionState int

// Connection states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase name used in logs and JSON.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "disconnected":
		*s = StateDisconnected
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	default:
		return fmt.Errorf("unknown connection state %q", text)
	}
	return nil
}

// DeviceInfo is the snapshot a device reports in its info message.
type DeviceInfo struct {
	Name            string  `json:"name"`
	FirmwareVersion int     `json:"firmware_version"`
	BatteryVoltage  float64 `json:"battery_voltage"`
	BatteryLevel    float64 `json:"battery_level"` // 0..1
	MotorCount      int     `json:"motor_count"`
	EncoderCount    int     `json:"encoder_count"`
	ButtonCount     int     `json:"button_count"`
}

// ButtonInputState is one button sample.
type ButtonInputState struct {
	Pressed bool `json:"pressed"`
}

// EncoderInputState is one encoder sample, in turns (raw ticks / 40).
type EncoderInputState struct {
	Value float64 `json:"value"`
}

// AliveMessage is a heartbeat response.
type AliveMessage struct {
	ID int `json:"id"`
}

// DisconnectInfo is the (empty) payload of a device-initiated disconnect.
type DisconnectInfo struct{}

// InputState is the last known input of a session. The zero value is the
// neutral state (button released, encoder at 0).
type InputState struct {
	Button  bool    `json:"button"`
	Encoder float64 `json:"encoder"`
}

// Event wraps a decoded payload with the address of the device that sent it.
type Event[T any] struct {
	SenderAddress string
	Data          T
}
