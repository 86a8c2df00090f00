package esp32

import (
	"fmt"
	"math"
)

// Inbound OSC addresses.
const (
	AddrInfo          = "/unity/info/"
	AddrButton        = "/unity/state/button/"
	AddrEncoder       = "/unity/state/encoder/"
	AddrCombinedState = "/unity/state/"
	AddrAlive         = "/unity/alive/"
	AddrDisconnect    = "/unity/disconnect/"
)

// encoderTicksPerTurn converts raw encoder ticks to turns.
const encoderTicksPerTurn = 40.0

// Default battery range used to derive BatteryLevel.
const (
	DefaultBatteryMinVoltage = 3.5
	DefaultBatteryMaxVoltage = 4.2

	// LegacyBatteryMinVoltage is the lower bound used by older firmware.
	LegacyBatteryMinVoltage = 3.6
)

// Decoder turns inbound OSC messages into typed events.
// The zero value is not usable; use NewDecoder.
type Decoder struct {
	MinVoltage float64
	MaxVoltage float64
}

// NewDecoder returns a decoder using the default battery range.
func NewDecoder() Decoder {
	return Decoder{
		MinVoltage: DefaultBatteryMinVoltage,
		MaxVoltage: DefaultBatteryMaxVoltage,
	}
}

// Decoded holds whatever a single message decoded to. The legacy combined
// state message sets both Button and Encoder; every other message sets
// exactly one field.
type Decoded struct {
	Info       *Event[DeviceInfo]
	Button     *Event[ButtonInputState]
	Encoder    *Event[EncoderInputState]
	Alive      *Event[AliveMessage]
	Disconnect *Event[DisconnectInfo]
}

// Decode parses one message.
//
// Returns ErrUnknownAddress for addresses outside the device protocol and
// ErrMalformedMessage (wrapped) for missing or mistyped arguments.
func (d Decoder) Decode(address string, args []any) (Decoded, error) {
	var out Decoded

	switch address {
	case AddrInfo, AddrButton, AddrEncoder, AddrCombinedState, AddrAlive, AddrDisconnect:
	default:
		return out, fmt.Errorf("%w: %q", ErrUnknownAddress, address)
	}

	sender, err := argString(args, 0)
	if err != nil {
		return out, fmt.Errorf("%s sender: %w", address, err)
	}

	switch address {
	case AddrInfo:
		info, err := d.decodeInfo(args)
		if err != nil {
			return out, fmt.Errorf("%s: %w", address, err)
		}
		out.Info = &Event[DeviceInfo]{SenderAddress: sender, Data: info}

	case AddrButton:
		raw, err := argInt(args, 1)
		if err != nil {
			return out, fmt.Errorf("%s button: %w", address, err)
		}
		out.Button = &Event[ButtonInputState]{SenderAddress: sender, Data: buttonState(raw)}

	case AddrEncoder:
		raw, err := argInt(args, 1)
		if err != nil {
			return out, fmt.Errorf("%s encoder: %w", address, err)
		}
		out.Encoder = &Event[EncoderInputState]{SenderAddress: sender, Data: encoderState(raw)}

	case AddrCombinedState:
		button, err := argInt(args, 1)
		if err != nil {
			return out, fmt.Errorf("%s button: %w", address, err)
		}
		encoder, err := argInt(args, 2)
		if err != nil {
			return out, fmt.Errorf("%s encoder: %w", address, err)
		}
		out.Button = &Event[ButtonInputState]{SenderAddress: sender, Data: buttonState(button)}
		out.Encoder = &Event[EncoderInputState]{SenderAddress: sender, Data: encoderState(encoder)}

	case AddrAlive:
		id, err := argInt(args, 1)
		if err != nil {
			return out, fmt.Errorf("%s id: %w", address, err)
		}
		out.Alive = &Event[AliveMessage]{SenderAddress: sender, Data: AliveMessage{ID: id}}

	case AddrDisconnect:
		out.Disconnect = &Event[DisconnectInfo]{SenderAddress: sender}
	}

	return out, nil
}

func (d Decoder) decodeInfo(args []any) (DeviceInfo, error) {
	var info DeviceInfo
	var err error

	if info.Name, err = argString(args, 1); err != nil {
		return info, fmt.Errorf("name: %w", err)
	}
	if info.FirmwareVersion, err = argInt(args, 2); err != nil {
		return info, fmt.Errorf("firmware: %w", err)
	}
	if info.BatteryVoltage, err = argFloat(args, 3); err != nil {
		return info, fmt.Errorf("voltage: %w", err)
	}
	if info.MotorCount, err = argInt(args, 4); err != nil {
		return info, fmt.Errorf("motor count: %w", err)
	}
	if info.EncoderCount, err = argInt(args, 5); err != nil {
		return info, fmt.Errorf("encoder count: %w", err)
	}
	if info.ButtonCount, err = argInt(args, 6); err != nil {
		return info, fmt.Errorf("button count: %w", err)
	}

	info.BatteryLevel = BatteryLevel(info.BatteryVoltage, d.MinVoltage, d.MaxVoltage)
	return info, nil
}

// BatteryLevel maps voltage linearly from [minV, maxV] to [0, 1], clamped.
// A degenerate range yields 0.
func BatteryLevel(voltage, minV, maxV float64) float64 {
	if maxV == minV {
		return 0
	}
	level := (voltage - minV) / (maxV - minV)
	return math.Max(0, math.Min(1, level))
}

// buttonState decodes the firmware's active-low button value.
func buttonState(raw int) ButtonInputState {
	return ButtonInputState{Pressed: raw == 0}
}

func encoderState(raw int) EncoderInputState {
	return EncoderInputState{Value: float64(raw) / encoderTicksPerTurn}
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: missing argument %d", ErrMalformedMessage, i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d is %T, want string", ErrMalformedMessage, i, args[i])
	}
	return s, nil
}

func argInt(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%w: missing argument %d", ErrMalformedMessage, i)
	}
	switch v := args[i].(type) {
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("%w: argument %d is %T, want int", ErrMalformedMessage, i, args[i])
	}
}

// argFloat also accepts integer arguments.
func argFloat(args []any, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%w: missing argument %d", ErrMalformedMessage, i)
	}
	switch v := args[i].(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: argument %d is %T, want float", ErrMalformedMessage, i, args[i])
	}
}
