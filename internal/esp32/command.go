package esp32

import (
	"fmt"
	"strings"
)

// CommandKind names an outbound device command.
type CommandKind string

// Command kinds accepted by Device.Execute.
const (
	CmdConnect     CommandKind = "connect"
	CmdDisconnect  CommandKind = "disconnect"
	CmdMotorSpeed  CommandKind = "motor_speed"
	CmdHapticEvent CommandKind = "haptic"
	CmdStopMotors  CommandKind = "stop_motors"
	CmdReboot      CommandKind = "reboot"
	CmdSleep       CommandKind = "sleep"
)

var commandKinds = map[CommandKind]bool{
	CmdConnect:     true,
	CmdDisconnect:  true,
	CmdMotorSpeed:  true,
	CmdHapticEvent: true,
	CmdStopMotors:  true,
	CmdReboot:      true,
	CmdSleep:       true,
}

// ParseCommandKind validates a command name.
func ParseCommandKind(s string) (CommandKind, error) {
	k := CommandKind(strings.ToLower(strings.TrimSpace(s)))
	if !commandKinds[k] {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return k, nil
}

// Command is a tagged device command. Motor applies to motor speed and
// haptic commands, Speed to motor speed and Event to haptic.
type Command struct {
	Kind  CommandKind `json:"command"`
	Motor int         `json:"motor,omitempty"`
	Speed float64     `json:"speed,omitempty"`
	Event int         `json:"event,omitempty"`
}

// Execute runs a command against the session with the same state guards
// as the individual methods.
func (d *Device) Execute(cmd Command) error {
	switch cmd.Kind {
	case CmdConnect:
		return d.Connect()
	case CmdDisconnect:
		return d.Disconnect()
	case CmdMotorSpeed:
		return d.SendMotorSpeed(cmd.Motor, cmd.Speed)
	case CmdHapticEvent:
		return d.SendHapticEvent(cmd.Motor, cmd.Event)
	case CmdStopMotors:
		return d.StopMotors()
	case CmdReboot:
		return d.Reboot()
	case CmdSleep:
		return d.Sleep()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}
}
