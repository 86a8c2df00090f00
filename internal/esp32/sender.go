package esp32

import (
	"fmt"
	"math"
	"net"
	"strconv"

	"github.com/nerrad567/esp32-osc-core/internal/transport/osc"
)

// Outbound OSC addresses.
const (
	AddrCmdConnect    = "/arduino/connect"
	AddrCmdDisconnect = "/arduino/disconnect"
	AddrCmdKeepalive  = "/arduino/keepalive"
	AddrCmdMotorSpeed = "/arduino/motor/rt"
	AddrCmdHaptic     = "/arduino/motor/cmd"
	AddrCmdStopMotors = "/arduino/motor/stopall"
	AddrCmdRestart    = "/arduino/restart"
	AddrCmdSleep      = "/arduino/sleep"
)

// Transmitter sends OSC messages to one remote device.
// *osc.Client satisfies it.
type Transmitter interface {
	Send(address string, args ...any) error
	Close() error
}

// Dialer creates a Transmitter for host:port.
type Dialer func(host string, port int) (Transmitter, error)

// DialOSC is the default Dialer, backed by a UDP socket.
func DialOSC(host string, port int) (Transmitter, error) {
	c, err := osc.Dial(host, port)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Sender is the outbound command channel for one device.
// It owns its Transmitter exclusively.
type Sender struct {
	address string
	port    int
	tx      Transmitter
}

// NewSender dials the device with the given dialer (DialOSC if nil).
func NewSender(address string, port int, dial Dialer) (*Sender, error) {
	if dial == nil {
		dial = DialOSC
	}
	tx, err := dial(address, port)
	if err != nil {
		return nil, fmt.Errorf("dialing %s:%d: %w", address, port, err)
	}
	return &Sender{address: address, port: port, tx: tx}, nil
}

// Address returns the device address this sender targets.
func (s *Sender) Address() string { return s.address }

// Port returns the device port this sender targets.
func (s *Sender) Port() int { return s.port }

// Connect tells the device where to report to.
func (s *Sender) Connect(host string, port int) error {
	return s.tx.Send(AddrCmdConnect, net.JoinHostPort(host, strconv.Itoa(port)))
}

// Disconnect tells the device to stop reporting.
func (s *Sender) Disconnect() error {
	return s.tx.Send(AddrCmdDisconnect)
}

// SendHeartbeat sends a keepalive probe.
func (s *Sender) SendHeartbeat(id int) error {
	return s.tx.Send(AddrCmdKeepalive, id)
}

// SendMotorSpeed sets a motor's speed. speed is a fraction (1.0 = full).
func (s *Sender) SendMotorSpeed(motor int, speed float64) error {
	return s.tx.Send(AddrCmdMotorSpeed, motor, MotorSpeedPercent(speed))
}

// SendHapticEvent triggers a predefined haptic pattern on a motor.
func (s *Sender) SendHapticEvent(motor, event int) error {
	return s.tx.Send(AddrCmdHaptic, motor, event)
}

// StopMotors stops every motor.
func (s *Sender) StopMotors() error {
	return s.tx.Send(AddrCmdStopMotors)
}

// Reboot restarts the device.
func (s *Sender) Reboot() error {
	return s.tx.Send(AddrCmdRestart)
}

// Sleep puts the device to sleep.
func (s *Sender) Sleep() error {
	return s.tx.Send(AddrCmdSleep)
}

// Close releases the transmitter.
func (s *Sender) Close() error {
	return s.tx.Close()
}

// MotorSpeedPercent converts a speed fraction to the 0-100 integer the
// firmware expects.
func MotorSpeedPercent(speed float64) int {
	if math.IsNaN(speed) {
		return 0
	}
	pct := math.Round(speed * 100)
	return int(math.Max(0, math.Min(100, pct)))
}
