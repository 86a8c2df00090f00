package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/esp32-osc-core/internal/esp32"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <command> [args...]",
	Short: "Send one OSC command to a device",
	Long: `Sends a single OSC command to a device, outside of any session.

Commands:
  connect                  ask the device to report to --reply-host:--reply-port
  disconnect               end the device's session
  motor_speed <motor> <s>  set a motor speed, s in 0..1
  haptic <motor> <event>   play a haptic pattern
  stop_motors              stop every motor
  reboot                   restart the device
  sleep                    put the device to sleep
  keepalive <id>           send one heartbeat

Examples:
  esp32ctl send --host 10.0.0.5 connect --reply-port 8888
  esp32ctl send --host 10.0.0.5 motor_speed 0 0.5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

var (
	sendHost      string
	sendPort      int
	sendReplyHost string
	sendReplyPort int
)

// dialOSC opens the device transport. Replaced in tests.
var dialOSC esp32.Dialer = esp32.DialOSC

func init() {
	sendCmd.Flags().StringVar(&sendHost, "host", "", "Device IP address (required)")
	sendCmd.Flags().IntVar(&sendPort, "port", esp32.DefaultDeviceListPort, "Device OSC port")
	sendCmd.Flags().StringVar(&sendReplyHost, "reply-host", "", "Address the device reports to on connect; default is this host's IPv4")
	sendCmd.Flags().IntVar(&sendReplyPort, "reply-port", 8888, "Port the device reports to on connect")
	_ = sendCmd.MarkFlagRequired("host")
}

func runSend(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(strings.TrimSpace(args[0]))

	replyHost := sendReplyHost
	if name == string(esp32.CmdConnect) && replyHost == "" {
		ip, err := esp32.LocalIPv4()
		if err != nil {
			return fmt.Errorf("finding local address: %w (use --reply-host)", err)
		}
		replyHost = ip
	}

	send, err := buildSend(name, args[1:], replyHost, sendReplyPort)
	if err != nil {
		return err
	}

	// Arguments are valid from here on
	cmd.SilenceUsage = true

	sender, err := esp32.NewSender(sendHost, sendPort, dialOSC)
	if err != nil {
		return err
	}
	defer sender.Close()

	if err := send(sender); err != nil {
		return fmt.Errorf("sending %s: %w", name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s:%d\n", name, sendHost, sendPort)
	return nil
}

// buildSend validates a command and its arguments and returns the call
// that transmits it.
func buildSend(name string, args []string, replyHost string, replyPort int) (func(*esp32.Sender) error, error) {
	if name == "keepalive" {
		ints, err := parseInts(name, args, 1)
		if err != nil {
			return nil, err
		}
		return func(s *esp32.Sender) error { return s.SendHeartbeat(ints[0]) }, nil
	}

	kind, err := esp32.ParseCommandKind(name)
	if err != nil {
		return nil, err
	}

	switch kind {
	case esp32.CmdConnect:
		if err := noArgs(name, args); err != nil {
			return nil, err
		}
		return func(s *esp32.Sender) error { return s.Connect(replyHost, replyPort) }, nil
	case esp32.CmdDisconnect:
		return simple(name, args, (*esp32.Sender).Disconnect)
	case esp32.CmdStopMotors:
		return simple(name, args, (*esp32.Sender).StopMotors)
	case esp32.CmdReboot:
		return simple(name, args, (*esp32.Sender).Reboot)
	case esp32.CmdSleep:
		return simple(name, args, (*esp32.Sender).Sleep)
	case esp32.CmdMotorSpeed:
		if len(args) != 2 {
			return nil, fmt.Errorf("%s takes <motor> <speed>", name)
		}
		motor, err := strconv.Atoi(args[0])
		if err != nil || motor < 0 {
			return nil, fmt.Errorf("invalid motor %q", args[0])
		}
		speed, err := strconv.ParseFloat(args[1], 64)
		if err != nil || speed < 0 || speed > 1 {
			return nil, fmt.Errorf("invalid speed %q: must be within 0..1", args[1])
		}
		return func(s *esp32.Sender) error { return s.SendMotorSpeed(motor, speed) }, nil
	case esp32.CmdHapticEvent:
		ints, err := parseInts(name, args, 2)
		if err != nil {
			return nil, err
		}
		return func(s *esp32.Sender) error { return s.SendHapticEvent(ints[0], ints[1]) }, nil
	default:
		return nil, fmt.Errorf("%w: %s", esp32.ErrUnknownCommand, name)
	}
}

func simple(name string, args []string, fn func(*esp32.Sender) error) (func(*esp32.Sender) error, error) {
	if err := noArgs(name, args); err != nil {
		return nil, err
	}
	return fn, nil
}

func noArgs(name string, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%s takes no arguments", name)
	}
	return nil
}

func parseInts(name string, args []string, n int) ([]int, error) {
	if len(args) != n {
		return nil, fmt.Errorf("%s takes %d integer arguments", name, n)
	}
	out := make([]int, n)
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid argument %q for %s", a, name)
		}
		out[i] = v
	}
	return out, nil
}
