package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/esp32-osc-core/internal/esp32"
	"github.com/nerrad567/esp32-osc-core/internal/transport/osc"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print messages received from devices",
	Long: `Binds a UDP port and prints every message devices send to it.

By default messages are decoded the way the daemon decodes them (info,
button, encoder, alive, disconnect). With --raw every OSC message is
printed as received, which also shows commands when esp32ctl stands in
for a device.

Examples:
  esp32ctl monitor --port 8888
  esp32ctl monitor --port 9999 --raw --format json`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorPort     int
	monitorRaw      bool
	monitorFormat   string
	monitorDuration time.Duration
)

// monitorInterval is how often decoded events are drained.
const monitorInterval = 20 * time.Millisecond

func init() {
	monitorCmd.Flags().IntVar(&monitorPort, "port", 8888, "UDP port to listen on (0 picks a free port)")
	monitorCmd.Flags().BoolVar(&monitorRaw, "raw", false, "Print undecoded OSC messages")
	monitorCmd.Flags().StringVar(&monitorFormat, "format", "text", "Output format: text or json")
	monitorCmd.Flags().DurationVar(&monitorDuration, "duration", 0, "Stop after this long; 0 runs until interrupted")
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	if monitorFormat != "text" && monitorFormat != "json" {
		return fmt.Errorf("invalid format %q: use text or json", monitorFormat)
	}
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	log := newLogger(cmd)
	p := newEventPrinter(cmd.OutOrStdout(), monitorFormat)

	if monitorRaw {
		srv, err := osc.ListenLogged(monitorPort, func(m osc.Message) {
			p.print("osc", m.Source.String(), rawMessage{Address: m.Address, Args: m.Args})
		}, log)
		if err != nil {
			return err
		}
		defer srv.Close()
		fmt.Fprintf(cmd.ErrOrStderr(), "listening on udp port %d (raw)\n", srv.Port())
		<-ctx.Done()
		return nil
	}

	r, err := esp32.NewReceiver(esp32.ReceiverOptions{Port: monitorPort, Logger: log})
	if err != nil {
		return err
	}
	defer r.Close()
	fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s:%d\n", r.Address(), r.Port())

	monitorDecoded(ctx, r, p, monitorInterval)
	return nil
}

// monitorDecoded prints the receiver's events until ctx is done.
func monitorDecoded(ctx context.Context, r *esp32.Receiver, p *eventPrinter, interval time.Duration) {
	subs := []*esp32.Subscription{
		r.OnInfo(func(e esp32.Event[esp32.DeviceInfo]) { p.print("info", e.SenderAddress, e.Data) }),
		r.OnButtonInput(func(e esp32.Event[esp32.ButtonInputState]) { p.print("button", e.SenderAddress, e.Data) }),
		r.OnEncoderInput(func(e esp32.Event[esp32.EncoderInputState]) { p.print("encoder", e.SenderAddress, e.Data) }),
		r.OnAlive(func(e esp32.Event[esp32.AliveMessage]) { p.print("alive", e.SenderAddress, e.Data) }),
		r.OnDisconnect(func(e esp32.Event[esp32.DisconnectInfo]) { p.print("disconnect", e.SenderAddress, e.Data) }),
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.SendAllEvents()
			return
		case <-ticker.C:
			r.SendAllEvents()
		}
	}
}

type rawMessage struct {
	Address string `json:"address"`
	Args    []any  `json:"args"`
}

type printedEvent struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Source string    `json:"source"`
	Data   any       `json:"data"`
}

// eventPrinter serialises output from the receive and frame goroutines.
type eventPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	now    func() time.Time
}

func newEventPrinter(w io.Writer, format string) *eventPrinter {
	return &eventPrinter{w: w, format: format, now: time.Now}
}

func (p *eventPrinter) print(kind, source string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev := printedEvent{Time: p.now(), Kind: kind, Source: source, Data: data}
	if p.format == "json" {
		_ = json.NewEncoder(p.w).Encode(ev)
		return
	}
	fmt.Fprintf(p.w, "%s %-10s %-21s %+v\n", ev.Time.Format("15:04:05.000"), kind, source, data)
}
