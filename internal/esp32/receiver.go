package esp32

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/nerrad567/esp32-osc-core/internal/transport/osc"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ReceiverOptions configures a Receiver.
type ReceiverOptions struct {
	// Port is the local UDP port. 0 picks a free port.
	Port int

	// AdvertiseAddress is the IP devices are told to report to.
	// Empty means the first non-loopback IPv4 address of this host.
	AdvertiseAddress string

	// Decoder decodes inbound messages. The zero value means NewDecoder().
	Decoder Decoder

	Logger Logger
}

// ReceiverStats holds receiver counters.
type ReceiverStats struct {
	Decoded   uint64    `json:"decoded"`
	Malformed uint64    `json:"malformed"`
	Unknown   uint64    `json:"unknown"`
	Transport osc.Stats `json:"transport"`
}

// Receiver owns the shared inbound socket. It decodes messages on the
// network goroutine into per-kind queues and hands them to subscribers
// when SendAllEvents is called.
//
// Thread Safety:
//   - Subscribe/Unsubscribe, Stats and Close are safe from any goroutine.
//   - SendAllEvents must only be called from the owning (frame) goroutine.
type Receiver struct {
	server  *osc.Server
	address string
	decoder Decoder
	logger  Logger
	closed  atomic.Bool

	infoQ       eventQueue[Event[DeviceInfo]]
	buttonQ     eventQueue[Event[ButtonInputState]]
	encoderQ    eventQueue[Event[EncoderInputState]]
	aliveQ      eventQueue[Event[AliveMessage]]
	disconnectQ eventQueue[Event[DisconnectInfo]]

	onInfo       observers[Event[DeviceInfo]]
	onButton     observers[Event[ButtonInputState]]
	onEncoder    observers[Event[EncoderInputState]]
	onAlive      observers[Event[AliveMessage]]
	onDisconnect observers[Event[DisconnectInfo]]

	decoded   atomic.Uint64
	malformed atomic.Uint64
	unknown   atomic.Uint64
}

// NewReceiver binds the inbound socket.
// Returns ErrBindFailed (wrapped) if the port is unavailable.
func NewReceiver(opts ReceiverOptions) (*Receiver, error) {
	r := &Receiver{
		decoder: opts.Decoder,
		logger:  opts.Logger,
	}
	if r.decoder == (Decoder{}) {
		r.decoder = NewDecoder()
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}

	server, err := osc.ListenLogged(opts.Port, r.handleMessage, r.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBindFailed, err)
	}
	r.server = server

	r.address = opts.AdvertiseAddress
	if r.address == "" {
		r.address, err = LocalIPv4()
		if err != nil {
			r.logger.Warn("no local IPv4 address found, devices will report to loopback", "error", err)
			r.address = "127.0.0.1"
		}
	}

	r.logger.Info("esp32 receiver listening", "address", r.address, "port", r.Port())
	return r, nil
}

// Address returns the IP address devices are told to report back to.
func (r *Receiver) Address() string {
	return r.address
}

// Port returns the bound local port.
func (r *Receiver) Port() int {
	return r.server.Port()
}

// OnInfo registers a callback for info events.
func (r *Receiver) OnInfo(fn func(Event[DeviceInfo])) *Subscription {
	return r.onInfo.subscribe(fn)
}

// OnButtonInput registers a callback for button events.
func (r *Receiver) OnButtonInput(fn func(Event[ButtonInputState])) *Subscription {
	return r.onButton.subscribe(fn)
}

// OnEncoderInput registers a callback for encoder events.
func (r *Receiver) OnEncoderInput(fn func(Event[EncoderInputState])) *Subscription {
	return r.onEncoder.subscribe(fn)
}

// OnAlive registers a callback for heartbeat responses.
func (r *Receiver) OnAlive(fn func(Event[AliveMessage])) *Subscription {
	return r.onAlive.subscribe(fn)
}

// OnDisconnect registers a callback for device-initiated disconnects.
func (r *Receiver) OnDisconnect(fn func(Event[DisconnectInfo])) *Subscription {
	return r.onDisconnect.subscribe(fn)
}

// SendAllEvents drains every queue in the order info, button, encoder,
// alive, disconnect, calling the current subscribers synchronously.
// Within one kind events are delivered in arrival order.
func (r *Receiver) SendAllEvents() {
	if r.closed.Load() {
		return
	}
	drain(&r.infoQ, &r.onInfo)
	drain(&r.buttonQ, &r.onButton)
	drain(&r.encoderQ, &r.onEncoder)
	drain(&r.aliveQ, &r.onAlive)
	drain(&r.disconnectQ, &r.onDisconnect)
}

// drain empties q into obs. Events with no subscriber are dropped.
func drain[T any](q *eventQueue[T], obs *observers[T]) {
	for {
		evt, ok := q.pop()
		if !ok {
			return
		}
		obs.notify(evt)
	}
}

// Pending returns the number of queued, undrained events.
func (r *Receiver) Pending() int {
	return r.infoQ.len() + r.buttonQ.len() + r.encoderQ.len() + r.aliveQ.len() + r.disconnectQ.len()
}

// Stats returns the receiver counters.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Decoded:   r.decoded.Load(),
		Malformed: r.malformed.Load(),
		Unknown:   r.unknown.Load(),
		Transport: r.server.Stats(),
	}
}

// Close releases the socket and discards pending events. Once it returns
// no further events are queued. Safe to call multiple times.
func (r *Receiver) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := r.server.Close()

	r.infoQ.clear()
	r.buttonQ.clear()
	r.encoderQ.clear()
	r.aliveQ.clear()
	r.disconnectQ.clear()

	r.onInfo.clear()
	r.onButton.clear()
	r.onEncoder.clear()
	r.onAlive.clear()
	r.onDisconnect.clear()

	if err != nil {
		return fmt.Errorf("closing esp32 receiver: %w", err)
	}
	return nil
}

// handleMessage runs on the network goroutine. It only decodes and enqueues.
func (r *Receiver) handleMessage(m osc.Message) {
	r.enqueue(m.Address, m.Args)
}

func (r *Receiver) enqueue(address string, args []any) {
	if r.closed.Load() {
		return
	}

	d, err := r.decoder.Decode(address, args)
	if err != nil {
		if errors.Is(err, ErrUnknownAddress) {
			r.unknown.Add(1)
			r.logger.Debug("ignoring unknown osc address", "address", address)
			return
		}
		r.malformed.Add(1)
		r.logger.Warn("dropping malformed esp32 message", "address", address, "error", err)
		return
	}

	r.decoded.Add(1)
	if d.Info != nil {
		r.infoQ.push(*d.Info)
	}
	if d.Button != nil {
		r.buttonQ.push(*d.Button)
	}
	if d.Encoder != nil {
		r.encoderQ.push(*d.Encoder)
	}
	if d.Alive != nil {
		r.aliveQ.push(*d.Alive)
	}
	if d.Disconnect != nil {
		r.disconnectQ.push(*d.Disconnect)
	}
}

// LocalIPv4 returns the first non-loopback IPv4 address of this host.
func LocalIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("listing interface addresses: %w", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", errors.New("no non-loopback IPv4 address")
}
