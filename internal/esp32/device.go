package esp32

import (
	"fmt"
	"time"
)

// Default session timing.
const (
	DefaultConnectTimeout      = 5 * time.Second
	DefaultHeartbeatInterval   = 5 * time.Second
	DefaultMaxFailedHeartbeats = 3
)

// DeviceConfig describes one remote device. It is fixed for the lifetime
// of the session built from it.
type DeviceConfig struct {
	Name               string `json:"name"`
	Address            string `json:"address"`
	Port               int    `json:"port"`
	AutoConnectInBuild bool   `json:"auto_connect_in_build"`
}

// Validate checks the fields a session needs.
func (c DeviceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: device name is empty", ErrInvalidConfig)
	}
	if c.Address == "" {
		return fmt.Errorf("%w: device %q has no address", ErrInvalidConfig, c.Name)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: device %q port %d out of range", ErrInvalidConfig, c.Name, c.Port)
	}
	return nil
}

// SessionOptions holds the timing and policy shared by every session.
type SessionOptions struct {
	ConnectTimeout      time.Duration
	HeartbeatInterval   time.Duration
	MaxFailedHeartbeats int

	// MinFirmwareVersion rejects devices reporting older firmware.
	// 0 disables the check.
	MinFirmwareVersion int

	// ZeroEncoder subtracts the first encoder reading of each connection
	// from every later reading.
	ZeroEncoder bool

	// DevMode disables auto-reconnect.
	DevMode bool
}

// DefaultSessionOptions returns the standard timing.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		ConnectTimeout:      DefaultConnectTimeout,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		MaxFailedHeartbeats: DefaultMaxFailedHeartbeats,
	}
}

func (o SessionOptions) withDefaults() SessionOptions {
	d := DefaultSessionOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.MaxFailedHeartbeats <= 0 {
		o.MaxFailedHeartbeats = d.MaxFailedHeartbeats
	}
	return o
}

// StateChange describes a session transition.
type StateChange struct {
	From ConnectionState
	To   ConnectionState
}

// Device is the host-side session for one remote device.
//
// A Device is driven from a single goroutine: the one that calls
// Receiver.SendAllEvents and Update (normally Manager.Tick). None of its
// methods are safe for concurrent use; other goroutines go through
// Manager.Post, Manager.Do or Manager.Snapshot.
type Device struct {
	cfg      DeviceConfig
	opts     SessionOptions
	sender   *Sender
	receiver *Receiver
	subs     []*Subscription
	clock    Clock
	logger   Logger

	state          ConnectionState
	stateEnteredAt time.Time
	lastEventAt    time.Time

	info    DeviceInfo
	hasInfo bool
	input   InputState

	autoReconnect bool

	heartbeatID      int
	heartbeatSentAt  time.Time
	heartbeatWaiting bool
	failedHeartbeats int
	lastRTT          time.Duration

	encoderZeroSet bool
	encoderZero    float64

	disposed bool

	onStateChanged observers[StateChange]
	onConnected    observers[*Device]
	onDisconnected observers[*Device]
	onInput        observers[InputState]
	onInfo         observers[DeviceInfo]
	onHeartbeat    observers[time.Duration]
}

// NewDevice creates a Disconnected session: it dials the device's Sender
// and subscribes to the shared receiver.
func NewDevice(cfg DeviceConfig, receiver *Receiver, opts SessionOptions, dial Dialer, clock Clock, logger Logger) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, fmt.Errorf("%w: device %q has no receiver", ErrInvalidConfig, cfg.Name)
	}
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = noopLogger{}
	}

	sender, err := NewSender(cfg.Address, cfg.Port, dial)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", cfg.Name, err)
	}

	d := &Device{
		cfg:            cfg,
		opts:           opts.withDefaults(),
		sender:         sender,
		receiver:       receiver,
		clock:          clock,
		logger:         logger,
		state:          StateDisconnected,
		stateEnteredAt: clock.Now(),
		autoReconnect:  cfg.AutoConnectInBuild,
	}

	d.subs = []*Subscription{
		receiver.OnInfo(d.handleInfo),
		receiver.OnButtonInput(d.handleButton),
		receiver.OnEncoderInput(d.handleEncoder),
		receiver.OnAlive(d.handleAlive),
		receiver.OnDisconnect(d.handleDisconnect),
	}

	return d, nil
}

// Name returns the configured device name.
func (d *Device) Name() string { return d.cfg.Name }

// Config returns the configuration the session was built from.
func (d *Device) Config() DeviceConfig { return d.cfg }

// Address returns the device address events are matched against.
func (d *Device) Address() string { return d.sender.Address() }

// State returns the current connection state.
func (d *Device) State() ConnectionState { return d.state }

// Info returns the last reported device info; ok is false before the first.
func (d *Device) Info() (info DeviceInfo, ok bool) { return d.info, d.hasInfo }

// Input returns the last known input state.
func (d *Device) Input() InputState { return d.input }

// LastHeartbeatRTT returns the most recent heartbeat round-trip time.
func (d *Device) LastHeartbeatRTT() time.Duration { return d.lastRTT }

// FailedHeartbeats returns the number of consecutive unanswered heartbeats.
func (d *Device) FailedHeartbeats() int { return d.failedHeartbeats }

// StateDuration returns how long the session has been in its current state.
func (d *Device) StateDuration() time.Duration { return d.clock.Now().Sub(d.stateEnteredAt) }

// TimeSinceLastEvent returns the time since the last info or input event.
// ok is false if no event has been received yet.
func (d *Device) TimeSinceLastEvent() (time.Duration, bool) {
	if d.lastEventAt.IsZero() {
		return 0, false
	}
	return d.clock.Now().Sub(d.lastEventAt), true
}

// AutoReconnect reports whether the session reconnects on its own.
func (d *Device) AutoReconnect() bool { return d.autoReconnect }

// SetAutoReconnect enables or disables automatic reconnection.
func (d *Device) SetAutoReconnect(enabled bool) { d.autoReconnect = enabled }

// Disposed reports whether Dispose has been called.
func (d *Device) Disposed() bool { return d.disposed }

// OnStateChanged registers a callback for every transition.
func (d *Device) OnStateChanged(fn func(StateChange)) *Subscription {
	return d.onStateChanged.subscribe(fn)
}

// OnConnected registers a callback fired on entering Connected.
func (d *Device) OnConnected(fn func(*Device)) *Subscription {
	return d.onConnected.subscribe(fn)
}

// OnDisconnected registers a callback fired on leaving Connected.
func (d *Device) OnDisconnected(fn func(*Device)) *Subscription {
	return d.onDisconnected.subscribe(fn)
}

// OnInput registers a callback for accepted input samples.
func (d *Device) OnInput(fn func(InputState)) *Subscription {
	return d.onInput.subscribe(fn)
}

// OnInfo registers a callback for accepted info messages.
func (d *Device) OnInfo(fn func(DeviceInfo)) *Subscription {
	return d.onInfo.subscribe(fn)
}

// OnHeartbeat registers a callback receiving each measured RTT.
func (d *Device) OnHeartbeat(fn func(time.Duration)) *Subscription {
	return d.onHeartbeat.subscribe(fn)
}

// Connect starts a connection attempt. It does nothing unless the session
// is Disconnected.
func (d *Device) Connect() error {
	if d.disposed {
		return ErrDisposed
	}
	if d.state != StateDisconnected {
		return nil
	}

	d.setState(StateConnecting)
	if err := d.sender.Connect(d.receiver.Address(), d.receiver.Port()); err != nil {
		d.logger.Warn("sending connect failed", "device", d.cfg.Name, "error", err)
		return fmt.Errorf("device %q connect: %w", d.cfg.Name, err)
	}
	d.logger.Debug("connect sent", "device", d.cfg.Name, "report_to", d.receiver.Address(), "port", d.receiver.Port())
	return nil
}

// Disconnect ends a Connected session, telling the device first.
// It does nothing in any other state.
func (d *Device) Disconnect() error {
	if d.disposed {
		return ErrDisposed
	}
	if d.state != StateConnected {
		return nil
	}

	err := d.sender.Disconnect()
	d.setState(StateDisconnected)
	if err != nil {
		return fmt.Errorf("device %q disconnect: %w", d.cfg.Name, err)
	}
	return nil
}

// SendMotorSpeed sets a motor speed (0..1). No-op unless Connected.
func (d *Device) SendMotorSpeed(motor int, speed float64) error {
	return d.whenConnected("motor speed", func() error { return d.sender.SendMotorSpeed(motor, speed) })
}

// SendHapticEvent triggers a haptic pattern. No-op unless Connected.
func (d *Device) SendHapticEvent(motor, event int) error {
	return d.whenConnected("haptic event", func() error { return d.sender.SendHapticEvent(motor, event) })
}

// StopMotors stops all motors. No-op unless Connected.
func (d *Device) StopMotors() error {
	return d.whenConnected("stop motors", d.sender.StopMotors)
}

// Reboot restarts the device. No-op unless Connected.
func (d *Device) Reboot() error {
	return d.whenConnected("reboot", d.sender.Reboot)
}

// Sleep puts the device to sleep. No-op unless Connected.
func (d *Device) Sleep() error {
	return d.whenConnected("sleep", d.sender.Sleep)
}

func (d *Device) whenConnected(what string, send func() error) error {
	if d.disposed {
		return ErrDisposed
	}
	if d.state != StateConnected {
		return nil
	}
	if err := send(); err != nil {
		d.logger.Warn("sending command failed", "device", d.cfg.Name, "command", what, "error", err)
		return fmt.Errorf("device %q %s: %w", d.cfg.Name, what, err)
	}
	return nil
}

// Update runs the per-tick state logic: connect timeout, heartbeat and
// auto-reconnect.
func (d *Device) Update() {
	if d.disposed {
		return
	}

	now := d.clock.Now()

	switch d.state {
	case StateConnected:
		if now.Sub(d.heartbeatSentAt) <= d.opts.HeartbeatInterval {
			return
		}
		if d.heartbeatWaiting {
			d.failedHeartbeats++
			d.logger.Warn("heartbeat unanswered",
				"device", d.cfg.Name,
				"id", d.heartbeatID,
				"failures", d.failedHeartbeats,
			)
		}
		if d.failedHeartbeats >= d.opts.MaxFailedHeartbeats {
			d.logger.Warn("device lost, too many missed heartbeats", "device", d.cfg.Name)
			d.setState(StateDisconnected)
			return
		}
		d.sendHeartbeat(now)

	case StateConnecting:
		if now.Sub(d.stateEnteredAt) > d.opts.ConnectTimeout {
			d.logger.Info("connect timed out", "device", d.cfg.Name, "timeout", d.opts.ConnectTimeout)
			d.setState(StateDisconnected)
		}

	case StateDisconnected:
		if !d.opts.DevMode && d.autoReconnect {
			_ = d.Connect() //nolint:errcheck // logged in Connect; retried next tick
		}
	}
}

func (d *Device) sendHeartbeat(now time.Time) {
	d.heartbeatID++
	d.heartbeatSentAt = now
	d.heartbeatWaiting = true
	if err := d.sender.SendHeartbeat(d.heartbeatID); err != nil {
		d.logger.Warn("sending heartbeat failed", "device", d.cfg.Name, "id", d.heartbeatID, "error", err)
	}
}

// Dispose unsubscribes from the receiver and closes the sender.
// A second call returns ErrDisposed.
func (d *Device) Dispose() error {
	if d.disposed {
		return ErrDisposed
	}
	d.disposed = true

	for _, s := range d.subs {
		s.Unsubscribe()
	}
	d.subs = nil

	if err := d.sender.Close(); err != nil {
		return fmt.Errorf("device %q closing sender: %w", d.cfg.Name, err)
	}
	return nil
}

func (d *Device) handleInfo(evt Event[DeviceInfo]) {
	if evt.SenderAddress != d.sender.Address() {
		return
	}

	if d.state == StateConnecting {
		if required := d.opts.MinFirmwareVersion; required > 0 && evt.Data.FirmwareVersion < required {
			d.logger.Warn("device firmware too old, disconnecting",
				"device", d.cfg.Name,
				"firmware", evt.Data.FirmwareVersion,
				"required", required,
			)
			if err := d.sender.Disconnect(); err != nil {
				d.logger.Warn("sending disconnect failed", "device", d.cfg.Name, "error", err)
			}
			d.setState(StateDisconnected)
			return
		}
		d.setState(StateConnected)
	}

	if d.state == StateConnected {
		d.info = evt.Data
		d.hasInfo = true
		d.lastEventAt = d.clock.Now()
		d.onInfo.notify(d.info)
	}
}

func (d *Device) handleButton(evt Event[ButtonInputState]) {
	if evt.SenderAddress != d.sender.Address() || d.state != StateConnected {
		return
	}
	d.input.Button = evt.Data.Pressed
	d.inputReceived()
}

func (d *Device) handleEncoder(evt Event[EncoderInputState]) {
	if evt.SenderAddress != d.sender.Address() || d.state != StateConnected {
		return
	}

	value := evt.Data.Value
	if d.opts.ZeroEncoder {
		if !d.encoderZeroSet {
			d.encoderZero = value
			d.encoderZeroSet = true
		}
		value -= d.encoderZero
	}
	d.input.Encoder = value
	d.inputReceived()
}

func (d *Device) inputReceived() {
	d.lastEventAt = d.clock.Now()
	d.onInput.notify(d.input)
}

func (d *Device) handleAlive(evt Event[AliveMessage]) {
	if evt.SenderAddress != d.sender.Address() || d.state != StateConnected {
		return
	}
	if !d.heartbeatWaiting {
		return
	}
	if evt.Data.ID != d.heartbeatID {
		d.logger.Debug("stale heartbeat response", "device", d.cfg.Name, "id", evt.Data.ID, "want", d.heartbeatID)
		return
	}

	d.heartbeatWaiting = false
	d.failedHeartbeats = 0
	d.lastRTT = d.clock.Now().Sub(d.heartbeatSentAt)
	d.onHeartbeat.notify(d.lastRTT)
}

func (d *Device) handleDisconnect(evt Event[DisconnectInfo]) {
	if evt.SenderAddress != d.sender.Address() || d.state != StateConnected {
		return
	}
	d.logger.Info("device disconnected itself", "device", d.cfg.Name)
	d.setState(StateDisconnected)
}

func (d *Device) setState(next ConnectionState) {
	prev := d.state
	if prev == next {
		d.logger.Warn("state already set", "device", d.cfg.Name, "state", next.String())
		return
	}

	if prev == StateConnected {
		d.onDisconnected.notify(d)
	}

	d.state = next
	d.stateEnteredAt = d.clock.Now()

	switch next {
	case StateDisconnected:
		d.heartbeatWaiting = false
		d.failedHeartbeats = 0
		d.lastRTT = 0
		d.input = InputState{}
		d.encoderZeroSet = false
		d.encoderZero = 0
	case StateConnected:
		// First heartbeat goes out on the next Update.
		d.heartbeatSentAt = time.Time{}
		d.heartbeatWaiting = false
	}

	d.logger.Info("device state changed", "device", d.cfg.Name, "from", prev.String(), "to", next.String())
	d.onStateChanged.notify(StateChange{From: prev, To: next})

	if next == StateConnected {
		d.onConnected.notify(d)
	}
}

// DeviceSnapshot is a copy of a session's public state.
type DeviceSnapshot struct {
	Name             string          `json:"name"`
	Address          string          `json:"address"`
	Port             int             `json:"port"`
	State            ConnectionState `json:"state"`
	StateSince       time.Time       `json:"state_since"`
	Info             *DeviceInfo     `json:"info,omitempty"`
	Input            InputState      `json:"input"`
	HeartbeatRTT     time.Duration   `json:"heartbeat_rtt_ns"`
	FailedHeartbeats int             `json:"failed_heartbeats"`
	AutoReconnect    bool            `json:"auto_reconnect"`
	LastEventAt      *time.Time      `json:"last_event_at,omitempty"`
}

// Snapshot copies the session's public state.
func (d *Device) Snapshot() DeviceSnapshot {
	s := DeviceSnapshot{
		Name:             d.cfg.Name,
		Address:          d.cfg.Address,
		Port:             d.cfg.Port,
		State:            d.state,
		StateSince:       d.stateEnteredAt,
		Input:            d.input,
		HeartbeatRTT:     d.lastRTT,
		FailedHeartbeats: d.failedHeartbeats,
		AutoReconnect:    d.autoReconnect,
	}
	if d.hasInfo {
		info := d.info
		s.Info = &info
	}
	if !d.lastEventAt.IsZero() {
		t := d.lastEventAt
		s.LastEventAt = &t
	}
	return s
}
