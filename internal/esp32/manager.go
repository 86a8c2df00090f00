package esp32

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTickInterval is the frame period used by Run when none is given.
const DefaultTickInterval = 20 * time.Millisecond

// DefaultServerPort is the inbound port devices report to.
const DefaultServerPort = 8888

// Config configures a Manager.
type Config struct {
	Enabled          bool
	ServerPort       int
	AdvertiseAddress string
	Decoder          Decoder
	Session          SessionOptions
	Devices          []DeviceConfig
}

type managerState int

const (
	managerNotStarted managerState = iota
	managerInitialized
)

// ManagerSnapshot is a copy of the manager's public state, refreshed at
// the end of every Tick.
type ManagerSnapshot struct {
	Initialized     bool             `json:"initialized"`
	Enabled         bool             `json:"enabled"`
	ReceiverAddress string           `json:"receiver_address,omitempty"`
	ReceiverPort    int              `json:"receiver_port,omitempty"`
	Receiver        ReceiverStats    `json:"receiver"`
	Devices         []DeviceSnapshot `json:"devices"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Connected returns the number of devices in StateConnected.
func (s ManagerSnapshot) Connected() int {
	n := 0
	for _, d := range s.Devices {
		if d.State == StateConnected {
			n++
		}
	}
	return n
}

// Device returns the snapshot of the named device.
func (s ManagerSnapshot) Device(name string) (DeviceSnapshot, bool) {
	for _, d := range s.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceSnapshot{}, false
}

type deviceStateChange struct {
	device *Device
	change StateChange
}

type deviceInput struct {
	device *Device
	input  InputState
}

type deviceInfo struct {
	device *Device
	info   DeviceInfo
}

type deviceHeartbeat struct {
	device *Device
	rtt    time.Duration
}

// Manager owns the shared Receiver and the device sessions built from
// configuration, and drives them once per Tick.
//
// Thread Safety:
//   - Init, Cleanup, Restart, Tick, AddDevice, RemoveDevice, Devices and
//     Device must be called from the frame goroutine (the one running Run).
//   - Post, Do, Snapshot and the On* subscription methods are safe from
//     any goroutine. Callbacks always run on the frame goroutine.
type Manager struct {
	cfg      Config
	state    managerState
	receiver *Receiver
	devices  []*Device

	clock  Clock
	dial   Dialer
	logger Logger

	postMu  sync.Mutex
	posted  []func()
	stopped atomic.Bool
	done    chan struct{}
	doneMu  sync.Once

	snapMu sync.RWMutex
	snap   ManagerSnapshot

	onAdded        observers[*Device]
	onRemoved      observers[*Device]
	onConnected    observers[*Device]
	onDisconnected observers[*Device]
	onStateChanged observers[deviceStateChange]
	onInput        observers[deviceInput]
	onInfo         observers[deviceInfo]
	onHeartbeat    observers[deviceHeartbeat]
}

// NewManager creates a Not-Started manager.
func NewManager(cfg Config) *Manager {
	if cfg.Decoder == (Decoder{}) {
		cfg.Decoder = NewDecoder()
	}
	cfg.Session = cfg.Session.withDefaults()
	cfg.Devices = append([]DeviceConfig(nil), cfg.Devices...)

	m := &Manager{
		cfg:    cfg,
		clock:  SystemClock(),
		dial:   DialOSC,
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
	m.snap = ManagerSnapshot{Enabled: cfg.Enabled, Devices: []DeviceSnapshot{}}
	return m
}

// SetLogger sets the logger for the manager and the sessions it creates.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// SetClock replaces the time source. Call before Init.
func (m *Manager) SetClock(clock Clock) {
	if clock != nil {
		m.clock = clock
	}
}

// SetDialer replaces how device senders are created. Call before Init.
func (m *Manager) SetDialer(dial Dialer) {
	if dial != nil {
		m.dial = dial
	}
}

// Enabled reports whether Init will start the manager.
func (m *Manager) Enabled() bool { return m.cfg.Enabled }

// SetEnabled changes whether Init starts the manager. It does not start or
// stop a running manager; call Restart or Cleanup for that.
func (m *Manager) SetEnabled(enabled bool) { m.cfg.Enabled = enabled }

// Initialized reports whether the receiver is bound and sessions exist.
func (m *Manager) Initialized() bool { return m.state == managerInitialized }

// DeviceConfigs returns a copy of the configured device list.
func (m *Manager) DeviceConfigs() []DeviceConfig {
	return append([]DeviceConfig(nil), m.cfg.Devices...)
}

// SetDeviceConfigs replaces the configured device list. Running sessions
// are not touched until the next Restart.
func (m *Manager) SetDeviceConfigs(devices []DeviceConfig) {
	m.cfg.Devices = append([]DeviceConfig(nil), devices...)
}

// Receiver returns the shared receiver, or nil when not initialized.
func (m *Manager) Receiver() *Receiver { return m.receiver }

// Devices returns the live sessions in registration order.
func (m *Manager) Devices() []*Device {
	return append([]*Device(nil), m.devices...)
}

// Device returns the live session with the given name.
func (m *Manager) Device(name string) (*Device, bool) {
	for _, d := range m.devices {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

// Init binds the receiver and builds one session per configured device.
//
// It does nothing if the manager is disabled or already initialized. A bind
// failure is returned and leaves the manager Not-Started. A device that
// cannot be built is logged and skipped.
func (m *Manager) Init() error {
	if !m.cfg.Enabled || m.state == managerInitialized {
		return nil
	}

	receiver, err := NewReceiver(ReceiverOptions{
		Port:             m.cfg.ServerPort,
		AdvertiseAddress: m.cfg.AdvertiseAddress,
		Decoder:          m.cfg.Decoder,
		Logger:           m.logger,
	})
	if err != nil {
		m.logger.Error("esp32 manager init failed", "port", m.cfg.ServerPort, "error", err)
		m.abortInit()
		return err
	}
	m.receiver = receiver
	m.state = managerInitialized

	for _, dc := range m.cfg.Devices {
		if _, err := m.AddDevice(dc); err != nil {
			m.logger.Warn("can't add esp32 device",
				"device", dc.Name,
				"address", dc.Address,
				"port", dc.Port,
				"error", err,
			)
		}
	}

	m.logger.Info("esp32 manager initialized",
		"receiver", receiver.Address(),
		"port", receiver.Port(),
		"devices", len(m.devices),
	)
	m.refreshSnapshot()
	return nil
}

// abortInit releases anything a failed Init left behind.
func (m *Manager) abortInit() {
	for i := len(m.devices) - 1; i >= 0; i-- {
		m.removeAt(i)
	}
	if m.receiver != nil {
		_ = m.receiver.Close() //nolint:errcheck // best effort on failed init
		m.receiver = nil
	}
	m.state = managerNotStarted
	m.refreshSnapshot()
}

// Cleanup disposes every session, newest first, then the receiver.
// It does nothing if the manager is not initialized.
func (m *Manager) Cleanup() {
	if m.state != managerInitialized {
		return
	}

	for i := len(m.devices) - 1; i >= 0; i-- {
		m.removeAt(i)
	}

	if err := m.receiver.Close(); err != nil {
		m.logger.Warn("closing esp32 receiver failed", "error", err)
	}
	m.receiver = nil
	m.state = managerNotStarted

	m.logger.Info("esp32 manager stopped")
	m.refreshSnapshot()
}

// Restart is Cleanup followed by Init.
func (m *Manager) Restart() error {
	m.Cleanup()
	return m.Init()
}

// AddDevice builds and registers a session. Names must be unique.
func (m *Manager) AddDevice(cfg DeviceConfig) (*Device, error) {
	if m.state != managerInitialized {
		return nil, ErrNotInitialized
	}
	for _, existing := range m.devices {
		if existing.Name() == cfg.Name {
			return nil, fmt.Errorf("%w: duplicate device name %q", ErrInvalidConfig, cfg.Name)
		}
		if existing.Address() == cfg.Address {
			m.logger.Warn("two devices share an address, events will reach both",
				"address", cfg.Address,
				"device", cfg.Name,
				"other", existing.Name(),
			)
		}
	}

	d, err := NewDevice(cfg, m.receiver, m.cfg.Session, m.dial, m.clock, m.logger)
	if err != nil {
		return nil, err
	}
	m.forwardEvents(d)
	m.devices = append(m.devices, d)

	m.logger.Debug("esp32 device added", "device", cfg.Name, "address", cfg.Address, "port", cfg.Port)
	m.onAdded.notify(d)
	return d, nil
}

// RemoveDevice disposes and unregisters the named session.
func (m *Manager) RemoveDevice(name string) error {
	for i, d := range m.devices {
		if d.Name() == name {
			m.removeAt(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

func (m *Manager) removeAt(i int) {
	d := m.devices[i]
	if err := d.Dispose(); err != nil {
		m.logger.Warn("disposing esp32 device failed", "device", d.Name(), "error", err)
	}
	m.devices = append(m.devices[:i:i], m.devices[i+1:]...)
	m.onRemoved.notify(d)
}

func (m *Manager) forwardEvents(d *Device) {
	d.OnConnected(func(dev *Device) { m.onConnected.notify(dev) })
	d.OnDisconnected(func(dev *Device) { m.onDisconnected.notify(dev) })
	d.OnStateChanged(func(c StateChange) { m.onStateChanged.notify(deviceStateChange{device: d, change: c}) })
	d.OnInput(func(in InputState) { m.onInput.notify(deviceInput{device: d, input: in}) })
	d.OnInfo(func(info DeviceInfo) { m.onInfo.notify(deviceInfo{device: d, info: info}) })
	d.OnHeartbeat(func(rtt time.Duration) { m.onHeartbeat.notify(deviceHeartbeat{device: d, rtt: rtt}) })
}

// Tick runs posted work, drains the receiver, then updates every session
// in registration order.
func (m *Manager) Tick() {
	m.runPosted()

	if m.state == managerInitialized {
		m.receiver.SendAllEvents()
		for _, d := range m.Devices() {
			d.Update()
		}
	}

	m.refreshSnapshot()
}

// Post queues fn to run on the frame goroutine at the start of the next Tick.
func (m *Manager) Post(fn func()) error {
	if m.stopped.Load() {
		return ErrManagerStopped
	}
	m.postMu.Lock()
	m.posted = append(m.posted, fn)
	m.postMu.Unlock()
	return nil
}

// Do runs fn on the frame goroutine and waits for its result.
func (m *Manager) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := m.Post(func() { result <- fn() }); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerStopped
		}
	}
}

// Execute runs cmd against the named device on the frame goroutine and
// waits for the result. Returns ErrDeviceNotFound (wrapped) for an
// unknown name.
func (m *Manager) Execute(ctx context.Context, device string, cmd Command) error {
	return m.Do(ctx, func() error {
		d, ok := m.Device(device)
		if !ok {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, device)
		}
		return d.Execute(cmd)
	})
}

func (m *Manager) runPosted() {
	m.postMu.Lock()
	work := m.posted
	m.posted = nil
	m.postMu.Unlock()

	for _, fn := range work {
		m.runSafely(fn)
	}
}

func (m *Manager) runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("posted esp32 work panicked", "panic", r)
		}
	}()
	fn()
}

// Snapshot returns the state captured at the end of the last Tick.
func (m *Manager) Snapshot() ManagerSnapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()

	s := m.snap
	s.Devices = append([]DeviceSnapshot(nil), m.snap.Devices...)
	return s
}

func (m *Manager) refreshSnapshot() {
	s := ManagerSnapshot{
		Initialized: m.state == managerInitialized,
		Enabled:     m.cfg.Enabled,
		Devices:     make([]DeviceSnapshot, 0, len(m.devices)),
		UpdatedAt:   m.clock.Now(),
	}
	if m.receiver != nil {
		s.ReceiverAddress = m.receiver.Address()
		s.ReceiverPort = m.receiver.Port()
		s.Receiver = m.receiver.Stats()
	}
	for _, d := range m.devices {
		s.Devices = append(s.Devices, d.Snapshot())
	}

	m.snapMu.Lock()
	m.snap = s
	m.snapMu.Unlock()
}

// Run is the frame loop: Init, Tick every interval until ctx is cancelled,
// then Cleanup. A bind failure during Init is returned immediately.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	defer m.markStopped()

	if interval <= 0 {
		interval = DefaultTickInterval
	}

	if err := m.Init(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.runPosted()
			m.Cleanup()
			return nil
		case <-ticker.C:
			m.Tick()
		}
	}
}

func (m *Manager) markStopped() {
	m.stopped.Store(true)
	m.doneMu.Do(func() { close(m.done) })
}

// OnDeviceAdded registers a callback fired after a session is added.
func (m *Manager) OnDeviceAdded(fn func(*Device)) *Subscription {
	return m.onAdded.subscribe(fn)
}

// OnDeviceRemoved registers a callback fired after a session is disposed.
func (m *Manager) OnDeviceRemoved(fn func(*Device)) *Subscription {
	return m.onRemoved.subscribe(fn)
}

// OnDeviceConnected registers a callback fired when any session connects.
func (m *Manager) OnDeviceConnected(fn func(*Device)) *Subscription {
	return m.onConnected.subscribe(fn)
}

// OnDeviceDisconnected registers a callback fired when any session leaves Connected.
func (m *Manager) OnDeviceDisconnected(fn func(*Device)) *Subscription {
	return m.onDisconnected.subscribe(fn)
}

// OnDeviceStateChanged registers a callback for every session transition.
func (m *Manager) OnDeviceStateChanged(fn func(*Device, StateChange)) *Subscription {
	return m.onStateChanged.subscribe(func(e deviceStateChange) { fn(e.device, e.change) })
}

// OnDeviceInput registers a callback for accepted input on any session.
func (m *Manager) OnDeviceInput(fn func(*Device, InputState)) *Subscription {
	return m.onInput.subscribe(func(e deviceInput) { fn(e.device, e.input) })
}

// OnDeviceInfo registers a callback for accepted info on any session.
func (m *Manager) OnDeviceInfo(fn func(*Device, DeviceInfo)) *Subscription {
	return m.onInfo.subscribe(func(e deviceInfo) { fn(e.device, e.info) })
}

// OnDeviceHeartbeat registers a callback for each measured heartbeat RTT.
func (m *Manager) OnDeviceHeartbeat(fn func(*Device, time.Duration)) *Subscription {
	return m.onHeartbeat.subscribe(func(e deviceHeartbeat) { fn(e.device, e.rtt) })
}
