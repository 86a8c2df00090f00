package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/esp32-osc-core/internal/audit"
	"github.com/nerrad567/esp32-osc-core/internal/directory"
	"github.com/nerrad567/esp32-osc-core/internal/esp32"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/mqtt"
)

const (
	// DefaultCommandTimeout bounds how long a command waits for the frame loop.
	DefaultCommandTimeout = 5 * time.Second

	// reloadTimeout bounds a device list fetch plus manager restart.
	reloadTimeout = 30 * time.Second

	// sinkQueueSize is the number of pending directory/telemetry writes
	// held before new ones are dropped.
	sinkQueueSize = 256

	// sinkWriteTimeout bounds a single directory or audit write.
	sinkWriteTimeout = 5 * time.Second
)

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MQTTClient is the subset of the MQTT client the bridge uses.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// TelemetryWriter records device measurements. *influxdb.Client satisfies it.
type TelemetryWriter interface {
	WriteBatteryTelemetry(device, address string, voltage, level float64)
	WriteHeartbeatRTT(device string, rtt time.Duration)
	WriteConnectionState(device, from, to string)
}

// DirectoryStore receives the last info reported by each device.
// RecordInfo must leave fields the info message does not carry (Wi-Fi)
// as the device last registered them. *directory.SQLiteRepository
// satisfies it.
type DirectoryStore interface {
	RecordInfo(ctx context.Context, e directory.Entry) error
}

// DeviceReloader replaces the manager's device list and restarts it.
// *esp32.DeviceListLoader satisfies it.
type DeviceReloader interface {
	Load(ctx context.Context, m *esp32.Manager) error
}

// CommandRecorder stores executed commands. *audit.SQLiteRepository
// satisfies it.
type CommandRecorder interface {
	Record(ctx context.Context, e *audit.Entry) error
}

// Options configures a Bridge.
type Options struct {
	// Manager is the session manager (required).
	Manager *esp32.Manager

	// MQTT is the broker client (required).
	MQTT MQTTClient

	// Telemetry is optional. Nil disables measurement writes.
	Telemetry TelemetryWriter

	// Directory is optional. Nil disables directory updates.
	Directory DirectoryStore

	// Reloader is optional. Nil makes "reload" a plain manager restart.
	Reloader DeviceReloader

	// Audit is optional. Nil disables command history.
	Audit CommandRecorder

	Version        string
	HealthInterval time.Duration
	CommandTimeout time.Duration
	Logger         Logger
}

// Bridge mirrors esp32 sessions to MQTT and executes inbound commands.
//
// Thread Safety: Start and Stop are safe from any goroutine. Manager
// callbacks run on the frame goroutine and only publish or enqueue.
type Bridge struct {
	manager   *esp32.Manager
	mqtt      MQTTClient
	telemetry TelemetryWriter
	directory DirectoryStore
	reloader  DeviceReloader
	audit     CommandRecorder
	health    *HealthReporter
	topics    mqtt.Topics

	commandTimeout time.Duration

	subs []*esp32.Subscription
	sink chan func(context.Context)

	// Shutdown coordination. stopping is set under stopMu before wg.Wait
	// so no command goroutine is added after Stop starts waiting.
	done     chan struct{}
	wg       sync.WaitGroup
	stopMu   sync.Mutex
	stopping bool
	stopOnce sync.Once

	// ctx is cancelled by Stop to abort in-flight commands.
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("%w: manager", ErrMissingDependency)
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: mqtt client", ErrMissingDependency)
	}

	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		manager:        opts.Manager,
		mqtt:           opts.MQTT,
		telemetry:      opts.Telemetry,
		directory:      opts.Directory,
		reloader:       opts.Reloader,
		audit:          opts.Audit,
		commandTimeout: timeout,
		sink:           make(chan func(context.Context), sinkQueueSize),
		done:           make(chan struct{}),
		ctx:            ctx,
		ctxCancel:      cancel,
		logger:         opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Source:    opts.Manager,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to manager events and the command topic, and starts
// health reporting. Subscribe to manager events before the manager's
// first Init so the initial "added" lifecycle events are published.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	m := b.manager
	b.subs = append(b.subs,
		m.OnDeviceAdded(func(d *esp32.Device) { b.publishLifecycle(d, LifecycleAdded) }),
		m.OnDeviceRemoved(b.handleRemoved),
		m.OnDeviceConnected(b.handleConnected),
		m.OnDeviceDisconnected(b.handleDisconnected),
		m.OnDeviceStateChanged(b.handleStateChanged),
		m.OnDeviceInput(b.handleInput),
		m.OnDeviceInfo(b.handleInfo),
		m.OnDeviceHeartbeat(b.handleHeartbeat),
	)

	b.wg.Add(1)
	go b.sinkLoop()

	commandTopic := b.topics.AllDeviceCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started")
	return nil
}

// Stop detaches from the manager, waits for in-flight work and publishes
// a final "stopping" health status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		for _, s := range b.subs {
			s.Unsubscribe()
		}

		b.stopMu.Lock()
		b.stopping = true
		b.stopMu.Unlock()

		close(b.done)
		b.ctxCancel()

		b.health.Stop()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

// --- Manager callbacks (frame goroutine) ---

// handleRemoved clears the retained state so subscribers stop seeing the
// last state of a session that no longer exists.
func (b *Bridge) handleRemoved(d *esp32.Device) {
	b.publishLifecycle(d, LifecycleRemoved)
	if err := b.mqtt.Publish(b.topics.DeviceState(d.Name()), []byte{}, 1, true); err != nil {
		b.logDebug("clearing retained state failed", "device", d.Name(), "error", err)
	}
}

func (b *Bridge) handleConnected(d *esp32.Device) {
	b.publishLifecycle(d, LifecycleConnected)
	b.publishState(d)
}

func (b *Bridge) handleDisconnected(d *esp32.Device) {
	b.publishLifecycle(d, LifecycleDisconnected)
	b.publishState(d)
}

func (b *Bridge) handleStateChanged(d *esp32.Device, c esp32.StateChange) {
	if b.telemetry == nil {
		return
	}
	name, from, to := d.Name(), c.From.String(), c.To.String()
	b.enqueue(func(context.Context) { b.telemetry.WriteConnectionState(name, from, to) })
}

func (b *Bridge) handleInput(d *esp32.Device, in esp32.InputState) {
	b.publishJSON(b.topics.DeviceInput(d.Name()), InputMessage{
		Device:    d.Name(),
		Timestamp: time.Now().UTC(),
		Button:    in.Button,
		Encoder:   in.Encoder,
	}, false)
	b.publishState(d)
}

func (b *Bridge) handleInfo(d *esp32.Device, info esp32.DeviceInfo) {
	b.publishState(d)

	name, address := d.Name(), d.Address()
	if b.telemetry != nil {
		b.enqueue(func(context.Context) {
			b.telemetry.WriteBatteryTelemetry(name, address, info.BatteryVoltage, info.BatteryLevel)
		})
	}
	if b.directory != nil {
		entry := directoryEntry(name, address, info)
		b.enqueue(func(ctx context.Context) { b.recordDirectoryInfo(ctx, entry) })
	}
}

func (b *Bridge) handleHeartbeat(d *esp32.Device, rtt time.Duration) {
	if b.telemetry == nil {
		return
	}
	name := d.Name()
	b.enqueue(func(context.Context) { b.telemetry.WriteHeartbeatRTT(name, rtt) })
}

// directoryEntry converts reported info into a directory entry. The
// device's self-reported name wins over the configured one. WiFi is left
// empty; only registration reports it.
func directoryEntry(configured, address string, info esp32.DeviceInfo) directory.Entry {
	name := info.Name
	if name == "" {
		name = configured
	}
	return directory.Entry{
		Name:     name,
		IP:       address,
		Battery:  strconv.FormatFloat(info.BatteryVoltage, 'f', 2, 64),
		Motor:    strconv.Itoa(info.MotorCount),
		Firmware: strconv.Itoa(info.FirmwareVersion),
	}
}

func (b *Bridge) recordDirectoryInfo(ctx context.Context, e directory.Entry) {
	ctx, cancel := context.WithTimeout(ctx, sinkWriteTimeout)
	defer cancel()

	err := b.directory.RecordInfo(ctx, e)
	switch {
	case err == nil:
	case errors.Is(err, directory.ErrDefaultName):
		b.logDebug("skipping directory entry for unconfigured device", "ip", e.IP)
	default:
		b.logError("failed to update device directory", err)
	}
}

func (b *Bridge) publishState(d *esp32.Device) {
	b.publishJSON(b.topics.DeviceState(d.Name()), StateMessage{
		DeviceSnapshot: d.Snapshot(),
		Timestamp:      time.Now().UTC(),
	}, true)
}

func (b *Bridge) publishLifecycle(d *esp32.Device, event LifecycleEvent) {
	b.publishJSON(b.topics.DeviceLifecycle(d.Name()), LifecycleMessage{
		Device:    d.Name(),
		Timestamp: time.Now().UTC(),
		Event:     event,
		Address:   d.Address(),
	}, false)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal message", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.logDebug("publish failed", "topic", topic, "error", err)
	}
}

// --- Sink worker ---

// enqueue hands slow work to the sink goroutine. Work is dropped when the
// queue is full or the bridge is stopping.
func (b *Bridge) enqueue(fn func(context.Context)) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.sink <- fn:
	default:
		b.logWarn("sink queue full, dropping write")
	}
}

func (b *Bridge) sinkLoop() {
	defer b.wg.Done()
	for {
		select {
		case fn := <-b.sink:
			fn(b.ctx)
		case <-b.done:
			b.drainSink()
			return
		}
	}
}

// drainSink runs queued telemetry writes that do not need the cancelled
// bridge context. Directory writes get a fresh short deadline.
func (b *Bridge) drainSink() {
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()
	for {
		select {
		case fn := <-b.sink:
			fn(ctx)
		default:
			return
		}
	}
}

// --- Commands (MQTT goroutine) ---

func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	device, ok := mqtt.DeviceFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: %s", mqtt.ErrInvalidTopic, topic)
	}

	// Commands wait on the frame loop, so they must not block the
	// client's delivery goroutine.
	b.stopMu.Lock()
	if b.stopping {
		b.stopMu.Unlock()
		return nil
	}
	b.wg.Add(1)
	b.stopMu.Unlock()

	go func() {
		defer b.wg.Done()
		b.handleCommand(device, payload)
	}()
	return nil
}

func (b *Bridge) handleCommand(device string, payload []byte) {
	msg, err := parseCommand(payload)
	if err != nil {
		b.publishAck(newAckError(device, msg, ErrCodeInvalidCommand, err.Error()))
		return
	}

	b.logDebug("command received", "device", device, "command", msg.Command, "id", msg.ID)

	err = b.Execute(b.ctx, device, msg)
	b.recordCommand(device, msg, err)
	if err != nil {
		b.publishAck(newAckError(device, msg, errorCode(err), err.Error()))
		return
	}
	b.publishAck(newAck(device, msg))
}

func (b *Bridge) recordCommand(device string, msg CommandMessage, execErr error) {
	if b.audit == nil {
		return
	}

	e := &audit.Entry{
		Device:  device,
		Command: msg.Command,
		Source:  audit.SourceMQTT,
		Status:  audit.StatusAccepted,
		Params:  map[string]any{"id": msg.ID},
	}
	switch msg.Command {
	case string(esp32.CmdMotorSpeed):
		e.Params["motor"] = msg.Motor
		e.Params["speed"] = msg.Speed
	case string(esp32.CmdHapticEvent):
		e.Params["motor"] = msg.Motor
		e.Params["event"] = msg.Event
	}
	if execErr != nil {
		e.Status = audit.StatusFailed
		e.Error = execErr.Error()
	}

	// The command context may already be cancelled by Stop.
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()
	if err := b.audit.Record(ctx, e); err != nil {
		b.logError("failed to record command", err)
	}
}

// Execute runs one command message against the named device on the
// manager's frame goroutine and waits for the result. "reload" ignores
// the device name.
func (b *Bridge) Execute(ctx context.Context, device string, msg CommandMessage) error {
	if msg.Command == CommandReload {
		return b.Reload(ctx)
	}

	cmd, err := msg.DeviceCommand()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.commandTimeout)
	defer cancel()

	return b.manager.Execute(ctx, device, cmd)
}

// Reload reloads the device list (when a reloader is configured) and
// restarts the manager.
func (b *Bridge) Reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, reloadTimeout)
	defer cancel()

	if b.reloader != nil {
		return b.reloader.Load(ctx, b.manager)
	}
	return b.manager.Do(ctx, b.manager.Restart)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, esp32.ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters):
		return ErrCodeInvalidParameters
	case errors.Is(err, esp32.ErrDeviceNotFound):
		return ErrCodeDeviceNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, esp32.ErrManagerStopped):
		return ErrCodeBridgeError
	default:
		return ErrCodeSendFailed
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	b.publishJSON(b.topics.DeviceAck(ack.Device), ack, false)
}

// --- Logging helpers ---

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}
