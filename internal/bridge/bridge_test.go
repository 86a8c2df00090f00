package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/esp32-osc-core/internal/audit"
	"github.com/nerrad567/esp32-osc-core/internal/directory"
	"github.com/nerrad567/esp32-osc-core/internal/esp32"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/database"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/esp32-osc-core/internal/transport/osc"
	"github.com/nerrad567/esp32-osc-core/migrations"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) GetPublished(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateCommand delivers a payload to the wildcard command handler.
func (m *MockMQTTClient) SimulateCommand(device string, payload string) error {
	m.mu.Lock()
	handler, ok := m.handlers[mqtt.Topics{}.AllDeviceCommands()]
	m.mu.Unlock()
	if !ok {
		return errors.New("no command subscription")
	}
	return handler(mqtt.Topics{}.DeviceCommand(device), []byte(payload))
}

// recordingTx records outbound OSC addresses.
type recordingTx struct {
	mu   *sync.Mutex
	sent *[]string
}

func (t recordingTx) Send(address string, _ ...any) error {
	t.mu.Lock()
	*t.sent = append(*t.sent, address)
	t.mu.Unlock()
	return nil
}

func (recordingTx) Close() error { return nil }

type mockTelemetry struct {
	mu          sync.Mutex
	battery     []string
	heartbeats  int
	transitions []string
}

func (m *mockTelemetry) WriteBatteryTelemetry(device, _ string, _, _ float64) {
	m.mu.Lock()
	m.battery = append(m.battery, device)
	m.mu.Unlock()
}

func (m *mockTelemetry) WriteHeartbeatRTT(string, time.Duration) {
	m.mu.Lock()
	m.heartbeats++
	m.mu.Unlock()
}

func (m *mockTelemetry) WriteConnectionState(_, from, to string) {
	m.mu.Lock()
	m.transitions = append(m.transitions, from+">"+to)
	m.mu.Unlock()
}

func (m *mockTelemetry) batteryWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.battery)
}

type mockDirectory struct {
	mu      sync.Mutex
	entries []directory.Entry
}

func (m *mockDirectory) RecordInfo(_ context.Context, e directory.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *mockDirectory) getEntries() []directory.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]directory.Entry(nil), m.entries...)
}

type mockReloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockReloader) Load(context.Context, *esp32.Manager) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

type mockAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *mockAudit) Record(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, *e)
	m.mu.Unlock()
	return nil
}

func (m *mockAudit) getEntries() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

type testEnv struct {
	manager   *esp32.Manager
	mqtt      *MockMQTTClient
	telemetry *mockTelemetry
	directory *mockDirectory
	audit     *mockAudit
	bridge    *Bridge

	sentMu sync.Mutex
	sent   []string
}

func (e *testEnv) sentAddresses() []string {
	e.sentMu.Lock()
	defer e.sentMu.Unlock()
	return append([]string(nil), e.sent...)
}

// setupBridge starts a bridge over a running manager with one device at
// 127.0.0.1. The manager's receiver binds a free loopback port.
func setupBridge(t *testing.T, reloader DeviceReloader) *testEnv {
	t.Helper()

	env := &testEnv{
		mqtt:      NewMockMQTTClient(),
		telemetry: &mockTelemetry{},
		directory: &mockDirectory{},
		audit:     &mockAudit{},
	}
	env.manager = esp32.NewManager(esp32.Config{
		Enabled:          true,
		AdvertiseAddress: "127.0.0.1",
		Devices:          []esp32.DeviceConfig{{Name: "box-01", Address: "127.0.0.1", Port: 9000}},
	})
	env.manager.SetDialer(func(string, int) (esp32.Transmitter, error) {
		return recordingTx{mu: &env.sentMu, sent: &env.sent}, nil
	})

	opts := Options{
		Manager:        env.manager,
		MQTT:           env.mqtt,
		Telemetry:      env.telemetry,
		Directory:      env.directory,
		Audit:          env.audit,
		Version:        "test",
		HealthInterval: time.Hour,
	}
	if reloader != nil {
		opts.Reloader = reloader
	}
	b, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.bridge = b

	ctx, cancel := context.WithCancel(context.Background())
	if err := b.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() error = %v", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- env.manager.Run(ctx, 5*time.Millisecond) }()

	t.Cleanup(func() {
		cancel()
		<-runDone
		b.Stop()
	})

	waitFor(t, "device added lifecycle event", func() bool {
		return len(env.mqtt.GetPublished("esp32osc/event/box-01/lifecycle")) > 0
	})
	return env
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func lastAck(t *testing.T, m *MockMQTTClient, device string) AckMessage {
	t.Helper()
	acks := m.GetPublished("esp32osc/ack/" + device)
	if len(acks) == 0 {
		t.Fatal("no ack published")
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[len(acks)-1].Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Options{MQTT: NewMockMQTTClient()}); !errors.Is(err, ErrMissingDependency) {
		t.Errorf("New() without manager error = %v, want ErrMissingDependency", err)
	}
	if _, err := New(Options{Manager: esp32.NewManager(esp32.Config{})}); !errors.Is(err, ErrMissingDependency) {
		t.Errorf("New() without mqtt error = %v, want ErrMissingDependency", err)
	}
}

func TestBridge_SubscribesAndPublishesHealth(t *testing.T) {
	env := setupBridge(t, nil)

	if _, ok := env.mqtt.handlers["esp32osc/command/+"]; !ok {
		t.Error("bridge should subscribe to esp32osc/command/+")
	}
	health := env.mqtt.GetPublished("esp32osc/health")
	if len(health) < 2 {
		t.Fatalf("expected starting and initial health reports, got %d", len(health))
	}
	var first HealthMessage
	if err := json.Unmarshal(health[0].Payload, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Status != HealthStarting {
		t.Errorf("first health status = %q, want starting", first.Status)
	}

	var added LifecycleMessage
	lifecycle := env.mqtt.GetPublished("esp32osc/event/box-01/lifecycle")
	if err := json.Unmarshal(lifecycle[0].Payload, &added); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if added.Event != LifecycleAdded || added.Address != "127.0.0.1" {
		t.Errorf("lifecycle = %+v, want added from 127.0.0.1", added)
	}
}

func TestBridge_ConnectCommandAndInfo(t *testing.T) {
	env := setupBridge(t, nil)

	if err := env.mqtt.SimulateCommand("box-01", `{"id":"c1","command":"connect"}`); err != nil {
		t.Fatalf("SimulateCommand() error = %v", err)
	}
	waitFor(t, "connect ack", func() bool { return len(env.mqtt.GetPublished("esp32osc/ack/box-01")) > 0 })

	ack := lastAck(t, env.mqtt, "box-01")
	if ack.CommandID != "c1" || ack.Status != AckAccepted {
		t.Fatalf("ack = %+v, want c1 accepted", ack)
	}
	sent := env.sentAddresses()
	if len(sent) == 0 || sent[len(sent)-1] != esp32.AddrCmdConnect {
		t.Fatalf("sent = %v, want a connect message", sent)
	}

	// The device answers with its info message, which completes the
	// connection.
	port := env.manager.Snapshot().ReceiverPort
	c, err := osc.Dial("127.0.0.1", port)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()
	if err := c.Send(esp32.AddrInfo, "127.0.0.1", "box-01", 7, 4.0, 2, 1, 1); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	waitFor(t, "directory entry", func() bool { return len(env.directory.getEntries()) > 0 })
	waitFor(t, "battery telemetry", func() bool { return env.telemetry.batteryWrites() > 0 })

	entry := env.directory.getEntries()[0]
	if entry.Name != "box-01" || entry.IP != "127.0.0.1" || entry.Motor != "2" || entry.Firmware != "7" {
		t.Errorf("directory entry = %+v", entry)
	}

	states := env.mqtt.GetPublished("esp32osc/state/box-01")
	if len(states) == 0 {
		t.Fatal("no state published")
	}
	last := states[len(states)-1]
	if !last.Retained {
		t.Error("state should be retained")
	}
	var state StateMessage
	if err := json.Unmarshal(last.Payload, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.Name != "box-01" || state.Info == nil || state.Info.MotorCount != 2 {
		t.Errorf("state = %+v", state)
	}

	env.telemetry.mu.Lock()
	transitions := append([]string(nil), env.telemetry.transitions...)
	env.telemetry.mu.Unlock()
	if len(transitions) < 2 || transitions[0] != "disconnected>connecting" || transitions[1] != "connecting>connected" {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestBridge_CommandErrors(t *testing.T) {
	env := setupBridge(t, nil)

	tests := []struct {
		name     string
		device   string
		payload  string
		wantCode string
	}{
		{"invalid json", "box-01", `{nope`, ErrCodeInvalidCommand},
		{"unknown command", "box-01", `{"command":"dance"}`, ErrCodeInvalidCommand},
		{"bad speed", "box-01", `{"command":"motor_speed","speed":3}`, ErrCodeInvalidParameters},
		{"unknown device", "ghost", `{"command":"connect"}`, ErrCodeDeviceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic := "esp32osc/ack/" + tt.device
			before := len(env.mqtt.GetPublished(topic))
			if err := env.mqtt.SimulateCommand(tt.device, tt.payload); err != nil {
				t.Fatalf("SimulateCommand() error = %v", err)
			}
			waitFor(t, "ack", func() bool { return len(env.mqtt.GetPublished(topic)) > before })

			ack := lastAck(t, env.mqtt, tt.device)
			if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, want failed %s", ack, tt.wantCode)
			}
		})
	}
}

func TestBridge_RecordsCommands(t *testing.T) {
	env := setupBridge(t, nil)

	send := func(device, payload string) {
		t.Helper()
		topic := "esp32osc/ack/" + device
		before := len(env.mqtt.GetPublished(topic))
		if err := env.mqtt.SimulateCommand(device, payload); err != nil {
			t.Fatalf("SimulateCommand() error = %v", err)
		}
		waitFor(t, "ack", func() bool { return len(env.mqtt.GetPublished(topic)) > before })
	}

	send("box-01", `{"id":"m1","command":"motor_speed","motor":1,"speed":0.5}`)
	send("ghost", `{"id":"c1","command":"connect"}`)
	send("box-01", `{nope`)

	entries := env.audit.getEntries()
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want 2 (unparseable payloads are not recorded)", entries)
	}

	motor := entries[0]
	if motor.Device != "box-01" || motor.Command != "motor_speed" || motor.Source != audit.SourceMQTT || motor.Status != audit.StatusAccepted {
		t.Errorf("motor entry = %+v", motor)
	}
	if motor.Params["id"] != "m1" || motor.Params["motor"] != 1 || motor.Params["speed"] != 0.5 {
		t.Errorf("motor params = %v", motor.Params)
	}

	ghost := entries[1]
	if ghost.Status != audit.StatusFailed || ghost.Error == "" {
		t.Errorf("ghost entry = %+v, want failed with error", ghost)
	}
}

func TestBridge_Reload(t *testing.T) {
	reloader := &mockReloader{}
	env := setupBridge(t, reloader)

	if err := env.mqtt.SimulateCommand("all", `{"command":"reload"}`); err != nil {
		t.Fatalf("SimulateCommand() error = %v", err)
	}
	waitFor(t, "reload ack", func() bool { return len(env.mqtt.GetPublished("esp32osc/ack/all")) > 0 })

	if ack := lastAck(t, env.mqtt, "all"); ack.Status != AckAccepted {
		t.Errorf("ack = %+v, want accepted", ack)
	}
	reloader.mu.Lock()
	defer reloader.mu.Unlock()
	if reloader.calls != 1 {
		t.Errorf("reloader calls = %d, want 1", reloader.calls)
	}
}

func TestBridge_ReloadRestartsWithoutReloader(t *testing.T) {
	env := setupBridge(t, nil)

	if err := env.bridge.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	waitFor(t, "removed and re-added lifecycle events", func() bool {
		var events []LifecycleEvent
		for _, p := range env.mqtt.GetPublished("esp32osc/event/box-01/lifecycle") {
			var msg LifecycleMessage
			if json.Unmarshal(p.Payload, &msg) == nil {
				events = append(events, msg.Event)
			}
		}
		return len(events) >= 3 && events[1] == LifecycleRemoved && events[2] == LifecycleAdded
	})
}

func TestBridge_InvalidTopic(t *testing.T) {
	b, err := New(Options{Manager: esp32.NewManager(esp32.Config{}), MQTT: NewMockMQTTClient()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.handleMQTTMessage("esp32osc/command", []byte(`{}`)); !errors.Is(err, mqtt.ErrInvalidTopic) {
		t.Errorf("handleMQTTMessage() error = %v, want ErrInvalidTopic", err)
	}
}

func TestBridge_StopIdempotent(t *testing.T) {
	pub := NewMockMQTTClient()
	b, err := New(Options{Manager: esp32.NewManager(esp32.Config{}), MQTT: pub})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b.Stop()
	b.Stop()

	health := pub.GetPublished("esp32osc/health")
	var last HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last health = %q, want stopping", last.Status)
	}

	// Commands after Stop are ignored.
	if err := b.handleMQTTMessage("esp32osc/command/box-01", []byte(`{"command":"connect"}`)); err != nil {
		t.Errorf("handleMQTTMessage() after Stop error = %v", err)
	}
}

func TestBridge_InfoKeepsRegisteredWiFi(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "directory.db")})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := directory.NewSQLiteRepository(db.DB)

	b, err := New(Options{Manager: esp32.NewManager(esp32.Config{}), MQTT: NewMockMQTTClient(), Directory: repo})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Registration is the only source of the Wi-Fi name.
	if err := repo.Upsert(ctx, directory.Entry{Name: "box-01", IP: "10.0.0.5", WiFi: "studio-net"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	info := esp32.DeviceInfo{Name: "box-01", FirmwareVersion: 7, BatteryVoltage: 3.9, MotorCount: 2}
	b.recordDirectoryInfo(ctx, directoryEntry("box-01", "10.0.0.5", info))

	got, err := repo.Get(ctx, "box-01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.WiFi != "studio-net" {
		t.Errorf("WiFi = %q, want studio-net", got.WiFi)
	}
	if got.Firmware != "7" || got.Battery != "3.90" || got.Motor != "2" {
		t.Errorf("entry = %+v, want info fields recorded", got)
	}
}

func TestBridge_RemovedDeviceClearsRetainedState(t *testing.T) {
	env := setupBridge(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.manager.Do(ctx, func() error { return env.manager.RemoveDevice("box-01") }); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}

	waitFor(t, "retained state cleared", func() bool {
		states := env.mqtt.GetPublished("esp32osc/state/box-01")
		if len(states) == 0 {
			return false
		}
		last := states[len(states)-1]
		return last.Retained && len(last.Payload) == 0
	})

	var removed bool
	for _, p := range env.mqtt.GetPublished("esp32osc/event/box-01/lifecycle") {
		var msg LifecycleMessage
		if json.Unmarshal(p.Payload, &msg) == nil && msg.Event == LifecycleRemoved {
			removed = true
		}
	}
	if !removed {
		t.Error("removed lifecycle event not published")
	}
}

func TestBridge_CommandsDuringStop(t *testing.T) {
	b, err := New(Options{Manager: esp32.NewManager(esp32.Config{}), MQTT: NewMockMQTTClient()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.handleMQTTMessage("esp32osc/command/box-01", []byte(`{"command":"connect"}`)) //nolint:errcheck // racing Stop
			}
		}()
	}

	stopped := make(chan struct{})
	go func() {
		b.Stop()
		close(stopped)
	}()

	wg.Wait()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while commands were arriving")
	}
}
