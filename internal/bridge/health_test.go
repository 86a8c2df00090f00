package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/esp32-osc-core/internal/esp32"
)

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []publishedMessage
}

func newMockPublisher(connected bool) *mockPublisher {
	return &mockPublisher{connected: connected}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.messages...)
}

type staticSource struct {
	snap esp32.ManagerSnapshot
}

func (s staticSource) Snapshot() esp32.ManagerSnapshot { return s.snap }

func healthySnapshot() esp32.ManagerSnapshot {
	return esp32.ManagerSnapshot{
		Initialized:     true,
		Enabled:         true,
		ReceiverAddress: "192.168.1.10",
		ReceiverPort:    8888,
		Devices: []esp32.DeviceSnapshot{
			{Name: "box-01", State: esp32.StateConnected},
			{Name: "box-02", State: esp32.StateDisconnected},
		},
	}
}

func TestHealthReporterDefaultInterval(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{})
	if hr.interval != DefaultHealthInterval {
		t.Errorf("default interval = %v, want %v", hr.interval, DefaultHealthInterval)
	}
}

func TestHealthReporterPublishNow(t *testing.T) {
	pub := newMockPublisher(true)
	hr := NewHealthReporter(HealthReporterConfig{
		Version:   "1.2.0",
		Publisher: pub,
		Source:    staticSource{snap: healthySnapshot()},
	})

	if err := hr.PublishNow(); err != nil {
		t.Fatalf("PublishNow failed: %v", err)
	}

	messages := pub.getMessages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.topic != "esp32osc/health" {
		t.Errorf("topic = %q, want esp32osc/health", msg.topic)
	}
	if msg.qos != 1 || !msg.retained {
		t.Errorf("qos = %d retained = %v, want 1 retained", msg.qos, msg.retained)
	}

	var health HealthMessage
	if err := json.Unmarshal(msg.payload, &health); err != nil {
		t.Fatalf("failed to unmarshal health message: %v", err)
	}
	if health.Status != HealthHealthy {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "1.2.0" {
		t.Errorf("Version = %q, want 1.2.0", health.Version)
	}
	if health.Devices != 2 || health.Connected != 1 {
		t.Errorf("Devices = %d Connected = %d, want 2 and 1", health.Devices, health.Connected)
	}
	if health.ReceiverPort != 8888 {
		t.Errorf("ReceiverPort = %d, want 8888", health.ReceiverPort)
	}
}

func TestHealthReporterDetermineStatus(t *testing.T) {
	disabled := healthySnapshot()
	disabled.Enabled = false
	notInit := healthySnapshot()
	notInit.Initialized = false

	tests := []struct {
		name      string
		connected bool
		source    SnapshotSource
		want      HealthStatus
	}{
		{"all good", true, staticSource{snap: healthySnapshot()}, HealthHealthy},
		{"no source", true, nil, HealthHealthy},
		{"mqtt down", false, staticSource{snap: healthySnapshot()}, HealthDegraded},
		{"manager disabled", true, staticSource{snap: disabled}, HealthDegraded},
		{"manager not initialized", true, staticSource{snap: notInit}, HealthDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hr := NewHealthReporter(HealthReporterConfig{
				Publisher: newMockPublisher(tt.connected),
				Source:    tt.source,
			})
			got, reason := hr.determineStatus()
			if got != tt.want {
				t.Errorf("status = %q (%s), want %q", got, reason, tt.want)
			}
			if got == HealthDegraded && reason == "" {
				t.Error("degraded status should carry a reason")
			}
		})
	}
}

func TestHealthReporterStopPublishesStopping(t *testing.T) {
	pub := newMockPublisher(true)
	hr := NewHealthReporter(HealthReporterConfig{
		Interval:  time.Hour,
		Publisher: pub,
		Source:    staticSource{snap: healthySnapshot()},
	})

	hr.Start(context.Background())
	hr.Stop()
	hr.Stop()

	messages := pub.getMessages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message after Stop, got %d", len(messages))
	}
	var health HealthMessage
	if err := json.Unmarshal(messages[0].payload, &health); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if health.Status != HealthStopping {
		t.Errorf("Status = %q, want stopping", health.Status)
	}
}

func TestHealthReporterPeriodic(t *testing.T) {
	pub := newMockPublisher(true)
	hr := NewHealthReporter(HealthReporterConfig{
		Interval:  10 * time.Millisecond,
		Publisher: pub,
	})

	hr.Start(context.Background())
	defer hr.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(pub.getMessages()) >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected at least 2 periodic reports, got %d", len(pub.getMessages()))
}

func TestHealthReporterNilPublisher(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{})
	if err := hr.PublishNow(); err != nil {
		t.Errorf("PublishNow with nil publisher should be a no-op, got %v", err)
	}
}
