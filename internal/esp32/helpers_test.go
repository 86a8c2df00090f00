package esp32

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

const testAdvertise = "192.168.1.10"

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	host    string
	port    int
	address string
	args    []any
}

// recordingNet is a Dialer that records every outbound message.
type recordingNet struct {
	mu       sync.Mutex
	sent     []sentMessage
	closed   []string
	failDial map[string]error
}

func newRecordingNet() *recordingNet {
	return &recordingNet{failDial: make(map[string]error)}
}

func (n *recordingNet) dial(host string, port int) (Transmitter, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.failDial[host]; err != nil {
		return nil, err
	}
	return &recordingTx{net: n, host: host, port: port}, nil
}

func (n *recordingNet) messages(host, address string) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMessage
	for _, m := range n.sent {
		if (host == "" || m.host == host) && (address == "" || m.address == address) {
			out = append(out, m)
		}
	}
	return out
}

func (n *recordingNet) closedHosts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.closed...)
}

type recordingTx struct {
	net  *recordingNet
	host string
	port int
}

func (t *recordingTx) Send(address string, args ...any) error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.net.sent = append(t.net.sent, sentMessage{host: t.host, port: t.port, address: address, args: args})
	return nil
}

func (t *recordingTx) Close() error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.net.closed = append(t.net.closed, t.host)
	return nil
}

// testLogger records warnings so tests can assert on them.
type testLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *testLogger) Debug(string, ...any) {}
func (l *testLogger) Info(string, ...any)  {}
func (l *testLogger) Error(string, ...any) {}
func (l *testLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *testLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

func newTestReceiver(t *testing.T) *Receiver {
	t.Helper()
	r, err := NewReceiver(ReceiverOptions{Port: 0, AdvertiseAddress: testAdvertise})
	if err != nil {
		t.Fatalf("NewReceiver() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func newTestDevice(t *testing.T, r *Receiver, n *recordingNet, clk Clock, cfg DeviceConfig, opts SessionOptions) *Device {
	t.Helper()
	d, err := NewDevice(cfg, r, opts, n.dial, clk, nil)
	if err != nil {
		t.Fatalf("NewDevice(%s) error = %v", cfg.Name, err)
	}
	return d
}

func deviceCfg(name, addr string) DeviceConfig {
	return DeviceConfig{Name: name, Address: addr, Port: 9999}
}

func infoArgs(sender string, firmware int) []any {
	return []any{sender, "box", int32(firmware), float32(3.9), int32(1), int32(1), int32(1)}
}

func injectInfo(r *Receiver, sender string) {
	r.enqueue(AddrInfo, infoArgs(sender, 3))
}

func injectAlive(r *Receiver, sender string, id int) {
	r.enqueue(AddrAlive, []any{sender, int32(id)})
}

func injectDisconnect(r *Receiver, sender string) {
	r.enqueue(AddrDisconnect, []any{sender})
}

func injectButton(r *Receiver, sender string, raw int) {
	r.enqueue(AddrButton, []any{sender, int32(raw)})
}

func injectEncoder(r *Receiver, sender string, raw int) {
	r.enqueue(AddrEncoder, []any{sender, int32(raw)})
}

// step drains the receiver and updates the given devices, like Manager.Tick.
func step(r *Receiver, devices ...*Device) {
	r.SendAllEvents()
	for _, d := range devices {
		d.Update()
	}
}

// connectDevice drives d to Connected.
func connectDevice(t *testing.T, r *Receiver, d *Device) {
	t.Helper()
	if err := d.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	injectInfo(r, d.Address())
	step(r, d)
	if d.State() != StateConnected {
		t.Fatalf("State() = %v, want connected", d.State())
	}
}

func wantState(t *testing.T, d *Device, want ConnectionState) {
	t.Helper()
	if got := d.State(); got != want {
		t.Fatalf("%s State() = %v, want %v", d.Name(), got, want)
	}
}

func hostPort(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
