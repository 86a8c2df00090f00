package osc

import (
	"errors"
	"net"
	"testing"
	"time"
)

func listenTest(t *testing.T) (*Server, chan Message) {
	t.Helper()
	received := make(chan Message, 16)
	srv, err := Listen(0, func(m Message) {
		received <- m
	})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, received
}

func waitMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestClientServer_RoundTrip(t *testing.T) {
	srv, received := listenTest(t)

	c, err := Dial("127.0.0.1", srv.Port())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if err := c.Send("/unity/info/", "127.0.0.1", "box-01", 3, 3.9, true); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	m := waitMessage(t, received)
	if m.Address != "/unity/info/" {
		t.Errorf("Address = %q, want /unity/info/", m.Address)
	}
	if len(m.Args) != 5 {
		t.Fatalf("len(Args) = %d, want 5", len(m.Args))
	}
	if s, ok := m.Args[1].(string); !ok || s != "box-01" {
		t.Errorf("Args[1] = %#v, want \"box-01\"", m.Args[1])
	}
	if v, ok := m.Args[2].(int32); !ok || v != 3 {
		t.Errorf("Args[2] = %#v, want int32(3)", m.Args[2])
	}
	if v, ok := m.Args[3].(float32); !ok || v < 3.89 || v > 3.91 {
		t.Errorf("Args[3] = %#v, want float32(3.9)", m.Args[3])
	}
	if m.Source == nil {
		t.Error("Source should be set")
	}
	if c.MessagesSent() != 1 {
		t.Errorf("MessagesSent() = %d, want 1", c.MessagesSent())
	}
}

func TestServer_ArrivalOrder(t *testing.T) {
	srv, received := listenTest(t)

	c, err := Dial("127.0.0.1", srv.Port())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	for i := 1; i <= 5; i++ {
		if err := c.Send("/unity/alive/", "127.0.0.1", i); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}

	for i := 1; i <= 5; i++ {
		m := waitMessage(t, received)
		if got := m.Args[1].(int32); got != int32(i) {
			t.Errorf("message %d carried id %d", i, got)
		}
	}
}

func TestServer_ParseErrorCounted(t *testing.T) {
	srv, received := listenTest(t)

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: srv.Port()})
	if err != nil {
		t.Fatalf("DialUDP() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("not osc at all")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// A valid message afterwards proves the loop survived the bad packet.
	c, err := Dial("127.0.0.1", srv.Port())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()
	if err := c.Send("/unity/disconnect/", "127.0.0.1"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	m := waitMessage(t, received)
	if m.Address != "/unity/disconnect/" {
		t.Errorf("Address = %q, want /unity/disconnect/", m.Address)
	}

	stats := srv.Stats()
	if stats.PacketsRx < 2 {
		t.Errorf("PacketsRx = %d, want >= 2", stats.PacketsRx)
	}
	if stats.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", stats.ParseErrors)
	}
}

func TestHandleDatagram_NonOSCCounted(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"plain text", "hello"},
		{"zero bytes", "\x00\x00\x00\x00"},
		{"address without leading slash", "unity/alive/\x00\x00\x00\x00,i\x00\x00\x00\x00\x00\x01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delivered := 0
			s := &Server{handler: func(Message) { delivered++ }}

			s.handleDatagram([]byte(tt.data), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999})

			if got := s.parseErrors.Load(); got != 1 {
				t.Errorf("parseErrors = %d, want 1", got)
			}
			if delivered != 0 {
				t.Errorf("handler called %d times, want 0", delivered)
			}
		})
	}
}

func TestListen_PortInUse(t *testing.T) {
	srv, _ := listenTest(t)

	_, err := Listen(srv.Port(), func(Message) {})
	if !errors.Is(err, ErrBindFailed) {
		t.Fatalf("Listen() on bound port error = %v, want ErrBindFailed", err)
	}
}

func TestListen_NilHandler(t *testing.T) {
	if _, err := Listen(0, nil); !errors.Is(err, ErrBindFailed) {
		t.Fatalf("Listen(nil) error = %v, want ErrBindFailed", err)
	}
}

func TestServer_CloseIsIdempotent(t *testing.T) {
	srv, err := Listen(0, func(Message) {})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClient_SendAfterClose(t *testing.T) {
	c, err := Dial("127.0.0.1", 9)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	c.Close()

	if err := c.Send("/arduino/sleep"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
}

func TestDial_Validation(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
	}{
		{"empty host", "", 9999},
		{"port zero", "127.0.0.1", 0},
		{"port too large", "127.0.0.1", 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Dial(tt.host, tt.port); !errors.Is(err, ErrDialFailed) {
				t.Errorf("Dial(%q, %d) error = %v, want ErrDialFailed", tt.host, tt.port, err)
			}
		})
	}
}

func TestNormaliseArg(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    any
		wantErr bool
	}{
		{"int to int32", 42, int32(42), false},
		{"float64 to float32", 0.5, float32(0.5), false},
		{"string passthrough", "x", "x", false},
		{"bool passthrough", true, true, false},
		{"int overflow", 1 << 40, nil, true},
		{"unsupported", struct{}{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normaliseArg(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normaliseArg() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("normaliseArg() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
