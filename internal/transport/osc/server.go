package osc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
)

// maxDatagramSize is the largest UDP payload we will read in one call.
const maxDatagramSize = 65535

// Message is one decoded OSC message and the network address it came from.
type Message struct {
	// Address is the OSC address pattern (e.g. "/unity/info/").
	Address string

	// Args holds the typed arguments as decoded by go-osc
	// (int32, int64, float32, float64, string, []byte, bool, nil).
	Args []any

	// Source is the UDP address of the sender.
	Source net.Addr
}

// Handler receives every message delivered by a Server.
type Handler func(Message)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds receive-side counters.
type Stats struct {
	PacketsRx    uint64    `json:"packets_rx"`
	MessagesRx   uint64    `json:"messages_rx"`
	ParseErrors  uint64    `json:"parse_errors"`
	ReadErrors   uint64    `json:"read_errors"`
	LastActivity time.Time `json:"last_activity"`
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Server owns one inbound UDP socket and delivers decoded messages.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The Handler runs on the receive goroutine only, never concurrently
//     with itself.
type Server struct {
	conn    *net.UDPConn
	handler Handler

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	packetsRx    atomic.Uint64
	messagesRx   atomic.Uint64
	parseErrors  atomic.Uint64
	readErrors   atomic.Uint64
	lastActivity atomic.Int64
}

// Listen binds a UDP socket on the given local port (0 picks a free port)
// and starts delivering messages to handler.
//
// Returns ErrBindFailed (wrapped) if the port cannot be bound; there is no
// retry.
func Listen(port int, handler Handler) (*Server, error) {
	return ListenLogged(port, handler, nil)
}

// ListenLogged is Listen with a logger installed before the receive loop
// starts, so early parse errors are not lost.
func ListenLogged(port int, handler Handler, logger Logger) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: handler is required", ErrBindFailed)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("%w: port %d: %w", ErrBindFailed, port, err)
	}

	s := &Server{
		conn:    conn,
		handler: handler,
		done:    newCloseOnce(),
		logger:  logger,
	}

	s.wg.Add(1)
	go s.receiveLoop()

	return s, nil
}

// LocalAddr returns the bound local address.
func (s *Server) LocalAddr() *net.UDPAddr {
	addr, _ := s.conn.LocalAddr().(*net.UDPAddr) //nolint:errcheck // always a UDPAddr for a UDPConn
	return addr
}

// Port returns the bound local port.
func (s *Server) Port() int {
	if addr := s.LocalAddr(); addr != nil {
		return addr.Port
	}
	return 0
}

// SetLogger sets the logger for this server.
func (s *Server) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Stats returns a snapshot of the receive counters.
func (s *Server) Stats() Stats {
	return Stats{
		PacketsRx:    s.packetsRx.Load(),
		MessagesRx:   s.messagesRx.Load(),
		ParseErrors:  s.parseErrors.Load(),
		ReadErrors:   s.readErrors.Load(),
		LastActivity: time.Unix(0, s.lastActivity.Load()),
	}
}

// Close releases the socket and waits for the receive goroutine to exit.
// Safe to call multiple times.
func (s *Server) Close() error {
	select {
	case <-s.done.Done():
		return nil
	default:
	}
	s.done.Close()
	err := s.conn.Close()
	s.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing osc server: %w", err)
	}
	return nil
}

// receiveLoop reads datagrams until the socket is closed.
func (s *Server) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.readErrors.Add(1)
			s.logWarn("osc read failed", "error", err)
			continue
		}

		s.packetsRx.Add(1)
		s.lastActivity.Store(time.Now().UnixNano())
		s.handleDatagram(buf[:n], src)
	}
}

// handleDatagram parses one datagram and delivers its messages.
func (s *Server) handleDatagram(data []byte, src *net.UDPAddr) {
	packet, err := goosc.ParsePacket(string(data))
	if err == nil && packet == nil {
		err = ErrNotOSC
	}
	if err != nil {
		s.parseErrors.Add(1)
		s.logDebug("dropping unparseable osc packet", "source", src.String(), "error", err)
		return
	}
	s.deliverPacket(packet, src)
}

func (s *Server) deliverPacket(packet goosc.Packet, src *net.UDPAddr) {
	switch p := packet.(type) {
	case *goosc.Message:
		s.deliver(p, src)
	case *goosc.Bundle:
		for _, m := range p.Messages {
			s.deliver(m, src)
		}
		for _, b := range p.Bundles {
			s.deliverPacket(b, src)
		}
	}
}

// deliver invokes the handler with panic recovery.
func (s *Server) deliver(m *goosc.Message, src *net.UDPAddr) {
	if m == nil {
		return
	}
	s.messagesRx.Add(1)

	defer func() {
		if r := recover(); r != nil {
			s.logError("osc handler panic recovered", "address", m.Address, "panic", r)
		}
	}()

	s.handler(Message{
		Address: m.Address,
		Args:    m.Arguments,
		Source:  src,
	})
}

func (s *Server) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Server) logDebug(msg string, kv ...any) {
	if l := s.getLogger(); l != nil {
		l.Debug(msg, kv...)
	}
}

func (s *Server) logWarn(msg string, kv ...any) {
	if l := s.getLogger(); l != nil {
		l.Warn(msg, kv...)
	}
}

func (s *Server) logError(msg string, kv ...any) {
	if l := s.getLogger(); l != nil {
		l.Error(msg, kv...)
	}
}
