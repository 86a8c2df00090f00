package osc

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	goosc "github.com/hypebeast/go-osc/osc"
)

// Client sends OSC messages to one remote host over its own UDP socket.
//
// Sends are fire-and-forget: a nil error only means the datagram was
// handed to the kernel.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	host string
	port int

	conn   *net.UDPConn
	mu     sync.Mutex
	closed atomic.Bool

	messagesTx atomic.Uint64
	errorsTx   atomic.Uint64
}

// Dial resolves host:port and creates a connected UDP socket for it.
func Dial(host string, port int) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: host is empty", ErrDialFailed)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrDialFailed, port)
	}

	target := net.JoinHostPort(host, strconv.Itoa(port))
	raddr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %w", ErrDialFailed, target, err)
	}

	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, target, err)
	}

	return &Client{
		host: host,
		port: port,
		conn: conn,
	}, nil
}

// Host returns the configured remote host.
func (c *Client) Host() string {
	return c.host
}

// Port returns the configured remote port.
func (c *Client) Port() int {
	return c.port
}

// Send encodes one message and writes it as a single datagram.
//
// Go int values are encoded as OSC int32 and float64 values as float32,
// which is what the device firmware parses.
func (c *Client) Send(address string, args ...any) error {
	if c.closed.Load() {
		return ErrClosed
	}

	encoded := make([]any, 0, len(args))
	for i, a := range args {
		v, err := normaliseArg(a)
		if err != nil {
			return fmt.Errorf("%s arg %d: %w", address, i, err)
		}
		encoded = append(encoded, v)
	}

	data, err := goosc.NewMessage(address, encoded...).MarshalBinary()
	if err != nil {
		c.errorsTx.Add(1)
		return fmt.Errorf("%w: encoding %s: %w", ErrSendFailed, address, err)
	}

	c.mu.Lock()
	_, err = c.conn.Write(data)
	c.mu.Unlock()
	if err != nil {
		c.errorsTx.Add(1)
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, address, err)
	}

	c.messagesTx.Add(1)
	return nil
}

// MessagesSent returns the number of datagrams written successfully.
func (c *Client) MessagesSent() uint64 {
	return c.messagesTx.Load()
}

// Close releases the socket. Safe to call multiple times.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("closing osc client: %w", err)
	}
	return nil
}

// normaliseArg converts Go values to the argument types go-osc can encode.
func normaliseArg(a any) (any, error) {
	switch v := a.(type) {
	case int:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("%w: int %d overflows int32", ErrUnsupportedArgument, v)
		}
		return int32(v), nil
	case int32, int64, float32, string, []byte, bool:
		return v, nil
	case float64:
		return float32(v), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedArgument, a)
	}
}
