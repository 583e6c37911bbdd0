// Package broadcast sends serialized records to the local network as UDP
// broadcast datagrams and fans events out to in-process listeners.
package broadcast

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/Bucknalla/go-geomessage-simulator/log"
)

// MaxDatagramSize is the largest UDP payload that fits in one IPv4 datagram.
const MaxDatagramSize = 65507

// EndpointStats is a snapshot of an endpoint's counters.
type EndpointStats struct {
	Port    int    `json:"port"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Inert   bool   `json:"inert"`
}

// Endpoint owns one UDP socket and one reusable outbound buffer for a
// destination port. Sends are serialized, so concurrent callers never see
// each other's payloads interleaved.
type Endpoint struct {
	port int
	addr *net.UDPAddr
	lg   *log.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	buf    []byte
	closed bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// newEndpoint opens the socket for port. If that fails the endpoint is
// inert: every send is logged and dropped.
func newEndpoint(port int, ip net.IP, lg *log.Logger) *Endpoint {
	e := &Endpoint{
		port: port,
		addr: &net.UDPAddr{IP: ip, Port: port},
		lg:   lg.With("port", port),
		buf:  make([]byte, 0, 4096),
	}

	if port < 1 || port > 65535 {
		e.lg.Errorf("cannot create endpoint: %v", fmt.Errorf("%w: %d", ErrInvalidPort, port))
		return e
	}

	// Go enables SO_BROADCAST on UDP sockets.
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		e.lg.Errorf("cannot create endpoint socket: %v", err)
		return e
	}
	e.conn = conn
	e.lg.Debug("endpoint created", "dest", e.addr.String())
	return e
}

// closedEndpoint returns an endpoint without a socket that rejects every
// send with ErrClosed.
func closedEndpoint(port int, ip net.IP, lg *log.Logger) *Endpoint {
	return &Endpoint{
		port:   port,
		addr:   &net.UDPAddr{IP: ip, Port: port},
		lg:     lg.With("port", port),
		closed: true,
	}
}

func (e *Endpoint) Port() int {
	return e.port
}

// Inert reports whether the endpoint failed to open its socket.
func (e *Endpoint) Inert() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn == nil
}

// Send transmits payload as a single datagram. Failures are logged and
// the datagram is dropped; the returned error is informational and the
// endpoint stays usable.
func (e *Endpoint) Send(payload []byte) error {
	if len(payload) > MaxDatagramSize {
		e.dropped.Add(1)
		e.lg.Warnf("dropping %d byte payload: %v", len(payload), ErrPayloadTooLarge)
		return ErrPayloadTooLarge
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		e.dropped.Add(1)
		return ErrClosed
	}
	if e.conn == nil {
		e.dropped.Add(1)
		e.lg.Warnf("dropping %d byte payload: %v", len(payload), ErrEndpointUnavailable)
		return ErrEndpointUnavailable
	}

	e.buf = append(e.buf[:0], payload...)
	if _, err := e.conn.WriteToUDP(e.buf, e.addr); err != nil {
		e.dropped.Add(1)
		e.lg.Warnf("send to %s failed: %v", e.addr, err)
		return err
	}
	e.sent.Add(1)
	return nil
}

func (e *Endpoint) Stats() EndpointStats {
	return EndpointStats{
		Port:    e.port,
		Sent:    e.sent.Load(),
		Dropped: e.dropped.Load(),
		Inert:   e.Inert(),
	}
}

func (e *Endpoint) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}
