package broadcast

import (
	"errors"
	"net"
	"slices"
	"sync"

	"github.com/Bucknalla/go-geomessage-simulator/log"
)

// Registry holds one Endpoint per destination port. Endpoints are created
// on first use and live until the registry is closed.
type Registry struct {
	lg *log.Logger
	ip net.IP

	mu        sync.Mutex
	endpoints map[int]*Endpoint
	closed    bool
}

type Option func(*Registry)

// WithAddress sends to ip instead of the limited broadcast address.
func WithAddress(ip net.IP) Option {
	return func(r *Registry) {
		r.ip = ip
	}
}

func NewRegistry(lg *log.Logger, opts ...Option) *Registry {
	r := &Registry{
		lg:        lg,
		ip:        net.IPv4bcast,
		endpoints: make(map[int]*Endpoint),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry used when nothing else is
// injected.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(nil)
	})
	return defaultRegistry
}

// EndpointFor returns the endpoint for port, creating it on the first
// call. Concurrent first calls for the same port create exactly one. After
// Close it opens no sockets and returns a closed endpoint.
func (r *Registry) EndpointFor(port int) *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return closedEndpoint(port, r.ip, r.lg)
	}
	if e, ok := r.endpoints[port]; ok {
		return e
	}
	e := newEndpoint(port, r.ip, r.lg)
	r.endpoints[port] = e
	return e
}

// Send is shorthand for EndpointFor(port).Send(payload).
func (r *Registry) Send(port int, payload []byte) error {
	return r.EndpointFor(port).Send(payload)
}

// Stats returns the counters of every endpoint, ordered by port.
func (r *Registry) Stats() []EndpointStats {
	r.mu.Lock()
	eps := make([]*Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		eps = append(eps, e)
	}
	r.mu.Unlock()

	stats := make([]EndpointStats, 0, len(eps))
	for _, e := range eps {
		stats = append(stats, e.Stats())
	}
	slices.SortFunc(stats, func(a, b EndpointStats) int { return a.Port - b.Port })
	return stats
}

// Close closes every endpoint's socket. Endpoints handed out earlier, and
// any requested afterwards, drop further sends.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	var errs []error
	for port, e := range r.endpoints {
		if err := e.close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.endpoints, port)
	}
	return errors.Join(errs...)
}
