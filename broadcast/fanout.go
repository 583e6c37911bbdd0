package broadcast

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Bucknalla/go-geomessage-simulator/log"
)

// DefaultFanoutLimit bounds the number of deliveries in flight to one
// listener.
const DefaultFanoutLimit = 16

// Listener receives published events. Implementations are used as map
// keys, so they must be comparable; pointer receivers are the usual
// choice.
type Listener[E any] interface {
	OnEvent(E) error
}

// subscription bounds the deliveries in flight to one listener.
type subscription struct {
	eg errgroup.Group
}

type target[E any] struct {
	l   Listener[E]
	sub *subscription
}

// Fanout delivers each published event to every subscribed listener, each
// on its own goroutine. Publish never waits for listeners. Every listener
// has its own limit of deliveries in flight; once a listener reaches it,
// further deliveries to that listener are dropped and counted while other
// listeners keep receiving.
type Fanout[E any] struct {
	lg    *log.Logger
	limit int

	mu        sync.RWMutex
	listeners map[Listener[E]]*subscription

	inflight sync.WaitGroup
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// NewFanout returns a Fanout allowing limit deliveries in flight per
// listener; limit <= 0 uses DefaultFanoutLimit.
func NewFanout[E any](lg *log.Logger, limit int) *Fanout[E] {
	if limit <= 0 {
		limit = DefaultFanoutLimit
	}
	return &Fanout[E]{
		lg:        lg,
		limit:     limit,
		listeners: make(map[Listener[E]]*subscription),
	}
}

func (f *Fanout[E]) Subscribe(l Listener[E]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.listeners[l]; ok {
		return
	}
	sub := &subscription{}
	sub.eg.SetLimit(f.limit)
	f.listeners[l] = sub
}

func (f *Fanout[E]) Unsubscribe(l Listener[E]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, l)
}

func (f *Fanout[E]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

// Publish dispatches e to a snapshot of the current listeners and returns
// how many deliveries were started.
func (f *Fanout[E]) Publish(e E) int {
	f.mu.RLock()
	targets := make([]target[E], 0, len(f.listeners))
	for l, sub := range f.listeners {
		targets = append(targets, target[E]{l, sub})
	}
	f.mu.RUnlock()

	started := 0
	for _, t := range targets {
		f.inflight.Add(1)
		if t.sub.eg.TryGo(func() error {
			defer f.inflight.Done()
			f.deliver(t.l, e)
			return nil
		}) {
			started++
		} else {
			f.inflight.Done()
			f.dropped.Add(1)
			f.lg.Warnf("listener %T saturated, dropping delivery", t.l)
		}
	}
	return started
}

func (f *Fanout[E]) deliver(l Listener[E], e E) {
	defer func() {
		if r := recover(); r != nil {
			f.failed.Add(1)
			f.lg.Errorf("listener %T panicked: %v", l, r)
		}
	}()

	if err := l.OnEvent(e); err != nil {
		f.failed.Add(1)
		f.lg.Warnf("listener %T: %v", l, err)
	}
}

// Wait blocks until every started delivery has returned, including
// deliveries to listeners unsubscribed since. It must not be called
// concurrently with Publish.
func (f *Fanout[E]) Wait() {
	f.inflight.Wait()
}

// Dropped returns the number of deliveries skipped because the fanout was
// saturated.
func (f *Fanout[E]) Dropped() uint64 {
	return f.dropped.Load()
}

// Failed returns the number of deliveries whose listener returned an error
// or panicked.
func (f *Fanout[E]) Failed() uint64 {
	return f.failed.Load()
}
