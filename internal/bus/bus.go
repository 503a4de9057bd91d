package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/horgh/relayd/internal/metrics"
	"github.com/pkg/errors"
)

// DefaultCapacity is how many undelivered events a subscriber may hold.
const DefaultCapacity = 32

// ErrEmpty means a Receiver has nothing queued.
var ErrEmpty = errors.New("no events queued")

// ErrClosed means the Receiver was closed.
var ErrClosed = errors.New("receiver closed")

// LaggedError reports events a Receiver lost because it fell behind.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("receiver lagged: missed %d events", e.Missed)
}

// Bus fans events out to every current subscriber.
type Bus struct {
	capacity int

	mu          sync.RWMutex
	subscribers map[*Receiver]struct{}
}

// New creates a Bus whose subscribers hold up to capacity events. A capacity
// below 1 means DefaultCapacity.
func New(capacity int) *Bus {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Bus{
		capacity:    capacity,
		subscribers: map[*Receiver]struct{}{},
	}
}

// Subscribe creates a Receiver. It sees only events published after this
// call.
func (b *Bus) Subscribe() *Receiver {
	r := &Receiver{
		bus:  b,
		ring: make([]Event, b.capacity),
		wake: make(chan struct{}, 1),
	}

	b.mu.Lock()
	b.subscribers[r] = struct{}{}
	b.mu.Unlock()

	return r
}

// Publish delivers the event to every subscriber. It does not block. With no
// subscribers the event is dropped.
func (b *Bus) Publish(e Event) {
	metrics.RecordPublished(e.Kind())

	b.mu.RLock()
	defer b.mu.RUnlock()

	for r := range b.subscribers {
		r.push(e)
	}
}

// Subscribers is the number of open Receivers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Bus) unsubscribe(r *Receiver) {
	b.mu.Lock()
	delete(b.subscribers, r)
	b.mu.Unlock()
}

// Receiver is one subscription. It holds a ring of undelivered events.
//
// A single goroutine should consume from a Receiver.
type Receiver struct {
	bus  *Bus
	wake chan struct{}

	mu     sync.Mutex
	ring   []Event
	head   int
	size   int
	missed uint64
	closed bool
}

func (r *Receiver) push(e Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	if r.size == len(r.ring) {
		dropped := r.ring[r.head]
		r.ring[r.head] = nil
		r.head = (r.head + 1) % len(r.ring)
		r.size--
		r.missed++
		metrics.RecordDropped(dropped.Kind())
	}

	r.ring[(r.head+r.size)%len(r.ring)] = e
	r.size++
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Ready fires after events arrive. After it fires, call TryRecv until it
// returns ErrEmpty.
func (r *Receiver) Ready() <-chan struct{} {
	return r.wake
}

// TryRecv returns the oldest queued event without waiting.
//
// If events were lost since the last call it first returns a *LaggedError.
// The call after that returns the oldest event still held. It returns ErrEmpty
// when nothing is queued and ErrClosed once closed.
func (r *Receiver) TryRecv() (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	if r.missed > 0 {
		missed := r.missed
		r.missed = 0
		return nil, &LaggedError{Missed: missed}
	}

	if r.size == 0 {
		return nil, ErrEmpty
	}

	e := r.ring[r.head]
	r.ring[r.head] = nil
	r.head = (r.head + 1) % len(r.ring)
	r.size--
	return e, nil
}

// Recv is TryRecv but waits for an event or for ctx to be done.
func (r *Receiver) Recv(ctx context.Context) (Event, error) {
	for {
		e, err := r.TryRecv()
		if err != ErrEmpty {
			return e, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.wake:
		}
	}
}

// Len is the number of queued events.
func (r *Receiver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Close unsubscribes. Queued events are discarded.
func (r *Receiver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.ring = nil
	r.size = 0
	r.mu.Unlock()

	r.bus.unsubscribe(r)

	select {
	case r.wake <- struct{}{}:
	default:
	}
}
