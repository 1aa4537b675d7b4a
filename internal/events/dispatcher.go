package events

import (
	"sync"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ListenerFunc receives the tables committed by one mutation session.
type ListenerFunc func(changes domain.ChangeSet)

type listener struct {
	id     uint64
	tables []string
	fn     ListenerFunc
}

// Dispatcher fans committed table changes out to registered listeners.
//
// A single synchronous handler is subscribed on the bus. It only queues the
// change set; delivery runs on the dispatcher's own goroutine in publish
// order, so a listener may write to the database without blocking the
// publisher. Listeners live in the dispatcher's own registry, so any number
// of closures can be added and removed independently.
type Dispatcher struct {
	log zerolog.Logger
	bus EventBus.Bus

	mu        sync.RWMutex
	listeners map[uint64]*listener
	nextID    uint64
	handler   func(e *domain.TableUpdateEvent)
	closed    bool

	qmu     sync.Mutex
	queue   []domain.ChangeSet
	stopped bool
	signal  chan struct{}
	stop    chan struct{}
	done    chan struct{}
	pending sync.WaitGroup
}

func NewDispatcher(log logger.Logger, bus EventBus.Bus) (*Dispatcher, error) {
	d := &Dispatcher{
		log:       log.With().Str("module", "events").Logger(),
		bus:       bus,
		listeners: make(map[uint64]*listener),
		signal:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	d.handler = d.enqueue

	if err := bus.Subscribe(domain.EventTablesUpdated, d.handler); err != nil {
		return nil, errors.Wrap(err, "could not subscribe to table updates")
	}

	go d.run()

	return d, nil
}

// Watch registers fn for commits touching any of tables. An empty tables list
// matches every commit. The returned func removes the listener and is safe to
// call more than once.
func (d *Dispatcher) Watch(tables []string, fn ListenerFunc) (unsubscribe func()) {
	d.mu.Lock()
	d.nextID++
	l := &listener{id: d.nextID, tables: append([]string(nil), tables...), fn: fn}
	d.listeners[l.id] = l
	d.mu.Unlock()

	d.log.Trace().Uint64("listener", l.id).Strs("tables", l.tables).Msg("listener registered")

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, l.id)
			d.mu.Unlock()
		})
	}
}

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

// Wait blocks until every change set queued so far has been delivered.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// Close detaches the dispatcher from the bus, drops every listener and stops
// delivery. Change sets still queued are discarded.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.listeners = make(map[uint64]*listener)
	d.mu.Unlock()

	err := d.bus.Unsubscribe(domain.EventTablesUpdated, d.handler)

	d.qmu.Lock()
	d.stopped = true
	d.qmu.Unlock()

	close(d.stop)
	<-d.done

	return err
}

// enqueue runs on the publisher's goroutine and must not block.
func (d *Dispatcher) enqueue(e *domain.TableUpdateEvent) {
	if e == nil || e.Tables.IsEmpty() {
		return
	}

	d.qmu.Lock()
	if d.stopped {
		d.qmu.Unlock()
		return
	}
	d.pending.Add(1)
	d.queue = append(d.queue, e.Tables.Clone())
	d.qmu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) pop() (domain.ChangeSet, bool) {
	d.qmu.Lock()
	defer d.qmu.Unlock()

	if len(d.queue) == 0 {
		return nil, false
	}

	c := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]

	return c, true
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		select {
		case <-d.stop:
			d.drain()
			return
		default:
		}

		changes, ok := d.pop()
		if !ok {
			select {
			case <-d.signal:
				continue
			case <-d.stop:
				d.drain()
				return
			}
		}

		d.dispatch(changes)
		d.pending.Done()
	}
}

func (d *Dispatcher) drain() {
	for {
		if _, ok := d.pop(); !ok {
			return
		}
		d.pending.Done()
	}
}

func (d *Dispatcher) snapshot() []*listener {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*listener, 0, len(d.listeners))
	for _, l := range d.listeners {
		out = append(out, l)
	}
	return out
}

func (d *Dispatcher) dispatch(changes domain.ChangeSet) {
	for _, l := range d.snapshot() {
		if !changes.Intersects(l.tables) {
			continue
		}
		d.notify(l, changes)
	}
}

func (d *Dispatcher) notify(l *listener, changes domain.ChangeSet) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Uint64("listener", l.id).Interface("panic", r).Msg("table listener panicked")
		}
	}()

	l.fn(changes.Clone())
}
