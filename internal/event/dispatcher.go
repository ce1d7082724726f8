package event

// Event is what a handler receives: the kind it subscribed to and the payload
// the emitter attached.
type Event[K comparable, P any] struct {
	Type    K
	Payload P
}

// Handler processes one event
type Handler[K comparable, P any] func(Event[K, P])

// Subscription identifies a registered handler so it can be removed with Off
type Subscription struct {
	id uint64
}

// Valid reports whether the subscription came from a dispatcher
func (s Subscription) Valid() bool {
	return s.id != 0
}

type entry[K comparable, P any] struct {
	sub     Subscription
	handler Handler[K, P]
	once    bool
}

// Dispatcher is a synchronous typed publish/subscribe table.
//
// Architecture:
//   - Single-threaded, no locks; callers serialize access
//   - Handlers for a kind are invoked in registration order
//   - Emit iterates over a snapshot: handlers added during delivery wait
//     for the next Emit, handlers removed during delivery are skipped
type Dispatcher[K comparable, P any] struct {
	handlers map[K][]entry[K, P]
	nextID   uint64
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher[K comparable, P any]() *Dispatcher[K, P] {
	return &Dispatcher[K, P]{
		handlers: make(map[K][]entry[K, P]),
	}
}

// On registers a handler for kind
func (d *Dispatcher[K, P]) On(kind K, handler Handler[K, P]) Subscription {
	return d.add(kind, handler, false)
}

// Once registers a handler that is removed after its first invocation
func (d *Dispatcher[K, P]) Once(kind K, handler Handler[K, P]) Subscription {
	return d.add(kind, handler, true)
}

func (d *Dispatcher[K, P]) add(kind K, handler Handler[K, P], once bool) Subscription {
	if d.handlers == nil {
		d.handlers = make(map[K][]entry[K, P])
	}
	d.nextID++
	sub := Subscription{id: d.nextID}
	d.handlers[kind] = append(d.handlers[kind], entry[K, P]{
		sub:     sub,
		handler: handler,
		once:    once,
	})
	return sub
}

// Off removes a handler. Returns false if it was not registered for kind.
func (d *Dispatcher[K, P]) Off(kind K, sub Subscription) bool {
	entries := d.handlers[kind]
	for i, e := range entries {
		if e.sub != sub {
			continue
		}
		// copy so an in-flight Emit keeps its snapshot intact
		next := make([]entry[K, P], 0, len(entries)-1)
		next = append(next, entries[:i]...)
		next = append(next, entries[i+1:]...)
		if len(next) == 0 {
			delete(d.handlers, kind)
		} else {
			d.handlers[kind] = next
		}
		return true
	}
	return false
}

// Emit delivers payload to every handler currently registered for kind
// before returning.
func (d *Dispatcher[K, P]) Emit(kind K, payload P) {
	entries := d.handlers[kind]
	if len(entries) == 0 {
		return
	}
	ev := Event[K, P]{Type: kind, Payload: payload}
	for _, e := range entries {
		if e.once {
			if !d.Off(kind, e.sub) {
				// already consumed by a nested emit
				continue
			}
		} else if !d.has(kind, e.sub) {
			continue
		}
		e.handler(ev)
	}
}

func (d *Dispatcher[K, P]) has(kind K, sub Subscription) bool {
	for _, e := range d.handlers[kind] {
		if e.sub == sub {
			return true
		}
	}
	return false
}

// Count returns the number of handlers registered for kind
func (d *Dispatcher[K, P]) Count(kind K) int {
	return len(d.handlers[kind])
}

// Clear drops every handler
func (d *Dispatcher[K, P]) Clear() {
	d.handlers = make(map[K][]entry[K, P])
}
