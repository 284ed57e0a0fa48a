package bus

import (
	"sync"
	"sync/atomic"
)

// subscriber is one registration. Exactly one of ch and slot is set.
type subscriber struct {
	kinds   kindSet
	ch      chan<- Event
	slot    *latestSlot
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func (s *subscriber) policy() DropPolicy {
	if s.slot != nil {
		return DropOld
	}
	return DropNew
}

func (s *subscriber) deliver(ev Event) {
	if !s.kinds.has(ev.Kind) {
		return
	}
	if s.slot != nil {
		if s.slot.set(ev) {
			s.sent.Add(1)
		}
		return
	}
	select {
	case s.ch <- ev:
		s.sent.Add(1)
	default:
		s.dropped.Add(1)
	}
}

type bus struct {
	mu        sync.RWMutex
	subs      map[string]*subscriber
	closed    bool
	published atomic.Uint64
	perKind   [numKinds]atomic.Uint64
}

// New creates a new event bus
func New() Bus {
	return &bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers ch for the given kinds, or all kinds when none are given.
// Events that do not fit in ch are dropped.
func (b *bus) Subscribe(id string, ch chan<- Event, kinds ...Kind) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(id, &subscriber{kinds: newKindSet(kinds), ch: ch})
}

// SubscribeLatest registers a subscriber that only holds the most recent event
func (b *bus) SubscribeLatest(id string, kinds ...Kind) (Receiver, error) {
	slot := newLatestSlot()
	if err := b.add(id, &subscriber{kinds: newKindSet(kinds), slot: slot}); err != nil {
		return nil, err
	}
	return slot, nil
}

func (b *bus) add(id string, s *subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, ok := b.subs[id]; ok {
		return ErrSubscriberExists
	}
	b.subs[id] = s
	return nil
}

// Publish hands ev to every matching subscriber without blocking
func (b *bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)
	if ev.Kind.valid() {
		b.perKind[ev.Kind].Add(1)
	}
	for _, s := range b.subs {
		s.deliver(ev)
	}
}

// Unsubscribe removes a subscriber, closing its receiver if it has one
func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	s, ok := b.subs[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	if s.slot != nil {
		s.slot.Close()
	}
	delete(b.subs, id)
	return nil
}

// Stats returns a snapshot of bus and subscriber counters
func (b *bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BusStats{
		TotalPublished: b.published.Load(),
		PerKind:        make(map[Kind]uint64, numKinds),
		Subscribers:    make(map[string]SubscriberStats, len(b.subs)),
	}
	for k := range b.perKind {
		if n := b.perKind[k].Load(); n > 0 {
			stats.PerKind[Kind(k)] = n
		}
	}
	for id, s := range b.subs {
		ss := SubscriberStats{Policy: s.policy(), Sent: s.sent.Load(), Dropped: s.dropped.Load()}
		stats.TotalSent += ss.Sent
		stats.TotalDropped += ss.Dropped
		stats.Subscribers[id] = ss
	}
	return stats
}

// Close shuts down the bus and every latest-event receiver. Channels passed
// to Subscribe belong to their owners and stay open.
func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		if s.slot != nil {
			s.slot.Close()
		}
	}
	b.subs = nil
}

// kindSet is a bitmask of kinds; the zero value matches every kind
type kindSet uint32

func newKindSet(kinds []Kind) kindSet {
	var set kindSet
	for _, k := range kinds {
		set |= 1 << uint(k)
	}
	return set
}

func (s kindSet) has(k Kind) bool {
	return s == 0 || s&(1<<uint(k)) != 0
}

// latestSlot implements Receiver for DropOld subscribers
type latestSlot struct {
	mu     sync.Mutex
	ev     Event
	full   bool
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newLatestSlot() *latestSlot {
	return &latestSlot{notify: make(chan struct{}, 1), done: make(chan struct{})}
}

// set replaces the held event; false once the slot is closed
func (l *latestSlot) set(ev Event) bool {
	l.mu.Lock()
	if l.isClosed() {
		l.mu.Unlock()
		return false
	}
	l.ev, l.full = ev, true
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return true
}

func (l *latestSlot) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Receive blocks until an event is available and consumes it. ok is false once closed.
func (l *latestSlot) Receive() (Event, bool) {
	for {
		l.mu.Lock()
		if l.isClosed() {
			l.mu.Unlock()
			return Event{}, false
		}
		if l.full {
			ev := l.ev
			l.ev, l.full = Event{}, false
			l.mu.Unlock()
			return ev, true
		}
		l.mu.Unlock()

		select {
		case <-l.notify:
		case <-l.done:
		}
	}
}

// TryReceive returns the latest event without consuming it
func (l *latestSlot) TryReceive() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ev, l.full
}

// Close shuts down the receiver, waking a blocked Receive
func (l *latestSlot) Close() {
	l.once.Do(func() { close(l.done) })
}
