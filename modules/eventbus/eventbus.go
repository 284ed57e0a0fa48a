// Package eventbus distributes pipeline lifecycle events to multiple subscribers.
//
// Publishing never blocks the pipeline loop: a subscriber whose channel is full
// misses the event and the miss is counted in its stats. Subscribers may
// restrict themselves to some kinds.
//
// Usage:
//
//	bus := eventbus.New()
//	defer bus.Close()
//
//	ch := make(chan eventbus.Event, 16)
//	bus.Subscribe("journal", ch)
//
//	latest, _ := bus.SubscribeLatest("status", eventbus.KindError, eventbus.KindTerminated)
//	defer latest.Close()
//
//	bus.Publish(eventbus.Event{Kind: eventbus.KindPlaying, Pipeline: "pod"})
package eventbus

import "github.com/e7canasta/sensorpod/modules/eventbus/internal/bus"

// New creates a new event bus
func New() Bus {
	return bus.New()
}

// DropPolicy defines how the bus handles events when a subscriber cannot keep up
type DropPolicy = bus.DropPolicy

const (
	// DropNew drops incoming events if the subscriber's buffer is full
	DropNew = bus.DropNew
	// DropOld keeps only the latest event
	DropOld = bus.DropOld
)

// Kind is a pipeline lifecycle transition
type Kind = bus.Kind

const (
	KindLaunched   = bus.KindLaunched
	KindPlaying    = bus.KindPlaying
	KindLooped     = bus.KindLooped
	KindError      = bus.KindError
	KindTerminated = bus.KindTerminated
)

// Event is one lifecycle transition of a pipeline runtime
type Event = bus.Event

// Receiver gives access to the latest event for DropOld subscribers
type Receiver = bus.Receiver

// SubscriberStats tracks event distribution metrics
type SubscriberStats = bus.SubscriberStats

// BusStats is a snapshot across all subscribers
type BusStats = bus.BusStats

// Bus distributes lifecycle events to multiple subscribers
type Bus = bus.Bus

var (
	ErrBusClosed          = bus.ErrBusClosed
	ErrSubscriberExists   = bus.ErrSubscriberExists
	ErrSubscriberNotFound = bus.ErrSubscriberNotFound
	ErrNilChannel         = bus.ErrNilChannel
)

// Publisher is the publishing half of a Bus
type Publisher interface {
	Publish(ev Event)
}

// DropRate returns the share of deliveries dropped across all subscribers (0.0 to 1.0)
func DropRate(stats BusStats) float64 {
	total := stats.TotalSent + stats.TotalDropped
	if total == 0 {
		return 0.0
	}
	return float64(stats.TotalDropped) / float64(total)
}
