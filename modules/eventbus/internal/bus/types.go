package bus

import (
	"errors"
	"time"
)

// Internal errors - mapped to public errors in eventbus package
var (
	ErrBusClosed          = errors.New("eventbus: bus is closed")
	ErrSubscriberExists   = errors.New("eventbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("eventbus: subscriber not found")
	ErrNilChannel         = errors.New("eventbus: nil channel provided")
)

// DropPolicy defines how the bus handles events when a subscriber cannot keep up
type DropPolicy int

const (
	DropNew DropPolicy = iota
	DropOld
)

// Kind is a pipeline lifecycle transition
type Kind int

const (
	KindLaunched Kind = iota
	KindPlaying
	KindLooped
	KindError
	KindTerminated

	numKinds = int(KindTerminated) + 1
)

func (k Kind) valid() bool { return k >= 0 && int(k) < numKinds }

func (k Kind) String() string {
	switch k {
	case KindLaunched:
		return "launched"
	case KindPlaying:
		return "playing"
	case KindLooped:
		return "looped"
	case KindError:
		return "error"
	case KindTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Event is one lifecycle transition of a pipeline runtime
type Event struct {
	Kind      Kind
	RuntimeID string
	Pipeline  string
	Message   string
	// Source is the originating stage for error events
	Source   string
	Category string
	At       time.Time
	Meta     map[string]string
}

// Receiver provides blocking/non-blocking access to the latest event
type Receiver interface {
	Receive() (Event, bool)
	TryReceive() (Event, bool)
	Close()
}

// SubscriberStats tracks event distribution metrics
type SubscriberStats struct {
	Policy  DropPolicy
	Sent    uint64
	Dropped uint64
}

// BusStats is a snapshot across all subscribers
type BusStats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	PerKind        map[Kind]uint64
	Subscribers    map[string]SubscriberStats
}

// Bus distributes lifecycle events to multiple subscribers
type Bus interface {
	Subscribe(id string, ch chan<- Event, kinds ...Kind) error
	SubscribeLatest(id string, kinds ...Kind) (Receiver, error)
	Publish(ev Event)
	Unsubscribe(id string) error
	Stats() BusStats
	Close()
}
