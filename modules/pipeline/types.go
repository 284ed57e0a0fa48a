package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a Runtime
type State int32

const (
	StateCreated State = iota
	StatePlaying
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePlaying:
		return "playing"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EngineState is the state of the execution engine pipeline
type EngineState int

const (
	EngineNull EngineState = iota
	EngineReady
	EnginePaused
	EnginePlaying
)

func (s EngineState) String() string {
	switch s {
	case EngineNull:
		return "NULL"
	case EngineReady:
		return "READY"
	case EnginePaused:
		return "PAUSED"
	case EnginePlaying:
		return "PLAYING"
	default:
		return fmt.Sprintf("engine-state(%d)", int(s))
	}
}

// EventKind is the closed set of bus message kinds the runtime reacts to
type EventKind int

const (
	EventEOS EventKind = iota
	EventError
	EventWarning
	EventInfo
	EventQoS
	EventStreamStatus
	EventElement
	EventStateChanged
	EventOther
)

func (k EventKind) String() string {
	switch k {
	case EventEOS:
		return "eos"
	case EventError:
		return "error"
	case EventWarning:
		return "warning"
	case EventInfo:
		return "info"
	case EventQoS:
		return "qos"
	case EventStreamStatus:
		return "stream-status"
	case EventElement:
		return "element"
	case EventStateChanged:
		return "state-changed"
	case EventOther:
		return "other"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one engine bus message
type Event struct {
	Kind EventKind
	// Source is the name of the element that posted the message
	Source  string
	Message string
	Debug   string
}

// Engine parses descriptions into runnable pipelines
type Engine interface {
	Launch(name, description string) (Handle, error)
}

// Handle is one parsed engine pipeline. Run blocks delivering bus events to
// the watch callback on the calling goroutine until Quit is called.
type Handle interface {
	Watch(fn func(Event))
	Run()
	Quit()
	SetState(s EngineState) error
	SeekToZero() bool
	QueryState(timeout time.Duration) (EngineState, error)
	// DisableQoS turns quality-of-service off on every element exposing it
	// and returns how many elements were changed
	DisableQoS() int
	DumpDot(name string)
	Release()
}

var (
	ErrAlreadyStarted = errors.New("pipeline: runtime already started")
	ErrTerminated     = errors.New("pipeline: runtime terminated")
	ErrStateTimeout   = errors.New("pipeline: state query timed out")
	ErrReleased       = errors.New("pipeline: engine pipeline released")
)
