// Package gstreamer binds parse-launch descriptions to GStreamer pipelines.
package gstreamer

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tinyzimmer/go-glib/glib"
	"github.com/tinyzimmer/go-gst/gst"
)

// State mirrors the GStreamer element states the runtime drives
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
	StateVoidPending
)

func (s State) gst() gst.State {
	switch s {
	case StateReady:
		return gst.StateReady
	case StatePaused:
		return gst.StatePaused
	case StatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}

func fromGst(s gst.State) State {
	switch s {
	case gst.StateNull:
		return StateNull
	case gst.StateReady:
		return StateReady
	case gst.StatePaused:
		return StatePaused
	case gst.StatePlaying:
		return StatePlaying
	default:
		return StateVoidPending
	}
}

// MessageKind classifies a bus message
type MessageKind int

const (
	MessageEOS MessageKind = iota
	MessageError
	MessageWarning
	MessageInfo
	MessageQoS
	MessageStreamStatus
	MessageElement
	MessageStateChanged
	MessageOther
)

// Message is a bus message reduced to plain values
type Message struct {
	Kind   MessageKind
	Source string
	Text   string
	Debug  string
}

var initOnce sync.Once

// Init initializes GStreamer once per process. A non-empty dotDir enables
// graph dumps; it must be set before the first Init.
func Init(dotDir string) {
	initOnce.Do(func() {
		if dotDir != "" {
			os.Setenv("GST_DEBUG_DUMP_DOT_DIR", dotDir)
		}
		gst.Init(nil)
	})
}

// Available reports whether GStreamer can create a basic element
func Available() error {
	Init("")
	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}

var (
	// ErrReleased is returned by operations on a pipeline after Release
	ErrReleased = errors.New("gstreamer: pipeline released")
	// ErrStateTimeout means the pipeline was still changing state at the deadline
	ErrStateTimeout = errors.New("gstreamer: state still changing")
)

const (
	statePollInterval = 20 * time.Millisecond
	// a state unchanged for this long is treated as settled
	stateSettleWindow = 100 * time.Millisecond
)

// Pipeline is one parsed GStreamer pipeline. Its methods may be called from
// any goroutine; after Release they fail instead of touching GStreamer.
type Pipeline struct {
	name     string
	pipeline *gst.Pipeline
	bus      *gst.Bus

	mu       sync.Mutex
	released bool
}

// Launch parses description. The pipeline stays in NULL.
func Launch(name, description string) (*Pipeline, error) {
	p, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pipeline %q: %w", name, err)
	}
	return &Pipeline{name: name, pipeline: p, bus: p.GetPipelineBus()}, nil
}

// Poll waits up to timeout for the next bus message
func (p *Pipeline) Poll(timeout time.Duration) (Message, bool) {
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		time.Sleep(timeout)
		return Message{}, false
	}
	// the bus stays referenced after Release, so popping outside the lock is safe
	msg := p.bus.TimedPop(timeout)
	if msg == nil {
		return Message{}, false
	}
	return translate(msg), true
}

func translate(msg *gst.Message) Message {
	m := Message{Source: msg.Source()}
	switch msg.Type() {
	case gst.MessageEOS:
		m.Kind = MessageEOS
	case gst.MessageError:
		gerr := msg.ParseError()
		m.Kind = MessageError
		m.Text, m.Debug = gerr.Error(), gerr.DebugString()
	case gst.MessageWarning:
		gerr := msg.ParseWarning()
		m.Kind = MessageWarning
		m.Text, m.Debug = gerr.Error(), gerr.DebugString()
	case gst.MessageInfo:
		gerr := msg.ParseInfo()
		m.Kind = MessageInfo
		m.Text, m.Debug = gerr.Error(), gerr.DebugString()
	case gst.MessageQoS:
		m.Kind = MessageQoS
		m.Text = msg.String()
	case gst.MessageStreamStatus:
		m.Kind = MessageStreamStatus
		m.Text = msg.String()
	case gst.MessageElement:
		m.Kind = MessageElement
		m.Text = msg.String()
	case gst.MessageStateChanged:
		old, next := msg.ParseStateChanged()
		m.Kind = MessageStateChanged
		m.Text = fmt.Sprintf("%s -> %s", old, next)
	default:
		m.Kind = MessageOther
		m.Text = msg.String()
	}
	return m
}

// SetState requests a state change
func (p *Pipeline) SetState(st State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return fmt.Errorf("pipeline %q: %w", p.name, ErrReleased)
	}
	if err := p.pipeline.SetState(st.gst()); err != nil {
		return fmt.Errorf("failed to set pipeline %q to %s: %w", p.name, st.gst(), err)
	}
	return nil
}

// SeekToZero sends a flushing seek to the start of the stream
func (p *Pipeline) SeekToZero() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return false
	}
	seek := gst.NewSeekEvent(1.0, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit,
		gst.SeekTypeSet, 0, gst.SeekTypeNone, -1)
	return p.pipeline.SendEvent(seek)
}

func (p *Pipeline) state() (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return StateNull, fmt.Errorf("pipeline %q: %w", p.name, ErrReleased)
	}
	return fromGst(p.pipeline.GetState()), nil
}

// CurrentState returns the state as soon as it is PLAYING or has not changed
// for stateSettleWindow. A state still changing at timeout gives ErrStateTimeout.
func (p *Pipeline) CurrentState(timeout time.Duration) (State, error) {
	deadline := time.Now().Add(timeout)
	last, since := StateVoidPending, time.Now()
	for {
		st, err := p.state()
		if err != nil {
			return st, err
		}
		now := time.Now()
		if st == StatePlaying {
			return st, nil
		}
		if st != last {
			last, since = st, now
		} else if now.Sub(since) >= stateSettleWindow {
			return st, nil
		}
		if now.After(deadline) {
			return st, ErrStateTimeout
		}
		time.Sleep(statePollInterval)
	}
}

// DisableQoS sets qos=false on every element that exposes a boolean qos property
func (p *Pipeline) DisableQoS() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return 0, fmt.Errorf("pipeline %q: %w", p.name, ErrReleased)
	}
	elems, err := p.pipeline.GetElements()
	if err != nil {
		return 0, fmt.Errorf("failed to list elements of %q: %w", p.name, err)
	}
	n := 0
	for _, e := range elems {
		t, err := e.GetPropertyType("qos")
		if err != nil || t != glib.TYPE_BOOLEAN {
			continue
		}
		if err := e.SetProperty("qos", false); err == nil {
			n++
		}
	}
	return n, nil
}

// DumpDot writes <GST_DEBUG_DUMP_DOT_DIR>/<name>.dot
func (p *Pipeline) DumpDot(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.pipeline.DebugBinToDotFile(gst.DebugGraphShowAll, name)
}

// Release drops the pipeline to NULL. Later calls are no-ops.
func (p *Pipeline) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil
	}
	p.released = true
	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline %q to NULL: %w", p.name, err)
	}
	return nil
}
