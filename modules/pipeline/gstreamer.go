package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/sensorpod/modules/pipeline/internal/gstreamer"
)

const busPollInterval = 50 * time.Millisecond

// GStreamerEngine launches descriptions with gst_parse_launch
type GStreamerEngine struct {
	logger zerolog.Logger
}

// NewGStreamerEngine initializes GStreamer. A non-empty dotDir enables graph dumps.
func NewGStreamerEngine(dotDir string, logger zerolog.Logger) *GStreamerEngine {
	gstreamer.Init(dotDir)
	return &GStreamerEngine{logger: logger}
}

// GStreamerAvailable reports whether GStreamer is installed and usable
func GStreamerAvailable() error {
	return gstreamer.Available()
}

// Launch parses description into a pipeline left in NULL
func (e *GStreamerEngine) Launch(name, description string) (Handle, error) {
	p, err := gstreamer.Launch(name, description)
	if err != nil {
		return nil, err
	}
	return &gstHandle{pipeline: p, logger: e.logger.With().Str("pipeline", name).Logger()}, nil
}

type gstHandle struct {
	pipeline *gstreamer.Pipeline
	logger   zerolog.Logger

	mu      sync.Mutex
	handler func(Event)
	quit    atomic.Bool
	release sync.Once
}

func (h *gstHandle) Watch(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

// Run polls the bus instead of running a GLib main loop, so Quit takes
// effect within one poll interval even if it happened before Run.
func (h *gstHandle) Run() {
	for !h.quit.Load() {
		msg, ok := h.pipeline.Poll(busPollInterval)
		if !ok {
			continue
		}
		h.mu.Lock()
		fn := h.handler
		h.mu.Unlock()
		if fn != nil {
			fn(toEvent(msg))
		}
	}
}

func (h *gstHandle) Quit() { h.quit.Store(true) }

func (h *gstHandle) SetState(s EngineState) error {
	err := h.pipeline.SetState(gstreamer.State(s))
	if errors.Is(err, gstreamer.ErrReleased) {
		return ErrReleased
	}
	return err
}

func (h *gstHandle) SeekToZero() bool { return h.pipeline.SeekToZero() }

func (h *gstHandle) QueryState(timeout time.Duration) (EngineState, error) {
	s, err := h.pipeline.CurrentState(timeout)
	switch {
	case errors.Is(err, gstreamer.ErrStateTimeout):
		return engineState(s), ErrStateTimeout
	case errors.Is(err, gstreamer.ErrReleased):
		return EngineNull, ErrReleased
	case err != nil:
		return EngineNull, err
	}
	return engineState(s), nil
}

func (h *gstHandle) DisableQoS() int {
	n, err := h.pipeline.DisableQoS()
	if err != nil {
		h.logger.Warn().Err(err).Msg("pipeline: could not disable qos")
	}
	return n
}

func (h *gstHandle) DumpDot(name string) { h.pipeline.DumpDot(name) }

func (h *gstHandle) Release() {
	h.release.Do(func() {
		if err := h.pipeline.Release(); err != nil {
			h.logger.Warn().Err(err).Msg("pipeline: release failed")
		}
	})
}

func engineState(s gstreamer.State) EngineState {
	switch s {
	case gstreamer.StateReady:
		return EngineReady
	case gstreamer.StatePaused:
		return EnginePaused
	case gstreamer.StatePlaying:
		return EnginePlaying
	default:
		return EngineNull
	}
}

func toEvent(m gstreamer.Message) Event {
	kinds := map[gstreamer.MessageKind]EventKind{
		gstreamer.MessageEOS:          EventEOS,
		gstreamer.MessageError:        EventError,
		gstreamer.MessageWarning:      EventWarning,
		gstreamer.MessageInfo:         EventInfo,
		gstreamer.MessageQoS:          EventQoS,
		gstreamer.MessageStreamStatus: EventStreamStatus,
		gstreamer.MessageElement:      EventElement,
		gstreamer.MessageStateChanged: EventStateChanged,
	}
	kind, ok := kinds[m.Kind]
	if !ok {
		kind = EventOther
	}
	return Event{Kind: kind, Source: m.Source, Message: m.Text, Debug: m.Debug}
}
