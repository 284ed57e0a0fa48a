package pipeline

import (
	"errors"
	"sync"
	"time"
)

type fakeEngine struct {
	handle    *fakeHandle
	launchErr error
	launched  []string
}

func (e *fakeEngine) Launch(name, description string) (Handle, error) {
	if e.launchErr != nil {
		return nil, e.launchErr
	}
	e.launched = append(e.launched, description)
	return e.handle, nil
}

type fakeHandle struct {
	mu          sync.Mutex
	handler     func(Event)
	states      []EngineState
	stateErr    map[EngineState]error
	seekOK      bool
	seeks       int
	queryState  EngineState
	queryErr    error
	queries     int
	queryGate   chan struct{}
	dumps       []string
	released    int
	qosDisabled int

	events   chan Event
	quit     chan struct{}
	quitOnce sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		seekOK:     true,
		queryState: EnginePlaying,
		stateErr:   map[EngineState]error{},
		events:     make(chan Event, 16),
		quit:       make(chan struct{}),
	}
}

func (h *fakeHandle) emit(ev Event) { h.events <- ev }

func (h *fakeHandle) Watch(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

func (h *fakeHandle) Run() {
	for {
		select {
		case ev := <-h.events:
			h.mu.Lock()
			fn := h.handler
			h.mu.Unlock()
			fn(ev)
		case <-h.quit:
			return
		}
	}
}

func (h *fakeHandle) Quit() { h.quitOnce.Do(func() { close(h.quit) }) }

func (h *fakeHandle) SetState(s EngineState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released > 0 {
		return ErrReleased
	}
	h.states = append(h.states, s)
	return h.stateErr[s]
}

func (h *fakeHandle) SeekToZero() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released > 0 {
		return false
	}
	h.seeks++
	return h.seekOK
}

// QueryState blocks on queryGate, when set, before reading the state
func (h *fakeHandle) QueryState(time.Duration) (EngineState, error) {
	h.mu.Lock()
	h.queries++
	gate := h.queryGate
	h.mu.Unlock()
	if gate != nil {
		<-gate
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released > 0 {
		return EngineNull, ErrReleased
	}
	return h.queryState, h.queryErr
}

func (h *fakeHandle) DisableQoS() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.qosDisabled++
	return 3
}

func (h *fakeHandle) DumpDot(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dumps = append(h.dumps, name)
}

func (h *fakeHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released++
}

func (h *fakeHandle) snapshot() (states []EngineState, seeks, released int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]EngineState(nil), h.states...), h.seeks, h.released
}

var errBoom = errors.New("boom")
